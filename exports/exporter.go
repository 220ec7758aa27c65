// Package exports turns pretrained audio source-separation models into
// deployable Core ML packages. Each exporter is a linear four-stage pipeline:
// provision the Python environment, load the pretrained model, capture a
// static trace from one example tensor, and lower the trace into an
// .mlpackage with half-precision weights. The models, the tracer, and the
// converter are third-party ML tooling driven through generated Python
// programs; the Go side owns the typed stage inputs, validation, artifact
// verification, and archiving.
package exports

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/YashvardhanATRgithub/Sangeet/options"
	"github.com/YashvardhanATRgithub/Sangeet/pyenv"
	"github.com/YashvardhanATRgithub/Sangeet/util"
)

// Shape holds tensor dimensions.
type Shape []int64

// NewShape returns a Shape with the given dimensions.
func NewShape(dimensions ...int64) Shape {
	return dimensions
}

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// Elements returns the total element count.
func (s Shape) Elements() int64 {
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether two shapes have identical rank and dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// RangeDim declares a bounded flexible dimension: at inference time the axis
// may take any value in [Lower, Upper], with Default used when unspecified.
type RangeDim struct {
	Lower   int64 `json:"lower"`
	Upper   int64 `json:"upper"`
	Default int64 `json:"default"`
}

// ModelKind selects the loader variant.
type ModelKind string

const (
	// ModelSeparator loads a whole waveform-to-waveform separator that
	// internally performs STFT, per-stem estimation, Wiener refinement and
	// ISTFT.
	ModelSeparator ModelKind = "separator"
	// ModelTarget loads a single stem sub-network operating on a magnitude
	// spectrogram.
	ModelTarget ModelKind = "target"
	// ModelEnsemble loads a bagged multi-model ensemble and selects its
	// first constituent model, trading fidelity for a traceable graph size.
	ModelEnsemble ModelKind = "ensemble"
)

// ModelSpec identifies a pretrained model and how to instantiate it. Weights
// are fetched by name from the upstream registry; no randomized
// initialization is ever applied.
type ModelSpec struct {
	Kind ModelKind `json:"kind"`
	// Name is the registry name, e.g. "umxhq" or "htdemucs".
	Name string `json:"name"`
	// Target names the stem sub-network for ModelTarget, e.g. "vocals".
	Target string `json:"target,omitempty"`
	// Iterations is the Wiener filter refinement count (OpenUnmix niter).
	Iterations int `json:"iterations"`
	// Residual adds a residual target to the separator output.
	Residual bool `json:"residual"`
}

// TraceSpec controls the trace capture stage.
type TraceSpec struct {
	// ExampleShape is the exact input shape the model's forward computation
	// expects. The traced graph is specialized to it.
	ExampleShape Shape
	// Seed drives the deterministic example tensor generation.
	Seed int64
	// CheckTrace re-runs the trace against the original model to validate
	// output equivalence. Models with data-dependent iteration (iterative
	// Wiener filtering) spuriously fail this validation, so it is disabled
	// for them.
	CheckTrace bool
}

// ConvertSpec controls lowering the traced graph into an .mlpackage.
type ConvertSpec struct {
	// InputName is the declared name of the single input tensor.
	InputName string
	// InputShape is the declared input shape. Must match the example shape;
	// the flexible axis, when declared, replaces that dimension with a
	// bounded range.
	InputShape Shape
	// FlexAxis is the index of the flexible dimension, -1 when none.
	FlexAxis int
	// Flexible bounds the flexible axis. Required when FlexAxis >= 0.
	Flexible *RangeDim
	// Precision of weights and activations in the converted package.
	Precision string
	// MinimumTarget is the minimum platform compatibility marker,
	// e.g. "macOS13".
	MinimumTarget string
	Author        string
	Description   string
	// PackageName is the artifact base name; the package directory becomes
	// <PackageName>.mlpackage under the exporter's output directory.
	PackageName string
	// Archive additionally zips the package directory.
	Archive bool
}

// PrecisionFloat16 and PrecisionFloat32 are the supported conversion
// precisions. Half precision is the deployment default: a deliberate
// size/speed trade-off for on-device inference.
const (
	PrecisionFloat16 = "float16"
	PrecisionFloat32 = "float32"
)

// TensorInfo describes one declared input or output tensor of a converted
// package.
type TensorInfo struct {
	Name     string    `json:"name"`
	Shape    Shape     `json:"shape"`
	FlexAxis int       `json:"flex_axis"`
	Flexible *RangeDim `json:"flexible,omitempty"`
}

// Interface is the declared tensor interface of a converted package. It is a
// pure function of the exporter configuration: re-running an export with
// unchanged inputs yields an identical Interface even though weight
// serialization bytes may differ.
type Interface struct {
	Inputs        []TensorInfo `json:"inputs"`
	Outputs       []TensorInfo `json:"outputs"`
	Precision     string       `json:"precision"`
	MinimumTarget string       `json:"minimum_target"`
}

// Exporter is the interface all export pipelines implement.
type Exporter interface {
	// Validate checks the configured stage inputs for consistency before
	// any subprocess work starts.
	Validate() error
	// Interface returns the declared tensor interface of the package this
	// exporter produces.
	Interface() Interface
	// Export runs the load, trace, convert and package stages. It either
	// returns a complete, verified artifact or an error with nothing
	// usable left on disk.
	Export(ctx context.Context) (*Artifact, error)
	// Destroy releases the exporter's scratch space.
	Destroy() error
}

// ExporterOption is an option for an exporter of type T.
type ExporterOption[T Exporter] func(T)

// ExporterConfig configures an exporter of type T.
type ExporterConfig[T Exporter] struct {
	Name        string
	OutputDir   string
	Model       ModelSpec
	Trace       TraceSpec
	Convert     ConvertSpec
	Environment pyenv.Spec
	Options     []ExporterOption[T]
}

func newBaseExporter[T Exporter](config ExporterConfig[T], opts *options.Options, env *pyenv.Env) baseExporter {
	return baseExporter{
		name:      config.Name,
		outputDir: config.OutputDir,
		workDir:   filepath.Join(opts.WorkDir, config.Name),
		cacheDir:  opts.CacheDir,
		model:     config.Model,
		trace:     config.Trace,
		convert:   config.Convert,
		env:       env,
		verbose:   opts.Verbose,
	}
}

// baseExporter carries the stage inputs and the export workflow shared by
// all exporter types.
type baseExporter struct {
	name      string
	outputDir string
	workDir   string
	cacheDir  string
	model     ModelSpec
	trace     TraceSpec
	convert   ConvertSpec
	outputs   []TensorInfo
	env       *pyenv.Env
	verbose   bool
}

func (e *baseExporter) Validate() error {
	var errs []error
	if e.name == "" {
		errs = append(errs, errors.New("a name for the exporter is required"))
	}
	if e.outputDir == "" {
		errs = append(errs, errors.New("an output directory is required"))
	}
	if e.env == nil {
		errs = append(errs, errors.New("no provisioned environment"))
	}
	if e.model.Name == "" {
		errs = append(errs, errors.New("a model name is required"))
	}
	if e.model.Kind == ModelTarget && e.model.Target == "" {
		errs = append(errs, errors.New("a target stem is required for sub-network models"))
	}
	if e.trace.ExampleShape.Rank() == 0 {
		errs = append(errs, errors.New("an example shape is required"))
	}
	if e.convert.Precision != PrecisionFloat16 && e.convert.Precision != PrecisionFloat32 {
		errs = append(errs, fmt.Errorf("unsupported precision %q", e.convert.Precision))
	}
	if e.convert.PackageName == "" {
		errs = append(errs, errors.New("a package name is required"))
	}
	errs = append(errs, e.validateShapes())
	return errors.Join(errs...)
}

// validateShapes enforces that the declared input spec matches the example
// tensor the graph was specialized to. A mismatch here would surface as a
// conversion-time failure at best and a corrupt package at worst, so it
// aborts before any model work begins.
func (e *baseExporter) validateShapes() error {
	declared := e.convert.InputShape
	example := e.trace.ExampleShape
	if declared.Rank() != example.Rank() {
		return fmt.Errorf("declared input rank %d does not match example rank %d", declared.Rank(), example.Rank())
	}
	flex := e.convert.FlexAxis
	if flex >= declared.Rank() {
		return fmt.Errorf("flexible axis %d out of range for rank %d", flex, declared.Rank())
	}
	if flex < 0 {
		if !declared.Equal(example) {
			return fmt.Errorf("declared input shape %s does not match example shape %s", declared, example)
		}
		return nil
	}

	r := e.convert.Flexible
	if r == nil {
		return errors.New("a flexible axis needs declared bounds")
	}
	if r.Lower <= 0 || r.Lower > r.Upper || r.Default < r.Lower || r.Default > r.Upper {
		return fmt.Errorf("invalid flexible range [%d, %d] default %d", r.Lower, r.Upper, r.Default)
	}
	if example[flex] != r.Default {
		return fmt.Errorf("example dimension %d is %d, want the flexible default %d", flex, example[flex], r.Default)
	}
	for i := range declared {
		if i == flex {
			continue
		}
		if declared[i] != example[i] {
			return fmt.Errorf("declared input shape %s does not match example shape %s at axis %d", declared, example, i)
		}
	}
	return nil
}

func (e *baseExporter) Interface() Interface {
	input := TensorInfo{
		Name:     e.convert.InputName,
		Shape:    e.convert.InputShape,
		FlexAxis: e.convert.FlexAxis,
		Flexible: e.convert.Flexible,
	}
	return Interface{
		Inputs:        []TensorInfo{input},
		Outputs:       e.outputs,
		Precision:     e.convert.Precision,
		MinimumTarget: e.convert.MinimumTarget,
	}
}

// Export drives the model load, trace capture and conversion through a
// generated Python driver, then verifies and packages the result. Strictly
// sequential: each stage either completes or the export aborts with the
// failure surfaced.
func (e *baseExporter) Export(ctx context.Context) (*Artifact, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.workDir, os.ModePerm); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.outputDir, os.ModePerm); err != nil {
		return nil, err
	}

	examplePath := filepath.Join(e.workDir, e.name+"_example.npy")
	if err := WriteExampleTensor(examplePath, e.trace.ExampleShape, e.trace.Seed); err != nil {
		return nil, fmt.Errorf("writing example tensor: %w", err)
	}

	packagePath, err := filepath.Abs(util.PathJoinSafe(e.outputDir, e.convert.PackageName+".mlpackage"))
	if err != nil {
		return nil, err
	}

	driverPath := filepath.Join(e.workDir, e.name+"_driver.py")
	if err := renderExportDriver(driverPath, e.driverConfig(examplePath, packagePath)); err != nil {
		return nil, fmt.Errorf("rendering driver: %w", err)
	}

	if e.verbose {
		fmt.Printf("Exporting %s (%s) with example shape %s\n", e.model.Name, e.model.Kind, e.trace.ExampleShape)
	}
	if err := e.env.RunScript(ctx, e.workDir, driverPath, e.scriptEnv(), nil, nil); err != nil {
		// the driver may have died mid-save, leaving a half-written package
		return nil, errors.Join(fmt.Errorf("export driver for %s failed: %w", e.name, err), discardPartial(packagePath))
	}

	artifact, err := finishPackage(ctx, packagePath, e.Interface(), e.model, e.convert.Archive)
	if err != nil {
		return nil, err
	}
	if e.verbose {
		fmt.Printf("Wrote %s\n", artifact.PackagePath)
		if artifact.ArchivePath != "" {
			fmt.Printf("Wrote %s\n", artifact.ArchivePath)
		}
	}
	return artifact, nil
}

func (e *baseExporter) scriptEnv() []string {
	if e.cacheDir == "" {
		return nil
	}
	// torch.hub honors TORCH_HOME, which makes the pretrained weight fetch
	// an idempotent cache hit when the session prefetched checkpoints.
	return []string{"TORCH_HOME=" + e.cacheDir}
}

func (e *baseExporter) Destroy() error {
	if e.workDir == "" {
		return nil
	}
	return os.RemoveAll(e.workDir)
}
