package exports

import (
	"github.com/YashvardhanATRgithub/Sangeet/options"
	"github.com/YashvardhanATRgithub/Sangeet/pyenv"
)

// demucsSamples is the fixed segment length the htdemucs transformer
// operates on (about 7.8 seconds at 44.1 kHz).
const demucsSamples = 343980

// demucsStems are the sources the htdemucs models estimate.
var demucsStems = []string{"drums", "bass", "other", "vocals"}

// EnsembleExporter exports one constituent model of a bagged Demucs
// ensemble. The full bag averages several models and is not traceable as one
// graph, so the first member is selected deterministically, trading fidelity
// for a tractable graph size.
type EnsembleExporter struct {
	baseExporter
}

// NewEnsembleExporter creates a Demucs exporter from config, running in the
// provisioned env.
func NewEnsembleExporter(config ExporterConfig[*EnsembleExporter], opts *options.Options, env *pyenv.Env) (*EnsembleExporter, error) {
	e := &EnsembleExporter{baseExporter: newBaseExporter(config, opts, env)}
	example := e.trace.ExampleShape
	e.outputs = []TensorInfo{{
		Name:     "stems",
		Shape:    NewShape(example[0], int64(len(demucsStems)), example[1], example[2]),
		FlexAxis: -1,
	}}
	for _, opt := range config.Options {
		opt(e)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// DemucsConfig is the canonical Demucs export: the first member of the
// htdemucs bag traced on one segment of stereo audio.
func DemucsConfig(outputDir string) ExporterConfig[*EnsembleExporter] {
	return ExporterConfig[*EnsembleExporter]{
		Name:      "demucs",
		OutputDir: outputDir,
		Model: ModelSpec{
			Kind: ModelEnsemble,
			Name: "htdemucs",
		},
		Trace: TraceSpec{
			ExampleShape: NewShape(1, 2, demucsSamples),
			Seed:         defaultSeed,
			CheckTrace:   true,
		},
		Convert: ConvertSpec{
			InputName:     "audio",
			InputShape:    NewShape(1, 2, demucsSamples),
			FlexAxis:      -1,
			Precision:     PrecisionFloat16,
			MinimumTarget: "macOS13",
			Author:        Author,
			Description:   "Demucs (htdemucs)",
			PackageName:   "Demucs",
			Archive:       true,
		},
		Environment: DemucsEnvironment(),
	}
}

// DemucsEnvironment provisions an isolated venv for the Demucs stack. The
// Demucs and OpenUnmix dependency trees are mutually incompatible, and torch
// must be the exact CPU build the conversion was validated against, so the
// install order is: numpy first, then the pinned torch pair from the
// CPU-only wheel index, then the rest. The venv root is assigned by the
// session under its scratch directory.
func DemucsEnvironment() pyenv.Spec {
	return pyenv.Spec{
		Name:     "demucs",
		Isolated: true,
		Steps: []pyenv.Step{
			{Requirements: []pyenv.Requirement{
				{Name: "numpy", Constraint: "<2"},
			}},
			{
				Requirements: []pyenv.Requirement{
					{Name: "torch", Constraint: "==2.4.0"},
					{Name: "torchaudio", Constraint: "==2.4.0"},
				},
				IndexURL: "https://download.pytorch.org/whl/cpu",
			},
			{Requirements: []pyenv.Requirement{
				{Name: "demucs"},
				{Name: "coremltools"},
			}},
		},
	}
}

// WithEnsembleModel selects a different Demucs bag, e.g. "htdemucs_ft".
func WithEnsembleModel(name string) ExporterOption[*EnsembleExporter] {
	return func(e *EnsembleExporter) {
		e.model.Name = name
	}
}
