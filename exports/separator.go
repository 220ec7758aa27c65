package exports

import (
	"github.com/YashvardhanATRgithub/Sangeet/options"
	"github.com/YashvardhanATRgithub/Sangeet/pyenv"
)

const (
	// sampleRate is the fixed rate of the pretrained OpenUnmix models.
	sampleRate = 44100
	// openUnmixSeconds of audio in the default example input: long enough
	// to exercise the internal STFT windows, short enough to keep the
	// traced graph tractable.
	openUnmixSeconds = 10

	defaultSeed = 42

	// Author recorded in every converted package.
	Author = "Sangeet AI"
)

// openUnmixTargets are the stem sub-networks inside the umxhq separator.
var openUnmixTargets = []string{"vocals", "drums", "bass", "other"}

// SeparatorExporter exports a whole waveform-to-waveform OpenUnmix separator.
// The separator accepts raw stereo waveform and returns one waveform per stem
// (plus the residual), doing STFT, per-stem spectral estimation, one round of
// Wiener refinement and ISTFT inside the graph.
type SeparatorExporter struct {
	baseExporter
}

// NewSeparatorExporter creates a separator exporter from config, running in
// the provisioned env.
func NewSeparatorExporter(config ExporterConfig[*SeparatorExporter], opts *options.Options, env *pyenv.Env) (*SeparatorExporter, error) {
	e := &SeparatorExporter{baseExporter: newBaseExporter(config, opts, env)}
	e.outputs = separatorOutputs(e.model, e.trace.ExampleShape)
	for _, opt := range config.Options {
		opt(e)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// separatorOutputs declares the separator output: one rank-4 tensor of
// (batch, stems, channels, samples), with the residual counting as a stem.
func separatorOutputs(model ModelSpec, example Shape) []TensorInfo {
	stems := int64(len(openUnmixTargets))
	if model.Residual {
		stems++
	}
	shape := NewShape(example[0], stems, example[1], example[2])
	return []TensorInfo{{Name: "stems", Shape: shape, FlexAxis: -1}}
}

// OpenUnmixConfig is the canonical full-waveform OpenUnmix export: umxhq with
// one Wiener iteration and a residual target, traced on 10 seconds of stereo
// audio at 44.1 kHz. Trace validation is disabled: the Wiener refinement
// loops a data-dependent number of times internally, which makes the
// tracer's re-validation disagree spuriously even though the graph is
// usable.
func OpenUnmixConfig(outputDir string) ExporterConfig[*SeparatorExporter] {
	samples := int64(sampleRate * openUnmixSeconds)
	return ExporterConfig[*SeparatorExporter]{
		Name:      "openunmix",
		OutputDir: outputDir,
		Model: ModelSpec{
			Kind:       ModelSeparator,
			Name:       "umxhq",
			Iterations: 1,
			Residual:   true,
		},
		Trace: TraceSpec{
			ExampleShape: NewShape(1, 2, samples),
			Seed:         defaultSeed,
			CheckTrace:   false,
		},
		Convert: ConvertSpec{
			InputName:     "audio",
			InputShape:    NewShape(1, 2, samples),
			FlexAxis:      -1,
			Precision:     PrecisionFloat16,
			MinimumTarget: "macOS13",
			Author:        Author,
			Description:   "OpenUnmix (UMXHQ)",
			PackageName:   "OpenUnmix",
			Archive:       true,
		},
		Environment: OpenUnmixEnvironment(),
	}
}

// OpenUnmixEnvironment installs the OpenUnmix stack into the invoking
// interpreter's environment. No isolation is needed: unlike Demucs, the
// OpenUnmix dependency tree coexists with a stock coremltools install.
func OpenUnmixEnvironment() pyenv.Spec {
	return pyenv.Spec{
		Name: "openunmix",
		Steps: []pyenv.Step{
			{Requirements: []pyenv.Requirement{
				{Name: "openunmix"},
				{Name: "torch"},
				{Name: "torchaudio"},
				{Name: "coremltools"},
				{Name: "numpy", Constraint: "<2"},
			}},
		},
	}
}

// WithSampleCount overrides the example length in samples. The shorter
// 3-second variant (132300 samples) trades interface length for a smaller
// traced graph.
func WithSampleCount(samples int64) ExporterOption[*SeparatorExporter] {
	return func(e *SeparatorExporter) {
		e.trace.ExampleShape = NewShape(1, 2, samples)
		e.convert.InputShape = NewShape(1, 2, samples)
		e.outputs = separatorOutputs(e.model, e.trace.ExampleShape)
	}
}

// WithSeparatorArchive toggles zipping the package directory.
func WithSeparatorArchive(archive bool) ExporterOption[*SeparatorExporter] {
	return func(e *SeparatorExporter) {
		e.convert.Archive = archive
	}
}
