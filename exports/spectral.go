package exports

import (
	"github.com/YashvardhanATRgithub/Sangeet/options"
	"github.com/YashvardhanATRgithub/Sangeet/pyenv"
)

const (
	// spectralBins is the frequency bin count of the umxhq models
	// (nfft=4096 gives 2049 one-sided bins).
	spectralBins = 2049
	// spectralDefaultFrames is roughly two seconds at hop size 1024.
	spectralDefaultFrames = 100
	spectralMinFrames     = 10
	spectralMaxFrames     = 5000
)

// SpectralExporter exports a single stem sub-network of the OpenUnmix
// separator. The sub-network accepts a pre-computed magnitude spectrogram of
// (batch, channels, bins, frames) and returns the stem-specific spectral
// estimate of the same rank. The time-frame axis is declared as a bounded
// range so variable-length input can be fed at inference time.
type SpectralExporter struct {
	baseExporter
}

// NewSpectralExporter creates a spectral sub-network exporter from config,
// running in the provisioned env.
func NewSpectralExporter(config ExporterConfig[*SpectralExporter], opts *options.Options, env *pyenv.Env) (*SpectralExporter, error) {
	e := &SpectralExporter{baseExporter: newBaseExporter(config, opts, env)}
	e.outputs = []TensorInfo{{
		Name:     "estimate",
		Shape:    e.convert.InputShape,
		FlexAxis: e.convert.FlexAxis,
		Flexible: e.convert.Flexible,
	}}
	for _, opt := range config.Options {
		opt(e)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// SpectralConfig is the canonical vocals sub-model export: the umxhq vocals
// network traced on a (1, 2, 2049, 100) magnitude spectrogram, converted
// with the frame axis flexible between 10 and 5000 frames.
//
// The (batch, channels, bins, frames) layout was confirmed empirically with
// the shape probe; the alternative (batch, frames, channels*bins) layout is
// rejected by the model.
func SpectralConfig(outputDir string) ExporterConfig[*SpectralExporter] {
	return ExporterConfig[*SpectralExporter]{
		Name:      "openunmix-spectral",
		OutputDir: outputDir,
		Model: ModelSpec{
			Kind:       ModelTarget,
			Name:       "umxhq",
			Target:     "vocals",
			Iterations: 1,
			Residual:   true,
		},
		Trace: TraceSpec{
			ExampleShape: NewShape(1, 2, spectralBins, spectralDefaultFrames),
			Seed:         defaultSeed,
			CheckTrace:   true,
		},
		Convert: ConvertSpec{
			InputName:  "magnitude_spectrogram",
			InputShape: NewShape(1, 2, spectralBins, spectralDefaultFrames),
			FlexAxis:   3,
			Flexible: &RangeDim{
				Lower:   spectralMinFrames,
				Upper:   spectralMaxFrames,
				Default: spectralDefaultFrames,
			},
			Precision:     PrecisionFloat16,
			MinimumTarget: "macOS13",
			Author:        Author,
			Description:   "OpenUnmix Vocals (Spectral)",
			PackageName:   "OpenUnmixSpectrogram",
			Archive:       true,
		},
		Environment: OpenUnmixEnvironment(),
	}
}

// WithTargetStem selects a different stem sub-network, e.g. "drums".
func WithTargetStem(target string) ExporterOption[*SpectralExporter] {
	return func(e *SpectralExporter) {
		e.model.Target = target
	}
}
