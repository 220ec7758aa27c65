// Package config loads optional YAML export profiles. A profile overrides
// the embedded constants of the canonical exports; every field left unset
// keeps the default, so an absent or empty profile reproduces the stock
// behavior exactly.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/YashvardhanATRgithub/Sangeet/exports"
)

// Profile holds per-export overrides.
type Profile struct {
	Author    string           `yaml:"author"`
	OutputDir string           `yaml:"output_dir"`
	OpenUnmix OpenUnmixProfile `yaml:"openunmix"`
	Spectral  SpectralProfile  `yaml:"spectral"`
	Demucs    DemucsProfile    `yaml:"demucs"`
}

// OpenUnmixProfile overrides the full-waveform OpenUnmix export.
type OpenUnmixProfile struct {
	Model      string `yaml:"model"`
	Samples    int64  `yaml:"samples"`
	Iterations *int   `yaml:"iterations"`
	CheckTrace *bool  `yaml:"check_trace"`
	Archive    *bool  `yaml:"archive"`
}

// SpectralProfile overrides the stem sub-network export.
type SpectralProfile struct {
	Target    string `yaml:"target"`
	Frames    int64  `yaml:"frames"`
	MinFrames int64  `yaml:"min_frames"`
	MaxFrames int64  `yaml:"max_frames"`
	Archive   *bool  `yaml:"archive"`
}

// DemucsProfile overrides the Demucs export.
type DemucsProfile struct {
	Model   string `yaml:"model"`
	Samples int64  `yaml:"samples"`
	Archive *bool  `yaml:"archive"`
}

// Default returns a Profile with no overrides.
func Default() *Profile {
	return &Profile{}
}

// Load reads and parses a YAML profile file. Missing fields keep their
// defaults.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile file: %w", err)
	}
	profile := Default()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parsing profile file: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// Validate checks the profile for invalid values.
func (p *Profile) Validate() error {
	if p.OpenUnmix.Samples < 0 {
		return fmt.Errorf("openunmix.samples must be positive, got %d", p.OpenUnmix.Samples)
	}
	if p.Demucs.Samples < 0 {
		return fmt.Errorf("demucs.samples must be positive, got %d", p.Demucs.Samples)
	}
	if p.Spectral.Frames < 0 {
		return fmt.Errorf("spectral.frames must be positive, got %d", p.Spectral.Frames)
	}
	if p.Spectral.MinFrames < 0 || p.Spectral.MaxFrames < 0 {
		return fmt.Errorf("spectral frame bounds must be positive")
	}
	if p.Spectral.MinFrames > 0 && p.Spectral.MaxFrames > 0 && p.Spectral.MinFrames > p.Spectral.MaxFrames {
		return fmt.Errorf("spectral.min_frames %d exceeds spectral.max_frames %d", p.Spectral.MinFrames, p.Spectral.MaxFrames)
	}
	return nil
}

// ApplyOpenUnmix overlays the profile onto a full-waveform export config.
func (p *Profile) ApplyOpenUnmix(cfg *exports.ExporterConfig[*exports.SeparatorExporter]) {
	p.applyCommon(&cfg.OutputDir, &cfg.Convert)
	if p.OpenUnmix.Model != "" {
		cfg.Model.Name = p.OpenUnmix.Model
	}
	if p.OpenUnmix.Iterations != nil {
		cfg.Model.Iterations = *p.OpenUnmix.Iterations
	}
	if p.OpenUnmix.Samples > 0 {
		cfg.Trace.ExampleShape = exports.NewShape(1, 2, p.OpenUnmix.Samples)
		cfg.Convert.InputShape = exports.NewShape(1, 2, p.OpenUnmix.Samples)
	}
	if p.OpenUnmix.CheckTrace != nil {
		cfg.Trace.CheckTrace = *p.OpenUnmix.CheckTrace
	}
	if p.OpenUnmix.Archive != nil {
		cfg.Convert.Archive = *p.OpenUnmix.Archive
	}
}

// ApplySpectral overlays the profile onto a stem sub-network export config.
func (p *Profile) ApplySpectral(cfg *exports.ExporterConfig[*exports.SpectralExporter]) {
	p.applyCommon(&cfg.OutputDir, &cfg.Convert)
	if p.Spectral.Target != "" {
		cfg.Model.Target = p.Spectral.Target
	}
	if p.Spectral.Frames > 0 {
		shape := cfg.Convert.InputShape
		shape[len(shape)-1] = p.Spectral.Frames
		cfg.Trace.ExampleShape[len(cfg.Trace.ExampleShape)-1] = p.Spectral.Frames
		cfg.Convert.Flexible.Default = p.Spectral.Frames
	}
	if p.Spectral.MinFrames > 0 {
		cfg.Convert.Flexible.Lower = p.Spectral.MinFrames
	}
	if p.Spectral.MaxFrames > 0 {
		cfg.Convert.Flexible.Upper = p.Spectral.MaxFrames
	}
	if p.Spectral.Archive != nil {
		cfg.Convert.Archive = *p.Spectral.Archive
	}
}

// ApplyDemucs overlays the profile onto a Demucs export config.
func (p *Profile) ApplyDemucs(cfg *exports.ExporterConfig[*exports.EnsembleExporter]) {
	p.applyCommon(&cfg.OutputDir, &cfg.Convert)
	if p.Demucs.Model != "" {
		cfg.Model.Name = p.Demucs.Model
	}
	if p.Demucs.Samples > 0 {
		cfg.Trace.ExampleShape = exports.NewShape(1, 2, p.Demucs.Samples)
		cfg.Convert.InputShape = exports.NewShape(1, 2, p.Demucs.Samples)
	}
	if p.Demucs.Archive != nil {
		cfg.Convert.Archive = *p.Demucs.Archive
	}
}

func (p *Profile) applyCommon(outputDir *string, convert *exports.ConvertSpec) {
	if p.OutputDir != "" {
		*outputDir = p.OutputDir
	}
	if p.Author != "" {
		convert.Author = p.Author
	}
}
