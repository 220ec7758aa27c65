package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YashvardhanATRgithub/Sangeet/exports"
)

func writeProfile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadEmptyProfileKeepsDefaults(t *testing.T) {
	profile, err := Load(writeProfile(t, ""))
	require.NoError(t, err)

	cfg := exports.OpenUnmixConfig("/out")
	profile.ApplyOpenUnmix(&cfg)
	assert.Equal(t, exports.OpenUnmixConfig("/out"), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	_, err := Load(writeProfile(t, "author: [unclosed"))
	assert.Error(t, err)
}

func TestApplyOpenUnmixOverrides(t *testing.T) {
	profile, err := Load(writeProfile(t, `
author: Someone Else
output_dir: /elsewhere
openunmix:
  model: umx
  samples: 132300
  iterations: 2
  check_trace: true
  archive: false
`))
	require.NoError(t, err)

	cfg := exports.OpenUnmixConfig("/out")
	profile.ApplyOpenUnmix(&cfg)

	assert.Equal(t, "/elsewhere", cfg.OutputDir)
	assert.Equal(t, "Someone Else", cfg.Convert.Author)
	assert.Equal(t, "umx", cfg.Model.Name)
	assert.Equal(t, 2, cfg.Model.Iterations)
	assert.Equal(t, exports.NewShape(1, 2, 132300), cfg.Trace.ExampleShape)
	assert.Equal(t, exports.NewShape(1, 2, 132300), cfg.Convert.InputShape)
	assert.True(t, cfg.Trace.CheckTrace)
	assert.False(t, cfg.Convert.Archive)
}

func TestApplySpectralOverrides(t *testing.T) {
	profile, err := Load(writeProfile(t, `
spectral:
  target: drums
  frames: 200
  min_frames: 20
  max_frames: 2000
`))
	require.NoError(t, err)

	cfg := exports.SpectralConfig("/out")
	profile.ApplySpectral(&cfg)

	assert.Equal(t, "drums", cfg.Model.Target)
	assert.Equal(t, exports.NewShape(1, 2, 2049, 200), cfg.Trace.ExampleShape)
	assert.Equal(t, exports.NewShape(1, 2, 2049, 200), cfg.Convert.InputShape)
	assert.Equal(t, int64(20), cfg.Convert.Flexible.Lower)
	assert.Equal(t, int64(2000), cfg.Convert.Flexible.Upper)
	assert.Equal(t, int64(200), cfg.Convert.Flexible.Default)
	// overrides keep the config exportable
	assert.NoError(t, profile.Validate())
}

func TestApplyDemucsOverrides(t *testing.T) {
	profile, err := Load(writeProfile(t, `
demucs:
  model: htdemucs_ft
  samples: 441000
`))
	require.NoError(t, err)

	cfg := exports.DemucsConfig("/out")
	profile.ApplyDemucs(&cfg)

	assert.Equal(t, "htdemucs_ft", cfg.Model.Name)
	assert.Equal(t, exports.NewShape(1, 2, 441000), cfg.Trace.ExampleShape)
	assert.Equal(t, exports.NewShape(1, 2, 441000), cfg.Convert.InputShape)
}

func TestValidate(t *testing.T) {
	p := Default()
	assert.NoError(t, p.Validate())

	p.OpenUnmix.Samples = -1
	assert.ErrorContains(t, p.Validate(), "openunmix.samples")

	p = Default()
	p.Spectral.MinFrames = 500
	p.Spectral.MaxFrames = 100
	assert.ErrorContains(t, p.Validate(), "exceeds")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(writeProfile(t, "demucs:\n  samples: -5\n"))
	assert.ErrorContains(t, err, "demucs.samples")
}
