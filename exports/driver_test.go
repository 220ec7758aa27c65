package exports

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderExportDriverEmbedsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driver.py")
	cfg := driverConfig{
		ExamplePath: "/scratch/example.npy",
		Model:       ModelSpec{Kind: ModelSeparator, Name: "umxhq", Iterations: 1, Residual: true},
		Trace:       driverTraceConfig{CheckTrace: false},
		Convert: driverConvertSpec{
			InputName:     "audio",
			Shape:         []int64{1, 2, 441000},
			FlexAxis:      -1,
			Precision:     PrecisionFloat16,
			MinimumTarget: "macOS13",
			Author:        Author,
			PackagePath:   "/out/OpenUnmix.mlpackage",
		},
	}
	require.NoError(t, renderExportDriver(path, cfg))

	script, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(script)

	parsed, err := parseDriverConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)

	// the numpy guard runs before any model import
	numpyGuard := strings.Index(text, "numpy.__version__.split")
	torchImport := strings.Index(text, "import torch")
	require.Greater(t, numpyGuard, 0)
	require.Greater(t, torchImport, 0)
	assert.Less(t, numpyGuard, torchImport)

	assert.Contains(t, text, `convert_to="mlprogram"`)
	assert.Contains(t, text, "check_trace=cfg[\"trace\"][\"check_trace\"]")
	assert.Contains(t, text, "ct.RangeDim")
}

func TestRenderProbeDriverListsCandidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.py")
	cfg := driverConfig{
		Model:      ModelSpec{Kind: ModelTarget, Name: "umxhq", Target: "vocals", Iterations: 1},
		Candidates: [][]int64{{1, 2, 2049, 100}, {1, 100, 4098}},
	}
	require.NoError(t, renderProbeDriver(path, cfg))

	script, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(script)

	assert.Contains(t, text, `"candidates"`)
	assert.Contains(t, text, "json.dumps")
	// failures are caught per candidate, never crashing the probe
	assert.Contains(t, text, "except Exception")
}
