package exports

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YashvardhanATRgithub/Sangeet/options"
	"github.com/YashvardhanATRgithub/Sangeet/pyenv"
)

// fakeRunner stands in for the Python toolchain: it answers the numpy
// version check and, when an export driver is run, performs the driver's
// observable side effect (writing the .mlpackage) by reading the config blob
// embedded in the generated script.
type fakeRunner struct {
	calls        [][]string
	driverFail   bool
	skipManifest bool
	probeLines   []string
}

func (r *fakeRunner) Run(_ context.Context, _ string, _ []string, stdout, _ io.Writer, name string, args ...string) error {
	r.calls = append(r.calls, append([]string{name}, args...))
	if len(args) == 2 && args[0] == "-c" {
		fmt.Fprintln(stdout, "1.26.4")
		return nil
	}
	if len(args) == 1 && strings.HasSuffix(args[0], "_driver.py") {
		if r.driverFail {
			return fmt.Errorf("driver exited with status 1")
		}
		if strings.HasSuffix(args[0], "probe_driver.py") {
			for _, line := range r.probeLines {
				fmt.Fprintln(stdout, line)
			}
			return nil
		}
		return writePackageFromDriver(args[0], r.skipManifest)
	}
	return nil
}

// writePackageFromDriver parses the JSON config out of a rendered driver and
// creates the package directory the real conversion would have written.
// skipManifest simulates a converter that died before writing Manifest.json.
func writePackageFromDriver(driverPath string, skipManifest bool) error {
	cfg, err := parseDriverConfig(driverPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(cfg.Convert.PackagePath, "Data"), os.ModePerm); err != nil {
		return err
	}
	if skipManifest {
		return nil
	}
	manifest := []byte(`{"fileFormatVersion": "1.0.0", "itemInfoEntries": {}}`)
	return os.WriteFile(filepath.Join(cfg.Convert.PackagePath, "Manifest.json"), manifest, 0o644)
}

func parseDriverConfig(driverPath string) (driverConfig, error) {
	var cfg driverConfig
	script, err := os.ReadFile(driverPath)
	if err != nil {
		return cfg, err
	}
	text := string(script)
	start := strings.Index(text, "r'''")
	if start < 0 {
		return cfg, fmt.Errorf("no config blob in driver %s", driverPath)
	}
	blob := text[start+len("r'''"):]
	blob = blob[:strings.Index(blob, "'''")]
	err = jsoniter.UnmarshalFromString(blob, &cfg)
	return cfg, err
}

func testOptions(t *testing.T, runner pyenv.Runner) *options.Options {
	t.Helper()
	opts := options.Defaults()
	opts.WorkDir = filepath.Join(t.TempDir(), "scratch")
	opts.Runner = runner
	return opts
}

func testEnv(t *testing.T, runner pyenv.Runner) *pyenv.Env {
	t.Helper()
	env, err := pyenv.Provision(context.Background(), OpenUnmixEnvironment(), runner, false)
	require.NoError(t, err)
	return env
}

func TestSeparatorExportWritesPackageAndArchive(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)
	outputDir := t.TempDir()

	exporter, err := NewSeparatorExporter(OpenUnmixConfig(outputDir), opts, env)
	require.NoError(t, err)

	artifact, err := exporter.Export(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outputDir, "OpenUnmix.mlpackage"), artifact.PackagePath)
	assert.DirExists(t, artifact.PackagePath)
	assert.FileExists(t, filepath.Join(artifact.PackagePath, "Manifest.json"))
	assert.FileExists(t, artifact.ManifestPath)
	assert.FileExists(t, artifact.ArchivePath)
	assert.Equal(t, filepath.Join(outputDir, "OpenUnmix.zip"), artifact.ArchivePath)

	iface := artifact.Interface
	require.Len(t, iface.Inputs, 1)
	assert.Equal(t, "audio", iface.Inputs[0].Name)
	assert.Equal(t, NewShape(1, 2, 441000), iface.Inputs[0].Shape)
	assert.Equal(t, PrecisionFloat16, iface.Precision)
	assert.Equal(t, "macOS13", iface.MinimumTarget)
	require.Len(t, iface.Outputs, 1)
	assert.Equal(t, 4, iface.Outputs[0].Shape.Rank())
}

func TestSeparatorDriverDisablesTraceValidation(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)

	exporter, err := NewSeparatorExporter(OpenUnmixConfig(t.TempDir()), opts, env)
	require.NoError(t, err)
	_, err = exporter.Export(context.Background())
	require.NoError(t, err)

	cfg, err := parseDriverConfig(filepath.Join(opts.WorkDir, "openunmix", "openunmix_driver.py"))
	require.NoError(t, err)
	assert.False(t, cfg.Trace.CheckTrace)
	assert.Equal(t, ModelSeparator, cfg.Model.Kind)
	assert.Equal(t, "umxhq", cfg.Model.Name)
	assert.Equal(t, 1, cfg.Model.Iterations)
	assert.True(t, cfg.Model.Residual)
}

func TestSpectralExportDeclaresFlexibleFrames(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)
	outputDir := t.TempDir()

	exporter, err := NewSpectralExporter(SpectralConfig(outputDir), opts, env)
	require.NoError(t, err)

	iface := exporter.Interface()
	require.Len(t, iface.Inputs, 1)
	input := iface.Inputs[0]
	assert.Equal(t, "magnitude_spectrogram", input.Name)
	assert.Equal(t, NewShape(1, 2, 2049, 100), input.Shape)
	assert.Equal(t, 3, input.FlexAxis)
	require.NotNil(t, input.Flexible)
	assert.Equal(t, int64(10), input.Flexible.Lower)
	assert.Equal(t, int64(5000), input.Flexible.Upper)
	assert.Equal(t, int64(100), input.Flexible.Default)

	artifact, err := exporter.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outputDir, "OpenUnmixSpectrogram.mlpackage"), artifact.PackagePath)
}

func TestEnsembleExportUsesDemucsSegment(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)

	exporter, err := NewEnsembleExporter(DemucsConfig(t.TempDir()), opts, env)
	require.NoError(t, err)

	iface := exporter.Interface()
	assert.Equal(t, NewShape(1, 2, 343980), iface.Inputs[0].Shape)
	require.Len(t, iface.Outputs, 1)
	assert.Equal(t, NewShape(1, 4, 2, 343980), iface.Outputs[0].Shape)

	_, err = exporter.Export(context.Background())
	require.NoError(t, err)

	cfg, err := parseDriverConfig(filepath.Join(opts.WorkDir, "demucs", "demucs_driver.py"))
	require.NoError(t, err)
	assert.Equal(t, ModelEnsemble, cfg.Model.Kind)
	assert.Equal(t, "htdemucs", cfg.Model.Name)
	assert.True(t, cfg.Trace.CheckTrace)
}

func TestInterfaceIsIdempotentAcrossRuns(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)
	outputDir := t.TempDir()

	first, err := NewSeparatorExporter(OpenUnmixConfig(outputDir), opts, env)
	require.NoError(t, err)
	firstArtifact, err := first.Export(context.Background())
	require.NoError(t, err)

	second, err := NewSeparatorExporter(OpenUnmixConfig(outputDir), opts, env)
	require.NoError(t, err)
	secondArtifact, err := second.Export(context.Background())
	require.NoError(t, err)

	assert.Equal(t, firstArtifact.Interface, secondArtifact.Interface)
}

func TestValidateRejectsShapeMismatch(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)

	cfg := OpenUnmixConfig(t.TempDir())
	cfg.Convert.InputShape = NewShape(1, 2, 44100)
	_, err := NewSeparatorExporter(cfg, opts, env)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "does not match example shape")
}

func TestValidateRejectsRankMismatch(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)

	cfg := OpenUnmixConfig(t.TempDir())
	cfg.Convert.InputShape = NewShape(1, 2, 2049, 100)
	_, err := NewSeparatorExporter(cfg, opts, env)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rank")
}

func TestValidateRejectsBadFlexibleRange(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)

	cfg := SpectralConfig(t.TempDir())
	cfg.Convert.Flexible = &RangeDim{Lower: 500, Upper: 5000, Default: 100}
	_, err := NewSpectralExporter(cfg, opts, env)
	assert.Error(t, err)
}

func TestValidateRequiresTargetStem(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)

	cfg := SpectralConfig(t.TempDir())
	cfg.Model.Target = ""
	_, err := NewSpectralExporter(cfg, opts, env)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "target stem")
}

func TestExportFailsWhenDriverFails(t *testing.T) {
	runner := &fakeRunner{driverFail: true}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)
	outputDir := t.TempDir()

	exporter, err := NewSeparatorExporter(OpenUnmixConfig(outputDir), opts, env)
	require.NoError(t, err)
	_, err = exporter.Export(context.Background())
	assert.Error(t, err)

	// no partial artifact: neither a package nor an archive was written
	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportDiscardsMalformedPackage(t *testing.T) {
	runner := &fakeRunner{skipManifest: true}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)
	outputDir := t.TempDir()

	exporter, err := NewSeparatorExporter(OpenUnmixConfig(outputDir), opts, env)
	require.NoError(t, err)
	_, err = exporter.Export(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "manifest")

	// the malformed package directory is removed along with the error
	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestShapeEqual(t *testing.T) {
	assert.True(t, NewShape(1, 2, 441000).Equal(NewShape(1, 2, 441000)))
	assert.False(t, NewShape(1, 2, 441000).Equal(NewShape(1, 2, 44100)))
	assert.False(t, NewShape(1, 2, 441000).Equal(NewShape(1, 2)))
	assert.True(t, NewShape().Equal(NewShape()))
}

func TestWithSampleCountResizesInterface(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)

	cfg := OpenUnmixConfig(t.TempDir())
	cfg.Options = append(cfg.Options, WithSampleCount(132300))
	exporter, err := NewSeparatorExporter(cfg, opts, env)
	require.NoError(t, err)

	iface := exporter.Interface()
	assert.Equal(t, NewShape(1, 2, 132300), iface.Inputs[0].Shape)
	assert.Equal(t, NewShape(1, 5, 2, 132300), iface.Outputs[0].Shape)
}

func TestWithSeparatorArchiveSkipsZip(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)
	outputDir := t.TempDir()

	cfg := OpenUnmixConfig(outputDir)
	cfg.Options = append(cfg.Options, WithSeparatorArchive(false))
	exporter, err := NewSeparatorExporter(cfg, opts, env)
	require.NoError(t, err)

	artifact, err := exporter.Export(context.Background())
	require.NoError(t, err)
	assert.Empty(t, artifact.ArchivePath)
	assert.NoFileExists(t, filepath.Join(outputDir, "OpenUnmix.zip"))
}

func TestWithTargetStemSelectsSubNetwork(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)

	cfg := SpectralConfig(t.TempDir())
	cfg.Options = append(cfg.Options, WithTargetStem("drums"))
	exporter, err := NewSpectralExporter(cfg, opts, env)
	require.NoError(t, err)

	_, err = exporter.Export(context.Background())
	require.NoError(t, err)

	parsed, err := parseDriverConfig(filepath.Join(opts.WorkDir, "openunmix-spectral", "openunmix-spectral_driver.py"))
	require.NoError(t, err)
	assert.Equal(t, "drums", parsed.Model.Target)
}

func TestWithEnsembleModelSelectsBag(t *testing.T) {
	runner := &fakeRunner{}
	opts := testOptions(t, runner)
	env := testEnv(t, runner)

	cfg := DemucsConfig(t.TempDir())
	cfg.Options = append(cfg.Options, WithEnsembleModel("htdemucs_ft"))
	exporter, err := NewEnsembleExporter(cfg, opts, env)
	require.NoError(t, err)

	_, err = exporter.Export(context.Background())
	require.NoError(t, err)

	parsed, err := parseDriverConfig(filepath.Join(opts.WorkDir, "demucs", "demucs_driver.py"))
	require.NoError(t, err)
	assert.Equal(t, "htdemucs_ft", parsed.Model.Name)
}
