package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	sangeet "github.com/YashvardhanATRgithub/Sangeet"
	"github.com/YashvardhanATRgithub/Sangeet/config"
	"github.com/YashvardhanATRgithub/Sangeet/exports"
	"github.com/YashvardhanATRgithub/Sangeet/options"
)

var outputDir string
var pythonBin string
var workDir string
var cacheDir string
var profilePath string
var verbose bool
var keepScratch bool
var noArchive bool

var commonFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "output",
		Usage:       "Directory where the package (and archive) are written",
		Aliases:     []string{"o"},
		Destination: &outputDir,
		Value:       ".",
	},
	&cli.StringFlag{
		Name:        "python",
		Usage:       "Python interpreter used to provision environments",
		Aliases:     []string{"p"},
		Destination: &pythonBin,
		Value:       "python3",
	},
	&cli.StringFlag{
		Name:        "workdir",
		Usage:       "Scratch directory for venvs and generated drivers. Falls back to a temp directory if not specified",
		Aliases:     []string{"w"},
		Destination: &workDir,
	},
	&cli.StringFlag{
		Name:        "cache",
		Usage:       "Checkpoint cache directory, exposed to the export drivers as TORCH_HOME",
		Aliases:     []string{"c"},
		Destination: &cacheDir,
	},
	&cli.StringFlag{
		Name:        "profile",
		Usage:       "Path to a YAML profile overriding the embedded export constants",
		Aliases:     []string{"f"},
		Destination: &profilePath,
	},
	&cli.BoolFlag{
		Name:        "verbose",
		Usage:       "Print progress output even when not attached to a terminal",
		Aliases:     []string{"v"},
		Destination: &verbose,
	},
	&cli.BoolFlag{
		Name:        "keep-scratch",
		Usage:       "Keep scratch venvs and drivers after the run, useful when debugging a failed export",
		Destination: &keepScratch,
	},
	&cli.BoolFlag{
		Name:        "no-archive",
		Usage:       "Skip zipping the package directory",
		Destination: &noArchive,
	},
}

func newSession() (*sangeet.Session, error) {
	var opts []options.WithOption
	if pythonBin != "" {
		opts = append(opts, options.WithPythonBin(pythonBin))
	}
	if workDir != "" {
		opts = append(opts, options.WithWorkDir(workDir))
	}
	if cacheDir != "" {
		opts = append(opts, options.WithCacheDir(cacheDir))
	}
	if keepScratch {
		opts = append(opts, options.WithKeepScratch())
	}
	if verbose || isatty.IsTerminal(os.Stdout.Fd()) {
		opts = append(opts, options.WithVerbose())
	}
	return sangeet.NewSession(opts...)
}

func loadProfile() (*config.Profile, error) {
	if profilePath == "" {
		return config.Default(), nil
	}
	return config.Load(profilePath)
}

func reportArtifact(artifact *exports.Artifact) {
	fmt.Printf("Package: %s\n", artifact.PackagePath)
	fmt.Printf("Interface manifest: %s\n", artifact.ManifestPath)
	if artifact.ArchivePath != "" {
		fmt.Printf("Archive: %s\n", artifact.ArchivePath)
	}
}

var openUnmixCommand = &cli.Command{
	Name:  "openunmix",
	Usage: "Export the full OpenUnmix (umxhq) separator as a Core ML package",
	Description: `Loads the pretrained umxhq waveform-to-waveform separator, traces it on ten
seconds of stereo audio and converts the trace to an .mlpackage with FP16
weights. The input tensor is named "audio" with shape (1, 2, 441000).`,
	Flags: commonFlags,
	Action: func(ctx *cli.Context) (err error) {
		session, err := newSession()
		if err != nil {
			return err
		}
		defer func() {
			err = setOrJoin(err, session.Destroy())
		}()

		profile, err := loadProfile()
		if err != nil {
			return err
		}
		exportConfig := exports.OpenUnmixConfig(outputDir)
		profile.ApplyOpenUnmix(&exportConfig)
		if noArchive {
			exportConfig.Convert.Archive = false
		}

		exporter, err := sangeet.NewExporter(ctx.Context, session, exportConfig)
		if err != nil {
			return err
		}
		artifact, err := exporter.Export(ctx.Context)
		if err != nil {
			return err
		}
		reportArtifact(artifact)
		return err
	},
}

var spectralCommand = &cli.Command{
	Name:  "spectral",
	Usage: "Export the OpenUnmix vocals sub-network as a Core ML package",
	Description: `Loads the vocals stem sub-network of umxhq, traces it on a
(1, 2, 2049, 100) magnitude spectrogram and converts it with the time-frame
axis flexible between 10 and 5000 frames. The input tensor is named
"magnitude_spectrogram".`,
	Flags: commonFlags,
	Action: func(ctx *cli.Context) (err error) {
		session, err := newSession()
		if err != nil {
			return err
		}
		defer func() {
			err = setOrJoin(err, session.Destroy())
		}()

		profile, err := loadProfile()
		if err != nil {
			return err
		}
		exportConfig := exports.SpectralConfig(outputDir)
		profile.ApplySpectral(&exportConfig)
		if noArchive {
			exportConfig.Convert.Archive = false
		}

		exporter, err := sangeet.NewExporter(ctx.Context, session, exportConfig)
		if err != nil {
			return err
		}
		artifact, err := exporter.Export(ctx.Context)
		if err != nil {
			return err
		}
		reportArtifact(artifact)
		return err
	},
}

var demucsCommand = &cli.Command{
	Name:  "demucs",
	Usage: "Export the first htdemucs bag member as a Core ML package",
	Description: `Provisions an isolated venv (the Demucs and OpenUnmix dependency trees are
mutually incompatible), loads the htdemucs bag, selects its first constituent
model and traces it on one segment of stereo audio (1, 2, 343980).`,
	Flags: commonFlags,
	Action: func(ctx *cli.Context) (err error) {
		session, err := newSession()
		if err != nil {
			return err
		}
		defer func() {
			err = setOrJoin(err, session.Destroy())
		}()

		profile, err := loadProfile()
		if err != nil {
			return err
		}
		exportConfig := exports.DemucsConfig(outputDir)
		profile.ApplyDemucs(&exportConfig)
		if noArchive {
			exportConfig.Convert.Archive = false
		}

		exporter, err := sangeet.NewExporter(ctx.Context, session, exportConfig)
		if err != nil {
			return err
		}
		artifact, err := exporter.Export(ctx.Context)
		if err != nil {
			return err
		}
		reportArtifact(artifact)
		return err
	},
}

var probeCommand = &cli.Command{
	Name:  "probe",
	Usage: "Probe a stem sub-network with candidate input shapes",
	Description: `Diagnostic utility: attempts candidate input shapes against the vocals
sub-network and reports which layout the model accepts. A rejected shape is a
reported failure, not a crash.`,
	Flags: commonFlags,
	Action: func(ctx *cli.Context) (err error) {
		session, err := newSession()
		if err != nil {
			return err
		}
		defer func() {
			err = setOrJoin(err, session.Destroy())
		}()

		model := exports.ModelSpec{
			Kind:       exports.ModelTarget,
			Name:       "umxhq",
			Target:     "vocals",
			Iterations: 1,
			Residual:   true,
		}
		probe, err := session.NewShapeProbe(ctx.Context, model, nil)
		if err != nil {
			return err
		}
		results, err := probe.Run(ctx.Context)
		if err != nil {
			return err
		}
		for _, result := range results {
			if result.OK {
				fmt.Printf("ok      %s -> %s\n", result.Shape, result.OutputShape)
			} else {
				fmt.Printf("failed  %s: %s\n", result.Shape, result.Reason)
			}
		}
		return err
	},
}

var fetchCommand = &cli.Command{
	Name:  "fetch",
	Usage: "Prefetch pretrained checkpoints into the local cache",
	Description: `Downloads the checkpoint files for a model ("umxhq" or "htdemucs") into the
cache directory, laid out the way torch.hub expects, so subsequent exports
resolve every weight fetch as a cache hit.`,
	ArgsUsage: "MODEL",
	Flags:     commonFlags,
	Action: func(ctx *cli.Context) (err error) {
		if ctx.NArg() != 1 {
			return fmt.Errorf("fetch expects exactly one model name argument")
		}
		session, err := newSession()
		if err != nil {
			return err
		}
		defer func() {
			err = setOrJoin(err, session.Destroy())
		}()

		downloadOptions := sangeet.NewDownloadOptions()
		downloadOptions.Verbose = verbose || isatty.IsTerminal(os.Stdout.Fd())
		paths, err := session.FetchWeights(ctx.Args().First(), downloadOptions)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Printf("Cached: %s\n", p)
		}
		return err
	},
}

func setOrJoin(err error, other error) error {
	if err == nil {
		return other
	}
	if other == nil {
		return err
	}
	return fmt.Errorf("%w (cleanup: %s)", err, other)
}

func main() {
	app := &cli.App{
		Name:     "sangeet",
		Usage:    "Export pretrained source-separation models to deployable Core ML packages",
		Commands: []*cli.Command{openUnmixCommand, spectralCommand, demucsCommand, probeCommand, fetchCommand},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
