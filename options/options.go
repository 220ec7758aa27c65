package options

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/YashvardhanATRgithub/Sangeet/pyenv"
)

// Options holds session-wide settings shared by every exporter.
type Options struct {
	// PythonBin is the interpreter used to create environments. Defaults
	// to python3 on PATH.
	PythonBin string
	// WorkDir is the scratch root for venvs, driver scripts and example
	// tensors.
	WorkDir string
	// CacheDir caches pretrained checkpoints across runs. Exposed to the
	// drivers as TORCH_HOME.
	CacheDir string
	// KeepScratch retains the scratch directory on Destroy, useful when
	// debugging a failed export.
	KeepScratch bool
	Verbose     bool
	// Runner executes subprocesses; replaced in tests.
	Runner  pyenv.Runner
	Destroy func() error
}

// Defaults returns the default session options.
func Defaults() *Options {
	return &Options{
		PythonBin: "python3",
		WorkDir:   filepath.Join(os.TempDir(), "sangeet-export"),
		Runner:    pyenv.NewRunner(),
		Destroy: func() error {
			return nil
		},
	}
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// WithPythonBin sets the interpreter used to create Python environments.
func WithPythonBin(pythonBin string) WithOption {
	return func(o *Options) error {
		if pythonBin == "" {
			return errors.New("python binary path cannot be empty")
		}
		o.PythonBin = pythonBin
		return nil
	}
}

// WithWorkDir sets the scratch root for venvs and generated drivers.
func WithWorkDir(workDir string) WithOption {
	return func(o *Options) error {
		if workDir == "" {
			return errors.New("work directory cannot be empty")
		}
		o.WorkDir = workDir
		return nil
	}
}

// WithCacheDir caches pretrained checkpoints in cacheDir across runs.
func WithCacheDir(cacheDir string) WithOption {
	return func(o *Options) error {
		o.CacheDir = cacheDir
		return nil
	}
}

// WithKeepScratch retains scratch venvs and drivers after the session is
// destroyed.
func WithKeepScratch() WithOption {
	return func(o *Options) error {
		o.KeepScratch = true
		return nil
	}
}

// WithVerbose enables progress output.
func WithVerbose() WithOption {
	return func(o *Options) error {
		o.Verbose = true
		return nil
	}
}

// WithRunner replaces the subprocess runner. Used by tests to run exports
// hermetically.
func WithRunner(runner pyenv.Runner) WithOption {
	return func(o *Options) error {
		if runner == nil {
			return errors.New("runner cannot be nil")
		}
		o.Runner = runner
		return nil
	}
}
