// Package sangeet exports pretrained audio source-separation models
// (OpenUnmix, Demucs) as deployable Core ML packages with half-precision
// weights. A Session provisions the Python environments hosting the ML
// tooling and holds the exporters created against them.
package sangeet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/YashvardhanATRgithub/Sangeet/exports"
	"github.com/YashvardhanATRgithub/Sangeet/options"
	"github.com/YashvardhanATRgithub/Sangeet/pyenv"
)

// Session allows for the creation of exporters and holds the exporters and
// provisioned Python environments already created. Environments are shared
// between exporters with the same environment spec name.
type Session struct {
	separatorExporters exporterMap[*exports.SeparatorExporter]
	spectralExporters  exporterMap[*exports.SpectralExporter]
	ensembleExporters  exporterMap[*exports.EnsembleExporter]
	environments       map[string]*pyenv.Env
	options            *options.Options
}

// NewSession creates a session with the given options.
func NewSession(opts ...options.WithOption) (*Session, error) {
	parsedOptions := options.Defaults()
	for _, option := range opts {
		err := option(parsedOptions)
		if err != nil {
			return nil, err
		}
	}
	if parsedOptions.CacheDir == "" {
		parsedOptions.CacheDir = filepath.Join(parsedOptions.WorkDir, "cache")
	}

	session := &Session{
		separatorExporters: map[string]*exports.SeparatorExporter{},
		spectralExporters:  map[string]*exports.SpectralExporter{},
		ensembleExporters:  map[string]*exports.EnsembleExporter{},
		environments:       map[string]*pyenv.Env{},
		options:            parsedOptions,
	}
	return session, nil
}

type exporterMap[T exports.Exporter] map[string]T

// SeparatorConfig is the configuration for a full-waveform separator export.
type SeparatorConfig = exports.ExporterConfig[*exports.SeparatorExporter]

// SpectralConfig is the configuration for a stem sub-network export.
type SpectralConfig = exports.ExporterConfig[*exports.SpectralExporter]

// EnsembleConfig is the configuration for a bagged-ensemble export.
type EnsembleConfig = exports.ExporterConfig[*exports.EnsembleExporter]

// Environment returns the provisioned environment for spec, provisioning it
// on first use. Provisioning is fail-fast: a dependency install failure or a
// numpy major version >= 2 aborts immediately, since a corrupted environment
// invalidates every subsequent export step.
func (s *Session) Environment(ctx context.Context, spec pyenv.Spec) (*pyenv.Env, error) {
	if env, ok := s.environments[spec.Name]; ok {
		return env, nil
	}
	if spec.PythonBin == "" {
		spec.PythonBin = s.options.PythonBin
	}
	if spec.Isolated && spec.Root == "" {
		spec.Root = filepath.Join(s.options.WorkDir, "envs", spec.Name)
	}
	env, err := pyenv.Provision(ctx, spec, s.options.Runner, s.options.Verbose)
	if err != nil {
		return nil, err
	}
	s.environments[spec.Name] = env
	return env, nil
}

// NewExporter creates a new exporter of type T. The initialised exporter is
// returned and stored in the session so that all created exporters can be
// destroyed with session.Destroy() at once.
func NewExporter[T exports.Exporter](ctx context.Context, s *Session, config exports.ExporterConfig[T]) (T, error) {
	var exporter T
	if config.Name == "" {
		return exporter, errors.New("a name for the exporter is required")
	}

	_, getError := GetExporter[T](s, config.Name)
	var notFoundError *exporterNotFoundError
	if getError == nil {
		return exporter, fmt.Errorf("exporter %s has already been initialised", config.Name)
	} else if !errors.As(getError, &notFoundError) {
		return exporter, getError
	}

	env, err := s.Environment(ctx, config.Environment)
	if err != nil {
		return exporter, err
	}

	switch any(exporter).(type) {
	case *exports.SeparatorExporter:
		typedConfig := any(config).(exports.ExporterConfig[*exports.SeparatorExporter])
		initialised, initErr := exports.NewSeparatorExporter(typedConfig, s.options, env)
		if initErr != nil {
			return exporter, initErr
		}
		s.separatorExporters[config.Name] = initialised
		exporter = any(initialised).(T)
	case *exports.SpectralExporter:
		typedConfig := any(config).(exports.ExporterConfig[*exports.SpectralExporter])
		initialised, initErr := exports.NewSpectralExporter(typedConfig, s.options, env)
		if initErr != nil {
			return exporter, initErr
		}
		s.spectralExporters[config.Name] = initialised
		exporter = any(initialised).(T)
	case *exports.EnsembleExporter:
		typedConfig := any(config).(exports.ExporterConfig[*exports.EnsembleExporter])
		initialised, initErr := exports.NewEnsembleExporter(typedConfig, s.options, env)
		if initErr != nil {
			return exporter, initErr
		}
		s.ensembleExporters[config.Name] = initialised
		exporter = any(initialised).(T)
	default:
		return exporter, fmt.Errorf("exporter type not supported: %T", exporter)
	}
	return exporter, nil
}

// GetExporter retrieves an exporter of type T with the given name from the
// session.
func GetExporter[T exports.Exporter](s *Session, name string) (T, error) {
	var exporter T
	switch any(exporter).(type) {
	case *exports.SeparatorExporter:
		e, ok := s.separatorExporters[name]
		if !ok {
			return exporter, &exporterNotFoundError{exporterName: name}
		}
		return any(e).(T), nil
	case *exports.SpectralExporter:
		e, ok := s.spectralExporters[name]
		if !ok {
			return exporter, &exporterNotFoundError{exporterName: name}
		}
		return any(e).(T), nil
	case *exports.EnsembleExporter:
		e, ok := s.ensembleExporters[name]
		if !ok {
			return exporter, &exporterNotFoundError{exporterName: name}
		}
		return any(e).(T), nil
	default:
		return exporter, errors.New("exporter type not supported")
	}
}

// NewShapeProbe creates a shape-inspection probe for a stem sub-network,
// provisioning the OpenUnmix environment on first use. The probe is
// exploratory tooling and is not stored in the session.
func (s *Session) NewShapeProbe(ctx context.Context, model exports.ModelSpec, candidates []exports.Shape) (*exports.ShapeProbe, error) {
	env, err := s.Environment(ctx, exports.OpenUnmixEnvironment())
	if err != nil {
		return nil, err
	}
	return exports.NewShapeProbe(model, candidates, s.options, env), nil
}

type exporterNotFoundError struct {
	exporterName string
}

func (e *exporterNotFoundError) Error() string {
	return fmt.Sprintf("Exporter with name %s not found", e.exporterName)
}

// Destroy deletes the session's exporters, provisioned venvs and scratch
// space. A session should be destroyed when not needed any more, preferably
// with a defer() call.
func (s *Session) Destroy() error {
	var err error
	if !s.options.KeepScratch {
		for _, e := range s.separatorExporters {
			err = errors.Join(err, e.Destroy())
		}
		for _, e := range s.spectralExporters {
			err = errors.Join(err, e.Destroy())
		}
		for _, e := range s.ensembleExporters {
			err = errors.Join(err, e.Destroy())
		}
		for _, env := range s.environments {
			err = errors.Join(err, env.Destroy())
		}
	}
	s.separatorExporters = nil
	s.spectralExporters = nil
	s.ensembleExporters = nil
	s.environments = nil

	if s.options != nil {
		err = errors.Join(err, s.options.Destroy())
		s.options = nil
	}
	return err
}

// CacheDir returns the checkpoint cache directory exposed to export drivers
// as TORCH_HOME.
func (s *Session) CacheDir() string {
	return s.options.CacheDir
}

// ensureDir creates dir with default permissions if it does not exist.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, os.ModePerm)
}
