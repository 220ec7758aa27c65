// Package pyenv provisions the Python environments that host the ML tooling
// (torch, coremltools, openunmix, demucs). An environment is either the
// invoking interpreter's own site-packages or an isolated venv; isolation is
// required when two separation libraries carry incompatible dependency trees.
package pyenv

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Requirement is a single pip requirement with an optional version constraint,
// e.g. {Name: "numpy", Constraint: "<2"} or {Name: "torch", Constraint: "==2.4.0"}.
type Requirement struct {
	Name       string
	Constraint string
}

// PipSpec returns the requirement in pip requirement-specifier form.
func (r Requirement) PipSpec() string {
	return r.Name + r.Constraint
}

// Step is one pip install invocation. Requirements in a step are installed
// together; steps run strictly in declared order, so version-sensitive
// packages (numpy before torch) can be sequenced the way the upstream
// tooling expects.
type Step struct {
	Requirements []Requirement
	// IndexURL overrides the package index for this step, e.g. the CPU-only
	// torch wheel index.
	IndexURL string
}

// Spec describes a target environment.
type Spec struct {
	// Name identifies the environment within a session.
	Name string
	// PythonBin is the interpreter used to create or address the
	// environment. Defaults to python3.
	PythonBin string
	// Root is the venv directory. Required when Isolated is true.
	Root string
	// Isolated creates a fresh venv at Root instead of installing into the
	// invoking interpreter's environment.
	Isolated bool
	Steps    []Step
}

// Env is a provisioned environment: an interpreter path whose site-packages
// satisfy the Spec it was built from, with the numpy major version verified.
type Env struct {
	name     string
	python   string
	root     string
	isolated bool
	runner   Runner
	verbose  bool
}

// Provision builds the environment described by spec and enforces the numpy
// version contract. Any install failure or a numpy major version >= 2 aborts
// with an error: a corrupted environment invalidates every downstream step,
// so nothing is retried.
func Provision(ctx context.Context, spec Spec, runner Runner, verbose bool) (*Env, error) {
	if runner == nil {
		runner = NewRunner()
	}
	python := spec.PythonBin
	if python == "" {
		python = "python3"
	}

	env := &Env{
		name:     spec.Name,
		python:   python,
		root:     spec.Root,
		isolated: spec.Isolated,
		runner:   runner,
		verbose:  verbose,
	}

	if spec.Isolated {
		if spec.Root == "" {
			return nil, fmt.Errorf("environment %s: isolated environments need a root directory", spec.Name)
		}
		if verbose {
			fmt.Printf("Creating venv at %s\n", spec.Root)
		}
		if err := runner.Run(ctx, "", nil, os.Stdout, os.Stderr, python, "-m", "venv", spec.Root); err != nil {
			return nil, fmt.Errorf("environment %s: creating venv: %w", spec.Name, err)
		}
		env.python = venvPython(spec.Root)
		if err := runner.Run(ctx, "", nil, os.Stdout, os.Stderr, env.python, "-m", "pip", "install", "--upgrade", "pip"); err != nil {
			return nil, fmt.Errorf("environment %s: upgrading pip: %w", spec.Name, err)
		}
	}

	for _, step := range spec.Steps {
		args := installArgs(step)
		if verbose {
			fmt.Printf("pip %s\n", strings.Join(args[1:], " "))
		}
		if err := runner.Run(ctx, "", nil, os.Stdout, os.Stderr, env.python, args...); err != nil {
			return nil, fmt.Errorf("environment %s: installing %s: %w", spec.Name, stepNames(step), err)
		}
	}

	if err := env.CheckNumpy(ctx); err != nil {
		return nil, err
	}
	return env, nil
}

func installArgs(step Step) []string {
	args := []string{"-m", "pip", "install"}
	for _, req := range step.Requirements {
		args = append(args, req.PipSpec())
	}
	if step.IndexURL != "" {
		args = append(args, "--index-url", step.IndexURL)
	}
	return args
}

func stepNames(step Step) string {
	names := make([]string, len(step.Requirements))
	for i, req := range step.Requirements {
		names[i] = req.Name
	}
	return strings.Join(names, ", ")
}

func venvPython(root string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(root, "Scripts", "python.exe")
	}
	return filepath.Join(root, "bin", "python")
}

// Name returns the environment's name within the session.
func (e *Env) Name() string {
	return e.name
}

// Python returns the path of the interpreter addressing this environment.
func (e *Env) Python() string {
	return e.python
}

// CheckNumpy imports numpy inside the environment and rejects any major
// version >= 2. Version skew in the numeric library can silently corrupt
// downstream numeric results, so this is enforced rather than assumed.
func (e *Env) CheckNumpy(ctx context.Context) error {
	out := &bytes.Buffer{}
	err := e.runner.Run(ctx, "", nil, out, os.Stderr, e.python, "-c", "import numpy; print(numpy.__version__)")
	if err != nil {
		return fmt.Errorf("environment %s: importing numpy: %w", e.name, err)
	}
	version := strings.TrimSpace(out.String())
	major, err := ParseMajor(version)
	if err != nil {
		return fmt.Errorf("environment %s: %w", e.name, err)
	}
	if major >= 2 {
		return fmt.Errorf("environment %s: numpy %s is too new, a 1.x release is required", e.name, version)
	}
	if e.verbose {
		fmt.Printf("numpy %s ok\n", version)
	}
	return nil
}

// ParseMajor extracts the major component from a version string like "1.26.4".
func ParseMajor(version string) (int, error) {
	version = strings.TrimSpace(version)
	head, _, _ := strings.Cut(version, ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("cannot parse version %q: %w", version, err)
	}
	return major, nil
}

// RunScript executes a Python script inside the environment, blocking until
// it exits. extraEnv entries are appended to the process environment (e.g.
// TORCH_HOME to point the weight cache somewhere deterministic). The
// subprocess exit status is propagated as the returned error.
func (e *Env) RunScript(ctx context.Context, dir string, script string, extraEnv []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return e.runner.Run(ctx, dir, extraEnv, stdout, stderr, e.python, script)
}

// Destroy removes the venv directory of an isolated environment. Shared
// environments are left untouched.
func (e *Env) Destroy() error {
	if !e.isolated || e.root == "" {
		return nil
	}
	return os.RemoveAll(e.root)
}
