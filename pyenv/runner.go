package pyenv

import (
	"context"
	"io"
	"os/exec"
)

// Runner executes external commands. The default implementation shells out
// with exec.CommandContext; tests substitute a recording fake.
type Runner interface {
	// Run executes name with args in dir, streaming output to stdout and
	// stderr. env entries of the form KEY=VALUE are appended to the parent
	// process environment. A non-zero exit status is returned as an error.
	Run(ctx context.Context, dir string, env []string, stdout, stderr io.Writer, name string, args ...string) error
}

type execRunner struct{}

// NewRunner returns a Runner backed by os/exec.
func NewRunner() Runner {
	return &execRunner{}
}

func (r *execRunner) Run(ctx context.Context, dir string, env []string, stdout, stderr io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	return cmd.Run()
}
