package installer

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/loykin/botkeeper/internal/process"
)

// Runner executes a helper command in dir and captures its output.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (stdout string, stderr string, err error)
}

// ExecRunner runs commands with os/exec, without a console window on Windows.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, string, error) {
	// #nosec G204 -- command line comes from host settings
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	process.HideConsole(cmd)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.String(), errb.String(), err
}
