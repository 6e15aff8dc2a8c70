// Package installer checks and installs the worker's runtime dependencies.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	// ErrDependencyInstallFailed is returned when the package manager exits non-zero
	// or cannot be launched.
	ErrDependencyInstallFailed = errors.New("failed to install dependencies")
	// ErrRuntimeMissing is returned when the worker runtime cannot be executed.
	ErrRuntimeMissing = errors.New("node.js not installed, install it from https://nodejs.org")
)

// Options configures the installer. Zero values fall back to the Node.js defaults.
type Options struct {
	Runtime        string   // runtime executable used for the version check
	InstallCommand []string // package manager command line
	Marker         string   // path relative to the worker dir whose presence means "installed"
	Runner         Runner
	Logger         *slog.Logger
}

// DefaultInstallCommand is the production-only npm install for this platform.
func DefaultInstallCommand() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C", "npm", "install", "--production"}
	}
	return []string{"npm", "install", "--production"}
}

const (
	DefaultRuntime = "node"
	DefaultMarker  = "node_modules/discord.js"
)

// Installer runs the package manager synchronously in the worker directory.
type Installer struct {
	runtime string
	command []string
	marker  string
	runner  Runner
	logger  *slog.Logger
}

func New(opts Options) *Installer {
	in := &Installer{
		runtime: opts.Runtime,
		command: opts.InstallCommand,
		marker:  opts.Marker,
		runner:  opts.Runner,
		logger:  opts.Logger,
	}
	if in.runtime == "" {
		in.runtime = DefaultRuntime
	}
	if len(in.command) == 0 {
		in.command = DefaultInstallCommand()
	}
	if in.marker == "" {
		in.marker = DefaultMarker
	}
	if in.runner == nil {
		in.runner = ExecRunner{}
	}
	if in.logger == nil {
		in.logger = slog.Default()
	}
	return in
}

// Installed reports whether the dependency marker exists below dir.
func (in *Installer) Installed(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(in.marker)))
	return err == nil
}

// Needed reports whether Install must run before the worker can start.
func (in *Installer) Needed(dir string) bool { return !in.Installed(dir) }

// Install runs the install command in dir and blocks until it exits.
func (in *Installer) Install(ctx context.Context, dir string) error {
	in.logger.Info("installing worker dependencies", "dir", dir, "command", strings.Join(in.command, " "))
	stdout, stderr, err := in.runner.Run(ctx, dir, in.command[0], in.command[1:]...)
	if err == nil {
		in.logger.Info("worker dependencies installed", "dir", dir)
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("%w: could not run %s: %v. Is Node.js installed?", ErrDependencyInstallFailed, in.command[0], err)
	}
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = strings.TrimSpace(stdout)
	}
	in.logger.Warn("dependency install failed", "dir", dir, "exit_code", exitErr.ExitCode(), "stderr", detail)
	return fmt.Errorf("%w: %s", ErrDependencyInstallFailed, detail)
}

// RuntimeVersion returns the output of "<runtime> --version".
func (in *Installer) RuntimeVersion(ctx context.Context) (string, error) {
	stdout, stderr, err := in.runner.Run(ctx, "", in.runtime, "--version")
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", ErrRuntimeMissing
		}
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = strings.TrimSpace(stdout)
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("%s --version exited with code %d: %s", in.runtime, exitErr.ExitCode(), detail)
	}
	return strings.TrimSpace(stdout), nil
}
