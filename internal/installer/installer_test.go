package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

type fakeRunner struct {
	dir    string
	name   string
	args   []string
	stdout string
	stderr string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, string, error) {
	f.dir, f.name, f.args = dir, name, args
	return f.stdout, f.stderr, f.err
}

func TestDefaults(t *testing.T) {
	in := New(Options{})
	assert.Equal(t, DefaultRuntime, in.runtime)
	assert.Equal(t, DefaultMarker, in.marker)
	assert.Contains(t, strings.Join(in.command, " "), "npm install --production")
}

func TestNeeded_FollowsMarker(t *testing.T) {
	dir := t.TempDir()
	in := New(Options{})
	assert.True(t, in.Needed(dir))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "discord.js"), 0o755))
	assert.False(t, in.Needed(dir))
	assert.True(t, in.Installed(dir))
}

func TestInstall_RunsInWorkerDir(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	in := New(Options{InstallCommand: []string{"sh", "-c", "mkdir -p node_modules/discord.js"}})
	require.NoError(t, in.Install(context.Background(), dir))
	assert.False(t, in.Needed(dir))
}

func TestInstall_NonZeroExitCarriesStderr(t *testing.T) {
	requireUnix(t)
	in := New(Options{InstallCommand: []string{"sh", "-c", "echo 'npm ERR! missing package.json' >&2; exit 1"}})
	err := in.Install(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDependencyInstallFailed))
	assert.Contains(t, err.Error(), "npm ERR! missing package.json")
}

func TestInstall_LaunchFailureHintsRuntime(t *testing.T) {
	fr := &fakeRunner{err: errors.New(`exec: "npm": executable file not found in $PATH`)}
	in := New(Options{Runner: fr})
	err := in.Install(context.Background(), "/work")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDependencyInstallFailed))
	assert.Contains(t, err.Error(), "Is Node.js installed?")
	assert.Equal(t, "/work", fr.dir)
}

func TestRuntimeVersion(t *testing.T) {
	fr := &fakeRunner{stdout: "v20.11.1\n"}
	in := New(Options{Runner: fr})
	v, err := in.RuntimeVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v20.11.1", v)
	assert.Equal(t, "node", fr.name)
	assert.Equal(t, []string{"--version"}, fr.args)

	fr.err = errors.New("not found")
	_, err = in.RuntimeVersion(context.Background())
	assert.ErrorIs(t, err, ErrRuntimeMissing)
}

func TestRuntimeVersion_NonZeroExitCarriesStderr(t *testing.T) {
	requireUnix(t)
	script := filepath.Join(t.TempDir(), "node")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'libnode.so: cannot open shared object file' >&2\nexit 127\n"), 0o755))

	in := New(Options{Runtime: script})
	_, err := in.RuntimeVersion(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRuntimeMissing)
	assert.Contains(t, err.Error(), "exited with code 127")
	assert.Contains(t, err.Error(), "libnode.so: cannot open shared object file")
	assert.NotContains(t, err.Error(), "not found")
}
