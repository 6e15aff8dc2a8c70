package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/loykin/botkeeper"
	"github.com/loykin/botkeeper/internal/config"
	"github.com/loykin/botkeeper/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopReaper struct{}

func (nopReaper) TerminateTree(int)  {}
func (nopReaper) TerminateGroup(int) {}
func (nopReaper) SweepPort(int)      {}

type nodeRunner struct{}

func (nodeRunner) Run(_ context.Context, _ string, _ string, args ...string) (string, string, error) {
	if len(args) == 1 && args[0] == "--version" {
		return "v18.19.0\n", "", nil
	}
	return "", "", nil
}

func startDaemon(t *testing.T) (string, *config.Settings) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	s := config.Default()
	s.AppDir = dir
	s.Worker.Dir = filepath.Join(dir, "bot")
	s.Worker.LogFile = filepath.Join(s.Worker.Dir, "bot.log")
	s.Worker.PIDFile = filepath.Join(dir, "worker.pid")
	s.Worker.SourceDirs = nil
	s.Worker.Env = nil
	s.Worker.EnvFiles = nil
	s.Worker.ControlPort = 1
	s.Presence.Enabled = false
	s.Metrics.Enabled = false
	s.History.DSN = ""
	require.NoError(t, os.MkdirAll(s.Worker.Dir, 0o755))

	h, err := botkeeper.New(botkeeper.Options{Settings: s, Reaper: nopReaper{}, Runner: nodeRunner{}})
	require.NoError(t, err)
	t.Cleanup(h.Shutdown)
	srv := httptest.NewServer(server.NewRouter(h, "/api", nil, nil).Handler())
	t.Cleanup(srv.Close)
	return srv.URL + "/api", s
}

func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--api-url", url}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestConfigSetMergesFields(t *testing.T) {
	url, s := startDaemon(t)

	out, err := run(t, url, "config", "set", "--token", "abc", "--client-id", "42")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Configuration saved")

	_, err = run(t, url, "config", "set", "--prefix", "?")
	require.NoError(t, err)

	out, err = run(t, url, "config", "get")
	require.NoError(t, err)
	var cfg map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, map[string]string{"token": "abc", "client_id": "42", "guild_id": "", "prefix": "?"}, cfg)

	out, err = run(t, url, "config", "location")
	require.NoError(t, err)
	assert.Equal(t, "\""+s.AppDir+"\"\n", out)
}

func TestConfigStatusFromFile(t *testing.T) {
	url, s := startDaemon(t)
	file := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"interval":30}`), 0o644))

	out, err := run(t, url, "config", "status", "@"+file)
	require.NoError(t, err, out)
	b, err := os.ReadFile(filepath.Join(s.Worker.Dir, "status-config.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"interval":30}`, string(b))

	_, err = run(t, url, "config", "status", "{broken")
	assert.Error(t, err)
}

func TestLifecycleErrorsSurface(t *testing.T) {
	url, _ := startDaemon(t)

	_, err := run(t, url, "stop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot is not running")

	_, err = run(t, url, "start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot files not found")

	out, err := run(t, url, "status")
	require.NoError(t, err)
	assert.JSONEq(t, `{"running":false}`, out)

	out, err = run(t, url, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleanup completed")

	out, err = run(t, url, "history", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "cleanup"`)
}

func TestLogsAndSetup(t *testing.T) {
	url, s := startDaemon(t)
	require.NoError(t, os.WriteFile(s.Worker.LogFile, []byte("Bot online\n"), 0o644))

	out, err := run(t, url, "logs")
	require.NoError(t, err)
	assert.Equal(t, "Bot online\n", out)

	out, err = run(t, url, "logs", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Logs cleared")

	_, err = run(t, url, "logs", "--clear", "--follow")
	assert.Error(t, err)

	out, err = run(t, url, "setup")
	require.NoError(t, err)
	assert.Contains(t, out, `"node_version": "v18.19.0"`)

	out, err = run(t, url, "node-version")
	require.NoError(t, err)
	assert.Equal(t, "\"v18.19.0\"\n", out)

	out, err = run(t, url, "clear-data")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted: logs")
}

func TestWorkerUnreachable(t *testing.T) {
	url, _ := startDaemon(t)
	_, err := run(t, url, "worker", "ping")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bot API not reachable"), err.Error())

	_, err = run(t, url, "worker", "switch-server")
	assert.Error(t, err)
}
