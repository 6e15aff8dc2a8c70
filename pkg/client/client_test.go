package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

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

type versionRunner struct{}

func (versionRunner) Run(_ context.Context, _ string, _ string, args ...string) (string, string, error) {
	if len(args) == 1 && args[0] == "--version" {
		return "v22.1.0\n", "", nil
	}
	return "", "", nil
}

func newDaemon(t *testing.T) (*Client, *config.Settings) {
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
	// nothing listens here, so worker calls fail fast
	s.Worker.ControlPort = 1
	s.Presence.Enabled = false
	s.Metrics.Enabled = false
	s.History.DSN = ""
	require.NoError(t, os.MkdirAll(s.Worker.Dir, 0o755))

	h, err := botkeeper.New(botkeeper.Options{Settings: s, Reaper: nopReaper{}, Runner: versionRunner{}})
	require.NoError(t, err)
	t.Cleanup(h.Shutdown)

	srv := httptest.NewServer(server.NewRouter(h, "/api", nil, nil).Handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api", Timeout: 5 * time.Second}), s
}

func TestClientAgainstDaemon(t *testing.T) {
	c, s := newDaemon(t)
	ctx := context.Background()

	require.True(t, c.IsReachable(ctx))

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Nil(t, st.PID)

	_, err = c.Stop(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "bot is not running", apiErr.Message)

	_, err = c.Start(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPreconditionFailed, apiErr.Status)

	msg, err := c.SetConfig(ctx, BotConfig{Token: "abc", ClientID: "1", Prefix: "!"})
	require.NoError(t, err)
	assert.Equal(t, "Configuration saved", msg)
	cfg, err := c.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, BotConfig{Token: "abc", ClientID: "1", Prefix: "!"}, cfg)

	loc, err := c.ConfigLocation(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.AppDir, loc)

	setup, err := c.Setup(ctx)
	require.NoError(t, err)
	assert.True(t, setup.NodeInstalled)
	assert.Equal(t, "v22.1.0", setup.NodeVersion)
	assert.True(t, setup.TokenSet)
	assert.False(t, setup.Ready)

	v, err := c.NodeVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v22.1.0", v)

	_, err = c.Install(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPreconditionFailed, apiErr.Status)

	require.NoError(t, os.WriteFile(s.Worker.LogFile, []byte("one\ntwo\n"), 0o644))
	logs, err := c.Logs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", logs)
	msg, err = c.ClearLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Logs cleared", msg)

	msg, err = c.SetStatusConfig(ctx, `{"statuses":["a"]}`)
	require.NoError(t, err)
	assert.Equal(t, "Status config saved", msg)

	msg, err = c.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Cleanup completed", msg)

	evs, err := c.History(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, "cleanup", evs[0].Type)

	res, err := c.ClearData(ctx)
	require.NoError(t, err)
	assert.Contains(t, res.Deleted, "app config")
	assert.Contains(t, res.Deleted, "logs")

	_, err = c.WorkerQuery(ctx, "ping")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)

	_, err = c.WorkerQuery(ctx, "nope")
	assert.Error(t, err)
}

func TestFollowLogsParsesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "event:line\ndata:first\n\nevent:line\ndata:second\n\n")
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	var got []string
	require.NoError(t, c.FollowLogs(context.Background(), func(l string) { got = append(got, l) }))
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestFollowLogsErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "event:error\ndata:watch failed\n\n")
	}))
	defer srv.Close()

	err := New(Config{BaseURL: srv.URL}).FollowLogs(context.Background(), func(string) {})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "watch failed", apiErr.Message)
}

func TestUnreachableDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(Config{BaseURL: base, Timeout: time.Second})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Status(context.Background())
	assert.Error(t, err)
}
