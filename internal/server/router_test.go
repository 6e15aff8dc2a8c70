package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/botkeeper"
	"github.com/loykin/botkeeper/internal/botconfig"
	"github.com/loykin/botkeeper/internal/controlapi"
	"github.com/loykin/botkeeper/internal/installer"
	"github.com/loykin/botkeeper/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu sync.Mutex

	startErr   error
	stopErr    error
	restartErr error
	installErr error
	cleanups   int

	status botkeeper.Status
	stats  botkeeper.HostingStats
	logs   string
	cfg    botkeeper.BotConfig
	raw    string
	clear  []string
	events []botkeeper.Event
	proxy  *controlapi.Proxy
	follow []string
}

func (f *fakeBackend) Start(context.Context) error          { return f.startErr }
func (f *fakeBackend) Stop() error                          { return f.stopErr }
func (f *fakeBackend) Restart(context.Context) error        { return f.restartErr }
func (f *fakeBackend) Status() botkeeper.Status             { return f.status }
func (f *fakeBackend) HostingStats() botkeeper.HostingStats { return f.stats }
func (f *fakeBackend) ForceCleanup() {
	f.mu.Lock()
	f.cleanups++
	f.mu.Unlock()
}
func (f *fakeBackend) ReadLogs() (string, error) { return f.logs, nil }
func (f *fakeBackend) ClearLogs() error {
	f.logs = ""
	return nil
}
func (f *fakeBackend) FollowLogs(ctx context.Context, fn func(string)) error {
	for _, l := range f.follow {
		fn(l)
	}
	<-ctx.Done()
	return ctx.Err()
}
func (f *fakeBackend) SaveConfig(cfg botkeeper.BotConfig) error {
	f.cfg = cfg
	return nil
}
func (f *fakeBackend) LoadConfig() (botkeeper.BotConfig, error) { return f.cfg, nil }
func (f *fakeBackend) SaveStatusConfig(raw string) error {
	if !json.Valid([]byte(raw)) {
		return fmt.Errorf("%w: status config", botconfig.ErrInvalidJSON)
	}
	f.raw = raw
	return nil
}
func (f *fakeBackend) ConfigLocation() string          { return "/home/u/Documents/Nexus Discord Tool" }
func (f *fakeBackend) ClearAllData() ([]string, error) { return f.clear, nil }
func (f *fakeBackend) SetupStatus(context.Context) botkeeper.SetupStatus {
	return botkeeper.SetupStatus{NodeInstalled: true, NodeVersion: "v20.0.0"}
}
func (f *fakeBackend) InstallDependencies(context.Context) error { return f.installErr }
func (f *fakeBackend) NodeVersion(context.Context) (string, error) {
	return "", installer.ErrRuntimeMissing
}
func (f *fakeBackend) History(_ context.Context, limit int) ([]botkeeper.Event, error) {
	if limit > 0 && limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}
func (f *fakeBackend) Resources() []botkeeper.Sample { return nil }
func (f *fakeBackend) Proxy() *controlapi.Proxy      { return f.proxy }

func setupRouter(t *testing.T, base string, f *fakeBackend) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if f.proxy == nil {
		f.proxy = controlapi.New("http://127.0.0.1:1", nil)
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "botkeeper_worker_running 0\n")
	})
	return NewRouter(f, base, metrics, nil).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestLifecycleStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"already running", supervisor.ErrAlreadyRunning, http.StatusConflict},
		{"token missing", supervisor.ErrTokenMissing, http.StatusPreconditionFailed},
		{"config not saved", supervisor.ErrConfigNotSaved, http.StatusPreconditionFailed},
		{"files missing", supervisor.ErrWorkerFilesMissing, http.StatusPreconditionFailed},
		{"spawn failed", fmt.Errorf("%w: exec: not found. Is Node.js installed?", supervisor.ErrSpawnFailed), http.StatusInternalServerError},
		{"install failed", fmt.Errorf("%w: npm ERR!", installer.ErrDependencyInstallFailed), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := setupRouter(t, "/api", &fakeBackend{startErr: tc.err})
			rec := doReq(t, h, http.MethodPost, "/api/bot/start", nil)
			assert.Equal(t, tc.want, rec.Code)
			m := decode(t, rec)
			if tc.err == nil {
				assert.Equal(t, "Bot started", m["message"])
			} else {
				assert.Equal(t, tc.err.Error(), m["error"])
			}
		})
	}
}

func TestStopAndRestart(t *testing.T) {
	h := setupRouter(t, "", &fakeBackend{stopErr: supervisor.ErrNotRunning})
	rec := doReq(t, h, http.MethodPost, "/bot/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	h = setupRouter(t, "", &fakeBackend{})
	rec = doReq(t, h, http.MethodPost, "/bot/restart", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bot restarted", decode(t, rec)["message"])
}

func TestCleanupAlwaysSucceeds(t *testing.T) {
	f := &fakeBackend{}
	h := setupRouter(t, "/api", f)
	rec := doReq(t, h, http.MethodPost, "/api/bot/cleanup", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Cleanup completed", decode(t, rec)["message"])
	assert.Equal(t, 1, f.cleanups)
}

func TestStatusOmitsPIDWhenIdle(t *testing.T) {
	h := setupRouter(t, "/api", &fakeBackend{})
	rec := doReq(t, h, http.MethodGet, "/api/bot/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"running":false}`, rec.Body.String())

	pid, up := 4242, uint64(61)
	h = setupRouter(t, "/api", &fakeBackend{status: botkeeper.Status{Running: true, PID: &pid, Uptime: &up}})
	rec = doReq(t, h, http.MethodGet, "/api/bot/status", nil)
	assert.JSONEq(t, `{"running":true,"pid":4242,"uptime":61}`, rec.Body.String())

	rec = doReq(t, h, http.MethodGet, "/api/bot/resources", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestStatsKeepUptimeFields(t *testing.T) {
	h := setupRouter(t, "/api", &fakeBackend{stats: botkeeper.HostingStats{Uptime: "0s"}})
	rec := doReq(t, h, http.MethodGet, "/api/bot/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"running":false,"uptime":"0s","uptime_seconds":0}`, rec.Body.String())

	h = setupRouter(t, "/api", &fakeBackend{stats: botkeeper.HostingStats{Running: true, Uptime: "0s", StartTime: "14.11.2023 23:13"}})
	rec = doReq(t, h, http.MethodGet, "/api/bot/stats", nil)
	assert.JSONEq(t, `{"running":true,"uptime":"0s","uptime_seconds":0,"start_time":"14.11.2023 23:13"}`, rec.Body.String())
}

func TestLogsReadAndClear(t *testing.T) {
	f := &fakeBackend{logs: "a\nb"}
	h := setupRouter(t, "/api", f)
	rec := doReq(t, h, http.MethodGet, "/api/logs", nil)
	assert.Equal(t, "a\nb", decode(t, rec)["logs"])

	rec = doReq(t, h, http.MethodDelete, "/api/logs", nil)
	assert.Equal(t, "Logs cleared", decode(t, rec)["message"])
	assert.Empty(t, f.logs)
}

func TestConfigRoundTrip(t *testing.T) {
	f := &fakeBackend{}
	h := setupRouter(t, "/api", f)

	rec := doReq(t, h, http.MethodPut, "/api/config", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, h, http.MethodPut, "/api/config", map[string]string{"token": "t", "client_id": "1", "guild_id": "2", "prefix": "?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Configuration saved", decode(t, rec)["message"])

	rec = doReq(t, h, http.MethodGet, "/api/config", nil)
	assert.JSONEq(t, `{"token":"t","client_id":"1","guild_id":"2","prefix":"?"}`, rec.Body.String())

	rec = doReq(t, h, http.MethodGet, "/api/config/location", nil)
	assert.Equal(t, "/home/u/Documents/Nexus Discord Tool", decode(t, rec)["location"])
}

func TestStatusConfig(t *testing.T) {
	f := &fakeBackend{}
	h := setupRouter(t, "/api", f)
	rec := doReq(t, h, http.MethodPut, "/api/status-config", `{"rotate":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"rotate":true}`, f.raw)

	rec = doReq(t, h, http.MethodPut, "/api/status-config", `{"rotate":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearData(t *testing.T) {
	h := setupRouter(t, "/api", &fakeBackend{})
	rec := doReq(t, h, http.MethodDelete, "/api/data", nil)
	assert.Equal(t, "No data to delete found", decode(t, rec)["message"])

	h = setupRouter(t, "/api", &fakeBackend{clear: []string{"app config", "logs"}})
	rec = doReq(t, h, http.MethodDelete, "/api/data", nil)
	assert.Equal(t, "Deleted: app config, logs", decode(t, rec)["message"])
}

func TestSetupAndInstall(t *testing.T) {
	h := setupRouter(t, "/api", &fakeBackend{installErr: botkeeper.ErrWorkerManifestMissing})
	rec := doReq(t, h, http.MethodGet, "/api/setup", nil)
	m := decode(t, rec)
	assert.Equal(t, true, m["node_installed"])
	assert.Equal(t, false, m["ready"])

	rec = doReq(t, h, http.MethodPost, "/api/setup/install", nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = doReq(t, h, http.MethodGet, "/api/node", nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestHistoryLimit(t *testing.T) {
	f := &fakeBackend{events: []botkeeper.Event{
		{Type: "stop", OccurredAt: time.Unix(20, 0).UTC(), PID: 2},
		{Type: "start", OccurredAt: time.Unix(10, 0).UTC(), PID: 2},
	}}
	h := setupRouter(t, "/api", f)
	rec := doReq(t, h, http.MethodGet, "/api/history?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, h, http.MethodGet, "/api/history?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var evs []botkeeper.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	require.Len(t, evs, 1)
	assert.EqualValues(t, "stop", evs[0].Type)
}

func TestMetricsOutsideBasePath(t *testing.T) {
	h := setupRouter(t, "/api", &fakeBackend{})
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "botkeeper_worker_running")
}

func TestWorkerProxy(t *testing.T) {
	var mu sync.Mutex
	var lastBody string
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		lastBody = string(b)
		mu.Unlock()
		switch r.URL.Path {
		case "/ping":
			_, _ = io.WriteString(w, `{"ok":true}`)
		case "/data":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = io.WriteString(w, `{"success":true}`)
		}
	}))
	defer worker.Close()

	f := &fakeBackend{proxy: controlapi.New(worker.URL, nil)}
	h := setupRouter(t, "/api", f)

	rec := doReq(t, h, http.MethodGet, "/api/worker/ping", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = doReq(t, h, http.MethodGet, "/api/worker/data", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/api/worker/action", `{"action":"kick","params":{"user":"1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	mu.Lock()
	assert.JSONEq(t, `{"action":"kick","params":{"user":"1"}}`, lastBody)
	mu.Unlock()

	rec = doReq(t, h, http.MethodPost, "/api/worker/action", `{"action":"say","params":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	mu.Lock()
	assert.JSONEq(t, `{"action":"say","params":"hello"}`, lastBody)
	mu.Unlock()

	rec = doReq(t, h, http.MethodPost, "/api/worker/action", `{"action":"../x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/api/worker/switch-server", `{"guild_id":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/api/worker/switch-server", `{"guild_id":"123456789012345678"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	mu.Lock()
	assert.JSONEq(t, `{"guildId":"123456789012345678"}`, lastBody)
	mu.Unlock()

	rec = doReq(t, h, http.MethodPost, "/api/worker/quick-action", `{"action":"ban","target":"42","value":"spam"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	mu.Lock()
	assert.JSONEq(t, `{"action":"ban","target":"42","value":"spam"}`, lastBody)
	mu.Unlock()

	rec = doReq(t, h, http.MethodPost, "/api/worker/control", `{"command":"reload"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWorkerProxyUnreachable(t *testing.T) {
	worker := httptest.NewServer(http.NotFoundHandler())
	url := worker.URL
	worker.Close()

	h := setupRouter(t, "/api", &fakeBackend{proxy: controlapi.New(url, nil)})
	rec := doReq(t, h, http.MethodGet, "/api/worker/status", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, controlapi.ErrAPIUnreachable.Error(), decode(t, rec)["error"])
}

func TestLogStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := &fakeBackend{follow: []string{"hello", "world"}, proxy: controlapi.New("http://127.0.0.1:1", nil)}
	srv := httptest.NewServer(NewRouter(f, "/api", nil, nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/logs/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var got []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() && len(got) < 2 {
		if line, ok := strings.CutPrefix(sc.Text(), "data:"); ok {
			got = append(got, line)
		}
	}
	cancel()
	assert.Equal(t, []string{"hello", "world"}, got)
}
