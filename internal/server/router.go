package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/botkeeper"
	"github.com/loykin/botkeeper/internal/botconfig"
	"github.com/loykin/botkeeper/internal/controlapi"
	"github.com/loykin/botkeeper/internal/installer"
	"github.com/loykin/botkeeper/internal/supervisor"
)

// Backend is the command surface the router exposes. *botkeeper.Host
// implements it.
type Backend interface {
	Start(ctx context.Context) error
	Stop() error
	Restart(ctx context.Context) error
	Status() botkeeper.Status
	HostingStats() botkeeper.HostingStats
	ForceCleanup()

	ReadLogs() (string, error)
	ClearLogs() error
	FollowLogs(ctx context.Context, fn func(line string)) error

	SaveConfig(cfg botkeeper.BotConfig) error
	LoadConfig() (botkeeper.BotConfig, error)
	SaveStatusConfig(raw string) error
	ConfigLocation() string
	ClearAllData() ([]string, error)

	SetupStatus(ctx context.Context) botkeeper.SetupStatus
	InstallDependencies(ctx context.Context) error
	NodeVersion(ctx context.Context) (string, error)

	History(ctx context.Context, limit int) ([]botkeeper.Event, error)
	Resources() []botkeeper.Sample
	Proxy() *controlapi.Proxy
}

// Router serves the daemon API. Endpoints, relative to basePath:
//
//	POST   /bot/start | /bot/stop | /bot/restart | /bot/cleanup
//	GET    /bot/status | /bot/stats | /bot/resources
//	GET    /logs            DELETE /logs          GET /logs/stream (SSE)
//	GET    /config          PUT /config           PUT /status-config
//	GET    /config/location DELETE /data
//	GET    /setup           POST /setup/install   GET /node
//	GET    /history?limit=N
//	GET    /worker/{ping,status,data,servers}
//	POST   /worker/{switch-server,action,control,quick-action}
//
// /metrics is mounted at the root, outside basePath.
type Router struct {
	b        Backend
	basePath string
	metrics  http.Handler
	logger   *slog.Logger
}

// NewRouter constructs a Router. metrics may be nil to omit /metrics.
func NewRouter(b Backend, basePath string, metrics http.Handler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{b: b, basePath: sanitizeBase(basePath), metrics: metrics, logger: logger}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.requestLog)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	group := g.Group(r.basePath)

	bot := group.Group("/bot")
	bot.POST("/start", r.handleStart)
	bot.POST("/stop", r.handleStop)
	bot.POST("/restart", r.handleRestart)
	bot.POST("/cleanup", r.handleCleanup)
	bot.GET("/status", r.handleStatus)
	bot.GET("/stats", r.handleStats)
	bot.GET("/resources", r.handleResources)

	group.GET("/logs", r.handleReadLogs)
	group.DELETE("/logs", r.handleClearLogs)
	group.GET("/logs/stream", r.handleStreamLogs)

	group.GET("/config", r.handleLoadConfig)
	group.PUT("/config", r.handleSaveConfig)
	group.GET("/config/location", r.handleConfigLocation)
	group.PUT("/status-config", r.handleSaveStatusConfig)
	group.DELETE("/data", r.handleClearData)

	group.GET("/setup", r.handleSetup)
	group.POST("/setup/install", r.handleInstall)
	group.GET("/node", r.handleNode)
	group.GET("/history", r.handleHistory)

	w := group.Group("/worker")
	w.GET("/ping", r.proxyGet((*controlapi.Proxy).Ping))
	w.GET("/status", r.proxyGet((*controlapi.Proxy).Status))
	w.GET("/data", r.proxyGet((*controlapi.Proxy).Data))
	w.GET("/servers", r.proxyGet((*controlapi.Proxy).Servers))
	w.POST("/switch-server", r.handleSwitchServer)
	w.POST("/action", r.handleAction)
	w.POST("/control", r.handleControl)
	w.POST("/quick-action", r.handleQuickAction)
	return g
}

// NewServer builds an HTTP server for this router. The caller runs it.
func NewServer(addr, basePath string, b Backend, metrics http.Handler, logger *slog.Logger) *http.Server {
	r := NewRouter(b, basePath, metrics, logger)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// start and install may run a full npm install
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Responses ---

type errorResp struct {
	Error string `json:"error"`
}

type messageResp struct {
	Message string `json:"message"`
}

type logsResp struct {
	Logs string `json:"logs"`
}

type locationResp struct {
	Location string `json:"location"`
}

type versionResp struct {
	Version string `json:"version"`
}

type clearResp struct {
	Message string   `json:"message"`
	Deleted []string `json:"deleted"`
}

// --- Lifecycle ---

func (r *Router) handleStart(c *gin.Context) {
	if err := r.b.Start(c.Request.Context()); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Bot started"})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.b.Stop(); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Bot stopped"})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.b.Restart(c.Request.Context()); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Bot restarted"})
}

func (r *Router) handleCleanup(c *gin.Context) {
	r.b.ForceCleanup()
	writeJSON(c, http.StatusOK, messageResp{Message: "Cleanup completed"})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.b.Status())
}

func (r *Router) handleStats(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.b.HostingStats())
}

func (r *Router) handleResources(c *gin.Context) {
	samples := r.b.Resources()
	if samples == nil {
		samples = []botkeeper.Sample{}
	}
	writeJSON(c, http.StatusOK, samples)
}

// --- Logs ---

func (r *Router) handleReadLogs(c *gin.Context) {
	logs, err := r.b.ReadLogs()
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, logsResp{Logs: logs})
}

func (r *Router) handleClearLogs(c *gin.Context) {
	if err := r.b.ClearLogs(); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Logs cleared"})
}

// handleStreamLogs pushes appended log lines as server-sent "line" events
// until the client goes away.
func (r *Router) handleStreamLogs(c *gin.Context) {
	ctx := c.Request.Context()
	lines := make(chan string, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- r.b.FollowLogs(ctx, func(line string) {
			select {
			case lines <- line:
			case <-ctx.Done():
			}
		})
	}()
	c.Header("Cache-Control", "no-cache")
	c.Stream(func(_ io.Writer) bool {
		select {
		case line := <-lines:
			c.SSEvent("line", line)
			return true
		case err := <-errc:
			if err != nil && !errors.Is(err, context.Canceled) {
				c.SSEvent("error", err.Error())
			}
			return false
		case <-ctx.Done():
			return false
		}
	})
}

// --- Configuration ---

func (r *Router) handleLoadConfig(c *gin.Context) {
	cfg, err := r.b.LoadConfig()
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, cfg)
}

func (r *Router) handleSaveConfig(c *gin.Context) {
	var cfg botkeeper.BotConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.b.SaveConfig(cfg); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Configuration saved"})
}

func (r *Router) handleSaveStatusConfig(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err := r.b.SaveStatusConfig(string(raw)); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Status config saved"})
}

func (r *Router) handleConfigLocation(c *gin.Context) {
	writeJSON(c, http.StatusOK, locationResp{Location: r.b.ConfigLocation()})
}

func (r *Router) handleClearData(c *gin.Context) {
	deleted, err := r.b.ClearAllData()
	if err != nil {
		r.fail(c, err)
		return
	}
	if len(deleted) == 0 {
		writeJSON(c, http.StatusOK, clearResp{Message: "No data to delete found", Deleted: []string{}})
		return
	}
	writeJSON(c, http.StatusOK, clearResp{Message: "Deleted: " + strings.Join(deleted, ", "), Deleted: deleted})
}

// --- Setup ---

func (r *Router) handleSetup(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.b.SetupStatus(c.Request.Context()))
}

func (r *Router) handleInstall(c *gin.Context) {
	if err := r.b.InstallDependencies(c.Request.Context()); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, messageResp{Message: "Dependencies installed successfully"})
}

func (r *Router) handleNode(c *gin.Context) {
	v, err := r.b.NodeVersion(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, versionResp{Version: v})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = n
	}
	evs, err := r.b.History(c.Request.Context(), limit)
	if err != nil {
		r.fail(c, err)
		return
	}
	if evs == nil {
		evs = []botkeeper.Event{}
	}
	writeJSON(c, http.StatusOK, evs)
}

// --- Worker proxy ---

type switchServerReq struct {
	GuildID string `json:"guild_id"`
}

type actionReq struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

type controlReq struct {
	Command string `json:"command"`
}

type quickActionReq struct {
	Action string `json:"action"`
	Target string `json:"target"`
	Value  string `json:"value"`
}

func (r *Router) proxyGet(call func(*controlapi.Proxy, context.Context) (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := call(r.b.Proxy(), c.Request.Context())
		r.passThrough(c, body, err)
	}
}

func (r *Router) handleSwitchServer(c *gin.Context) {
	var req switchServerReq
	if err := c.ShouldBindJSON(&req); err != nil || !isSnowflake(req.GuildID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "guild_id required"})
		return
	}
	body, err := r.b.Proxy().SwitchServer(c.Request.Context(), req.GuildID)
	r.passThrough(c, body, err)
}

func (r *Router) handleAction(c *gin.Context) {
	var req actionReq
	if err := c.ShouldBindJSON(&req); err != nil || !isSafeName(req.Action) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "action required: allowed [A-Za-z0-9._-]"})
		return
	}
	params := strings.TrimSpace(string(req.Params))
	// a JSON string is forwarded as its contents
	var s string
	if err := json.Unmarshal(req.Params, &s); err == nil {
		params = s
	}
	body, err := r.b.Proxy().Action(c.Request.Context(), req.Action, params)
	r.passThrough(c, body, err)
}

func (r *Router) handleControl(c *gin.Context) {
	var req controlReq
	if err := c.ShouldBindJSON(&req); err != nil || !isSafeName(req.Command) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required: allowed [A-Za-z0-9._-]"})
		return
	}
	body, err := r.b.Proxy().Control(c.Request.Context(), req.Command)
	r.passThrough(c, body, err)
}

func (r *Router) handleQuickAction(c *gin.Context) {
	var req quickActionReq
	if err := c.ShouldBindJSON(&req); err != nil || !isSafeName(req.Action) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "action required: allowed [A-Za-z0-9._-]"})
		return
	}
	body, err := r.b.Proxy().QuickAction(c.Request.Context(), req.Action, req.Target, req.Value)
	r.passThrough(c, body, err)
}

func (r *Router) passThrough(c *gin.Context, body string, err error) {
	if err != nil {
		r.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(body))
}

// --- Errors ---

// statusFor maps a command error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrWorkerFilesMissing),
		errors.Is(err, supervisor.ErrConfigNotSaved),
		errors.Is(err, supervisor.ErrTokenMissing),
		errors.Is(err, botkeeper.ErrWorkerManifestMissing),
		errors.Is(err, installer.ErrRuntimeMissing):
		return http.StatusPreconditionFailed
	case errors.Is(err, botconfig.ErrInvalidJSON):
		return http.StatusBadRequest
	case errors.Is(err, controlapi.ErrAPIUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, controlapi.ErrWorkerNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		r.logger.Warn("request failed", "path", c.FullPath(), "error", err)
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}

func (r *Router) requestLog(c *gin.Context) {
	began := time.Now()
	c.Next()
	r.logger.Debug("request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"elapsed", time.Since(began))
}
