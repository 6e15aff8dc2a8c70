package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is where "botkeeper serve" listens by default.
	DefaultBaseURL = "http://127.0.0.1:47900/api"
	// DefaultTimeout bounds quick commands.
	DefaultTimeout = 10 * time.Second
	// DefaultLongTimeout bounds commands that may run a dependency install.
	DefaultLongTimeout = 10 * time.Minute
)

// APIError is a non-200 answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("API error: %s", e.Message) }

// Client provides HTTP client functionality to communicate with the botkeeper daemon
type Client struct {
	baseURL     string
	timeout     time.Duration
	longTimeout time.Duration
	client      *http.Client
	logger      *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	LongTimeout time.Duration
	Logger      *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Timeout:     DefaultTimeout,
		LongTimeout: DefaultLongTimeout,
	}
}

// New creates a new botkeeper API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.LongTimeout == 0 {
		config.LongTimeout = DefaultLongTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		timeout:     config.Timeout,
		longTimeout: config.LongTimeout,
		logger:      config.Logger,
		client:      &http.Client{Transport: &http.Transport{}},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bot/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Lifecycle

func (c *Client) Start(ctx context.Context) (string, error) {
	return c.message(ctx, http.MethodPost, "/bot/start", c.longTimeout)
}

func (c *Client) Stop(ctx context.Context) (string, error) {
	return c.message(ctx, http.MethodPost, "/bot/stop", c.timeout)
}

func (c *Client) Restart(ctx context.Context) (string, error) {
	return c.message(ctx, http.MethodPost, "/bot/restart", c.longTimeout)
}

func (c *Client) Cleanup(ctx context.Context) (string, error) {
	return c.message(ctx, http.MethodPost, "/bot/cleanup", c.timeout)
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/bot/status", nil, &st, c.timeout)
	return st, err
}

func (c *Client) Stats(ctx context.Context) (HostingStats, error) {
	var st HostingStats
	err := c.do(ctx, http.MethodGet, "/bot/stats", nil, &st, c.timeout)
	return st, err
}

// Resources returns the sampled worker resource usage as raw JSON.
func (c *Client) Resources(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/bot/resources", nil, &raw, c.timeout)
	return raw, err
}

// Logs

func (c *Client) Logs(ctx context.Context) (string, error) {
	var out struct {
		Logs string `json:"logs"`
	}
	err := c.do(ctx, http.MethodGet, "/logs", nil, &out, c.timeout)
	return out.Logs, err
}

func (c *Client) ClearLogs(ctx context.Context) (string, error) {
	return c.message(ctx, http.MethodDelete, "/logs", c.timeout)
}

// FollowLogs calls fn for each line the daemon streams until ctx ends or the
// stream closes.
func (c *Client) FollowLogs(ctx context.Context, fn func(line string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/logs/stream", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}

	event := ""
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line, "data:")
			if event == "error" {
				return &APIError{Status: http.StatusOK, Message: data}
			}
			fn(data)
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Configuration

func (c *Client) GetConfig(ctx context.Context) (BotConfig, error) {
	var cfg BotConfig
	err := c.do(ctx, http.MethodGet, "/config", nil, &cfg, c.timeout)
	return cfg, err
}

func (c *Client) SetConfig(ctx context.Context, cfg BotConfig) (string, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPut, "/config", cfg, &out, c.timeout)
	return out.Message, err
}

// SetStatusConfig stores raw as the worker's status configuration. raw must
// be valid JSON.
func (c *Client) SetStatusConfig(ctx context.Context, raw string) (string, error) {
	var out MessageResponse
	err := c.do(ctx, http.MethodPut, "/status-config", json.RawMessage(raw), &out, c.timeout)
	return out.Message, err
}

func (c *Client) ConfigLocation(ctx context.Context) (string, error) {
	var out struct {
		Location string `json:"location"`
	}
	err := c.do(ctx, http.MethodGet, "/config/location", nil, &out, c.timeout)
	return out.Location, err
}

func (c *Client) ClearData(ctx context.Context) (ClearResult, error) {
	var out ClearResult
	err := c.do(ctx, http.MethodDelete, "/data", nil, &out, c.timeout)
	return out, err
}

// Setup

func (c *Client) Setup(ctx context.Context) (SetupStatus, error) {
	var st SetupStatus
	err := c.do(ctx, http.MethodGet, "/setup", nil, &st, c.timeout)
	return st, err
}

func (c *Client) Install(ctx context.Context) (string, error) {
	return c.message(ctx, http.MethodPost, "/setup/install", c.longTimeout)
}

func (c *Client) NodeVersion(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	err := c.do(ctx, http.MethodGet, "/node", nil, &out, c.timeout)
	return out.Version, err
}

// History returns up to limit lifecycle events, newest first. limit <= 0
// uses the daemon default.
func (c *Client) History(ctx context.Context, limit int) ([]Event, error) {
	path := "/history"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var evs []Event
	err := c.do(ctx, http.MethodGet, path, nil, &evs, c.timeout)
	return evs, err
}

// Worker proxy

// WorkerQuery runs one of the read-only worker calls: ping, status, data or
// servers. The worker's JSON answer is returned unchanged.
func (c *Client) WorkerQuery(ctx context.Context, op string) (json.RawMessage, error) {
	switch op {
	case "ping", "status", "data", "servers":
	default:
		return nil, fmt.Errorf("unknown worker query %q", op)
	}
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/worker/"+op, nil, &raw, c.timeout)
	return raw, err
}

func (c *Client) SwitchServer(ctx context.Context, guildID string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/worker/switch-server", map[string]string{"guild_id": guildID}, &raw, c.timeout)
	return raw, err
}

func (c *Client) Action(ctx context.Context, req ActionRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/worker/action", req, &raw, c.timeout)
	return raw, err
}

func (c *Client) Control(ctx context.Context, command string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/worker/control", map[string]string{"command": command}, &raw, c.timeout)
	return raw, err
}

func (c *Client) QuickAction(ctx context.Context, req QuickActionRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/worker/quick-action", req, &raw, c.timeout)
	return raw, err
}

func (c *Client) message(ctx context.Context, method, path string, timeout time.Duration) (string, error) {
	var out MessageResponse
	err := c.do(ctx, method, path, nil, &out, timeout)
	return out.Message, err
}

// do performs one request. in is marshaled as the JSON body when non-nil;
// a 200 answer is decoded into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: errorResp.Error}
}
