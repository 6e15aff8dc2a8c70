// Package controlapi relays commands to the HTTP endpoint the worker exposes.
//
// Every call is a single attempt on a fresh client with its own timeout. The
// response body is returned verbatim; this package does not interpret it.
package controlapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/loykin/botkeeper/internal/metrics"
)

// DefaultBaseURL is where the worker's control API listens.
const DefaultBaseURL = "http://127.0.0.1:47832"

var (
	ErrAPIUnreachable = errors.New("bot API not reachable")
	ErrWorkerNotReady = errors.New("bot not ready")
)

// Per-operation timeouts.
const (
	PingTimeout   = 1 * time.Second
	StatusTimeout = 2 * time.Second
	QueryTimeout  = 5 * time.Second  // data, servers, switch-server
	ActionTimeout = 10 * time.Second // action, control, quick-action
)

type Proxy struct {
	baseURL string
	logger  *slog.Logger
	// transport is shared so connections can be reused; clients are not.
	transport http.RoundTripper
}

func New(baseURL string, logger *slog.Logger) *Proxy {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{baseURL: strings.TrimRight(baseURL, "/"), logger: logger, transport: http.DefaultTransport}
}

func (p *Proxy) BaseURL() string { return p.baseURL }

func (p *Proxy) Ping(ctx context.Context) (string, error) {
	return p.do(ctx, "ping", http.MethodGet, "/ping", "", PingTimeout)
}

func (p *Proxy) Status(ctx context.Context) (string, error) {
	return p.do(ctx, "status", http.MethodGet, "/status", "", StatusTimeout)
}

// Data fails with ErrWorkerNotReady when the worker answers non-2xx.
func (p *Proxy) Data(ctx context.Context) (string, error) {
	return p.do(ctx, "data", http.MethodGet, "/data", "", QueryTimeout)
}

func (p *Proxy) Servers(ctx context.Context) (string, error) {
	return p.do(ctx, "servers", http.MethodGet, "/servers", "", QueryTimeout)
}

func (p *Proxy) SwitchServer(ctx context.Context, guildID string) (string, error) {
	body, _ := sjson.Set("{}", "guildId", guildID)
	return p.do(ctx, "switch-server", http.MethodPost, "/switch-server", body, QueryTimeout)
}

// Action posts {"action","params"}. params is embedded as JSON when it is
// valid JSON and as a string otherwise.
func (p *Proxy) Action(ctx context.Context, action, params string) (string, error) {
	body, _ := sjson.Set("{}", "action", action)
	if params != "" && gjson.Valid(params) {
		body, _ = sjson.SetRaw(body, "params", params)
	} else {
		body, _ = sjson.Set(body, "params", params)
	}
	return p.do(ctx, "action", http.MethodPost, "/action", body, ActionTimeout)
}

func (p *Proxy) Control(ctx context.Context, command string) (string, error) {
	body, _ := sjson.Set("{}", "command", command)
	return p.do(ctx, "control", http.MethodPost, "/control", body, ActionTimeout)
}

func (p *Proxy) QuickAction(ctx context.Context, action, target, value string) (string, error) {
	body, _ := sjson.Set("{}", "action", action)
	body, _ = sjson.Set(body, "target", target)
	body, _ = sjson.Set(body, "value", value)
	return p.do(ctx, "quick-action", http.MethodPost, "/quick-action", body, ActionTimeout)
}

func (p *Proxy) do(ctx context.Context, op, method, path, body string, timeout time.Duration) (string, error) {
	began := time.Now()
	out, outcome, err := p.roundTrip(ctx, op, method, path, body, timeout)
	metrics.ObserveProxy(op, outcome, time.Since(began).Seconds())
	return out, err
}

func (p *Proxy) roundTrip(ctx context.Context, op, method, path, body string, timeout time.Duration) (string, string, error) {
	client := &http.Client{Timeout: timeout, Transport: p.transport}

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rd)
	if err != nil {
		return "", "error", err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		p.logger.Debug("control API request failed", "op", op, "error", err)
		return "", "unreachable", ErrAPIUnreachable
	}
	defer func() { _ = resp.Body.Close() }()

	if op == "data" && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return "", "not_ready", ErrWorkerNotReady
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "error", fmt.Errorf("read %s response: %w", op, err)
	}
	return string(b), "ok", nil
}
