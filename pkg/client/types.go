package client

import (
	"encoding/json"
	"time"
)

// BotConfig is the bot configuration stored by the daemon.
type BotConfig struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
	GuildID  string `json:"guild_id"`
	Prefix   string `json:"prefix"`
}

// Status is the supervisor slot state. PID and Uptime are nil when idle.
type Status struct {
	Running bool    `json:"running"`
	PID     *int    `json:"pid,omitempty"`
	Uptime  *uint64 `json:"uptime,omitempty"`
}

// HostingStats is Status formatted for display.
type HostingStats struct {
	Running       bool   `json:"running"`
	Uptime        string `json:"uptime"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
	StartTime     string `json:"start_time,omitempty"`
}

// SetupStatus is the first-run checklist.
type SetupStatus struct {
	NodeInstalled         bool   `json:"node_installed"`
	NodeVersion           string `json:"node_version"`
	BotFilesExist         bool   `json:"bot_files_exist"`
	DependenciesInstalled bool   `json:"dependencies_installed"`
	ConfigExists          bool   `json:"config_exists"`
	TokenSet              bool   `json:"token_set"`
	Ready                 bool   `json:"ready"`
}

// Event is one worker lifecycle event.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  int64     `json:"started_at,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// ClearResult lists what clear-data removed.
type ClearResult struct {
	Message string   `json:"message"`
	Deleted []string `json:"deleted"`
}

// ActionRequest is forwarded to the worker's /action endpoint. Params may
// be any JSON value.
type ActionRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// QuickActionRequest is forwarded to the worker's /quick-action endpoint.
type QuickActionRequest struct {
	Action string `json:"action"`
	Target string `json:"target"`
	Value  string `json:"value"`
}

// MessageResponse is the body of commands that answer with a message.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
