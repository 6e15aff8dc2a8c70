package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

type LogsFlags struct {
	Follow bool
	Clear  bool
}

type ConfigSetFlags struct {
	Token    string
	ClientID string
	GuildID  string
	Prefix   string
}

type HistoryFlags struct {
	Limit int
}

type ActionFlags struct {
	Params string
}

type QuickActionFlags struct {
	Target string
	Value  string
}
