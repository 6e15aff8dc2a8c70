// Package config loads host settings from a TOML file, defaults and
// BOTKEEPER_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppDirName is the folder created under the user's documents directory.
const AppDirName = "Nexus Discord Tool"

// EnvPrefix prefixes environment overrides, e.g. BOTKEEPER_WORKER_CONTROL_PORT.
const EnvPrefix = "BOTKEEPER"

type Settings struct {
	AppDir   string           `mapstructure:"app_dir"`
	Worker   WorkerSettings   `mapstructure:"worker"`
	Timing   TimingSettings   `mapstructure:"timing"`
	Server   ServerSettings   `mapstructure:"server"`
	Log      LogSettings      `mapstructure:"log"`
	Presence PresenceSettings `mapstructure:"presence"`
	History  HistorySettings  `mapstructure:"history"`
	Metrics  MetricsSettings  `mapstructure:"metrics"`
}

type WorkerSettings struct {
	Dir              string   `mapstructure:"dir"`
	SourceDirs       []string `mapstructure:"source_dirs"`
	Runtime          string   `mapstructure:"runtime"`
	Entry            string   `mapstructure:"entry"`
	DependencyMarker string   `mapstructure:"dependency_marker"`
	InstallCommand   []string `mapstructure:"install_command"`
	ControlPort      int      `mapstructure:"control_port"`
	LogFile          string   `mapstructure:"log_file"`
	PIDFile          string   `mapstructure:"pid_file"`
	Env              []string `mapstructure:"env"`
	EnvFiles         []string `mapstructure:"env_files"`
}

type TimingSettings struct {
	RestartSettle time.Duration `mapstructure:"restart_settle"`
	CleanupDelay  time.Duration `mapstructure:"cleanup_delay"`
}

type ServerSettings struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type LogSettings struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Color      bool   `mapstructure:"color"`
}

type PresenceSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	ClientID string        `mapstructure:"client_id"`
	Interval time.Duration `mapstructure:"interval"`
}

type HistorySettings struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type MetricsSettings struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_dir", "")
	v.SetDefault("worker.dir", "")
	v.SetDefault("worker.source_dirs", []string{})
	v.SetDefault("worker.runtime", "node")
	v.SetDefault("worker.entry", "index.js")
	v.SetDefault("worker.dependency_marker", "node_modules/discord.js")
	v.SetDefault("worker.install_command", []string{})
	v.SetDefault("worker.control_port", 47832)
	v.SetDefault("worker.log_file", "")
	v.SetDefault("worker.pid_file", "")
	v.SetDefault("worker.env", []string{})
	v.SetDefault("worker.env_files", []string{})
	v.SetDefault("timing.restart_settle", time.Second)
	v.SetDefault("timing.cleanup_delay", 500*time.Millisecond)
	v.SetDefault("server.listen", "127.0.0.1:47900")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.color", true)
	v.SetDefault("presence.enabled", true)
	v.SetDefault("presence.client_id", "1190558638067163226")
	v.SetDefault("presence.interval", 15*time.Second)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.sample_interval", 5*time.Second)
}

// Load reads settings from path (optional), applies environment overrides
// and resolves derived paths.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	s.resolve()
	return &s, nil
}

// Default returns the settings Load would produce without a file.
func Default() *Settings {
	s, err := Load("")
	if err != nil {
		// defaults and environment only; decoding cannot fail on a bad file
		s = &Settings{}
		s.resolve()
	}
	return s
}

func (s *Settings) resolve() {
	if s.AppDir == "" {
		s.AppDir = DefaultAppDir()
	}
	if s.Worker.Dir == "" {
		s.Worker.Dir = filepath.Join(s.AppDir, "bot")
	}
	if s.Worker.LogFile == "" {
		s.Worker.LogFile = filepath.Join(s.Worker.Dir, "bot.log")
	}
	if s.Worker.PIDFile == "" {
		s.Worker.PIDFile = filepath.Join(s.AppDir, "worker.pid")
	}
	if len(s.Worker.SourceDirs) == 0 {
		s.Worker.SourceDirs = DefaultSourceDirs()
	}
}

// DefaultAppDir is <Documents>/Nexus Discord Tool, falling back to
// <home>/Nexus Discord Tool and finally the working directory.
func DefaultAppDir() string {
	if docs := documentsDir(); docs != "" {
		return filepath.Join(docs, AppDirName)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, AppDirName)
	}
	return "."
}

func documentsDir() string {
	if runtime.GOOS == "linux" {
		if d := os.Getenv("XDG_DOCUMENTS_DIR"); d != "" {
			return d
		}
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	docs := filepath.Join(home, "Documents")
	if fi, err := os.Stat(docs); err == nil && fi.IsDir() {
		return docs
	}
	return ""
}

// DefaultSourceDirs are the places a bundled copy of the worker is looked up,
// relative to the running executable.
func DefaultSourceDirs() []string {
	exe, err := os.Executable()
	if err != nil {
		return nil
	}
	dir := filepath.Dir(exe)
	return []string{
		filepath.Join(dir, "bot"),
		filepath.Join(dir, "_up_", "bot"),
		filepath.Join(dir, "..", "bot"),
		filepath.Join(dir, "..", "..", "bot"),
		filepath.Join(dir, "..", "Resources", "bot"),
	}
}
