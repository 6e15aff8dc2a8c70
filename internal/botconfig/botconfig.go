// Package botconfig keeps the authoritative bot configuration and mirrors it
// into the worker directory right before the worker starts.
package botconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

const (
	ConfigFileName       = "config.json"
	StatusConfigFileName = "status-config.json"
	SettingsFileName     = "settings.json"
	DefaultPrefix        = "!"
)

var (
	// ErrConfigSyncFailed wraps I/O errors while copying the config to the worker.
	ErrConfigSyncFailed = errors.New("failed to copy configuration to worker")
	// ErrInvalidJSON is returned for status-config payloads that are not JSON.
	ErrInvalidJSON = errors.New("invalid JSON")
)

// BotConfig is the configuration the worker reads at startup.
type BotConfig struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
	GuildID  string `json:"guild_id"`
	Prefix   string `json:"prefix"`
}

// Default is returned by Load before anything was saved.
func Default() BotConfig { return BotConfig{Prefix: DefaultPrefix} }

// Store owns the authoritative copy (<appDir>/config.json) and the
// worker-facing copy (<workerDir>/config.json).
type Store struct {
	appDir    string
	workerDir string
	logger    *slog.Logger
}

func NewStore(appDir, workerDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{appDir: appDir, workerDir: workerDir, logger: logger}
}

// Location is the directory holding the authoritative copy.
func (s *Store) Location() string { return s.appDir }

func (s *Store) Path() string { return filepath.Join(s.appDir, ConfigFileName) }

func (s *Store) WorkerPath() string { return filepath.Join(s.workerDir, ConfigFileName) }

// Exists reports whether the authoritative copy has been saved.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Save writes cfg as the authoritative copy, creating directories as needed.
func (s *Store) Save(cfg BotConfig) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.Path(), b, 0o600); err != nil {
		return err
	}
	s.logger.Info("configuration saved", "path", s.Path())
	return nil
}

// Load returns the authoritative copy, or Default when none exists yet.
func (s *Store) Load() (BotConfig, error) {
	b, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return BotConfig{}, err
	}
	var cfg BotConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return BotConfig{}, fmt.Errorf("parse %s: %w", s.Path(), err)
	}
	return cfg, nil
}

// SyncToWorker byte-copies the authoritative file to the worker directory.
// The copy lands via rename so the worker never sees a partial file.
func (s *Store) SyncToWorker() error {
	src, err := os.Open(s.Path())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigSyncFailed, err)
	}
	defer func() { _ = src.Close() }()
	b, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigSyncFailed, err)
	}
	if err := writeFileAtomic(s.WorkerPath(), b, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigSyncFailed, err)
	}
	s.logger.Debug("configuration synced to worker", "path", s.WorkerPath())
	return nil
}

// SaveStatusConfig stores the worker's status rotation settings verbatim.
func (s *Store) SaveStatusConfig(raw string) error {
	if !gjson.Valid(raw) {
		return ErrInvalidJSON
	}
	return writeFileAtomic(filepath.Join(s.workerDir, StatusConfigFileName), []byte(raw), 0o600)
}

// ClearAll deletes both config copies, the worker's settings and its log.
// It returns labels for the files that existed and were removed.
func (s *Store) ClearAll(logFile string) ([]string, error) {
	targets := []struct {
		label string
		path  string
	}{
		{"app config", s.Path()},
		{"worker config", s.WorkerPath()},
		{"settings", filepath.Join(s.workerDir, SettingsFileName)},
		{"logs", logFile},
	}
	var deleted []string
	for _, t := range targets {
		if t.path == "" {
			continue
		}
		err := os.Remove(t.path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		deleted = append(deleted, t.label)
	}
	if len(deleted) > 0 {
		s.logger.Info("stored data cleared", "deleted", deleted)
	}
	return deleted, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
