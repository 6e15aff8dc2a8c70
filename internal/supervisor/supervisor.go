// Package supervisor owns the single worker process slot.
//
// The slot is either Idle (no handle) or Running (handle plus start time).
// Every operation holds the slot lock for its whole duration, including the
// blocking install, spawn and wait-for-exit calls.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/botkeeper/internal/botconfig"
	"github.com/loykin/botkeeper/internal/history"
	"github.com/loykin/botkeeper/internal/metrics"
	"github.com/loykin/botkeeper/internal/process"
	"github.com/loykin/botkeeper/internal/reaper"
	"github.com/loykin/botkeeper/internal/uptime"
)

var (
	ErrAlreadyRunning     = errors.New("bot is already running")
	ErrNotRunning         = errors.New("bot is not running")
	ErrWorkerFilesMissing = errors.New("bot files not found, please reinstall the application")
	ErrConfigNotSaved     = errors.New("please save the configuration first")
	ErrTokenMissing       = errors.New("please enter a bot token first")
	ErrSpawnFailed        = errors.New("error starting")
)

const (
	DefaultRuntime      = "node"
	DefaultEntry        = "index.js"
	DefaultSettle       = time.Second
	DefaultCleanupDelay = 500 * time.Millisecond
)

// Installer prepares the worker's dependencies.
type Installer interface {
	Needed(dir string) bool
	Install(ctx context.Context, dir string) error
}

// ConfigSource is the authoritative bot configuration.
type ConfigSource interface {
	Exists() bool
	Load() (botconfig.BotConfig, error)
	SyncToWorker() error
}

// Options wires a Supervisor. Spawner, Reaper, Installer and Config are
// required; everything else has a default.
type Options struct {
	Spawner   process.Spawner
	Reaper    reaper.Reaper
	Installer Installer
	Config    ConfigSource

	WorkerDir string
	Runtime   string // executable, default "node"
	Entry     string // entry point relative to WorkerDir, default "index.js"
	Port      int    // control port swept on cleanup, default 47832
	Env       []string

	PIDFile process.PIDFile
	History *history.Recorder
	Logger  *slog.Logger

	Settle       time.Duration // pause between stop and start on restart
	CleanupDelay time.Duration // pause after a forced cleanup

	Now   func() time.Time
	Sleep func(time.Duration)
}

// Status is the observable state of the slot.
type Status struct {
	Running bool    `json:"running"`
	PID     *int    `json:"pid,omitempty"`
	Uptime  *uint64 `json:"uptime,omitempty"`
}

// HostingStats is Status projected into display strings.
type HostingStats struct {
	Running       bool   `json:"running"`
	Uptime        string `json:"uptime"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
	StartTime     string `json:"start_time,omitempty"`
}

type Supervisor struct {
	opts Options

	mu        sync.Mutex
	handle    process.Handle
	startedAt int64 // epoch seconds, meaningful only while handle != nil
}

func New(opts Options) *Supervisor {
	if opts.Runtime == "" {
		opts.Runtime = DefaultRuntime
	}
	if opts.Entry == "" {
		opts.Entry = DefaultEntry
	}
	if opts.Port == 0 {
		opts.Port = reaper.DefaultControlPort
	}
	if opts.Settle == 0 {
		opts.Settle = DefaultSettle
	}
	if opts.CleanupDelay == 0 {
		opts.CleanupDelay = DefaultCleanupDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Supervisor{opts: opts}
}

// Start launches the worker. ctx bounds only the dependency install.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapIfExitedLocked()
	if s.handle != nil {
		metrics.RecordOp("start", ErrAlreadyRunning)
		return ErrAlreadyRunning
	}
	err := s.startLocked(ctx)
	metrics.RecordOp("start", err)
	return err
}

// Stop terminates the worker. From Idle it still sweeps the control port and
// then reports ErrNotRunning.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopLocked(history.EventStop) {
		s.opts.Reaper.SweepPort(s.opts.Port)
		metrics.RecordOp("stop", ErrNotRunning)
		return ErrNotRunning
	}
	metrics.RecordOp("stop", nil)
	return nil
}

// Restart stops the worker if it runs, sweeps the control port, waits for
// the settle interval and starts again. Restarting from Idle is legal.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(history.EventRestart)
	s.opts.Reaper.SweepPort(s.opts.Port)
	s.opts.Sleep(s.opts.Settle)

	err := s.startLocked(ctx)
	metrics.RecordOp("restart", err)
	return err
}

// InstallDependencies runs the installer in the worker directory under the
// slot lock, so it never overlaps the install done by Start or Restart.
func (s *Supervisor) InstallDependencies(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	began := time.Now()
	err := s.opts.Installer.Install(ctx, s.opts.WorkerDir)
	metrics.ObserveInstall(time.Since(began).Seconds(), err)
	return err
}

// Status reports the slot state, clearing it if the worker exited on its own.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapIfExitedLocked()
	if s.handle == nil {
		return Status{}
	}
	pid := s.handle.Pid()
	up := s.uptimeLocked()
	return Status{Running: true, PID: &pid, Uptime: &up}
}

// HostingStats is Status with uptime and start time formatted for display.
func (s *Supervisor) HostingStats() HostingStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapIfExitedLocked()
	if s.handle == nil {
		return HostingStats{Uptime: uptime.FormatUptime(0)}
	}
	up := s.uptimeLocked()
	return HostingStats{
		Running:       true,
		Uptime:        uptime.FormatUptime(up),
		UptimeSeconds: up,
		StartTime:     uptime.FormatTimestamp(uint64(s.startedAt)),
	}
}

// PID returns the running worker's pid, or 0 when Idle.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.handle.Exited() {
		return 0
	}
	return s.handle.Pid()
}

// ForceCleanup sweeps the control port regardless of tracked state and
// waits briefly. It always succeeds.
func (s *Supervisor) ForceCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opts.Reaper.SweepPort(s.opts.Port)
	s.opts.Sleep(s.opts.CleanupDelay)
	s.opts.History.Record(history.Event{Type: history.EventCleanup, OccurredAt: s.opts.Now().UTC(), Detail: "port sweep"})
	metrics.RecordOp("cleanup", nil)
}

// Shutdown is the application-exit cleanup: stop the worker if tracked, then
// sweep the control port. It never fails.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(history.EventShutdown)
	s.opts.Reaper.SweepPort(s.opts.Port)
	metrics.RecordOp("shutdown", nil)
}

// PreCleanup runs once at application start, before anything else. It
// removes a worker left behind by a previous host that crashed, identified
// by the PID file fingerprint or by holding the control port.
func (s *Supervisor) PreCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pid, ok := s.opts.PIDFile.Orphan(); ok {
		s.opts.Logger.Info("terminating orphaned worker", "pid", pid)
		s.opts.Reaper.TerminateTree(pid)
		s.opts.History.Record(history.Event{Type: history.EventCleanup, OccurredAt: s.opts.Now().UTC(), PID: pid, Detail: "orphan from previous run"})
	}
	s.opts.PIDFile.Remove()
	s.opts.Reaper.SweepPort(s.opts.Port)
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	dir := s.opts.WorkerDir
	entry := filepath.Join(dir, s.opts.Entry)
	if _, err := os.Stat(entry); err != nil {
		return ErrWorkerFilesMissing
	}
	if !s.opts.Config.Exists() {
		return ErrConfigNotSaved
	}
	cfg, err := s.opts.Config.Load()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return ErrTokenMissing
	}

	if s.opts.Installer.Needed(dir) {
		began := time.Now()
		err := s.opts.Installer.Install(ctx, dir)
		metrics.ObserveInstall(time.Since(began).Seconds(), err)
		if err != nil {
			return err
		}
	}

	if err := s.opts.Config.SyncToWorker(); err != nil {
		return err
	}

	h, err := s.opts.Spawner.Spawn(process.Spec{
		Name:    "worker",
		Command: s.opts.Runtime,
		Args:    []string{s.opts.Entry},
		WorkDir: dir,
		Env:     s.opts.Env,
	})
	if err != nil {
		return fmt.Errorf("%w: %v. Is Node.js installed?", ErrSpawnFailed, err)
	}

	s.handle = h
	s.startedAt = s.opts.Now().Unix()
	if err := s.opts.PIDFile.Write(h.Pid()); err != nil {
		s.opts.Logger.Warn("failed to write worker pid file", "path", s.opts.PIDFile.Path, "error", err)
	}
	metrics.SetRunning(true)
	s.opts.History.Record(history.Event{Type: history.EventStart, OccurredAt: s.opts.Now().UTC(), PID: h.Pid(), StartedAt: s.startedAt})
	s.opts.Logger.Info("worker started", "pid", h.Pid(), "dir", dir)
	return nil
}

// stopLocked terminates the tracked worker and reports whether there was one.
func (s *Supervisor) stopLocked(kind history.EventType) bool {
	h := s.handle
	if h == nil {
		return false
	}
	pid := h.Pid()
	detail := ""
	if h.Exited() {
		// the pid is already released; only the group id is still ours
		detail = "already exited"
		s.opts.Reaper.TerminateGroup(pid)
	} else {
		if err := h.Kill(); err != nil {
			s.opts.Logger.Debug("kill failed", "pid", pid, "error", err)
		}
		s.opts.Reaper.TerminateTree(pid)
	}
	_ = h.Wait()

	started := s.startedAt
	s.clearLocked()
	s.opts.History.Record(history.Event{Type: kind, OccurredAt: s.opts.Now().UTC(), PID: pid, StartedAt: started, Detail: detail})
	s.opts.Logger.Info("worker stopped", "pid", pid, "reason", string(kind), "detail", detail)
	return true
}

func (s *Supervisor) reapIfExitedLocked() {
	if s.handle == nil || !s.handle.Exited() {
		return
	}
	pid := s.handle.Pid()
	started := s.startedAt
	detail := ""
	if err := s.handle.Wait(); err != nil {
		detail = err.Error()
	}
	s.clearLocked()
	metrics.IncUnexpectedExit()
	s.opts.History.Record(history.Event{Type: history.EventExited, OccurredAt: s.opts.Now().UTC(), PID: pid, StartedAt: started, Detail: detail})
	s.opts.Logger.Warn("worker exited", "pid", pid, "detail", detail)
}

func (s *Supervisor) clearLocked() {
	s.handle = nil
	s.startedAt = 0
	s.opts.PIDFile.Remove()
	metrics.SetRunning(false)
}

func (s *Supervisor) uptimeLocked() uint64 {
	now := s.opts.Now().Unix()
	if now <= s.startedAt {
		return 0
	}
	return uint64(now - s.startedAt)
}
