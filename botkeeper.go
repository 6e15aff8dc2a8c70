// Package botkeeper hosts one supervised Discord bot worker and exposes the
// command surface a desktop shell drives it with.
package botkeeper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loykin/botkeeper/internal/botconfig"
	"github.com/loykin/botkeeper/internal/config"
	"github.com/loykin/botkeeper/internal/controlapi"
	"github.com/loykin/botkeeper/internal/history"
	"github.com/loykin/botkeeper/internal/history/factory"
	"github.com/loykin/botkeeper/internal/installer"
	"github.com/loykin/botkeeper/internal/logtail"
	"github.com/loykin/botkeeper/internal/metrics"
	"github.com/loykin/botkeeper/internal/presence"
	"github.com/loykin/botkeeper/internal/presence/discordipc"
	"github.com/loykin/botkeeper/internal/process"
	"github.com/loykin/botkeeper/internal/reaper"
	"github.com/loykin/botkeeper/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export the types callers see in results.

type Settings = config.Settings

type BotConfig = botconfig.BotConfig

type Status = supervisor.Status

type HostingStats = supervisor.HostingStats

type Event = history.Event

type Sample = metrics.Sample

// ManifestFile must exist in the worker directory for the worker files to
// count as present.
const ManifestFile = "package.json"

// ErrWorkerManifestMissing is returned by InstallDependencies when the worker
// directory has no package manifest.
var ErrWorkerManifestMissing = errors.New("bot files not found")

// SetupStatus is the first-run checklist shown by the shell.
type SetupStatus struct {
	NodeInstalled         bool   `json:"node_installed"`
	NodeVersion           string `json:"node_version"`
	BotFilesExist         bool   `json:"bot_files_exist"`
	DependenciesInstalled bool   `json:"dependencies_installed"`
	ConfigExists          bool   `json:"config_exists"`
	TokenSet              bool   `json:"token_set"`
	Ready                 bool   `json:"ready"`
}

// Options override the OS-facing parts of a Host. Only Settings is commonly
// set; the rest exist for tests and embedding.
type Options struct {
	Settings  *config.Settings
	Logger    *slog.Logger
	Spawner   process.Spawner
	Reaper    reaper.Reaper
	Runner    installer.Runner
	Publisher presence.Publisher
	History   history.Store
}

// Host owns every component for one worker.
type Host struct {
	settings *config.Settings
	logger   *slog.Logger

	store   *botconfig.Store
	inst    *installer.Installer
	sup     *supervisor.Supervisor
	proxy   *controlapi.Proxy
	tail    *logtail.Tail
	hist    history.Store
	sampler *metrics.Sampler
	pub     presence.Publisher

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a Host from opts. It does not touch the worker; call Boot for
// the start-of-application cleanup and background loops.
func New(opts Options) (*Host, error) {
	s := opts.Settings
	if s == nil {
		s = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env, err := s.WorkerEnv()
	if err != nil {
		return nil, err
	}

	hist := opts.History
	if hist == nil && s.History.Enabled {
		hist, err = factory.NewStoreFromDSN(s.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
	}

	rp := opts.Reaper
	if rp == nil {
		rp = reaper.New(logger.With("component", "reaper"))
	}
	sp := opts.Spawner
	if sp == nil {
		sp = process.Exec{}
	}
	pub := opts.Publisher
	if pub == nil && s.Presence.Enabled {
		pub = discordipc.New(s.Presence.ClientID)
	}

	h := &Host{
		settings: s,
		logger:   logger,
		store:    botconfig.NewStore(s.AppDir, s.Worker.Dir, logger.With("component", "config")),
		inst: installer.New(installer.Options{
			Runtime:        s.Worker.Runtime,
			InstallCommand: s.Worker.InstallCommand,
			Marker:         s.Worker.DependencyMarker,
			Runner:         opts.Runner,
			Logger:         logger.With("component", "installer"),
		}),
		proxy:   controlapi.New(fmt.Sprintf("http://127.0.0.1:%d", s.Worker.ControlPort), logger.With("component", "proxy")),
		tail:    logtail.New(s.Worker.LogFile),
		hist:    hist,
		sampler: metrics.NewSampler(s.Metrics.SampleInterval, 0, logger.With("component", "sampler")),
		pub:     pub,
	}
	h.sup = supervisor.New(supervisor.Options{
		Spawner:      sp,
		Reaper:       rp,
		Installer:    h.inst,
		Config:       h.store,
		WorkerDir:    s.Worker.Dir,
		Runtime:      s.Worker.Runtime,
		Entry:        s.Worker.Entry,
		Port:         s.Worker.ControlPort,
		Env:          env,
		PIDFile:      process.PIDFile{Path: s.Worker.PIDFile},
		History:      history.NewRecorder(hist, logger.With("component", "history")),
		Logger:       logger.With("component", "supervisor"),
		Settle:       s.Timing.RestartSettle,
		CleanupDelay: s.Timing.CleanupDelay,
	})
	return h, nil
}

// Settings returns the resolved settings the host was built with.
func (h *Host) Settings() *config.Settings { return h.settings }

// Boot runs the start-of-application work: seed the worker directory from a
// bundled copy, clean up anything a crashed previous host left behind, then
// start the presence and resource loops. The loops stop on Shutdown or when
// ctx ends.
func (h *Host) Boot(ctx context.Context) {
	w := h.settings.Worker
	src, err := installer.Seed(w.Dir, w.Entry, w.SourceDirs)
	switch {
	case err != nil:
		h.logger.Warn("could not seed worker files", "dir", w.Dir, "error", err)
	case src != "":
		h.logger.Info("seeded worker files", "from", src, "to", w.Dir)
	}

	h.sup.PreCleanup()

	ctx, h.cancel = context.WithCancel(ctx)
	if h.pub != nil {
		b := presence.NewBeacon(h.pub, h.tail.LastLine, h.settings.Presence.Interval, h.logger.With("component", "presence"))
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			b.Run(ctx)
		}()
	}
	if h.settings.Metrics.Enabled {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.sampler.Run(ctx, h.sup.PID)
		}()
	}
}

// Shutdown stops the worker and the background loops and releases the
// history store. Safe to call more than once.
func (h *Host) Shutdown() {
	h.closeOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		h.wg.Wait()
		h.sup.Shutdown()
		if c, ok := h.pub.(io.Closer); ok {
			_ = c.Close()
		}
		if h.hist != nil {
			if err := h.hist.Close(); err != nil {
				h.logger.Warn("closing history store", "error", err)
			}
		}
	})
}

// Lifecycle

func (h *Host) Start(ctx context.Context) error   { return h.sup.Start(ctx) }
func (h *Host) Stop() error                       { return h.sup.Stop() }
func (h *Host) Restart(ctx context.Context) error { return h.sup.Restart(ctx) }
func (h *Host) Status() Status                    { return h.sup.Status() }
func (h *Host) HostingStats() HostingStats        { return h.sup.HostingStats() }
func (h *Host) ForceCleanup()                     { h.sup.ForceCleanup() }

// Logs

func (h *Host) ReadLogs() (string, error) { return h.tail.Read() }
func (h *Host) ClearLogs() error          { return h.tail.Clear() }

// FollowLogs calls fn for every line appended to the worker log until ctx ends.
func (h *Host) FollowLogs(ctx context.Context, fn func(line string)) error {
	return h.tail.Follow(ctx, fn)
}

// Configuration

func (h *Host) SaveConfig(cfg BotConfig) error    { return h.store.Save(cfg) }
func (h *Host) LoadConfig() (BotConfig, error)    { return h.store.Load() }
func (h *Host) SaveStatusConfig(raw string) error { return h.store.SaveStatusConfig(raw) }
func (h *Host) ConfigLocation() string            { return h.store.Location() }
func (h *Host) ClearAllData() ([]string, error)   { return h.store.ClearAll(h.settings.Worker.LogFile) }
func (h *Host) NodeVersion(ctx context.Context) (string, error) {
	return h.inst.RuntimeVersion(ctx)
}

// SetupStatus inspects runtime, worker files, dependencies and config.
func (h *Host) SetupStatus(ctx context.Context) SetupStatus {
	var st SetupStatus
	if v, err := h.inst.RuntimeVersion(ctx); err == nil {
		st.NodeInstalled = true
		st.NodeVersion = v
	}
	st.BotFilesExist = h.workerFileExists(h.settings.Worker.Entry) && h.workerFileExists(ManifestFile)
	st.DependenciesInstalled = h.inst.Installed(h.settings.Worker.Dir)
	if h.store.Exists() {
		st.ConfigExists = true
		if cfg, err := h.store.Load(); err == nil && strings.TrimSpace(cfg.Token) != "" {
			st.TokenSet = true
		}
	}
	st.Ready = st.NodeInstalled && st.BotFilesExist && st.TokenSet
	return st
}

// InstallDependencies runs the package manager in the worker directory. It
// waits for any in-flight lifecycle operation to finish first.
func (h *Host) InstallDependencies(ctx context.Context) error {
	if !h.workerFileExists(ManifestFile) {
		return ErrWorkerManifestMissing
	}
	return h.sup.InstallDependencies(ctx)
}

func (h *Host) workerFileExists(name string) bool {
	_, err := os.Stat(filepath.Join(h.settings.Worker.Dir, name))
	return err == nil
}

// Observability

// History returns up to limit lifecycle events, newest first. Without a
// history store it returns an empty list.
func (h *Host) History(ctx context.Context, limit int) ([]Event, error) {
	if h.hist == nil {
		return []Event{}, nil
	}
	return h.hist.Recent(ctx, limit)
}

// Resources returns the sampled worker resource usage, oldest first.
func (h *Host) Resources() []Sample { return h.sampler.Recent() }

// Proxy is the client for the worker's own control API.
func (h *Host) Proxy() *controlapi.Proxy { return h.proxy }

// Metrics helpers

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// LoadSettings reads host settings from path; an empty path uses defaults
// and environment overrides only.
func LoadSettings(path string) (*Settings, error) { return config.Load(path) }
