package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/botkeeper"
	"github.com/loykin/botkeeper/internal/config"
	"github.com/loykin/botkeeper/internal/logger"
	"github.com/loykin/botkeeper/internal/server"
	"github.com/spf13/cobra"
)

// createServeCommand creates the daemon command.
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the botkeeper daemon",
		Long: `Start the daemon that owns the bot worker and serves the local API.
Settings come from the optional TOML file and BOTKEEPER_* environment variables.

Examples:
  botkeeper serve                          # Defaults, listen on 127.0.0.1:47900
  botkeeper serve botkeeper.toml           # Specific config file
  botkeeper serve --daemonize --pidfile=/tmp/botkeeper.pid --logfile=/tmp/botkeeper.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path, serveFlags)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func runServe(ctx context.Context, configPath string, flags *ServeFlags) error {
	s, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		return daemonize(flags.LogFile)
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	log, closer := logger.New(logger.Config{
		Level: s.Log.Level,
		Color: s.Log.Color,
		File: logger.FileConfig{
			Path:       s.Log.File,
			MaxSizeMB:  s.Log.MaxSizeMB,
			MaxBackups: s.Log.MaxBackups,
			MaxAgeDays: s.Log.MaxAgeDays,
			Compress:   s.Log.Compress,
		},
	})
	defer func() { _ = closer.Close() }()

	host, err := botkeeper.New(botkeeper.Options{Settings: s, Logger: log})
	if err != nil {
		return err
	}

	var metrics http.Handler
	if s.Metrics.Enabled {
		if err := botkeeper.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		} else {
			metrics = botkeeper.MetricsHandler()
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	host.Boot(ctx)
	defer host.Shutdown()

	srv := server.NewServer(s.Server.Listen, s.Server.BasePath, host, metrics, log.With("component", "api"))
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("botkeeper daemon listening", "addr", s.Server.Listen, "base_path", s.Server.BasePath, "app_dir", s.AppDir)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
