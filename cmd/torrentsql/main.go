package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "torrentsqlite/internal/api/http"
	"torrentsqlite/internal/app"
	"torrentsqlite/internal/cli"
	"torrentsqlite/internal/domain/ports"
	"torrentsqlite/internal/metrics"
	"torrentsqlite/internal/services/torrent/engine/anacrolix"
	"torrentsqlite/internal/telemetry"
)

const serviceName = "torrentsql"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return cli.ExitCommandError
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(rootCtx, serviceName, cfg.Telemetry())
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Debug("configuration loaded",
		slog.String("logLevel", cfg.LogLevel),
		slog.String("storageMode", cfg.StorageMode),
		slog.Int64("memoryLimitBytes", cfg.MemoryLimitBytes),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.Duration("pieceTimeout", cfg.PieceTimeout),
	)

	rt := &cli.Runtime{
		Config:  cfg,
		Logger:  logger,
		Context: rootCtx,
		NewSwarm: func() (ports.Swarm, error) {
			engine, err := anacrolix.New(anacrolix.Config{Settings: cfg.SessionSettings(), Logger: logger})
			if err != nil {
				return nil, err
			}
			return engine, nil
		},
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("session close error", slog.String("error", err.Error()))
		}
	}()

	if cfg.MetricsAddr != "" {
		srv := startOpsServer(cfg.MetricsAddr, rt, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("ops server shutdown error", slog.String("error", err.Error()))
			}
		}()
	}

	cmd := cli.NewRootCommand(rt)
	if err := cmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}

func startOpsServer(addr string, rt *cli.Runtime, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           apihttp.NewServer(apihttp.WithLogger(logger), apihttp.WithStatus(rt.Status)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", slog.String("error", err.Error()))
		}
	}()
	logger.Info("ops server started", slog.String("addr", addr))
	return srv
}

// Logs go to stderr so query output on stdout stays parseable.
func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
