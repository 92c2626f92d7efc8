// Package main wires together the rivalwatch service binary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rivalwatch/internal/api"
	"github.com/JakeFAU/rivalwatch/internal/app"
	"github.com/JakeFAU/rivalwatch/internal/config"
	"github.com/JakeFAU/rivalwatch/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run a single scrape of every target, print the result and exit")
	reportDays := flag.Int("report", 0, "Print the change report for the last N days and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg, logger, *once, *reportDays, os.Stdout)
	stop()
	if syncErr := logger.Sync(); syncErr != nil {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
	}
	os.Exit(code)
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, once bool, reportDays int, out io.Writer) int {
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application init failed", zap.Error(err))
		return 1
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("application close failed", zap.Error(err))
		}
	}()

	switch {
	case reportDays > 0:
		text, err := application.GenerateReport(ctx, reportDays)
		if err != nil {
			logger.Error("report failed", zap.Error(err))
			return 1
		}
		fmt.Fprintln(out, text)
		return 0
	case once:
		res := application.ScrapeAll(ctx)
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			logger.Error("write run result failed", zap.Error(err))
			return 1
		}
		if res.Targets > 0 && res.Succeeded == 0 {
			return 1
		}
		return 0
	default:
		return serve(ctx, cfg, application, logger)
	}
}

func serve(ctx context.Context, cfg config.Config, application *app.App, logger *zap.Logger) int {
	port := cfg.Server.Port
	if env := os.Getenv("PORT"); env != "" {
		if _, err := fmt.Sscanf(env, "%d", &port); err != nil {
			logger.Warn("ignoring invalid PORT", zap.String("port", env))
			port = cfg.Server.Port
		}
	}
	apiServer := api.NewServer(application, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if interval := time.Duration(cfg.Server.ScrapeIntervalMinutes) * time.Minute; interval > 0 {
		go schedule(ctx, application, interval, logger.Named("scheduler"))
	}

	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// schedule runs a scrape every interval, skipping ticks while a run is still active.
func schedule(ctx context.Context, application *app.App, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("scheduled scrapes enabled", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := application.TryScrapeAll(ctx)
			if err != nil {
				logger.Info("scheduled scrape skipped", zap.Error(err))
				continue
			}
			logger.Info("scheduled scrape finished",
				zap.String("run_id", res.RunID),
				zap.Int("changes", res.Changes),
				zap.Int("failed", res.Failed),
			)
		}
	}
}
