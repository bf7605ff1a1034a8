package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"rss_relay/internal/bot"
	"rss_relay/internal/config"
	"rss_relay/internal/dispatch"
	"rss_relay/internal/fetcher"
	"rss_relay/internal/filter"
	"rss_relay/internal/manager"
	"rss_relay/internal/opsserver"
	"rss_relay/internal/pipeline"
	"rss_relay/internal/resolver"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/storage"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if n, err := store.PurgeOlderThan(ctx, cfg.RetentionDays); err != nil {
		log.Warn("purge dispatched items", "error", err)
	} else {
		log.Info("purged dispatched items", "count", n, "retention_days", cfg.RetentionDays)
	}

	api, err := bot.Connect(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}

	feeds := fetcher.New(&http.Client{}, cfg.FetchTimeout, log)
	sink := bot.NewSink(api, cfg.SendRate, log)
	runner := pipeline.New(
		feeds,
		filter.New(store, log),
		dispatch.New(sink, store, store, log),
		store,
		log,
	)

	sched := scheduler.New(store, runner, log, scheduler.Options{
		DefaultInterval:    seconds(cfg.DefaultInterval),
		MinInterval:        seconds(cfg.MinInterval),
		AggressiveInterval: seconds(cfg.AggressiveInterval),
		Aggressive:         cfg.AggressiveMode,
		MaxConcurrent:      cfg.MaxConcurrentChecks,
	})
	sched.Start(ctx)
	defer sched.Stop()

	if res, err := sched.ReloadAllSchedules(ctx); err != nil {
		log.Error("load schedules", "error", err)
	} else {
		log.Info("schedules loaded", "feeds", res.Scheduled, "aggressive", res.Aggressive)
	}

	mgr := manager.New(store, sched, resolver.New(cfg.RSSHubBase, log), feeds, sink, cfg.MinInterval, log)

	if cfg.OpsListen != "" {
		ops := opsserver.New(cfg.OpsListen, mgr, version, log)
		go func() {
			if err := ops.Run(ctx); err != nil {
				log.Error("ops server", "error", err)
			}
		}()
	}

	log.Info("starting relay", "version", version)

	bot.New(api, mgr, cfg, log).Run(ctx)

	log.Info("relay stopped")
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
