// Command creditsd runs the credits HTTP service: the ledger and coupon
// engine behind a guarded REST API, with scheduled expiry sweeps and
// cleanup jobs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/gr8r/credits"
	audit_hook "github.com/gr8r/credits/audit_hook"
	"github.com/gr8r/credits/guard"
	"github.com/gr8r/credits/httpapi"
	"github.com/gr8r/credits/observability"
	"github.com/gr8r/credits/store"
	"github.com/gr8r/credits/store/memory"
	"github.com/gr8r/credits/store/postgres"
	"github.com/gr8r/credits/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("creditsd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := Load(ctx)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.App.LogLevel)
	slog.SetDefault(logger)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	counters, err := openCounters(ctx, cfg)
	if err != nil {
		return err
	}

	g := guard.New(st, counters, guard.WithLogger(logger))

	// Engine lifecycle events land in the guard's security log; request
	// level events (abuse, unauthorized access) are recorded by the HTTP
	// layer, which knows the client IP.
	audit := audit_hook.New(
		audit_hook.RecorderFunc(func(ctx context.Context, e *audit_hook.AuditEvent) error {
			g.RecordEvent(ctx, guardEvent(e.Action), e.ResourceID, e.UserID, "")
			return nil
		}),
		audit_hook.WithLogger(logger),
	)
	metrics := observability.NewMetricsExtension(observability.NewPromFactory())

	engine := credits.New(st,
		credits.WithLogger(logger),
		credits.WithPlugin(audit),
		credits.WithPlugin(metrics),
		credits.WithBaseURL(cfg.App.BaseURL),
		credits.WithSweepInterval(cfg.App.SweepInterval),
		credits.WithTokenTTL(cfg.App.TokenTTL),
	)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	jobs := startJobs(ctx, engine, g, logger)

	opts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithAdminToken(cfg.App.AdminToken),
		httpapi.WithDBHealth(st),
	}
	if cfg.App.Metrics {
		opts = append(opts, httpapi.WithMetrics())
	}
	api := httpapi.NewServer(engine, g, opts...)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting credits service", "addr", server.Addr, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	jobs.Stop()
	if err := engine.Stop(); err != nil {
		logger.Error("engine shutdown failed", "error", err)
	}

	logger.Info("stopped")
	return nil
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
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openStore(cfg *Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(cfg.Store.Path)
	case "postgres":
		if cfg.Store.DSN == "" {
			return nil, fmt.Errorf("STORE_DSN is required for the postgres driver")
		}
		return postgres.Open(cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openCounters(ctx context.Context, cfg *Config) (guard.CounterStore, error) {
	if cfg.Redis.Addr == "" {
		return guard.NewMemoryCounters(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return guard.NewRedisCounters(rdb, "credits:guard"), nil
}

// guardEvent maps audit actions to the security log's event vocabulary.
func guardEvent(action string) string {
	switch action {
	case audit_hook.ActionCreditAdded:
		return guard.EventCreditAdded
	case audit_hook.ActionCreditDeducted:
		return guard.EventCreditDeducted
	case audit_hook.ActionCreditsExpired:
		return guard.EventCreditsExpired
	case audit_hook.ActionCouponIssued:
		return guard.EventCouponCreated
	case audit_hook.ActionCouponRedeemed:
		return guard.EventCouponApplied
	case audit_hook.ActionCouponDeleted:
		return guard.EventCouponDeleted
	case audit_hook.ActionTokenIssued:
		return guard.EventTokenIssued
	case audit_hook.ActionTokenResolved:
		return guard.EventTokenResolved
	default:
		return action
	}
}

// startJobs schedules the recurring maintenance work: hourly coupon
// cleanup, token cleanup every 15 minutes, and a daily security log
// prune.
func startJobs(ctx context.Context, engine *credits.Engine, g *guard.Guard, logger *slog.Logger) *cron.Cron {
	c := cron.New()

	c.AddFunc("0 * * * *", func() {
		n, err := engine.CleanupExpiredCoupons(ctx)
		if err != nil {
			logger.Error("coupon cleanup failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("cleaned expired coupons", "count", n)
		}
	})

	c.AddFunc("*/15 * * * *", func() {
		n, err := engine.CleanupExpiredTokens(ctx)
		if err != nil {
			logger.Error("token cleanup failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("cleaned expired tokens", "count", n)
		}
	})

	c.AddFunc("0 3 * * *", func() {
		n, err := g.PruneLogs(ctx)
		if err != nil {
			logger.Error("security log prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("pruned security log", "count", n)
		}
	})

	c.Start()
	return c
}
