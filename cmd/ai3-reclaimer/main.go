package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petec4244/Ai3-Orchestrator/common/id"
	"github.com/petec4244/Ai3-Orchestrator/common/logger"
	"github.com/petec4244/Ai3-Orchestrator/common/otel"
	"github.com/petec4244/Ai3-Orchestrator/core/config"
	"github.com/petec4244/Ai3-Orchestrator/core/db"
	"github.com/petec4244/Ai3-Orchestrator/internal/journal"
	"github.com/petec4244/Ai3-Orchestrator/internal/recovery"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg := config.Load()

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)
	slog.InfoContext(ctx, "ai3 reclaimer starting", "env", cfg.Env)

	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	if cfg.RedisAddr == "" {
		slog.ErrorContext(ctx, "AI3_REDIS_ADDR is required: crash recovery has no heartbeats to sweep without it")
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "addr", cfg.RedisAddr)

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	if database != nil {
		defer database.Close()
		slog.InfoContext(ctx, "database connected")
	}

	j, err := journal.New(cfg.JournalDir, database)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open journal", "error", err, "dir", cfg.JournalDir)
		os.Exit(1)
	}

	heartbeatInterval := 15 * time.Second
	staleAfter := 2 * time.Minute
	sweepInterval := 30 * time.Second

	registry := recovery.NewRegistry(redisClient, "", heartbeatInterval)
	reclaimer := recovery.NewReclaimer(registry, j, recovery.ReclaimerConfig{
		StaleAfter: staleAfter,
		Interval:   sweepInterval,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go reclaimer.Run(runCtx)

	slog.InfoContext(ctx, "reclaimer running", "stale_after", staleAfter, "sweep_interval", sweepInterval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")
	cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		reclaimer.Stop()
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		slog.InfoContext(ctx, "graceful shutdown completed")
	case <-time.After(10 * time.Second):
		slog.WarnContext(ctx, "shutdown timeout exceeded, forcing exit")
	}

	if telemetry != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 5*time.Second)
		defer cancelShutdown()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutdown complete")
}

const banner = `
ai3-reclaimer: single-host crash recovery sweep
`
