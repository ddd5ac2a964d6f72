package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/petec4244/Ai3-Orchestrator/common/id"
	"github.com/petec4244/Ai3-Orchestrator/common/logger"
	"github.com/petec4244/Ai3-Orchestrator/common/otel"
	"github.com/petec4244/Ai3-Orchestrator/core/config"
	"github.com/petec4244/Ai3-Orchestrator/internal/bootstrap"
	"github.com/petec4244/Ai3-Orchestrator/internal/engine"
	"github.com/petec4244/Ai3-Orchestrator/internal/httpapi/handler"
	"github.com/petec4244/Ai3-Orchestrator/internal/httpapi/middleware"
	"github.com/petec4244/Ai3-Orchestrator/internal/httpapi/router"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg := config.Load()

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "ai3 server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	deps, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to bootstrap engine", "error", err)
		os.Exit(1)
	}
	if deps.RedisClient != nil {
		defer deps.RedisClient.Close()
		slog.InfoContext(ctx, "redis connected", "addr", cfg.RedisAddr)
	}
	if deps.DB != nil {
		defer deps.DB.Close()
		slog.InfoContext(ctx, "database connected")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := setupRouter(cfg, deps.Engine)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // streaming responses hold the connection open indefinitely
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, eng *engine.Engine) *gin.Engine {
	r := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		r.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())

	runHandler := handler.NewRunHandler(eng, engine.Options{
		GlobalMax:          cfg.MaxConcurrency,
		PerProviderMax:     cfg.MaxConcurrencyPerProvider,
		VerifyEnabled:      cfg.VerifyEnabled,
		RepairLimit:        cfg.RepairLimit,
		PlannerModel:       cfg.PlannerModel,
		PlannerMaxTokens:   cfg.PlannerMaxTokens,
		PlannerTemperature: cfg.PlannerTemperature,
	})
	router.SetupRoutes(r, runHandler)

	return r
}

const banner = `
    _    ___ _____
   / \  |_ _|___ /
  / _ \  | |  |_ \
 / ___ \ | |  ___) |
/_/   \_\___|____/
orchestrator
`
