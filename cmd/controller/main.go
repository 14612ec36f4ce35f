// Package main is the entry point for the ticketflow controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketflow/internal/bootstrap"
	"ticketflow/internal/config"
	"ticketflow/internal/controller"
	"ticketflow/internal/logger"
	"ticketflow/internal/observability"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (YAML)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(os.Stdout, cfg.LogLevel)
	fatal := func(msg string, err error) {
		log.Error(msg, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	s, err := bootstrap.OpenStore(ctx, cfg, log, *migrateFlag)
	if err != nil {
		fatal("failed to open store", err)
	}
	defer s.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "ticketflow-controller", cfg.OTELEndpoint,
		observability.WithSampleRatio(cfg.TraceSampleRatio))
	if err != nil {
		fatal("failed to init tracing", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "ticketflow-controller")
	if err != nil {
		fatal("failed to init metrics", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	// Queue depth is read from the store only when scraped.
	err = observability.RegisterQueueDepth(func(ctx context.Context) (int64, int64, error) {
		pending, err := s.CountPendingExecutions(ctx)
		if err != nil {
			return 0, 0, err
		}
		resumable, err := s.CountResumableWorkflows(ctx)
		return pending, resumable, err
	})
	if err != nil {
		log.Warn("failed to register queue depth metric", "error", err)
	}

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, s,
		controller.WithLogger(log),
		controller.WithMetricsHandler(metricsHandler),
		controller.WithAdminToken(cfg.AdminToken),
		controller.WithCORS(cfg.CORSAllowedOrigins),
	)

	go func() {
		log.Info("controller starting", "addr", addr, "store", cfg.Store)
		if err := srv.Run(ctx); err != nil {
			log.Error("server stopped", "error", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down controller")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return
	}
	log.Info("server exited properly")
}
