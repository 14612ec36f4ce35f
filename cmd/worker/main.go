// Package main is the entry point for the ticketflow worker.
// The worker claims pending executions and resumable suspensions, calls the
// agent graph executor and routes each outcome back into the store. It also
// runs the maintenance sweeps.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ticketflow/internal/bootstrap"
	"ticketflow/internal/config"
	"ticketflow/internal/controller"
	"ticketflow/internal/logger"
	"ticketflow/internal/maintenance"
	"ticketflow/internal/observability"
	"ticketflow/internal/worker"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (YAML)")
	metricsAddr := flag.String("metrics-addr", ":6162", "Address of the worker metrics server")
	flag.Parse()

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "ticketflow-worker", cfg.OTELEndpoint,
		observability.WithSampleRatio(cfg.TraceSampleRatio), observability.WithInstanceID(cfg.WorkerID))
	if err != nil {
		fatal("failed to init tracing", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "ticketflow-worker")
	if err != nil {
		fatal("failed to init metrics", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()
	instruments, err := observability.NewInstruments()
	if err != nil {
		fatal("failed to create instruments", err)
	}

	s, err := bootstrap.OpenStore(ctx, cfg, log, *migrateFlag)
	if err != nil {
		fatal("failed to open store", err)
	}
	defer s.Close()

	ex, err := bootstrap.NewExecutor(cfg)
	if err != nil {
		fatal("failed to create executor", err)
	}

	agent, err := worker.New(s, ex, worker.AgentConfig{
		ID:               cfg.WorkerID,
		Concurrency:      cfg.WorkerConcurrency,
		PollInterval:     cfg.WorkerPollInterval,
		MaxBackoff:       cfg.WorkerMaxBackoff,
		BatchSize:        cfg.WorkerBatchSize,
		ExecutionTimeout: cfg.ExecutionTimeout,
		MaxRetries:       cfg.MaxRetries,
	}, worker.WithLogger(log), worker.WithInstruments(instruments))
	if err != nil {
		fatal("failed to create worker", err)
	}

	sweeper, err := maintenance.New(s, maintenance.Config{
		Schedule:             cfg.MaintenanceSchedule,
		CheckpointTTL:        cfg.CheckpointTTL,
		EventRetention:       cfg.EventRetention,
		ClaimTimeout:         cfg.ClaimTimeout,
		StaleAnswerThreshold: cfg.StaleAnswerThreshold,
	}, maintenance.WithLogger(log), maintenance.WithInstruments(instruments))
	if err != nil {
		fatal("failed to create maintenance sweeper", err)
	}

	log.Info("worker started", "concurrency", cfg.WorkerConcurrency, "executor", cfg.Executor, "store", cfg.Store)
	go agent.Run(ctx)
	go sweeper.Start(ctx)

	// The in-memory store lives in this process, so the API has to be served from here too.
	if cfg.Store == "memory" {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		srv := controller.New(addr, s,
			controller.WithLogger(log),
			controller.WithMetricsHandler(metricsHandler),
			controller.WithAdminToken(cfg.AdminToken),
			controller.WithCORS(cfg.CORSAllowedOrigins),
		)
		go func() {
			log.Info("embedded controller starting", "addr", addr)
			if err := srv.Run(ctx); err != nil {
				log.Error("embedded controller stopped", "error", err)
			}
		}()
	} else {
		go func() {
			log.Info("worker metrics listening", "addr", *metricsAddr)
			if err := observability.ServeMetrics(ctx, *metricsAddr, metricsHandler); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	cancel()

	<-agent.Done()
}
