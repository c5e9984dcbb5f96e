// Package main is the entry point for the agentplane bridge server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"agentplane/internal/agent"
	"agentplane/internal/config"
	"agentplane/internal/controller"
	"agentplane/internal/controller/handlers"
	"agentplane/internal/events"
	"agentplane/internal/logger"
	"agentplane/internal/observability"
	"agentplane/internal/scenario"
	"agentplane/internal/scheduler"
	"agentplane/internal/store"
	"agentplane/internal/store/memory"
	"agentplane/internal/store/postgres"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	log := logger.New(slog.LevelInfo)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage: postgres when configured, in-process memory otherwise.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()

		if *migrateFlag {
			log.Info("running database migrations")
			if err := postgres.Migrate(pg.DB()); err != nil {
				log.Error("migration failed", "error", err)
				os.Exit(1)
			}
			log.Info("migrations completed")
		}
		st = pg
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		st = memory.New()
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "agentplane-bridge", cfg.OTELEndpoint)
	if err != nil {
		log.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()
	if err := observability.RegisterActiveJobsGauge("agentplane-bridge", st.ListOwnersWithActiveJobs, st.CountActiveJobs); err != nil {
		log.Warn("failed to register active jobs gauge", "error", err)
	}

	// Agent subprocess. The bridge is registered as the notification
	// handler before the process starts so no early notification is lost.
	tracker := agent.NewTracker(cfg.TurnTimeout)
	bridge := agent.NewBridge(nil, tracker, log)

	proc, err := agent.StartProcess(agent.ProcessConfig{
		Command:     cfg.AgentCommand,
		WorkDir:     cfg.AgentWorkDir,
		CallTimeout: cfg.RPCCallTimeout,
		Logger:      log,
	}, bridge)
	if err != nil {
		log.Error("failed to start agent process", "error", err)
		os.Exit(1)
	}
	bridge.Bind(proc.Conn())
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := proc.Stop(stopCtx); err != nil {
			log.Warn("failed to stop agent process", "error", err)
		}
	}()

	eventLog := events.NewLog(st, log)
	defer eventLog.Close()

	runner := scenario.NewRunner(bridge, log)
	sched := scheduler.New(st, eventLog, runner, bridge, nil, nil, scheduler.Config{
		MaxActiveJobs:      cfg.MaxActiveJobs,
		StaleAfter:         cfg.StaleJobAfter,
		DefaultMaxAttempts: cfg.DefaultMaxAttempts,
	}, log)

	// Stale job reaper
	go sched.RunReaper(ctx, cfg.ReaperInterval, st.ListOwnersWithActiveJobs)

	h := handlers.New(sched, bridge, eventLog, st)
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, h, metricsHandler, controller.Options{
		RateLimit:      10,
		RateLimitBurst: 20,
	})

	go func() {
		// The agent process dying takes the whole bridge down; a
		// supervisor restart is cleaner than a half-alive server.
		<-proc.Done()
		log.Error("agent process exited, shutting down")
		stop()
	}()

	log.Info("agentplane bridge starting", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server exited properly")
}
