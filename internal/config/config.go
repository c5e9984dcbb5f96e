// Package config handles environment variable loading for the bridge
// server: agent command, ports, timeouts and limits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the bridge server.
type Config struct {
	// Command line used to spawn the coding agent subprocess,
	// e.g. "codex agent --stdio".
	AgentCommand []string

	// Working directory the agent subprocess runs in.
	AgentWorkDir string

	// HTTP server port for the bridge API
	HTTPPort int

	// Database connection string. Empty selects the in-memory store.
	DatabaseURL string

	// Per-call deadline for protocol requests to the agent.
	RPCCallTimeout time.Duration

	// Whole-turn deadline, measured from turn start to its
	// completion notification.
	TurnTimeout time.Duration

	// Age at which active jobs are force-failed by the reaper.
	StaleJobAfter time.Duration

	// How often the reaper sweeps.
	ReaperInterval time.Duration

	// Per-owner cap on queued plus running jobs.
	MaxActiveJobs int

	// Default attempt budget per scenario when a job does not set one.
	DefaultMaxAttempts int

	// OTLP collector endpoint for traces.
	OTELEndpoint string

	// How long graceful shutdown waits for in-flight requests.
	ShutdownGrace time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	agentCmd := os.Getenv("AGENT_COMMAND")
	if agentCmd == "" {
		return nil, fmt.Errorf("AGENT_COMMAND is required")
	}

	port := 7171 // Default
	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		port = p
	}

	callTimeout, err := durationEnv("RPC_CALL_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	turnTimeout, err := durationEnv("TURN_TIMEOUT", 180*time.Second)
	if err != nil {
		return nil, err
	}
	staleAfter, err := durationEnv("STALE_JOB_AFTER", 12*time.Minute)
	if err != nil {
		return nil, err
	}
	reaperInterval, err := durationEnv("REAPER_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}
	shutdownGrace, err := durationEnv("SHUTDOWN_GRACE", 10*time.Second)
	if err != nil {
		return nil, err
	}

	maxActive, err := intEnv("MAX_ACTIVE_JOBS", 3)
	if err != nil {
		return nil, err
	}
	if maxActive < 1 {
		return nil, fmt.Errorf("MAX_ACTIVE_JOBS must be at least 1, got %d", maxActive)
	}

	maxAttempts, err := intEnv("DEFAULT_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}

	return &Config{
		AgentCommand:       strings.Fields(agentCmd),
		AgentWorkDir:       os.Getenv("AGENT_WORKDIR"),
		HTTPPort:           port,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RPCCallTimeout:     callTimeout,
		TurnTimeout:        turnTimeout,
		StaleJobAfter:      staleAfter,
		ReaperInterval:     reaperInterval,
		MaxActiveJobs:      maxActive,
		DefaultMaxAttempts: maxAttempts,
		OTELEndpoint:       otelEndpoint,
		ShutdownGrace:      shutdownGrace,
	}, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}
