package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresAgentCommand(t *testing.T) {
	t.Setenv("AGENT_COMMAND", "")

	_, err := Load()
	if err == nil {
		t.Error("expected error when AGENT_COMMAND is missing")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("AGENT_COMMAND", "codex agent --stdio")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.AgentCommand) != 3 || cfg.AgentCommand[0] != "codex" {
		t.Errorf("expected AgentCommand split into fields, got %v", cfg.AgentCommand)
	}
	if cfg.HTTPPort != 7171 {
		t.Errorf("expected HTTPPort 7171, got %d", cfg.HTTPPort)
	}
	if cfg.RPCCallTimeout != 15*time.Second {
		t.Errorf("expected RPCCallTimeout 15s, got %v", cfg.RPCCallTimeout)
	}
	if cfg.TurnTimeout != 180*time.Second {
		t.Errorf("expected TurnTimeout 180s, got %v", cfg.TurnTimeout)
	}
	if cfg.StaleJobAfter != 12*time.Minute {
		t.Errorf("expected StaleJobAfter 12m, got %v", cfg.StaleJobAfter)
	}
	if cfg.MaxActiveJobs != 3 {
		t.Errorf("expected MaxActiveJobs 3, got %d", cfg.MaxActiveJobs)
	}
	if cfg.DefaultMaxAttempts != 3 {
		t.Errorf("expected DefaultMaxAttempts 3, got %d", cfg.DefaultMaxAttempts)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("expected empty DatabaseURL, got %s", cfg.DatabaseURL)
	}
	if cfg.OTELEndpoint != "localhost:4317" {
		t.Errorf("expected OTELEndpoint localhost:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("AGENT_COMMAND", "my-agent")
	t.Setenv("PORT", "9999")
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("RPC_CALL_TIMEOUT", "5s")
	t.Setenv("TURN_TIMEOUT", "2m")
	t.Setenv("STALE_JOB_AFTER", "30m")
	t.Setenv("MAX_ACTIVE_JOBS", "5")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.RPCCallTimeout != 5*time.Second {
		t.Errorf("expected RPCCallTimeout 5s, got %v", cfg.RPCCallTimeout)
	}
	if cfg.TurnTimeout != 2*time.Minute {
		t.Errorf("expected TurnTimeout 2m, got %v", cfg.TurnTimeout)
	}
	if cfg.StaleJobAfter != 30*time.Minute {
		t.Errorf("expected StaleJobAfter 30m, got %v", cfg.StaleJobAfter)
	}
	if cfg.MaxActiveJobs != 5 {
		t.Errorf("expected MaxActiveJobs 5, got %d", cfg.MaxActiveJobs)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "not-a-port"},
		{"bad timeout", "RPC_CALL_TIMEOUT", "fifteen"},
		{"bad cap", "MAX_ACTIVE_JOBS", "zero"},
		{"cap below one", "MAX_ACTIVE_JOBS", "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("AGENT_COMMAND", "my-agent")
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
