package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agentplane/pkg/api"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("AGENTPLANE")
	viper.AutomaticEnv()
}

func TestStartCommand_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/jobs" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Owner-ID") != "dev-1" {
			t.Errorf("expected owner header, got: %s", r.Header.Get("X-Owner-ID"))
		}

		var req api.StartJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.ProjectID != "my-app" {
			t.Errorf("expected project my-app, got: %s", req.ProjectID)
		}
		if req.ScenarioPackID != "pack-1" {
			t.Errorf("expected pack pack-1, got: %s", req.ScenarioPackID)
		}
		if req.Mode != "full" {
			t.Errorf("expected mode full, got: %s", req.Mode)
		}

		resp := api.StartJobResponse{
			JobID:       "job-123",
			Status:      "queued",
			ActiveCount: 1,
			ActiveLimit: 3,
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("owner", "dev-1")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"start", "--project", "my-app", "--pack", "pack-1", "--mode", "full"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "job-123") {
		t.Errorf("expected job ID in output, got: %s", output)
	}
	if !strings.Contains(output, "1/3") {
		t.Errorf("expected active count in output, got: %s", output)
	}
}

func TestStartCommand_MissingOwner(t *testing.T) {
	resetViper()

	viper.Set("url", "http://localhost:7171")
	viper.Set("owner", "")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"start", "--project", "my-app", "--pack", "pack-1"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Owner id not found") {
		t.Errorf("expected owner error message, got: %s", output)
	}
}

func TestStartCommand_MissingProject(t *testing.T) {
	resetViper()

	// Reset flags from previous tests
	startCmd.Flags().Set("project", "")
	startCmd.Flags().Set("pack", "")

	viper.Set("url", "http://localhost:7171")
	viper.Set("owner", "dev-1")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"start", "--pack", "pack-1"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "--project is required") {
		t.Errorf("expected project error message, got: %s", output)
	}
}

func TestStartCommand_CapacityRejection(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "owner dev-1 has 3 active jobs (limit 3)", Code: "429"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("owner", "dev-1")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"start", "--project", "my-app", "--pack", "pack-1"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Error (429)") {
		t.Errorf("expected 429 error in output, got: %s", output)
	}
	if !strings.Contains(output, "active jobs") {
		t.Errorf("expected capacity message in output, got: %s", output)
	}
}
