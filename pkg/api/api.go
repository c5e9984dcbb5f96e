// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the bridge server.
package api

import (
	"encoding/json"
	"time"
)

// StartJobRequest is the request body for starting an execution job.
type StartJobRequest struct {
	ProjectID      string   `json:"project_id"`
	ScenarioPackID string   `json:"scenario_pack_id"`
	Mode           string   `json:"mode"`
	ScenarioIDs    []string `json:"scenario_ids,omitempty"`
	// MaxAttempts is the per-scenario attempt budget. Zero means the
	// server default. Values are clamped to the supported range.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// StartJobResponse is the response body after starting a job.
type StartJobResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	ActiveCount int    `json:"active_count"`
	ActiveLimit int    `json:"active_limit"`
}

// SummaryResponse aggregates scenario outcomes for a job.
type SummaryResponse struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked,omitempty"`
}

// AuditResponse records which agent turn produced the job's outcome.
type AuditResponse struct {
	Model       string     `json:"model,omitempty"`
	ThreadID    string     `json:"thread_id,omitempty"`
	TurnID      string     `json:"turn_id,omitempty"`
	TurnStatus  string     `json:"turn_status,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ScenarioItemResponse is one scenario's terminal outcome.
type ScenarioItemResponse struct {
	ScenarioID        string          `json:"scenario_id"`
	Status            string          `json:"status"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       time.Time       `json:"completed_at"`
	Observed          string          `json:"observed,omitempty"`
	Expected          string          `json:"expected,omitempty"`
	FailureHypothesis string          `json:"failure_hypothesis,omitempty"`
	Artifacts         json.RawMessage `json:"artifacts,omitempty"`
}

// RunResponse is the resolved run artifact attached to a job.
type RunResponse struct {
	ID          string                 `json:"id"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Items       []ScenarioItemResponse `json:"items"`
}

// FixAttemptResponse is the resolved fix artifact attached to a job.
type FixAttemptResponse struct {
	ID          string    `json:"id"`
	ScenarioIDs []string  `json:"scenario_ids"`
	Explanation string    `json:"explanation"`
	CreatedAt   time.Time `json:"created_at"`
}

// PullRequestResponse is one opened pull request.
type PullRequestResponse struct {
	ID     string `json:"id"`
	URL    string `json:"url,omitempty"`
	Branch string `json:"branch,omitempty"`
	Title  string `json:"title,omitempty"`
}

// JobResponse is the response body for job status queries. Run, fix and
// PR artifacts are resolved inline when present.
type JobResponse struct {
	ID             string                `json:"id"`
	ProjectID      string                `json:"project_id"`
	ScenarioPackID string                `json:"scenario_pack_id"`
	Mode           string                `json:"mode"`
	Status         string                `json:"status"`
	CreatedAt      time.Time             `json:"created_at"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
	Summary        SummaryResponse       `json:"summary"`
	Audit          AuditResponse         `json:"audit"`
	Error          *string               `json:"error,omitempty"`
	Run            *RunResponse          `json:"run,omitempty"`
	FixAttempt     *FixAttemptResponse   `json:"fix_attempt,omitempty"`
	PullRequests   []PullRequestResponse `json:"pull_requests,omitempty"`
}

// ListJobsResponse is the response body for listing active jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// EventResponse is a single entry in a job's event feed.
type EventResponse struct {
	Sequence   int64     `json:"sequence"`
	Event      string    `json:"event"`
	Phase      string    `json:"phase,omitempty"`
	Status     string    `json:"status,omitempty"`
	Message    string    `json:"message,omitempty"`
	ScenarioID string    `json:"scenario_id,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventsResponse is a cursor page of a job's event feed. NextCursor is
// fed back as ?cursor= to resume after the last returned event.
type EventsResponse struct {
	Data       []EventResponse `json:"data"`
	Cursor     int64           `json:"cursor"`
	NextCursor int64           `json:"next_cursor"`
	HasMore    bool            `json:"has_more"`
}

// LoginStartResponse is the response body after starting a login flow.
type LoginStartResponse struct {
	LoginID string `json:"login_id"`
	AuthURL string `json:"auth_url,omitempty"`
}

// LoginCompletedResponse reports the outcome of a login flow.
type LoginCompletedResponse struct {
	LoginID string `json:"login_id"`
	Done    bool   `json:"done"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// LoginCancelRequest is the request body for cancelling a login flow.
type LoginCancelRequest struct {
	LoginID string `json:"login_id"`
}

// AccountResponse wraps the agent's account payload verbatim.
type AccountResponse struct {
	Account map[string]any `json:"account,omitempty"`
}

// GeneratePackRequest is the request body for generating a scenario pack
// from a plain-language description of the system under test.
type GeneratePackRequest struct {
	ProjectID   string `json:"project_id"`
	Description string `json:"description"`
	Count       int    `json:"count,omitempty"`
}

// GeneratePackResponse is the response body after generating a pack.
type GeneratePackResponse struct {
	PackID    string `json:"pack_id"`
	Scenarios int    `json:"scenarios"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
