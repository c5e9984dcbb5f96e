// Package store contains the persistence layer for agentplane.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionMode selects which phases a job runs after the scenario batch.
type ExecutionMode string

const (
	ModeRun  ExecutionMode = "run"
	ModeFix  ExecutionMode = "fix"
	ModePR   ExecutionMode = "pr"
	ModeFull ExecutionMode = "full"
)

// ValidMode reports whether m is a known execution mode.
func ValidMode(m ExecutionMode) bool {
	switch m {
	case ModeRun, ModeFix, ModePR, ModeFull:
		return true
	}
	return false
}

// JobStatus represents the state of an execution job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"

	// Declared for API compatibility; no implemented transition produces
	// these states. See DESIGN.md.
	JobStatusPausing   JobStatus = "pausing"
	JobStatusPaused    JobStatus = "paused"
	JobStatusStopping  JobStatus = "stopping"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusBlocked   JobStatus = "blocked"
)

// Active reports whether the status counts against the per-owner cap.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// Terminal reports whether the status is final. Terminal jobs are immutable.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Constraints narrow which scenarios a job runs and how hard it tries.
type Constraints struct {
	// ScenarioIDs restricts the run to a subset of the pack. Empty means all.
	ScenarioIDs []string `json:"scenario_ids,omitempty"`

	// MaxAttempts per scenario, clamped to [1,5]. Zero means the default (3).
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// Summary aggregates terminal scenario outcomes for a job.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
}

// Audit records the last agent turn observed while running a job.
type Audit struct {
	Model       string     `json:"model,omitempty"`
	ThreadID    string     `json:"thread_id,omitempty"`
	TurnID      string     `json:"turn_id,omitempty"`
	TurnStatus  string     `json:"turn_status,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ExecutionJob is one scheduler-managed unit of work: a scenario batch
// executed under one mode. Created queued; mutated only by the scheduler;
// immutable once terminal.
type ExecutionJob struct {
	ID             uuid.UUID     `json:"id"`
	OwnerID        string        `json:"owner_id"`
	ProjectID      string        `json:"project_id"`
	ScenarioPackID string        `json:"scenario_pack_id"`
	Mode           ExecutionMode `json:"mode"`
	Status         JobStatus     `json:"status"`
	Constraints    Constraints   `json:"constraints"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	RunID          string        `json:"run_id,omitempty"`
	FixAttemptID   string        `json:"fix_attempt_id,omitempty"`
	PullRequestIDs []string      `json:"pull_request_ids,omitempty"`
	Summary        Summary       `json:"summary"`
	Audit          Audit         `json:"audit"`
	Error          string        `json:"error,omitempty"`
}

// Stage identifies which job phase an event belongs to.
type Stage string

const (
	StageRun   Stage = "run"
	StageFix   Stage = "fix"
	StageRerun Stage = "rerun"
	StagePR    Stage = "pr"
)

// JobEvent is one append-only record in a job's event log.
// Sequence is per-job, starts at 1 and has no gaps or duplicates as
// observed through cursor reads.
type JobEvent struct {
	ID         int64           `json:"id"`
	JobID      uuid.UUID       `json:"job_id"`
	Sequence   int64           `json:"sequence"`
	Event      string          `json:"event"`
	Phase      string          `json:"phase,omitempty"`
	Status     string          `json:"status,omitempty"`
	Message    string          `json:"message,omitempty"`
	ScenarioID string          `json:"scenario_id,omitempty"`
	Stage      Stage           `json:"stage,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// RunStatus is the terminal outcome of one scenario.
type RunStatus string

const (
	RunStatusPassed RunStatus = "passed"
	RunStatusFailed RunStatus = "failed"
)

// ScenarioRunItem is the single terminal record produced for one scenario
// within one job. Every requested scenario ends with exactly one of these,
// synthesized if the agent never reported a result.
type ScenarioRunItem struct {
	ScenarioID        string          `json:"scenario_id"`
	Status            RunStatus       `json:"status"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       time.Time       `json:"completed_at"`
	Observed          string          `json:"observed,omitempty"`
	Expected          string          `json:"expected,omitempty"`
	FailureHypothesis string          `json:"failure_hypothesis,omitempty"`
	Artifacts         json.RawMessage `json:"artifacts,omitempty"`
}

// Run is the collected outcome of a job's run phase.
type Run struct {
	ID          string            `json:"id"`
	JobID       uuid.UUID         `json:"job_id"`
	Items       []ScenarioRunItem `json:"items"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Scenario is one test scenario inside a pack.
type Scenario struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Instructions string `json:"instructions"`
	Expected     string `json:"expected"`
}

// ScenarioPack is an authored batch of scenarios for a project.
// Authoring is external; packs are read-only here.
type ScenarioPack struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Name      string     `json:"name"`
	Scenarios []Scenario `json:"scenarios"`
	CreatedAt time.Time  `json:"created_at"`
}

// FixAttempt records the fix-phase outcome for a job with failures.
type FixAttempt struct {
	ID          string    `json:"id"`
	JobID       uuid.UUID `json:"job_id"`
	Explanation string    `json:"explanation"`
	ScenarioIDs []string  `json:"scenario_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// PullRequestRecord tracks a PR opened on behalf of a job.
type PullRequestRecord struct {
	ID        string    `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Branch    string    `json:"branch"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}
