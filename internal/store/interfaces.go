package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// JobStore handles persistence of execution jobs.
type JobStore interface {
	// SaveJob inserts or fully replaces a job record.
	SaveJob(ctx context.Context, job *ExecutionJob) error

	// GetJobByID returns a job by its ID.
	GetJobByID(ctx context.Context, id uuid.UUID) (*ExecutionJob, error)

	// ListActiveJobs returns the owner's jobs in queued or running state.
	ListActiveJobs(ctx context.Context, ownerID string) ([]*ExecutionJob, error)

	// CountActiveJobs returns the number of queued/running jobs for an owner.
	// Implementations must make the count safe to use in a read-modify-write
	// at job creation time.
	CountActiveJobs(ctx context.Context, ownerID string) (int, error)

	// ListOwnersWithActiveJobs returns the distinct owner ids that have at
	// least one queued or running job. Used by the stale job reaper.
	ListOwnersWithActiveJobs(ctx context.Context) ([]string, error)
}

// EventStore handles append-only job event persistence.
// Sequence numbers are assigned by the caller (the event log's single
// writer), never by the store.
type EventStore interface {
	// AppendEvent stores one event. The event's Sequence must already be set.
	AppendEvent(ctx context.Context, event *JobEvent) error

	// ListEvents returns up to limit events with Sequence > afterSeq,
	// ordered by Sequence ascending.
	ListEvents(ctx context.Context, jobID uuid.UUID, afterSeq int64, limit int) ([]JobEvent, error)

	// LatestSequence returns the highest stored sequence for a job, 0 if none.
	LatestSequence(ctx context.Context, jobID uuid.UUID) (int64, error)

	// DeleteJobEvents removes a job's whole event history (bulk clear).
	DeleteJobEvents(ctx context.Context, jobID uuid.UUID) error
}

// RunStore handles persistence of run-phase results.
type RunStore interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRunByID(ctx context.Context, id string) (*Run, error)
}

// PackStore reads authored scenario packs. Pack authoring is external.
type PackStore interface {
	GetScenarioPack(ctx context.Context, id string) (*ScenarioPack, error)
	SaveScenarioPack(ctx context.Context, pack *ScenarioPack) error
}

// FixStore handles persistence of fix attempts and PR records.
type FixStore interface {
	SaveFixAttempt(ctx context.Context, attempt *FixAttempt) error
	GetFixAttempt(ctx context.Context, id string) (*FixAttempt, error)
	SavePullRequest(ctx context.Context, pr *PullRequestRecord) error
	ListPullRequests(ctx context.Context, jobID uuid.UUID) ([]PullRequestRecord, error)
}

// Store combines every adapter interface the orchestration core consumes.
type Store interface {
	JobStore
	EventStore
	RunStore
	PackStore
	FixStore

	Ping(ctx context.Context) error
}
