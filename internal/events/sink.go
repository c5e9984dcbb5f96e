package events

import (
	"context"

	"agentplane/internal/store"

	"github.com/google/uuid"
)

// JobSink binds the log to one job id so emitters don't carry it around.
// Append failures are logged and swallowed; progress events must never
// abort the work they describe.
type JobSink struct {
	log   *Log
	jobID uuid.UUID
}

// Sink returns an emitter bound to the given job.
func (l *Log) Sink(jobID uuid.UUID) *JobSink {
	return &JobSink{log: l, jobID: jobID}
}

// Emit appends one event for the bound job.
func (s *JobSink) Emit(ctx context.Context, event store.JobEvent) {
	if _, err := s.log.Append(ctx, s.jobID, event); err != nil {
		s.log.log.Warn("dropping job event", "job_id", s.jobID, "event", event.Event, "error", err)
	}
}
