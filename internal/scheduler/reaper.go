package scheduler

import (
	"context"
	"fmt"
	"time"

	"agentplane/internal/store"
)

// Sweep force-fails the owner's active jobs that have exceeded the stale
// threshold. Age is measured from StartedAt, falling back to CreatedAt
// for jobs that never left queued. Each reaped job gets exactly one
// terminal event. Returns the number of jobs reaped.
func (s *Scheduler) Sweep(ctx context.Context, ownerID string) (int, error) {
	jobs, err := s.store.ListActiveJobs(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}

	now := s.now()
	reaped := 0
	for _, job := range jobs {
		ref := job.CreatedAt
		if job.StartedAt != nil {
			ref = *job.StartedAt
		}
		age := now.Sub(ref)
		if age <= s.cfg.StaleAfter {
			continue
		}

		job.Status = store.JobStatusFailed
		job.Error = fmt.Sprintf("job exceeded the %s stale threshold (age %s) and was force-failed", s.cfg.StaleAfter, age.Round(time.Second))
		completed := now
		job.CompletedAt = &completed
		if err := s.store.SaveJob(ctx, job); err != nil {
			s.log.Error("failed to persist reaped job", "job_id", job.ID, "error", err)
			continue
		}

		s.events.Sink(job.ID).Emit(ctx, store.JobEvent{
			Event:   "job/failed",
			Status:  string(store.JobStatusFailed),
			Message: job.Error,
		})
		s.log.Warn("reaped stale job", "job_id", job.ID, "owner_id", ownerID, "age", age)
		reaped++
	}
	return reaped, nil
}

// RunReaper sweeps all owners' active jobs at the given interval until
// ctx is cancelled. Intended to run as a background goroutine from main.
func (s *Scheduler) RunReaper(ctx context.Context, interval time.Duration, owners func(context.Context) ([]string, error)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := owners(ctx)
			if err != nil {
				s.log.Error("reaper could not list owners", "error", err)
				continue
			}
			for _, id := range ids {
				if _, err := s.Sweep(ctx, id); err != nil {
					s.log.Error("reaper sweep failed", "owner_id", id, "error", err)
				}
			}
		}
	}
}
