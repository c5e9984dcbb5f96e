// Package memory implements the store interfaces in process memory.
// It is the default backend when no database is configured and the
// backend used by tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"agentplane/internal/store"

	"github.com/google/uuid"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]store.ExecutionJob
	event map[uuid.UUID][]store.JobEvent
	runs  map[string]store.Run
	packs map[string]store.ScenarioPack
	fixes map[string]store.FixAttempt
	prs   map[uuid.UUID][]store.PullRequestRecord

	nextEventID int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:  make(map[uuid.UUID]store.ExecutionJob),
		event: make(map[uuid.UUID][]store.JobEvent),
		runs:  make(map[string]store.Run),
		packs: make(map[string]store.ScenarioPack),
		fixes: make(map[string]store.FixAttempt),
		prs:   make(map[uuid.UUID][]store.PullRequestRecord),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) SaveJob(ctx context.Context, job *store.ExecutionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (*store.ExecutionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &job, nil
}

func (s *Store) ListActiveJobs(ctx context.Context, ownerID string) ([]*store.ExecutionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*store.ExecutionJob
	for _, job := range s.jobs {
		if job.OwnerID == ownerID && job.Status.Active() {
			j := job
			active = append(active, &j)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

func (s *Store) CountActiveJobs(ctx context.Context, ownerID string) (int, error) {
	jobs, err := s.ListActiveJobs(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

func (s *Store) ListOwnersWithActiveJobs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var owners []string
	for _, job := range s.jobs {
		if !job.Status.Active() {
			continue
		}
		if _, ok := seen[job.OwnerID]; ok {
			continue
		}
		seen[job.OwnerID] = struct{}{}
		owners = append(owners, job.OwnerID)
	}
	sort.Strings(owners)
	return owners, nil
}

func (s *Store) AppendEvent(ctx context.Context, event *store.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	stored := *event
	stored.ID = s.nextEventID
	s.event[event.JobID] = append(s.event[event.JobID], stored)
	return nil
}

func (s *Store) ListEvents(ctx context.Context, jobID uuid.UUID, afterSeq int64, limit int) ([]store.JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.JobEvent
	for _, ev := range s.event[jobID] {
		if ev.Sequence > afterSeq {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LatestSequence(ctx context.Context, jobID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for _, ev := range s.event[jobID] {
		if ev.Sequence > max {
			max = ev.Sequence
		}
	}
	return max, nil
}

func (s *Store) DeleteJobEvents(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.event, jobID)
	return nil
}

func (s *Store) SaveRun(ctx context.Context, run *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *Store) GetRunByID(ctx context.Context, id string) (*store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &run, nil
}

func (s *Store) GetScenarioPack(ctx context.Context, id string) (*store.ScenarioPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pack, ok := s.packs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &pack, nil
}

func (s *Store) SaveScenarioPack(ctx context.Context, pack *store.ScenarioPack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packs[pack.ID] = *pack
	return nil
}

func (s *Store) SaveFixAttempt(ctx context.Context, attempt *store.FixAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixes[attempt.ID] = *attempt
	return nil
}

func (s *Store) GetFixAttempt(ctx context.Context, id string) (*store.FixAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.fixes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &attempt, nil
}

func (s *Store) SavePullRequest(ctx context.Context, pr *store.PullRequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prs[pr.JobID] = append(s.prs[pr.JobID], *pr)
	return nil
}

func (s *Store) ListPullRequests(ctx context.Context, jobID uuid.UUID) ([]store.PullRequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.PullRequestRecord(nil), s.prs[jobID]...), nil
}
