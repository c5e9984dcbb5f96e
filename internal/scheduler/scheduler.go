// Package scheduler owns the execution job lifecycle: creation under the
// per-owner concurrency cap, the sequential scenario run, fix/PR phase
// hand-off, and stale job reaping.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentplane/internal/agent"
	"agentplane/internal/events"
	"agentplane/internal/repoactions"
	"agentplane/internal/scenario"
	"agentplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxActiveJobs caps queued+running jobs per owner. Exceeding
	// it rejects the new job outright: deliberate backpressure, not
	// silent queuing.
	DefaultMaxActiveJobs = 3

	// DefaultStaleAfter is the whole-job wall-clock budget enforced by
	// the reaper.
	DefaultStaleAfter = 12 * time.Minute
)

// CapacityError rejects job creation for an owner at the active cap.
type CapacityError struct {
	OwnerID string
	Active  int
	Limit   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("owner %s already has %d active jobs (limit %d), retry after one finishes", e.OwnerID, e.Active, e.Limit)
}

// Config tunes the scheduler.
type Config struct {
	MaxActiveJobs int
	StaleAfter    time.Duration

	// DefaultMaxAttempts fills the per-scenario attempt budget for jobs
	// that do not set one. Clamped to the supported range.
	DefaultMaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.MaxActiveJobs <= 0 {
		c.MaxActiveJobs = DefaultMaxActiveJobs
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	c.DefaultMaxAttempts = scenario.ClampAttempts(c.DefaultMaxAttempts)
	return c
}

// ScenarioRunner drives one scenario to a terminal run item.
// Satisfied by *scenario.Runner.
type ScenarioRunner interface {
	RunScenario(ctx context.Context, jobID uuid.UUID, threadID string, sc store.Scenario, maxAttempts int, sink scenario.EventSink) (store.ScenarioRunItem, agent.Turn)
}

// ThreadStarter opens agent threads. Satisfied by *agent.Bridge.
type ThreadStarter interface {
	StartThread(ctx context.Context) (string, error)
}

// Store is the slice of the storage adapter the scheduler needs.
type Store interface {
	store.JobStore
	store.RunStore
	store.PackStore
	store.FixStore
}

// Scheduler creates and runs execution jobs.
type Scheduler struct {
	store     Store
	events    *events.Log
	runner    ScenarioRunner
	threads   ThreadStarter
	planner   repoactions.Planner
	readiness repoactions.Readiness
	cfg       Config
	log       *slog.Logger
	now       func() time.Time

	// mu makes the owner-count check and job insert one atomic step.
	mu sync.Mutex
}

// New creates a Scheduler. planner may be nil when no fix adapter is
// deployed; jobs that then need a fix phase fail with an explicit error.
func New(s Store, eventLog *events.Log, runner ScenarioRunner, threads ThreadStarter, planner repoactions.Planner, readiness repoactions.Readiness, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if readiness == nil {
		readiness = repoactions.AlwaysReady{}
	}
	return &Scheduler{
		store:     s,
		events:    eventLog,
		runner:    runner,
		threads:   threads,
		planner:   planner,
		readiness: readiness,
		cfg:       cfg.withDefaults(),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Limit returns the per-owner active job cap.
func (s *Scheduler) Limit() int { return s.cfg.MaxActiveJobs }

// ActiveCount returns the owner's current queued+running job count.
func (s *Scheduler) ActiveCount(ctx context.Context, ownerID string) (int, error) {
	return s.store.CountActiveJobs(ctx, ownerID)
}

// Create registers a new job in queued state. Owners at the active cap
// are rejected with a CapacityError and no state is mutated.
func (s *Scheduler) Create(ctx context.Context, ownerID, projectID, packID string, mode store.ExecutionMode, constraints store.Constraints) (*store.ExecutionJob, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if !store.ValidMode(mode) {
		return nil, fmt.Errorf("unknown execution mode %q", mode)
	}
	if _, err := s.store.GetScenarioPack(ctx, packID); err != nil {
		return nil, fmt.Errorf("scenario pack %s: %w", packID, err)
	}

	// Reap stale jobs first so abandoned work does not hold the cap.
	if _, err := s.Sweep(ctx, ownerID); err != nil {
		s.log.Warn("stale job sweep failed", "owner_id", ownerID, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.store.CountActiveJobs(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count active jobs: %w", err)
	}
	if active >= s.cfg.MaxActiveJobs {
		return nil, &CapacityError{OwnerID: ownerID, Active: active, Limit: s.cfg.MaxActiveJobs}
	}

	if constraints.MaxAttempts == 0 {
		constraints.MaxAttempts = s.cfg.DefaultMaxAttempts
	}

	job := &store.ExecutionJob{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		ProjectID:      projectID,
		ScenarioPackID: packID,
		Mode:           mode,
		Status:         store.JobStatusQueued,
		Constraints:    constraints,
		CreatedAt:      s.now(),
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	s.events.Sink(job.ID).Emit(ctx, store.JobEvent{
		Event:   "job/queued",
		Status:  string(store.JobStatusQueued),
		Message: fmt.Sprintf("job queued in mode %s", mode),
	})
	return job, nil
}

// GetJob returns a job by id.
func (s *Scheduler) GetJob(ctx context.Context, id uuid.UUID) (*store.ExecutionJob, error) {
	return s.store.GetJobByID(ctx, id)
}

// ListActive returns the owner's queued and running jobs.
func (s *Scheduler) ListActive(ctx context.Context, ownerID string) ([]*store.ExecutionJob, error) {
	return s.store.ListActiveJobs(ctx, ownerID)
}

// Run executes a queued job to its terminal status. Scenarios run
// strictly sequentially; the live job status is re-read at each scenario
// boundary so external cancellation and the reaper take effect between
// scenarios, never mid-attempt.
func (s *Scheduler) Run(ctx context.Context, jobID uuid.UUID) error {
	tracer := otel.Tracer("job-scheduler")
	ctx, span := tracer.Start(ctx, "run_job",
		trace.WithAttributes(attribute.String("job.id", jobID.String())),
	)
	defer span.End()

	job, err := s.store.GetJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != store.JobStatusQueued {
		return fmt.Errorf("job %s is %s, only queued jobs can run", jobID, job.Status)
	}

	sink := s.events.Sink(job.ID)

	job.Status = store.JobStatusRunning
	if job.StartedAt == nil {
		started := s.now()
		job.StartedAt = &started
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save job %s: %w", jobID, err)
	}
	sink.Emit(ctx, store.JobEvent{
		Event:   "job/running",
		Status:  string(store.JobStatusRunning),
		Message: "job started",
	})

	scenarios, err := s.resolveScenarios(ctx, job)
	if err != nil {
		return s.failJob(ctx, job, sink, fmt.Sprintf("resolve scenarios: %v", err))
	}

	threadID, err := s.threads.StartThread(ctx)
	if err != nil {
		return s.failJob(ctx, job, sink, fmt.Sprintf("start agent thread: %v", err))
	}
	job.Audit.ThreadID = threadID

	run := &store.Run{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		StartedAt: s.now(),
	}

	aborted := false
	for _, sc := range scenarios {
		live, err := s.store.GetJobByID(ctx, job.ID)
		if err != nil {
			return s.failJob(ctx, job, sink, fmt.Sprintf("re-read job status: %v", err))
		}
		if live.Status != store.JobStatusRunning {
			s.log.Info("job no longer running, aborting remaining scenarios",
				"job_id", job.ID, "status", live.Status)
			aborted = true
			break
		}

		item, lastTurn := s.runner.RunScenario(ctx, job.ID, threadID, sc, job.Constraints.MaxAttempts, sink)
		run.Items = append(run.Items, item)

		if lastTurn.ID != "" {
			job.Audit = store.Audit{
				Model:      lastTurn.Model,
				ThreadID:   threadID,
				TurnID:     lastTurn.ID,
				TurnStatus: lastTurn.Status,
			}
			if !lastTurn.CompletedAt.IsZero() {
				t := lastTurn.CompletedAt
				job.Audit.CompletedAt = &t
			}
		}

		sink.Emit(ctx, store.JobEvent{
			Event:      "scenario/result",
			Status:     string(item.Status),
			ScenarioID: sc.ID,
			Stage:      store.StageRun,
			Message:    scenarioResultMessage(item),
		})
	}

	completed := s.now()
	run.CompletedAt = &completed
	job.RunID = run.ID
	if err := s.store.SaveRun(ctx, run); err != nil {
		return s.failJob(ctx, job, sink, fmt.Sprintf("persist run: %v", err))
	}
	sink.Emit(ctx, store.JobEvent{
		Event:   "run/persisted",
		Status:  "persisted",
		Stage:   store.StageRun,
		Message: fmt.Sprintf("run %s persisted with %d items", run.ID, len(run.Items)),
	})

	if aborted {
		// Whatever mutated the status owns the terminal transition, so
		// only attach the partial run to the live record.
		live, err := s.store.GetJobByID(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("re-read aborted job %s: %w", jobID, err)
		}
		live.RunID = run.ID
		live.Audit = job.Audit
		if err := s.store.SaveJob(ctx, live); err != nil {
			return fmt.Errorf("save aborted job %s: %w", jobID, err)
		}
		return nil
	}

	job.Summary = summarize(len(scenarios), run.Items)
	span.SetAttributes(
		attribute.Int("job.passed", job.Summary.Passed),
		attribute.Int("job.failed", job.Summary.Failed),
	)

	if job.Mode != store.ModeRun && job.Summary.Failed > 0 {
		if err := s.runFixPhase(ctx, job, run, sink); err != nil {
			return s.failJob(ctx, job, sink, err.Error())
		}
	}

	job.Status = store.JobStatusCompleted
	if job.Summary.Failed > 0 {
		job.Status = store.JobStatusFailed
	}
	job.CompletedAt = &completed
	if err := s.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save terminal job %s: %w", jobID, err)
	}

	sink.Emit(ctx, store.JobEvent{
		Event:  "job/" + string(job.Status),
		Status: string(job.Status),
		Message: fmt.Sprintf("job finished: %d/%d passed, %d failed",
			job.Summary.Passed, job.Summary.Total, job.Summary.Failed),
	})
	return nil
}

// resolveScenarios loads the job's pack and applies the scenario subset
// constraint, keeping request order. Requested ids missing from the pack are
// kept as bare scenarios so they still end with a terminal (failed) item
// instead of silently vanishing.
func (s *Scheduler) resolveScenarios(ctx context.Context, job *store.ExecutionJob) ([]store.Scenario, error) {
	pack, err := s.store.GetScenarioPack(ctx, job.ScenarioPackID)
	if err != nil {
		return nil, err
	}
	if len(job.Constraints.ScenarioIDs) == 0 {
		return pack.Scenarios, nil
	}

	byID := make(map[string]store.Scenario, len(pack.Scenarios))
	for _, sc := range pack.Scenarios {
		byID[sc.ID] = sc
	}

	var out []store.Scenario
	for _, id := range job.Constraints.ScenarioIDs {
		if sc, ok := byID[id]; ok {
			out = append(out, sc)
		} else {
			out = append(out, store.Scenario{
				ID:           id,
				Title:        "unknown scenario",
				Instructions: fmt.Sprintf("scenario %s was requested but is not in pack %s", id, job.ScenarioPackID),
			})
		}
	}
	return out, nil
}

// runFixPhase hands failed scenarios to the fix/PR collaborator. It runs
// only after the run phase is fully terminal. A fix phase that reports no
// details for a job with failures is an error, never a silent skip.
func (s *Scheduler) runFixPhase(ctx context.Context, job *store.ExecutionJob, run *store.Run, sink *events.JobSink) error {
	var failed []store.ScenarioRunItem
	for _, item := range run.Items {
		if item.Status == store.RunStatusFailed {
			failed = append(failed, item)
		}
	}

	if job.Mode == store.ModeFull {
		ok, reason, err := s.readiness.Ready(ctx, job.ProjectID)
		if err != nil {
			return fmt.Errorf("pr readiness check: %v", err)
		}
		if !ok {
			return fmt.Errorf("pr automation preconditions not met for project %s: %s", job.ProjectID, reason)
		}
	}

	if s.planner == nil {
		return fmt.Errorf("%d scenarios failed but no fix planner is configured", len(failed))
	}

	sink.Emit(ctx, store.JobEvent{
		Event:   "fix/started",
		Status:  "running",
		Stage:   store.StageFix,
		Message: fmt.Sprintf("planning fixes for %d failed scenarios", len(failed)),
	})

	res, err := s.planner.PlanFix(ctx, repoactions.FixRequest{Job: job, Failed: failed})
	if err != nil {
		return fmt.Errorf("fix phase: %v", err)
	}
	if res == nil || res.FixAttemptID == "" || res.Explanation == "" {
		return fmt.Errorf("fix phase reported no attempt details for %d failed scenarios", len(failed))
	}

	attempt := &store.FixAttempt{
		ID:          res.FixAttemptID,
		JobID:       job.ID,
		Explanation: res.Explanation,
		CreatedAt:   s.now(),
	}
	for _, item := range failed {
		attempt.ScenarioIDs = append(attempt.ScenarioIDs, item.ScenarioID)
	}
	if err := s.store.SaveFixAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("persist fix attempt: %v", err)
	}
	job.FixAttemptID = res.FixAttemptID
	job.PullRequestIDs = res.PullRequestIDs

	for _, prID := range res.PullRequestIDs {
		rec := &store.PullRequestRecord{ID: prID, JobID: job.ID, CreatedAt: s.now()}
		if err := s.store.SavePullRequest(ctx, rec); err != nil {
			return fmt.Errorf("persist pull request %s: %v", prID, err)
		}
		sink.Emit(ctx, store.JobEvent{
			Event:   "pr/opened",
			Status:  "completed",
			Stage:   store.StagePR,
			Message: fmt.Sprintf("pull request %s opened", prID),
		})
	}
	sink.Emit(ctx, store.JobEvent{
		Event:   "fix/completed",
		Status:  "completed",
		Stage:   store.StageFix,
		Message: res.Explanation,
	})
	return nil
}

// failJob records a job-level error and the terminal failed state.
func (s *Scheduler) failJob(ctx context.Context, job *store.ExecutionJob, sink *events.JobSink, msg string) error {
	job.Status = store.JobStatusFailed
	job.Error = msg
	completed := s.now()
	job.CompletedAt = &completed
	if err := s.store.SaveJob(ctx, job); err != nil {
		s.log.Error("failed to persist job failure", "job_id", job.ID, "error", err)
	}
	sink.Emit(ctx, store.JobEvent{
		Event:   "job/failed",
		Status:  string(store.JobStatusFailed),
		Message: msg,
	})
	return fmt.Errorf("job %s failed: %s", job.ID, msg)
}

func summarize(total int, items []store.ScenarioRunItem) store.Summary {
	sum := store.Summary{Total: total}
	for _, item := range items {
		switch item.Status {
		case store.RunStatusPassed:
			sum.Passed++
		case store.RunStatusFailed:
			sum.Failed++
		}
	}
	// Scenarios that never produced an item (aborted mid-job) count as
	// blocked rather than silently dropped.
	if n := total - len(items); n > 0 {
		sum.Blocked = n
	}
	return sum
}

func scenarioResultMessage(item store.ScenarioRunItem) string {
	if item.Status == store.RunStatusPassed {
		return fmt.Sprintf("scenario %s passed", item.ScenarioID)
	}
	if item.FailureHypothesis != "" {
		return fmt.Sprintf("scenario %s failed: %s", item.ScenarioID, item.FailureHypothesis)
	}
	return fmt.Sprintf("scenario %s failed", item.ScenarioID)
}
