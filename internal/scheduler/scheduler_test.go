package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"agentplane/internal/agent"
	"agentplane/internal/events"
	"agentplane/internal/repoactions"
	"agentplane/internal/scenario"
	"agentplane/internal/store"
	"agentplane/internal/store/memory"

	"github.com/google/uuid"
)

type fakeRunner struct {
	results map[string]store.ScenarioRunItem
	turns   map[string]agent.Turn
	onRun   func(scenarioID string)
	calls   []string
}

func (f *fakeRunner) RunScenario(ctx context.Context, jobID uuid.UUID, threadID string, sc store.Scenario, maxAttempts int, sink scenario.EventSink) (store.ScenarioRunItem, agent.Turn) {
	f.calls = append(f.calls, sc.ID)
	if f.onRun != nil {
		f.onRun(sc.ID)
	}
	item, ok := f.results[sc.ID]
	if !ok {
		item = store.ScenarioRunItem{Status: store.RunStatusPassed}
	}
	item.ScenarioID = sc.ID
	return item, f.turns[sc.ID]
}

type fakeThreads struct {
	err   error
	calls int
}

func (f *fakeThreads) StartThread(ctx context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "thread-1", nil
}

type fakePlanner struct {
	plan func(req repoactions.FixRequest) (*repoactions.FixResult, error)
}

func (f *fakePlanner) PlanFix(ctx context.Context, req repoactions.FixRequest) (*repoactions.FixResult, error) {
	return f.plan(req)
}

type fakeReadiness struct {
	ready  bool
	reason string
}

func (f fakeReadiness) Ready(ctx context.Context, projectID string) (bool, string, error) {
	return f.ready, f.reason, nil
}

type fixture struct {
	sched   *Scheduler
	store   *memory.Store
	log     *events.Log
	runner  *fakeRunner
	threads *fakeThreads
}

func newFixture(t *testing.T, planner repoactions.Planner, readiness repoactions.Readiness, cfg Config) *fixture {
	t.Helper()

	mem := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eventLog := events.NewLog(mem, logger)
	t.Cleanup(eventLog.Close)

	runner := &fakeRunner{
		results: make(map[string]store.ScenarioRunItem),
		turns:   make(map[string]agent.Turn),
	}
	threads := &fakeThreads{}

	return &fixture{
		sched:   New(mem, eventLog, runner, threads, planner, readiness, cfg, logger),
		store:   mem,
		log:     eventLog,
		runner:  runner,
		threads: threads,
	}
}

func (f *fixture) savePack(t *testing.T, id string, scenarioIDs ...string) {
	t.Helper()
	pack := store.ScenarioPack{ID: id, ProjectID: "proj-1"}
	for _, sid := range scenarioIDs {
		pack.Scenarios = append(pack.Scenarios, store.Scenario{
			ID:           sid,
			Title:        "scenario " + sid,
			Instructions: "do the thing",
			Expected:     "the thing is done",
		})
	}
	if err := f.store.SaveScenarioPack(context.Background(), &pack); err != nil {
		t.Fatalf("save pack: %v", err)
	}
}

func (f *fixture) readAll(t *testing.T, jobID uuid.UUID) []store.JobEvent {
	t.Helper()
	page, err := f.log.Read(context.Background(), jobID, 0, events.MaxPageLimit)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	return page.Items
}

func countEvents(evs []store.JobEvent, name string) int {
	n := 0
	for _, ev := range evs {
		if ev.Event == name {
			n++
		}
	}
	return n
}

func TestCreateRejectsAtCapacity(t *testing.T) {
	f := newFixture(t, nil, nil, Config{MaxActiveJobs: 3})
	f.savePack(t, "pack-1", "s1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeRun, store.Constraints{}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	_, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeRun, store.Constraints{})
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if capErr.Active != 3 || capErr.Limit != 3 {
		t.Errorf("CapacityError = %+v, want Active=3 Limit=3", capErr)
	}

	// The rejected job must not have been queued.
	count, err := f.store.CountActiveJobs(ctx, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("active count after rejection = %d, want 3", count)
	}

	// Another owner is unaffected by owner-a's cap.
	if _, err := f.sched.Create(ctx, "owner-b", "proj-1", "pack-1", store.ModeRun, store.Constraints{}); err != nil {
		t.Errorf("create for other owner: %v", err)
	}
}

func TestCreateAppliesDefaultMaxAttempts(t *testing.T) {
	f := newFixture(t, nil, nil, Config{DefaultMaxAttempts: 5})
	f.savePack(t, "pack-1", "s1")
	ctx := context.Background()

	job, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeRun, store.Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if job.Constraints.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want configured default 5", job.Constraints.MaxAttempts)
	}

	// An explicit budget is never overridden by the default.
	job, err = f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeRun, store.Constraints{MaxAttempts: 2})
	if err != nil {
		t.Fatal(err)
	}
	if job.Constraints.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want explicit 2", job.Constraints.MaxAttempts)
	}

	// A zero config falls back to the standard budget.
	f2 := newFixture(t, nil, nil, Config{})
	f2.savePack(t, "pack-1", "s1")
	job, err = f2.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeRun, store.Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if job.Constraints.MaxAttempts != scenario.DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", job.Constraints.MaxAttempts, scenario.DefaultMaxAttempts)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	f.savePack(t, "pack-1", "s1")
	ctx := context.Background()

	tests := []struct {
		name    string
		ownerID string
		packID  string
		mode    store.ExecutionMode
	}{
		{"missing owner", "", "pack-1", store.ModeRun},
		{"unknown mode", "owner-a", "pack-1", store.ExecutionMode("turbo")},
		{"unknown pack", "owner-a", "pack-missing", store.ModeRun},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.sched.Create(ctx, tc.ownerID, "proj-1", tc.packID, tc.mode, store.Constraints{}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRunAllPassedCompletes(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	f.savePack(t, "pack-1", "s1", "s2")
	ctx := context.Background()

	f.runner.results["s1"] = store.ScenarioRunItem{Status: store.RunStatusPassed}
	f.runner.results["s2"] = store.ScenarioRunItem{Status: store.RunStatusPassed}
	f.runner.turns["s2"] = agent.Turn{
		ID: "turn-9", ThreadID: "thread-1", Status: agent.TurnStatusCompleted,
		Model: "agent-large", CompletedAt: time.Now().UTC(),
	}

	job, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeRun, store.Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Run(ctx, job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := f.sched.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Summary != (store.Summary{Total: 2, Passed: 2}) {
		t.Errorf("summary = %+v", got.Summary)
	}
	if got.CompletedAt == nil || got.StartedAt == nil {
		t.Error("expected StartedAt and CompletedAt to be set")
	}
	if got.Audit.TurnID != "turn-9" || got.Audit.Model != "agent-large" {
		t.Errorf("audit = %+v, want last turn recorded", got.Audit)
	}

	run, err := f.store.GetRunByID(ctx, got.RunID)
	if err != nil {
		t.Fatalf("run record not persisted: %v", err)
	}
	if len(run.Items) != 2 {
		t.Errorf("run items = %d, want 2", len(run.Items))
	}

	evs := f.readAll(t, job.ID)
	if n := countEvents(evs, "job/completed"); n != 1 {
		t.Errorf("job/completed events = %d, want 1", n)
	}
	if n := countEvents(evs, "scenario/result"); n != 2 {
		t.Errorf("scenario/result events = %d, want 2", n)
	}
}

func TestRunFailuresFailJob(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	f.savePack(t, "pack-1", "s1", "s2")
	ctx := context.Background()

	f.runner.results["s1"] = store.ScenarioRunItem{Status: store.RunStatusPassed}
	f.runner.results["s2"] = store.ScenarioRunItem{
		Status:            store.RunStatusFailed,
		FailureHypothesis: "assertion mismatch in checkout flow",
	}

	job, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeRun, store.Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Run(ctx, job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := f.sched.GetJob(ctx, job.ID)
	if got.Status != store.JobStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Summary != (store.Summary{Total: 2, Passed: 1, Failed: 1}) {
		t.Errorf("summary = %+v", got.Summary)
	}
	// Mode run never triggers a fix phase, even with failures.
	if got.FixAttemptID != "" {
		t.Errorf("fix attempt = %q, want none in run mode", got.FixAttemptID)
	}

	evs := f.readAll(t, job.ID)
	if n := countEvents(evs, "job/failed"); n != 1 {
		t.Errorf("job/failed events = %d, want 1", n)
	}
}

func TestRunScenarioSubsetKeepsRequestOrder(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	f.savePack(t, "pack-1", "s1", "s2", "s3")
	ctx := context.Background()

	job, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeRun, store.Constraints{
		ScenarioIDs: []string{"s3", "s1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Run(ctx, job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.runner.calls) != 2 || f.runner.calls[0] != "s3" || f.runner.calls[1] != "s1" {
		t.Errorf("scenarios run = %v, want [s3 s1]", f.runner.calls)
	}
	got, _ := f.sched.GetJob(ctx, job.ID)
	if got.Summary.Total != 2 {
		t.Errorf("summary total = %d, want 2", got.Summary.Total)
	}
}

func TestRunAbortsWhenJobLeavesRunning(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	f.savePack(t, "pack-1", "s1", "s2", "s3")
	ctx := context.Background()

	job, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeRun, store.Constraints{})
	if err != nil {
		t.Fatal(err)
	}

	// Simulate an external transition after the first scenario. The
	// scheduler must notice at the next boundary and stop.
	f.runner.onRun = func(scenarioID string) {
		if scenarioID != "s1" {
			return
		}
		j, err := f.store.GetJobByID(ctx, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		j.Status = store.JobStatusFailed
		j.Error = "force-failed externally"
		if err := f.store.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.sched.Run(ctx, job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.runner.calls) != 1 {
		t.Errorf("scenarios run = %v, want only s1", f.runner.calls)
	}
	got, _ := f.sched.GetJob(ctx, job.ID)
	if got.Status != store.JobStatusFailed || got.Error != "force-failed externally" {
		t.Errorf("job = status %s error %q, external transition must stand", got.Status, got.Error)
	}
	// Partial results are still persisted for inspection.
	run, err := f.store.GetRunByID(ctx, got.RunID)
	if err != nil {
		t.Fatalf("partial run not persisted: %v", err)
	}
	if len(run.Items) != 1 {
		t.Errorf("partial run items = %d, want 1", len(run.Items))
	}
}

func TestRunThreadStartFailureFailsJob(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	f.savePack(t, "pack-1", "s1")
	ctx := context.Background()

	f.threads.err = agent.ErrBridgeUnreachable

	job, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeRun, store.Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Run(ctx, job.ID); err == nil {
		t.Fatal("expected error when thread start fails")
	}

	got, _ := f.sched.GetJob(ctx, job.ID)
	if got.Status != store.JobStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Error, "start agent thread") {
		t.Errorf("error = %q, want thread start failure recorded", got.Error)
	}
	if len(f.runner.calls) != 0 {
		t.Errorf("scenarios run = %v, want none", f.runner.calls)
	}
}

func TestRunRejectsNonQueuedJob(t *testing.T) {
	f := newFixture(t, nil, nil, Config{})
	f.savePack(t, "pack-1", "s1")
	ctx := context.Background()

	job, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeRun, store.Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Run(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Run(ctx, job.ID); err == nil {
		t.Error("expected error running a terminal job again")
	}
}

func TestFixPhasePersistsAttempt(t *testing.T) {
	planner := &fakePlanner{
		plan: func(req repoactions.FixRequest) (*repoactions.FixResult, error) {
			if len(req.Failed) != 1 || req.Failed[0].ScenarioID != "s2" {
				t.Errorf("planner got failed items %+v, want only s2", req.Failed)
			}
			return &repoactions.FixResult{
				FixAttemptID:   "fix-1",
				PullRequestIDs: []string{"pr-1"},
				Explanation:    "tightened the retry guard in checkout",
			}, nil
		},
	}
	f := newFixture(t, planner, nil, Config{})
	f.savePack(t, "pack-1", "s1", "s2")
	ctx := context.Background()

	f.runner.results["s2"] = store.ScenarioRunItem{
		Status:            store.RunStatusFailed,
		FailureHypothesis: "timeout waiting for payment confirmation",
	}

	job, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeFix, store.Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Run(ctx, job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := f.sched.GetJob(ctx, job.ID)
	if got.FixAttemptID != "fix-1" {
		t.Errorf("fix attempt = %q, want fix-1", got.FixAttemptID)
	}
	if len(got.PullRequestIDs) != 1 || got.PullRequestIDs[0] != "pr-1" {
		t.Errorf("pull requests = %v, want [pr-1]", got.PullRequestIDs)
	}
	if got.Status != store.JobStatusFailed {
		t.Errorf("status = %s, scenario failures keep the job failed even after a fix attempt", got.Status)
	}

	attempt, err := f.store.GetFixAttempt(ctx, "fix-1")
	if err != nil {
		t.Fatalf("fix attempt not persisted: %v", err)
	}
	if attempt.Explanation == "" || len(attempt.ScenarioIDs) != 1 {
		t.Errorf("attempt = %+v", attempt)
	}

	evs := f.readAll(t, job.ID)
	if n := countEvents(evs, "fix/completed"); n != 1 {
		t.Errorf("fix/completed events = %d, want 1", n)
	}
	if n := countEvents(evs, "pr/opened"); n != 1 {
		t.Errorf("pr/opened events = %d, want 1", n)
	}
}

func TestFixPhaseMissingDetailsIsAnError(t *testing.T) {
	planner := &fakePlanner{
		plan: func(req repoactions.FixRequest) (*repoactions.FixResult, error) {
			return &repoactions.FixResult{FixAttemptID: "fix-1"}, nil // no explanation
		},
	}
	f := newFixture(t, planner, nil, Config{})
	f.savePack(t, "pack-1", "s1")
	ctx := context.Background()

	f.runner.results["s1"] = store.ScenarioRunItem{Status: store.RunStatusFailed}

	job, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeFix, store.Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Run(ctx, job.ID); err == nil {
		t.Fatal("expected error for a fix phase with missing details")
	}

	got, _ := f.sched.GetJob(ctx, job.ID)
	if got.Status != store.JobStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Error, "no attempt details") {
		t.Errorf("error = %q, want missing-details error", got.Error)
	}
}

func TestFixPhaseSkippedWhenAllPassed(t *testing.T) {
	planner := &fakePlanner{
		plan: func(req repoactions.FixRequest) (*repoactions.FixResult, error) {
			t.Error("planner must not run when nothing failed")
			return nil, nil
		},
	}
	f := newFixture(t, planner, nil, Config{})
	f.savePack(t, "pack-1", "s1")
	ctx := context.Background()

	job, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeFix, store.Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Run(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := f.sched.GetJob(ctx, job.ID)
	if got.Status != store.JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestFullModeBlockedReadinessFailsJob(t *testing.T) {
	planner := &fakePlanner{
		plan: func(req repoactions.FixRequest) (*repoactions.FixResult, error) {
			t.Error("planner must not run when readiness is blocked")
			return nil, nil
		},
	}
	f := newFixture(t, planner, fakeReadiness{ready: false, reason: "branch protection disabled"}, Config{})
	f.savePack(t, "pack-1", "s1")
	ctx := context.Background()

	f.runner.results["s1"] = store.ScenarioRunItem{Status: store.RunStatusFailed}

	job, err := f.sched.Create(ctx, "owner-a", "proj-1", "pack-1", store.ModeFull, store.Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.sched.Run(ctx, job.ID); err == nil {
		t.Fatal("expected error when readiness is blocked")
	}

	got, _ := f.sched.GetJob(ctx, job.ID)
	if !strings.Contains(got.Error, "branch protection disabled") {
		t.Errorf("error = %q, want readiness reason surfaced", got.Error)
	}
}
