package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"agentplane/internal/agent"
	"agentplane/internal/events"
	"agentplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attempt budget bounds. MaxAttempts requests outside [1,5] are clamped.
const (
	DefaultMaxAttempts = 3
	minAttemptLimit    = 1
	maxAttemptLimit    = 5
)

// traceQueueDepth bounds buffered protocol notifications per turn. The
// bridge's trace hook must not block, so overflow drops traces instead.
const traceQueueDepth = 256

// AgentClient runs one complete agent turn, forwarding the protocol
// notifications observed during it. Satisfied by *agent.Bridge.
type AgentClient interface {
	RunTurnTraced(ctx context.Context, threadID, input string, trace func(kind string)) (agent.TurnResult, error)
}

// EventSink receives the progress events the attempt loop emits.
type EventSink interface {
	Emit(ctx context.Context, event store.JobEvent)
}

// Runner drives one scenario at a time to a terminal outcome.
type Runner struct {
	agent AgentClient
	log   *slog.Logger
	now   func() time.Time
}

// NewRunner creates a Runner over the given agent client.
func NewRunner(client AgentClient, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{agent: client, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// ClampAttempts normalizes a requested attempt limit into [1,5], with 0
// meaning the default.
func ClampAttempts(n int) int {
	if n == 0 {
		return DefaultMaxAttempts
	}
	if n < minAttemptLimit {
		return minAttemptLimit
	}
	if n > maxAttemptLimit {
		return maxAttemptLimit
	}
	return n
}

// RunScenario issues agent turns until the scenario reaches a terminal
// outcome or the attempt budget is spent. It always returns exactly one
// terminal run item; a scenario the agent never reported on gets a
// synthesized failed item. The last observed turn is returned for audit.
func (r *Runner) RunScenario(ctx context.Context, jobID uuid.UUID, threadID string, sc store.Scenario, maxAttempts int, sink EventSink) (store.ScenarioRunItem, agent.Turn) {
	maxAttempts = ClampAttempts(maxAttempts)
	startedAt := r.now()

	tracer := otel.Tracer("scenario-runner")
	ctx, span := tracer.Start(ctx, "run_scenario",
		trace.WithAttributes(
			attribute.String("job.id", jobID.String()),
			attribute.String("scenario.id", sc.ID),
			attribute.Int("scenario.max_attempts", maxAttempts),
		),
	)
	defer span.End()

	sink.Emit(ctx, store.JobEvent{
		Event:      "scenario/queued",
		Status:     "queued",
		ScenarioID: sc.ID,
		Stage:      store.StageRun,
		Message:    fmt.Sprintf("scenario %s queued", sc.ID),
	})

	instruction := buildInstruction(sc)

	var lastTurn agent.Turn
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sink.Emit(ctx, store.JobEvent{
			Event:      "scenario/attempt",
			Status:     "running",
			ScenarioID: sc.ID,
			Stage:      store.StageRun,
			Message:    fmt.Sprintf("scenario %s attempt %d/%d", sc.ID, attempt, maxAttempts),
		})

		res, err := r.runTracedTurn(ctx, threadID, instruction, sc.ID, sink)
		if err != nil {
			// Transport or turn-window failure: transient, retry within
			// the budget.
			lastErr = err
			r.log.Warn("scenario turn error",
				"job_id", jobID, "scenario_id", sc.ID, "attempt", attempt, "error", err)
			if attempt == maxAttempts {
				span.RecordError(err)
				return r.finish(store.ScenarioRunItem{
					ScenarioID:        sc.ID,
					Status:            store.RunStatusFailed,
					Expected:          sc.Expected,
					FailureHypothesis: fmt.Sprintf("turn execution failed on all %d attempts, last error: %v", maxAttempts, lastErr),
				}, startedAt), lastTurn
			}
			continue
		}
		lastTurn = res.Turn

		item, found := parseRunItem(res.MessageText, sc.ID)
		if !found {
			item = store.ScenarioRunItem{
				ScenarioID:        sc.ID,
				Status:            store.RunStatusFailed,
				Expected:          sc.Expected,
				FailureHypothesis: missingRunItemHypothesis(res.Turn),
			}
		}
		item.ScenarioID = sc.ID
		if item.Expected == "" {
			item.Expected = sc.Expected
		}

		verdict := Classify(item.Status, item.Observed)
		span.SetAttributes(attribute.String("scenario.verdict", verdict.String()))

		switch verdict {
		case VerdictPass, VerdictHardFailure:
			return r.finish(item, startedAt), lastTurn
		case VerdictInterim:
			if attempt == maxAttempts {
				item.Status = store.RunStatusFailed
				if item.FailureHypothesis == "" {
					item.FailureHypothesis = fmt.Sprintf("agent returned interim output on all %d attempts, never a terminal result", maxAttempts)
				}
				return r.finish(item, startedAt), lastTurn
			}
			r.log.Info("interim scenario output, retrying",
				"job_id", jobID, "scenario_id", sc.ID, "attempt", attempt)
		}
	}

	// Unreachable: the loop always returns on its last attempt.
	return r.finish(store.ScenarioRunItem{
		ScenarioID:        sc.ID,
		Status:            store.RunStatusFailed,
		FailureHypothesis: "attempt loop exited without a terminal result",
	}, startedAt), lastTurn
}

// runTracedTurn runs one turn and records the protocol traffic it produced
// as trace-phase events. The trace hook runs on the connection's read
// goroutine, so it only does a non-blocking channel send; a collector
// goroutine absorbs the blocking event appends.
func (r *Runner) runTracedTurn(ctx context.Context, threadID, instruction, scenarioID string, sink EventSink) (agent.TurnResult, error) {
	traces := make(chan string, traceQueueDepth)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for kind := range traces {
			sink.Emit(ctx, store.JobEvent{
				Event:      "agent/" + kind,
				Phase:      events.PhaseTrace,
				ScenarioID: scenarioID,
				Stage:      store.StageRun,
			})
		}
	}()

	res, err := r.agent.RunTurnTraced(ctx, threadID, instruction, func(kind string) {
		select {
		case traces <- kind:
		default:
		}
	})
	close(traces)
	<-done
	return res, err
}

func (r *Runner) finish(item store.ScenarioRunItem, startedAt time.Time) store.ScenarioRunItem {
	item.StartedAt = startedAt
	item.CompletedAt = r.now()
	return item
}

func missingRunItemHypothesis(turn agent.Turn) string {
	if turn.Status == agent.TurnStatusFailed && turn.Error != "" {
		return fmt.Sprintf("missing run item: agent turn failed (%s)", turn.Error)
	}
	return "missing run item: agent completed the turn without reporting a result for this scenario"
}

func buildInstruction(sc store.Scenario) string {
	return fmt.Sprintf(`Execute exactly one test scenario against this repository and report its terminal outcome.

Scenario %s: %s

Steps:
%s

Expected result:
%s

Rules:
- Actually execute the scenario now. Do not defer, queue, or summarize intent.
- Interim or placeholder responses ("pending", "in progress", "not attempted") are forbidden; the outcome must be terminal.
- "observed" must contain concrete evidence from the execution: command output, assertion text, response bodies.
- If the scenario failed, state a failure hypothesis.

Reply with exactly one JSON object, no prose around it:
{"scenarioId": %q, "status": "passed" | "failed", "observed": "...", "expected": "...", "failureHypothesis": "..."}`,
		sc.ID, sc.Title, sc.Instructions, sc.Expected, sc.ID)
}
