// Package repoactions declares the collaborator interfaces the scheduler
// consumes for fix and PR phases. Implementations live outside the
// orchestration core (GitHub adapters, fix planners); this package only
// defines the contracts and a no-op used when no adapter is wired.
package repoactions

import (
	"context"

	"agentplane/internal/store"
)

// FixRequest carries a job's failures into the fix/PR phase.
type FixRequest struct {
	Job    *store.ExecutionJob
	Failed []store.ScenarioRunItem
}

// FixResult is what a fix phase must produce for a job with failures.
// A missing explanation is an error condition, not a silent skip.
type FixResult struct {
	FixAttemptID   string
	PullRequestIDs []string
	Explanation    string
}

// Planner plans and applies fixes for failed scenarios. Called only after
// the run phase is fully terminal.
type Planner interface {
	PlanFix(ctx context.Context, req FixRequest) (*FixResult, error)
}

// Actions performs repository operations on behalf of a job.
type Actions interface {
	CreateBranch(ctx context.Context, projectID, name string) error
	OpenPullRequest(ctx context.Context, projectID, branch, title, body string) (string, error)
}

// Readiness reports whether PR automation preconditions are met for a
// project. Consulted, never computed, by the orchestration core.
type Readiness interface {
	Ready(ctx context.Context, projectID string) (ok bool, reason string, err error)
}

// AlwaysReady is a Readiness that approves every project. Used in tests
// and in deployments without PR automation gating.
type AlwaysReady struct{}

func (AlwaysReady) Ready(ctx context.Context, projectID string) (bool, string, error) {
	return true, "", nil
}
