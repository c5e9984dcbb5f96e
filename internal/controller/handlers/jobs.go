package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"agentplane/internal/controller/middleware"
	"agentplane/internal/scheduler"
	"agentplane/internal/store"
	"agentplane/pkg/api"

	"github.com/google/uuid"
)

// StartJob handles POST /jobs.
// Creates an execution job and starts it in the background. Owners at
// the active cap get a 429 and nothing is queued.
func (h *Handlers) StartJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" || req.ScenarioPackID == "" {
		h.httpError(w, "ProjectID and ScenarioPackID are required", http.StatusBadRequest)
		return
	}

	ownerID, ok := middleware.OwnerIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	mode := store.ExecutionMode(req.Mode)
	if req.Mode == "" {
		mode = store.ModeRun
	}

	job, err := h.jobs.Create(ctx, ownerID, req.ProjectID, req.ScenarioPackID, mode, store.Constraints{
		ScenarioIDs: req.ScenarioIDs,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		var capErr *scheduler.CapacityError
		switch {
		case errors.As(err, &capErr):
			h.httpError(w, capErr.Error(), http.StatusTooManyRequests)
		case errors.Is(err, store.ErrNotFound):
			h.httpError(w, "Scenario pack not found", http.StatusNotFound)
		default:
			h.httpError(w, "Failed to create job", http.StatusBadRequest)
		}
		return
	}

	// The run outlives the request; failures are recorded on the job.
	go h.jobs.Run(context.WithoutCancel(ctx), job.ID)

	active, err := h.jobs.ActiveCount(ctx, ownerID)
	if err != nil {
		active = -1
	}

	h.respondJson(w, http.StatusAccepted, api.StartJobResponse{
		JobID:       job.ID.String(),
		Status:      string(job.Status),
		ActiveCount: active,
		ActiveLimit: h.jobs.Limit(),
	})
}

// GetJob handles GET /jobs/{id}.
// Returns the job with its run, fix and PR artifacts resolved inline.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	ownerID, ok := middleware.OwnerIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil || job.OwnerID != ownerID {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}

	resp := jobToResponse(job)

	if job.RunID != "" {
		if run, err := h.store.GetRunByID(ctx, job.RunID); err == nil {
			resp.Run = runToResponse(run)
		}
	}
	if job.FixAttemptID != "" {
		if attempt, err := h.store.GetFixAttempt(ctx, job.FixAttemptID); err == nil {
			resp.FixAttempt = &api.FixAttemptResponse{
				ID:          attempt.ID,
				ScenarioIDs: attempt.ScenarioIDs,
				Explanation: attempt.Explanation,
				CreatedAt:   attempt.CreatedAt,
			}
		}
	}
	if len(job.PullRequestIDs) > 0 {
		if prs, err := h.store.ListPullRequests(ctx, job.ID); err == nil {
			for _, pr := range prs {
				resp.PullRequests = append(resp.PullRequests, api.PullRequestResponse{
					ID:     pr.ID,
					URL:    pr.URL,
					Branch: pr.Branch,
				})
			}
		}
	}

	h.respondJson(w, http.StatusOK, resp)
}

// ListJobs handles GET /jobs.
// Returns the owner's queued and running jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, ok := middleware.OwnerIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	jobs, err := h.jobs.ListActive(ctx, ownerID)
	if err != nil {
		h.httpError(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	resp := api.ListJobsResponse{Jobs: make([]api.JobResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, jobToResponse(job))
	}
	h.respondJson(w, http.StatusOK, resp)
}

func jobToResponse(job *store.ExecutionJob) api.JobResponse {
	resp := api.JobResponse{
		ID:             job.ID.String(),
		ProjectID:      job.ProjectID,
		ScenarioPackID: job.ScenarioPackID,
		Mode:           string(job.Mode),
		Status:         string(job.Status),
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		Summary: api.SummaryResponse{
			Total:   job.Summary.Total,
			Passed:  job.Summary.Passed,
			Failed:  job.Summary.Failed,
			Blocked: job.Summary.Blocked,
		},
		Audit: api.AuditResponse{
			Model:       job.Audit.Model,
			ThreadID:    job.Audit.ThreadID,
			TurnID:      job.Audit.TurnID,
			TurnStatus:  job.Audit.TurnStatus,
			CompletedAt: job.Audit.CompletedAt,
		},
	}
	if job.Error != "" {
		msg := job.Error
		resp.Error = &msg
	}
	return resp
}

func runToResponse(run *store.Run) *api.RunResponse {
	resp := &api.RunResponse{
		ID:          run.ID,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Items:       make([]api.ScenarioItemResponse, 0, len(run.Items)),
	}
	for _, item := range run.Items {
		resp.Items = append(resp.Items, api.ScenarioItemResponse{
			ScenarioID:        item.ScenarioID,
			Status:            string(item.Status),
			StartedAt:         item.StartedAt,
			CompletedAt:       item.CompletedAt,
			Observed:          item.Observed,
			Expected:          item.Expected,
			FailureHypothesis: item.FailureHypothesis,
			Artifacts:         item.Artifacts,
		})
	}
	return resp
}
