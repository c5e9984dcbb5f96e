package handlers

import (
	"net/http"
	"strconv"

	"agentplane/internal/controller/middleware"
	"agentplane/internal/events"
	"agentplane/pkg/api"

	"github.com/google/uuid"
)

// GetJobEvents handles GET /jobs/{id}/events?cursor=&limit=.
// Returns one cursor page of the job's event feed. Feeding next_cursor
// back as ?cursor= resumes after the last returned event, so pollers
// never see an entry twice.
func (h *Handlers) GetJobEvents(w http.ResponseWriter, r *http.Request) {
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

	// Verify ownership
	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil || job.OwnerID != ownerID {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	var cursor int64
	if c := query.Get("cursor"); c != "" {
		parsed, err := strconv.ParseInt(c, 10, 64)
		if err != nil || parsed < 0 {
			h.httpError(w, "Invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}

	limit := events.DefaultPageLimit
	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			h.httpError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed // the feed clamps oversized limits
	}

	page, err := h.events.Read(ctx, jobID, cursor, limit)
	if err != nil {
		h.httpError(w, "Failed to fetch events", http.StatusInternalServerError)
		return
	}

	resp := api.EventsResponse{
		Data:       make([]api.EventResponse, 0, len(page.Items)),
		Cursor:     page.Cursor,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, ev := range page.Items {
		resp.Data = append(resp.Data, api.EventResponse{
			Sequence:   ev.Sequence,
			Event:      ev.Event,
			Phase:      ev.Phase,
			Status:     ev.Status,
			Message:    ev.Message,
			ScenarioID: ev.ScenarioID,
			Stage:      string(ev.Stage),
			Timestamp:  ev.Timestamp,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ClearJobEvents handles DELETE /jobs/{id}/events.
// Drops the job's whole event history. The job record itself stays.
func (h *Handlers) ClearJobEvents(w http.ResponseWriter, r *http.Request) {
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

	if err := h.events.Clear(ctx, jobID); err != nil {
		h.httpError(w, "Failed to clear events", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
