package handlers

import (
	"encoding/json"
	"net/http"

	"agentplane/internal/scenario"
	"agentplane/pkg/api"
)

// GeneratePack handles POST /scenario/generate.
// Asks the agent to author a scenario pack from a plain-language
// description and persists it for later job runs.
func (h *Handlers) GeneratePack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.GeneratePackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" || req.Description == "" {
		h.httpError(w, "ProjectID and Description are required", http.StatusBadRequest)
		return
	}

	pack, err := scenario.GeneratePack(ctx, h.agent, req.ProjectID, req.Description, req.Count)
	if err != nil {
		h.agentError(w, err)
		return
	}

	if err := h.store.SaveScenarioPack(ctx, pack); err != nil {
		h.httpError(w, "Failed to persist scenario pack", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusCreated, api.GeneratePackResponse{
		PackID:    pack.ID,
		Scenarios: len(pack.Scenarios),
	})
}
