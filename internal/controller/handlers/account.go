package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"agentplane/internal/agent"
	"agentplane/internal/rpc"
	"agentplane/pkg/api"
)

// StartLogin handles POST /account/login/start.
// Forwards the login request to the agent and returns the login id the
// client polls for completion.
func (h *Handlers) StartLogin(w http.ResponseWriter, r *http.Request) {
	start, err := h.agent.LoginStartRequest(r.Context())
	if err != nil {
		h.agentError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.LoginStartResponse{
		LoginID: start.LoginID,
		AuthURL: start.AuthURL,
	})
}

// GetLoginCompleted handles GET /account/login/completed?loginId=.
// Reports whether the login flow has finished and with what outcome.
func (h *Handlers) GetLoginCompleted(w http.ResponseWriter, r *http.Request) {
	loginID := r.URL.Query().Get("loginId")
	if loginID == "" {
		h.httpError(w, "loginId is required", http.StatusBadRequest)
		return
	}

	outcome, done := h.agent.LoginCompleted(loginID)
	resp := api.LoginCompletedResponse{LoginID: loginID, Done: done}
	if done {
		resp.Success = outcome.Success
		resp.Error = outcome.Error
	}
	h.respondJson(w, http.StatusOK, resp)
}

// CancelLogin handles POST /account/login/cancel.
func (h *Handlers) CancelLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.LoginID == "" {
		h.httpError(w, "login_id is required", http.StatusBadRequest)
		return
	}

	if err := h.agent.LoginCancel(r.Context(), req.LoginID); err != nil {
		h.agentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Logout handles POST /account/logout.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.agent.Logout(r.Context()); err != nil {
		h.agentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAccount handles GET /account/read?refreshToken=.
// Returns the agent's account payload verbatim.
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	raw, err := h.agent.ReadAccount(r.Context(), r.URL.Query().Get("refreshToken"))
	if err != nil {
		h.agentError(w, err)
		return
	}

	var account map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &account); err != nil {
			h.httpError(w, "Malformed account payload", http.StatusBadGateway)
			return
		}
	}
	h.respondJson(w, http.StatusOK, api.AccountResponse{Account: account})
}

// agentError maps agent bridge failures onto HTTP status codes. A dead
// agent connection is a 502, a call timeout a 504.
func (h *Handlers) agentError(w http.ResponseWriter, err error) {
	var callTimeout *rpc.CallTimeoutError
	var turnTimeout *agent.TurnTimeoutError
	switch {
	case errors.Is(err, agent.ErrBridgeUnreachable):
		h.httpError(w, "Agent connection is down", http.StatusBadGateway)
	case errors.As(err, &callTimeout), errors.As(err, &turnTimeout):
		h.httpError(w, "Agent did not respond in time", http.StatusGatewayTimeout)
	default:
		h.httpError(w, err.Error(), http.StatusInternalServerError)
	}
}
