package handlers

import "net/http"

// Health is a liveness and readiness probe in one: it reports the store
// and the agent connection state, and degrades to 503 when either is
// unavailable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{
		"status":     "healthy",
		"store":      "ok",
		"connection": h.agent.ConnectionStatus(),
	}

	if err := h.store.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["store"] = "unavailable"
	}
	if body["connection"] == "closed" {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}

	h.respondJson(w, status, body)
}
