// Package handlers contains HTTP handlers for the bridge API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"agentplane/internal/agent"
	"agentplane/internal/events"
	"agentplane/internal/store"
	"agentplane/pkg/api"

	"github.com/google/uuid"
)

// JobService is the slice of the scheduler the handlers consume.
type JobService interface {
	Create(ctx context.Context, ownerID, projectID, packID string, mode store.ExecutionMode, constraints store.Constraints) (*store.ExecutionJob, error)
	Run(ctx context.Context, jobID uuid.UUID) error
	GetJob(ctx context.Context, id uuid.UUID) (*store.ExecutionJob, error)
	ListActive(ctx context.Context, ownerID string) ([]*store.ExecutionJob, error)
	ActiveCount(ctx context.Context, ownerID string) (int, error)
	Limit() int
}

// AgentService is the slice of the agent bridge the handlers consume.
type AgentService interface {
	StartThread(ctx context.Context) (string, error)
	RunTurn(ctx context.Context, threadID, input string) (agent.TurnResult, error)
	LoginStartRequest(ctx context.Context) (*agent.LoginStart, error)
	LoginCompleted(loginID string) (agent.LoginOutcome, bool)
	LoginCancel(ctx context.Context, loginID string) error
	Logout(ctx context.Context) error
	ReadAccount(ctx context.Context, refreshToken string) (json.RawMessage, error)
	ConnectionStatus() string
}

// EventFeed reads and clears job event pages.
type EventFeed interface {
	Read(ctx context.Context, jobID uuid.UUID, cursor int64, limit int) (*events.Page, error)
	Clear(ctx context.Context, jobID uuid.UUID) error
}

// StoreFactory combines the store interfaces needed to resolve job
// artifacts and serve readiness probes.
type StoreFactory interface {
	store.RunStore
	store.PackStore
	store.FixStore
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	jobs   JobService
	agent  AgentService
	events EventFeed
	store  StoreFactory
}

// New creates a new Handlers instance with the given dependencies.
func New(jobs JobService, agentSvc AgentService, feed EventFeed, s StoreFactory) *Handlers {
	return &Handlers{jobs: jobs, agent: agentSvc, events: feed, store: s}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
