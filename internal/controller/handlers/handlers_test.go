package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"agentplane/internal/agent"
	"agentplane/internal/events"
	"agentplane/internal/store"
	"agentplane/internal/store/memory"

	"github.com/google/uuid"
)

// mockJobs is a configurable JobService.
type mockJobs struct {
	mu sync.Mutex

	jobs      map[uuid.UUID]*store.ExecutionJob
	createErr error
	listErr   error
	active    []*store.ExecutionJob
	runCalls  []uuid.UUID
	limit     int
}

func newMockJobs() *mockJobs {
	return &mockJobs{jobs: make(map[uuid.UUID]*store.ExecutionJob), limit: 3}
}

func (m *mockJobs) Create(ctx context.Context, ownerID, projectID, packID string, mode store.ExecutionMode, constraints store.Constraints) (*store.ExecutionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	job := &store.ExecutionJob{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		ProjectID:      projectID,
		ScenarioPackID: packID,
		Mode:           mode,
		Status:         store.JobStatusQueued,
		Constraints:    constraints,
	}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *mockJobs) Run(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCalls = append(m.runCalls, jobID)
	return nil
}

func (m *mockJobs) GetJob(ctx context.Context, id uuid.UUID) (*store.ExecutionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (m *mockJobs) ListActive(ctx context.Context, ownerID string) ([]*store.ExecutionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.active, nil
}

func (m *mockJobs) ActiveCount(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active), nil
}

func (m *mockJobs) Limit() int { return m.limit }

// mockAgent is a configurable AgentService.
type mockAgent struct {
	threadErr    error
	turnText     string
	turnErr      error
	turnStatus   string
	loginStart   *agent.LoginStart
	loginErr     error
	loginOutcome agent.LoginOutcome
	loginDone    bool
	logoutErr    error
	account      json.RawMessage
	accountErr   error
	connection   string
}

func (m *mockAgent) StartThread(ctx context.Context) (string, error) {
	if m.threadErr != nil {
		return "", m.threadErr
	}
	return "thread-1", nil
}

func (m *mockAgent) RunTurn(ctx context.Context, threadID, input string) (agent.TurnResult, error) {
	if m.turnErr != nil {
		return agent.TurnResult{}, m.turnErr
	}
	status := m.turnStatus
	if status == "" {
		status = agent.TurnStatusCompleted
	}
	return agent.TurnResult{
		Turn:        agent.Turn{ID: "turn-1", ThreadID: threadID, Status: status},
		MessageText: m.turnText,
	}, nil
}

func (m *mockAgent) LoginStartRequest(ctx context.Context) (*agent.LoginStart, error) {
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	if m.loginStart != nil {
		return m.loginStart, nil
	}
	return &agent.LoginStart{LoginID: "login-1", AuthURL: "https://auth.example/device"}, nil
}

func (m *mockAgent) LoginCompleted(loginID string) (agent.LoginOutcome, bool) {
	return m.loginOutcome, m.loginDone
}

func (m *mockAgent) LoginCancel(ctx context.Context, loginID string) error { return m.loginErr }

func (m *mockAgent) Logout(ctx context.Context) error { return m.logoutErr }

func (m *mockAgent) ReadAccount(ctx context.Context, refreshToken string) (json.RawMessage, error) {
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return m.account, nil
}

func (m *mockAgent) ConnectionStatus() string { return m.connection }

// failingPingStore wraps the memory store with a failing Ping.
type failingPingStore struct {
	*memory.Store
}

func (f failingPingStore) Ping(ctx context.Context) error {
	return errors.New("store down")
}

type fixture struct {
	handlers *Handlers
	jobs     *mockJobs
	agent    *mockAgent
	store    *memory.Store
	events   *events.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eventLog := events.NewLog(mem, logger)
	t.Cleanup(eventLog.Close)

	jobs := newMockJobs()
	agentSvc := &mockAgent{}
	return &fixture{
		handlers: New(jobs, agentSvc, eventLog, mem),
		jobs:     jobs,
		agent:    agentSvc,
		store:    mem,
		events:   eventLog,
	}
}
