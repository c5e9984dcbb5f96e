// Package agent manages the external coding-agent subprocess: process
// lifecycle, turn completion tracking, and the bridge facade the rest of
// the system calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultTurnTimeout bounds how long a caller waits for one turn to reach
// a terminal completion notification. This is agent-task liveness, a
// separate tier from the per-request RPC timeout.
const DefaultTurnTimeout = 180 * time.Second

// ErrEmptyTurnID is returned synchronously for waits without a turn id.
var ErrEmptyTurnID = errors.New("agent: turn id is required")

// TurnTimeoutError is returned when no completion notification arrived
// within the turn window. The attempt loop treats this as transient.
type TurnTimeoutError struct {
	TurnID  string
	Timeout time.Duration
}

func (e *TurnTimeoutError) Error() string {
	return fmt.Sprintf("agent: turn %s did not complete within %s", e.TurnID, e.Timeout)
}

// Turn is one bounded unit of agent work, identified by id, reaching a
// terminal completion notification.
type Turn struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"threadId"`
	Status      string    `json:"status"`
	Model       string    `json:"model,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

const (
	TurnStatusCompleted = "completed"
	TurnStatusFailed    = "failed"
)

type turnWatcher struct {
	ch    chan Turn
	timer *time.Timer
}

// Tracker caches terminal turn results and lets callers await a specific
// turn id. At most one watcher exists per turn id and each watcher is
// resolved exactly once, by notification or by timeout.
type Tracker struct {
	mu        sync.Mutex
	completed map[string]Turn
	watchers  map[string]*turnWatcher
	messages  map[string]*strings.Builder
	timeout   time.Duration
}

// NewTracker creates a Tracker. timeout <= 0 means DefaultTurnTimeout.
func NewTracker(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}
	return &Tracker{
		completed: make(map[string]Turn),
		watchers:  make(map[string]*turnWatcher),
		messages:  make(map[string]*strings.Builder),
		timeout:   timeout,
	}
}

// RecordCompletedTurn stores a terminal turn and resolves any watcher.
// The cache write happens before the watcher resolve so a waiter that
// registers between the two still finds the value.
func (t *Tracker) RecordCompletedTurn(turn Turn) {
	if turn.ID == "" {
		return
	}

	t.mu.Lock()
	t.completed[turn.ID] = turn
	w := t.watchers[turn.ID]
	if w != nil {
		delete(t.watchers, turn.ID)
		w.timer.Stop()
	}
	t.mu.Unlock()

	if w != nil {
		w.ch <- turn
	}
}

// WaitForTurnCompletion blocks until the turn's terminal result is known.
// A cached result resolves immediately without arming a timer.
func (t *Tracker) WaitForTurnCompletion(ctx context.Context, turnID string) (Turn, error) {
	if turnID == "" {
		return Turn{}, ErrEmptyTurnID
	}

	t.mu.Lock()
	if turn, ok := t.completed[turnID]; ok {
		t.mu.Unlock()
		return turn, nil
	}
	if _, ok := t.watchers[turnID]; ok {
		t.mu.Unlock()
		return Turn{}, fmt.Errorf("agent: turn %s is already being awaited", turnID)
	}

	w := &turnWatcher{ch: make(chan Turn, 1)}
	timedOut := make(chan struct{})
	w.timer = time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		if t.watchers[turnID] == w {
			delete(t.watchers, turnID)
			close(timedOut)
		}
		t.mu.Unlock()
	})
	t.watchers[turnID] = w
	t.mu.Unlock()

	select {
	case turn := <-w.ch:
		return turn, nil
	case <-timedOut:
		return Turn{}, &TurnTimeoutError{TurnID: turnID, Timeout: t.timeout}
	case <-ctx.Done():
		t.mu.Lock()
		if t.watchers[turnID] == w {
			delete(t.watchers, turnID)
			w.timer.Stop()
		}
		t.mu.Unlock()
		return Turn{}, ctx.Err()
	}
}

// AppendMessageText accumulates agent message output for a turn.
func (t *Tracker) AppendMessageText(turnID, text string) {
	if turnID == "" || text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.messages[turnID]
	if b == nil {
		b = &strings.Builder{}
		t.messages[turnID] = b
	}
	b.WriteString(text)
}

// MessageText returns the accumulated message output for a turn.
func (t *Tracker) MessageText(turnID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b := t.messages[turnID]; b != nil {
		return b.String()
	}
	return ""
}

// PurgeTurn drops the cached result and accumulated text for a turn.
// Callers must purge after consumption; entries are never evicted
// automatically.
func (t *Tracker) PurgeTurn(turnID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.completed, turnID)
	delete(t.messages, turnID)
}
