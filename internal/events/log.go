// Package events implements the append-only, strictly ordered job event
// log. Sequence numbers are assigned by a single writer goroutine per job,
// so concurrent emitters never race on ordering even though emission is
// asynchronous.
package events

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"agentplane/internal/store"

	"github.com/google/uuid"
)

const (
	// DefaultPageLimit and MaxPageLimit bound event reads.
	DefaultPageLimit = 50
	MaxPageLimit     = 200

	// Protocol trace sampling: the first traceKeepFirst trace events are
	// stored, then only every traceKeepEvery-th, plus anything carrying a
	// terminal signal. User-facing status events are never sampled.
	traceKeepFirst = 25
	traceKeepEvery = 25

	// writeQueueDepth bounds each job's pending event channel.
	writeQueueDepth = 256
)

// PhaseTrace marks low-level protocol trace events, which are
// storage-bounded. All other phases are stored unconditionally.
const PhaseTrace = "trace"

var terminalSignals = []string{"task_complete", "completed", "failed", "error"}

// Page is one cursor-bounded slice of a job's event history.
type Page struct {
	Items      []store.JobEvent `json:"data"`
	Cursor     int64            `json:"cursor"`
	NextCursor int64            `json:"nextCursor"`
	HasMore    bool             `json:"hasMore"`
}

type appendRequest struct {
	event store.JobEvent
	done  chan appendResult
}

type appendResult struct {
	seq int64
	err error
}

// jobWriter serializes all writes for one job. It is the sole point of
// sequence assignment for that job.
type jobWriter struct {
	ch         chan appendRequest
	traceCount int64

	// pending counts senders between writer lookup and channel send. The
	// counter only increases while the writer is still in l.writers, so
	// after removal the closer can wait for it to drain and then close ch
	// without racing an in-flight send.
	pending sync.WaitGroup

	// flushed closes when the drain goroutine has written out everything
	// that was queued before ch closed.
	flushed chan struct{}
}

// Log is the event log over a store.EventStore backend.
type Log struct {
	store store.EventStore
	log   *slog.Logger

	mu      sync.Mutex
	writers map[uuid.UUID]*jobWriter
	closed  bool
	wg      sync.WaitGroup
}

// NewLog creates an event log over the given backend.
func NewLog(backend store.EventStore, log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{
		store:   backend,
		log:     log,
		writers: make(map[uuid.UUID]*jobWriter),
	}
}

// Append stores one event for a job and returns its assigned sequence.
// Trace events sampled out return sequence 0 with no error. Append blocks
// until the event is durably sequenced, so a caller that appends A then B
// observes A's sequence strictly below B's.
func (l *Log) Append(ctx context.Context, jobID uuid.UUID, event store.JobEvent) (int64, error) {
	w, err := l.writer(ctx, jobID)
	if err != nil {
		return 0, err
	}

	req := appendRequest{event: event, done: make(chan appendResult, 1)}
	select {
	case w.ch <- req:
		w.pending.Done()
	case <-ctx.Done():
		w.pending.Done()
		return 0, ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.seq, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Read returns events with sequence greater than cursor, oldest first.
// limit is clamped to MaxPageLimit; zero means DefaultPageLimit.
func (l *Log) Read(ctx context.Context, jobID uuid.UUID, cursor int64, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	// One extra row decides hasMore without a second count query.
	items, err := l.store.ListEvents(ctx, jobID, cursor, limit+1)
	if err != nil {
		return nil, err
	}

	page := &Page{Cursor: cursor, NextCursor: cursor}
	if len(items) > limit {
		page.HasMore = true
		items = items[:limit]
	}
	page.Items = items
	if len(items) > 0 {
		page.NextCursor = items[len(items)-1].Sequence
	}
	return page, nil
}

// Clear removes a job's entire event history and resets its writer.
func (l *Log) Clear(ctx context.Context, jobID uuid.UUID) error {
	l.mu.Lock()
	w, ok := l.writers[jobID]
	if ok {
		delete(l.writers, jobID)
	}
	l.mu.Unlock()
	if ok {
		l.stopWriter(w)
	}
	return l.store.DeleteJobEvents(ctx, jobID)
}

// Close stops all writers after draining their queues.
func (l *Log) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	stopped := make([]*jobWriter, 0, len(l.writers))
	for id, w := range l.writers {
		delete(l.writers, id)
		stopped = append(stopped, w)
	}
	l.mu.Unlock()
	for _, w := range stopped {
		l.stopWriter(w)
	}
	l.wg.Wait()
}

// stopWriter closes a writer's channel once no sender can touch it
// anymore, then waits for the queue to flush. The writer must already be
// removed from l.writers, otherwise new senders keep arriving and the
// pending wait never settles.
func (l *Log) stopWriter(w *jobWriter) {
	w.pending.Wait()
	close(w.ch)
	<-w.flushed
}

// writer returns the job's writer with one pending-send slot reserved.
// The caller must release it with w.pending.Done() after its send.
func (l *Log) writer(ctx context.Context, jobID uuid.UUID) (*jobWriter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, context.Canceled
	}
	if w, ok := l.writers[jobID]; ok {
		w.pending.Add(1)
		return w, nil
	}

	seq, err := l.store.LatestSequence(ctx, jobID)
	if err != nil {
		return nil, err
	}

	w := &jobWriter{
		ch:      make(chan appendRequest, writeQueueDepth),
		flushed: make(chan struct{}),
	}
	l.writers[jobID] = w
	l.wg.Add(1)
	go l.drain(jobID, w, seq)
	w.pending.Add(1)
	return w, nil
}

// drain is the single writer for one job's log.
func (l *Log) drain(jobID uuid.UUID, w *jobWriter, lastSeq int64) {
	defer l.wg.Done()
	defer close(w.flushed)

	for req := range w.ch {
		ev := req.event
		ev.JobID = jobID
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}

		if ev.Phase == PhaseTrace && !l.keepTrace(w, ev) {
			req.done <- appendResult{}
			continue
		}

		ev.Sequence = lastSeq + 1
		if err := l.store.AppendEvent(context.Background(), &ev); err != nil {
			l.log.Error("event append failed", "job_id", jobID, "event", ev.Event, "error", err)
			req.done <- appendResult{err: err}
			continue
		}
		lastSeq = ev.Sequence
		req.done <- appendResult{seq: ev.Sequence}
	}
}

// keepTrace decides whether a protocol trace event is stored. Long agent
// sessions emit thousands of these; keeping the head, a steady sample,
// and every terminal signal bounds growth without losing the diagnostic
// context that matters.
func (l *Log) keepTrace(w *jobWriter, ev store.JobEvent) bool {
	w.traceCount++
	if w.traceCount <= traceKeepFirst {
		return true
	}
	if w.traceCount%traceKeepEvery == 0 {
		return true
	}
	return hasTerminalSignal(ev)
}

func hasTerminalSignal(ev store.JobEvent) bool {
	for _, s := range terminalSignals {
		if strings.Contains(ev.Event, s) || strings.Contains(ev.Status, s) {
			return true
		}
	}
	return false
}
