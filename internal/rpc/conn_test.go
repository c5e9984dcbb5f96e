package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// lineRecorder captures outbound lines so tests can correlate ids.
type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func (r *lineRecorder) last(t *testing.T) request {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		t.Fatal("no outbound lines recorded")
	}
	var req request
	if err := json.Unmarshal([]byte(r.lines[len(r.lines)-1]), &req); err != nil {
		t.Fatalf("unmarshal outbound line: %v", err)
	}
	return req
}

// newTestConn returns a Conn whose read side never delivers on its own;
// tests feed inbound lines through ingestLine directly.
func newTestConn(t *testing.T, opts Options) (*Conn, *lineRecorder) {
	t.Helper()
	rec := &lineRecorder{}
	pr, _ := io.Pipe()
	c := NewConn(pr, rec, opts)
	t.Cleanup(c.Close)
	return c, rec
}

func TestCallResolvesOutOfOrder(t *testing.T) {
	c, rec := newTestConn(t, Options{CallTimeout: time.Second})

	type result struct {
		raw json.RawMessage
		err error
	}
	firstDone := make(chan result, 1)
	secondDone := make(chan result, 1)

	go func() {
		raw, err := c.Call(context.Background(), "thread/start", nil)
		firstDone <- result{raw, err}
	}()

	// Wait until the first request hit the wire before issuing the second,
	// so the recorded order is deterministic.
	waitForLines(t, rec, 1)

	go func() {
		raw, err := c.Call(context.Background(), "turn/start", map[string]string{"threadId": "th_1"})
		secondDone <- result{raw, err}
	}()
	waitForLines(t, rec, 2)

	// Respond to id 2 first, then id 1.
	c.ingestLine([]byte(`{"id":2,"result":{"turnId":"trn_9"}}`))
	c.ingestLine([]byte(`{"id":1,"result":{"threadId":"th_1"}}`))

	second := <-secondDone
	if second.err != nil {
		t.Fatalf("second call: %v", second.err)
	}
	if !strings.Contains(string(second.raw), "trn_9") {
		t.Errorf("second call got %s, want turnId trn_9", second.raw)
	}

	first := <-firstDone
	if first.err != nil {
		t.Fatalf("first call: %v", first.err)
	}
	if !strings.Contains(string(first.raw), "th_1") {
		t.Errorf("first call got %s, want threadId th_1", first.raw)
	}
}

func TestCallTimeoutRemovesPending(t *testing.T) {
	c, _ := newTestConn(t, Options{CallTimeout: 20 * time.Millisecond})

	_, err := c.Call(context.Background(), "turn/start", nil)

	var timeoutErr *CallTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("got error %v, want CallTimeoutError", err)
	}
	if timeoutErr.Method != "turn/start" {
		t.Errorf("timeout names method %q, want turn/start", timeoutErr.Method)
	}

	c.mu.Lock()
	remaining := len(c.pending)
	c.mu.Unlock()
	if remaining != 0 {
		t.Errorf("%d pending entries left after timeout, want 0", remaining)
	}

	// A late response for the timed-out id must be dropped silently.
	c.ingestLine([]byte(`{"id":1,"result":{}}`))
}

func TestCallTimeoutDoesNotLeakAcrossManyCalls(t *testing.T) {
	c, _ := newTestConn(t, Options{CallTimeout: 5 * time.Millisecond})

	for i := 0; i < 20; i++ {
		if _, err := c.Call(context.Background(), "turn/start", nil); err == nil {
			t.Fatal("expected timeout error")
		}
	}

	c.mu.Lock()
	remaining := len(c.pending)
	c.mu.Unlock()
	if remaining != 0 {
		t.Errorf("%d pending entries left after 20 timeouts, want 0", remaining)
	}
}

func TestRemoteErrorResponse(t *testing.T) {
	c, rec := newTestConn(t, Options{CallTimeout: time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "account/logout", nil)
		done <- err
	}()
	waitForLines(t, rec, 1)

	id := *rec.last(t).ID
	c.ingestLine([]byte(fmt.Sprintf(`{"id":%d,"error":{"message":"not signed in"}}`, id)))

	err := <-done
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("got error %v, want RemoteError", err)
	}
	if remoteErr.Message != "not signed in" {
		t.Errorf("remote message %q, want %q", remoteErr.Message, "not signed in")
	}
}

func TestMalformedLineIsNonFatal(t *testing.T) {
	c, rec := newTestConn(t, Options{CallTimeout: time.Second})

	c.ingestLine([]byte(`{not json`))

	// Connection must still correlate responses after the bad line.
	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "thread/start", nil)
		done <- err
	}()
	waitForLines(t, rec, 1)

	id := *rec.last(t).ID
	c.ingestLine([]byte(fmt.Sprintf(`{"id":%d,"result":{}}`, id)))

	if err := <-done; err != nil {
		t.Fatalf("call after malformed line: %v", err)
	}
}

type recordingHandler struct {
	mu    sync.Mutex
	seen  []Notification
	kinds []NotificationKind
}

func (h *recordingHandler) HandleNotification(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, n)
	h.kinds = append(h.kinds, n.Kind)
}

func TestNotificationDispatch(t *testing.T) {
	tests := []struct {
		name string
		line string
		want NotificationKind
	}{
		{"turn completed", `{"method":"turn/completed","params":{"turn":{"id":"trn_1"}}}`, KindTurnCompleted},
		{"item delta", `{"method":"item/delta","params":{"turnId":"trn_1","delta":"hi"}}`, KindItemDelta},
		{"item completed", `{"method":"item/completed","params":{}}`, KindItemCompleted},
		{"login completed", `{"method":"account/login/completed","params":{"loginId":"lg_1"}}`, KindLoginCompleted},
		{"account status", `{"method":"account/status","params":{}}`, KindAccountStatus},
		{"connection status", `{"method":"connection/status","params":{}}`, KindConnectionStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			c, _ := newTestConn(t, Options{Handler: h})

			c.ingestLine([]byte(tt.line))

			h.mu.Lock()
			defer h.mu.Unlock()
			if len(h.kinds) != 1 || h.kinds[0] != tt.want {
				t.Errorf("dispatched kinds %v, want [%v]", h.kinds, tt.want)
			}
		})
	}
}

func TestUnknownNotificationIgnored(t *testing.T) {
	h := &recordingHandler{}
	c, _ := newTestConn(t, Options{Handler: h})

	c.ingestLine([]byte(`{"method":"telemetry/usage","params":{}}`))

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.seen) != 0 {
		t.Errorf("unrecognized method was dispatched: %+v", h.seen)
	}
}

func TestRequestIDsStrictlyIncrease(t *testing.T) {
	c, rec := newTestConn(t, Options{CallTimeout: 10 * time.Millisecond})

	for i := 0; i < 3; i++ {
		_, _ = c.Call(context.Background(), "thread/start", nil) // timeouts expected
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var prev int64
	for _, line := range rec.lines {
		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			t.Fatalf("unmarshal outbound line: %v", err)
		}
		if req.ID == nil || *req.ID <= prev {
			t.Fatalf("request id %v not strictly increasing after %d", req.ID, prev)
		}
		prev = *req.ID
	}
	if prev != 3 {
		t.Errorf("last id %d, want 3", prev)
	}
}

func TestCloseRejectsPending(t *testing.T) {
	c, rec := newTestConn(t, Options{CallTimeout: time.Minute})

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "thread/start", nil)
		done <- err
	}()
	waitForLines(t, rec, 1)

	c.Close()

	if err := <-done; !errors.Is(err, ErrConnClosed) {
		t.Fatalf("got %v, want ErrConnClosed", err)
	}
}

func waitForLines(t *testing.T, rec *lineRecorder, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		count := len(rec.lines)
		rec.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d outbound lines", n)
}
