// Package rpc implements the newline-delimited JSON-RPC channel to the
// agent process. One Conn multiplexes many in-flight calls over a single
// duplex stream, correlating out-of-order responses by request id.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCallTimeout bounds how long a single request waits for its response.
const DefaultCallTimeout = 15 * time.Second

// Max length of a single inbound line. Agent messages can carry whole
// file diffs, so this is generous.
const maxLineBytes = 16 * 1024 * 1024

// ErrConnClosed is returned for calls issued against a closed connection.
var ErrConnClosed = errors.New("rpc: connection closed")

// CallTimeoutError is returned when no response arrived within the call
// timeout. The pending entry is removed before this is surfaced, so a late
// response is dropped rather than delivered twice.
type CallTimeoutError struct {
	Method  string
	Elapsed time.Duration
}

func (e *CallTimeoutError) Error() string {
	return fmt.Sprintf("rpc: call %q timed out after %s", e.Method, e.Elapsed)
}

// RemoteError carries an error object returned by the agent for a request.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: %s failed: %s", e.Method, e.Message)
}

type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is owned exclusively by the Conn for the request's lifetime.
// It is removed on response or timeout, never both.
type pendingCall struct {
	method string
	ch     chan callResult
	timer  *time.Timer
}

// Options configures a Conn.
type Options struct {
	// CallTimeout per request. Zero means DefaultCallTimeout.
	CallTimeout time.Duration

	// Handler receives inbound notifications. Nil drops them.
	Handler NotificationHandler

	Logger *slog.Logger
}

// Conn is the RPC multiplexer over one bidirectional text stream.
// Request ids are strictly increasing integers, never reused for the
// lifetime of the connection.
type Conn struct {
	w   io.Writer
	wmu sync.Mutex

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*pendingCall
	closed  bool

	timeout time.Duration
	handler NotificationHandler
	log     *slog.Logger

	done chan struct{}
}

// NewConn wires a Conn over the given reader/writer pair and starts the
// read loop. Call Close to stop it and fail all in-flight requests.
func NewConn(r io.Reader, w io.Writer, opts Options) *Conn {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Conn{
		w:       w,
		pending: make(map[int64]*pendingCall),
		timeout: opts.CallTimeout,
		handler: opts.Handler,
		log:     opts.Logger,
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// request is the outbound wire shape: {method, id, params}.
type request struct {
	Method string `json:"method"`
	ID     *int64 `json:"id,omitempty"`
	Params any    `json:"params,omitempty"`
}

// message is the inbound wire shape. A set ID marks a response;
// otherwise the line is a notification.
type message struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Call sends a request and blocks until the matching response, the call
// timeout, or ctx is done. Responses may arrive in any order; correlation
// is solely by id.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)

	pc := &pendingCall{
		method: method,
		ch:     make(chan callResult, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.pending[id] = pc
	started := time.Now()
	pc.timer = time.AfterFunc(c.timeout, func() {
		c.failPending(id, &CallTimeoutError{Method: method, Elapsed: time.Since(started).Round(time.Millisecond)})
	})
	c.mu.Unlock()

	if err := c.writeLine(request{Method: method, ID: &id, Params: params}); err != nil {
		c.failPending(id, err)
	}

	select {
	case res := <-pc.ch:
		return res.result, res.err
	case <-ctx.Done():
		c.failPending(id, ctx.Err())
		res := <-pc.ch
		return res.result, res.err
	}
}

// Notify sends a request without an id. No response is expected.
func (c *Conn) Notify(method string, params any) error {
	return c.writeLine(request{Method: method, Params: params})
}

// Close stops the connection and rejects every pending call with
// ErrConnClosed.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()

	for _, pc := range pending {
		pc.timer.Stop()
		pc.ch <- callResult{err: ErrConnClosed}
	}
	close(c.done)
}

// Done is closed when the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rpc: marshal request: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("rpc: write: %w", err)
	}
	return nil
}

// failPending resolves a pending call with an error if it is still
// registered. Safe to race with a response; whoever removes the entry
// first delivers the single result.
func (c *Conn) failPending(id int64, err error) {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	pc.timer.Stop()
	pc.ch <- callResult{err: err}
}

func (c *Conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.ingestLine(line)
	}

	if err := scanner.Err(); err != nil {
		c.log.Warn("rpc read loop ended", "error", err)
	}
	c.Close()
}

// ingestLine handles one raw inbound line. Malformed lines are logged and
// dropped; they never terminate the stream.
func (c *Conn) ingestLine(line []byte) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		c.log.Warn("dropping malformed rpc line", "error", err)
		return
	}

	if msg.ID != nil {
		c.resolve(*msg.ID, msg)
		return
	}

	n := Notification{
		Kind:   kindForMethod(msg.Method),
		Method: msg.Method,
		Params: msg.Params,
	}
	if n.Kind == KindUnknown {
		c.log.Debug("ignoring unrecognized notification", "method", msg.Method)
		return
	}
	if c.handler != nil {
		c.handler.HandleNotification(n)
	}
}

func (c *Conn) resolve(id int64, msg message) {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		// Late response after timeout, or an id we never issued.
		c.log.Debug("dropping response with no pending call", "id", id)
		return
	}
	pc.timer.Stop()

	if msg.Error != nil {
		pc.ch <- callResult{err: &RemoteError{Method: pc.method, Message: msg.Error.Message}}
		return
	}
	pc.ch <- callResult{result: msg.Result}
}
