package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agentplane/internal/rpc"
)

// ErrBridgeUnreachable is returned when the agent process is not available.
// Callers fail fast instead of queuing work against a dead subprocess.
var ErrBridgeUnreachable = errors.New("agent: bridge unreachable, is the agent process running?")

// TurnFailedError is an agent-reported turn failure, terminal for the
// attempt that issued it.
type TurnFailedError struct {
	TurnID  string
	Message string
}

func (e *TurnFailedError) Error() string {
	return fmt.Sprintf("agent: turn %s failed: %s", e.TurnID, e.Message)
}

// Caller issues RPC requests. Satisfied by *rpc.Conn.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// TurnResult is one finished turn plus the message text the agent
// produced during it.
type TurnResult struct {
	Turn        Turn
	MessageText string
}

// LoginStart is the agent's response to an account login request.
type LoginStart struct {
	LoginID string `json:"loginId"`
	AuthURL string `json:"authUrl"`
}

// LoginOutcome records a login completion notification.
type LoginOutcome struct {
	LoginID string `json:"loginId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Bridge is the facade over the agent connection: it owns the turn
// tracker, routes notifications, and exposes typed operations.
type Bridge struct {
	caller  Caller
	tracker *Tracker
	log     *slog.Logger

	mu         sync.Mutex
	logins     map[string]LoginOutcome
	traces     map[string]func(kind string)
	account    json.RawMessage
	connection string
}

// NewBridge creates a Bridge over the given caller. Pass the bridge as the
// rpc notification handler when wiring the connection.
func NewBridge(caller Caller, tracker *Tracker, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		caller:     caller,
		tracker:    tracker,
		log:        log,
		logins:     make(map[string]LoginOutcome),
		traces:     make(map[string]func(kind string)),
		connection: "unknown",
	}
}

// Tracker returns the bridge's turn tracker.
func (b *Bridge) Tracker() *Tracker { return b.tracker }

// Bind attaches the connection. NewBridge accepts a nil caller so the
// bridge can be registered as the notification handler before the agent
// process exists; Bind must run before the first call.
func (b *Bridge) Bind(caller Caller) {
	b.mu.Lock()
	b.caller = caller
	b.mu.Unlock()
}

// HandleNotification routes classified agent notifications. It runs on the
// connection's read goroutine and must stay non-blocking.
func (b *Bridge) HandleNotification(n rpc.Notification) {
	switch n.Kind {
	case rpc.KindTurnCompleted:
		var params struct {
			Turn Turn `json:"turn"`
		}
		if err := json.Unmarshal(n.Params, &params); err != nil {
			b.log.Warn("bad turn/completed payload", "error", err)
			return
		}
		if params.Turn.CompletedAt.IsZero() {
			params.Turn.CompletedAt = time.Now().UTC()
		}
		// Trace before resolving the waiter, which unregisters the watch.
		b.traceTurn(params.Turn.ID, n.Method)
		b.tracker.RecordCompletedTurn(params.Turn)

	case rpc.KindItemDelta:
		var params struct {
			TurnID string `json:"turnId"`
			Delta  string `json:"delta"`
		}
		if err := json.Unmarshal(n.Params, &params); err != nil {
			b.log.Warn("bad item/delta payload", "error", err)
			return
		}
		b.tracker.AppendMessageText(params.TurnID, params.Delta)
		b.traceTurn(params.TurnID, n.Method)

	case rpc.KindItemCompleted:
		var params struct {
			Item struct {
				TurnID string `json:"turnId"`
				Type   string `json:"type"`
				Text   string `json:"text"`
			} `json:"item"`
		}
		if err := json.Unmarshal(n.Params, &params); err != nil {
			b.log.Warn("bad item/completed payload", "error", err)
			return
		}
		// Streaming agents already delivered this text as deltas; only
		// take the completed item's text when nothing accumulated.
		if params.Item.Type == "agent_message" && b.tracker.MessageText(params.Item.TurnID) == "" {
			b.tracker.AppendMessageText(params.Item.TurnID, params.Item.Text)
		}
		b.traceTurn(params.Item.TurnID, n.Method)

	case rpc.KindLoginCompleted:
		var outcome LoginOutcome
		if err := json.Unmarshal(n.Params, &outcome); err != nil {
			b.log.Warn("bad account/login/completed payload", "error", err)
			return
		}
		b.mu.Lock()
		b.logins[outcome.LoginID] = outcome
		b.mu.Unlock()

	case rpc.KindAccountStatus:
		b.mu.Lock()
		b.account = append(json.RawMessage(nil), n.Params...)
		b.mu.Unlock()

	case rpc.KindConnectionStatus:
		var params struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(n.Params, &params); err != nil {
			return
		}
		b.mu.Lock()
		b.connection = params.Status
		b.mu.Unlock()
	}
}

// ConnectionStatus reports the last connection state the agent announced.
func (b *Bridge) ConnectionStatus() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connection
}

func (b *Bridge) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	b.mu.Lock()
	caller := b.caller
	b.mu.Unlock()
	if caller == nil {
		return nil, ErrBridgeUnreachable
	}
	res, err := caller.Call(ctx, method, params)
	if errors.Is(err, rpc.ErrConnClosed) {
		return nil, fmt.Errorf("%w: %v", ErrBridgeUnreachable, err)
	}
	return res, err
}

// StartThread opens a new agent conversation thread.
func (b *Bridge) StartThread(ctx context.Context) (string, error) {
	res, err := b.call(ctx, "thread/start", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return "", fmt.Errorf("agent: decode thread/start result: %w", err)
	}
	if out.ThreadID == "" {
		return "", fmt.Errorf("agent: thread/start returned no thread id")
	}
	return out.ThreadID, nil
}

// StartTurn begins one turn on a thread and returns its id. Completion
// arrives later as a notification; await it through the tracker.
func (b *Bridge) StartTurn(ctx context.Context, threadID, input string) (string, error) {
	res, err := b.call(ctx, "turn/start", map[string]string{
		"threadId": threadID,
		"input":    input,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		TurnID string `json:"turnId"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return "", fmt.Errorf("agent: decode turn/start result: %w", err)
	}
	if out.TurnID == "" {
		return "", fmt.Errorf("agent: turn/start returned no turn id")
	}
	return out.TurnID, nil
}

func (b *Bridge) watchTurn(turnID string, trace func(kind string)) {
	b.mu.Lock()
	b.traces[turnID] = trace
	b.mu.Unlock()
}

func (b *Bridge) unwatchTurn(turnID string) {
	b.mu.Lock()
	delete(b.traces, turnID)
	b.mu.Unlock()
}

func (b *Bridge) traceTurn(turnID, method string) {
	b.mu.Lock()
	trace := b.traces[turnID]
	b.mu.Unlock()
	if trace != nil {
		trace(method)
	}
}

// RunTurn starts a turn, waits for its terminal completion, collects the
// message text, and purges the turn's tracker state. Transport and timeout
// failures come back as errors; an agent-reported failed turn comes back
// as a result with Turn.Status set to failed.
func (b *Bridge) RunTurn(ctx context.Context, threadID, input string) (TurnResult, error) {
	return b.RunTurnTraced(ctx, threadID, input, nil)
}

// RunTurnTraced is RunTurn with a protocol trace hook: every notification
// the agent emits for the turn invokes trace with the notification method.
// The hook runs on the connection's read goroutine and must not block.
func (b *Bridge) RunTurnTraced(ctx context.Context, threadID, input string, trace func(kind string)) (TurnResult, error) {
	turnID, err := b.StartTurn(ctx, threadID, input)
	if err != nil {
		return TurnResult{}, err
	}
	if trace != nil {
		b.watchTurn(turnID, trace)
		defer b.unwatchTurn(turnID)
	}

	turn, err := b.tracker.WaitForTurnCompletion(ctx, turnID)
	if err != nil {
		b.tracker.PurgeTurn(turnID)
		return TurnResult{}, err
	}

	text := b.tracker.MessageText(turnID)
	b.tracker.PurgeTurn(turnID)

	return TurnResult{Turn: turn, MessageText: text}, nil
}

// LoginStartRequest asks the agent to begin a browser login flow.
func (b *Bridge) LoginStartRequest(ctx context.Context) (*LoginStart, error) {
	res, err := b.call(ctx, "account/login/start", nil)
	if err != nil {
		return nil, err
	}
	var out LoginStart
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("agent: decode login/start result: %w", err)
	}
	return &out, nil
}

// LoginCompleted reports whether the given login flow has finished, and
// with what outcome.
func (b *Bridge) LoginCompleted(loginID string) (LoginOutcome, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	outcome, ok := b.logins[loginID]
	return outcome, ok
}

// LoginCancel aborts an in-flight login flow.
func (b *Bridge) LoginCancel(ctx context.Context, loginID string) error {
	_, err := b.call(ctx, "account/login/cancel", map[string]string{"loginId": loginID})
	return err
}

// Logout signs the agent's account out.
func (b *Bridge) Logout(ctx context.Context) error {
	_, err := b.call(ctx, "account/logout", nil)
	return err
}

// ReadAccount returns the agent's account details.
func (b *Bridge) ReadAccount(ctx context.Context, refreshToken string) (json.RawMessage, error) {
	params := map[string]string{}
	if refreshToken != "" {
		params["refreshToken"] = refreshToken
	}
	return b.call(ctx, "account/read", params)
}
