package agent

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"agentplane/internal/rpc"
)

// ProcessConfig holds the agent subprocess settings.
type ProcessConfig struct {
	// Command and arguments for the agent binary, e.g.
	// ["codex-agent", "serve", "--stdio"].
	Command []string

	// WorkDir the agent runs in (the repository under test).
	WorkDir string

	// CallTimeout for individual RPC requests.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// Process is the single external agent subprocess. All logical requests
// and turns multiplex over its one stdio stream.
type Process struct {
	cmd  *exec.Cmd
	conn *rpc.Conn
	log  *slog.Logger
	done chan struct{}
}

// StartProcess launches the agent and wires its stdio to an rpc.Conn.
// The handler receives notifications from the agent's read loop.
func StartProcess(cfg ProcessConfig, handler rpc.NotificationHandler) (*Process, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("agent: command is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agent: start %q: %w", cfg.Command[0], err)
	}

	p := &Process{
		cmd:  cmd,
		log:  cfg.Logger,
		done: make(chan struct{}),
	}
	p.conn = rpc.NewConn(stdout, stdin, rpc.Options{
		CallTimeout: cfg.CallTimeout,
		Handler:     handler,
		Logger:      cfg.Logger,
	})

	// Agent diagnostics arrive on stderr; forward them line by line.
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				cfg.Logger.Debug("agent stderr", "line", line)
			}
		}
	}()

	go func() {
		err := cmd.Wait()
		p.conn.Close()
		if err != nil {
			cfg.Logger.Warn("agent process exited", "error", err)
		} else {
			cfg.Logger.Info("agent process exited")
		}
		close(p.done)
	}()

	return p, nil
}

// Conn returns the RPC connection to the agent.
func (p *Process) Conn() *rpc.Conn { return p.conn }

// Done is closed when the agent process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Stop closes the connection and terminates the process, escalating to
// kill if it does not exit before ctx is done.
func (p *Process) Stop(ctx context.Context) error {
	p.conn.Close()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(interruptSignal())
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
		return ctx.Err()
	}
}
