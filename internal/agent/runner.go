// Package agent invokes the external coding-agent CLI for one conversation
// turn and mediates its permission requests.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agentcord/agentcord/internal/config"
	"github.com/agentcord/agentcord/internal/logging"
)

const (
	// killGrace is how long a canceled process gets to exit after SIGTERM
	// before it is killed.
	killGrace = 5 * time.Second

	// maxStreamLine bounds one stream-json stdout line.
	maxStreamLine = 10 * 1024 * 1024
)

// FailureKind classifies unsuccessful results.
type FailureKind string

const (
	FailureNone    FailureKind = ""
	FailureSpawn   FailureKind = "spawn"
	FailureAuth    FailureKind = "auth"
	FailureTimeout FailureKind = "timeout"
	FailureAborted FailureKind = "aborted"
	FailureError   FailureKind = "error"
)

// Result is the outcome of one agent turn.
type Result struct {
	Success  bool
	Output   string
	Thinking string
	Failure  FailureKind
	// CostUSD is the per-turn cost reported by the agent's result record.
	CostUSD float64
}

// PermissionFunc resolves a single tool-use permission request. Returning
// false denies the tool.
type PermissionFunc func(ctx context.Context, tool string, input json.RawMessage) bool

// PermissionMode selects how tool use is authorized for one invocation.
type PermissionMode interface {
	permissionMode()
}

// AutoBypass pre-authorizes all tool use; the agent never asks.
type AutoBypass struct{}

// Gated routes every tool-use attempt through OnRequest; the agent blocks
// until it resolves.
type Gated struct {
	OnRequest PermissionFunc
}

func (AutoBypass) permissionMode() {}
func (Gated) permissionMode()      {}

// Options describes one turn.
type Options struct {
	Prompt     string
	SessionID  string
	Resume     bool
	WorkingDir string
	// Permissions defaults to AutoBypass when nil.
	Permissions PermissionMode
}

// Runner spawns the agent CLI. One Runner serves all sessions; each Invoke
// is an independent process.
type Runner struct {
	cfg config.AgentConfig
}

// NewRunner creates a runner from agent configuration.
func NewRunner(cfg config.AgentConfig) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultAgentTimeout
	}
	return &Runner{cfg: cfg}
}

// Handle is a cancelable in-flight turn.
type Handle struct {
	result chan Result

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// Result returns the channel delivering the single turn result.
func (h *Handle) Result() <-chan Result {
	return h.result
}

// Wait blocks for the turn result.
func (h *Handle) Wait() Result {
	return <-h.result
}

// Cancel terminates the turn. The process gets a grace period after SIGTERM
// and is then killed; the result reports an aborted failure rather than an
// error.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancelCh) })
}

// Invoke starts one agent turn. The returned handle's result channel always
// delivers exactly one Result; Invoke itself never fails.
func (r *Runner) Invoke(ctx context.Context, opts Options) *Handle {
	h := &Handle{
		result:   make(chan Result, 1),
		cancelCh: make(chan struct{}),
	}
	go func() {
		h.result <- r.run(ctx, opts, h.cancelCh)
	}()
	return h
}

func (r *Runner) buildArgs(opts Options) []string {
	args := []string{"-p", "--verbose", "--output-format", "stream-json"}

	gated := false
	if _, ok := opts.Permissions.(Gated); ok {
		gated = true
	}

	if gated {
		// The prompt and permission responses travel over stdin.
		args = append(args, "--input-format", "stream-json", "--permission-prompt-tool", "stdio")
	} else {
		args = append(args, "--dangerously-skip-permissions")
	}

	if opts.SessionID != "" {
		if opts.Resume {
			args = append(args, "--resume", opts.SessionID)
		} else {
			args = append(args, "--session-id", opts.SessionID)
		}
	}
	if r.cfg.Model != "" {
		args = append(args, "--model", r.cfg.Model)
	}
	if r.cfg.MaxBudgetUSD != "" {
		args = append(args, "--max-budget-usd", r.cfg.MaxBudgetUSD)
	}
	args = append(args, "--append-system-prompt", systemPrompt)
	if !gated {
		args = append(args, opts.Prompt)
	}
	return args
}

func (r *Runner) run(ctx context.Context, opts Options, cancelCh <-chan struct{}) Result {
	gate, gated := opts.Permissions.(Gated)

	cmd := exec.Command(r.cfg.Path, r.buildArgs(opts)...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = os.Environ()
	if r.cfg.APIKey != "" {
		cmd.Env = append(cmd.Env, "ANTHROPIC_API_KEY="+r.cfg.APIKey)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return spawnFailure(err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	var stdin io.WriteCloser
	if gated {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return spawnFailure(err)
		}
	}

	if err := cmd.Start(); err != nil {
		return spawnFailure(err)
	}

	logging.Debug().
		Str("session", opts.SessionID).
		Bool("resume", opts.Resume).
		Str("cwd", opts.WorkingDir).
		Msg("agent process started")

	var stdinMu sync.Mutex
	writeStdin := func(v any) error {
		stdinMu.Lock()
		defer stdinMu.Unlock()
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = stdin.Write(append(data, '\n'))
		return err
	}

	if gated {
		if err := writeStdin(newUserMessage(opts.Prompt)); err != nil {
			// The write only fails when the process is already gone;
			// reap it so the pipes close.
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return spawnFailure(err)
		}
	}

	// Reader goroutine: accumulate output and answer control requests.
	state := &turnState{}
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxStreamLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			state.raw.Write(line)
			state.raw.WriteByte('\n')

			chunk, err := parseChunk(line)
			if err != nil {
				continue
			}
			switch c := chunk.(type) {
			case AssistantChunk:
				state.apply(c)
			case ResultChunk:
				state.finish(c)
			case ControlRequestChunk:
				if !gated {
					continue
				}
				go func(req ControlRequestChunk) {
					allowed := gate.OnRequest(ctx, req.ToolName, req.Input)
					if err := writeStdin(newControlResponse(req.RequestID, allowed)); err != nil {
						logging.Warn().Err(err).Msg("failed to answer permission request")
					}
				}(c)
			}
		}
	}()

	waitErr := make(chan error, 1)
	go func() {
		<-readDone
		waitErr <- cmd.Wait()
	}()

	timer := time.NewTimer(r.cfg.Timeout)
	defer timer.Stop()

	select {
	case err := <-waitErr:
		if gated {
			stdin.Close()
		}
		return state.result(err, stderr.String())

	case <-cancelCh:
		terminate(cmd)
		<-waitErr
		return Result{Success: false, Output: "Response aborted.", Failure: FailureAborted}

	case <-ctx.Done():
		terminate(cmd)
		<-waitErr
		return Result{Success: false, Output: "Response aborted.", Failure: FailureAborted}

	case <-timer.C:
		terminate(cmd)
		<-waitErr
		return Result{
			Success: false,
			Output:  fmt.Sprintf("Agent timed out after %s.", r.cfg.Timeout),
			Failure: FailureTimeout,
		}
	}
}

// terminate asks the process to exit and kills it after the grace period.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	// Signal(0) probes liveness; it errors once the process is reaped.
	exited := make(chan struct{})
	go func() {
		for {
			if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
				close(exited)
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
	}()

	select {
	case <-exited:
	case <-time.After(killGrace):
		_ = cmd.Process.Kill()
	}
}

func spawnFailure(err error) Result {
	return Result{
		Success: false,
		Output:  fmt.Sprintf("Failed to run agent: %v", err),
		Failure: FailureSpawn,
	}
}

// turnState accumulates stream output for one turn.
type turnState struct {
	mu       sync.Mutex
	text     string
	thinking string
	raw      bytes.Buffer
	final    *ResultChunk
}

func (s *turnState) apply(c AssistantChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Text != "" {
		s.text = c.Text
	}
	if c.Thinking != "" {
		if s.thinking != "" {
			s.thinking += "\n"
		}
		s.thinking += c.Thinking
	}
}

func (s *turnState) finish(c ResultChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = &c
	if c.Result != "" {
		s.text = c.Result
	}
}

// result classifies the finished process into a Result. A structured result
// record wins; otherwise raw stdout is the fallback on a clean exit, never a
// hard failure.
func (s *turnState) result(waitErr error, stderr string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	thinking := strings.TrimSpace(s.thinking)

	if s.final != nil {
		if s.final.IsError {
			msg := strings.Join(s.final.Errors, "\n")
			if msg == "" {
				msg = s.text
			}
			if msg == "" {
				msg = "Unknown error"
			}
			return Result{
				Success:  false,
				Output:   msg,
				Thinking: thinking,
				Failure:  classifyError(msg),
				CostUSD:  s.final.TotalCostUSD,
			}
		}
		out := strings.TrimSpace(s.text)
		if out == "" {
			out = "(empty response)"
		}
		return Result{Success: true, Output: out, Thinking: thinking, CostUSD: s.final.TotalCostUSD}
	}

	if waitErr == nil {
		// Structured parse failed but the process succeeded: fall back to
		// raw stdout.
		out := strings.TrimSpace(s.raw.String())
		if out == "" {
			out = "(empty response)"
		}
		return Result{Success: true, Output: out, Thinking: thinking}
	}

	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = strings.TrimSpace(s.text)
	}
	if msg == "" {
		msg = waitErr.Error()
	}
	return Result{Success: false, Output: msg, Thinking: thinking, Failure: classifyError(msg)}
}

// classifyError distinguishes credential rejections so the orchestrator can
// attach remediation guidance.
func classifyError(msg string) FailureKind {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "api key") ||
		strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "please run /login") {
		return FailureAuth
	}
	return FailureError
}

// CheckCLI verifies the agent binary exists and reports its version line.
func (r *Runner) CheckCLI(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, r.cfg.Path, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("agent CLI not found at %s: %w", r.cfg.Path, err)
	}
	version := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	return version, nil
}
