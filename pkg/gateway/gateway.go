// Package gateway is the authenticated command-execution core shared by the
// chat bot and the web dashboard. It authorizes a single caller identity,
// screens free-form command lines against a denylist and runs external
// commands as argument vectors with a hard timeout and a bounded output.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bdrman/bdrman/pkg/audit"
	"github.com/bdrman/bdrman/pkg/logger"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxOutput = 3500
)

type Options struct {
	// Identity is the only caller Authorize accepts.
	Identity     string
	Runner       Runner
	Timeout      time.Duration
	MaxOutput    int
	DenyPatterns []string
	Recorder     audit.Recorder
}

type Gateway struct {
	identity     string
	runner       Runner
	timeout      time.Duration
	maxOutput    int
	denyPatterns []*regexp.Regexp
	recorder     audit.Recorder
}

// Result is the outcome of one Execute call. Output is already bounded to the
// command's MaxOutput (plus TruncatedMarker in head mode).
type Result struct {
	Command   string        `json:"command"`
	Output    string        `json:"output"`
	ExitCode  int           `json:"exit_code"`
	TimedOut  bool          `json:"timed_out"`
	Failed    bool          `json:"failed"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
}

func (r Result) OK() bool {
	return !r.TimedOut && !r.Failed
}

// Err maps the result onto the package sentinel errors; nil when OK.
func (r Result) Err() error {
	switch {
	case r.TimedOut:
		return fmt.Errorf("%s: %w", r.Command, ErrTimeout)
	case r.Failed:
		return fmt.Errorf("%s: exit status %d: %w", r.Command, r.ExitCode, ErrExecutionFailed)
	}
	return nil
}

func New(opts Options) (*Gateway, error) {
	patterns, err := compileDenyPatterns(opts.DenyPatterns)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		identity:     strings.TrimSpace(opts.Identity),
		runner:       opts.Runner,
		timeout:      opts.Timeout,
		maxOutput:    opts.MaxOutput,
		denyPatterns: patterns,
		recorder:     opts.Recorder,
	}
	if g.runner == nil {
		g.runner = ProcessRunner{}
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.maxOutput <= 0 {
		g.maxOutput = DefaultMaxOutput
	}
	if g.recorder == nil {
		g.recorder = audit.Nop{}
	}
	return g, nil
}

func (g *Gateway) Identity() string {
	return g.identity
}

// Authorize reports whether caller is the configured identity. It has no side
// effects besides logging and auditing rejected callers.
func (g *Gateway) Authorize(caller string) bool {
	caller = strings.TrimSpace(caller)
	if g.identity != "" && caller == g.identity {
		return true
	}

	logger.WarnCF("gateway", "Unauthorized access attempt", map[string]any{
		"caller": caller,
	})
	g.record(context.Background(), audit.Event{
		Type:   audit.EventAuthFailure,
		Actor:  caller,
		Action: "authorize",
	})
	return false
}

// ValidateDestructive returns false when line contains a denylisted fragment.
func (g *Gateway) ValidateDestructive(line string) bool {
	_, denied := matchDenied(g.denyPatterns, line)
	return !denied
}

// RunShell is the free-form entry point: the line is screened against the
// denylist and, if it passes, run through sh -c with head truncation.
func (g *Gateway) RunShell(ctx context.Context, line string) (Result, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Result{}, fmt.Errorf("empty command: %w", ErrInvalidArgument)
	}

	if pattern, denied := matchDenied(g.denyPatterns, line); denied {
		logger.WarnCF("gateway", "Command blocked by denylist", map[string]any{
			"command": line,
			"pattern": pattern,
		})
		g.record(ctx, audit.Event{
			Type:   audit.EventValidationRejected,
			Action: line,
			Detail: pattern,
		})
		return Result{}, fmt.Errorf("%q: %w", line, ErrValidationRejected)
	}

	return g.Execute(ctx, Shell(line)), nil
}

// Execute runs cmd and waits for it, bounded by its timeout (DefaultTimeout
// when unset). The child is killed on timeout; output is never partial then.
func (g *Gateway) Execute(ctx context.Context, cmd Command) Result {
	if cmd.Timeout <= 0 {
		cmd.Timeout = g.timeout
	}
	if cmd.MaxOutput <= 0 {
		cmd.MaxOutput = g.maxOutput
	}

	runCtx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	start := time.Now()
	capture, err := g.runner.Run(runCtx, cmd)
	res := Result{
		Command:  cmd.String(),
		ExitCode: capture.ExitCode,
		Duration: time.Since(start),
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.TimedOut = true
		res.ExitCode = -1
		res.Output = fmt.Sprintf("Command timed out after %v", cmd.Timeout)
	case err != nil:
		res.Failed = true
		res.ExitCode = -1
		res.Output = err.Error()
	default:
		res.Failed = capture.ExitCode != 0
		res.Output, res.Truncated = boundOutput(capture, cmd)
	}

	fields := map[string]any{
		"command":   res.Command,
		"exit_code": res.ExitCode,
		"duration":  res.Duration.Round(time.Millisecond).String(),
	}
	switch {
	case res.TimedOut:
		logger.WarnCF("gateway", "Command timed out", fields)
	case res.Failed:
		logger.WarnCF("gateway", "Command failed", fields)
	default:
		logger.DebugCF("gateway", "Command finished", fields)
	}

	detail := ""
	if res.TimedOut {
		detail = "timed out"
	} else if res.Failed {
		detail = fmt.Sprintf("exit status %d", res.ExitCode)
	}
	g.record(ctx, audit.Event{
		Type:    audit.EventExecution,
		Action:  res.Command,
		Success: res.OK(),
		Detail:  detail,
	})

	return res
}

// Spawn launches cmd detached and returns immediately. Completion is not
// observed; callers learn about it by querying external state later.
func (g *Gateway) Spawn(ctx context.Context, cmd Command) error {
	err := g.runner.Start(cmd)

	fields := map[string]any{"command": cmd.String()}
	if err != nil {
		fields["error"] = err.Error()
		logger.ErrorCF("gateway", "Failed to launch detached command", fields)
	} else {
		logger.InfoCF("gateway", "Detached command launched", fields)
	}

	g.record(ctx, audit.Event{
		Type:    audit.EventSpawn,
		Action:  cmd.String(),
		Success: err == nil,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.String(), ErrExecutionFailed)
	}
	return nil
}

func boundOutput(capture Capture, cmd Command) (string, bool) {
	out := capture.Output
	truncated := capture.Dropped

	var cut bool
	if cmd.Truncate == TruncateTail {
		out, cut = truncateTail(out, cmd.MaxOutput)
		truncated = truncated || cut
		if len(out) == 0 {
			return NoOutput, truncated
		}
		return string(out), truncated
	}

	out, cut = truncateHead(out, cmd.MaxOutput)
	truncated = truncated || cut
	if len(strings.TrimSpace(string(out))) == 0 && !truncated {
		return NoOutput, false
	}
	if truncated {
		return string(out) + TruncatedMarker, true
	}
	return string(out), false
}

func (g *Gateway) record(ctx context.Context, e audit.Event) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := g.recorder.Record(ctx, e); err != nil {
		logger.WarnCF("gateway", "Failed to write audit event", map[string]any{
			"type":  string(e.Type),
			"error": err.Error(),
		})
	}
}
