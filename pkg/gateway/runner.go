package gateway

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/bdrman/bdrman/pkg/logger"
)

// Capture is what a Runner observed: merged stdout+stderr and the exit code.
type Capture struct {
	Output   []byte
	ExitCode int
	// Dropped is set when the child wrote more than the capture buffer holds.
	Dropped bool
}

// Runner spawns processes. ProcessRunner is the real implementation; tests
// substitute a fake to observe what would have been spawned.
type Runner interface {
	// Run waits for cmd to exit or for ctx to end. When ctx ends the whole
	// process group is killed and ctx.Err() is returned. A non-zero exit is
	// reported through Capture.ExitCode with a nil error.
	Run(ctx context.Context, cmd Command) (Capture, error)
	// Start launches cmd detached and returns without waiting.
	Start(cmd Command) error
}

const (
	// captureSlack leaves room past MaxOutput so rune boundaries can be found.
	captureSlack = 8
	// defaultCaptureLimit bounds commands that did not set MaxOutput.
	defaultCaptureLimit = 1 << 20
	// waitDelay bounds how long Wait blocks on pipes held by escaped grandchildren.
	waitDelay = time.Second
)

type ProcessRunner struct{}

func (ProcessRunner) Run(ctx context.Context, command Command) (Capture, error) {
	limit := defaultCaptureLimit
	if command.MaxOutput > 0 {
		limit = command.MaxOutput + captureSlack
	}
	buf := newCaptureBuffer(command.Truncate, limit)

	cmd := exec.Command(command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.Stdout = buf
	cmd.Stderr = buf
	cmd.WaitDelay = waitDelay
	prepareCommandForTreeControl(cmd)

	if err := cmd.Start(); err != nil {
		return Capture{ExitCode: -1}, fmt.Errorf("start %s: %w", command.Name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if err := killCommandTree(cmd); err != nil {
			logger.WarnCF("gateway", "Failed to kill timed out command", map[string]any{
				"command": command.String(),
				"error":   err.Error(),
			})
		}
		<-done
		return Capture{Output: buf.Bytes(), ExitCode: -1, Dropped: buf.dropped}, ctx.Err()
	case err := <-done:
		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return Capture{Output: buf.Bytes(), ExitCode: -1, Dropped: buf.dropped}, err
			}
			code = exitErr.ExitCode()
		}
		return Capture{Output: buf.Bytes(), ExitCode: code, Dropped: buf.dropped}, nil
	}
}

func (ProcessRunner) Start(command Command) error {
	cmd := exec.Command(command.Name, command.Args...)
	cmd.Dir = command.Dir
	prepareDetached(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", command.Name, err)
	}

	go func() {
		err := cmd.Wait()
		fields := map[string]any{"command": command.String(), "pid": cmd.Process.Pid}
		if err != nil {
			fields["error"] = err.Error()
			logger.WarnCF("gateway", "Detached command exited with error", fields)
			return
		}
		logger.InfoCF("gateway", "Detached command finished", fields)
	}()
	return nil
}
