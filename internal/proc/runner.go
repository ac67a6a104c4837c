// Package proc runs the external imaging and archiving binaries, classifying
// the ways a long-running subprocess can end: clean exit, non-zero exit,
// timeout, or caller cancellation.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Default timeouts, tuned for imaging workloads: a full device conversion can
// legitimately run for most of an hour, extraction is minutes, and version
// probes are near-instant.
const (
	DefaultImagingTimeout    = 3600 * time.Second
	DefaultExtractionTimeout = 300 * time.Second
	DefaultProbeTimeout      = 15 * time.Second
)

// Invocation describes one subprocess run.
type Invocation struct {
	Binary  string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Outcome is the terminal result of one invocation. Exactly one invocation
// produces exactly one outcome; no retries hide inside Run.
type Outcome struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	// TimedOut and Cancelled distinguish the two ways the process was
	// killed from the outside; UI treatment differs (a user cancel is not
	// an error to report).
	TimedOut  bool
	Cancelled bool
}

// TimeoutError reports a process killed by its deadline.
type TimeoutError struct {
	Binary  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Binary, e.Timeout)
}

// FailureError reports a non-recoverable non-zero exit, carrying captured
// output verbatim so operators can file accurate bug reports.
type FailureError struct {
	Binary   string
	ExitCode int
	Stdout   string
	Stderr   string
	Detail   string
}

func (e *FailureError) Error() string {
	msg := fmt.Sprintf("%s failed (exit code %d)", e.Binary, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Detail != "" {
		msg += "\n" + e.Detail
	}
	return msg
}

// Runner executes external binaries. The interface exists so tests can
// substitute scripted outcomes.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Outcome, error)
}

// ExecRunner runs invocations with os/exec.
type ExecRunner struct {
	Logger *zap.Logger
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{Logger: logger}
}

// Run executes the invocation, blocking until exit, deadline, or caller
// cancellation. A non-zero exit is reported through the outcome with a nil
// error; errors are reserved for the process not running to completion.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Binary, inv.Args...)
	if inv.Dir != "" {
		cmd.Dir = inv.Dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.Info("running command",
		zap.String("binary", inv.Binary),
		zap.Strings("args", inv.Args),
		zap.Duration("timeout", inv.Timeout))

	start := time.Now()
	err := cmd.Run()
	outcome := Outcome{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		outcome.TimedOut = true
		outcome.ExitCode = -1
		return outcome, &TimeoutError{Binary: inv.Binary, Timeout: inv.Timeout}
	case ctx.Err() != nil:
		outcome.Cancelled = true
		outcome.ExitCode = -1
		return outcome, context.Canceled
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
			return outcome, nil
		}
		return outcome, fmt.Errorf("start %s: %w", inv.Binary, err)
	}
	return outcome, nil
}

var _ Runner = (*ExecRunner)(nil)

// CheckSuccess converts a non-zero outcome into a FailureError.
func CheckSuccess(inv Invocation, outcome Outcome) error {
	if outcome.ExitCode == 0 {
		return nil
	}
	return &FailureError{
		Binary:   inv.Binary,
		ExitCode: outcome.ExitCode,
		Stdout:   string(outcome.Stdout),
		Stderr:   string(outcome.Stderr),
	}
}
