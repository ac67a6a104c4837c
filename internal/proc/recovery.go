package proc

import (
	"context"
	"runtime"

	"go.uber.org/zap"
)

// statusDLLNotFound is the Windows loader's STATUS_DLL_NOT_FOUND exit code.
// It is the only runtime signal that an extracted tool lost one of its shared
// libraries after install (antivirus quarantine is the usual culprit).
const statusDLLNotFound = 3221225781

// MissingDependencyExitCode returns the platform's "missing shared
// dependency" exit code watched by RunWithRecovery.
func MissingDependencyExitCode() int {
	if runtime.GOOS == "windows" {
		return statusDLLNotFound
	}
	// Loader/shell "command not found" convention on Unix.
	return 127
}

// Recovery configures the one-shot re-extract-and-retry protocol.
type Recovery struct {
	// ExitCode to treat as a missing dependency; 0 selects the platform
	// default.
	ExitCode int
	// Reinstall forces a re-extraction of the tool before the retry.
	Reinstall func(ctx context.Context) error
	// Diagnose describes the install directory's current state for the
	// terminal failure message. Diagnostic only; the outcome does not
	// depend on its accuracy.
	Diagnose func() string
}

type attemptState int

const (
	firstAttempt attemptState = iota
	retried
)

// RunWithRecovery runs the invocation, and if it exits with the missing-
// dependency code, reinstalls the tool and re-runs the identical invocation
// exactly once. A second missing-dependency exit is terminal. Everything else
// passes through unchanged.
func RunWithRecovery(ctx context.Context, r Runner, inv Invocation, rec Recovery, logger *zap.Logger) (Outcome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	missingCode := rec.ExitCode
	if missingCode == 0 {
		missingCode = MissingDependencyExitCode()
	}

	state := firstAttempt
	for {
		outcome, err := r.Run(ctx, inv)
		if err != nil {
			return outcome, err
		}
		if outcome.ExitCode != missingCode {
			return outcome, nil
		}

		switch state {
		case firstAttempt:
			logger.Warn("missing shared dependency detected, re-extracting tool",
				zap.String("binary", inv.Binary),
				zap.Int("exit_code", outcome.ExitCode))
			if rec.Diagnose != nil {
				logger.Info("install state before recovery", zap.String("state", rec.Diagnose()))
			}
			if rec.Reinstall != nil {
				if rerr := rec.Reinstall(ctx); rerr != nil {
					return outcome, &FailureError{
						Binary:   inv.Binary,
						ExitCode: outcome.ExitCode,
						Stdout:   string(outcome.Stdout),
						Stderr:   string(outcome.Stderr),
						Detail:   "re-extraction failed: " + rerr.Error(),
					}
				}
			}
			state = retried
		case retried:
			detail := "missing shared dependency persisted after re-extraction"
			if rec.Diagnose != nil {
				detail += "\n" + rec.Diagnose()
			}
			return outcome, &FailureError{
				Binary:   inv.Binary,
				ExitCode: outcome.ExitCode,
				Stdout:   string(outcome.Stdout),
				Stderr:   string(outcome.Stderr),
				Detail:   detail,
			}
		}
	}
}
