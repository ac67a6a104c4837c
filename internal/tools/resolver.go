package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"diskimager/internal/proc"
)

// Resolver ensures a tool is installed before use: health check, then
// locate-and-extract only when something is missing. Cheap when the tool is
// already healthy, so callers run it before every invocation.
type Resolver struct {
	env       *Environment
	extractor *Extractor
	logger    *zap.Logger

	// AllowSystem permits falling back to a system binary on PATH instead
	// of a managed extraction. Defaults to true off Windows, matching the
	// platforms where package managers provide the tools.
	AllowSystem bool
}

// NewResolver creates a resolver over the given environment and runner.
func NewResolver(env *Environment, runner proc.Runner) *Resolver {
	return &Resolver{
		env:         env,
		extractor:   NewExtractor(env, runner),
		logger:      env.Logger,
		AllowSystem: runtime.GOOS != "windows",
	}
}

// Ensure makes the tool ready, extracting from a located archive when the
// install dir is unhealthy. Concurrent calls for the same tool serialize on a
// per-tool lock; health-check-then-extract is not atomic without it.
func (r *Resolver) Ensure(ctx context.Context, m Manifest) error {
	if len(m.RequiredFiles) == 0 {
		return fmt.Errorf("manifest for %s has no required files", m.Name)
	}

	lock := r.env.lock(m.Name)
	lock.Lock()
	defer lock.Unlock()

	installDir := r.env.InstallDir(m)
	if CheckHealth(installDir, m).Ready {
		return nil
	}

	if r.AllowSystem {
		if _, err := exec.LookPath(m.SystemBinary); err == nil {
			r.logger.Info("using system tool", zap.String("tool", m.Name), zap.String("binary", m.SystemBinary))
			return nil
		}
	}

	cand, found, err := Locate(r.env, m)
	if err != nil {
		return err
	}
	if !found {
		return &NotFoundError{Tool: m.Name, ToolsDir: r.env.ToolsDir, Pattern: m.NamePattern}
	}

	outcome := r.extractor.Extract(ctx, m, cand)
	if outcome.Err != nil {
		if _, ok := outcome.Err.(*ExtractionError); ok {
			return outcome.Err
		}
		return &ExtractionError{Tool: m.Name, Archive: cand.Path, Cause: outcome.Err}
	}

	// Extraction success does not imply manifest completeness: the archive
	// itself may lack a required file.
	if health := CheckHealth(installDir, m); !health.Ready {
		return &ExtractionError{Tool: m.Name, Archive: cand.Path, Missing: health.Missing}
	}

	r.logger.Info("tool ready", zap.String("tool", m.Name), zap.String("install_dir", installDir))
	return nil
}

// Reinstall discards the current install and extracts fresh. Used by the
// runner's missing-dependency recovery, where the install dir is presumed
// partially corrupted.
func (r *Resolver) Reinstall(ctx context.Context, m Manifest) error {
	lock := r.env.lock(m.Name)
	lock.Lock()
	installDir := r.env.InstallDir(m)
	if err := os.RemoveAll(installDir); err != nil {
		lock.Unlock()
		return fmt.Errorf("clear install dir: %w", err)
	}
	lock.Unlock()
	return r.Ensure(ctx, m)
}

// ExecutablePath returns the binary to invoke for a tool: the managed install
// when present, the system binary when the resolver accepted one.
func (r *Resolver) ExecutablePath(m Manifest) (string, error) {
	local := filepath.Join(r.env.InstallDir(m), m.Executable)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	if r.AllowSystem {
		if sys, err := exec.LookPath(m.SystemBinary); err == nil {
			return sys, nil
		}
	}
	return "", &NotFoundError{Tool: m.Name, ToolsDir: r.env.ToolsDir, Pattern: m.NamePattern}
}

// InstallState describes the install directory for recovery diagnostics.
func (r *Resolver) InstallState(m Manifest) string {
	installDir := r.env.InstallDir(m)
	entries, err := os.ReadDir(installDir)
	if err != nil {
		return fmt.Sprintf("install dir %s unreadable: %v", installDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	health := CheckHealth(installDir, m)
	return fmt.Sprintf("install dir %s contains [%s]; missing [%s]",
		installDir, strings.Join(names, " "), strings.Join(health.Missing, " "))
}
