package tools

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// CleanupPolicy decides when extracted tool files are removed. The policy is
// supplied by the caller; no component hardcodes a default deletion.
type CleanupPolicy int

const (
	// CleanupNever leaves extracted tools in place for the next run.
	CleanupNever CleanupPolicy = iota
	// CleanupAfterUse removes the install directory once a job finishes.
	// The source archive stays in the tools directory for re-extraction.
	CleanupAfterUse
)

// Cleanup applies the policy to a tool's install directory.
func Cleanup(env *Environment, m Manifest, policy CleanupPolicy) error {
	if policy != CleanupAfterUse {
		return nil
	}
	installDir := env.InstallDir(m)
	if err := os.RemoveAll(installDir); err != nil {
		return fmt.Errorf("remove %s install dir: %w", m.Name, err)
	}
	env.Logger.Info("removed extracted tool", zap.String("tool", m.Name), zap.String("dir", installDir))
	return nil
}
