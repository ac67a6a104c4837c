// Package cli implements the diskimager command-line front end. It is a thin
// collaborator over the imaging engine; all real behaviour lives in the
// internal packages it wires together.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"diskimager/internal/config"
	"diskimager/internal/logx"
	"diskimager/internal/tools"
)

var (
	toolsDir   string
	configFile string
	outputJSON bool
)

// Execute runs the root cobra command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diskimager",
		Short: "Image physical storage devices into portable disk-image files",
	}

	cmd.PersistentFlags().StringVar(&toolsDir, "tools-dir", "tools", "Directory holding tool distribution archives and installs")
	cmd.PersistentFlags().StringVar(&configFile, "config", "diskimager.yaml", "Path to the configuration file")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output machine-readable JSON")

	cmd.AddCommand(newDisksCmd())
	cmd.AddCommand(newImageCmd())
	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(newToolsCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// app bundles the pieces every command needs.
type app struct {
	cfg      config.Config
	env      *tools.Environment
	logger   *zap.Logger
	closeLog func() error
}

func newApp() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logx.New(filepath.Join(filepath.Dir(toolsDir), "logs"))
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		env:      tools.NewEnvironment(toolsDir, logger),
		logger:   logger,
		closeLog: closer,
	}, nil
}

func (a *app) close() {
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}
