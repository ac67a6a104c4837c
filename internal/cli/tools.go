package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"diskimager/internal/proc"
	"diskimager/internal/tools"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Manage the external imaging and archive tools",
	}

	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsEnsureCmd())
	cmd.AddCommand(newToolsFetchCmd())

	return cmd
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show readiness of each managed tool",
		RunE:  runToolsList,
	}
}

type toolStatus struct {
	Tool       string   `json:"tool"`
	InstallDir string   `json:"install_dir"`
	Ready      bool     `json:"ready"`
	Missing    []string `json:"missing,omitempty"`
}

func runToolsList(cmd *cobra.Command, _ []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	var statuses []toolStatus
	for _, name := range tools.KnownTools() {
		manifest, _ := tools.Lookup(name)
		installDir := app.env.InstallDir(manifest)
		health := tools.CheckHealth(installDir, manifest)
		statuses = append(statuses, toolStatus{
			Tool:       name,
			InstallDir: installDir,
			Ready:      health.Ready,
			Missing:    health.Missing,
		})
	}

	if outputJSON {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	for _, st := range statuses {
		state := "ready"
		if !st.Ready {
			state = fmt.Sprintf("missing %d file(s)", len(st.Missing))
		}
		cmd.Printf("%-10s %-8s %s\n", st.Tool, state, st.InstallDir)
		if !st.Ready && len(st.Missing) <= 5 {
			cmd.Printf("           missing: %s\n", strings.Join(st.Missing, ", "))
		}
	}
	return nil
}

func newToolsEnsureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure <tool>",
		Short: "Install a tool from a local distribution archive if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			manifest, ok := tools.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown tool %q (known: %s)", args[0], strings.Join(tools.KnownTools(), ", "))
			}

			resolver := tools.NewResolver(app.env, proc.NewExecRunner(app.logger))
			if err := resolver.Ensure(cmd.Context(), manifest); err != nil {
				return err
			}
			cmd.Printf("%s is ready\n", manifest.Name)
			return nil
		},
	}
}

func newToolsFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <tool>",
		Short: "Download a tool's pinned distribution archive into the tools directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			manifest, ok := tools.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown tool %q (known: %s)", args[0], strings.Join(tools.KnownTools(), ", "))
			}

			path, err := tools.Fetch(cmd.Context(), app.env, manifest)
			if err != nil {
				return err
			}
			cmd.Printf("downloaded %s\n", path)
			return nil
		},
	}
}
