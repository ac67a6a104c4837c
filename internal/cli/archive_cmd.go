package cli

import (
	"github.com/spf13/cobra"

	"diskimager/internal/archive"
	"diskimager/internal/proc"
)

var (
	archiveKindFlag   string
	archiveKeepSource bool
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <image>",
		Short: "Wrap an existing disk image in a zip or 7z archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runArchive,
	}

	cmd.Flags().StringVar(&archiveKindFlag, "kind", "zip", "Archive kind: zip or 7z")
	cmd.Flags().BoolVar(&archiveKeepSource, "keep", false, "Keep the original image after archiving")

	return cmd
}

func runArchive(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	kind, err := archive.ParseKind(archiveKindFlag)
	if err != nil {
		return err
	}

	post := archive.NewPostProcessor(app.env, proc.NewExecRunner(app.logger))
	post.DeleteOriginal = !archiveKeepSource

	path, err := post.Archive(cmd.Context(), args[0], kind)
	if err != nil {
		return err
	}
	cmd.Printf("created %s\n", path)
	return nil
}
