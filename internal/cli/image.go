package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"diskimager/internal/archive"
	"diskimager/internal/imaging"
	"diskimager/internal/proc"
	"diskimager/internal/tools"
	"diskimager/internal/tui"
)

var (
	imageFormat    string
	imageSparse    bool
	imageCompress  bool
	imageArchive   string
	imageBufferMB  int
	imageSizeBytes int64
	noProgress     bool
)

func newImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image <source> <dest>",
		Short: "Image a device or file into a disk image",
		Args:  cobra.ExactArgs(2),
		RunE:  runImage,
	}

	cmd.Flags().StringVar(&imageFormat, "format", "img", "Output format: img, vhd, vmdk, qcow2, iso")
	cmd.Flags().BoolVar(&imageSparse, "sparse", true, "Use sparse allocation for capable formats")
	cmd.Flags().BoolVar(&imageCompress, "compress", false, "Compress the output")
	cmd.Flags().StringVar(&imageArchive, "archive", "", "Wrap the finished image in an archive: zip or 7z")
	cmd.Flags().IntVar(&imageBufferMB, "buffer-mb", 0, "Copy buffer size in MiB (default from config)")
	cmd.Flags().Int64Var(&imageSizeBytes, "source-size", 0, "Source size in bytes, for percentage progress")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the interactive progress display")

	return cmd
}

func runImage(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	format, err := imaging.ParseFormat(imageFormat)
	if err != nil {
		return err
	}

	var archiveKind archive.Kind
	if imageArchive != "" {
		archiveKind, err = archive.ParseKind(imageArchive)
		if err != nil {
			return err
		}
	} else if app.cfg.ArchiveFormat != "" {
		archiveKind = archive.Kind(app.cfg.ArchiveFormat)
	}

	bufferBytes := app.cfg.BufferSizeBytes()
	if imageBufferMB > 0 {
		bufferBytes = imageBufferMB * 1024 * 1024
	}

	job := imaging.Job{
		SourcePath: args[0],
		DestPath:   args[1],
		Format:     format,
		Sparse:     imageSparse,
		Compress:   imageCompress,
		BufferSize: bufferBytes,
		SourceSize: imageSizeBytes,
	}

	runner := proc.NewExecRunner(app.logger)
	engine := imaging.NewEngine(app.env, runner, app.logger)
	if app.cfg.CleanupTools {
		engine.Cleanup = tools.CleanupAfterUse
	}

	var result imaging.Result
	if detectInteractiveProgress(os.Stdout, noProgress) {
		result, err = runWithTUI(cmd, engine, job)
		if err != nil {
			return err
		}
	} else {
		result = engine.Image(cmd.Context(), job, nil)
	}

	if result.Cancelled {
		// A user cancel is a clean outcome, not an error exit.
		cmd.Println("imaging cancelled")
		return nil
	}
	if !result.Success {
		return errors.New(result.Message)
	}

	finalPath := job.DestPath
	if archiveKind != "" {
		post := archive.NewPostProcessor(app.env, runner)
		post.DeleteOriginal = true
		finalPath, err = post.Archive(cmd.Context(), job.DestPath, archiveKind)
		if err != nil {
			return fmt.Errorf("imaging completed, but archiving failed: %w", err)
		}
	}

	if outputJSON {
		payload := struct {
			Success        bool   `json:"success"`
			Output         string `json:"output"`
			BytesProcessed int64  `json:"bytes_processed"`
		}{true, finalPath, result.BytesProcessed}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("wrote %s (%d bytes processed)\n", finalPath, result.BytesProcessed)
	return nil
}

// runWithTUI runs the engine on a background goroutine and feeds progress
// into a bubbletea program on the foreground. When the display exits before
// the job finished (ctrl+c), the job's context is cancelled and the engine's
// cancelled result is awaited before returning.
func runWithTUI(cmd *cobra.Command, engine *imaging.Engine, job imaging.Job) (imaging.Result, error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	model := tui.NewModel(fmt.Sprintf("Imaging %s → %s", job.SourcePath, job.DestPath), job.SourceSize)
	program := tea.NewProgram(model)

	resultCh := make(chan imaging.Result, 1)
	go func() {
		result := engine.Image(ctx, job, func(bytes int64) {
			program.Send(tui.ProgressMsg(bytes))
		})
		resultCh <- result
		program.Send(tui.DoneMsg{Success: result.Success, Message: result.Message})
	}()

	final, err := program.Run()
	if err != nil {
		cancel()
		<-resultCh
		return imaging.Result{}, fmt.Errorf("progress display: %w", err)
	}
	if m, ok := final.(tui.Model); ok && !m.Finished() {
		cancel()
	}
	return <-resultCh, nil
}
