// Package archive wraps finished disk images in a zip or 7z archive.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"diskimager/internal/proc"
	"diskimager/internal/tools"
)

// Kind selects the archive container.
type Kind string

const (
	KindZip      Kind = "zip"
	KindSevenZip Kind = "7z"
)

// ParseKind validates a user-supplied archive kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindZip, KindSevenZip:
		return Kind(s), nil
	default:
		return "", &Error{Op: "parse", Msg: fmt.Sprintf("unsupported archive format %q (supported: zip, 7z)", s)}
	}
}

// Error reports a post-imaging archiving failure.
type Error struct {
	Op   string
	Msg  string
	Wrap error
}

func (e *Error) Error() string {
	if e.Wrap != nil {
		return fmt.Sprintf("archive %s: %s: %v", e.Op, e.Msg, e.Wrap)
	}
	return fmt.Sprintf("archive %s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Wrap }

// PostProcessor archives finished images: zip in-process, 7z through the
// archive tool.
type PostProcessor struct {
	env      *tools.Environment
	resolver *tools.Resolver
	runner   proc.Runner
	logger   *zap.Logger

	// DeleteOriginal removes the source image after archiving, but only
	// once the archive is confirmed present and non-empty. Deleting first
	// would lose data on a false-positive success from the subprocess.
	DeleteOriginal bool
}

// NewPostProcessor creates an archive post-processor.
func NewPostProcessor(env *tools.Environment, runner proc.Runner) *PostProcessor {
	return &PostProcessor{
		env:      env,
		resolver: tools.NewResolver(env, runner),
		runner:   runner,
		logger:   env.Logger,
	}
}

// Archive compresses imagePath into a sibling archive of the requested kind
// and returns the archive path.
func (p *PostProcessor) Archive(ctx context.Context, imagePath string, kind Kind) (string, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return "", &Error{Op: "stat", Msg: "source image does not exist", Wrap: err}
	}
	if info.IsDir() {
		return "", &Error{Op: "stat", Msg: imagePath + " is a directory"}
	}

	ext := filepath.Ext(imagePath)
	archivePath := imagePath[:len(imagePath)-len(ext)] + "." + string(kind)

	p.logger.Info("creating archive",
		zap.String("image", imagePath),
		zap.String("archive", archivePath),
		zap.String("kind", string(kind)))

	switch kind {
	case KindZip:
		err = createZip(imagePath, archivePath)
	case KindSevenZip:
		err = p.createSevenZip(ctx, imagePath, archivePath)
	default:
		return "", &Error{Op: "create", Msg: fmt.Sprintf("unsupported archive kind %q", kind)}
	}
	if err != nil {
		// Never leave a partial archive behind.
		_ = os.Remove(archivePath)
		return "", err
	}

	archInfo, err := os.Stat(archivePath)
	if err != nil {
		return "", &Error{Op: "verify", Msg: "archive file was not created", Wrap: err}
	}
	if archInfo.Size() == 0 {
		_ = os.Remove(archivePath)
		return "", &Error{Op: "verify", Msg: "archive file is empty"}
	}

	if p.DeleteOriginal {
		if err := os.Remove(imagePath); err != nil {
			// The archive is good; a stuck original is a warning, not a
			// failed operation.
			p.logger.Warn("could not remove original image", zap.String("path", imagePath), zap.Error(err))
		}
	}
	return archivePath, nil
}

// createZip writes a single-entry deflate zip streaming from the image file.
func createZip(imagePath, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return &Error{Op: "create", Msg: "open archive for writing", Wrap: err}
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	header := &zip.FileHeader{Name: filepath.Base(imagePath), Method: zip.Deflate}
	entry, err := zw.CreateHeader(header)
	if err != nil {
		return &Error{Op: "create", Msg: "create zip entry", Wrap: err}
	}

	src, err := os.Open(imagePath)
	if err != nil {
		return &Error{Op: "create", Msg: "open source image", Wrap: err}
	}
	defer src.Close()

	if _, err := io.Copy(entry, src); err != nil {
		return &Error{Op: "create", Msg: "compress image", Wrap: err}
	}
	if err := zw.Close(); err != nil {
		return &Error{Op: "create", Msg: "finalize zip", Wrap: err}
	}
	return out.Close()
}

// createSevenZip delegates to the archive tool.
func (p *PostProcessor) createSevenZip(ctx context.Context, imagePath, archivePath string) error {
	archiver, ok := tools.Lookup(tools.ToolArchiver)
	if !ok {
		return &Error{Op: "create", Msg: "archive tool manifest not registered"}
	}
	if err := p.resolver.Ensure(ctx, archiver); err != nil {
		return &Error{Op: "create", Msg: "archive tool unavailable", Wrap: err}
	}
	binary, err := p.resolver.ExecutablePath(archiver)
	if err != nil {
		return &Error{Op: "create", Msg: "archive tool unavailable", Wrap: err}
	}

	inv := proc.Invocation{
		Binary:  binary,
		Args:    []string{"a", archivePath, imagePath, "-t7z"},
		Timeout: proc.DefaultExtractionTimeout,
	}
	outcome, err := p.runner.Run(ctx, inv)
	if err != nil {
		return &Error{Op: "create", Msg: "run archive tool", Wrap: err}
	}
	if err := proc.CheckSuccess(inv, outcome); err != nil {
		return &Error{Op: "create", Msg: "archive tool failed", Wrap: err}
	}
	return nil
}
