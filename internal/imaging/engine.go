package imaging

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"

	"diskimager/internal/proc"
	"diskimager/internal/tools"
)

// Engine turns imaging jobs into results. One job runs at a time per engine;
// the only internal concurrency is the progress monitor watching the output
// file while the imaging tool runs.
type Engine struct {
	env      *tools.Environment
	resolver *tools.Resolver
	runner   proc.Runner
	logger   *zap.Logger

	// Cleanup controls whether extracted tools are removed after a job.
	Cleanup tools.CleanupPolicy
}

// NewEngine creates an imaging engine over the given tools environment.
func NewEngine(env *tools.Environment, runner proc.Runner, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		env:      env,
		resolver: tools.NewResolver(env, runner),
		runner:   runner,
		logger:   logger,
	}
}

// Image executes the job and returns a structured result. Terminal failures
// come back as (success=false, message); nothing panics or leaks raw OS
// errors across this boundary.
func (e *Engine) Image(ctx context.Context, job Job, onProgress ProgressFunc) Result {
	if err := job.Validate(); err != nil {
		return Result{Message: err.Error()}
	}
	if dir := filepath.Dir(job.DestPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{Message: (&DeviceAccessError{Path: dir, Cause: err}).Error()}
		}
	}

	e.logger.Info("starting imaging job",
		zap.String("source", job.SourcePath),
		zap.String("dest", job.DestPath),
		zap.String("format", string(job.Format)),
		zap.Bool("sparse", job.Sparse),
		zap.Bool("compress", job.Compress))

	var (
		bytesDone int64
		err       error
	)
	if job.Sparse && job.Format.SparseCapable() {
		bytesDone, err = e.convertWithTool(ctx, job.SourcePath, job.DestPath, job, onProgress)
	} else {
		bytesDone, err = e.directImage(ctx, job, onProgress)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			e.logger.Info("imaging cancelled", zap.Int64("bytes", bytesDone))
			return Result{Cancelled: true, Message: "imaging cancelled", BytesProcessed: bytesDone}
		}
		e.logger.Error("imaging failed", zap.Error(err))
		return Result{Message: err.Error(), BytesProcessed: bytesDone}
	}

	// Inline-compressible formats get -c from convertArgs on every tool
	// path; the stream pass is only for formats without native compression.
	// Gzipping an already inline-compressed image would leave a gzip stream
	// under the format's extension.
	if job.Compress && !job.Format.InlineCompressible() {
		if err := gzipInPlace(job.DestPath); err != nil {
			e.logger.Error("compression failed", zap.Error(err))
			return Result{Message: err.Error(), BytesProcessed: bytesDone}
		}
	}

	e.cleanupTools()
	e.logger.Info("imaging job complete", zap.Int64("bytes", bytesDone))
	return Result{Success: true, Message: "imaging completed successfully", BytesProcessed: bytesDone}
}

// directImage performs the block copy path: straight into the destination
// for raw layouts, through a temporary raw file plus a tool conversion for
// everything else. The temporary file is removed whether or not the
// conversion succeeds.
func (e *Engine) directImage(ctx context.Context, job Job, onProgress ProgressFunc) (int64, error) {
	if job.Format.RawLayout() {
		return directCopy(ctx, job.SourcePath, job.DestPath, job.bufferSize(), onProgress)
	}

	tmp, err := os.CreateTemp(filepath.Dir(job.DestPath), ".diskimager-raw-*")
	if err != nil {
		return 0, &DeviceAccessError{Path: job.DestPath, Cause: err}
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	copied, err := directCopy(ctx, job.SourcePath, tmpPath, job.bufferSize(), onProgress)
	if err != nil {
		return copied, err
	}
	// The copy already emitted progress up to the full source size; watching
	// the conversion output would restart the count from zero and break the
	// monotonic contract, so this phase runs unmonitored.
	return e.convertWithTool(ctx, tmpPath, job.DestPath, job, nil)
}

// convertWithTool drives the imaging tool's convert command, with the
// progress monitor polling the destination and the missing-dependency
// recovery armed. Returns the destination's final size.
func (e *Engine) convertWithTool(ctx context.Context, source, dest string, job Job, onProgress ProgressFunc) (int64, error) {
	imager, ok := tools.Lookup(tools.ToolImager)
	if !ok {
		return 0, errors.New("imaging tool manifest not registered")
	}
	if err := e.resolver.Ensure(ctx, imager); err != nil {
		return 0, err
	}
	binary, err := e.resolver.ExecutablePath(imager)
	if err != nil {
		return 0, err
	}

	inv := proc.Invocation{
		Binary:  binary,
		Args:    convertArgs(job, source, dest),
		Timeout: proc.DefaultImagingTimeout,
	}
	if runtime.GOOS == "windows" {
		// The extracted tool resolves its DLLs relative to its own dir.
		inv.Dir = e.env.InstallDir(imager)
	}

	monitor := NewMonitor(dest, onProgress)
	monitor.Start()
	outcome, runErr := proc.RunWithRecovery(ctx, e.runner, inv, proc.Recovery{
		Reinstall: func(ctx context.Context) error { return e.resolver.Reinstall(ctx, imager) },
		Diagnose:  func() string { return e.resolver.InstallState(imager) },
	}, e.logger)
	monitor.Stop()

	if runErr != nil {
		return 0, runErr
	}
	if err := proc.CheckSuccess(inv, outcome); err != nil {
		return 0, err
	}

	info, err := os.Stat(dest)
	if err != nil {
		return 0, &DeviceAccessError{Path: dest, Cause: err}
	}
	return info.Size(), nil
}

// convertArgs builds the imaging tool's convert command line. Flag choices
// follow the throughput profile for physical devices: parallel coroutines,
// relaxed cache requirements, direct source I/O on Windows, and a 4 KiB
// sparse block hint.
func convertArgs(job Job, source, dest string) []string {
	args := []string{"convert", "-p", "-m", "16", "-W"}
	if runtime.GOOS == "windows" {
		args = append(args, "-T", "none", "-f", "raw")
	}
	if job.Sparse {
		args = append(args, "-S", "4096")
	}
	args = append(args, "-O", job.Format.toolName())
	if job.Format.RawLayout() {
		args = append(args, "-t", "none")
	} else {
		args = append(args, "-t", "writeback")
	}
	if job.Compress && job.Format.InlineCompressible() {
		args = append(args, "-c")
	}
	return append(args, source, dest)
}

// gzipInPlace compresses path's contents to a temporary sibling and renames
// it over the original only on success, so a failed compression never
// destroys the finished image.
func gzipInPlace(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return &DeviceAccessError{Path: path, Cause: err}
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".diskimager-gz-*")
	if err != nil {
		return fmt.Errorf("create compression temp: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	zw := gzip.NewWriter(tmp)
	if _, err := io.Copy(zw, src); err != nil {
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize compression: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close compression temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace with compressed image: %w", err)
	}
	success = true
	return nil
}

func (e *Engine) cleanupTools() {
	if e.Cleanup != tools.CleanupAfterUse {
		return
	}
	for _, name := range tools.KnownTools() {
		if m, ok := tools.Lookup(name); ok {
			if err := tools.Cleanup(e.env, m, e.Cleanup); err != nil {
				e.logger.Warn("tool cleanup failed", zap.String("tool", name), zap.Error(err))
			}
		}
	}
}
