package imaging

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diskimager/internal/proc"
	"diskimager/internal/tools"
)

// imagerStub plays the imaging tool: each Run writes a fixed payload to the
// destination (the final argument) and returns the scripted outcome.
type imagerStub struct {
	payload  []byte
	exitCode int
	stderr   string
	calls    int
	args     [][]string
}

func (s *imagerStub) Run(ctx context.Context, inv proc.Invocation) (proc.Outcome, error) {
	s.calls++
	s.args = append(s.args, inv.Args)
	if s.exitCode == 0 && len(inv.Args) > 0 {
		dest := inv.Args[len(inv.Args)-1]
		if err := os.WriteFile(dest, s.payload, 0o644); err != nil {
			return proc.Outcome{}, err
		}
	}
	return proc.Outcome{ExitCode: s.exitCode, Stderr: []byte(s.stderr)}, nil
}

// seedImager installs a healthy imaging tool under the environment so Ensure
// passes without touching archives or the system PATH.
func seedImager(t *testing.T, env *tools.Environment) {
	t.Helper()
	m, ok := tools.Lookup(tools.ToolImager)
	require.True(t, ok)
	installDir := env.InstallDir(m)
	require.NoError(t, os.MkdirAll(installDir, 0o755))
	for _, name := range m.RequiredFiles {
		require.NoError(t, os.WriteFile(filepath.Join(installDir, name), []byte("bin"), 0o755))
	}
}

func newTestEngine(t *testing.T, runner proc.Runner) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	env := tools.NewEnvironment(filepath.Join(dir, "tools"), nil)
	seedImager(t, env)
	return NewEngine(env, runner, nil), dir
}

func TestImageSparseConversionSucceeds(t *testing.T) {
	stub := &imagerStub{payload: make([]byte, 100)}
	engine, dir := newTestEngine(t, stub)

	result := engine.Image(context.Background(), Job{
		SourcePath: filepath.Join(dir, "fake-device"),
		DestPath:   filepath.Join(dir, "backup.qcow2"),
		Format:     FormatQCOW2,
		Sparse:     true,
		Compress:   true,
	}, nil)

	assert.True(t, result.Success, "message: %s", result.Message)
	assert.EqualValues(t, 100, result.BytesProcessed)
	assert.Equal(t, 1, stub.calls)

	// qcow2 compresses inline; the destination must not be gzip-wrapped.
	data, err := os.ReadFile(filepath.Join(dir, "backup.qcow2"))
	require.NoError(t, err)
	assert.Len(t, data, 100)
}

func TestImageNonSparseInlineCompressibleCompressesOnce(t *testing.T) {
	payload := []byte("inline-compressed qcow2 body")
	stub := &imagerStub{payload: payload}
	engine, dir := newTestEngine(t, stub)

	source := filepath.Join(dir, "device")
	require.NoError(t, os.WriteFile(source, bytes.Repeat([]byte{7}, 2048), 0o644))

	dest := filepath.Join(dir, "backup.qcow2")
	result := engine.Image(context.Background(), Job{
		SourcePath: source,
		DestPath:   dest,
		Format:     FormatQCOW2,
		Sparse:     false,
		Compress:   true,
		BufferSize: 1024,
	}, nil)
	require.True(t, result.Success, "message: %s", result.Message)
	require.Equal(t, 1, stub.calls)

	// The tool compresses inline; a second gzip pass over the finished
	// image would leave an unreadable qcow2.
	assert.Contains(t, stub.args[0], "-c")
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, len(got) >= 2, "destination too short")
	assert.False(t, got[0] == 0x1f && got[1] == 0x8b, "destination must not be gzip-wrapped")
	assert.Equal(t, payload, got, "tool output must reach the destination untouched")
}

func TestImageCancelledIsNotFailure(t *testing.T) {
	stub := &imagerStub{}
	engine, dir := newTestEngine(t, stub)

	source := filepath.Join(dir, "device")
	require.NoError(t, os.WriteFile(source, bytes.Repeat([]byte{1}, 4096), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := engine.Image(ctx, Job{
		SourcePath: source,
		DestPath:   filepath.Join(dir, "backup.img"),
		Format:     FormatRaw,
		BufferSize: 1024,
	}, nil)

	assert.True(t, result.Cancelled)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "cancelled")
}

func TestImageToolFailureSurfacesStderr(t *testing.T) {
	stub := &imagerStub{exitCode: 1, stderr: "qemu-img: error: disk full"}
	engine, dir := newTestEngine(t, stub)

	result := engine.Image(context.Background(), Job{
		SourcePath: filepath.Join(dir, "fake-device"),
		DestPath:   filepath.Join(dir, "backup.qcow2"),
		Format:     FormatQCOW2,
		Sparse:     true,
	}, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "disk full")
}

func TestImageValidationFailureRunsNothing(t *testing.T) {
	stub := &imagerStub{}
	engine, _ := newTestEngine(t, stub)

	result := engine.Image(context.Background(), Job{Format: FormatQCOW2}, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "source")
	assert.Zero(t, stub.calls, "no subprocess may spawn for an invalid job")
}

func TestImageRawDirectCopy(t *testing.T) {
	stub := &imagerStub{}
	engine, dir := newTestEngine(t, stub)

	source := filepath.Join(dir, "device")
	content := append(make([]byte, 4096), bytes.Repeat([]byte{0xAB}, 4096)...)
	require.NoError(t, os.WriteFile(source, content, 0o644))

	dest := filepath.Join(dir, "backup.img")
	result := engine.Image(context.Background(), Job{
		SourcePath: source,
		DestPath:   dest,
		Format:     FormatRaw,
		BufferSize: 4096,
	}, nil)

	require.True(t, result.Success, "message: %s", result.Message)
	assert.EqualValues(t, len(content), result.BytesProcessed)
	assert.Zero(t, stub.calls, "raw layout must not invoke the imaging tool")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestImageRawCompressedGetsGzipped(t *testing.T) {
	stub := &imagerStub{}
	engine, dir := newTestEngine(t, stub)

	source := filepath.Join(dir, "device")
	content := bytes.Repeat([]byte("diskimager"), 512)
	require.NoError(t, os.WriteFile(source, content, 0o644))

	dest := filepath.Join(dir, "backup.img")
	result := engine.Image(context.Background(), Job{
		SourcePath: source,
		DestPath:   dest,
		Format:     FormatRaw,
		Compress:   true,
		BufferSize: 4096,
	}, nil)
	require.True(t, result.Success, "message: %s", result.Message)

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b, "destination must carry the gzip magic")

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	inflated, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, content, inflated, "decompressing must recover the original image")
}

func TestImageNonSparseConversionGoesThroughTemp(t *testing.T) {
	stub := &imagerStub{payload: []byte("converted image body")}
	engine, dir := newTestEngine(t, stub)

	source := filepath.Join(dir, "device")
	require.NoError(t, os.WriteFile(source, bytes.Repeat([]byte{1}, 2048), 0o644))

	dest := filepath.Join(dir, "backup.vhd")
	result := engine.Image(context.Background(), Job{
		SourcePath: source,
		DestPath:   dest,
		Format:     FormatVHD,
		Sparse:     false,
		BufferSize: 1024,
	}, nil)

	require.True(t, result.Success, "message: %s", result.Message)
	assert.Equal(t, 1, stub.calls)

	// The intermediate raw file must not survive the job.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".diskimager-raw-", "conversion temp left behind")
	}
}

func TestImageCleanupAfterUseRemovesTools(t *testing.T) {
	stub := &imagerStub{payload: make([]byte, 10)}
	engine, dir := newTestEngine(t, stub)
	engine.Cleanup = tools.CleanupAfterUse

	result := engine.Image(context.Background(), Job{
		SourcePath: filepath.Join(dir, "fake-device"),
		DestPath:   filepath.Join(dir, "backup.qcow2"),
		Format:     FormatQCOW2,
		Sparse:     true,
	}, nil)
	require.True(t, result.Success, "message: %s", result.Message)

	m, _ := tools.Lookup(tools.ToolImager)
	env := tools.NewEnvironment(filepath.Join(dir, "tools"), nil)
	_, err := os.Stat(env.InstallDir(m))
	assert.True(t, os.IsNotExist(err), "install dir should be removed after use")
}

func TestConvertArgs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("argument set differs on windows")
	}

	args := convertArgs(Job{Format: FormatQCOW2, Sparse: true, Compress: true}, "src", "dst")
	assert.Equal(t, []string{"convert", "-p", "-m", "16", "-W", "-S", "4096", "-O", "qcow2", "-t", "writeback", "-c", "src", "dst"}, args)

	args = convertArgs(Job{Format: FormatVHD, Sparse: true}, "src", "dst")
	assert.Equal(t, []string{"convert", "-p", "-m", "16", "-W", "-S", "4096", "-O", "vhd", "-t", "writeback", "src", "dst"}, args)

	// vhd cannot compress inline, so -c must never appear for it.
	args = convertArgs(Job{Format: FormatVHD, Sparse: true, Compress: true}, "src", "dst")
	assert.NotContains(t, args, "-c")

	// Raw targets run with no cache.
	args = convertArgs(Job{Format: FormatRaw}, "src", "dst")
	assert.Contains(t, args, "none")
	assert.NotContains(t, args, "-S")
}

func TestGzipInPlaceFailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "absent.img")
	err := gzipInPlace(missing)
	require.Error(t, err)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "a failed compression must not leave temp files")
}
