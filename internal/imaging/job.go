// Package imaging orchestrates disk-to-image conversion: tool-mediated
// sparse conversion through the imaging tool, or a direct block copy with
// hole punching for raw layouts.
package imaging

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Format is a supported output image format.
type Format string

const (
	FormatRaw   Format = "img"
	FormatVHD   Format = "vhd"
	FormatVMDK  Format = "vmdk"
	FormatQCOW2 Format = "qcow2"
	FormatISO   Format = "iso"
)

// ParseFormat normalizes a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "img", "raw":
		return FormatRaw, nil
	case "vhd":
		return FormatVHD, nil
	case "vmdk":
		return FormatVMDK, nil
	case "qcow2":
		return FormatQCOW2, nil
	case "iso":
		return FormatISO, nil
	default:
		return "", &ValidationError{Field: "format", Msg: fmt.Sprintf("unsupported image format %q (supported: img, vhd, vmdk, qcow2, iso)", s)}
	}
}

// SparseCapable reports whether the imaging tool can produce this format with
// sparse allocation.
func (f Format) SparseCapable() bool {
	switch f {
	case FormatQCOW2, FormatVHD, FormatVMDK:
		return true
	default:
		return false
	}
}

// InlineCompressible reports whether the format supports the imaging tool's
// inline compression flag.
func (f Format) InlineCompressible() bool {
	return f == FormatQCOW2 || f == FormatVMDK
}

// RawLayout reports whether the format's on-disk bytes are a plain block
// copy. iso is raw layout: the imaging tool cannot author iso, the content is
// already one.
func (f Format) RawLayout() bool {
	return f == FormatRaw || f == FormatISO
}

// toolName is the format name understood by the imaging tool's -O flag.
func (f Format) toolName() string {
	if f == FormatRaw || f == FormatISO {
		return "raw"
	}
	return string(f)
}

// Job describes one imaging request. Immutable once submitted.
type Job struct {
	SourcePath string
	DestPath   string
	Format     Format
	Sparse     bool
	Compress   bool
	// BufferSize in bytes for direct copies; 0 selects the 64 MiB default.
	BufferSize int
	// SourceSize, when known from the disk listing, lets front ends render
	// a percentage. Zero means unknown.
	SourceSize int64
}

// Result is the terminal value returned to the caller. The engine holds no
// job history.
type Result struct {
	Success        bool
	Message        string
	BytesProcessed int64
	// Cancelled marks a job stopped by the caller. Front ends report it as
	// a non-error outcome, distinct from failure.
	Cancelled bool
}

// ValidationError reports malformed job parameters, caught before any
// subprocess is spawned.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// DeviceAccessError wraps filesystem errors touching the source or
// destination with guidance an operator can act on.
type DeviceAccessError struct {
	Path  string
	Cause error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("cannot access %s: device may not exist, is in use, or requires elevated privileges", e.Path)
}

func (e *DeviceAccessError) Unwrap() error { return e.Cause }

const (
	defaultBufferSize = 64 * 1024 * 1024
	maxBufferSize     = 1024 * 1024 * 1024
)

var invalidNameChars = regexp.MustCompile(`[<>:"|?*]`)

// Validate checks the job before any work starts.
func (j Job) Validate() error {
	if strings.TrimSpace(j.SourcePath) == "" {
		return &ValidationError{Field: "source", Msg: "source path must not be empty"}
	}
	if strings.TrimSpace(j.DestPath) == "" {
		return &ValidationError{Field: "destination", Msg: "destination path must not be empty"}
	}
	name := filepath.Base(j.DestPath)
	if name == "." || name == string(filepath.Separator) {
		return &ValidationError{Field: "destination", Msg: "destination must include a filename"}
	}
	if invalidNameChars.MatchString(name) {
		return &ValidationError{Field: "destination", Msg: "filename contains invalid characters"}
	}
	if _, err := ParseFormat(string(j.Format)); err != nil {
		return err
	}
	if j.BufferSize < 0 {
		return &ValidationError{Field: "buffer_size", Msg: "buffer size must be positive"}
	}
	if j.BufferSize > maxBufferSize {
		return &ValidationError{Field: "buffer_size", Msg: "buffer size too large (max 1GiB)"}
	}
	return nil
}

// bufferSize returns the effective copy buffer size.
func (j Job) bufferSize() int {
	if j.BufferSize == 0 {
		return defaultBufferSize
	}
	return j.BufferSize
}
