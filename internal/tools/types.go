package tools

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ContainerKind identifies how a tool distribution archive is packaged.
type ContainerKind int

const (
	// KindLibraryZip is a plain zip readable with archive/zip.
	KindLibraryZip ContainerKind = iota
	// KindSevenZip is a .7z archive requiring the external archiver.
	KindSevenZip
	// KindInstallerExe is an installer executable, read as a passive
	// archive when possible and run in silent mode as a last resort.
	KindInstallerExe
)

func (k ContainerKind) String() string {
	switch k {
	case KindLibraryZip:
		return "zip"
	case KindSevenZip:
		return "7z"
	case KindInstallerExe:
		return "installer"
	default:
		return "unknown"
	}
}

// containerKindForExt maps a lowercased filename extension to its kind.
// The iota order above doubles as the locate priority: installers are a last
// resort because they need an external unpacker or a silent-mode run.
func containerKindForExt(ext string) (ContainerKind, bool) {
	switch ext {
	case ".zip":
		return KindLibraryZip, true
	case ".7z":
		return KindSevenZip, true
	case ".exe":
		return KindInstallerExe, true
	default:
		return 0, false
	}
}

// Manifest describes a managed external tool: where it installs, which files
// it needs, and how to recognise its distribution archives. Construct once at
// startup and treat as read-only.
type Manifest struct {
	Name string
	// Dir is the install directory name under the tools directory.
	Dir string
	// Executable is the primary binary, relative to the install dir.
	Executable string
	// SystemBinary is the name looked up on PATH when a system install is
	// acceptable (non-Windows hosts).
	SystemBinary string
	// RequiredFiles are slash-separated paths relative to the install dir.
	// Must be non-empty.
	RequiredFiles []string
	// NamePattern is matched case-insensitively against archive filenames.
	NamePattern string
	// DownloadURL points at the pinned distribution for `tools fetch`.
	DownloadURL string
}

// MatchesArchive reports whether filename looks like a distribution archive
// for this tool. Matching is case-insensitive substring over the name with
// the extension stripped; otherwise the "7z" pattern would claim every .7z
// archive in the directory.
func (m Manifest) MatchesArchive(filename string) bool {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return strings.Contains(strings.ToLower(stem), strings.ToLower(m.NamePattern))
}

// Candidate is a located distribution archive, ranked by kind then recency.
type Candidate struct {
	Path    string
	Kind    ContainerKind
	ModTime time.Time
}

// Outcome reports the result of one extraction attempt.
type Outcome struct {
	Success        bool
	ExtractedFiles []string
	Err            error
}

// Readiness reports the health of an installed tool. Recomputed on every
// resolution attempt; the install dir is external mutable state (antivirus
// quarantine, manual cleanup) so caching would lie.
type Readiness struct {
	Ready   bool
	Missing []string
}

// Environment holds the tools directory and a per-tool lock so that two
// goroutines never extract into the same install dir at once. Passing it into
// constructors, rather than a package-level singleton, lets tests run in
// isolated temp directories.
type Environment struct {
	ToolsDir string
	Logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEnvironment creates a tools environment rooted at toolsDir.
func NewEnvironment(toolsDir string, logger *zap.Logger) *Environment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Environment{
		ToolsDir: toolsDir,
		Logger:   logger,
		locks:    map[string]*sync.Mutex{},
	}
}

// InstallDir returns the install directory for a manifest.
func (e *Environment) InstallDir(m Manifest) string {
	return filepath.Join(e.ToolsDir, m.Dir)
}

// lock returns the mutex guarding a tool's install directory.
func (e *Environment) lock(tool string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[tool]
	if !ok {
		l = &sync.Mutex{}
		e.locks[tool] = l
	}
	return l
}
