package tools

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"diskimager/internal/proc"
)

// errArchiverMissing distinguishes "no archiver to read this container" from
// extraction failures; the installer strategy falls back on it.
var errArchiverMissing = errors.New("7-Zip archiver not available locally or on PATH")

// Extractor pulls a manifest's required files out of a located archive into
// the tool's install directory. One strategy per container kind, selected at
// a single dispatch point.
type Extractor struct {
	env    *Environment
	runner proc.Runner
	logger *zap.Logger

	// lookPath finds system binaries; swappable in tests.
	lookPath func(string) (string, error)
}

// NewExtractor creates an extractor using runner for external archiver and
// installer invocations.
func NewExtractor(env *Environment, runner proc.Runner) *Extractor {
	return &Extractor{env: env, runner: runner, logger: env.Logger, lookPath: exec.LookPath}
}

// Extract extracts exactly the manifest's required files from the candidate.
// The returned outcome carries the post-extraction health verdict: extraction
// "success" that leaves files missing is reported as failure with the
// specific missing list, never silently accepted.
func (x *Extractor) Extract(ctx context.Context, m Manifest, cand Candidate) Outcome {
	installDir := x.env.InstallDir(m)
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return Outcome{Err: fmt.Errorf("prepare install dir: %w", err)}
	}

	x.logger.Info("extracting tool",
		zap.String("tool", m.Name),
		zap.String("archive", cand.Path),
		zap.Stringer("container", cand.Kind))

	var err error
	switch cand.Kind {
	case KindLibraryZip:
		err = x.extractZip(m, cand.Path, installDir)
	case KindSevenZip:
		err = x.extractExternal(ctx, m, cand.Path, installDir)
	case KindInstallerExe:
		err = x.extractInstaller(ctx, m, cand.Path, installDir)
	default:
		err = fmt.Errorf("unsupported container kind %v", cand.Kind)
	}
	if err != nil {
		return Outcome{Err: err}
	}

	// Non-zip strategies dump whatever the archiver found; stray files risk
	// stale-version bugs on the next re-extraction, so purge to exactly the
	// manifest.
	if cand.Kind != KindLibraryZip {
		if err := purgeExtras(installDir, m); err != nil {
			return Outcome{Err: fmt.Errorf("purge extra files: %w", err)}
		}
	}

	health := CheckHealth(installDir, m)
	if !health.Ready {
		return Outcome{Err: &ExtractionError{Tool: m.Name, Archive: cand.Path, Missing: health.Missing}}
	}

	extracted := make([]string, len(m.RequiredFiles))
	for i, rel := range m.RequiredFiles {
		extracted[i] = filepath.Join(installDir, filepath.FromSlash(rel))
	}
	return Outcome{Success: true, ExtractedFiles: extracted}
}

// extractZip reads the archive with archive/zip. Archive layouts differ
// between tool versions, so each required file is matched case-insensitively
// by name suffix; when several entries match, the one closest to the archive
// root wins.
func (x *Extractor) extractZip(m Manifest, archivePath, installDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	for _, rel := range m.RequiredFiles {
		entry := bestZipMatch(reader.File, rel)
		if entry == nil {
			continue // the post-extraction health check reports it
		}
		dest := filepath.Join(installDir, filepath.FromSlash(rel))
		if err := writeZipEntry(entry, dest); err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
	}
	return nil
}

// bestZipMatch finds the archive entry for a required relative path:
// case-insensitive suffix match, fewest path separators wins.
func bestZipMatch(files []*zip.File, rel string) *zip.File {
	want := strings.ToLower(rel)
	var matches []*zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.ToLower(f.Name)
		if name == want || strings.HasSuffix(name, "/"+want) {
			matches = append(matches, f)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return strings.Count(matches[i].Name, "/") < strings.Count(matches[j].Name, "/")
	})
	return matches[0]
}

func writeZipEntry(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// extractExternal extracts required files through the external archiver, one
// `e` invocation per file so each required path lands in its own destination
// directory. The first failure aborts; the post-extraction health check never
// runs over a partial install.
func (x *Extractor) extractExternal(ctx context.Context, m Manifest, archivePath, installDir string) error {
	archiver, err := x.archiverPath(ctx, m)
	if err != nil {
		return err
	}

	for _, rel := range m.RequiredFiles {
		destDir := filepath.Dir(filepath.Join(installDir, filepath.FromSlash(rel)))
		inv := proc.Invocation{
			Binary:  archiver,
			Args:    []string{"e", archivePath, path.Base(rel), "-o" + destDir, "-y"},
			Timeout: proc.DefaultExtractionTimeout,
		}
		outcome, err := x.runner.Run(ctx, inv)
		if err != nil {
			return err
		}
		if err := proc.CheckSuccess(inv, outcome); err != nil {
			return err
		}
	}
	return nil
}

// extractInstaller treats an installer executable as a passive archive via
// the external archiver. Only when no archiver exists does it fall back to a
// silent-mode run of the installer itself; that path is allowed to fail, with
// a message telling the operator exactly which precondition was missing.
func (x *Extractor) extractInstaller(ctx context.Context, m Manifest, installerPath, installDir string) error {
	err := x.extractExternal(ctx, m, installerPath, installDir)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errArchiverMissing) {
		return err
	}

	x.logger.Warn("no archiver available, attempting silent installer run",
		zap.String("installer", installerPath))

	absDir, absErr := filepath.Abs(installDir)
	if absErr != nil {
		return absErr
	}
	inv := proc.Invocation{
		Binary:  installerPath,
		Args:    []string{"/S", "/D=" + absDir},
		Timeout: proc.DefaultExtractionTimeout,
	}
	outcome, runErr := x.runner.Run(ctx, inv)
	if runErr != nil {
		return fmt.Errorf("%s is not a self-extracting archive and no archiver is installed: %w", filepath.Base(installerPath), runErr)
	}
	if outcome.ExitCode != 0 {
		return fmt.Errorf("%s is not a self-extracting archive (silent run exited %d); install 7-Zip or provide a .zip distribution", filepath.Base(installerPath), outcome.ExitCode)
	}

	// Installers flush asynchronously; give the files a few beats to land.
	for i := 0; i < 10; i++ {
		if CheckHealth(installDir, m).Ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return x.relocateFromSubdirs(installDir, m)
}

// relocateFromSubdirs scans the install dir recursively for required files an
// installer dropped under version subdirectories and moves them flat.
func (x *Extractor) relocateFromSubdirs(installDir string, m Manifest) error {
	wanted := map[string]string{}
	for _, rel := range m.RequiredFiles {
		wanted[strings.ToLower(path.Base(rel))] = filepath.Join(installDir, filepath.FromSlash(rel))
	}

	err := filepath.WalkDir(installDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		dest, ok := wanted[strings.ToLower(d.Name())]
		if !ok || p == dest {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		return os.Rename(p, dest)
	})
	if err != nil {
		return fmt.Errorf("relocate installer output: %w", err)
	}
	return nil
}

// archiverPath returns the external archiver executable: the managed local
// install when healthy, the system binary, or a bootstrap install from a
// distribution sitting in the tools directory. requesting guards against
// recursing while the archiver itself is being installed.
func (x *Extractor) archiverPath(ctx context.Context, requesting Manifest) (string, error) {
	archiver, ok := Lookup(ToolArchiver)
	if !ok {
		return "", errArchiverMissing
	}

	installDir := x.env.InstallDir(archiver)
	if CheckHealth(installDir, archiver).Ready {
		return filepath.Join(installDir, archiver.Executable), nil
	}
	if sys, err := x.lookPath(archiver.SystemBinary); err == nil {
		return sys, nil
	}

	if requesting.Name != archiver.Name {
		// An archiver distribution may be waiting in the tools dir even
		// though nothing is installed yet. Its own install goes through the
		// installer silent-run strategy, which needs no archiver.
		resolver := &Resolver{env: x.env, extractor: x, logger: x.logger}
		if err := resolver.Ensure(ctx, archiver); err == nil {
			return filepath.Join(installDir, archiver.Executable), nil
		}
		x.logger.Warn("archiver bootstrap failed", zap.String("tool", requesting.Name))
	}
	return "", errArchiverMissing
}

// purgeExtras removes every file under installDir not named in the manifest,
// then prunes emptied directories.
func purgeExtras(installDir string, m Manifest) error {
	keep := map[string]struct{}{}
	for _, rel := range m.RequiredFiles {
		keep[filepath.Join(installDir, filepath.FromSlash(rel))] = struct{}{}
	}

	var dirs []string
	err := filepath.WalkDir(installDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != installDir {
				dirs = append(dirs, p)
			}
			return nil
		}
		if _, ok := keep[p]; !ok {
			return os.Remove(p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Deepest first so emptied parents go too.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		_ = os.Remove(dir) // fails while non-empty, which is fine
	}
	return nil
}
