package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
)

// Fetch downloads the manifest's pinned distribution archive into the tools
// directory so Locate has something to find on a clean machine. Returns the
// downloaded path. Skips the download when the file already exists.
func Fetch(ctx context.Context, env *Environment, m Manifest) (string, error) {
	if m.DownloadURL == "" {
		return "", fmt.Errorf("no download URL pinned for %s", m.Name)
	}

	parsed, err := url.Parse(m.DownloadURL)
	if err != nil {
		return "", fmt.Errorf("parse download url: %w", err)
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "" || base == "/" {
		return "", fmt.Errorf("infer archive name from url: %s", m.DownloadURL)
	}
	dest := filepath.Join(env.ToolsDir, base)

	if _, err := os.Stat(dest); err == nil {
		env.Logger.Info("distribution already present", zap.String("path", dest))
		return dest, nil
	}

	if err := os.MkdirAll(env.ToolsDir, 0o755); err != nil {
		return "", fmt.Errorf("prepare tools directory: %w", err)
	}

	env.Logger.Info("downloading distribution",
		zap.String("tool", m.Name),
		zap.String("url", m.DownloadURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.DownloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "diskimager/1.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", m.DownloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download %s: unexpected status %s", m.DownloadURL, resp.Status)
	}

	tmp, err := os.CreateTemp(env.ToolsDir, "download-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("finalize download: %w", err)
	}
	return dest, nil
}
