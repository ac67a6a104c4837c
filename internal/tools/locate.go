package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Locate scans the tools directory for distribution archives matching the
// manifest and returns the best candidate. Ranking is container kind first
// (zip beats 7z beats installer), newest modification time within a kind.
// An empty or missing directory is "not found", not an error; only the caller
// knows whether that is fatal.
func Locate(env *Environment, m Manifest) (Candidate, bool, error) {
	entries, err := os.ReadDir(env.ToolsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Candidate{}, false, nil
		}
		return Candidate{}, false, fmt.Errorf("scan tools directory: %w", err)
	}

	var candidates []Candidate
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !m.MatchesArchive(name) {
			continue
		}
		kind, ok := containerKindForExt(strings.ToLower(filepath.Ext(name)))
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Path:    filepath.Join(env.ToolsDir, name),
			Kind:    kind,
			ModTime: info.ModTime(),
		})
	}

	if len(candidates) == 0 {
		return Candidate{}, false, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Kind != candidates[j].Kind {
			return candidates[i].Kind < candidates[j].Kind
		}
		return candidates[i].ModTime.After(candidates[j].ModTime)
	})
	return candidates[0], true, nil
}
