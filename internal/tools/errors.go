package tools

import (
	"fmt"
	"strings"
)

// NotFoundError reports that no distribution archive for a tool could be
// located in the tools directory.
type NotFoundError struct {
	Tool     string
	ToolsDir string
	Pattern  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s archive found in %s (expected a .zip, .7z or .exe whose name contains %q); download one and place it there, or run `diskimager tools fetch %s`",
		e.Tool, e.ToolsDir, e.Pattern, e.Tool)
}

// ExtractionError reports that an archive was found but extraction failed or
// left the manifest incomplete.
type ExtractionError struct {
	Tool    string
	Archive string
	Missing []string
	Cause   error
}

func (e *ExtractionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "extracting %s from %s failed", e.Tool, e.Archive)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": still missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ExtractionError) Unwrap() error { return e.Cause }
