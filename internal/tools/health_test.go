package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckHealthMissingDirEqualsMissingFiles(t *testing.T) {
	m := Manifest{Name: "t", RequiredFiles: []string{"a.exe", "b.dll"}}

	missingDir := CheckHealth(filepath.Join(t.TempDir(), "absent"), m)
	emptyDir := CheckHealth(t.TempDir(), m)

	if missingDir.Ready || emptyDir.Ready {
		t.Fatal("expected not ready")
	}
	if len(missingDir.Missing) != 2 || len(emptyDir.Missing) != 2 {
		t.Fatalf("expected both cases to miss both files, got %v and %v", missingDir.Missing, emptyDir.Missing)
	}
}

func TestCheckHealthReady(t *testing.T) {
	dir := t.TempDir()
	m := Manifest{Name: "t", RequiredFiles: []string{"a.exe", "sub/b.dll"}}

	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, rel := range []string{"a.exe", "sub/b.dll"} {
		if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(rel)), []byte("x"), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	health := CheckHealth(dir, m)
	if !health.Ready || len(health.Missing) != 0 {
		t.Fatalf("expected ready, got %+v", health)
	}
}

func TestCheckHealthDirectoryDoesNotCount(t *testing.T) {
	dir := t.TempDir()
	m := Manifest{Name: "t", RequiredFiles: []string{"a.exe"}}
	if err := os.MkdirAll(filepath.Join(dir, "a.exe"), 0o755); err != nil {
		t.Fatal(err)
	}

	if CheckHealth(dir, m).Ready {
		t.Fatal("a directory must not satisfy a required file")
	}
}
