package tools

import (
	"os"
	"path/filepath"
)

// CheckHealth reports which of the manifest's required files are present in
// the install directory. Pure over the filesystem: no side effects, no
// caching. A missing install dir reads the same as a dir missing every file,
// which keeps the resolver logic uniform.
func CheckHealth(installDir string, m Manifest) Readiness {
	var missing []string
	for _, rel := range m.RequiredFiles {
		path := filepath.Join(installDir, filepath.FromSlash(rel))
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			missing = append(missing, rel)
		}
	}
	return Readiness{Ready: len(missing) == 0, Missing: missing}
}
