package tools

import "sort"

// Tool names understood by Lookup.
const (
	ToolImager   = "qemu"
	ToolArchiver = "7zip"
)

var manifests = map[string]Manifest{
	ToolImager: {
		Name:         ToolImager,
		Dir:          "qemu",
		Executable:   "qemu-img.exe",
		SystemBinary: "qemu-img",
		NamePattern:  "qemu",
		DownloadURL:  "https://qemu.weilnetz.de/w64/qemu-w64-setup-20250422.exe",
		// The subset of a QEMU Windows build that qemu-img needs. Loader
		// failures for any of these surface only at run time, which is what
		// the runner's missing-dependency recovery handles.
		RequiredFiles: []string{
			"qemu-img.exe",
			"libbz2-1.dll",
			"libcurl-4.dll",
			"libgcc_s_seh-1.dll",
			"libglib-2.0-0.dll",
			"libgmodule-2.0-0.dll",
			"libgnutls-30.dll",
			"libiconv-2.dll",
			"libintl-8.dll",
			"liblzo2-2.dll",
			"libnfs-14.dll",
			"libpcre2-8-0.dll",
			"libssh.dll",
			"libssp-0.dll",
			"libstdc++-6.dll",
			"libwinpthread-1.dll",
			"libzstd.dll",
			"zlib1.dll",
		},
	},
	ToolArchiver: {
		Name:         ToolArchiver,
		Dir:          "7zip",
		Executable:   "7z.exe",
		SystemBinary: "7z",
		NamePattern:  "7z",
		DownloadURL:  "https://www.7-zip.org/a/7z2301-x64.exe",
		RequiredFiles: []string{
			"7z.exe",
			"7z.dll",
		},
	},
}

// KnownTools returns the list of managed tool names.
func KnownTools() []string {
	names := make([]string, 0, len(manifests))
	for name := range manifests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the manifest for the provided tool name.
func Lookup(name string) (Manifest, bool) {
	m, ok := manifests[name]
	return m, ok
}
