package lvm

import "io/fs"

// FilesystemManager abstracts the disk operations the engine needs so tests
// can simulate other volumes and failing writes.
type FilesystemManager interface {
	Stat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.DirEntry, error)
	EnsureDir(path string) error

	// SameVolume reports whether a and b live on the same device.
	SameVolume(a, b string) (bool, error)

	// ProbeLink checks that mode can be used inside dir. It returns an error
	// wrapping ErrLinkModeUnsupported, or fs.ErrPermission when the mode needs
	// privileges the process lacks.
	ProbeLink(dir string, mode LinkMode) error

	// Link materialises src at dst using mode.
	Link(src, dst string, mode LinkMode) error

	HashFile(path string) (string, error)

	// Manifest lists every file under dir, following links. A broken link is
	// left out.
	Manifest(dir string, withHash bool) ([]ManifestEntry, error)
}
