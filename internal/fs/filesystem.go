package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"lvm-go/internal/lvm"
)

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
type OSFilesystemManager struct{}

// NewOSFilesystemManager creates a new filesystem manager that operates on the real filesystem.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{}
}

func (m *OSFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (m *OSFilesystemManager) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

func (m *OSFilesystemManager) EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// SameVolume compares device ids. A path that does not exist yet is judged by
// its nearest existing ancestor.
func (m *OSFilesystemManager) SameVolume(a, b string) (bool, error) {
	da, err := deviceID(existingAncestor(a))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", a, err)
	}
	db, err := deviceID(existingAncestor(b))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", b, err)
	}
	return da == db, nil
}

// ProbeLink creates and removes a throwaway link in dir.
func (m *OSFilesystemManager) ProbeLink(dir string, mode lvm.LinkMode) error {
	if mode == lvm.LinkCopy {
		return nil
	}

	f, err := os.CreateTemp(dir, ".lvm-probe-*")
	if err != nil {
		return fmt.Errorf("creating probe file: %w", err)
	}
	probe := f.Name()
	f.Close()
	defer os.Remove(probe)

	link := probe + ".link"
	defer os.Remove(link)

	switch mode {
	case lvm.LinkSymlink:
		err = os.Symlink(probe, link)
	case lvm.LinkHardlink:
		err = os.Link(probe, link)
	default:
		return fmt.Errorf("%w: %s", lvm.ErrLinkModeUnsupported, mode)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s probe: %w", mode, err)
	}
	return fmt.Errorf("%w: %s: %v", lvm.ErrLinkModeUnsupported, mode, err)
}

// Link materialises src at dst. Copies keep the source's permissions and
// modification time; symlinks point at the absolute source path.
func (m *OSFilesystemManager) Link(src, dst string, mode lvm.LinkMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	switch mode {
	case lvm.LinkSymlink:
		abs, err := filepath.Abs(src)
		if err != nil {
			return fmt.Errorf("resolving absolute path: %w", err)
		}
		return os.Symlink(abs, dst)
	case lvm.LinkHardlink:
		return os.Link(src, dst)
	case lvm.LinkCopy, "":
		return copyFile(src, dst)
	default:
		return fmt.Errorf("%w: %s", lvm.ErrLinkModeUnsupported, mode)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying content: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("syncing: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// HashFile returns the hex SHA-256 of a file's content.
func (m *OSFilesystemManager) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Manifest lists the files under dir in lexical order with slash separated
// paths. Links are followed to report the size of what they point at.
func (m *OSFilesystemManager) Manifest(dir string, withHash bool) ([]lvm.ManifestEntry, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var entries []lvm.ManifestEntry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entry := lvm.ManifestEntry{Path: filepath.ToSlash(rel), Size: info.Size()}
		if withHash {
			if entry.Hash, err = m.HashFile(p); err != nil {
				return err
			}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	return entries, nil
}

func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Lstat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

// Compile-time check that OSFilesystemManager implements lvm.FilesystemManager interface
var _ lvm.FilesystemManager = (*OSFilesystemManager)(nil)
