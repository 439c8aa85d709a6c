package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lvm-go/internal/lvm"
)

// ErrNotFound is returned by Get for an item that was never stored.
var ErrNotFound = errors.New("archive item not found")

// FileSystemArchive stores items under a root directory, typically a mounted
// share or a second disk:
//
//	<root>/
//	  <projectID>/
//	    <name>          (item content)
//	    <name>.version  (version marker)
type FileSystemArchive struct {
	root string
}

// NewFileSystemArchive creates an archive rooted at root.
func NewFileSystemArchive(root string) (*FileSystemArchive, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}
	return &FileSystemArchive{root: root}, nil
}

func (a *FileSystemArchive) itemPath(projectID, name string) (string, error) {
	if projectID == "" || strings.ContainsAny(projectID, `/\`) || name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid archive item %q/%q", projectID, name)
	}
	return filepath.Join(a.root, projectID, name), nil
}

// Put writes the item atomically, then its version marker. A reader never
// sees a version newer than the item it describes.
func (a *FileSystemArchive) Put(projectID, name string, r io.Reader, size int64, version int64) error {
	path, err := a.itemPath(projectID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	if err := writeAtomic(path, r, size); err != nil {
		return err
	}
	v := strconv.FormatInt(version, 10)
	return writeAtomic(path+".version", strings.NewReader(v), int64(len(v)))
}

func (a *FileSystemArchive) Get(projectID, name string, w io.Writer) error {
	path, err := a.itemPath(projectID, name)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s for project %s", ErrNotFound, name, projectID)
		}
		return fmt.Errorf("failed to open item: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read item: %w", err)
	}
	return nil
}

// Version returns 0 when no version marker exists.
func (a *FileSystemArchive) Version(projectID, name string) (int64, error) {
	path, err := a.itemPath(projectID, name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path + ".version")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the root exists and is writable.
func (a *FileSystemArchive) ValidateSetup() error {
	info, err := os.Stat(a.root)
	if err != nil {
		return fmt.Errorf("archive root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive root is not a directory: %s", a.root)
	}
	f, err := os.CreateTemp(a.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("archive root not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// writeAtomic writes r to destPath through a temp file and a rename.
func writeAtomic(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ lvm.Archive = (*FileSystemArchive)(nil)
