package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteFile creates path and its parents with content.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of path, failing the test when unreadable.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(b)
}

// WriteSequence writes frames start..end of a sequence into dir, named
// "<stem>.<frame>.<ext>" with frames padded to four digits. Frames listed in
// skip are left out. Content is "<stem>:<frame>" so every frame differs.
func WriteSequence(t *testing.T, dir, stem, ext string, start, end int, skip ...int) []string {
	t.Helper()
	skipped := make(map[int]bool, len(skip))
	for _, f := range skip {
		skipped[f] = true
	}

	var paths []string
	for f := start; f <= end; f++ {
		if skipped[f] {
			continue
		}
		p := filepath.Join(dir, fmt.Sprintf("%s.%04d.%s", stem, f, ext))
		WriteFile(t, p, fmt.Sprintf("%s:%d", stem, f))
		paths = append(paths, p)
	}
	return paths
}

// Touch sets the modification time of path, for fingerprint tests that need
// a rewrite to be visible.
func Touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

// ListDir returns the names in dir, sorted.
func ListDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
