package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lvm-go/internal/lvm"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOSFilesystemManager_HashFile(t *testing.T) {
	m := NewOSFilesystemManager()
	path := filepath.Join(t.TempDir(), "a.exr")
	writeFile(t, path, "hello")

	got, err := m.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("HashFile() = %s, want %s", got, want)
	}
}

func TestOSFilesystemManager_Link(t *testing.T) {
	m := NewOSFilesystemManager()
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "hero_v001.1001.exr")
	writeFile(t, src, "frame")
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(src, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		mode  lvm.LinkMode
		check func(t *testing.T, dst string)
	}{
		{lvm.LinkCopy, func(t *testing.T, dst string) {
			info, err := os.Lstat(dst)
			if err != nil {
				t.Fatal(err)
			}
			if !info.Mode().IsRegular() {
				t.Errorf("copy is not a regular file: %v", info.Mode())
			}
			if !info.ModTime().Equal(mtime) {
				t.Errorf("copy mtime = %v, want %v", info.ModTime(), mtime)
			}
		}},
		{lvm.LinkSymlink, func(t *testing.T, dst string) {
			target, err := os.Readlink(dst)
			if err != nil {
				t.Fatalf("Readlink() error = %v", err)
			}
			if target != src {
				t.Errorf("symlink target = %s, want %s", target, src)
			}
		}},
		{lvm.LinkHardlink, func(t *testing.T, dst string) {
			a, _ := os.Stat(src)
			b, _ := os.Stat(dst)
			if !os.SameFile(a, b) {
				t.Error("hardlink does not share the source inode")
			}
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			dst := filepath.Join(dir, "out-"+string(tt.mode), "hero.1001.exr")
			if err := m.Link(src, dst, tt.mode); err != nil {
				t.Fatalf("Link() error = %v", err)
			}
			content, err := os.ReadFile(dst)
			if err != nil {
				t.Fatal(err)
			}
			if string(content) != "frame" {
				t.Errorf("content = %q, want %q", content, "frame")
			}
			tt.check(t, dst)
		})
	}
}

func TestOSFilesystemManager_LinkRefusesExisting(t *testing.T) {
	m := NewOSFilesystemManager()
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	writeFile(t, src, "new")
	writeFile(t, dst, "old")

	if err := m.Link(src, dst, lvm.LinkCopy); err == nil {
		t.Error("Link() over an existing file succeeded")
	}
}

func TestOSFilesystemManager_Manifest(t *testing.T) {
	m := NewOSFilesystemManager()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.exr"), "bb")
	writeFile(t, filepath.Join(dir, "sub", "a.exr"), "a")
	outside := filepath.Join(t.TempDir(), "linked.exr")
	writeFile(t, outside, "linked")
	if err := os.Symlink(outside, filepath.Join(dir, "c.exr")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, "d.exr")); err != nil {
		t.Fatal(err)
	}

	got, err := m.Manifest(dir, true)
	if err != nil {
		t.Fatalf("Manifest() error = %v", err)
	}

	want := []struct {
		path string
		size int64
	}{
		{"b.exr", 2},
		{"c.exr", 6},
		{"sub/a.exr", 1},
	}
	if len(got) != len(want) {
		t.Fatalf("Manifest() = %v, want %d entries", got, len(want))
	}
	for i, w := range want {
		if got[i].Path != w.path || got[i].Size != w.size {
			t.Errorf("entry %d = %+v, want %s (%d bytes)", i, got[i], w.path, w.size)
		}
		if got[i].Hash == "" {
			t.Errorf("entry %d has no hash", i)
		}
	}
}

func TestOSFilesystemManager_ManifestMissingDir(t *testing.T) {
	m := NewOSFilesystemManager()
	got, err := m.Manifest(filepath.Join(t.TempDir(), "nope"), false)
	if err != nil {
		t.Fatalf("Manifest() error = %v", err)
	}
	if got != nil {
		t.Errorf("Manifest() = %v, want nil", got)
	}
}

func TestOSFilesystemManager_SameVolume(t *testing.T) {
	m := NewOSFilesystemManager()
	dir := t.TempDir()

	same, err := m.SameVolume(dir, filepath.Join(dir, "not", "yet", "created"))
	if err != nil {
		t.Fatalf("SameVolume() error = %v", err)
	}
	if !same {
		t.Error("SameVolume() = false for a path and its own subdirectory")
	}
}

func TestOSFilesystemManager_ProbeLink(t *testing.T) {
	m := NewOSFilesystemManager()
	dir := t.TempDir()

	for _, mode := range []lvm.LinkMode{lvm.LinkCopy, lvm.LinkSymlink, lvm.LinkHardlink} {
		if err := m.ProbeLink(dir, mode); err != nil {
			t.Errorf("ProbeLink(%s) error = %v", mode, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("probe left %d entries behind", len(entries))
	}

	if err := m.ProbeLink(dir, "junction"); !errors.Is(err, lvm.ErrLinkModeUnsupported) {
		t.Errorf("ProbeLink(junction) error = %v, want ErrLinkModeUnsupported", err)
	}
}
