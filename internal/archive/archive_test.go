package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lvm-go/internal/config"
	"lvm-go/internal/lvm"
)

// archives returns one instance of every implementation that runs offline.
func archives(t *testing.T) map[string]lvm.Archive {
	t.Helper()
	fsa, err := NewFileSystemArchive(filepath.Join(t.TempDir(), "archive"))
	if err != nil {
		t.Fatalf("NewFileSystemArchive() error = %v", err)
	}
	return map[string]lvm.Archive{
		"memory":     NewMemoryArchive(),
		"filesystem": fsa,
	}
}

func TestArchive_PutGetVersion(t *testing.T) {
	for name, a := range archives(t) {
		t.Run(name, func(t *testing.T) {
			if v, err := a.Version("proj", "ledger.db"); err != nil || v != 0 {
				t.Fatalf("Version() before Put = %d, %v; want 0, nil", v, err)
			}

			data := "ledger snapshot"
			if err := a.Put("proj", "ledger.db", strings.NewReader(data), int64(len(data)), 7); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			var buf bytes.Buffer
			if err := a.Get("proj", "ledger.db", &buf); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if buf.String() != data {
				t.Errorf("Get() = %q, want %q", buf.String(), data)
			}

			v, err := a.Version("proj", "ledger.db")
			if err != nil {
				t.Fatalf("Version() error = %v", err)
			}
			if v != 7 {
				t.Errorf("Version() = %d, want 7", v)
			}

			// Overwrite with a newer snapshot.
			if err := a.Put("proj", "ledger.db", strings.NewReader("newer"), 5, 9); err != nil {
				t.Fatalf("second Put() error = %v", err)
			}
			if v, _ := a.Version("proj", "ledger.db"); v != 9 {
				t.Errorf("Version() after overwrite = %d, want 9", v)
			}

			if err := a.ValidateSetup(); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}

func TestArchive_SizeMismatch(t *testing.T) {
	for name, a := range archives(t) {
		t.Run(name, func(t *testing.T) {
			if err := a.Put("proj", "ledger.db", strings.NewReader("short"), 100, 1); err == nil {
				t.Fatal("Put() accepted a size mismatch")
			}
			if v, _ := a.Version("proj", "ledger.db"); v != 0 {
				t.Errorf("Version() after failed Put = %d, want 0", v)
			}
		})
	}
}

func TestArchive_GetMissing(t *testing.T) {
	for name, a := range archives(t) {
		t.Run(name, func(t *testing.T) {
			err := a.Get("proj", "nothing.db", &bytes.Buffer{})
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestFileSystemArchive_Layout(t *testing.T) {
	root := t.TempDir()
	a, err := NewFileSystemArchive(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Put("proj", "ledger.db", strings.NewReader("x"), 1, 3); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "proj"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != "ledger.db,ledger.db.version" {
		t.Errorf("project dir holds %v", names)
	}

	if err := a.Put("../escape", "ledger.db", strings.NewReader("x"), 1, 1); err == nil {
		t.Error("Put() accepted a project id with a path separator")
	}
}

func TestNewArchiveFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ArchiveConfig
		wantErr bool
		wantNil bool
	}{
		{name: "disabled", cfg: config.ArchiveConfig{}, wantNil: true},
		{name: "memory", cfg: config.ArchiveConfig{Type: "memory"}},
		{name: "filesystem", cfg: config.ArchiveConfig{Type: "filesystem", FSRoot: t.TempDir()}},
		{name: "filesystem without root", cfg: config.ArchiveConfig{Type: "filesystem"}, wantErr: true, wantNil: true},
		{name: "s3 without bucket", cfg: config.ArchiveConfig{Type: "s3"}, wantErr: true, wantNil: true},
		{name: "unknown", cfg: config.ArchiveConfig{Type: "tape"}, wantErr: true, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewArchiveFromConfig(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewArchiveFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("NewArchiveFromConfig() nil = %v, wantNil %v", got == nil, tt.wantNil)
			}
			if got != nil {
				if err := got.ValidateSetup(); err != nil {
					t.Errorf("ValidateSetup() error = %v", err)
				}
			}
		})
	}
}
