package staging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	lvmfs "lvm-go/internal/fs"
	"lvm-go/internal/lvm"
)

type fixedID string

func (f fixedID) New() string { return string(f) }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(b)
}

// setup returns a staging area, a source dir with three frames, and a target
// path holding an older version.
func setup(t *testing.T) (*DirStagingArea, []lvm.Placement, string) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "renders", "hero_v002")
	var files []lvm.Placement
	for _, frame := range []string{"1001", "1002", "1003"} {
		p := filepath.Join(src, "hero_v002."+frame+".exr")
		writeFile(t, p, "v2-"+frame)
		files = append(files, lvm.Placement{Source: p, Dest: "hero." + frame + ".exr", Size: int64(len("v2-" + frame))})
	}

	target := filepath.Join(root, "comp", "hero")
	writeFile(t, filepath.Join(target, "hero.1001.exr"), "v1-1001")

	area := NewDirStagingArea(lvmfs.NewOSFilesystemManager(), fixedID("s1"), nil, 2)
	return area, files, target
}

func TestDirStagingArea_PromoteFlow(t *testing.T) {
	area, files, target := setup(t)

	stage, err := area.Begin(target)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	wantDir := filepath.Join(filepath.Dir(target), ".hero.lvm-stage-s1")
	if stage.Dir() != wantDir {
		t.Errorf("Dir() = %s, want %s", stage.Dir(), wantDir)
	}

	if err := stage.Place(context.Background(), files, lvm.LinkCopy); err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if got := readFile(t, filepath.Join(target, "hero.1001.exr")); got != "v1-1001" {
		t.Errorf("target changed before swap: %q", got)
	}

	if err := stage.Swap(); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	for _, f := range files {
		if got := readFile(t, filepath.Join(target, f.Dest)); got != readFile(t, f.Source) {
			t.Errorf("%s = %q after swap", f.Dest, got)
		}
	}

	if err := stage.Discard(); err != nil {
		t.Errorf("Discard() after Swap error = %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("Discard() after Swap removed the target: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Dir(target))
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("parent holds %v, want only the target", names)
	}
}

func TestDirStagingArea_SwapWithoutPreviousTarget(t *testing.T) {
	area, files, target := setup(t)
	if err := os.RemoveAll(target); err != nil {
		t.Fatal(err)
	}

	stage, err := area.Begin(target)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := stage.Place(context.Background(), files, lvm.LinkSymlink); err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if err := stage.Swap(); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}
	link, err := os.Readlink(filepath.Join(target, "hero.1002.exr"))
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if link != files[1].Source {
		t.Errorf("symlink = %s, want %s", link, files[1].Source)
	}
}

func TestDirStagingArea_SwapRollsBack(t *testing.T) {
	area, files, target := setup(t)
	calls := 0
	area.rename = func(oldpath, newpath string) error {
		calls++
		if calls == 2 {
			return errors.New("injected rename failure")
		}
		return os.Rename(oldpath, newpath)
	}

	stage, err := area.Begin(target)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := stage.Place(context.Background(), files, lvm.LinkCopy); err != nil {
		t.Fatalf("Place() error = %v", err)
	}

	err = stage.Swap()
	if !errors.Is(err, lvm.ErrRolledBack) {
		t.Fatalf("Swap() error = %v, want ErrRolledBack", err)
	}
	if got := readFile(t, filepath.Join(target, "hero.1001.exr")); got != "v1-1001" {
		t.Errorf("target after rollback = %q, want the previous version", got)
	}
	if _, err := os.Stat(filepath.Join(target, "hero.1002.exr")); !os.IsNotExist(err) {
		t.Error("staged file leaked into the restored target")
	}

	if err := stage.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if _, err := os.Stat(stage.Dir()); !os.IsNotExist(err) {
		t.Error("stage dir still present after Discard")
	}
}

func TestDirStagingArea_PlaceFailure(t *testing.T) {
	area, files, target := setup(t)
	files = append(files, lvm.Placement{Source: filepath.Join(t.TempDir(), "missing.exr"), Dest: "hero.1004.exr"})

	stage, err := area.Begin(target)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer stage.Discard()

	err = stage.Place(context.Background(), files, lvm.LinkCopy)
	if !errors.Is(err, lvm.ErrStageWriteFailed) {
		t.Fatalf("Place() error = %v, want ErrStageWriteFailed", err)
	}
	var fe *lvm.FileError
	if !errors.As(err, &fe) || fe.Path != "hero.1004.exr" {
		t.Errorf("Place() error does not name the failed file: %v", err)
	}
}

func TestDirStagingArea_PlaceCancelled(t *testing.T) {
	area, files, target := setup(t)

	stage, err := area.Begin(target)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := stage.Place(ctx, files, lvm.LinkCopy); !errors.Is(err, context.Canceled) {
		t.Fatalf("Place() error = %v, want context.Canceled", err)
	}
	if err := stage.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if got := readFile(t, filepath.Join(target, "hero.1001.exr")); got != "v1-1001" {
		t.Errorf("target = %q, want untouched", got)
	}
}
