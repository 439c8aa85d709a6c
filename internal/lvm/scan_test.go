package lvm_test

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"lvm-go/internal/lvm"
	"lvm-go/internal/testutil"
)

func TestScan_HeroComp(t *testing.T) {
	h := newHarness(t, []*lvm.Source{heroSource()})
	dir := h.path("renders", "hero")
	testutil.WriteSequence(t, dir, "hero_comp_v001", "exr", 1001, 1010)
	testutil.WriteSequence(t, dir, "hero_comp_v002", "exr", 1001, 1010)
	testutil.WriteFile(t, h.path("renders", "hero", "notes.txt"), "not media")

	res := h.scan(t, "hero")
	if !slices.Equal(res.Added, []string{"v001", "v002"}) {
		t.Fatalf("Added = %v, want [v001 v002]", res.Added)
	}

	for _, v := range h.registry.Versions("hero") {
		if len(v.Files) != 10 {
			t.Errorf("%s has %d files, want 10", v.Token, len(v.Files))
		}
		if v.Frames == nil || v.Frames.Start != 1001 || v.Frames.End != 1010 || len(v.Frames.Missing) != 0 {
			t.Errorf("%s frames = %v, want 1001-1010", v.Token, v.Frames)
		}
		if v.Revision != 1 || !v.DiscoveredAt.Equal(h.clock.Now()) {
			t.Errorf("%s revision %d discovered %v", v.Token, v.Revision, v.DiscoveredAt)
		}
	}
}

func TestScan_MissingFrames(t *testing.T) {
	h := newHarness(t, []*lvm.Source{heroSource()})
	testutil.WriteSequence(t, h.path("renders", "hero"), "hero_comp_v001", "exr", 1001, 1010, 1005, 1006)
	h.scan(t, "hero")

	v, _ := h.registry.Latest("hero")
	if !slices.Equal(v.Frames.Missing, []int{1005, 1006}) {
		t.Errorf("Missing = %v, want [1005 1006]", v.Frames.Missing)
	}
}

func TestScan_LayersThatDoNotOverlap(t *testing.T) {
	h := newHarness(t, []*lvm.Source{heroSource()})
	dir := h.path("renders", "hero")
	testutil.WriteSequence(t, dir, "hero_comp_v001", "exr", 1001, 1005)
	testutil.WriteSequence(t, dir, "hero_matte_v001", "exr", 1006, 1010)
	testutil.WriteSequence(t, dir, "hero_comp_v002", "exr", 1001, 1004)
	testutil.WriteSequence(t, dir, "hero_matte_v002", "exr", 1001, 1004)
	h.scan(t, "hero")

	v1, _ := h.registry.Version("hero", 1)
	if v1.Frames == nil || v1.Frames.Start != 1001 || v1.Frames.End != 1010 {
		t.Fatalf("v001 frames = %v, want 1001-1010", v1.Frames)
	}
	if v1.Frames.Complete() || v1.Frames.Count() != 0 {
		t.Errorf("v001 frames = %v, want gaps where the layers do not overlap", v1.Frames)
	}

	v2, _ := h.registry.Version("hero", 2)
	if !v2.Frames.Complete() || v2.Frames.Count() != 4 {
		t.Errorf("v002 frames = %v, want 1001-1004 complete", v2.Frames)
	}
}

func TestScan_Idempotent(t *testing.T) {
	h := newHarness(t, []*lvm.Source{heroSource()})
	dir := h.path("renders", "hero")
	testutil.WriteSequence(t, dir, "hero_comp_v001", "exr", 1001, 1003)
	testutil.WriteSequence(t, dir, "hero_comp_v002", "exr", 1001, 1003)
	h.scan(t, "hero")
	before := h.registry.Versions("hero")

	h.clock.Advance(time.Hour)
	res := h.scan(t, "hero")
	if res.Changed() {
		t.Fatalf("rescan of unchanged tree mutated the registry: %+v", res)
	}
	if !slices.Equal(res.Unchanged, []string{"v001", "v002"}) {
		t.Errorf("Unchanged = %v", res.Unchanged)
	}
	after := h.registry.Versions("hero")
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("%s was replaced by an unchanged rescan", before[i].Token)
		}
	}
}

func TestScan_RewriteSupersedes(t *testing.T) {
	h := newHarness(t, []*lvm.Source{heroSource()})
	paths := testutil.WriteSequence(t, h.path("renders", "hero"), "hero_comp_v001", "exr", 1001, 1003)
	h.scan(t, "hero")
	old, _ := h.registry.Latest("hero")

	// Same name, same size, new mtime: only the fingerprint notices.
	testutil.Touch(t, paths[1], time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	res := h.scan(t, "hero")
	if !slices.Equal(res.Updated, []string{"v001"}) {
		t.Fatalf("Updated = %v, want [v001]", res.Updated)
	}
	cur, _ := h.registry.Latest("hero")
	if cur.Revision != 2 || cur.Fingerprint == old.Fingerprint {
		t.Errorf("revision %d, fingerprint changed %v", cur.Revision, cur.Fingerprint != old.Fingerprint)
	}
	if sup := h.registry.Superseded("hero"); len(sup) != 1 || sup[0] != old {
		t.Errorf("Superseded = %v, want the first revision", sup)
	}

	if err := os.Remove(paths[0]); err != nil {
		t.Fatal(err)
	}
	for _, p := range paths[1:] {
		os.Remove(p)
	}
	res = h.scan(t, "hero")
	if !slices.Equal(res.Removed, []string{"v001"}) {
		t.Errorf("Removed = %v, want [v001]", res.Removed)
	}
	if len(h.registry.Superseded("hero")) != 2 {
		t.Error("removed version not kept as superseded")
	}
}

func TestScan_VersionFoldersAndFilters(t *testing.T) {
	src := &lvm.Source{ID: "plate", Root: "plates", Target: "latest/plate", Exclude: []string{"_old"}, Include: []string{"plate"}}
	h := newHarness(t, []*lvm.Source{src})

	// Files inside a version folder take the folder's version.
	testutil.WriteSequence(t, h.path("plates", "sh010", "plate_v001"), "plate", "dpx", 1, 3)
	testutil.WriteSequence(t, h.path("plates", "sh010", "plate_v002"), "plate_v099", "dpx", 1, 3)
	testutil.WriteSequence(t, h.path("plates", "sh010_old", "plate_v003"), "plate", "dpx", 1, 3)
	testutil.WriteSequence(t, h.path("plates", "sh010", "plate_v004"), "bg", "dpx", 1, 3)
	// Below the depth limit.
	testutil.WriteSequence(t, h.path("plates", "a", "b", "plate_v005"), "plate", "dpx", 1, 3)
	testutil.WriteSequence(t, h.path("plates", ".trash", "plate_v006"), "plate", "dpx", 1, 3)

	res := h.scan(t, "plate")
	if !slices.Equal(res.Added, []string{"v001", "v002", "v004"}) {
		t.Fatalf("Added = %v, want [v001 v002 v004]", res.Added)
	}
	v2, _ := h.registry.Version("plate", 2)
	if !v2.Folder || len(v2.Files) != 3 || v2.Path != h.path("plates", "sh010", "plate_v002") {
		t.Errorf("v002 = folder %v, %d files, path %s", v2.Folder, len(v2.Files), v2.Path)
	}
	// v004's files are admitted because the folder segment matches "plate".
	if v4, _ := h.registry.Version("plate", 4); len(v4.Files) != 3 {
		t.Errorf("v004 files = %d, want 3", len(v4.Files))
	}
}

func TestScan_DuplicateVersionKeepsFirst(t *testing.T) {
	h := newHarness(t, []*lvm.Source{heroSource()})
	testutil.WriteSequence(t, h.path("renders", "hero", "a_v001"), "hero", "exr", 1, 2)
	testutil.WriteSequence(t, h.path("renders", "hero", "b_v1"), "hero", "exr", 1, 5)
	h.scan(t, "hero")

	v, ok := h.registry.Version("hero", 1)
	if !ok || len(v.Files) != 2 || v.Path != h.path("renders", "hero", "a_v001") {
		t.Errorf("v001 = %+v, want the lexically first folder", v)
	}
}

func TestScan_Scoped(t *testing.T) {
	h := newHarness(t, []*lvm.Source{heroSource()})
	testutil.WriteSequence(t, h.path("renders", "hero", "hero_v001"), "hero", "exr", 1, 2)
	testutil.WriteSequence(t, h.path("renders", "hero", "hero_v002"), "hero", "exr", 1, 2)
	h.scan(t, "hero")

	testutil.WriteSequence(t, h.path("renders", "hero", "hero_v003"), "hero", "exr", 1, 2)
	// A change outside the scope stays invisible to a scoped scan.
	if err := os.RemoveAll(h.path("renders", "hero", "hero_v001")); err != nil {
		t.Fatal(err)
	}

	res, err := h.svc.Scan(context.Background(), "hero", "hero_v003/hero.0001.exr")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !slices.Equal(res.Added, []string{"v003"}) || len(res.Removed) != 0 {
		t.Errorf("scoped scan = %+v, want only v003 added", res)
	}
	if len(h.registry.Versions("hero")) != 3 {
		t.Errorf("registry holds %d versions, want 3", len(h.registry.Versions("hero")))
	}

	res = h.scan(t, "hero")
	if !slices.Equal(res.Removed, []string{"v001"}) {
		t.Errorf("full scan Removed = %v, want [v001]", res.Removed)
	}
}

func TestScan_Unreachable(t *testing.T) {
	h := newHarness(t, []*lvm.Source{heroSource()})
	_, err := h.svc.Scan(context.Background(), "hero", "")
	if !errors.Is(err, lvm.ErrSourceUnreachable) {
		t.Errorf("Scan() error = %v, want ErrSourceUnreachable", err)
	}

	testutil.WriteFile(t, h.path("renders", "hero"), "a file, not a directory")
	_, err = h.svc.Scan(context.Background(), "hero", "")
	if !errors.Is(err, lvm.ErrSourceUnreachable) {
		t.Errorf("Scan() on a file error = %v, want ErrSourceUnreachable", err)
	}
}

func TestScanAll_ContinuesPastFailures(t *testing.T) {
	good := &lvm.Source{ID: "good", Root: "good", Target: "latest/good"}
	bad := &lvm.Source{ID: "bad", Root: "missing", Target: "latest/bad"}
	h := newHarness(t, []*lvm.Source{bad, good})
	testutil.WriteSequence(t, h.path("good"), "good_v001", "exr", 1, 1)

	results, err := h.svc.ScanAll(context.Background())
	if !errors.Is(err, lvm.ErrSourceUnreachable) {
		t.Errorf("ScanAll() error = %v, want ErrSourceUnreachable for bad", err)
	}
	if len(results) != 1 || results[0].SourceID != "good" {
		t.Errorf("ScanAll() results = %+v", results)
	}
}

type fixedTimecode string

func (tc fixedTimecode) ReadTimecode(string) (lvm.TimecodeInfo, error) {
	return lvm.TimecodeInfo{Present: true, Value: string(tc)}, nil
}

func TestScan_ReadsTimecode(t *testing.T) {
	h := newHarness(t, []*lvm.Source{heroSource()}, withTimecode(fixedTimecode("01:00:00:00")))
	testutil.WriteSequence(t, h.path("renders", "hero"), "hero_comp_v001", "exr", 1, 1)
	h.scan(t, "hero")
	v, _ := h.registry.Latest("hero")
	if v.Timecode.Value != "01:00:00:00" {
		t.Errorf("Timecode = %v", v.Timecode)
	}
}
