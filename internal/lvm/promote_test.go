package lvm_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"lvm-go/internal/lvm"
	"lvm-go/internal/testutil"
)

// heroFrames is what a promoted hero_comp target holds.
func heroFrames() []string {
	var out []string
	for f := 1001; f <= 1010; f++ {
		out = append(out, fmt.Sprintf("hero_comp.%04d.exr", f))
	}
	return out
}

func newHeroHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := newHarness(t, []*lvm.Source{heroSource()}, opts...)
	dir := h.path("renders", "hero")
	testutil.WriteSequence(t, dir, "hero_comp_v001", "exr", 1001, 1010)
	testutil.WriteSequence(t, dir, "hero_comp_v002", "exr", 1001, 1010)
	h.scan(t, "hero")
	return h
}

func TestPromote_HeroComp(t *testing.T) {
	h := newHeroHarness(t)
	target := h.path("latest", "hero")

	res := h.promote(t, "hero", "v002", lvm.PromoteOptions{Actor: "comp"})

	if got := testutil.ListDir(t, target); !slices.Equal(got, heroFrames()) {
		t.Fatalf("target holds %v", got)
	}
	if got := testutil.ReadFile(t, filepath.Join(target, "hero_comp.1004.exr")); got != "hero_comp_v002:1004" {
		t.Errorf("hero_comp.1004.exr = %q, want the v002 frame", got)
	}
	// Nothing but the target is left beside it.
	if got := testutil.ListDir(t, h.path("latest")); !slices.Equal(got, []string{"hero"}) {
		t.Errorf("target parent holds %v", got)
	}

	rec := res.Record
	if rec.Outcome != lvm.OutcomeSuccess || rec.VersionToken != "v002" || rec.VersionNumber != 2 || rec.Actor != "comp" {
		t.Errorf("record = %+v", rec)
	}
	if rec.LinkModeRequested != lvm.LinkCopy || rec.LinkModeUsed != lvm.LinkCopy {
		t.Errorf("link modes = %s/%s", rec.LinkModeRequested, rec.LinkModeUsed)
	}
	if !rec.PromotedAt.Equal(h.clock.Now()) {
		t.Errorf("PromotedAt = %v", rec.PromotedAt)
	}
	if rec.Frames == nil || rec.Frames.Start != 1001 || rec.Frames.End != 1010 {
		t.Errorf("Frames = %v", rec.Frames)
	}

	manifest, err := h.fs.Manifest(target, false)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(manifest, rec.Manifest) {
		t.Errorf("recorded manifest %v differs from target %v", rec.Manifest, manifest)
	}

	records := h.records(t, "hero")
	if len(records) != 1 || records[0].ID != rec.ID {
		t.Fatalf("ledger holds %d records", len(records))
	}
	if cur, _ := h.svc.Current(context.Background(), "hero"); cur == nil || cur.VersionNumber != 2 {
		t.Errorf("Current() = %+v, want v002", cur)
	}
}

func TestPromote_ReplacesPreviousVersion(t *testing.T) {
	h := newHeroHarness(t)
	target := h.path("latest", "hero")
	testutil.WriteFile(t, filepath.Join(target, "stale.exr"), "left over")

	h.promote(t, "hero", "v001", lvm.PromoteOptions{})
	h.promote(t, "hero", "v002", lvm.PromoteOptions{})

	if got := testutil.ListDir(t, target); !slices.Equal(got, heroFrames()) {
		t.Errorf("target holds %v, want only v002 frames", got)
	}
	if got := testutil.ReadFile(t, filepath.Join(target, "hero_comp.1001.exr")); got != "hero_comp_v002:1001" {
		t.Errorf("hero_comp.1001.exr = %q", got)
	}
}

func TestPromote_DryRun(t *testing.T) {
	h := newHeroHarness(t)

	res := h.promote(t, "hero", "v2", lvm.PromoteOptions{DryRun: true})
	if !res.DryRun || res.Record != nil {
		t.Errorf("dry run result = %+v", res)
	}
	if len(res.Plan) != 10 || res.Plan[0].Dest != "hero_comp.1001.exr" {
		t.Errorf("Plan = %+v", res.Plan)
	}
	if _, err := h.fs.Stat(h.path("latest")); err == nil {
		t.Error("dry run created the target parent")
	}
	if n := len(h.records(t, "hero")); n != 0 {
		t.Errorf("dry run appended %d records", n)
	}
}

func TestPromote_SwapFailureKeepsTarget(t *testing.T) {
	h := newHeroHarness(t, withStaging(func(inner lvm.StagingArea) lvm.StagingArea {
		return &testutil.SwapFailingArea{Inner: inner}
	}))
	target := h.path("latest", "hero")
	testutil.WriteFile(t, filepath.Join(target, "hero_comp.1001.exr"), "previous")

	_, err := h.svc.Promote(context.Background(), "hero", "v002", lvm.PromoteOptions{})
	if !errors.Is(err, testutil.ErrInjectedSwap) {
		t.Fatalf("Promote() error = %v, want the injected swap failure", err)
	}
	var perr *lvm.PromotionError
	if !errors.As(err, &perr) || perr.Step != lvm.StepSwap {
		t.Errorf("Promote() error = %v, want a swap step PromotionError", err)
	}

	if got := testutil.ListDir(t, target); !slices.Equal(got, []string{"hero_comp.1001.exr"}) {
		t.Errorf("target holds %v, want it untouched", got)
	}
	if got := testutil.ReadFile(t, filepath.Join(target, "hero_comp.1001.exr")); got != "previous" {
		t.Errorf("target file = %q, want previous", got)
	}
	if got := testutil.ListDir(t, h.path("latest")); !slices.Equal(got, []string{"hero"}) {
		t.Errorf("stage left behind: %v", got)
	}

	records := h.records(t, "hero")
	if len(records) != 1 || records[0].Outcome != lvm.OutcomeFailed || records[0].FailureStep != lvm.StepSwap {
		t.Fatalf("records = %+v, want one failed swap", records)
	}
	if len(records[0].Manifest) != 0 {
		t.Error("failed record carries a manifest")
	}
	pending, err := h.ledger.PendingIntents(context.Background(), "hero")
	if err != nil || len(pending) != 0 {
		t.Errorf("PendingIntents() = %v, %v; want none once the failure is recorded", pending, err)
	}
	if cur, _ := h.svc.Current(context.Background(), "hero"); cur != nil {
		t.Errorf("Current() = %+v, want nil after a failed promotion", cur)
	}
}

func TestPromote_StageFailure(t *testing.T) {
	h := newHeroHarness(t)
	h.fs.FailLink = "hero_comp_v002.1003.exr"

	_, err := h.svc.Promote(context.Background(), "hero", "v002", lvm.PromoteOptions{})
	if !errors.Is(err, lvm.ErrStageWriteFailed) {
		t.Fatalf("Promote() error = %v, want ErrStageWriteFailed", err)
	}
	var perr *lvm.PromotionError
	if !errors.As(err, &perr) || perr.Step != lvm.StepStage || perr.Path != "hero_comp.1003.exr" {
		t.Errorf("Promote() error = %+v, want the failed file named", perr)
	}
	if _, err := h.fs.Stat(h.path("latest", "hero")); err == nil {
		t.Error("failed promotion created the target")
	}
	if got := testutil.ListDir(t, h.path("latest")); len(got) != 0 {
		t.Errorf("stage left behind: %v", got)
	}
}

func TestPromote_VersionNotFound(t *testing.T) {
	h := newHeroHarness(t)

	_, err := h.svc.Promote(context.Background(), "hero", "v009", lvm.PromoteOptions{})
	if !errors.Is(err, lvm.ErrVersionNotFound) {
		t.Fatalf("Promote() error = %v, want ErrVersionNotFound", err)
	}
	records := h.records(t, "hero")
	if len(records) != 1 || records[0].FailureStep != lvm.StepResolve || records[0].VersionToken != "v009" {
		t.Errorf("records = %+v", records)
	}

	if _, err := h.svc.Promote(context.Background(), "nope", "v1", lvm.PromoteOptions{}); !errors.Is(err, lvm.ErrSourceNotFound) {
		t.Errorf("Promote(nope) error = %v, want ErrSourceNotFound", err)
	}
}

func TestPromote_ExplicitRepromote(t *testing.T) {
	h := newHeroHarness(t)
	first := h.promote(t, "hero", "v002", lvm.PromoteOptions{})
	second := h.promote(t, "hero", "v002", lvm.PromoteOptions{})

	if first.Record.ID == second.Record.ID {
		t.Error("re-promotion reused the record id")
	}
	if n := len(h.records(t, "hero")); n != 2 {
		t.Errorf("ledger holds %d records, want 2", n)
	}
}

func TestPromote_CrossVolumeHardlinkFallsBack(t *testing.T) {
	h := newHeroHarness(t)
	h.fs.CrossVolume = true

	res := h.promote(t, "hero", "v002", lvm.PromoteOptions{LinkMode: lvm.LinkHardlink})
	if res.LinkMode != lvm.LinkCopy {
		t.Errorf("LinkMode = %s, want copy", res.LinkMode)
	}
	if res.Record.LinkModeRequested != lvm.LinkHardlink || res.Record.LinkModeUsed != lvm.LinkCopy {
		t.Errorf("record link modes = %s/%s", res.Record.LinkModeRequested, res.Record.LinkModeUsed)
	}
	if slices.Contains(h.fs.Probes(), lvm.LinkHardlink) {
		t.Error("hardlink probed across volumes")
	}
}

func TestPromote_Symlink(t *testing.T) {
	h := newHeroHarness(t)
	res := h.promote(t, "hero", "v002", lvm.PromoteOptions{LinkMode: lvm.LinkSymlink})
	if res.LinkMode != lvm.LinkSymlink {
		t.Skipf("symlinks unavailable here, fell back to %s", res.LinkMode)
	}
	if got := testutil.ReadFile(t, h.path("latest", "hero", "hero_comp.1002.exr")); got != "hero_comp_v002:1002" {
		t.Errorf("symlinked frame = %q", got)
	}
}

type fakeElevator struct {
	grant func()
	allow bool
	calls []lvm.LinkMode
}

func (e *fakeElevator) Elevate(_ context.Context, mode lvm.LinkMode) (bool, error) {
	e.calls = append(e.calls, mode)
	if e.allow && e.grant != nil {
		e.grant()
	}
	return e.allow, nil
}

func TestPromote_Elevation(t *testing.T) {
	t.Run("granted", func(t *testing.T) {
		elev := &fakeElevator{allow: true}
		h := newHeroHarness(t, withElevator(elev))
		elev.grant = func() { h.fs.Grant(lvm.LinkSymlink) }
		h.fs.DenyPermission(lvm.LinkSymlink)

		res := h.promote(t, "hero", "v002", lvm.PromoteOptions{LinkMode: lvm.LinkSymlink})
		if !slices.Equal(elev.calls, []lvm.LinkMode{lvm.LinkSymlink}) {
			t.Errorf("elevator calls = %v", elev.calls)
		}
		if res.LinkMode != lvm.LinkSymlink {
			t.Errorf("LinkMode = %s, want symlink after elevation", res.LinkMode)
		}
	})

	t.Run("declined", func(t *testing.T) {
		elev := &fakeElevator{}
		h := newHeroHarness(t, withElevator(elev))
		h.fs.DenyPermission(lvm.LinkSymlink)
		h.fs.DenyPermission(lvm.LinkHardlink)

		res := h.promote(t, "hero", "v002", lvm.PromoteOptions{LinkMode: lvm.LinkSymlink})
		if len(elev.calls) != 2 {
			t.Errorf("elevator calls = %v, want one per refused mode", elev.calls)
		}
		if res.LinkMode != lvm.LinkCopy || res.Record.Outcome != lvm.OutcomeSuccess {
			t.Errorf("result = %s/%s, want a successful copy", res.LinkMode, res.Record.Outcome)
		}
	})
}

func TestPromote_Divergence(t *testing.T) {
	src := heroSource()
	src.StrictDivergence = true
	h := newHarness(t, []*lvm.Source{src})
	dir := h.path("renders", "hero")
	testutil.WriteSequence(t, dir, "hero_comp_v001", "exr", 1001, 1010)
	testutil.WriteSequence(t, dir, "hero_comp_v002", "exr", 1001, 1012)
	h.scan(t, "hero")
	h.promote(t, "hero", "v001", lvm.PromoteOptions{})

	res, err := h.svc.Promote(context.Background(), "hero", "v002", lvm.PromoteOptions{})
	if !errors.Is(err, lvm.ErrDivergenceBlocked) {
		t.Fatalf("Promote() error = %v, want ErrDivergenceBlocked", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Field != "frame_range" {
		t.Errorf("Warnings = %v", res.Warnings)
	}
	if got := testutil.ListDir(t, h.path("latest", "hero")); len(got) != 10 {
		t.Errorf("blocked promotion touched the target: %d files", len(got))
	}

	res = h.promote(t, "hero", "v002", lvm.PromoteOptions{AllowDivergence: true})
	if res.Record.Outcome != lvm.OutcomeSuccess || len(res.Warnings) != 1 {
		t.Errorf("override result = %+v", res)
	}
	if got := testutil.ListDir(t, h.path("latest", "hero")); len(got) != 12 {
		t.Errorf("target holds %d files, want 12", len(got))
	}
}

func TestPromote_DivergenceWarnsWhenNotStrict(t *testing.T) {
	h := newHarness(t, []*lvm.Source{heroSource()})
	dir := h.path("renders", "hero")
	testutil.WriteSequence(t, dir, "hero_comp_v001", "exr", 1001, 1010)
	testutil.WriteSequence(t, dir, "hero_comp_v002", "exr", 1001, 1010, 1005)
	h.scan(t, "hero")
	h.promote(t, "hero", "v001", lvm.PromoteOptions{})

	res := h.promote(t, "hero", "v002", lvm.PromoteOptions{})
	if len(res.Warnings) != 1 || res.Warnings[0].Field != "frame_range" {
		t.Fatalf("Warnings = %v", res.Warnings)
	}
	if res.Record.Outcome != lvm.OutcomeSuccess {
		t.Errorf("Outcome = %s, want success with a warning", res.Record.Outcome)
	}
}

// cancellingArea cancels the promotion while its files are being placed.
type cancellingArea struct {
	inner  lvm.StagingArea
	cancel context.CancelFunc
}

func (a *cancellingArea) Begin(target string) (lvm.Stage, error) {
	st, err := a.inner.Begin(target)
	if err != nil {
		return nil, err
	}
	return &cancellingStage{Stage: st, cancel: a.cancel}, nil
}

type cancellingStage struct {
	lvm.Stage
	cancel context.CancelFunc
}

func (s *cancellingStage) Place(ctx context.Context, files []lvm.Placement, mode lvm.LinkMode) error {
	s.cancel()
	return s.Stage.Place(ctx, files, mode)
}

func TestPromote_CancelledDuringStaging(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHeroHarness(t, withStaging(func(inner lvm.StagingArea) lvm.StagingArea {
		return &cancellingArea{inner: inner, cancel: cancel}
	}))

	res, err := h.svc.Promote(ctx, "hero", "v002", lvm.PromoteOptions{})
	if !errors.Is(err, context.Canceled) || res != nil {
		t.Fatalf("Promote() = %v, %v; want nil, context.Canceled", res, err)
	}
	if n := len(h.records(t, "hero")); n != 0 {
		t.Errorf("cancelled promotion appended %d records", n)
	}
	if got := testutil.ListDir(t, h.path("latest")); len(got) != 0 {
		t.Errorf("cancelled promotion left %v", got)
	}
}

func TestPromote_RenameTemplate(t *testing.T) {
	src := heroSource()
	src.RenameTemplate = "hero_latest"
	h := newHarness(t, []*lvm.Source{src})
	testutil.WriteSequence(t, h.path("renders", "hero"), "hero_comp_v001", "exr", 1, 2)
	h.scan(t, "hero")

	h.promote(t, "hero", "v001", lvm.PromoteOptions{})
	got := testutil.ListDir(t, h.path("latest", "hero"))
	if !slices.Equal(got, []string{"hero_latest.0001.exr", "hero_latest.0002.exr"}) {
		t.Errorf("target holds %v", got)
	}
}

func TestPromoteAll(t *testing.T) {
	sources := []*lvm.Source{
		{ID: "a", Root: "renders/a", Target: "latest/a"},
		{ID: "b", Root: "renders/b", Target: "latest/b"},
		{ID: "c", Root: "renders/c", Target: "latest/c"},
		{ID: "empty", Root: "renders/empty", Target: "latest/empty"},
	}
	h := newHarness(t, sources)
	testutil.WriteSequence(t, h.path("renders", "a"), "a_v001", "exr", 1, 2)
	testutil.WriteSequence(t, h.path("renders", "a"), "a_v002", "exr", 1, 2)
	testutil.WriteSequence(t, h.path("renders", "b"), "b_v001", "exr", 1, 2)
	testutil.WriteSequence(t, h.path("renders", "c"), "c_v003", "exr", 1, 2)
	testutil.WriteFile(t, h.path("renders", "empty", "readme.txt"), "nothing here")
	if _, err := h.svc.ScanAll(context.Background()); err != nil {
		t.Fatalf("ScanAll() error = %v", err)
	}

	h.promote(t, "c", "v003", lvm.PromoteOptions{})
	h.fs.FailLink = "b_v001.0002.exr"

	batch := h.svc.PromoteAll(context.Background(), lvm.PromoteOptions{})
	want := map[string]lvm.BatchStatus{
		"a":     lvm.BatchPromoted,
		"b":     lvm.BatchFailed,
		"c":     lvm.BatchSkipped,
		"empty": lvm.BatchNoVersions,
	}
	if len(batch.Outcomes) != len(want) {
		t.Fatalf("Outcomes = %+v", batch.Outcomes)
	}
	for i, o := range batch.Outcomes {
		if o.SourceID != sources[i].ID {
			t.Errorf("outcome %d is %s, want project order", i, o.SourceID)
		}
		if o.Status != want[o.SourceID] {
			t.Errorf("%s status = %s, want %s (err %v)", o.SourceID, o.Status, want[o.SourceID], o.Err)
		}
	}
	if batch.Failed() != 1 || !errors.Is(batch.Outcomes[1].Err, lvm.ErrStageWriteFailed) {
		t.Errorf("Failed() = %d, b error = %v", batch.Failed(), batch.Outcomes[1].Err)
	}
	if batch.Outcomes[0].Token != "v002" {
		t.Errorf("a promoted %s, want v002", batch.Outcomes[0].Token)
	}
	if cur, _ := h.svc.Current(context.Background(), "a"); cur == nil || cur.VersionNumber != 2 {
		t.Errorf("a current = %+v", cur)
	}
	if n := len(h.records(t, "c")); n != 1 {
		t.Errorf("c has %d records, want the skip to append nothing", n)
	}
}

func TestPromoteAll_DryRun(t *testing.T) {
	h := newHeroHarness(t)
	batch := h.svc.PromoteAll(context.Background(), lvm.PromoteOptions{DryRun: true})
	if len(batch.Outcomes) != 1 || batch.Outcomes[0].Status != lvm.BatchPromoted || !batch.Outcomes[0].Result.DryRun {
		t.Errorf("Outcomes = %+v", batch.Outcomes)
	}
	if n := len(h.records(t, "hero")); n != 0 {
		t.Errorf("dry run appended %d records", n)
	}
}
