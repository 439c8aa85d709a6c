package lvm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"lvm-go/internal/naming"
)

// PromoteOptions controls a single promotion.
type PromoteOptions struct {
	DryRun bool

	// LinkMode overrides the source's preference when set.
	LinkMode LinkMode

	Actor string

	// AllowDivergence lets a source with strict divergence checking promote
	// a version whose frame range or timecode changed.
	AllowDivergence bool
}

// PlannedFile maps one version file to its name in the target.
type PlannedFile struct {
	Source string
	Dest   string
	Size   int64
}

// PromotionResult reports what a promotion did or, for a dry run, would do.
type PromotionResult struct {
	Record   *PromotionRecord // nil for a dry run
	Version  *Version
	Plan     []PlannedFile
	LinkMode LinkMode
	Warnings []DivergenceWarning
	DryRun   bool
}

type promotionPlan struct {
	version  *Version
	files    []PlannedFile
	current  *PromotionRecord
	warnings []DivergenceWarning
}

// Promote materialises a version of a source into its target: stage beside the
// target, verify, swap, and record the outcome. The previous target survives
// any failure. A dry run resolves the plan and the divergence check only.
func (s *LVMService) Promote(ctx context.Context, sourceID, token string, opts PromoteOptions) (*PromotionResult, error) {
	src, err := s.Source(sourceID)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		release, err := s.coord.AcquireScan(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("planning %s: %w", sourceID, err)
		}
		defer release()
		return s.dryRun(ctx, src, token, opts)
	}

	release, err := s.coord.AcquirePromote(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("promoting %s: %w", sourceID, err)
	}
	defer release()
	return s.promoteLocked(ctx, src, token, opts)
}

func (s *LVMService) dryRun(ctx context.Context, src *Source, token string, opts PromoteOptions) (*PromotionResult, error) {
	plan, err := s.plan(ctx, src, token)
	if err != nil {
		return nil, &PromotionError{SourceID: src.ID, Step: StepResolve, Err: err}
	}
	mode, err := s.chooseLinkMode(ctx, src, plan.version, requestedMode(src, opts), true)
	if err != nil {
		return nil, &PromotionError{SourceID: src.ID, Step: StepStage, Err: err}
	}
	return &PromotionResult{
		Version:  plan.version,
		Plan:     plan.files,
		LinkMode: mode,
		Warnings: plan.warnings,
		DryRun:   true,
	}, nil
}

func (s *LVMService) promoteLocked(ctx context.Context, src *Source, token string, opts PromoteOptions) (*PromotionResult, error) {
	requested := requestedMode(src, opts)
	rec := &PromotionRecord{
		ID:                s.idgen.New(),
		SourceID:          src.ID,
		VersionToken:      token,
		PromotedAt:        s.clock.Now(),
		Actor:             opts.Actor,
		LinkModeRequested: requested,
		TargetPath:        src.Target,
	}
	result := &PromotionResult{Record: rec}

	plan, err := s.plan(ctx, src, token)
	if err != nil {
		return result, s.recordFailure(ctx, rec, StepResolve, "", err)
	}
	v := plan.version
	rec.VersionToken = v.Token
	rec.VersionNumber = v.Number
	rec.Fingerprint = v.Fingerprint
	rec.Frames = v.Frames
	rec.Timecode = v.Timecode
	rec.SourcePath = v.Path
	result.Version = v
	result.Plan = plan.files
	result.Warnings = plan.warnings

	for _, w := range plan.warnings {
		s.logger.Warn("divergence detected", "source", src.ID, "version", v.Token, "field", w.Field, "previous", w.Previous, "current", w.Current)
	}
	if len(plan.warnings) > 0 && src.StrictDivergence && !opts.AllowDivergence {
		return result, s.recordFailure(ctx, rec, StepVerify, "", ErrDivergenceBlocked)
	}

	parent := filepath.Dir(src.Target)
	if err := s.fsmgr.EnsureDir(parent); err != nil {
		return result, s.recordFailure(ctx, rec, StepStage, parent, fmt.Errorf("%w: %v", ErrStageWriteFailed, err))
	}

	mode, err := s.chooseLinkMode(ctx, src, v, requested, false)
	if err != nil {
		return result, s.recordFailure(ctx, rec, StepStage, "", err)
	}
	rec.LinkModeUsed = mode
	result.LinkMode = mode

	stage, err := s.staging.Begin(src.Target)
	if err != nil {
		return result, s.recordFailure(ctx, rec, StepStage, parent, fmt.Errorf("%w: %v", ErrStageWriteFailed, err))
	}
	defer func() {
		if err := stage.Discard(); err != nil {
			s.logger.Warn("discarding stage", "source", src.ID, "path", stage.Dir(), "error", err)
		}
	}()

	placements := make([]Placement, len(plan.files))
	for i, f := range plan.files {
		placements[i] = Placement{Source: f.Source, Dest: f.Dest, Size: f.Size}
	}
	if err := stage.Place(ctx, placements, mode); err != nil {
		if ctx.Err() != nil {
			s.logger.Info("promotion cancelled", "source", src.ID, "version", v.Token)
			return nil, ctx.Err()
		}
		return result, s.recordFailure(ctx, rec, StepStage, failedPath(err), err)
	}

	manifest, err := s.verifyStage(src, v, stage.Dir(), plan.files)
	if err != nil {
		return result, s.recordFailure(ctx, rec, StepVerify, failedPath(err), err)
	}
	if ctx.Err() != nil {
		s.logger.Info("promotion cancelled", "source", src.ID, "version", v.Token)
		return nil, ctx.Err()
	}

	intent := &PromotionIntent{
		ID:           rec.ID,
		SourceID:     src.ID,
		VersionToken: v.Token,
		TargetPath:   src.Target,
		StartedAt:    s.clock.Now(),
	}
	if err := s.ledger.RecordIntent(ctx, intent); err != nil {
		return result, s.recordFailure(ctx, rec, StepRecord, "", fmt.Errorf("recording intent: %w", err))
	}

	if err := stage.Swap(); err != nil {
		return result, s.recordFailure(ctx, rec, StepSwap, src.Target, err)
	}

	rec.Outcome = OutcomeSuccess
	rec.Manifest = manifest
	if err := s.ledger.Append(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("target swapped but not recorded", "source", src.ID, "version", v.Token, "target", src.Target, "error", err)
		return result, &PromotionError{SourceID: src.ID, Step: StepRecord, Err: err}
	}

	s.logger.Info("promotion complete", "source", src.ID, "version", v.Token, "files", len(manifest),
		"link_mode", mode, "target", src.Target)
	return result, nil
}

// plan resolves the version and the destination name of each of its files.
func (s *LVMService) plan(ctx context.Context, src *Source, token string) (*promotionPlan, error) {
	v, err := s.FindVersion(src.ID, token)
	if err != nil {
		return nil, err
	}
	if len(v.Files) == 0 {
		return nil, fmt.Errorf("%w: %s has no files", ErrVersionNotFound, v.Token)
	}

	renamed := ""
	if src.RenameTemplate != "" {
		renamed = s.resolvePath(src.RenameTemplate, src)
		if strings.ContainsAny(renamed, `/\`) {
			return nil, fmt.Errorf("rename template %q resolves to a path: %s", src.RenameTemplate, renamed)
		}
	}

	files := make([]PlannedFile, 0, len(v.Files))
	seen := make(map[string]string, len(v.Files))
	for _, f := range v.Files {
		base := f.Name.Base
		if renamed != "" {
			base = renamed
		}
		dest := naming.DestName(f.Name, base)
		if prev, dup := seen[dest]; dup {
			return nil, fmt.Errorf("%s and %s both map to %s", prev, f.RelPath, dest)
		}
		seen[dest] = f.RelPath
		files = append(files, PlannedFile{
			Source: filepath.Join(v.Path, path.Base(f.RelPath)),
			Dest:   dest,
			Size:   f.Size,
		})
	}
	slices.SortFunc(files, func(a, b PlannedFile) int { return strings.Compare(a.Dest, b.Dest) })

	current, err := s.ledger.Current(ctx, src.ID)
	if err != nil {
		return nil, fmt.Errorf("reading current promotion: %w", err)
	}

	return &promotionPlan{
		version:  v,
		files:    files,
		current:  current,
		warnings: divergence(current, v),
	}, nil
}

// chooseLinkMode walks the fallback chain from the requested mode. Hardlinks
// are refused across volumes before anything is written. A dry run skips the
// probes because they write to the target's parent.
func (s *LVMService) chooseLinkMode(ctx context.Context, src *Source, v *Version, requested LinkMode, dryRun bool) (LinkMode, error) {
	dir := filepath.Dir(src.Target)
	for _, mode := range requested.FallbackChain() {
		if mode == LinkCopy {
			return LinkCopy, nil
		}
		if mode == LinkHardlink {
			same, err := s.fsmgr.SameVolume(v.Path, dir)
			if err != nil {
				s.logger.Warn("checking volumes", "source", src.ID, "error", err)
				continue
			}
			if !same {
				s.logger.Info("hardlink refused across volumes", "source", src.ID, "from", v.Path, "to", dir)
				continue
			}
		}
		if dryRun {
			return mode, nil
		}
		if err := s.probeLink(ctx, dir, mode); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			s.logger.Info("link mode unavailable, falling back", "source", src.ID, "mode", mode, "error", err)
			continue
		}
		return mode, nil
	}
	return LinkCopy, nil
}

func (s *LVMService) probeLink(ctx context.Context, dir string, mode LinkMode) error {
	err := s.fsmgr.ProbeLink(dir, mode)
	if err == nil || !errors.Is(err, fs.ErrPermission) {
		return err
	}
	granted, eerr := s.elevator.Elevate(ctx, mode)
	if eerr != nil {
		return fmt.Errorf("%w: elevation failed: %v", ErrLinkModeUnsupported, eerr)
	}
	if !granted {
		return fmt.Errorf("%w: elevation denied for %s", ErrLinkModeUnsupported, mode)
	}
	return s.fsmgr.ProbeLink(dir, mode)
}

// verifyStage checks every staged file against the version and returns the
// manifest that the target will have after the swap.
func (s *LVMService) verifyStage(src *Source, v *Version, stageDir string, files []PlannedFile) ([]ManifestEntry, error) {
	hashes := make(map[string]string, len(v.Files))
	for _, f := range v.Files {
		hashes[filepath.Join(v.Path, path.Base(f.RelPath))] = f.Hash
	}

	manifest := make([]ManifestEntry, 0, len(files))
	for _, f := range files {
		staged := filepath.Join(stageDir, filepath.FromSlash(f.Dest))
		info, err := s.fsmgr.Stat(staged)
		if err != nil {
			return nil, &FileError{Path: f.Dest, Err: fmt.Errorf("%w: %v", ErrStageWriteFailed, err)}
		}
		if info.Size() != f.Size {
			return nil, &FileError{Path: f.Dest, Err: fmt.Errorf("%w: size %d, want %d", ErrVerificationMismatch, info.Size(), f.Size)}
		}
		entry := ManifestEntry{Path: f.Dest, Size: f.Size}
		if src.HashContent {
			want := hashes[f.Source]
			if want == "" {
				if want, err = s.fsmgr.HashFile(f.Source); err != nil {
					return nil, &FileError{Path: f.Dest, Err: fmt.Errorf("hashing source: %w", err)}
				}
			}
			got, err := s.fsmgr.HashFile(staged)
			if err != nil {
				return nil, &FileError{Path: f.Dest, Err: fmt.Errorf("hashing staged file: %w", err)}
			}
			if got != want {
				return nil, &FileError{Path: f.Dest, Err: fmt.Errorf("%w: hash %s, want %s", ErrVerificationMismatch, got, want)}
			}
			entry.Hash = got
		}
		manifest = append(manifest, entry)
	}
	return manifest, nil
}

// recordFailure appends a failed (or rolled-back) record and returns the error
// to report. Cancellation is never recorded.
func (s *LVMService) recordFailure(ctx context.Context, rec *PromotionRecord, step, filePath string, err error) error {
	perr := &PromotionError{SourceID: rec.SourceID, Step: step, Path: filePath, Err: err}
	rec.Outcome = OutcomeFailed
	if errors.Is(err, ErrRolledBack) {
		rec.Outcome = OutcomeRolledBack
	}
	rec.FailureStep = step
	rec.FailureDetail = perr.Error()
	rec.Manifest = nil

	s.logger.Error("promotion failed", "source", rec.SourceID, "version", rec.VersionToken, "step", step, "path", filePath, "error", err)
	if aerr := s.ledger.Append(context.WithoutCancel(ctx), rec); aerr != nil {
		s.logger.Error("recording failed promotion", "source", rec.SourceID, "error", aerr)
		return errors.Join(perr, fmt.Errorf("recording failure: %w", aerr))
	}
	return perr
}

func divergence(current *PromotionRecord, v *Version) []DivergenceWarning {
	if current == nil {
		return nil
	}
	var out []DivergenceWarning
	if !current.Frames.Equal(v.Frames) {
		out = append(out, DivergenceWarning{Field: "frame_range", Previous: current.Frames.String(), Current: v.Frames.String()})
	}
	if current.Timecode != v.Timecode {
		out = append(out, DivergenceWarning{Field: "timecode", Previous: current.Timecode.String(), Current: v.Timecode.String()})
	}
	return out
}

func requestedMode(src *Source, opts PromoteOptions) LinkMode {
	if opts.LinkMode != "" {
		return opts.LinkMode
	}
	if src.LinkMode != "" {
		return src.LinkMode
	}
	return LinkCopy
}

func failedPath(err error) string {
	var fe *FileError
	if errors.As(err, &fe) {
		return fe.Path
	}
	return ""
}
