package lvm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// FileStatus classifies one file of a verification report.
type FileStatus string

const (
	FileMatch        FileStatus = "match"
	FileMissing      FileStatus = "missing"
	FileSizeMismatch FileStatus = "size-mismatch"
	FileHashMismatch FileStatus = "hash-mismatch"
	FileExtra        FileStatus = "extra"
)

// FileCheck compares one target file against the ledger manifest.
type FileCheck struct {
	Path         string
	Status       FileStatus
	ExpectedSize int64
	ActualSize   int64
	ExpectedHash string
	ActualHash   string
}

// VerificationReport is computed on demand and never persisted.
type VerificationReport struct {
	SourceID    string
	Target      string
	CheckedAt   time.Time
	Current     *PromotionRecord
	Files       []FileCheck
	Interrupted []*PromotionIntent

	// SourceStale is set when the promoted version's files changed on disk
	// after the promotion.
	SourceStale bool
}

// OK reports whether the target matches the ledger and no swap was left
// unrecorded.
func (r *VerificationReport) OK() bool {
	if len(r.Interrupted) > 0 {
		return false
	}
	for _, f := range r.Files {
		if f.Status != FileMatch {
			return false
		}
	}
	return true
}

// Mismatches returns every check that is not a match.
func (r *VerificationReport) Mismatches() []FileCheck {
	var out []FileCheck
	for _, f := range r.Files {
		if f.Status != FileMatch {
			out = append(out, f)
		}
	}
	return out
}

// Verify recomputes the manifest of a source's target and compares it with the
// latest successful ledger record. Differences are reported, never repaired.
func (s *LVMService) Verify(ctx context.Context, sourceID string) (*VerificationReport, error) {
	src, err := s.Source(sourceID)
	if err != nil {
		return nil, err
	}

	release, err := s.coord.AcquireScan(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("verifying %s: %w", sourceID, err)
	}
	defer release()

	current, err := s.ledger.Current(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("reading current promotion: %w", err)
	}

	withHash := false
	if current != nil {
		for _, m := range current.Manifest {
			if m.Hash != "" {
				withHash = true
				break
			}
		}
	}

	actual, err := s.fsmgr.Manifest(src.Target, withHash)
	if err != nil {
		return nil, fmt.Errorf("reading target %s: %w", src.Target, err)
	}

	intents, err := s.ledger.PendingIntents(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("reading pending intents: %w", err)
	}

	report := &VerificationReport{
		SourceID:    sourceID,
		Target:      src.Target,
		CheckedAt:   s.clock.Now(),
		Current:     current,
		Interrupted: intents,
	}
	var expected []ManifestEntry
	if current != nil {
		expected = current.Manifest
		if v, ok := s.registry.Version(sourceID, current.VersionNumber); ok && v.Fingerprint != current.Fingerprint {
			report.SourceStale = true
		}
	}
	report.Files = compareManifests(expected, actual)

	if !report.OK() {
		s.logger.Warn("verification mismatch", "source", sourceID, "mismatches", len(report.Mismatches()), "interrupted", len(intents))
	} else {
		s.logger.Debug("verification passed", "source", sourceID, "files", len(report.Files))
	}
	return report, nil
}

// VerifyAll verifies every source. It returns an error wrapping
// ErrVerificationMismatch when any report is not OK, alongside all reports.
func (s *LVMService) VerifyAll(ctx context.Context) ([]*VerificationReport, error) {
	var reports []*VerificationReport
	var errs []error
	for _, src := range s.sources {
		r, err := s.Verify(ctx, src.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
			continue
		}
		reports = append(reports, r)
		if !r.OK() {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, ErrVerificationMismatch))
		}
	}
	return reports, errors.Join(errs...)
}

func compareManifests(expected, actual []ManifestEntry) []FileCheck {
	have := make(map[string]ManifestEntry, len(actual))
	for _, a := range actual {
		have[a.Path] = a
	}

	checks := make([]FileCheck, 0, len(expected)+len(actual))
	for _, e := range expected {
		c := FileCheck{Path: e.Path, ExpectedSize: e.Size, ExpectedHash: e.Hash}
		a, ok := have[e.Path]
		switch {
		case !ok:
			c.Status = FileMissing
		case a.Size != e.Size:
			c.Status = FileSizeMismatch
			c.ActualSize = a.Size
		case e.Hash != "" && a.Hash != e.Hash:
			c.Status = FileHashMismatch
			c.ActualSize = a.Size
			c.ActualHash = a.Hash
		default:
			c.Status = FileMatch
			c.ActualSize = a.Size
			c.ActualHash = a.Hash
		}
		delete(have, e.Path)
		checks = append(checks, c)
	}
	for _, a := range have {
		checks = append(checks, FileCheck{Path: a.Path, Status: FileExtra, ActualSize: a.Size, ActualHash: a.Hash})
	}

	slices.SortFunc(checks, func(a, b FileCheck) int { return strings.Compare(a.Path, b.Path) })
	return checks
}
