package lvm

import (
	"context"
	"fmt"
)

// BatchStatus is what promote-all did with one source.
type BatchStatus string

const (
	BatchPromoted   BatchStatus = "promoted"
	BatchSkipped    BatchStatus = "skipped"
	BatchFailed     BatchStatus = "failed"
	BatchNoVersions BatchStatus = "no-versions"
)

// SourceOutcome is the promote-all result for one source.
type SourceOutcome struct {
	SourceID string
	Token    string
	Status   BatchStatus
	Result   *PromotionResult
	Err      error
}

// BatchResult collects per-source outcomes in project order.
type BatchResult struct {
	Outcomes []SourceOutcome
}

// Failed counts the sources whose promotion failed.
func (b *BatchResult) Failed() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Status == BatchFailed {
			n++
		}
	}
	return n
}

// PromoteAll promotes the highest version of every source that is not already
// current. A failing source is reported and the rest are still attempted.
func (s *LVMService) PromoteAll(ctx context.Context, opts PromoteOptions) *BatchResult {
	batch := &BatchResult{}
	for _, src := range s.sources {
		if err := ctx.Err(); err != nil {
			batch.Outcomes = append(batch.Outcomes, SourceOutcome{SourceID: src.ID, Status: BatchFailed, Err: err})
			continue
		}
		batch.Outcomes = append(batch.Outcomes, s.promoteLatest(ctx, src, opts))
	}

	s.logger.Info("promote-all complete", "sources", len(batch.Outcomes), "failed", batch.Failed(), "dry_run", opts.DryRun)
	return batch
}

func (s *LVMService) promoteLatest(ctx context.Context, src *Source, opts PromoteOptions) SourceOutcome {
	out := SourceOutcome{SourceID: src.ID}

	latest, ok := s.registry.Latest(src.ID)
	if !ok {
		out.Status = BatchNoVersions
		return out
	}
	out.Token = latest.Token

	current, err := s.ledger.Current(ctx, src.ID)
	if err != nil {
		out.Status = BatchFailed
		out.Err = fmt.Errorf("reading current promotion: %w", err)
		return out
	}
	if current != nil && current.VersionNumber == latest.Number {
		s.logger.Debug("already current", "source", src.ID, "version", latest.Token)
		out.Status = BatchSkipped
		return out
	}

	res, err := s.Promote(ctx, src.ID, latest.Token, opts)
	out.Result = res
	if err != nil {
		out.Status = BatchFailed
		out.Err = err
		return out
	}
	out.Status = BatchPromoted
	return out
}
