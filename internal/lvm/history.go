package lvm

import (
	"context"
	"iter"
)

// History returns the ledger records of a source in admission order. The
// sequence is lazy and may be ranged over more than once.
func (s *LVMService) History(ctx context.Context, sourceID string) (iter.Seq2[*PromotionRecord, error], error) {
	if _, err := s.Source(sourceID); err != nil {
		return nil, err
	}
	return s.ledger.Query(ctx, sourceID), nil
}

// Current returns the record of the version currently promoted for a source.
func (s *LVMService) Current(ctx context.Context, sourceID string) (*PromotionRecord, error) {
	if _, err := s.Source(sourceID); err != nil {
		return nil, err
	}
	return s.ledger.Current(ctx, sourceID)
}
