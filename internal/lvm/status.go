package lvm

import (
	"context"
	"fmt"
)

// SourceStatus summarises one source for the status command.
type SourceStatus struct {
	Source       *Source
	Latest       *Version
	Current      *PromotionRecord
	VersionCount int
	Pending      int // interrupted swaps awaiting verification
}

// UpToDate reports whether the highest version is the promoted one.
func (st *SourceStatus) UpToDate() bool {
	return st.Latest != nil && st.Current != nil && st.Current.VersionNumber == st.Latest.Number
}

// Status reports, for every source, the newest discovered version and the
// version the ledger says is live.
func (s *LVMService) Status(ctx context.Context) ([]*SourceStatus, error) {
	out := make([]*SourceStatus, 0, len(s.sources))
	for _, src := range s.sources {
		st := &SourceStatus{Source: src, VersionCount: len(s.registry.Versions(src.ID))}
		if v, ok := s.registry.Latest(src.ID); ok {
			st.Latest = v
		}

		current, err := s.ledger.Current(ctx, src.ID)
		if err != nil {
			return nil, fmt.Errorf("reading current promotion for %s: %w", src.ID, err)
		}
		st.Current = current

		intents, err := s.ledger.PendingIntents(ctx, src.ID)
		if err != nil {
			return nil, fmt.Errorf("reading pending intents for %s: %w", src.ID, err)
		}
		st.Pending = len(intents)

		out = append(out, st)
	}
	return out, nil
}
