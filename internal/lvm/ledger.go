package lvm

import (
	"context"
	"iter"
)

// Ledger is the durable, append-only history of promotion attempts.
// Current state is always derived from it, never stored beside it.
type Ledger interface {
	// Append durably stores r and assigns r.Seq. The intent with r.ID, if any,
	// is removed in the same transaction.
	Append(ctx context.Context, r *PromotionRecord) error

	// Query yields the records of a source in admission order. Every range
	// over the returned sequence starts again from the first record.
	Query(ctx context.Context, sourceID string) iter.Seq2[*PromotionRecord, error]

	// Latest returns the most recent record of any outcome, or nil.
	Latest(ctx context.Context, sourceID string) (*PromotionRecord, error)

	// Current returns the most recent successful record, or nil.
	Current(ctx context.Context, sourceID string) (*PromotionRecord, error)

	// RecordIntent notes that a swap is about to happen.
	RecordIntent(ctx context.Context, in *PromotionIntent) error

	// PendingIntents lists intents never closed by an Append.
	PendingIntents(ctx context.Context, sourceID string) ([]*PromotionIntent, error)

	// MaxSeq returns the highest record sequence number, 0 when empty.
	MaxSeq(ctx context.Context) (int64, error)

	// BackupTo writes a consistent copy of the ledger to path.
	BackupTo(path string) error

	Close() error
}
