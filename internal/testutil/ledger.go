package testutil

import (
	"testing"

	"lvm-go/internal/archive"
	"lvm-go/internal/config"
	"lvm-go/internal/encryption"
	"lvm-go/internal/ledger"
)

// NewTestLedger creates an in-memory ledger with migrations applied. It is
// closed when the test completes.
func NewTestLedger(t *testing.T) *ledger.SQLiteLedger {
	t.Helper()

	l, err := ledger.NewLedgerFromConfig(config.LedgerConfig{Type: "memory"}, "test")
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// NewTestArchive creates an in-memory archive.
func NewTestArchive() *archive.MemoryArchive {
	return archive.NewMemoryArchive()
}

// NewTestEncryptor creates an encryptor that marks instead of encrypting.
func NewTestEncryptor() *encryption.MarkerEncryptor {
	return encryption.NewMarkerEncryptor()
}
