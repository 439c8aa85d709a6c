package lvm

import "io"

// Archive keeps off-site copies of a project's ledger. Items are streamed so
// large ledgers are never held in memory.
type Archive interface {
	// Put stores a named item for a project together with a version used to
	// detect a local ledger that fell behind. size is the byte count of r.
	Put(projectID, name string, r io.Reader, size int64, version int64) error

	// Get writes a stored item to w.
	Get(projectID, name string, w io.Writer) error

	// Version returns the stored version of an item, 0 when absent.
	Version(projectID, name string) (int64, error)

	// ValidateSetup checks that the archive is reachable.
	ValidateSetup() error
}

// Encryptor protects archived ledger snapshots. Encryption needs only the
// public key; decryption unlocks the private key with a passphrase.
type Encryptor interface {
	// Setup generates a key pair and stores the private half encrypted with
	// passphrase.
	Setup(passphrase string) error

	Encrypt(r io.Reader, w io.Writer) error

	// Unlock returns a DecryptionContext, or an error for a wrong passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key for one restore.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
