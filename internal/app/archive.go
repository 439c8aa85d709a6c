package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"lvm-go/internal/archive"
	"lvm-go/internal/config"
	"lvm-go/internal/encryption"
	"lvm-go/internal/ledger"
	"lvm-go/internal/lvm"
	"lvm-go/internal/project"
)

// LedgerItem is the archive item name of a project's ledger snapshot.
const LedgerItem = "ledger"

// archiveLedger snapshots the ledger, encrypts the snapshot and uploads it
// with the ledger's max seq as version.
func (a *LVMApp) archiveLedger(ctx context.Context) error {
	seq, err := a.ledger.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("reading ledger version: %w", err)
	}

	snapshot, err := tempPath("lvm-ledger-snapshot-*.db")
	if err != nil {
		return err
	}
	defer os.Remove(snapshot)
	if err := a.ledger.BackupTo(snapshot); err != nil {
		return fmt.Errorf("snapshotting ledger: %w", err)
	}

	encrypted, err := os.CreateTemp("", "lvm-ledger-snapshot-*.age")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(encrypted.Name())
	defer encrypted.Close()

	in, err := os.Open(snapshot)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	err = a.encryptor.Encrypt(in, encrypted)
	in.Close()
	if err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}

	size, err := encrypted.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("sizing snapshot: %w", err)
	}
	if _, err := encrypted.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding snapshot: %w", err)
	}
	if err := a.archive.Put(a.projectID, LedgerItem, encrypted, size, seq); err != nil {
		return fmt.Errorf("uploading ledger snapshot: %w", err)
	}
	a.logger.Info("ledger archived", "project", a.projectID, "version", seq, "bytes", size)
	return nil
}

// RestoreOptions control RestoreLedger.
type RestoreOptions struct {
	Passphrase string

	// Force replaces a local ledger that holds more records than the archive.
	Force bool
}

// RestoreLedger replaces a project's local sqlite ledger with the archived
// snapshot. It returns the restored ledger's max seq.
func RestoreLedger(ctx context.Context, cfg *config.Config, projectPath string, opts RestoreOptions) (int64, error) {
	if cfg.Ledger.Type != "sqlite" {
		return 0, fmt.Errorf("restore needs a sqlite ledger, configured type is %q", cfg.Ledger.Type)
	}
	p, err := project.Load(projectPath)
	if err != nil {
		return 0, fmt.Errorf("loading project: %w", err)
	}
	projectID := ProjectKey(p)

	arch, err := archive.NewArchiveFromConfig(ctx, cfg.Archive)
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}
	if arch == nil {
		return 0, fmt.Errorf("no archive configured")
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating encryptor: %w", err)
	}
	dec, err := enc.Unlock(opts.Passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking key: %w", err)
	}

	if err := os.MkdirAll(cfg.Ledger.DataDir, 0o755); err != nil {
		return 0, fmt.Errorf("creating ledger dir: %w", err)
	}
	dest := ledger.PathFor(cfg.Ledger, projectID)

	// Decrypted beside the ledger so the rename stays on one volume.
	staged, err := os.CreateTemp(cfg.Ledger.DataDir, ".lvm-restore-*.db")
	if err != nil {
		return 0, fmt.Errorf("creating restore file: %w", err)
	}
	stagedPath := staged.Name()
	defer os.Remove(stagedPath)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(arch.Get(projectID, LedgerItem, pw))
	}()
	err = dec.Decrypt(pr, staged)
	pr.CloseWithError(err)
	if cerr := staged.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("fetching ledger snapshot: %w", err)
	}

	restoredSeq, err := checkSnapshot(ctx, stagedPath)
	if err != nil {
		return 0, err
	}
	if !opts.Force {
		localSeq, err := localMaxSeq(ctx, dest)
		if err != nil {
			return 0, err
		}
		if localSeq > restoredSeq {
			return 0, fmt.Errorf("local ledger is ahead of the archive (local=%d, archive=%d): use --force to replace it", localSeq, restoredSeq)
		}
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dest + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("removing %s: %w", dest+suffix, err)
		}
	}
	if err := os.Rename(stagedPath, dest); err != nil {
		return 0, fmt.Errorf("installing ledger: %w", err)
	}
	return restoredSeq, nil
}

// checkSnapshot opens a restored ledger file and returns its max seq. A file
// whose schema does not match the binary is rejected.
func checkSnapshot(ctx context.Context, path string) (int64, error) {
	l, err := ledger.NewSQLiteLedger(path)
	if err != nil {
		return 0, fmt.Errorf("opening snapshot: %w", err)
	}
	defer l.Close()
	if err := l.CheckMigrations(); err != nil {
		return 0, fmt.Errorf("snapshot schema: %w", err)
	}
	return l.MaxSeq(ctx)
}

func localMaxSeq(ctx context.Context, path string) (int64, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return checkSnapshot(ctx, path)
}

// SetupEncryption generates the key pair used for archived ledgers.
func SetupEncryption(cfg *config.Config, passphrase string) (lvm.Encryptor, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if err := enc.Setup(passphrase); err != nil {
		return nil, fmt.Errorf("setting up keys: %w", err)
	}
	return enc, nil
}

// tempPath reserves an empty temp file name. VACUUM INTO accepts an empty
// destination file.
func tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return name, nil
}

// ArchiveStatus reports the archived and local ledger versions of a project.
func ArchiveStatus(ctx context.Context, cfg *config.Config, projectPath string) (archived, local int64, err error) {
	p, err := project.Load(projectPath)
	if err != nil {
		return 0, 0, fmt.Errorf("loading project: %w", err)
	}
	arch, err := archive.NewArchiveFromConfig(ctx, cfg.Archive)
	if err != nil {
		return 0, 0, fmt.Errorf("creating archive: %w", err)
	}
	if arch == nil {
		return 0, 0, fmt.Errorf("no archive configured")
	}
	if err := arch.ValidateSetup(); err != nil {
		return 0, 0, fmt.Errorf("archive unreachable: %w", err)
	}
	if archived, err = arch.Version(ProjectKey(p), LedgerItem); err != nil {
		return 0, 0, fmt.Errorf("reading archived version: %w", err)
	}
	if cfg.Ledger.Type == "sqlite" {
		if local, err = localMaxSeq(ctx, ledger.PathFor(cfg.Ledger, ProjectKey(p))); err != nil {
			return 0, 0, err
		}
	}
	return archived, local, nil
}
