package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"lvm-go/internal/config"
	"lvm-go/internal/ledger/migrations"
)

// NewLedgerFromConfig opens the ledger of a project. A new sqlite ledger and
// every memory ledger are migrated; an existing sqlite ledger must already be
// at the binary's schema version.
func NewLedgerFromConfig(cfg config.LedgerConfig, projectID string) (*SQLiteLedger, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite ledger")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger dir: %w", err)
		}
		return openChecked(PathFor(cfg, projectID))
	case "memory":
		l, err := NewSQLiteLedger(memoryPath)
		if err != nil {
			return nil, err
		}
		if err := l.Migrate(); err != nil {
			l.Close()
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown ledger type: %s", cfg.Type)
	}
}

// PathFor returns the file a sqlite ledger config uses for a project.
func PathFor(cfg config.LedgerConfig, projectID string) string {
	return filepath.Join(cfg.DataDir, projectID+".db")
}

func openChecked(path string) (*SQLiteLedger, error) {
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, fs.ErrNotExist)

	l, err := NewSQLiteLedger(path)
	if err != nil {
		return nil, err
	}

	err = l.CheckMigrations()
	if fresh && errors.Is(err, migrations.ErrNeedsMigration) {
		err = l.Migrate()
	}
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("ledger %s: %w", path, err)
	}
	return l, nil
}
