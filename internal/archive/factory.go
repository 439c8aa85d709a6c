package archive

import (
	"context"
	"fmt"

	"lvm-go/internal/config"
	"lvm-go/internal/lvm"
)

// NewArchiveFromConfig creates an Archive implementation based on the config
// type. An empty type disables archiving and returns nil.
func NewArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig) (lvm.Archive, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryArchive(), nil
	case "s3":
		a, err := NewS3Archive(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_root to be set")
		}
		a, err := NewFileSystemArchive(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
