package staging

import (
	"lvm-go/internal/config"
	"lvm-go/internal/lvm"
)

// NewStagingAreaFromConfig creates the staging area used by promotions.
func NewStagingAreaFromConfig(cfg config.PromoteConfig, fsmgr lvm.FilesystemManager, idgen lvm.IDGenerator, logger lvm.Logger) lvm.StagingArea {
	return NewDirStagingArea(fsmgr, idgen, logger, cfg.Workers)
}
