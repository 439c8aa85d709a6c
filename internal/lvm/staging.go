package lvm

import "context"

// Placement is one file to materialise in a stage.
type Placement struct {
	Source string // absolute path of the version file
	Dest   string // path relative to the target
	Size   int64
}

// StagingArea creates stages beside promotion targets.
type StagingArea interface {
	// Begin creates an empty stage for target. The stage lives in target's
	// parent so the swap is a rename on one volume.
	Begin(target string) (Stage, error)
}

// Stage is a temporary directory that becomes the target on Swap.
type Stage interface {
	Dir() string

	// Place materialises files using mode. It stops between files when ctx is
	// done. Errors wrap ErrStageWriteFailed and carry the file in a FileError.
	Place(ctx context.Context, files []Placement, mode LinkMode) error

	// Swap replaces the target with the stage. On failure the previous target
	// is left, or put back, in place.
	Swap() error

	// Discard removes the stage. It is safe to call after Swap.
	Discard() error
}
