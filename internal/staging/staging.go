package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"lvm-go/internal/lvm"
)

// DefaultWorkers is the number of files placed in parallel.
const DefaultWorkers = 4

// DirStagingArea stages promotions in hidden directories beside their
// targets. Placement goes through the FilesystemManager so link modes and
// failures can be simulated in tests.
type DirStagingArea struct {
	fsmgr   lvm.FilesystemManager
	idgen   lvm.IDGenerator
	logger  lvm.Logger
	workers int

	// rename is os.Rename outside of tests.
	rename func(oldpath, newpath string) error
}

var _ lvm.StagingArea = (*DirStagingArea)(nil)

// NewDirStagingArea creates a staging area placing up to workers files at once.
func NewDirStagingArea(fsmgr lvm.FilesystemManager, idgen lvm.IDGenerator, logger lvm.Logger, workers int) *DirStagingArea {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if idgen == nil {
		idgen = lvm.UUIDGenerator{}
	}
	if logger == nil {
		logger = lvm.NewNopLogger()
	}
	return &DirStagingArea{
		fsmgr:   fsmgr,
		idgen:   idgen,
		logger:  logger,
		workers: workers,
		rename:  os.Rename,
	}
}

// Begin creates .<target>.lvm-stage-<id> in the target's parent.
func (a *DirStagingArea) Begin(target string) (lvm.Stage, error) {
	target = filepath.Clean(target)
	parent, name := filepath.Dir(target), filepath.Base(target)
	id := a.idgen.New()

	dir := filepath.Join(parent, fmt.Sprintf(".%s.lvm-stage-%s", name, id))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating stage dir: %w", err)
	}
	return &dirStage{
		area:   a,
		id:     id,
		dir:    dir,
		target: target,
		old:    filepath.Join(parent, fmt.Sprintf(".%s.lvm-old-%s", name, id)),
	}, nil
}

type dirStage struct {
	area   *DirStagingArea
	id     string
	dir    string
	target string
	old    string

	mu      sync.Mutex
	swapped bool
}

func (s *dirStage) Dir() string { return s.dir }

// Place links or copies files into the stage on a bounded worker pool. The
// first failure stops files not yet started.
func (s *dirStage) Place(ctx context.Context, files []lvm.Placement, mode lvm.LinkMode) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.area.workers)

	for _, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dst := filepath.Join(s.dir, filepath.FromSlash(f.Dest))
			if err := s.area.fsmgr.Link(f.Source, dst, mode); err != nil {
				return &lvm.FileError{Path: f.Dest, Err: fmt.Errorf("%w: %v", lvm.ErrStageWriteFailed, err)}
			}
			return nil
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Swap moves the live target aside, renames the stage into place, then
// removes the old target. If the stage cannot be renamed the old target is
// moved back and the error wraps ErrRolledBack.
func (s *dirStage) Swap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.swapped {
		return fmt.Errorf("stage %s already swapped", s.id)
	}

	hadTarget := true
	if _, err := os.Lstat(s.target); errors.Is(err, os.ErrNotExist) {
		hadTarget = false
	} else if err != nil {
		return fmt.Errorf("stat target: %w", err)
	}

	if hadTarget {
		if err := s.area.rename(s.target, s.old); err != nil {
			return fmt.Errorf("moving live target aside: %w", err)
		}
	}

	if err := s.area.rename(s.dir, s.target); err != nil {
		if !hadTarget {
			return fmt.Errorf("renaming stage into place: %w", err)
		}
		if rerr := s.area.rename(s.old, s.target); rerr != nil {
			return fmt.Errorf("renaming stage into place: %w; restoring previous target from %s: %v", err, s.old, rerr)
		}
		return fmt.Errorf("%w: renaming stage into place: %v", lvm.ErrRolledBack, err)
	}
	s.swapped = true

	if hadTarget {
		if err := os.RemoveAll(s.old); err != nil {
			s.area.logger.Warn("removing previous target", "path", s.old, "error", err)
		}
	}
	return nil
}

// Discard removes the stage directory unless it has become the target.
func (s *dirStage) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.swapped {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("removing stage: %w", err)
	}
	return nil
}
