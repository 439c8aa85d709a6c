package testutil

import (
	"errors"

	"lvm-go/internal/lvm"
	"lvm-go/internal/staging"
)

// NewTestStagingArea creates a directory staging area with two workers.
func NewTestStagingArea(fsmgr lvm.FilesystemManager) *staging.DirStagingArea {
	return staging.NewDirStagingArea(fsmgr, NewStubIDGenerator(), nil, 2)
}

// ErrInjectedSwap is returned by stages of a SwapFailingArea.
var ErrInjectedSwap = errors.New("injected swap failure")

// SwapFailingArea wraps a staging area so every Swap fails before touching
// the target, simulating a crash between stage and swap.
type SwapFailingArea struct {
	Inner lvm.StagingArea
}

var _ lvm.StagingArea = (*SwapFailingArea)(nil)

func (a *SwapFailingArea) Begin(target string) (lvm.Stage, error) {
	st, err := a.Inner.Begin(target)
	if err != nil {
		return nil, err
	}
	return &swapFailingStage{Stage: st}, nil
}

type swapFailingStage struct {
	lvm.Stage
}

func (s *swapFailingStage) Swap() error { return ErrInjectedSwap }
