package testutil

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	lvmfs "lvm-go/internal/fs"
	"lvm-go/internal/lvm"
)

// FaultyFilesystem is the real filesystem with switches for conditions that
// are hard to produce on a test machine: a target on another volume, link
// modes the platform refuses, and files that fail to materialise.
type FaultyFilesystem struct {
	*lvmfs.OSFilesystemManager

	mu sync.Mutex
	// CrossVolume makes SameVolume report false.
	CrossVolume bool
	// ProbeErrors maps a link mode to the error ProbeLink returns for it.
	ProbeErrors map[lvm.LinkMode]error
	// FailLink makes Link fail for sources with this base name.
	FailLink string

	probes []lvm.LinkMode
}

var _ lvm.FilesystemManager = (*FaultyFilesystem)(nil)

func NewFaultyFilesystem() *FaultyFilesystem {
	return &FaultyFilesystem{
		OSFilesystemManager: lvmfs.NewOSFilesystemManager(),
		ProbeErrors:         make(map[lvm.LinkMode]error),
	}
}

// DenyPermission makes ProbeLink refuse mode as needing privileges, until
// Grant is called.
func (f *FaultyFilesystem) DenyPermission(mode lvm.LinkMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ProbeErrors[mode] = fmt.Errorf("probing %s: %w", mode, fs.ErrPermission)
}

// Grant clears any probe error for mode.
func (f *FaultyFilesystem) Grant(mode lvm.LinkMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ProbeErrors, mode)
}

// Probes returns the modes probed so far, in order.
func (f *FaultyFilesystem) Probes() []lvm.LinkMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lvm.LinkMode(nil), f.probes...)
}

func (f *FaultyFilesystem) SameVolume(a, b string) (bool, error) {
	if f.CrossVolume {
		return false, nil
	}
	return f.OSFilesystemManager.SameVolume(a, b)
}

func (f *FaultyFilesystem) ProbeLink(dir string, mode lvm.LinkMode) error {
	f.mu.Lock()
	f.probes = append(f.probes, mode)
	err := f.ProbeErrors[mode]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.OSFilesystemManager.ProbeLink(dir, mode)
}

func (f *FaultyFilesystem) Link(src, dst string, mode lvm.LinkMode) error {
	if f.FailLink != "" && filepath.Base(src) == f.FailLink {
		return fmt.Errorf("injected write failure for %s", src)
	}
	return f.OSFilesystemManager.Link(src, dst, mode)
}
