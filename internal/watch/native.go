package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// NativeBackend uses the operating system's notification facility through
// fsnotify. fsnotify watches single directories, so every directory down to
// the requested depth is added, including ones created later.
type NativeBackend struct{}

var _ Backend = NativeBackend{}

func NewNativeBackend() NativeBackend { return NativeBackend{} }

func (NativeBackend) Name() string { return KindNative }

func (NativeBackend) Subscribe(ctx context.Context, root string, depth int) (<-chan Event, <-chan error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := addTree(w, root, root, depth); err != nil {
		w.Close()
		return nil, nil, err
	}

	events := make(chan Event, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errs)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						// A failed add shows up as missed events, which the
						// rescan of this scope covers.
						_ = addTree(w, root, ev.Name, depth)
					}
				}
				select {
				case events <- Event{Path: ev.Name}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					// Lost events: a rescan of the whole root catches up.
					select {
					case events <- Event{Path: root}:
					case <-ctx.Done():
					}
					continue
				}
				select {
				case errs <- err:
				default:
				}
				return
			}
		}
	}()
	return events, errs, nil
}

// addTree watches dir and its subdirectories whose level below root is at
// most depth. Hidden directories are skipped.
func addTree(w *fsnotify.Watcher, root, dir string, depth int) error {
	level := levelBelow(root, dir)
	if level < 0 || level > depth {
		return nil
	}
	if err := w.Add(dir); err != nil {
		return err
	}
	if level == depth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := addTree(w, root, filepath.Join(dir, e.Name()), depth); err != nil {
			return err
		}
	}
	return nil
}

// levelBelow returns how many directories path is below root, or -1 when it
// is outside root.
func levelBelow(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return -1
	}
	if rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
