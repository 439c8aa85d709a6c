package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PollBackend compares periodic snapshots of the tree. It works everywhere,
// including network shares that deliver no notifications.
type PollBackend struct {
	interval time.Duration
}

var _ Backend = (*PollBackend)(nil)

func NewPollBackend(interval time.Duration) *PollBackend {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollBackend{interval: interval}
}

func (b *PollBackend) Name() string { return KindPoll }

type entryState struct {
	size    int64
	modTime time.Time
	dir     bool
}

func (b *PollBackend) Subscribe(ctx context.Context, root string, depth int) (<-chan Event, <-chan error, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, nil, err
	}
	prev := snapshot(root, depth)

	events := make(chan Event, 64)
	errs := make(chan error)
	go func() {
		defer close(events)
		defer close(errs)

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			next := snapshot(root, depth)
			for _, p := range diff(prev, next) {
				select {
				case events <- Event{Path: p}:
				case <-ctx.Done():
					return
				}
			}
			prev = next
		}
	}()
	return events, errs, nil
}

// snapshot records every entry down to depth levels below root, plus the
// files inside directories at that level. Unreadable directories are left
// out and show up as removals.
func snapshot(root string, depth int) map[string]entryState {
	out := make(map[string]entryState)
	var walk func(dir string, level int)
	walk = func(dir string, level int) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			p := filepath.Join(dir, e.Name())
			out[p] = entryState{size: info.Size(), modTime: info.ModTime(), dir: e.IsDir()}
			if e.IsDir() && level < depth {
				walk(p, level+1)
			}
		}
	}
	walk(root, 0)
	return out
}

// diff lists paths that appeared, disappeared or changed between snapshots.
func diff(prev, next map[string]entryState) []string {
	var out []string
	for p, st := range next {
		old, ok := prev[p]
		if !ok || (!st.dir && (old.size != st.size || !old.modTime.Equal(st.modTime))) || old.dir != st.dir {
			out = append(out, p)
		}
	}
	for p := range prev {
		if _, ok := next[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}
