package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event reports that something changed at Path, an absolute path below a
// subscribed root.
type Event struct {
	Path string
}

// Backend delivers change notifications for a directory tree.
type Backend interface {
	Name() string

	// Subscribe watches root and the directories below it down to depth
	// levels. Both channels are closed when ctx is done. A value on the error
	// channel means the subscription can no longer be trusted.
	Subscribe(ctx context.Context, root string, depth int) (<-chan Event, <-chan error, error)
}

// Backend kinds accepted by NewBackend.
const (
	KindAuto   = "auto"
	KindNative = "native"
	KindPoll   = "poll"
)

// DefaultPollInterval is used when a poll backend is created without one.
const DefaultPollInterval = 5 * time.Second

// NewBackend selects a backend by probing what the platform offers. "auto"
// falls back to polling when native notification cannot be initialised;
// "native" reports that as an error.
func NewBackend(kind string, pollInterval time.Duration) (Backend, error) {
	switch kind {
	case KindPoll:
		return NewPollBackend(pollInterval), nil
	case KindNative, KindAuto, "":
		err := probeNative()
		if err == nil {
			return NewNativeBackend(), nil
		}
		if kind == KindNative {
			return nil, fmt.Errorf("native file notification unavailable: %w", err)
		}
		return NewPollBackend(pollInterval), nil
	default:
		return nil, fmt.Errorf("unknown watch backend: %q", kind)
	}
}

func probeNative() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	return w.Close()
}
