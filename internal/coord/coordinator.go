package coord

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"lvm-go/internal/lvm"
)

// DefaultWaitTimeout bounds how long an acquire waits for a conflicting holder.
const DefaultWaitTimeout = 30 * time.Second

const flockRetryDelay = 100 * time.Millisecond

// Coordinator hands out per-source locks in two classes: any number of scans
// together, or one promotion alone. A scan waits only while a promotion holds
// the lock; a waiting promotion does not hold back new scans.
type Coordinator struct {
	waitTimeout time.Duration
	lockDir     string
	logger      lvm.Logger

	mu      sync.Mutex
	sources map[string]*sourceLock
}

type sourceLock struct {
	scans     int
	promoting bool
	changed   chan struct{}
}

var _ lvm.Coordinator = (*Coordinator)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWaitTimeout sets the acquire wait bound. Zero or less waits until the
// context ends.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.waitTimeout = d }
}

// WithLockDir makes promotions also take a lock file in dir, shutting out
// other lvm processes working on the same project.
func WithLockDir(dir string) Option {
	return func(c *Coordinator) { c.lockDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l lvm.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		waitTimeout: DefaultWaitTimeout,
		logger:      lvm.NewNopLogger(),
		sources:     make(map[string]*sourceLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// source returns the lock state for id. Entries are never removed.
// Must be called with c.mu held.
func (c *Coordinator) source(id string) *sourceLock {
	sl, ok := c.sources[id]
	if !ok {
		sl = &sourceLock{changed: make(chan struct{})}
		c.sources[id] = sl
	}
	return sl
}

// broadcast wakes every waiter on sl. Must be called with c.mu held.
func (sl *sourceLock) broadcast() {
	close(sl.changed)
	sl.changed = make(chan struct{})
}

func (c *Coordinator) AcquireScan(ctx context.Context, sourceID string) (func(), error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	c.mu.Lock()
	sl := c.source(sourceID)
	for sl.promoting {
		if err := c.wait(ctx, sl, sourceID, "scan"); err != nil {
			return nil, err
		}
	}
	sl.scans++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			sl.scans--
			sl.broadcast()
			c.mu.Unlock()
		})
	}, nil
}

func (c *Coordinator) AcquirePromote(ctx context.Context, sourceID string) (func(), error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	c.mu.Lock()
	sl := c.source(sourceID)
	for sl.promoting || sl.scans > 0 {
		if err := c.wait(ctx, sl, sourceID, "promote"); err != nil {
			return nil, err
		}
	}
	sl.promoting = true
	c.mu.Unlock()

	releaseLocal := func() {
		c.mu.Lock()
		sl.promoting = false
		sl.broadcast()
		c.mu.Unlock()
	}

	fileLock, err := c.lockFile(ctx, sourceID)
	if err != nil {
		releaseLocal()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if fileLock != nil {
				if err := fileLock.Unlock(); err != nil {
					c.logger.Warn("releasing lock file", "source", sourceID, "path", fileLock.Path(), "error", err)
				}
			}
			releaseLocal()
		})
	}, nil
}

// wait blocks until sl changes or ctx ends. It is entered with c.mu held and
// returns with c.mu held on success and released on error.
func (c *Coordinator) wait(ctx context.Context, sl *sourceLock, sourceID, class string) error {
	ch := sl.changed
	c.mu.Unlock()
	select {
	case <-ch:
		c.mu.Lock()
		return nil
	case <-ctx.Done():
		return c.denied(ctx, sourceID, class)
	}
}

func (c *Coordinator) lockFile(ctx context.Context, sourceID string) (*flock.Flock, error) {
	if c.lockDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(c.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(c.lockDir, sourceID+".lock"))
	ok, err := fl.TryLockContext(ctx, flockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.denied(ctx, sourceID, "promote")
		}
		return nil, fmt.Errorf("acquiring lock file %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is locked by another process", lvm.ErrConcurrentAccessDenied, fl.Path())
	}
	return fl, nil
}

// denied turns an expired wait into ErrConcurrentAccessDenied. A cancellation
// by the caller is passed through unchanged.
func (c *Coordinator) denied(ctx context.Context, sourceID, class string) error {
	if ctx.Err() == context.DeadlineExceeded {
		c.logger.Warn("lock wait expired", "source", sourceID, "class", class, "timeout", c.waitTimeout)
		return fmt.Errorf("%w: %s lock on %s not granted within %s", lvm.ErrConcurrentAccessDenied, class, sourceID, c.waitTimeout)
	}
	return ctx.Err()
}

func (c *Coordinator) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.waitTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.waitTimeout)
}
