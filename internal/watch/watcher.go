package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lvm-go/internal/lvm"
)

// DefaultDebounce coalesces bursts of events, such as a render writing
// hundreds of frames, into one rescan.
const DefaultDebounce = 2 * time.Second

// MaxRetryDelay caps the backoff between attempts to rescan a scope whose
// last rescan failed.
const MaxRetryDelay = time.Minute

// Scanner rescans part of a source. LVMService satisfies it; the scan takes
// the source's shared lock, so it waits out an in-flight promotion.
type Scanner interface {
	Scan(ctx context.Context, sourceID, scope string) (*lvm.ScanResult, error)
}

// ChangeEvent is published after a rescan changed the registry.
type ChangeEvent struct {
	SourceID string
	Scope    string
	Added    []string
	Removed  []string
	Updated  []string
	At       time.Time
}

// Watcher keeps the registry live by rescanning the part of a source that
// changed on disk.
type Watcher struct {
	scanner  Scanner
	sources  []*lvm.Source
	backend  Backend
	fallback Backend
	debounce time.Duration
	logger   lvm.Logger
	clock    lvm.Clock

	mu   sync.Mutex
	subs map[int]chan ChangeEvent
	next int
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFallback sets the backend a source degrades to when its primary
// subscription fails.
func WithFallback(b Backend) Option {
	return func(w *Watcher) { w.fallback = b }
}

func WithLogger(l lvm.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

func WithClock(c lvm.Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// New creates a watcher for sources. The fallback defaults to polling.
func New(scanner Scanner, sources []*lvm.Source, backend Backend, opts ...Option) *Watcher {
	w := &Watcher{
		scanner:  scanner,
		sources:  sources,
		backend:  backend,
		debounce: DefaultDebounce,
		logger:   lvm.NewNopLogger(),
		clock:    lvm.RealClock{},
		subs:     make(map[int]chan ChangeEvent),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.fallback == nil {
		w.fallback = NewPollBackend(DefaultPollInterval)
	}
	return w
}

// Subscribe returns a channel of change events and a function that ends the
// subscription. A subscriber that falls behind misses events rather than
// stalling the watcher.
func (w *Watcher) Subscribe(buffer int) (<-chan ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ChangeEvent, buffer)

	w.mu.Lock()
	id := w.next
	w.next++
	w.subs[id] = ch
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if c, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(c)
			}
		})
	}
}

func (w *Watcher) publish(ev ChangeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			w.logger.Warn("subscriber behind, dropping change event", "source", ev.SourceID)
		}
	}
}

// Run watches every source until ctx is cancelled. It returns an error only
// when no source could be watched at all.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.closeSubscribers()

	var wg sync.WaitGroup
	started := 0
	for _, src := range w.sources {
		subCtx, cancel := context.WithCancel(ctx)
		events, errs, backend, err := w.subscribe(subCtx, src)
		if err != nil {
			cancel()
			w.logger.Error("cannot watch source", "source", src.ID, "root", src.Root, "error", err)
			continue
		}
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.watchSource(ctx, src, &subscription{events: events, errs: errs, backend: backend, cancel: cancel})
		}()
	}
	if started == 0 && len(w.sources) > 0 {
		return fmt.Errorf("no source could be watched")
	}

	w.logger.Info("watching sources", "sources", started, "backend", w.backend.Name())
	wg.Wait()
	return nil
}

// closeSubscribers ends every subscription once Run returns.
func (w *Watcher) closeSubscribers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}

type subscription struct {
	events  <-chan Event
	errs    <-chan error
	backend Backend
	cancel  context.CancelFunc
}

// subscribe tries the primary backend, then the fallback.
func (w *Watcher) subscribe(ctx context.Context, src *lvm.Source) (<-chan Event, <-chan error, Backend, error) {
	events, errs, err := w.backend.Subscribe(ctx, src.Root, depthOf(src))
	if err == nil {
		return events, errs, w.backend, nil
	}
	if w.fallback.Name() == w.backend.Name() {
		return nil, nil, nil, err
	}
	w.logger.Warn("watch backend unavailable, polling instead", "source", src.ID, "backend", w.backend.Name(), "error", err)
	events, errs, err = w.fallback.Subscribe(ctx, src.Root, depthOf(src))
	if err != nil {
		return nil, nil, nil, err
	}
	return events, errs, w.fallback, nil
}

func (w *Watcher) watchSource(ctx context.Context, src *lvm.Source, sub *subscription) {
	defer func() { sub.cancel() }()

	done := make(chan struct{})
	defer close(done)
	q := &scanQueue{
		done:     done,
		fire:     make(chan firing),
		pending:  make(map[string]pendingScan),
		failures: make(map[string]int),
	}
	defer q.stop()

	// degrade replaces a failed subscription with the fallback backend.
	degrade := func(reason error) bool {
		if sub.backend.Name() == w.fallback.Name() {
			w.logger.Error("watch subscription lost", "source", src.ID, "backend", sub.backend.Name(), "error", reason)
			return false
		}
		w.logger.Warn("watch backend failed, polling instead", "source", src.ID, "backend", sub.backend.Name(), "error", reason)
		sub.cancel()
		subCtx, cancel := context.WithCancel(ctx)
		events, errs, err := w.fallback.Subscribe(subCtx, src.Root, depthOf(src))
		if err != nil {
			cancel()
			w.logger.Error("cannot poll source", "source", src.ID, "error", err)
			return false
		}
		sub = &subscription{events: events, errs: errs, backend: w.fallback, cancel: cancel}
		// Changes may have been missed while the backend was failing.
		q.schedule("", w.debounce)
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-sub.events:
			if !ok {
				if ctx.Err() != nil || !degrade(fmt.Errorf("event stream closed")) {
					return
				}
				continue
			}
			scope, ok := scopeOf(src.Root, ev.Path)
			if !ok {
				continue
			}
			q.schedule(scope, w.debounce)

		case err, ok := <-sub.errs:
			if !ok {
				sub.errs = nil
				continue
			}
			if !degrade(err) {
				return
			}

		case f := <-q.fire:
			if !q.take(f) {
				continue
			}
			if err := w.rescan(ctx, src, f.scope); err != nil {
				if ctx.Err() != nil {
					return
				}
				delay := q.failed(f.scope, w.debounce)
				w.logger.Warn("rescan failed, retrying", "source", src.ID, "scope", f.scope, "in", delay, "error", err)
				q.schedule(f.scope, delay)
				continue
			}
			delete(q.failures, f.scope)
		}
	}
}

type firing struct {
	scope string
	gen   uint64
}

type pendingScan struct {
	timer *time.Timer
	gen   uint64
}

// scanQueue holds the pending rescans of one source. It is owned by the
// source's watch loop. Each timer carries a generation, so a timer that fires
// after being replaced is recognised and dropped.
type scanQueue struct {
	done     <-chan struct{}
	fire     chan firing
	pending  map[string]pendingScan
	failures map[string]int
	gen      uint64
}

// schedule (re)starts the timer of a scope. A full-root scope replaces every
// pending narrower one.
func (q *scanQueue) schedule(scope string, delay time.Duration) {
	if _, full := q.pending[""]; full {
		scope = ""
	}
	if scope == "" {
		for k, p := range q.pending {
			if k != "" {
				p.timer.Stop()
				delete(q.pending, k)
			}
		}
	}
	if p, ok := q.pending[scope]; ok {
		p.timer.Stop()
	}

	q.gen++
	f := firing{scope: scope, gen: q.gen}
	q.pending[scope] = pendingScan{
		gen: f.gen,
		timer: time.AfterFunc(delay, func() {
			select {
			case q.fire <- f:
			case <-q.done:
			}
		}),
	}
}

// take claims a fired timer. It reports false for a timer that was replaced
// or cancelled after it fired.
func (q *scanQueue) take(f firing) bool {
	p, ok := q.pending[f.scope]
	if !ok || p.gen != f.gen {
		return false
	}
	delete(q.pending, f.scope)
	return true
}

// failed counts a failed rescan of scope and returns the delay before the
// next attempt. The delay doubles from base up to MaxRetryDelay.
func (q *scanQueue) failed(scope string, base time.Duration) time.Duration {
	q.failures[scope]++
	delay := base
	for i := 0; i < q.failures[scope] && delay < MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, MaxRetryDelay)
}

func (q *scanQueue) stop() {
	for _, p := range q.pending {
		p.timer.Stop()
	}
}

func (w *Watcher) rescan(ctx context.Context, src *lvm.Source, scope string) error {
	res, err := w.scanner.Scan(ctx, src.ID, scope)
	if err != nil {
		return err
	}
	if !res.Changed() {
		return nil
	}
	w.logger.Info("rescan found changes", "source", src.ID, "scope", scope,
		"added", res.Added, "removed", res.Removed, "updated", res.Updated)
	w.publish(ChangeEvent{
		SourceID: src.ID,
		Scope:    scope,
		Added:    res.Added,
		Removed:  res.Removed,
		Updated:  res.Updated,
		At:       w.clock.Now(),
	})
	return nil
}

// scopeOf maps an event path to the first path segment below root. Hidden
// entries, such as stage directories, are ignored.
func scopeOf(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if strings.HasPrefix(first, ".") {
		return "", false
	}
	return first, true
}

func depthOf(src *lvm.Source) int {
	if src.Depth > 0 {
		return src.Depth
	}
	return lvm.DefaultDepth
}
