package registry

import (
	"slices"
	"sync"

	"lvm-go/internal/lvm"
)

// MemoryRegistry is the process-wide cache of discovered versions. Each source
// has its own lock so a slow scan of one source never blocks readers of
// another.
type MemoryRegistry struct {
	mu      sync.Mutex
	sources map[string]*sourceVersions
}

type sourceVersions struct {
	mu         sync.RWMutex
	live       map[int]*lvm.Version
	superseded []*lvm.Version
}

var _ lvm.VersionRegistry = (*MemoryRegistry)(nil)

// New creates an empty registry.
func New() *MemoryRegistry {
	return &MemoryRegistry{sources: make(map[string]*sourceVersions)}
}

// entry returns the per-source state, creating it on first use.
func (r *MemoryRegistry) entry(sourceID string) *sourceVersions {
	r.mu.Lock()
	defer r.mu.Unlock()
	sv, ok := r.sources[sourceID]
	if !ok {
		sv = &sourceVersions{live: make(map[int]*lvm.Version)}
		r.sources[sourceID] = sv
	}
	return sv
}

func (r *MemoryRegistry) Versions(sourceID string) []*lvm.Version {
	sv := r.entry(sourceID)
	sv.mu.RLock()
	defer sv.mu.RUnlock()

	out := make([]*lvm.Version, 0, len(sv.live))
	for _, v := range sv.live {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *lvm.Version) int { return a.Number - b.Number })
	return out
}

func (r *MemoryRegistry) Version(sourceID string, number int) (*lvm.Version, bool) {
	sv := r.entry(sourceID)
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	v, ok := sv.live[number]
	return v, ok
}

func (r *MemoryRegistry) Latest(sourceID string) (*lvm.Version, bool) {
	sv := r.entry(sourceID)
	sv.mu.RLock()
	defer sv.mu.RUnlock()

	var best *lvm.Version
	for _, v := range sv.live {
		if best == nil || v.Number > best.Number {
			best = v
		}
	}
	return best, best != nil
}

func (r *MemoryRegistry) Superseded(sourceID string) []*lvm.Version {
	sv := r.entry(sourceID)
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return slices.Clone(sv.superseded)
}

// Update hands fn a copy of the live set, so fn may not observe its own
// partial changes through the registry.
func (r *MemoryRegistry) Update(sourceID string, fn func(current map[int]*lvm.Version) (map[int]*lvm.Version, []*lvm.Version)) {
	sv := r.entry(sourceID)
	sv.mu.Lock()
	defer sv.mu.Unlock()

	current := make(map[int]*lvm.Version, len(sv.live))
	for n, v := range sv.live {
		current[n] = v
	}
	next, superseded := fn(current)
	if next == nil {
		next = make(map[int]*lvm.Version)
	}
	sv.live = next
	sv.superseded = append(sv.superseded, superseded...)
}

// Sources lists the ids the registry has seen.
func (r *MemoryRegistry) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sources))
	for id := range r.sources {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
