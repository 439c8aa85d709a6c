package lvm

import (
	"fmt"

	"lvm-go/internal/naming"
)

// Deps are the collaborators of an LVMService. Optional fields fall back to
// NoTimecode, DenyElevation, a NopLogger, RealClock and UUIDGenerator.
type Deps struct {
	Registry    VersionRegistry
	Ledger      Ledger
	Coordinator Coordinator
	Staging     StagingArea
	Filesystem  FilesystemManager
	Resolver    PathResolver
	Timecode    TimecodeReader
	Elevator    Elevator
	Logger      Logger
	Clock       Clock
	IDGen       IDGenerator
}

// LVMService is the engine behind every command: it scans sources into the
// registry, promotes versions into targets, and verifies targets against the
// ledger.
type LVMService struct {
	sources  []*Source
	byID     map[string]*Source
	parsers  map[string]*naming.Parser
	filters  map[string]*naming.KeywordFilter
	registry VersionRegistry
	ledger   Ledger
	coord    Coordinator
	staging  StagingArea
	fsmgr    FilesystemManager
	resolver PathResolver
	timecode TimecodeReader
	elevator Elevator
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewLVMService validates the sources and wires the collaborators.
func NewLVMService(sources []*Source, deps Deps) (*LVMService, error) {
	if deps.Registry == nil || deps.Ledger == nil || deps.Coordinator == nil || deps.Staging == nil || deps.Filesystem == nil {
		return nil, fmt.Errorf("registry, ledger, coordinator, staging and filesystem are required")
	}

	s := &LVMService{
		byID:     make(map[string]*Source, len(sources)),
		parsers:  make(map[string]*naming.Parser, len(sources)),
		filters:  make(map[string]*naming.KeywordFilter, len(sources)),
		registry: deps.Registry,
		ledger:   deps.Ledger,
		coord:    deps.Coordinator,
		staging:  deps.Staging,
		fsmgr:    deps.Filesystem,
		resolver: deps.Resolver,
		timecode: deps.Timecode,
		elevator: deps.Elevator,
		logger:   deps.Logger,
		clock:    deps.Clock,
		idgen:    deps.IDGen,
	}
	if s.timecode == nil {
		s.timecode = NoTimecode{}
	}
	if s.elevator == nil {
		s.elevator = DenyElevation{}
	}
	if s.logger == nil {
		s.logger = NewNopLogger()
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.idgen == nil {
		s.idgen = UUIDGenerator{}
	}

	for _, src := range sources {
		if src.ID == "" {
			return nil, fmt.Errorf("source %q has no id", src.Name)
		}
		if _, dup := s.byID[src.ID]; dup {
			return nil, fmt.Errorf("duplicate source id: %s", src.ID)
		}
		if src.Depth <= 0 {
			src.Depth = DefaultDepth
		}
		if src.LinkMode == "" {
			src.LinkMode = LinkCopy
		}
		p, err := naming.NewParser(src.Convention)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.ID, err)
		}
		s.sources = append(s.sources, src)
		s.byID[src.ID] = src
		s.parsers[src.ID] = p
		s.filters[src.ID] = naming.NewKeywordFilter(src.Include, src.Exclude)
	}
	return s, nil
}

// Sources returns the configured sources in project order.
func (s *LVMService) Sources() []*Source {
	return s.sources
}

// Source looks up a source by id.
func (s *LVMService) Source(id string) (*Source, error) {
	src, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return src, nil
}

// Versions returns the registry's live versions of a source.
func (s *LVMService) Versions(sourceID string) ([]*Version, error) {
	if _, err := s.Source(sourceID); err != nil {
		return nil, err
	}
	return s.registry.Versions(sourceID), nil
}

// FindVersion resolves a token such as "v3" or "v003" against the registry.
func (s *LVMService) FindVersion(sourceID, token string) (*Version, error) {
	if _, err := s.Source(sourceID); err != nil {
		return nil, err
	}
	n, err := s.parsers[sourceID].ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVersionNotFound, err)
	}
	v, ok := s.registry.Version(sourceID, n)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrVersionNotFound, sourceID, token)
	}
	return v, nil
}

// resolvePath expands template tokens when a resolver is configured.
func (s *LVMService) resolvePath(template string, src *Source) string {
	if s.resolver == nil {
		return template
	}
	return s.resolver.Resolve(template, src)
}
