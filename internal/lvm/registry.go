package lvm

import "context"

// VersionRegistry is the in-memory cache of discovered versions. Only scans
// mutate it.
type VersionRegistry interface {
	// Versions returns the live versions of a source ordered by number.
	Versions(sourceID string) []*Version

	// Version looks up one live version by number.
	Version(sourceID string, number int) (*Version, bool)

	// Latest returns the highest-numbered live version.
	Latest(sourceID string) (*Version, bool)

	// Superseded returns earlier revisions replaced by rescans, oldest first.
	Superseded(sourceID string) []*Version

	// Update runs fn with the live versions of a source while holding the
	// registry's write lock. fn returns the new live set and the versions it
	// replaced.
	Update(sourceID string, fn func(current map[int]*Version) (next map[int]*Version, superseded []*Version))
}

// Coordinator gates scans, verification and promotions per source. Scans share
// the lock with each other; a promotion holds it alone.
type Coordinator interface {
	AcquireScan(ctx context.Context, sourceID string) (release func(), err error)
	AcquirePromote(ctx context.Context, sourceID string) (release func(), err error)
}
