package lvm

import (
	"fmt"
	"strings"
	"time"

	"lvm-go/internal/naming"
)

// LinkMode is the strategy used to materialise promoted files.
type LinkMode string

const (
	LinkCopy     LinkMode = "copy"
	LinkSymlink  LinkMode = "symlink"
	LinkHardlink LinkMode = "hardlink"
)

// linkFallback is the order in which modes are tried. A request starts at its
// own position and only moves right.
var linkFallback = []LinkMode{LinkSymlink, LinkHardlink, LinkCopy}

// ParseLinkMode validates s. An empty string selects copy.
func ParseLinkMode(s string) (LinkMode, error) {
	switch m := LinkMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return LinkCopy, nil
	case LinkCopy, LinkSymlink, LinkHardlink:
		return m, nil
	default:
		return "", fmt.Errorf("unknown link mode: %q", s)
	}
}

// FallbackChain returns the modes to try for a request, in order.
func (m LinkMode) FallbackChain() []LinkMode {
	for i, mode := range linkFallback {
		if mode == m {
			return linkFallback[i:]
		}
	}
	return []LinkMode{LinkCopy}
}

// Source is a logical versioned asset as configured in the project.
type Source struct {
	ID               string
	Name             string
	Root             string
	Target           string
	Include          []string
	Exclude          []string
	Depth            int
	GroupID          string
	Task             string
	LinkMode         LinkMode
	RenameTemplate   string
	HashContent      bool
	StrictDivergence bool
	Convention       naming.Convention
}

// DefaultDepth is used when a source does not set a scan depth.
const DefaultDepth = 2

// Group collects sources that share path-template tokens.
type Group struct {
	ID   string
	Name string
	Root string
}

// TimecodeInfo is what the timecode collaborator reports for a file.
type TimecodeInfo struct {
	Present bool
	Value   string
}

func (t TimecodeInfo) String() string {
	if !t.Present {
		return "-"
	}
	return t.Value
}

// FileEntry is one physical file of a Version. Entries are replaced, never
// mutated, when the file changes on disk.
type FileEntry struct {
	RelPath string // relative to the source root, slash separated
	Size    int64
	ModTime time.Time
	Hash    string
	Name    naming.Parsed
	Number  int    // version the file belongs to
	Origin  string // relative directory the version was discovered in
}

// Frame returns the entry's frame number and whether it has one.
func (f FileEntry) Frame() (int, bool) {
	return f.Name.Frame, f.Name.HasFrame
}

// Version is one discovered version of a Source.
type Version struct {
	SourceID     string
	Token        string
	Number       int
	Path         string // absolute directory holding the version's files
	Folder       bool   // true when Path is a version folder
	Files        []FileEntry
	Frames       *naming.FrameRange
	Timecode     TimecodeInfo
	DiscoveredAt time.Time
	Fingerprint  string
	Revision     int
}

// TotalSize sums the sizes of all files.
func (v *Version) TotalSize() int64 {
	var n int64
	for _, f := range v.Files {
		n += f.Size
	}
	return n
}

// Outcome is the result of a promotion attempt.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeRolledBack Outcome = "rolled-back"
	OutcomeFailed     Outcome = "failed"
)

// ManifestEntry describes one file written to a target.
type ManifestEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash,omitempty"`
}

// PromotionRecord is an immutable ledger entry.
type PromotionRecord struct {
	Seq               int64
	ID                string
	SourceID          string
	VersionToken      string
	VersionNumber     int
	Fingerprint       string
	PromotedAt        time.Time
	Actor             string
	LinkModeRequested LinkMode
	LinkModeUsed      LinkMode
	Frames            *naming.FrameRange
	Timecode          TimecodeInfo
	Outcome           Outcome
	FailureStep       string
	FailureDetail     string
	SourcePath        string
	TargetPath        string
	Manifest          []ManifestEntry
}

// Succeeded reports whether the record describes a completed promotion.
func (r *PromotionRecord) Succeeded() bool {
	return r != nil && r.Outcome == OutcomeSuccess
}

// PromotionIntent is written before a swap and removed when the matching
// record is appended. One that outlives its promotion marks an interrupted
// swap.
type PromotionIntent struct {
	ID           string
	SourceID     string
	VersionToken string
	TargetPath   string
	StartedAt    time.Time
}

// ScanResult lists version tokens by what a scan did to them.
type ScanResult struct {
	SourceID  string
	Added     []string
	Removed   []string
	Updated   []string
	Unchanged []string
}

// Changed reports whether the scan mutated the registry.
func (r *ScanResult) Changed() bool {
	return len(r.Added)+len(r.Removed)+len(r.Updated) > 0
}

// DivergenceWarning reports a frame range or timecode change relative to the
// currently promoted record.
type DivergenceWarning struct {
	Field    string
	Previous string
	Current  string
}

func (w DivergenceWarning) String() string {
	return fmt.Sprintf("%s changed: %s -> %s", w.Field, w.Previous, w.Current)
}
