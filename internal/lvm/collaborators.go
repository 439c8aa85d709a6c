package lvm

import "context"

// PathResolver expands template tokens in configured paths.
type PathResolver interface {
	Resolve(template string, src *Source) string
}

// TimecodeReader extracts the start timecode of a media file.
type TimecodeReader interface {
	ReadTimecode(path string) (TimecodeInfo, error)
}

// NoTimecode reports every file as carrying no timecode.
type NoTimecode struct{}

func (NoTimecode) ReadTimecode(string) (TimecodeInfo, error) { return TimecodeInfo{}, nil }

// Elevator is asked for privileges when a link mode is refused for lack of
// them. It returns false when the operator declines.
type Elevator interface {
	Elevate(ctx context.Context, mode LinkMode) (bool, error)
}

// DenyElevation never grants privileges.
type DenyElevation struct{}

func (DenyElevation) Elevate(context.Context, LinkMode) (bool, error) { return false, nil }
