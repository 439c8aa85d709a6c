package lvm

import (
	"errors"
	"fmt"
)

var (
	ErrVersionNotFound        = errors.New("version not found")
	ErrSourceNotFound         = errors.New("source not found")
	ErrSourceUnreachable      = errors.New("source unreachable")
	ErrLinkModeUnsupported    = errors.New("link mode unsupported")
	ErrStageWriteFailed       = errors.New("stage write failed")
	ErrVerificationMismatch   = errors.New("verification mismatch")
	ErrConcurrentAccessDenied = errors.New("concurrent access denied")
	ErrDivergenceBlocked      = errors.New("divergence requires override")

	// ErrRolledBack marks a swap that failed after the live target was moved
	// aside and was then put back.
	ErrRolledBack = errors.New("swap rolled back")
)

// Promotion steps, used in PromotionError and failed ledger records.
const (
	StepResolve = "resolve"
	StepStage   = "stage"
	StepVerify  = "verify"
	StepSwap    = "swap"
	StepRecord  = "record"
)

// PromotionError identifies the step and file that made a promotion fail.
type PromotionError struct {
	SourceID string
	Step     string
	Path     string
	Err      error
}

func (e *PromotionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("promote %s: %s %s: %v", e.SourceID, e.Step, e.Path, e.Err)
	}
	return fmt.Sprintf("promote %s: %s: %v", e.SourceID, e.Step, e.Err)
}

func (e *PromotionError) Unwrap() error { return e.Err }

// FileError attaches a path to an error raised while handling one file.
// Staging implementations return it so callers can name the offending file.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func (e *FileError) Unwrap() error { return e.Err }
