package lvm

import (
	"errors"
	"time"
)

// Report is the JSON document written by `promote --report` and
// `promote-all --report`.
type Report struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Failed      int               `json:"failed"`
	Promotions  []PromotionReport `json:"promotions"`
}

// PromotionReport describes the outcome of one source's promotion.
type PromotionReport struct {
	Source            string          `json:"source"`
	Version           string          `json:"version,omitempty"`
	Status            BatchStatus     `json:"status"`
	DryRun            bool            `json:"dry_run,omitempty"`
	PromotedAt        *time.Time      `json:"promoted_at,omitempty"`
	Actor             string          `json:"actor,omitempty"`
	SourcePath        string          `json:"source_path,omitempty"`
	TargetPath        string          `json:"target_path,omitempty"`
	LinkModeRequested LinkMode        `json:"link_mode_requested,omitempty"`
	LinkMode          LinkMode        `json:"link_mode,omitempty"`
	FrameRange        string          `json:"frame_range,omitempty"`
	FrameCount        int             `json:"frame_count,omitempty"`
	MissingFrames     []int           `json:"missing_frames,omitempty"`
	StartTimecode     string          `json:"start_timecode,omitempty"`
	FileCount         int             `json:"file_count"`
	TotalSize         int64           `json:"total_size_bytes"`
	Files             []ReportFile    `json:"file_map,omitempty"`
	Warnings          []ReportWarning `json:"warnings,omitempty"`
	FailureStep       string          `json:"failure_step,omitempty"`
	Error             string          `json:"error,omitempty"`
}

type ReportFile struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Size   int64  `json:"size"`
}

type ReportWarning struct {
	Field    string `json:"field"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// NewPromotionReport reports a single promotion. res may be nil when the
// promotion failed before a version was resolved.
func NewPromotionReport(at time.Time, sourceID string, res *PromotionResult, err error) *Report {
	status := BatchPromoted
	if err != nil {
		status = BatchFailed
	}
	token := ""
	if res != nil && res.Version != nil {
		token = res.Version.Token
	}
	r := &Report{GeneratedAt: at.UTC()}
	r.add(newPromotionEntry(sourceID, token, status, res, err))
	return r
}

// NewBatchReport reports every outcome of a promote-all run in order.
func NewBatchReport(at time.Time, batch *BatchResult) *Report {
	r := &Report{GeneratedAt: at.UTC(), Promotions: make([]PromotionReport, 0, len(batch.Outcomes))}
	for _, o := range batch.Outcomes {
		r.add(newPromotionEntry(o.SourceID, o.Token, o.Status, o.Result, o.Err))
	}
	return r
}

func (r *Report) add(e PromotionReport) {
	if e.Status == BatchFailed {
		r.Failed++
	}
	r.Promotions = append(r.Promotions, e)
}

func newPromotionEntry(sourceID, token string, status BatchStatus, res *PromotionResult, err error) PromotionReport {
	e := PromotionReport{Source: sourceID, Version: token, Status: status}
	if err != nil {
		e.Error = err.Error()
		var pe *PromotionError
		if errors.As(err, &pe) {
			e.FailureStep = pe.Step
		}
	}
	if res == nil {
		return e
	}

	e.DryRun = res.DryRun
	e.LinkMode = res.LinkMode
	for _, w := range res.Warnings {
		e.Warnings = append(e.Warnings, ReportWarning{Field: w.Field, Previous: w.Previous, Current: w.Current})
	}
	for _, f := range res.Plan {
		e.Files = append(e.Files, ReportFile{Source: f.Source, Target: f.Dest, Size: f.Size})
		e.TotalSize += f.Size
	}
	e.FileCount = len(res.Plan)

	if v := res.Version; v != nil {
		e.SourcePath = v.Path
		e.setFrames(v)
		if v.Timecode.Present {
			e.StartTimecode = v.Timecode.Value
		}
	}

	if rec := res.Record; rec != nil {
		at := rec.PromotedAt.UTC()
		e.PromotedAt = &at
		e.Actor = rec.Actor
		e.TargetPath = rec.TargetPath
		e.LinkModeRequested = rec.LinkModeRequested
		if rec.LinkModeUsed != "" {
			e.LinkMode = rec.LinkModeUsed
		}
		if rec.FailureStep != "" {
			e.FailureStep = rec.FailureStep
		}
	}
	return e
}

func (e *PromotionReport) setFrames(v *Version) {
	if v.Frames == nil {
		return
	}
	e.FrameRange = v.Frames.String()
	e.FrameCount = v.Frames.Count()
	e.MissingFrames = v.Frames.Missing
}
