package naming

import (
	"fmt"
	"slices"
	"strings"
)

// FrameRange is the contiguous span of a frame sequence and the frames absent
// from it.
type FrameRange struct {
	Start   int   `json:"start"`
	End     int   `json:"end"`
	Missing []int `json:"missing,omitempty"`
}

// Span computes the range covered by frames. Duplicates are ignored. It returns
// nil when frames is empty.
func Span(frames []int) *FrameRange {
	if len(frames) == 0 {
		return nil
	}
	sorted := slices.Clone(frames)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	r := &FrameRange{Start: sorted[0], End: sorted[len(sorted)-1]}
	next := r.Start
	for _, f := range sorted {
		for ; next < f; next++ {
			r.Missing = append(r.Missing, next)
		}
		next = f + 1
	}
	return r
}

// Count returns the number of frames present.
func (r *FrameRange) Count() int {
	if r == nil {
		return 0
	}
	return r.End - r.Start + 1 - len(r.Missing)
}

// Complete reports whether no frame is missing.
func (r *FrameRange) Complete() bool {
	return r != nil && len(r.Missing) == 0
}

// Equal compares two ranges, treating nil as "no frames".
func (r *FrameRange) Equal(o *FrameRange) bool {
	if r == nil || o == nil {
		return r == nil && o == nil
	}
	return r.Start == o.Start && r.End == o.End && slices.Equal(r.Missing, o.Missing)
}

func (r *FrameRange) String() string {
	if r == nil {
		return "-"
	}
	if len(r.Missing) == 0 {
		return fmt.Sprintf("%d-%d", r.Start, r.End)
	}
	return fmt.Sprintf("%d-%d (%d/%d frames, gaps detected)", r.Start, r.End, r.Count(), r.End-r.Start+1)
}

// Sequence is one group of parsed names sharing base, version, extension and
// frame padding.
type Sequence struct {
	Base    string
	Number  int
	Ext     string
	Padding int
	Frames  *FrameRange // nil for a single non-sequence file
	Items   []Parsed
}

type sequenceKey struct {
	base    string
	number  int
	ext     string
	padding int
}

// Aggregate groups parsed names into sequences. Names without a frame number
// form their own length-1 sequence. The result is ordered by base, version,
// extension.
func Aggregate(items []Parsed) []Sequence {
	index := make(map[sequenceKey]int)
	var out []Sequence

	for _, p := range items {
		if !p.HasFrame {
			out = append(out, Sequence{Base: p.Base, Number: p.Number, Ext: p.Ext, Items: []Parsed{p}})
			continue
		}
		key := sequenceKey{base: p.Base, number: p.Number, ext: strings.ToLower(p.Ext), padding: p.FrameDigits}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Sequence{Base: p.Base, Number: p.Number, Ext: p.Ext, Padding: p.FrameDigits})
		}
		out[i].Items = append(out[i].Items, p)
	}

	for i := range out {
		if out[i].Padding == 0 {
			continue
		}
		frames := make([]int, len(out[i].Items))
		for j, p := range out[i].Items {
			frames[j] = p.Frame
		}
		out[i].Frames = Span(frames)
		slices.SortFunc(out[i].Items, func(a, b Parsed) int { return a.Frame - b.Frame })
	}

	slices.SortStableFunc(out, func(a, b Sequence) int {
		if c := strings.Compare(a.Base, b.Base); c != 0 {
			return c
		}
		if a.Number != b.Number {
			return a.Number - b.Number
		}
		return strings.Compare(strings.ToLower(a.Ext), strings.ToLower(b.Ext))
	})
	return out
}

// Coverage merges the frame ranges of several sequences into one range over
// their combined span. A frame counts as present only when every sequence
// with frames has it. Sequences without frames are ignored; the result is nil
// when none has any.
func Coverage(seqs []Sequence) *FrameRange {
	var ranged []*FrameRange
	for _, s := range seqs {
		if s.Frames != nil {
			ranged = append(ranged, s.Frames)
		}
	}
	if len(ranged) == 0 {
		return nil
	}
	if len(ranged) == 1 {
		r := *ranged[0]
		r.Missing = slices.Clone(r.Missing)
		return &r
	}

	out := &FrameRange{Start: ranged[0].Start, End: ranged[0].End}
	for _, r := range ranged[1:] {
		out.Start = min(out.Start, r.Start)
		out.End = max(out.End, r.End)
	}
	for f := out.Start; f <= out.End; f++ {
		for _, r := range ranged {
			if !r.Has(f) {
				out.Missing = append(out.Missing, f)
				break
			}
		}
	}
	return out
}

// Has reports whether frame f is inside the range and not missing.
func (r *FrameRange) Has(f int) bool {
	if r == nil || f < r.Start || f > r.End {
		return false
	}
	_, missing := slices.BinarySearch(r.Missing, f)
	return !missing
}
