package main

import (
	"fmt"
	"strings"

	"lvm-go/internal/lvm"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

const timeLayout = "2006-01-02 15:04:05"

func renderSources(sources []*lvm.Source) string {
	rows := make([][]string, 0, len(sources))
	for _, s := range sources {
		rows = append(rows, []string{s.ID, s.GroupID, string(s.LinkMode), s.Root, s.Target})
	}
	return renderTable([]string{"Source", "Group", "Mode", "Root", "Target"}, rows, nil)
}

func renderStatus(statuses []*lvm.SourceStatus) string {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		latest, frames, promoted, when := "-", "-", "-", ""
		if st.Latest != nil {
			latest = st.Latest.Token
			frames = st.Latest.Frames.String()
		}
		if st.Current != nil {
			promoted = st.Current.VersionToken
			when = humanize.Time(st.Current.PromotedAt)
		}

		state := "up to date"
		switch {
		case st.Pending > 0:
			state = fmt.Sprintf("%d interrupted", st.Pending)
		case st.Latest == nil:
			state = "no versions"
		case !st.UpToDate():
			state = "behind"
		}
		rows = append(rows, []string{
			st.Source.ID, latest, frames, promoted, when,
			fmt.Sprintf("%d", st.VersionCount), state,
		})
	}
	return renderTable(
		[]string{"Source", "Latest", "Frames", "Promoted", "When", "Versions", "State"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func renderPlan(plan []lvm.PlannedFile) string {
	rows := make([][]string, 0, len(plan))
	var total int64
	for _, f := range plan {
		rows = append(rows, []string{f.Source, f.Dest, humanize.IBytes(uint64(f.Size))})
		total += f.Size
	}
	rows = append(rows, []string{"", fmt.Sprintf("%d file(s)", len(plan)), humanize.IBytes(uint64(total))})
	return renderTable([]string{"Source", "Target Name", "Size"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight})
}

func renderBatch(batch *lvm.BatchResult) string {
	rows := make([][]string, 0, len(batch.Outcomes))
	for _, o := range batch.Outcomes {
		detail := ""
		switch {
		case o.Err != nil:
			detail = o.Err.Error()
		case o.Result != nil && o.Result.DryRun:
			detail = fmt.Sprintf("would place %d file(s) with %s", len(o.Result.Plan), o.Result.LinkMode)
		case o.Result != nil && o.Result.Record != nil:
			detail = fmt.Sprintf("%d file(s) with %s", len(o.Result.Record.Manifest), o.Result.LinkMode)
		}
		rows = append(rows, []string{o.SourceID, o.Token, string(o.Status), detail})
	}
	return renderTable([]string{"Source", "Version", "Result", "Detail"}, rows, nil)
}

func renderHistory(records []*lvm.PromotionRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		mode := string(r.LinkModeUsed)
		if r.LinkModeUsed != "" && r.LinkModeRequested != r.LinkModeUsed {
			mode = fmt.Sprintf("%s (asked %s)", r.LinkModeUsed, r.LinkModeRequested)
		}
		outcome := string(r.Outcome)
		if r.FailureStep != "" {
			outcome = fmt.Sprintf("%s at %s", r.Outcome, r.FailureStep)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.Seq),
			r.PromotedAt.Local().Format(timeLayout),
			r.VersionToken,
			r.Frames.String(),
			r.Actor,
			mode,
			outcome,
		})
	}
	return renderTable(
		[]string{"Seq", "Promoted At", "Version", "Frames", "Actor", "Mode", "Outcome"},
		rows,
		[]columnAlignment{alignRight},
	)
}

func renderVerify(reports []*lvm.VerificationReport) string {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		version, detail := "-", "nothing promoted"
		if r.Current != nil {
			version = r.Current.VersionToken
			detail = fmt.Sprintf("%d file(s) match", len(r.Files))
		}
		state := "ok"
		if !r.OK() {
			state = "MISMATCH"
			detail = summarizeMismatches(r)
		}
		if r.SourceStale {
			detail += ", source rewritten since promotion"
		}
		rows = append(rows, []string{r.SourceID, version, state, detail})
	}
	return renderTable([]string{"Source", "Version", "State", "Detail"}, rows, nil)
}

// summarizeMismatches lists the first few differing files of a report.
func summarizeMismatches(r *lvm.VerificationReport) string {
	const shown = 3
	var parts []string
	if n := len(r.Interrupted); n > 0 {
		parts = append(parts, fmt.Sprintf("%d interrupted swap(s)", n))
	}
	mismatches := r.Mismatches()
	for i, f := range mismatches {
		if i == shown {
			parts = append(parts, fmt.Sprintf("and %d more", len(mismatches)-shown))
			break
		}
		parts = append(parts, fmt.Sprintf("%s %s", f.Path, f.Status))
	}
	return strings.Join(parts, "; ")
}

func renderDiscovery(results []*lvm.DiscoveryResult) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		var latest lvm.DiscoveredVersion
		var size int64
		for _, v := range r.Versions {
			if v.Number >= latest.Number {
				latest = v
			}
			size += v.Size
		}
		rows = append(rows, []string{
			r.Path,
			fmt.Sprintf("%d", len(r.Versions)),
			latest.Token,
			latest.Frames.String(),
			strings.Join(r.Extensions, " "),
			humanize.IBytes(uint64(size)),
		})
	}
	return renderTable(
		[]string{"Path", "Versions", "Latest", "Frames", "Types", "Size"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignRight},
	)
}
