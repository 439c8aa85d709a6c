package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"lvm-go/internal/lvm"
)

// WritePromotionReport writes the JSON report of one promotion to path.
func (a *LVMApp) WritePromotionReport(path, sourceID string, res *lvm.PromotionResult, promoteErr error) error {
	return writeReport(path, lvm.NewPromotionReport(a.clock.Now(), sourceID, res, promoteErr))
}

// WriteBatchReport writes the JSON report of a promote-all run to path.
func (a *LVMApp) WriteBatchReport(path string, batch *lvm.BatchResult) error {
	return writeReport(path, lvm.NewBatchReport(a.clock.Now(), batch))
}

// writeReport replaces path atomically, so a reader never sees half a report.
func writeReport(path string, report *lvm.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".lvm-report-*")
	if err != nil {
		return fmt.Errorf("creating temporary report: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing report: %w", err)
	}
	return nil
}
