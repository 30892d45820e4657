package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

// SummarySheet is the first sheet of every workbook.
const SummarySheet = "Summary"

var (
	summaryHeader = []string{"Tier", "Confidence %", "Tracked", "Rejected", "Dropped", "Potential Savings (pps)", "Recommendations"}
	tierHeader    = []string{"Rank", "Description", "Savings 15m (pps)", "Savings Lifetime (pps)", "Confidence %", "TTL", "Age", "Dimensions"}
)

// XLSXWriter rewrites a workbook with the latest report: a summary sheet and
// one sheet per tier.
type XLSXWriter struct {
	mu   sync.Mutex
	path string
}

// NewXLSXWriter creates a writer for path.
func NewXLSXWriter(path string) *XLSXWriter {
	return &XLSXWriter{path: path}
}

// TierSheetName names the sheet for tier i.
func TierSheetName(i int, t TierReport) string {
	return fmt.Sprintf("Tier %d (%s%%)", i+1, FormatNumber(t.ConfidencePercent))
}

// Publish replaces the workbook on disk. The file is written to a temp file
// first so readers never see a partial workbook.
func (x *XLSXWriter) Publish(_ context.Context, r *Report) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}

	summary := make([][]any, 0, len(r.Tiers))
	for i, t := range r.Tiers {
		summary = append(summary, []any{
			TierSheetName(i, t), t.ConfidencePercent, t.Tracked, t.Rejected, t.Dropped, t.SavingsPPS, len(t.Recommendations),
		})
	}
	if err := writeSheet(f, SummarySheet, summaryHeader, summary); err != nil {
		return err
	}

	for i, t := range r.Tiers {
		sheet := TierSheetName(i, t)
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}
		rows := make([][]any, 0, len(t.Recommendations))
		for _, rec := range t.Recommendations {
			rows = append(rows, []any{
				rec.Rank, rec.Description, rec.Savings15m, rec.SavingsLifetime,
				rec.ConfidencePercent, rec.TTL.String(), rec.Age, strings.Join(rec.Dimensions, ", "),
			})
		}
		if err := writeSheet(f, sheet, tierHeader, rows); err != nil {
			return err
		}
	}

	dir := filepath.Dir(x.path)
	tmp, err := os.CreateTemp(dir, ".tinytrim-*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp workbook: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), x.path); err != nil {
		return fmt.Errorf("replace workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("set header: %w", err)
		}
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}
	return nil
}
