// Package report builds the daily summary in the engine workbook: backup,
// pivot refresh, one dated row appended per summary sheet, save.
package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

// Summary sheets in the engine workbook, in append order.
const (
	SheetMOYearSummary    = "MO YR SUMMARY"
	SheetDNAOYearSummary  = "DN AO YR SUMMARY"
	SheetSOYearComplete   = "SO YR COMP"
	SheetSOYearIncomplete = "SO YR INCMP"
	SheetMOPercent        = "MO %"
)

// Download file names the row builders read.
const (
	FileMatShortage     = "MatShortageRpt.xlsx"
	FileDailyCompleted  = "DailyReport Completed.xlsx"
	FileDailyIncomplete = "DailyReport Incompletes.xlsx"
	FileBillingOnly     = "Billing Only.xlsx"
	FileMOBackorders    = "MB25 Backorders.xlsx"
	FileMB51            = "MB51.xlsx"
	FileDailyMO         = "DAILY MO MB25.xlsx"
)

// DownloadFiles lists every export the report build consumes.
func DownloadFiles() []string {
	return []string{
		FileMatShortage,
		FileDailyCompleted,
		FileDailyIncomplete,
		FileBillingOnly,
		FileMOBackorders,
		FileMB51,
		FileDailyMO,
	}
}

// StalePrefixes are the download name prefixes cleared before a run so
// yesterday's files cannot satisfy today's wait.
func StalePrefixes() []string {
	return []string{
		"Billing Only",
		"DailyReport Completed",
		"DailyReport Incompletes",
		"MatShortageRpt",
		"MB25 Backorders",
		"MB51",
		"DAILY MO MB25",
	}
}

// Append is one row destined for a summary sheet.
type Append struct {
	Sheet  string
	Values []any
}

// BuildAppends reads the day's exports out of downloadsDir and produces the
// ordered rows to add to the engine workbook. Dates are written in
// YYYY-MM-DD form, matching the existing summary data.
func BuildAppends(downloadsDir string, date time.Time) ([]Append, error) {
	counts := make(map[string]int)
	for _, name := range DownloadFiles() {
		n, err := DataRows(filepath.Join(downloadsDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", name, err)
		}
		counts[name] = n
	}

	day := date.Format("2006-01-02")
	completed := counts[FileDailyCompleted]
	incomplete := counts[FileDailyIncomplete]

	return []Append{
		{Sheet: SheetMOYearSummary, Values: []any{
			day, counts[FileDailyMO], counts[FileMB51],
		}},
		{Sheet: SheetDNAOYearSummary, Values: []any{
			day, counts[FileMOBackorders], counts[FileMatShortage],
		}},
		{Sheet: SheetSOYearComplete, Values: []any{
			day, completed, counts[FileBillingOnly],
		}},
		{Sheet: SheetSOYearIncomplete, Values: []any{
			day, incomplete,
		}},
		{Sheet: SheetMOPercent, Values: []any{
			day, completionRate(completed, incomplete),
		}},
	}, nil
}

// completionRate is the fraction of orders completed today.
func completionRate(completed, incomplete int) float64 {
	total := completed + incomplete
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total)
}

// DataRows returns the number of data rows on the first sheet of the
// workbook at path, excluding the header row.
func DataRows(path string) (int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return 0, fmt.Errorf("workbook %s has no sheets", filepath.Base(path))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return len(rows) - 1, nil
}
