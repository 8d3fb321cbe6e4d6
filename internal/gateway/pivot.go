package gateway

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// rebuildPivotTables drops and re-creates every pivot table in the workbook.
// Re-adding a pivot from its own definition forces the cache to be rebuilt
// from the current source range, which is how appended rows become visible.
// It returns the number of pivot tables rebuilt.
func rebuildPivotTables(f *excelize.File) (int, error) {
	rebuilt := 0
	for _, sheet := range f.GetSheetList() {
		pivots, err := f.GetPivotTables(sheet)
		if err != nil {
			return rebuilt, fmt.Errorf("failed to list pivot tables on %q: %w", sheet, err)
		}
		for i := range pivots {
			opts := pivots[i]
			if err := f.DeletePivotTable(sheet, opts.Name); err != nil {
				return rebuilt, fmt.Errorf("failed to drop pivot %q on %q: %w", opts.Name, sheet, err)
			}
			if err := f.AddPivotTable(&opts); err != nil {
				return rebuilt, fmt.Errorf("failed to rebuild pivot %q on %q: %w", opts.Name, sheet, err)
			}
			rebuilt++
		}
	}
	return rebuilt, nil
}
