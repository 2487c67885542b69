package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Classes"

// WriteXLSX exports the report as a single-sheet workbook.
func WriteXLSX(path string, rep *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := []any{"class_id", "class_name", "pixels", "samples", "partitions", "saturated", "exact", "share"}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return err
	}

	for i, r := range rep.Classes {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{int(r.Class), r.Name, r.Pixels, r.Samples, r.Present, r.Saturated, r.Exact(), r.Share}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	footer, err := excelize.CoordinatesToCellName(1, len(rep.Classes)+3)
	if err != nil {
		return err
	}
	summary := []any{"partitions done", rep.Done, "of", rep.Partitions}
	if err := f.SetSheetRow(sheetName, footer, &summary); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}
