package io

import (
	"bytes"
	"fmt"

	"attendance-import/internal/logging"

	"github.com/xuri/excelize/v2"
)

// DefaultSheetName is the sheet written by XLSXTableWriter.
const DefaultSheetName = "Attendance"

// readWorkbook reads the first sheet of an OOXML workbook into a raw grid.
// Raw cell values are used so date cells arrive as spreadsheet serial numbers.
// GetRows keeps interior blank rows, so slice index i is sheet row i+1.
func readWorkbook(data []byte) ([]gridRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Logf(logging.Warning, "Failed to close workbook: %v", err)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook contains no sheets", ErrEmptyFile)
	}
	sheet := sheets[0]
	if len(sheets) > 1 {
		logging.Logf(logging.Info, "Workbook has %d sheets; reading only the first ('%s')", len(sheets), sheet)
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from sheet '%s': %w", sheet, err)
	}
	grid := make([]gridRow, len(rows))
	for i, cells := range rows {
		grid[i] = gridRow{line: i + 1, cells: cells}
	}
	return grid, nil
}

// XLSXTableWriter writes a header plus rows to a single-sheet workbook.
type XLSXTableWriter struct {
	sheetName string
}

// NewXLSXTableWriter creates an XLSXTableWriter. An empty sheetName uses DefaultSheetName.
func NewXLSXTableWriter(sheetName string) *XLSXTableWriter {
	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	return &XLSXTableWriter{sheetName: sheetName}
}

// Write saves headers and rows to filePath, replacing any existing file.
func (xw *XLSXTableWriter) Write(headers []string, rows [][]string, filePath string) error {
	if err := ensureDir(filePath); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xw.sheetName); err != nil {
		return fmt.Errorf("XLSXTableWriter failed to name sheet '%s': %w", xw.sheetName, err)
	}

	headerRow := make([]interface{}, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(xw.sheetName, "A1", &headerRow); err != nil {
		return fmt.Errorf("XLSXTableWriter failed to write header row: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("XLSXTableWriter failed to calculate cell coordinates for row %d: %w", i+2, err)
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(xw.sheetName, cell, &values); err != nil {
			return fmt.Errorf("XLSXTableWriter failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("XLSXTableWriter failed to save file '%s': %w", filePath, err)
	}
	logging.Logf(logging.Info, "XLSXTableWriter wrote %d rows to sheet '%s' in %s", len(rows), xw.sheetName, filePath)
	return nil
}
