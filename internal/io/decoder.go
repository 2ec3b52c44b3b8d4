package io

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"attendance-import/internal/logging"

	"github.com/gabriel-vasile/mimetype"
)

// Structural decode failures. Every error returned by Decode wraps one of these
// or describes a file that could not be parsed at all.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEmptyFile           = errors.New("file must contain a header row and at least one data row")
	ErrLegacyWorkbook      = errors.New("legacy binary .xls workbooks are not supported; re-save the file as .xlsx or .csv")
)

// Supported upload extensions.
const (
	ExtCSV  = ".csv"
	ExtXLSX = ".xlsx"
	ExtXLS  = ".xls"
)

// SupportedExtensions lists the extensions Decode accepts.
var SupportedExtensions = []string{ExtCSV, ExtXLSX, ExtXLS}

// Row is one data row keyed by raw header label.
type Row struct {
	// Number is 1-based and counts the header as row 1.
	Number int
	Values map[string]string
}

// Table is the decoded content of one upload.
type Table struct {
	// Headers are the distinct non-empty labels in column order.
	Headers []string
	Rows    []Row
}

// DecodeOptions configures delimited text parsing.
type DecodeOptions struct {
	Delimiter     rune
	LineSeparator string
}

// DefaultDecodeOptions returns comma separated fields on newline separated records.
func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{Delimiter: ',', LineSeparator: "\n"}
}

// gridRow is one non-blank source row and its physical 1-based row number.
type gridRow struct {
	line  int
	cells []string
}

type family int

const (
	familyDelimited family = iota
	familyWorkbook
)

// Decode turns an uploaded file into a Table. The family is picked from the
// filename extension; .xls uploads are sniffed because many "xls" exports
// are really tab separated text or OOXML workbooks.
func Decode(data []byte, filename string, opts DecodeOptions) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}

	var (
		grid []gridRow
		err  error
	)
	switch ext {
	case ExtCSV:
		grid, err = readDelimited(data, opts)
	case ExtXLSX:
		grid, err = readWorkbook(data)
	case ExtXLS:
		grid, err = readLegacyExtension(data, opts)
	default:
		if ext == "" {
			return nil, fmt.Errorf("%w: '%s' has no extension, expected one of %v", ErrUnsupportedFileType, filename, SupportedExtensions)
		}
		return nil, fmt.Errorf("%w: '%s', expected one of %v", ErrUnsupportedFileType, ext, SupportedExtensions)
	}
	if err != nil {
		return nil, err
	}

	table, err := buildTable(grid)
	if err != nil {
		return nil, err
	}
	logging.Logf(logging.Debug, "Decoded '%s': %d headers, %d data rows", filename, len(table.Headers), len(table.Rows))
	return table, nil
}

func readLegacyExtension(data []byte, opts DecodeOptions) ([]gridRow, error) {
	fam, err := sniffFamily(data)
	if err != nil {
		return nil, err
	}
	if fam == familyWorkbook {
		return readWorkbook(data)
	}
	if firstLine := firstLineOf(data); strings.Contains(firstLine, "\t") {
		opts.Delimiter = '\t'
	}
	return readDelimited(data, opts)
}

// sniffFamily inspects content of a .xls upload.
func sniffFamily(data []byte) (family, error) {
	if len(data) == 0 {
		return familyDelimited, ErrEmptyFile
	}
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"), m.Is("application/zip"):
			return familyWorkbook, nil
		case m.Is("application/vnd.ms-excel"), m.Is("application/x-ole-storage"):
			return familyWorkbook, ErrLegacyWorkbook
		case m.Is("text/plain"):
			return familyDelimited, nil
		}
	}
	return familyDelimited, fmt.Errorf("%w: content detected as %s", ErrUnsupportedFileType, detected.String())
}

func firstLineOf(data []byte) string {
	s := string(data)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// buildTable converts a raw grid into a Table.
// Empty header cells drop their column; duplicate labels keep the last column.
// Blank rows are skipped without renumbering the rows after them.
func buildTable(grid []gridRow) (*Table, error) {
	grid = dropBlankRows(grid)
	if len(grid) < 2 {
		return nil, ErrEmptyFile
	}

	rawHeaders := grid[0].cells
	lastIndexForHeader := make(map[string]int, len(rawHeaders))
	headers := make([]string, 0, len(rawHeaders))
	for i, h := range rawHeaders {
		label := strings.TrimSpace(h)
		if label == "" {
			logging.Logf(logging.Debug, "Empty header in column %d; column ignored", i+1)
			continue
		}
		if _, seen := lastIndexForHeader[label]; seen {
			logging.Logf(logging.Warning, "Duplicate header '%s' at column %d; the last occurrence wins", label, i+1)
		} else {
			headers = append(headers, label)
		}
		lastIndexForHeader[label] = i
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: header row has no labels", ErrEmptyFile)
	}

	rows := make([]Row, 0, len(grid)-1)
	for _, gr := range grid[1:] {
		values := make(map[string]string, len(headers))
		for _, label := range headers {
			idx := lastIndexForHeader[label]
			if idx < len(gr.cells) {
				values[label] = strings.TrimSpace(gr.cells[idx])
			} else {
				values[label] = ""
			}
		}
		rows = append(rows, Row{Number: gr.line, Values: values})
	}
	return &Table{Headers: headers, Rows: rows}, nil
}

func dropBlankRows(grid []gridRow) []gridRow {
	out := grid[:0:0]
	for _, row := range grid {
		for _, cell := range row.cells {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}
