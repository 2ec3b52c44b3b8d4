package io

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	goio "io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"attendance-import/internal/logging"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readDelimited splits delimited text into a raw grid. Each record keeps the
// line it starts on; encoding/csv skips empty lines, so counting records
// would drift.
func readDelimited(data []byte, opts DecodeOptions) ([]gridRow, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	text := string(data)
	if sep := opts.LineSeparator; sep != "" && sep != "\n" && sep != "\r\n" {
		text = strings.ReplaceAll(text, sep, "\n")
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = opts.Delimiter
	reader.FieldsPerRecord = -1 // Rows may be short or long; buildTable pads.
	reader.LazyQuotes = true

	var grid []gridRow
	for {
		record, err := reader.Read()
		if errors.Is(err, goio.EOF) {
			return grid, nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("delimited text parse error on line %d, column %d: %w", parseErr.Line, parseErr.Column, parseErr.Err)
			}
			return nil, fmt.Errorf("failed to read delimited text: %w", err)
		}
		line, _ := reader.FieldPos(0)
		grid = append(grid, gridRow{line: line, cells: record})
	}
}

// --- Table Writer ---

// CSVTableWriter writes a header plus rows to a CSV file.
type CSVTableWriter struct {
	Delimiter rune
}

// NewCSVTableWriter creates a CSVTableWriter using the given single-character delimiter.
func NewCSVTableWriter(delimiter string) (*CSVTableWriter, error) {
	delim := ','
	if delimiter != "" {
		runes := []rune(delimiter)
		if len(runes) != 1 {
			return nil, fmt.Errorf("invalid delimiter '%s': must be a single character", delimiter)
		}
		delim = runes[0]
	}
	return &CSVTableWriter{Delimiter: delim}, nil
}

// Write creates or truncates filePath and writes headers and rows to it.
func (cw *CSVTableWriter) Write(headers []string, rows [][]string, filePath string) error {
	if err := ensureDir(filePath); err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("CSVTableWriter failed to create file '%s': %w", filePath, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = cw.Delimiter
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("CSVTableWriter failed to write header to '%s': %w", filePath, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("CSVTableWriter failed to write rows to '%s': %w", filePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("CSVTableWriter failed to close '%s': %w", filePath, err)
	}
	logging.Logf(logging.Info, "CSVTableWriter wrote %d rows to %s", len(rows), filePath)
	return nil
}

func ensureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory for '%s': %w", filePath, err)
		}
	}
	return nil
}

// --- Error Writer ---

const (
	errorRowColumn     = "import_row"
	errorMessageColumn = "import_error_message"
)

// CSVErrorWriter implements the ErrorWriter interface, appending rejected rows to a CSV file.
type CSVErrorWriter struct {
	filePath      string
	writer        *csv.Writer
	file          *os.File
	headers       []string
	mu            sync.Mutex
	headerWritten bool
	closed        bool
}

// NewCSVErrorWriter opens filePath in append mode.
func NewCSVErrorWriter(filePath string) (*CSVErrorWriter, error) {
	if err := ensureDir(filePath); err != nil {
		return nil, fmt.Errorf("CSVErrorWriter: %w", err)
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("CSVErrorWriter failed to open/create file '%s': %w", filePath, err)
	}
	return &CSVErrorWriter{
		filePath: filePath,
		file:     f,
		writer:   csv.NewWriter(f),
	}, nil
}

// Write appends one rejected row with its reason.
// The header is written only when the file is empty.
func (cew *CSVErrorWriter) Write(rowNumber int, values map[string]string, reason string) error {
	cew.mu.Lock()
	defer cew.mu.Unlock()

	if cew.closed {
		return errors.New("CSVErrorWriter: write called on closed writer")
	}

	if !cew.headerWritten {
		fileInfo, err := cew.file.Stat()
		writeHeader := err != nil || fileInfo.Size() == 0

		headers := make([]string, 0, len(values)+2)
		headers = append(headers, errorRowColumn)
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		headers = append(headers, keys...)
		headers = append(headers, errorMessageColumn)
		cew.headers = headers

		if writeHeader {
			if err := cew.writer.Write(cew.headers); err != nil {
				return fmt.Errorf("CSVErrorWriter failed to write header to '%s': %w", cew.filePath, err)
			}
		}
		cew.headerWritten = true
	}

	row := make([]string, len(cew.headers))
	for i, header := range cew.headers {
		switch header {
		case errorRowColumn:
			row[i] = strconv.Itoa(rowNumber)
		case errorMessageColumn:
			row[i] = reason
		default:
			row[i] = values[header]
		}
	}
	if err := cew.writer.Write(row); err != nil {
		return fmt.Errorf("CSVErrorWriter failed to write error row to '%s': %w", cew.filePath, err)
	}
	cew.writer.Flush()
	if err := cew.writer.Error(); err != nil {
		return fmt.Errorf("CSVErrorWriter error after flushing error row to '%s': %w", cew.filePath, err)
	}
	return nil
}

// Close flushes buffered rows and closes the file. Safe to call multiple times.
func (cew *CSVErrorWriter) Close() error {
	cew.mu.Lock()
	defer cew.mu.Unlock()

	if cew.closed {
		return nil
	}
	cew.closed = true

	var firstErr error
	cew.writer.Flush()
	if err := cew.writer.Error(); err != nil {
		firstErr = fmt.Errorf("CSVErrorWriter flush error on close for '%s': %w", cew.filePath, err)
		logging.Logf(logging.Error, "%v", firstErr)
	}
	if err := cew.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("CSVErrorWriter file close error for '%s': %w", cew.filePath, err)
		logging.Logf(logging.Error, "%v", firstErr)
	}
	return firstErr
}
