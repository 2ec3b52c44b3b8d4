package io

import (
	"fmt"
	"path/filepath"
	"strings"

	"attendance-import/internal/logging"
)

// NewTableWriter returns a TableWriter chosen by the extension of path.
func NewTableWriter(path string) (TableWriter, error) {
	ext := strings.ToLower(filepath.Ext(path))
	logging.Logf(logging.Debug, "Creating table writer for extension: %s", ext)

	switch ext {
	case ExtCSV:
		writer, err := NewCSVTableWriter(",")
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV writer: %w", err)
		}
		return writer, nil
	case ExtXLSX:
		return NewXLSXTableWriter(""), nil
	case ".json":
		return &JSONTableWriter{}, nil
	case ".yaml", ".yml":
		return &YAMLTableWriter{}, nil
	default:
		return nil, fmt.Errorf("%w: cannot export to '%s', expected .csv, .xlsx, .json or .yaml", ErrUnsupportedFileType, ext)
	}
}
