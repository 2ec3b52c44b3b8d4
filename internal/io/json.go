package io

import (
	"encoding/json"
	"fmt"
	"os"

	"attendance-import/internal/logging"
)

// JSONTableWriter writes a table as a JSON array with one object per row,
// keyed by header.
type JSONTableWriter struct{}

// Write saves headers and rows to filePath, replacing any existing file.
// An empty table is written as "[]".
func (jw *JSONTableWriter) Write(headers []string, rows [][]string, filePath string) error {
	if err := ensureDir(filePath); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rowObjects(headers, rows), "", "  ")
	if err != nil {
		return fmt.Errorf("JSONTableWriter failed to marshal rows: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("JSONTableWriter failed to write file '%s': %w", filePath, err)
	}
	logging.Logf(logging.Info, "JSONTableWriter wrote %d rows to %s", len(rows), filePath)
	return nil
}

// rowObjects pairs every row with the headers. Missing trailing cells become
// empty strings.
func rowObjects(headers []string, rows [][]string) []map[string]string {
	objects := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				obj[h] = row[i]
			} else {
				obj[h] = ""
			}
		}
		objects = append(objects, obj)
	}
	return objects
}
