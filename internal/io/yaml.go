package io

import (
	"bytes"
	"fmt"
	"os"

	"attendance-import/internal/logging"

	"gopkg.in/yaml.v3"
)

// YAMLTableWriter writes a table as a YAML sequence of mappings keyed by header.
type YAMLTableWriter struct{}

// Write saves headers and rows to filePath, replacing any existing file.
func (yw *YAMLTableWriter) Write(headers []string, rows [][]string, filePath string) error {
	if err := ensureDir(filePath); err != nil {
		return err
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(rowObjects(headers, rows)); err != nil {
		return fmt.Errorf("YAMLTableWriter failed to marshal rows: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("YAMLTableWriter failed to flush rows: %w", err)
	}

	if err := os.WriteFile(filePath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("YAMLTableWriter failed to write file '%s': %w", filePath, err)
	}
	logging.Logf(logging.Info, "YAMLTableWriter wrote %d rows to %s", len(rows), filePath)
	return nil
}
