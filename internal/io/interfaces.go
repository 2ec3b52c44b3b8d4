package io

// TableWriter writes a rectangular table (header plus rows) to a destination.
type TableWriter interface {
	Write(headers []string, rows [][]string, path string) error
}

// ErrorWriter records rows that were rejected during an import.
type ErrorWriter interface {
	// Write records one rejected row with its original values and the reason.
	Write(rowNumber int, values map[string]string, reason string) error

	// Close flushes buffered data and releases resources.
	// Implementations should be idempotent.
	Close() error
}
