// Package report builds the result of one import and its HTTP representation.
package report

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"attendance-import/internal/config"
	"attendance-import/internal/processor"
	"attendance-import/internal/reconcile"
)

// Status is the overall outcome of an import.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial_success"
	StatusFailed  Status = "failed"
)

// maxListedRows bounds the row numbers spelled out in one failure message.
const maxListedRows = 10

// FaultMessage is the only detail a caller sees for an internal failure.
const FaultMessage = "Import failed due to an internal error."

// Report is the result of one import.
type Report struct {
	ImportID string
	Filename string
	// State is the last pipeline state reached.
	State  string
	Status Status

	Message    string
	Structural bool

	TotalRows int
	Processed int
	ErrorRows int
	Rejected  int
	Failed    int
	Skipped   int

	// Errors holds the first messages, at most the configured maximum.
	Errors         []string
	MissingHeaders []string
	FoundHeaders   []string
}

// Response is the JSON body returned by the upload endpoint.
type Response struct {
	Message        string   `json:"message"`
	ProcessedCount *int     `json:"processedCount,omitempty"`
	ErrorCount     *int     `json:"errorCount,omitempty"`
	SkippedCount   int      `json:"skippedCount,omitempty"`
	Errors         []string `json:"errors,omitempty"`
	MissingHeaders []string `json:"missingHeaders,omitempty"`
	FoundHeaders   []string `json:"foundHeaders,omitempty"`
}

// HTTPStatus maps the outcome onto 200, 207 or 400.
func (r *Report) HTTPStatus() int {
	switch r.Status {
	case StatusSuccess:
		return http.StatusOK
	case StatusPartial:
		return http.StatusMultiStatus
	}
	return http.StatusBadRequest
}

// Response returns the JSON body for r. Structural failures carry the header
// lists instead of counts.
func (r *Report) Response() Response {
	resp := Response{Message: r.Message}
	if r.Structural {
		resp.MissingHeaders = r.MissingHeaders
		resp.FoundHeaders = r.FoundHeaders
		return resp
	}
	processed, errCount := r.Processed, r.ErrorRows
	resp.ProcessedCount = &processed
	resp.ErrorCount = &errCount
	resp.SkippedCount = r.Skipped
	if len(r.Errors) > 0 {
		resp.Errors = r.Errors
	}
	return resp
}

// FaultResponse is returned with a 500 for internal failures.
func FaultResponse() Response {
	return Response{Message: FaultMessage}
}

// Builder accumulates the outcome of each pipeline stage.
type Builder struct {
	maxErrors int
	report    Report

	rowErrors []processor.RowError
	failures  []reconcile.Failure
}

// NewBuilder creates a Builder keeping at most maxErrors messages.
func NewBuilder(importID, filename string, maxErrors int) *Builder {
	if maxErrors <= 0 {
		maxErrors = config.DefaultMaxReportErrors
	}
	return &Builder{
		maxErrors: maxErrors,
		report:    Report{ImportID: importID, Filename: filename},
	}
}

// SetState records the last pipeline state reached.
func (b *Builder) SetState(state string) {
	b.report.State = state
}

// Structural records a failure that stopped the import before any row was
// processed.
func (b *Builder) Structural(message string, missing, found []string) {
	b.report.Structural = true
	b.report.Message = message
	b.report.MissingHeaders = missing
	b.report.FoundHeaders = found
}

// Validated records the Row Validator's partition.
func (b *Builder) Validated(res processor.Result) {
	b.report.TotalRows = len(res.Valid) + len(res.Rejected) + len(res.Skipped)
	b.report.Processed = len(res.Valid)
	b.report.Rejected = len(res.Rejected)
	b.report.Skipped = len(res.Skipped)
	b.rowErrors = append(b.rowErrors, res.Rejected...)
}

// Reconciled records rows that could not be saved.
func (b *Builder) Reconciled(res *reconcile.Result) {
	if res == nil {
		return
	}
	failed := len(res.FailedRows())
	b.report.Failed = failed
	b.report.Processed -= failed
	b.failures = append(b.failures, res.Failures...)
}

// Build finalizes the report.
func (b *Builder) Build() *Report {
	r := b.report
	if r.Structural {
		r.Status = StatusFailed
		return &r
	}

	r.ErrorRows = r.Rejected + r.Failed
	switch {
	case r.ErrorRows == 0:
		r.Status = StatusSuccess
		r.Message = fmt.Sprintf("Import completed: %s processed.", plural(r.Processed, "row"))
	case r.Processed > 0:
		r.Status = StatusPartial
		r.Message = fmt.Sprintf("Import partially completed: %s processed, %s with errors.", plural(r.Processed, "row"), plural(r.ErrorRows, "row"))
	default:
		r.Status = StatusFailed
		r.Message = fmt.Sprintf("Import failed: none of the %s could be processed.", plural(r.ErrorRows, "row"))
	}
	if r.Skipped > 0 {
		r.Message += fmt.Sprintf(" %s skipped by the row filter.", plural(r.Skipped, "row"))
	}
	r.Errors = b.messages()
	return &r
}

func (b *Builder) messages() []string {
	rowErrors := append([]processor.RowError(nil), b.rowErrors...)
	sort.SliceStable(rowErrors, func(i, j int) bool { return rowErrors[i].Row < rowErrors[j].Row })

	var out []string
	for _, re := range rowErrors {
		if len(out) == b.maxErrors {
			return out
		}
		out = append(out, fmt.Sprintf("Row %d: %s", re.Row, re.Reason))
	}
	for _, f := range b.failures {
		if len(out) == b.maxErrors {
			return out
		}
		out = append(out, fmt.Sprintf("%s: %s", rowList(f.Rows), f.Reason))
	}
	return out
}

// rowList renders row numbers as "Row 4" or "Rows 2, 3, 5".
func rowList(rows []int) string {
	if len(rows) == 1 {
		return "Row " + strconv.Itoa(rows[0])
	}
	listed := rows
	if len(listed) > maxListedRows {
		listed = listed[:maxListedRows]
	}
	parts := make([]string, len(listed))
	for i, n := range listed {
		parts[i] = strconv.Itoa(n)
	}
	s := "Rows " + strings.Join(parts, ", ")
	if extra := len(rows) - len(listed); extra > 0 {
		s += fmt.Sprintf(" and %d more", extra)
	}
	return s
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
