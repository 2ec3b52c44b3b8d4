package processor

import (
	"fmt"
	"strings"
	"time"

	etlio "attendance-import/internal/io"
	"attendance-import/internal/logging"
	"attendance-import/internal/schema"
	"attendance-import/internal/util"

	"github.com/Knetic/govaluate"
)

// Row is one validated attendance row in canonical form.
type Row struct {
	Number           int
	PersonID         string
	PersonName       string
	InitialNote      string
	EventID          string
	EventDate        time.Time
	TrainerName      string
	EventType        string
	VenueName        string
	EventNotes       string
	PersonNoteDuring string
	CompletionStatus string
}

// RowError describes a rejected row.
type RowError struct {
	Row    int
	Reason string
	// Values are the raw cells of the row, keyed by raw header.
	Values map[string]string
}

// Result partitions the rows of one table.
type Result struct {
	Valid    []Row
	Rejected []RowError
	// Skipped holds the numbers of rows excluded by the row filter.
	Skipped []int
}

// expressionEvaluator allows mocking the govaluate dependency.
type expressionEvaluator interface {
	Evaluate(map[string]interface{}) (interface{}, error)
}

var newExpressionEvaluatorFunc = func(expr string) (expressionEvaluator, error) {
	evalExpr, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, err
	}
	return evalExpr, nil
}

// Validator turns decoded rows into canonical Rows.
type Validator struct {
	aliases   *schema.AliasTable
	filter    expressionEvaluator
	errWriter etlio.ErrorWriter
}

// NewValidator creates a Validator. filterExpr is an optional govaluate
// expression over canonical field names; errWriter may be nil.
func NewValidator(aliases *schema.AliasTable, filterExpr string, errWriter etlio.ErrorWriter) (*Validator, error) {
	v := &Validator{aliases: aliases, errWriter: errWriter}
	if filterExpr != "" {
		eval, err := newExpressionEvaluatorFunc(filterExpr)
		if err != nil {
			return nil, fmt.Errorf("invalid filter expression '%s': %w", filterExpr, err)
		}
		v.filter = eval
	}
	return v, nil
}

// Validate classifies every row of table. Rejections never stop processing.
func (v *Validator) Validate(table *etlio.Table, headers schema.HeaderMap) Result {
	res := Result{Valid: make([]Row, 0, len(table.Rows))}

	for _, raw := range table.Rows {
		row, reason := v.validateRow(raw, headers)
		if reason != "" {
			v.reject(&res, raw, reason)
			continue
		}

		if v.filter != nil {
			keep, err := v.evaluateFilter(row)
			if err != nil {
				v.reject(&res, raw, err.Error())
				continue
			}
			if !keep {
				logging.Logf(logging.Debug, "Row %d skipped by filter", raw.Number)
				res.Skipped = append(res.Skipped, raw.Number)
				continue
			}
		}
		res.Valid = append(res.Valid, row)
	}

	logging.Logf(logging.Info, "Validated %d rows: %d valid, %d rejected, %d skipped", len(table.Rows), len(res.Valid), len(res.Rejected), len(res.Skipped))
	return res
}

func (v *Validator) reject(res *Result, raw etlio.Row, reason string) {
	res.Rejected = append(res.Rejected, RowError{Row: raw.Number, Reason: reason, Values: raw.Values})
	logging.Logf(logging.Debug, "Row %d rejected: %s. Row (masked): %v", raw.Number, reason, util.MaskSensitiveData(raw.Values))
	if v.errWriter != nil {
		if err := v.errWriter.Write(raw.Number, raw.Values, reason); err != nil {
			logging.Logf(logging.Error, "Failed to write row %d to error file: %v", raw.Number, err)
		}
	}
}

func (v *Validator) validateRow(raw etlio.Row, headers schema.HeaderMap) (Row, string) {
	cell := func(f schema.Field) string {
		label, ok := headers.Label(f)
		if !ok {
			return ""
		}
		return v.aliases.CanonicalValue(f, strings.TrimSpace(raw.Values[label]))
	}

	row := Row{
		Number:           raw.Number,
		PersonID:         cell(schema.PersonID),
		PersonName:       cell(schema.PersonName),
		InitialNote:      cell(schema.InitialNote),
		EventID:          cell(schema.EventID),
		TrainerName:      cell(schema.TrainerName),
		EventType:        cell(schema.EventType),
		VenueName:        cell(schema.VenueName),
		EventNotes:       cell(schema.EventNotes),
		PersonNoteDuring: cell(schema.PersonNoteDuring),
		CompletionStatus: cell(schema.CompletionStatus),
	}
	rawDate := cell(schema.EventDate)

	var missing []string
	for _, f := range schema.MandatoryFields {
		var value string
		switch f {
		case schema.EventDate:
			value = rawDate
		default:
			value = row.field(f)
		}
		if value == "" {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		return Row{}, "missing required value: " + strings.Join(missing, ", ")
	}

	date, err := ParseEventDate(rawDate)
	if err != nil {
		return Row{}, fmt.Sprintf("invalid event_date '%s': %v", rawDate, err)
	}
	row.EventDate = date
	return row, ""
}

// field returns the string value of a canonical field.
func (r Row) field(f schema.Field) string {
	switch f {
	case schema.PersonID:
		return r.PersonID
	case schema.PersonName:
		return r.PersonName
	case schema.InitialNote:
		return r.InitialNote
	case schema.EventID:
		return r.EventID
	case schema.EventDate:
		if r.EventDate.IsZero() {
			return ""
		}
		return r.EventDate.Format("2006-01-02")
	case schema.TrainerName:
		return r.TrainerName
	case schema.EventType:
		return r.EventType
	case schema.VenueName:
		return r.VenueName
	case schema.EventNotes:
		return r.EventNotes
	case schema.PersonNoteDuring:
		return r.PersonNoteDuring
	case schema.CompletionStatus:
		return r.CompletionStatus
	}
	return ""
}

func (v *Validator) evaluateFilter(row Row) (bool, error) {
	params := make(map[string]interface{}, len(schema.KnownFields))
	for _, f := range schema.KnownFields {
		params[string(f)] = row.field(f)
	}
	result, err := v.filter.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("filter evaluation failed: %v", err)
	}
	keep, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter returned %T instead of a boolean", result)
	}
	return keep, nil
}
