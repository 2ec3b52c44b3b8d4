package schema

import (
	"fmt"
	"sort"
	"strings"

	"attendance-import/internal/logging"
)

// MissingHeadersError is the structural failure raised when mandatory
// columns are absent from the header row.
type MissingHeadersError struct {
	Missing []string
	Found   []string
}

func (e *MissingHeadersError) Error() string {
	return fmt.Sprintf("missing mandatory columns: %s (found: %s)", strings.Join(e.Missing, ", "), strings.Join(e.Found, ", "))
}

// HeaderMap maps canonical fields to the raw header label carrying them.
type HeaderMap struct {
	Columns map[Field]string
	// Unknown lists passthrough names that are not part of the canonical schema.
	Unknown []string
}

// Label returns the raw header carrying f.
func (h HeaderMap) Label(f Field) (string, bool) {
	label, ok := h.Columns[f]
	return label, ok
}

// Found returns the sorted canonical names present in the header row.
func (h HeaderMap) Found() []string {
	found := make([]string, 0, len(h.Columns))
	for f := range h.Columns {
		found = append(found, string(f))
	}
	sort.Strings(found)
	return found
}

// Normalize maps raw header labels onto canonical fields using aliases.
// Labels without an alias pass through under their normalized form. When
// two labels resolve to the same field the leftmost one is kept.
// A *MissingHeadersError is returned when any mandatory field is absent.
func Normalize(headers []string, aliases *AliasTable) (HeaderMap, error) {
	hm := HeaderMap{Columns: make(map[Field]string, len(headers))}

	for _, raw := range headers {
		normalized := NormalizeLabel(raw)
		if normalized == "" {
			continue
		}
		field, ok := aliases.Resolve(normalized)
		if !ok {
			field = Field(normalized)
		}
		if existing, dup := hm.Columns[field]; dup {
			logging.Logf(logging.Warning, "Header '%s' also maps to '%s'; keeping column '%s'", raw, field, existing)
			continue
		}
		hm.Columns[field] = raw
		if !IsKnown(field) {
			hm.Unknown = append(hm.Unknown, string(field))
		}
	}

	var missing []string
	for _, f := range MandatoryFields {
		if _, ok := hm.Columns[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		return hm, &MissingHeadersError{Missing: missing, Found: hm.Found()}
	}

	if len(hm.Unknown) > 0 {
		logging.Logf(logging.Info, "Columns outside the canonical schema are ignored: %v", hm.Unknown)
	}
	return hm, nil
}
