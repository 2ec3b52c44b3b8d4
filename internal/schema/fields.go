// Package schema holds the canonical attendance vocabulary and maps raw
// spreadsheet headers onto it.
package schema

// Field is a canonical column name.
type Field string

// Canonical fields.
const (
	PersonID         Field = "person_id"
	PersonName       Field = "person_name"
	InitialNote      Field = "initial_note"
	EventID          Field = "event_id"
	EventDate        Field = "event_date"
	TrainerName      Field = "trainer_name"
	EventType        Field = "event_type"
	VenueName        Field = "venue_name"
	EventNotes       Field = "event_notes"
	PersonNoteDuring Field = "person_note_during"
	CompletionStatus Field = "completion_status"
)

// KnownFields lists every canonical field in a stable order.
var KnownFields = []Field{
	PersonID, PersonName, InitialNote, EventID, EventDate, TrainerName,
	EventType, VenueName, EventNotes, PersonNoteDuring, CompletionStatus,
}

// MandatoryFields must be present in the header row and non-empty in every row.
var MandatoryFields = []Field{PersonID, PersonName, EventID, EventDate, TrainerName}

// Completion values that change the derived attendance status.
const (
	CompletionNoShow    = "no_show"
	CompletionCancelled = "cancelled"
)

// IsKnown reports whether f is one of KnownFields.
func IsKnown(f Field) bool {
	for _, k := range KnownFields {
		if k == f {
			return true
		}
	}
	return false
}
