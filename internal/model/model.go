// Package model holds the entity records written by an import.
//
// Each entity carries its natural key and the 1-based source rows that
// contributed to it, so persistence failures can be traced back to rows.
package model

import "time"

// Entity kinds in reconciliation order.
const (
	KindVenue      = "venue"
	KindTrainer    = "trainer"
	KindPerson     = "person"
	KindEvent      = "event"
	KindAttendance = "attendance"
)

// Attendance statuses.
const (
	StatusAttended  = "attended"
	StatusNoShow    = "no_show"
	StatusCancelled = "cancelled"
)

// RoleTrainer marks staff accounts created by imports.
const RoleTrainer = "trainer"

type Venue struct {
	Key  string
	Name string
	Rows []int
}

type Trainer struct {
	Key       string
	FirstName string
	LastName  string
	Handle    string
	Contact   string
	Role      string
	// Resurrect clears a soft-delete marker on an existing record.
	Resurrect bool
	Rows      []int
}

type Person struct {
	ExternalID  string
	FirstName   string
	LastName    string
	Contact     string
	InitialNote string
	Resurrect   bool
	Rows        []int
}

type Event struct {
	ExternalID string
	Type       string
	Content    string
	OccurredAt time.Time
	TrainerKey string
	VenueKey   string
	// TrainerID and VenueID are filled in from the store before the upsert.
	TrainerID int64
	VenueID   int64
	Rows      []int
}

type Attendance struct {
	PersonExternalID string
	EventExternalID  string
	NoteDuring       string
	CompletionNote   string
	Status           string
	PersonID         int64
	EventID          int64
	Rows             []int
}

// AttendanceRecord is one flattened row of the export view.
type AttendanceRecord struct {
	PersonExternalID string
	PersonFirstName  string
	PersonLastName   string
	EventExternalID  string
	EventType        string
	OccurredAt       time.Time
	TrainerFirstName string
	TrainerLastName  string
	VenueName        string
	Status           string
	NoteDuring       string
	CompletionNote   string
}
