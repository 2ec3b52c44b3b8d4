// Package identity deduplicates validated rows into the entities they describe.
//
// Resolution is in-memory and runs over every valid row before anything is
// written, since a later row may complete an entity first seen earlier.
package identity

import (
	"strconv"
	"strings"
	"unicode"

	"attendance-import/internal/config"
	"attendance-import/internal/logging"
	"attendance-import/internal/model"
	"attendance-import/internal/processor"
	"attendance-import/internal/schema"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// maxHandleBase bounds the readable part of a synthesized trainer handle.
const maxHandleBase = 24

// Options tunes synthesized values.
type Options struct {
	ContactDomain    string
	UnspecifiedVenue string
	ResurrectDeleted bool
}

// DefaultOptions matches the configuration defaults.
func DefaultOptions() Options {
	return Options{
		ContactDomain:    config.DefaultContactDomain,
		UnspecifiedVenue: config.DefaultUnspecifiedVenue,
		ResurrectDeleted: true,
	}
}

// OptionsFromConfig builds Options from the identity config section.
func OptionsFromConfig(cfg config.IdentityConfig) Options {
	return Options{
		ContactDomain:    cfg.ContactDomain,
		UnspecifiedVenue: cfg.UnspecifiedVenue,
		ResurrectDeleted: cfg.Resurrect(),
	}
}

// Set is the deduplicated result of one import. Slices are in order of
// first appearance; the maps index the same pointers by natural key.
type Set struct {
	Venues     []*model.Venue
	Trainers   []*model.Trainer
	People     []*model.Person
	Events     []*model.Event
	Attendance []*model.Attendance

	venues     map[string]*model.Venue
	trainers   map[string]*model.Trainer
	people     map[string]*model.Person
	events     map[string]*model.Event
	attendance map[AttendanceKey]*model.Attendance
}

// AttendanceKey identifies an attendance record by its natural parts.
type AttendanceKey struct {
	PersonID string
	EventID  string
}

// Venue returns the venue with the given key.
func (s *Set) Venue(key string) (*model.Venue, bool) {
	v, ok := s.venues[key]
	return v, ok
}

// Trainer returns the trainer with the given key.
func (s *Set) Trainer(key string) (*model.Trainer, bool) {
	t, ok := s.trainers[key]
	return t, ok
}

// Person returns the person with the given external id.
func (s *Set) Person(id string) (*model.Person, bool) {
	p, ok := s.people[id]
	return p, ok
}

// Event returns the event with the given external id.
func (s *Set) Event(id string) (*model.Event, bool) {
	e, ok := s.events[id]
	return e, ok
}

// AttendanceFor returns the attendance record for a person and event.
func (s *Set) AttendanceFor(personID, eventID string) (*model.Attendance, bool) {
	a, ok := s.attendance[AttendanceKey{PersonID: personID, EventID: eventID}]
	return a, ok
}

// Resolve builds the entity set for rows.
func Resolve(rows []processor.Row, opts Options) *Set {
	if opts.UnspecifiedVenue == "" {
		opts.UnspecifiedVenue = config.DefaultUnspecifiedVenue
	}
	if opts.ContactDomain == "" {
		opts.ContactDomain = config.DefaultContactDomain
	}

	s := &Set{
		venues:     make(map[string]*model.Venue),
		trainers:   make(map[string]*model.Trainer),
		people:     make(map[string]*model.Person),
		events:     make(map[string]*model.Event),
		attendance: make(map[AttendanceKey]*model.Attendance),
	}
	for _, row := range rows {
		venueKey := s.addVenue(row, opts)
		trainerKey := s.addTrainer(row, opts)
		s.addPerson(row, opts)
		s.addEvent(row, trainerKey, venueKey)
		s.addAttendance(row)
	}

	logging.Logf(logging.Info, "Resolved %d rows into %d venues, %d trainers, %d people, %d events, %d attendance records",
		len(rows), len(s.Venues), len(s.Trainers), len(s.People), len(s.Events), len(s.Attendance))
	return s
}

func (s *Set) addVenue(row processor.Row, opts Options) string {
	name := CollapseSpaces(row.VenueName)
	if name == "" {
		name = opts.UnspecifiedVenue
	}
	key := NameKey(name)
	v, ok := s.venues[key]
	if !ok {
		v = &model.Venue{Key: key, Name: name}
		s.venues[key] = v
		s.Venues = append(s.Venues, v)
	}
	v.Rows = append(v.Rows, row.Number)
	return key
}

func (s *Set) addTrainer(row processor.Row, opts Options) string {
	name := CollapseSpaces(row.TrainerName)
	key := NameKey(name)
	t, ok := s.trainers[key]
	if !ok {
		first, last := SplitName(name)
		handle := Handle(key)
		t = &model.Trainer{
			Key:       key,
			FirstName: first,
			LastName:  last,
			Handle:    handle,
			Contact:   handle + "@" + opts.ContactDomain,
			Role:      model.RoleTrainer,
			Resurrect: opts.ResurrectDeleted,
		}
		s.trainers[key] = t
		s.Trainers = append(s.Trainers, t)
	}
	t.Rows = append(t.Rows, row.Number)
	return key
}

func (s *Set) addPerson(row processor.Row, opts Options) {
	id := row.PersonID
	p, ok := s.people[id]
	if !ok {
		p = &model.Person{
			ExternalID: id,
			Contact:    "person-" + slug(id) + "@" + opts.ContactDomain,
			Resurrect:  opts.ResurrectDeleted,
		}
		s.people[id] = p
		s.People = append(s.People, p)
	}
	// Names follow the latest row.
	p.FirstName, p.LastName = SplitName(CollapseSpaces(row.PersonName))
	if p.InitialNote == "" {
		p.InitialNote = row.InitialNote
	}
	p.Rows = append(p.Rows, row.Number)
}

func (s *Set) addEvent(row processor.Row, trainerKey, venueKey string) {
	e, ok := s.events[row.EventID]
	if !ok {
		e = &model.Event{
			ExternalID: row.EventID,
			OccurredAt: row.EventDate,
			TrainerKey: trainerKey,
			VenueKey:   venueKey,
		}
		s.events[row.EventID] = e
		s.Events = append(s.Events, e)
	} else {
		if row.EventDate.Before(e.OccurredAt) {
			e.OccurredAt = row.EventDate
		}
		if e.TrainerKey != trainerKey || e.VenueKey != venueKey {
			logging.Logf(logging.Debug, "Row %d names a different trainer or venue for event '%s'; keeping the first", row.Number, row.EventID)
		}
	}
	if e.Content == "" {
		e.Content = row.EventNotes
	}
	if e.Type == "" {
		e.Type = row.EventType
	}
	e.Rows = append(e.Rows, row.Number)
}

func (s *Set) addAttendance(row processor.Row) {
	key := AttendanceKey{PersonID: row.PersonID, EventID: row.EventID}
	a, ok := s.attendance[key]
	if !ok {
		a = &model.Attendance{PersonExternalID: row.PersonID, EventExternalID: row.EventID}
		s.attendance[key] = a
		s.Attendance = append(s.Attendance, a)
	}
	a.NoteDuring = row.PersonNoteDuring
	a.CompletionNote = row.CompletionStatus
	a.Status = StatusFor(row.CompletionStatus)
	a.Rows = append(a.Rows, row.Number)
}

// StatusFor derives an attendance status from a canonical completion value.
func StatusFor(completion string) string {
	switch completion {
	case schema.CompletionNoShow:
		return model.StatusNoShow
	case schema.CompletionCancelled:
		return model.StatusCancelled
	}
	return model.StatusAttended
}

// NameKey is the natural key of a name: compatibility-normalized,
// case-folded and with whitespace runs collapsed to one space.
func NameKey(name string) string {
	return CollapseSpaces(cases.Fold().String(norm.NFKC.String(name)))
}

// CollapseSpaces trims s and collapses internal whitespace, including
// non-breaking spaces, to single spaces.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SplitName splits a full name into the first token and the remainder.
func SplitName(full string) (first, last string) {
	first, last, _ = strings.Cut(CollapseSpaces(full), " ")
	return first, last
}

// Handle synthesizes a login handle for a trainer name key. It is stable
// across imports so re-importing a name never creates a second account.
func Handle(key string) string {
	var b strings.Builder
	for _, r := range key {
		if b.Len() >= maxHandleBase {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	base := b.String()
	if base == "" {
		base = "trainer"
	}
	return base + "_" + strconv.FormatUint(xxhash.Sum64String(key), 36)
}

func slug(id string) string {
	s := strings.ReplaceAll(schema.NormalizeLabel(id), "_", "-")
	if s == "" {
		return strconv.FormatUint(xxhash.Sum64String(id), 36)
	}
	return s
}
