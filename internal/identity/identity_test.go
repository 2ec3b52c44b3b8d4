package identity

import (
	"strings"
	"testing"
	"time"

	"attendance-import/internal/model"
	"attendance-import/internal/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time { return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC) }

func row(n int, personID, personName, eventID string, date time.Time, trainer string) processor.Row {
	return processor.Row{
		Number:      n,
		PersonID:    personID,
		PersonName:  personName,
		EventID:     eventID,
		EventDate:   date,
		TrainerName: trainer,
	}
}

func TestResolveEventReconciliation(t *testing.T) {
	first := row(2, "P1", "Ada Lovelace", "E1", day(10), "Sam Trainer")
	second := row(3, "P2", "Bob Stone", "E1", day(5), "Sam Trainer")
	second.EventNotes = "Intro session"

	set := Resolve([]processor.Row{first, second}, DefaultOptions())

	require.Len(t, set.Events, 1)
	e := set.Events[0]
	assert.Equal(t, "E1", e.ExternalID)
	assert.Equal(t, day(5), e.OccurredAt)
	assert.Equal(t, "Intro session", e.Content)
	assert.Equal(t, []int{2, 3}, e.Rows)
}

func TestResolveEventContentFirstNonEmptyWins(t *testing.T) {
	a := row(2, "P1", "Ada", "E1", day(5), "Sam")
	a.EventNotes = "first"
	a.EventType = "private"
	b := row(3, "P2", "Bob", "E1", day(5), "Sam")
	b.EventNotes = "second"
	b.EventType = "group"

	set := Resolve([]processor.Row{a, b}, DefaultOptions())
	e, ok := set.Event("E1")
	require.True(t, ok)
	assert.Equal(t, "first", e.Content)
	assert.Equal(t, "private", e.Type)
}

func TestResolveDeduplicatesByNaturalKey(t *testing.T) {
	rows := []processor.Row{
		row(2, "P1", "Ada Lovelace", "E1", day(5), "Sam Trainer"),
		row(3, "P1", "Ada  King", "E2", day(6), "  SAM   trainer "),
		row(4, "P2", "Bob", "E2", day(6), "Kim Lee"),
	}
	rows[0].VenueName = "Main Hall"
	rows[1].VenueName = "main hall"

	set := Resolve(rows, DefaultOptions())

	require.Len(t, set.People, 2)
	assert.Equal(t, "Ada", set.People[0].FirstName)
	assert.Equal(t, "King", set.People[0].LastName, "latest row wins for names")
	assert.Equal(t, []int{2, 3}, set.People[0].Rows)

	require.Len(t, set.Trainers, 2)
	assert.Equal(t, "sam trainer", set.Trainers[0].Key)
	assert.Equal(t, "Sam", set.Trainers[0].FirstName)
	assert.Equal(t, model.RoleTrainer, set.Trainers[0].Role)
	assert.Equal(t, []int{2, 3}, set.Trainers[0].Rows)

	require.Len(t, set.Venues, 2)
	assert.Equal(t, "Main Hall", set.Venues[0].Name)
	assert.Equal(t, []int{2, 3}, set.Venues[0].Rows)
	assert.Equal(t, "Unspecified", set.Venues[1].Name)
	assert.Equal(t, "unspecified", set.Venues[1].Key)

	require.Len(t, set.Events, 2)
	assert.Equal(t, "main hall", set.Events[1].VenueKey, "first row of the event names the venue")
	assert.Len(t, set.Attendance, 3)
}

func TestResolveAttendanceLastRowWins(t *testing.T) {
	a := row(2, "P1", "Ada", "E1", day(5), "Sam")
	a.PersonNoteDuring = "nervous"
	a.CompletionStatus = "Great"
	b := row(3, "P1", "Ada", "E1", day(5), "Sam")
	b.PersonNoteDuring = "relaxed"
	b.CompletionStatus = "no_show"

	set := Resolve([]processor.Row{a, b}, DefaultOptions())
	require.Len(t, set.Attendance, 1)
	att, ok := set.AttendanceFor("P1", "E1")
	require.True(t, ok)
	assert.Equal(t, "relaxed", att.NoteDuring)
	assert.Equal(t, "no_show", att.CompletionNote)
	assert.Equal(t, model.StatusNoShow, att.Status)
	assert.Equal(t, []int{2, 3}, att.Rows)
}

func TestResolveInitialNoteFirstNonEmpty(t *testing.T) {
	a := row(2, "P1", "Ada", "E1", day(5), "Sam")
	b := row(3, "P1", "Ada", "E2", day(6), "Sam")
	b.InitialNote = "referred by a friend"
	c := row(4, "P1", "Ada", "E3", day(7), "Sam")
	c.InitialNote = "later note"

	set := Resolve([]processor.Row{a, b, c}, DefaultOptions())
	p, ok := set.Person("P1")
	require.True(t, ok)
	assert.Equal(t, "referred by a friend", p.InitialNote)
}

func TestSynthesizedContacts(t *testing.T) {
	opts := Options{ContactDomain: "example.org", UnspecifiedVenue: "Nowhere", ResurrectDeleted: false}
	set := Resolve([]processor.Row{row(2, "Cust 0042", "Ada", "E1", day(5), "Zoë O'Neil")}, opts)

	assert.Equal(t, "person-cust-0042@example.org", set.People[0].Contact)
	assert.False(t, set.People[0].Resurrect)
	assert.Equal(t, "Nowhere", set.Venues[0].Name)

	tr := set.Trainers[0]
	assert.True(t, strings.HasPrefix(tr.Handle, "zooneil_"), tr.Handle)
	assert.Equal(t, tr.Handle+"@example.org", tr.Contact)
}

func TestHandleIsStable(t *testing.T) {
	assert.Equal(t, Handle("sam trainer"), Handle("sam trainer"))
	assert.NotEqual(t, Handle("sam trainer"), Handle("sam trainers"))
	assert.True(t, strings.HasPrefix(Handle("株式"), "trainer_"))
	long := Handle(strings.Repeat("a", 60))
	assert.True(t, strings.HasPrefix(long, strings.Repeat("a", maxHandleBase)+"_"))
}

func TestSplitName(t *testing.T) {
	testCases := []struct {
		in, first, last string
	}{
		{"Ada Lovelace", "Ada", "Lovelace"},
		{"  Mary  Ann   Evans ", "Mary", "Ann Evans"},
		{"Cher", "Cher", ""},
		{"", "", ""},
	}
	for _, tc := range testCases {
		first, last := SplitName(tc.in)
		assert.Equal(t, tc.first, first, tc.in)
		assert.Equal(t, tc.last, last, tc.in)
	}
}

func TestNameKey(t *testing.T) {
	assert.Equal(t, "sam trainer", NameKey("Sam  TRAINER "))
	assert.Equal(t, "strasse", NameKey("Straße"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, model.StatusAttended, StatusFor(""))
	assert.Equal(t, model.StatusAttended, StatusFor("4"))
	assert.Equal(t, model.StatusCancelled, StatusFor("cancelled"))
	assert.Equal(t, model.StatusNoShow, StatusFor("no_show"))
}
