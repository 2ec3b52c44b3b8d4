package sqlite

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"attendance-import/internal/model"
	"attendance-import/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a private shared-cache in-memory database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func day(d int) time.Time { return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC) }

// seed writes one venue, trainer, person, event and attendance record.
func seed(t *testing.T, s *Store, occurred time.Time, content, note string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpsertVenues(ctx, []*model.Venue{{Key: "main hall", Name: "Main Hall"}}); err != nil {
			return err
		}
		if err := tx.UpsertTrainers(ctx, []*model.Trainer{{Key: "sam lee", FirstName: "Sam", LastName: "Lee", Handle: "samlee_1", Contact: "samlee_1@x", Role: model.RoleTrainer, Resurrect: true}}); err != nil {
			return err
		}
		return tx.UpsertPeople(ctx, []*model.Person{{ExternalID: "P1", FirstName: "Ada", LastName: "Lovelace", Contact: "person-p1@x", InitialNote: "first note", Resurrect: true}})
	}))

	venues, err := s.VenueIDs(ctx, []string{"main hall"})
	require.NoError(t, err)
	trainers, err := s.TrainerIDs(ctx, []string{"sam lee"})
	require.NoError(t, err)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.UpsertEvents(ctx, []*model.Event{{ExternalID: "E1", Content: content, OccurredAt: occurred, TrainerID: trainers["sam lee"], VenueID: venues["main hall"]}})
	}))

	people, err := s.PersonIDs(ctx, []string{"P1"})
	require.NoError(t, err)
	events, err := s.EventIDs(ctx, []string{"E1"})
	require.NoError(t, err)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.UpsertAttendance(ctx, []*model.Attendance{{PersonID: people["P1"], EventID: events["E1"], NoteDuring: note, Status: model.StatusAttended}})
	}))
}

func count(t *testing.T, s *Store, table interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Unscoped().Model(table).Count(&n).Error)
	return n
}

func TestUpsertsAreIdempotent(t *testing.T) {
	s := newTestStore(t)

	seed(t, s, day(10), "", "first run")
	seed(t, s, day(10), "", "second run")

	assert.Equal(t, int64(1), count(t, s, &venueRecord{}))
	assert.Equal(t, int64(1), count(t, s, &trainerRecord{}))
	assert.Equal(t, int64(1), count(t, s, &personRecord{}))
	assert.Equal(t, int64(1), count(t, s, &eventRecord{}))
	assert.Equal(t, int64(1), count(t, s, &attendanceRecord{}))

	records, err := s.ListAttendance(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second run", records[0].NoteDuring)
	assert.Equal(t, "Main Hall", records[0].VenueName)
	assert.Equal(t, "Sam", records[0].TrainerFirstName)
}

func TestEventKeepsEarliestTimeAndFirstContent(t *testing.T) {
	s := newTestStore(t)

	seed(t, s, day(10), "", "a")
	seed(t, s, day(5), "Intro session", "b")
	seed(t, s, day(7), "Replacement", "c")

	var ev eventRecord
	require.NoError(t, s.db.Where("external_id = ?", "E1").First(&ev).Error)
	assert.True(t, day(5).Equal(ev.OccurredAt), "got %s", ev.OccurredAt)
	assert.Equal(t, "Intro session", ev.Content)
}

func TestPersonInitialNoteIsOnlyFilledOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	upsert := func(note, last string) {
		require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
			return tx.UpsertPeople(ctx, []*model.Person{{ExternalID: "P1", FirstName: "Ada", LastName: last, Contact: "c", InitialNote: note}})
		}))
	}
	upsert("", "Lovelace")
	upsert("filled later", "King")
	upsert("ignored", "Byron")

	var p personRecord
	require.NoError(t, s.db.Where("external_id = ?", "P1").First(&p).Error)
	assert.Equal(t, "filled later", p.InitialNote)
	assert.Equal(t, "Byron", p.LastName)
}

func TestSoftDeletedIdentities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, day(5), "", "note")

	require.NoError(t, s.db.Where("external_id = ?", "P1").Delete(&personRecord{}).Error)

	records, err := s.ListAttendance(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "soft-deleted people are hidden from the export")

	ids, err := s.PersonIDs(ctx, []string{"P1"})
	require.NoError(t, err)
	assert.Contains(t, ids, "P1", "lookups include soft-deleted records")

	// Without resurrection the record is updated but stays deleted.
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.UpsertPeople(ctx, []*model.Person{{ExternalID: "P1", FirstName: "Ada", Contact: "c", Resurrect: false}})
	}))
	records, err = s.ListAttendance(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.UpsertPeople(ctx, []*model.Person{{ExternalID: "P1", FirstName: "Ada", Contact: "c", Resurrect: true}})
	}))
	records, err = s.ListAttendance(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int64(1), count(t, s, &personRecord{}))
}

func TestFailedTransactionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpsertVenues(ctx, []*model.Venue{{Key: "hall", Name: "Hall"}}); err != nil {
			return err
		}
		// Unknown trainer and venue ids violate the foreign keys.
		return tx.UpsertEvents(ctx, []*model.Event{{ExternalID: "E9", OccurredAt: day(1), TrainerID: 999, VenueID: 999}})
	})
	require.Error(t, err)
	assert.False(t, store.IsUnavailable(err))
	assert.Contains(t, err.Error(), "event upsert #1 failed")
	assert.Equal(t, int64(0), count(t, s, &venueRecord{}))
}

func TestLookupIDsSkipsUnknownKeys(t *testing.T) {
	s := newTestStore(t)
	ids, err := s.VenueIDs(context.Background(), []string{"nowhere"})
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.EventIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s, err := Open("file:closed_store?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Ping(context.Background())
	assert.True(t, store.IsUnavailable(err), "got %v", err)
}
