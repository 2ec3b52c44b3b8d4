// Package store defines the persistence contract of the import pipeline.
//
// Every write is an idempotent upsert keyed by the entity's natural key, so
// importing the same file twice converges on the same records.
package store

import (
	"context"
	"errors"

	"attendance-import/internal/model"
)

// ErrUnavailable marks failures of the store itself (unreachable, closed)
// as opposed to failures of one transaction's statements.
var ErrUnavailable = errors.New("store unavailable")

// Tx is a unit of work opened by Store.InTx.
type Tx interface {
	UpsertVenues(ctx context.Context, venues []*model.Venue) error
	UpsertTrainers(ctx context.Context, trainers []*model.Trainer) error
	UpsertPeople(ctx context.Context, people []*model.Person) error
	// UpsertEvents requires TrainerID and VenueID to be set.
	UpsertEvents(ctx context.Context, events []*model.Event) error
	// UpsertAttendance requires PersonID and EventID to be set.
	UpsertAttendance(ctx context.Context, records []*model.Attendance) error
}

// Store is implemented by the postgres and sqlite packages.
type Store interface {
	// InTx runs fn in a transaction that is committed when fn returns nil
	// and rolled back otherwise.
	InTx(ctx context.Context, fn func(Tx) error) error

	// The *IDs lookups map natural keys to assigned ids. Soft-deleted
	// records are included; keys without a record are absent.
	VenueIDs(ctx context.Context, keys []string) (map[string]int64, error)
	TrainerIDs(ctx context.Context, keys []string) (map[string]int64, error)
	PersonIDs(ctx context.Context, externalIDs []string) (map[string]int64, error)
	EventIDs(ctx context.Context, externalIDs []string) (map[string]int64, error)

	// ListAttendance returns the export view, skipping soft-deleted people
	// and trainers.
	ListAttendance(ctx context.Context) ([]model.AttendanceRecord, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// IsUnavailable reports whether err marks the store as unusable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
