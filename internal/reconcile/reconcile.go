// Package reconcile persists a resolved entity set in dependency order.
//
// Venues, trainers and people are written first, then events (which reference
// a trainer and a venue), then attendance (which references a person and an
// event). Each kind is split into chunks and every chunk is its own
// transaction: a failed chunk rolls back alone and everything that depends on
// it is skipped, while earlier chunks stay committed.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"attendance-import/internal/config"
	"attendance-import/internal/identity"
	"attendance-import/internal/logging"
	"attendance-import/internal/model"
	"attendance-import/internal/store"
)

// Options controls chunking.
type Options struct {
	BatchSize int
	TxTimeout time.Duration
}

// DefaultOptions matches the configuration defaults.
func DefaultOptions() Options {
	return Options{BatchSize: config.DefaultBatchSize, TxTimeout: config.DefaultTxTimeout}
}

// Failure is a set of rows that could not be saved for one reason.
type Failure struct {
	Entity string
	Rows   []int
	Reason string
}

// Result summarizes what was written.
type Result struct {
	Failures []Failure
	// Saved counts committed records per entity kind.
	Saved map[string]int
}

func newResult() *Result {
	return &Result{Saved: make(map[string]int)}
}

// Failed reports whether row could not be saved.
func (r *Result) Failed(row int) bool {
	for _, f := range r.Failures {
		for _, n := range f.Rows {
			if n == row {
				return true
			}
		}
	}
	return false
}

// FailedRows returns the sorted numbers of rows that could not be saved.
func (r *Result) FailedRows() []int {
	var rows []int
	for _, f := range r.Failures {
		rows = append(rows, f.Rows...)
	}
	return sortedUnique(rows)
}

func (r *Result) fail(entity, reason string, rows []int) {
	if len(rows) == 0 {
		return
	}
	r.Failures = append(r.Failures, Failure{Entity: entity, Rows: rows, Reason: reason})
}

// Reconciler writes entity sets to a store.
type Reconciler struct {
	store store.Store
	opts  Options
}

// New creates a Reconciler. Non-positive options fall back to the defaults.
func New(s store.Store, opts Options) *Reconciler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.DefaultBatchSize
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = config.DefaultTxTimeout
	}
	return &Reconciler{store: s, opts: opts}
}

// Reconcile writes set. Chunk failures are recorded in the Result; the
// returned error is non-nil only when the store itself is unusable or ctx
// was cancelled.
func (r *Reconciler) Reconcile(ctx context.Context, set *identity.Set) (*Result, error) {
	res := newResult()

	failedVenues, err := upsertChunks(ctx, r, res, model.KindVenue, set.Venues,
		func(v *model.Venue) string { return v.Key },
		func(v *model.Venue) []int { return v.Rows },
		store.Tx.UpsertVenues)
	if err != nil {
		return nil, err
	}
	failedTrainers, err := upsertChunks(ctx, r, res, model.KindTrainer, set.Trainers,
		func(t *model.Trainer) string { return t.Key },
		func(t *model.Trainer) []int { return t.Rows },
		store.Tx.UpsertTrainers)
	if err != nil {
		return nil, err
	}
	failedPeople, err := upsertChunks(ctx, r, res, model.KindPerson, set.People,
		func(p *model.Person) string { return p.ExternalID },
		func(p *model.Person) []int { return p.Rows },
		store.Tx.UpsertPeople)
	if err != nil {
		return nil, err
	}

	// Ids are assigned by the store, so events can only be built after the
	// venue and trainer chunks commit.
	venueIDs, err := r.store.VenueIDs(ctx, keysOf(set.Venues, failedVenues, func(v *model.Venue) string { return v.Key }))
	if err != nil {
		return nil, fmt.Errorf("re-reading venue ids: %w", err)
	}
	trainerIDs, err := r.store.TrainerIDs(ctx, keysOf(set.Trainers, failedTrainers, func(t *model.Trainer) string { return t.Key }))
	if err != nil {
		return nil, fmt.Errorf("re-reading trainer ids: %w", err)
	}

	var events []*model.Event
	var blockedEventRows []int
	failedEvents := make(map[string]bool)
	for _, e := range set.Events {
		trainerID, tOK := trainerIDs[e.TrainerKey]
		venueID, vOK := venueIDs[e.VenueKey]
		if !tOK || !vOK {
			failedEvents[e.ExternalID] = true
			blockedEventRows = append(blockedEventRows, e.Rows...)
			continue
		}
		e.TrainerID, e.VenueID = trainerID, venueID
		events = append(events, e)
	}
	res.fail(model.KindEvent, "not saved because its trainer or venue could not be saved", sortedUnique(blockedEventRows))

	failedChunkEvents, err := upsertChunks(ctx, r, res, model.KindEvent, events,
		func(e *model.Event) string { return e.ExternalID },
		func(e *model.Event) []int { return e.Rows },
		store.Tx.UpsertEvents)
	if err != nil {
		return nil, err
	}
	for k := range failedChunkEvents {
		failedEvents[k] = true
	}

	personIDs, err := r.store.PersonIDs(ctx, keysOf(set.People, failedPeople, func(p *model.Person) string { return p.ExternalID }))
	if err != nil {
		return nil, fmt.Errorf("re-reading person ids: %w", err)
	}
	eventIDs, err := r.store.EventIDs(ctx, keysOf(set.Events, failedEvents, func(e *model.Event) string { return e.ExternalID }))
	if err != nil {
		return nil, fmt.Errorf("re-reading event ids: %w", err)
	}

	var attendance []*model.Attendance
	var blockedAttendanceRows []int
	for _, a := range set.Attendance {
		personID, pOK := personIDs[a.PersonExternalID]
		eventID, eOK := eventIDs[a.EventExternalID]
		if !pOK || !eOK {
			blockedAttendanceRows = append(blockedAttendanceRows, a.Rows...)
			continue
		}
		a.PersonID, a.EventID = personID, eventID
		attendance = append(attendance, a)
	}
	res.fail(model.KindAttendance, "not saved because its person or event could not be saved", sortedUnique(blockedAttendanceRows))

	if _, err := upsertChunks(ctx, r, res, model.KindAttendance, attendance,
		func(a *model.Attendance) string { return a.PersonExternalID + "/" + a.EventExternalID },
		func(a *model.Attendance) []int { return a.Rows },
		store.Tx.UpsertAttendance); err != nil {
		return nil, err
	}

	logging.Logf(logging.Info, "Reconciliation finished: saved %v, %d chunk failures, %d rows not saved",
		res.Saved, len(res.Failures), len(res.FailedRows()))
	return res, nil
}

// upsertChunks writes items in chunks of BatchSize and returns the keys of
// items whose chunk failed.
func upsertChunks[T any](
	ctx context.Context,
	r *Reconciler,
	res *Result,
	kind string,
	items []T,
	keyOf func(T) string,
	rowsOf func(T) []int,
	write func(store.Tx, context.Context, []T) error,
) (map[string]bool, error) {
	failed := make(map[string]bool)
	for start := 0; start < len(items); start += r.opts.BatchSize {
		end := min(start+r.opts.BatchSize, len(items))
		chunk := items[start:end]
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("writing %s chunk %d-%d: %w", kind, start, end-1, err)
		}

		err := r.inChunkTx(ctx, func(txCtx context.Context, tx store.Tx) error {
			return write(tx, txCtx, chunk)
		})
		if err == nil {
			res.Saved[kind] += len(chunk)
			logging.Logf(logging.Debug, "Committed %s chunk %d-%d", kind, start, end-1)
			continue
		}
		// A cancelled parent is not the chunk's fault; only its own
		// tx_timeout is.
		if store.IsUnavailable(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("writing %s chunk %d-%d: %w", kind, start, end-1, err)
		}

		logging.Logf(logging.Error, "Chunk %d-%d of %s records failed and was rolled back: %v", start, end-1, kind, err)
		var rows []int
		for _, item := range chunk {
			failed[keyOf(item)] = true
			rows = append(rows, rowsOf(item)...)
		}
		res.fail(kind, fmt.Sprintf("%s records could not be saved", kind), sortedUnique(rows))
	}
	return failed, nil
}

// inChunkTx runs fn in one store transaction bounded by TxTimeout.
func (r *Reconciler) inChunkTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, r.opts.TxTimeout)
	defer cancel()
	return r.store.InTx(txCtx, func(tx store.Tx) error {
		return fn(txCtx, tx)
	})
}

func keysOf[T any](items []T, skip map[string]bool, keyOf func(T) string) []string {
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if k := keyOf(item); !skip[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

func sortedUnique(rows []int) []int {
	if len(rows) == 0 {
		return nil
	}
	sort.Ints(rows)
	out := rows[:1]
	for _, n := range rows[1:] {
		if n != out[len(out)-1] {
			out = append(out, n)
		}
	}
	return out
}
