package postgres

import (
	"context"
	"fmt"

	"attendance-import/internal/logging"
	"attendance-import/internal/model"

	"github.com/jackc/pgx/v5"
)

// pgTx queues one statement per entity into a pgx.Batch.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UpsertVenues(ctx context.Context, venues []*model.Venue) error {
	return t.send(ctx, model.KindVenue, venueBatch(venues))
}

func (t *pgTx) UpsertTrainers(ctx context.Context, trainers []*model.Trainer) error {
	return t.send(ctx, model.KindTrainer, trainerBatch(trainers))
}

func (t *pgTx) UpsertPeople(ctx context.Context, people []*model.Person) error {
	return t.send(ctx, model.KindPerson, personBatch(people))
}

func (t *pgTx) UpsertEvents(ctx context.Context, events []*model.Event) error {
	return t.send(ctx, model.KindEvent, eventBatch(events))
}

func (t *pgTx) UpsertAttendance(ctx context.Context, records []*model.Attendance) error {
	return t.send(ctx, model.KindAttendance, attendanceBatch(records))
}

// send executes the batch and reports the first failing statement.
func (t *pgTx) send(ctx context.Context, entity string, batch *pgx.Batch) error {
	n := batch.Len()
	if n == 0 {
		return nil
	}
	logging.Logf(logging.Debug, "Sending %s batch of %d statements", entity, n)

	br := t.tx.SendBatch(ctx, batch)
	var firstErr error
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s upsert #%d failed: %w", entity, i+1, err)
		}
	}
	if err := br.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed closing %s batch results: %w", entity, err)
	}
	return firstErr
}

func venueBatch(venues []*model.Venue) *pgx.Batch {
	b := &pgx.Batch{}
	for _, v := range venues {
		b.Queue(upsertVenueSQL, v.Key, v.Name)
	}
	return b
}

func trainerBatch(trainers []*model.Trainer) *pgx.Batch {
	b := &pgx.Batch{}
	for _, tr := range trainers {
		b.Queue(upsertTrainerSQL, tr.Key, tr.FirstName, tr.LastName, tr.Handle, tr.Contact, tr.Role, tr.Resurrect)
	}
	return b
}

func personBatch(people []*model.Person) *pgx.Batch {
	b := &pgx.Batch{}
	for _, p := range people {
		b.Queue(upsertPersonSQL, p.ExternalID, p.FirstName, p.LastName, p.Contact, p.InitialNote, p.Resurrect)
	}
	return b
}

func eventBatch(events []*model.Event) *pgx.Batch {
	b := &pgx.Batch{}
	for _, e := range events {
		b.Queue(upsertEventSQL, e.ExternalID, e.Type, e.Content, e.OccurredAt.UTC(), e.TrainerID, e.VenueID)
	}
	return b
}

func attendanceBatch(records []*model.Attendance) *pgx.Batch {
	b := &pgx.Batch{}
	for _, a := range records {
		b.Queue(upsertAttendanceSQL, a.PersonID, a.EventID, a.NoteDuring, a.CompletionNote, a.Status)
	}
	return b
}
