package sqlite

import (
	"context"
	"fmt"

	"attendance-import/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormTx struct {
	db *gorm.DB
}

func resurrectExpr(table string, resurrect bool) clause.Expr {
	return gorm.Expr("CASE WHEN ? THEN NULL ELSE "+table+".deleted_at END", resurrect)
}

func (t *gormTx) upsert(ctx context.Context, entity string, i int, conflict clause.OnConflict, value interface{}) error {
	if err := t.db.WithContext(ctx).Clauses(conflict).Create(value).Error; err != nil {
		return fmt.Errorf("%s upsert #%d failed: %w", entity, i+1, err)
	}
	return nil
}

func (t *gormTx) UpsertVenues(ctx context.Context, venues []*model.Venue) error {
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "name_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
	}
	for i, v := range venues {
		if err := t.upsert(ctx, model.KindVenue, i, conflict, &venueRecord{NameKey: v.Key, Name: v.Name}); err != nil {
			return err
		}
	}
	return nil
}

func (t *gormTx) UpsertTrainers(ctx context.Context, trainers []*model.Trainer) error {
	for i, tr := range trainers {
		// Handle and contact are only set on insert.
		conflict := clause.OnConflict{
			Columns: []clause.Column{{Name: "name_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"first_name": gorm.Expr("excluded.first_name"),
				"last_name":  gorm.Expr("excluded.last_name"),
				"updated_at": gorm.Expr("excluded.updated_at"),
				"deleted_at": resurrectExpr("trainers", tr.Resurrect),
			}),
		}
		rec := &trainerRecord{
			NameKey:   tr.Key,
			FirstName: tr.FirstName,
			LastName:  tr.LastName,
			Handle:    tr.Handle,
			Contact:   tr.Contact,
			Role:      tr.Role,
		}
		if err := t.upsert(ctx, model.KindTrainer, i, conflict, rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *gormTx) UpsertPeople(ctx context.Context, people []*model.Person) error {
	for i, p := range people {
		conflict := clause.OnConflict{
			Columns: []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"first_name":   gorm.Expr("excluded.first_name"),
				"last_name":    gorm.Expr("excluded.last_name"),
				"initial_note": gorm.Expr("CASE WHEN people.initial_note = '' THEN excluded.initial_note ELSE people.initial_note END"),
				"updated_at":   gorm.Expr("excluded.updated_at"),
				"deleted_at":   resurrectExpr("people", p.Resurrect),
			}),
		}
		rec := &personRecord{
			ExternalID:  p.ExternalID,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			Contact:     p.Contact,
			InitialNote: p.InitialNote,
		}
		if err := t.upsert(ctx, model.KindPerson, i, conflict, rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *gormTx) UpsertEvents(ctx context.Context, events []*model.Event) error {
	conflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"event_type":  gorm.Expr("CASE WHEN excluded.event_type <> '' THEN excluded.event_type ELSE events.event_type END"),
			"content":     gorm.Expr("CASE WHEN events.content = '' THEN excluded.content ELSE events.content END"),
			"occurred_at": gorm.Expr("MIN(events.occurred_at, excluded.occurred_at)"),
			"trainer_id":  gorm.Expr("excluded.trainer_id"),
			"venue_id":    gorm.Expr("excluded.venue_id"),
			"updated_at":  gorm.Expr("excluded.updated_at"),
		}),
	}
	for i, e := range events {
		rec := &eventRecord{
			ExternalID: e.ExternalID,
			EventType:  e.Type,
			Content:    e.Content,
			OccurredAt: e.OccurredAt.UTC(),
			TrainerID:  e.TrainerID,
			VenueID:    e.VenueID,
		}
		if err := t.upsert(ctx, model.KindEvent, i, conflict, rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *gormTx) UpsertAttendance(ctx context.Context, records []*model.Attendance) error {
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "person_id"}, {Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"note_during", "completion_note", "status", "updated_at"}),
	}
	for i, a := range records {
		rec := &attendanceRecord{
			PersonID:       a.PersonID,
			EventID:        a.EventID,
			NoteDuring:     a.NoteDuring,
			CompletionNote: a.CompletionNote,
			Status:         a.Status,
		}
		if err := t.upsert(ctx, model.KindAttendance, i, conflict, rec); err != nil {
			return err
		}
	}
	return nil
}
