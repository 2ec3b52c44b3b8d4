// Package sqlite implements store.Store on SQLite through GORM. It backs
// single-node deployments and the pipeline tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"attendance-import/internal/logging"
	"attendance-import/internal/model"
	"attendance-import/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// lookupChunk bounds the number of bound parameters in one IN (...) list.
const lookupChunk = 500

// Store is a GORM-backed store.Store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// gormWriter routes GORM's logger through the application logger.
type gormWriter struct{}

func (gormWriter) Printf(format string, v ...interface{}) {
	logging.Logf(logging.Warning, format, v...)
}

// Open opens the SQLite database at dsn. A single connection is used, which
// serializes writers and keeps shared in-memory databases alive.
func Open(dsn string) (*Store, error) {
	gormLogger := logger.New(gormWriter{}, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open sqlite database: %v", store.ErrUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("%w: enabling foreign keys: %v", store.ErrUnavailable, err)
	}

	logging.Logf(logging.Debug, "SQLite database opened at %s", dsn)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return classify(err)
	}
	return classify(sqlDB.PingContext(ctx))
}

// Migrate creates or updates the schema with AutoMigrate.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allRecords...); err != nil {
		return classify(fmt.Errorf("GORM AutoMigrate failed: %w", err))
	}
	logging.Logf(logging.Info, "SQLite schema is up to date")
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
	return classify(err)
}

func (s *Store) VenueIDs(ctx context.Context, keys []string) (map[string]int64, error) {
	return s.lookupIDs(ctx, &venueRecord{}, "name_key", keys)
}

func (s *Store) TrainerIDs(ctx context.Context, keys []string) (map[string]int64, error) {
	return s.lookupIDs(ctx, &trainerRecord{}, "name_key", keys)
}

func (s *Store) PersonIDs(ctx context.Context, externalIDs []string) (map[string]int64, error) {
	return s.lookupIDs(ctx, &personRecord{}, "external_id", externalIDs)
}

func (s *Store) EventIDs(ctx context.Context, externalIDs []string) (map[string]int64, error) {
	return s.lookupIDs(ctx, &eventRecord{}, "external_id", externalIDs)
}

type keyID struct {
	NaturalKey string
	ID         int64
}

func (s *Store) lookupIDs(ctx context.Context, table interface{}, column string, keys []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(keys))
	for start := 0; start < len(keys); start += lookupChunk {
		end := min(start+lookupChunk, len(keys))

		var found []keyID
		err := s.db.WithContext(ctx).Unscoped().Model(table).
			Select(column+" AS natural_key, id").
			Where(column+" IN ?", keys[start:end]).
			Scan(&found).Error
		if err != nil {
			return nil, classify(fmt.Errorf("id lookup on %s failed: %w", column, err))
		}
		for _, f := range found {
			ids[f.NaturalKey] = f.ID
		}
	}
	return ids, nil
}

func (s *Store) ListAttendance(ctx context.Context) ([]model.AttendanceRecord, error) {
	var out []model.AttendanceRecord
	err := s.db.WithContext(ctx).Table("attendance AS a").
		Select(`p.external_id AS person_external_id, p.first_name AS person_first_name, p.last_name AS person_last_name,
			e.external_id AS event_external_id, e.event_type AS event_type, e.occurred_at AS occurred_at,
			t.first_name AS trainer_first_name, t.last_name AS trainer_last_name, v.name AS venue_name,
			a.status AS status, a.note_during AS note_during, a.completion_note AS completion_note`).
		Joins("JOIN people p ON p.id = a.person_id").
		Joins("JOIN events e ON e.id = a.event_id").
		Joins("JOIN trainers t ON t.id = e.trainer_id").
		Joins("JOIN venues v ON v.id = e.venue_id").
		Where("p.deleted_at IS NULL AND t.deleted_at IS NULL").
		Order("e.occurred_at, e.external_id, p.external_id").
		Scan(&out).Error
	if err != nil {
		return nil, classify(fmt.Errorf("attendance query failed: %w", err))
	}
	for i := range out {
		out[i].OccurredAt = out[i].OccurredAt.UTC()
	}
	return out, nil
}

// classify marks a closed database as unavailable; other errors fail only
// the current transaction.
func classify(err error) error {
	if err == nil || errors.Is(err, store.ErrUnavailable) {
		return err
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}
