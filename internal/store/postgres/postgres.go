// Package postgres implements store.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"time"

	"attendance-import/internal/logging"
	"attendance-import/internal/model"
	"attendance-import/internal/store"
	"attendance-import/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// rollbackTimeout bounds a rollback issued after the caller's context is done.
const rollbackTimeout = 5 * time.Second

// pgxPoolNewFunc allows overriding pgxpool.NewWithConfig for testing.
var pgxPoolNewFunc = pgxpool.NewWithConfig

// Store is a pgx-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open creates a connection pool for dsn. maxConns <= 0 keeps the pgx default.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	expanded := util.ExpandEnvUniversal(dsn)
	masked := util.MaskCredentials(expanded)

	poolCfg, err := pgxpool.ParseConfig(expanded)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection string (%s): %w", masked, err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxPoolNewFunc(ctx, poolCfg)
	if err != nil {
		logging.Logf(logging.Error, "Failed to create connection pool: %s", masked)
		return nil, fmt.Errorf("%w: failed to create connection pool (using %s): %v", store.ErrUnavailable, masked, err)
	}
	logging.Logf(logging.Debug, "PostgreSQL pool created for %s (max conns %d)", masked, poolCfg.MaxConns)
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that a connection can be acquired.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

// gooseLogger routes goose output through the application logger.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) {
	logging.Logf(logging.Info, format, v...)
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	logging.Logf(logging.Error, format, v...)
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return classify(fmt.Errorf("applying migrations: %w", err))
	}
	return nil
}

// InTx runs fn in one transaction. The rollback on failure uses its own
// short-lived context so an expired caller context cannot leak the transaction.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		rbCtx, rbCancel := context.WithTimeout(context.Background(), rollbackTimeout)
		defer rbCancel()
		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logging.Logf(logging.Error, "Failed to rollback transaction: %v", rbErr)
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	committed = true
	return nil
}

func (s *Store) VenueIDs(ctx context.Context, keys []string) (map[string]int64, error) {
	return s.lookupIDs(ctx, venueIDsSQL, keys)
}

func (s *Store) TrainerIDs(ctx context.Context, keys []string) (map[string]int64, error) {
	return s.lookupIDs(ctx, trainerIDsSQL, keys)
}

func (s *Store) PersonIDs(ctx context.Context, externalIDs []string) (map[string]int64, error) {
	return s.lookupIDs(ctx, personIDsSQL, externalIDs)
}

func (s *Store) EventIDs(ctx context.Context, externalIDs []string) (map[string]int64, error) {
	return s.lookupIDs(ctx, eventIDsSQL, externalIDs)
}

func (s *Store) lookupIDs(ctx context.Context, query string, keys []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return ids, nil
	}
	rows, err := s.pool.Query(ctx, query, keys)
	if err != nil {
		return nil, classify(fmt.Errorf("id lookup failed: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var id int64
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("failed to scan id row: %w", err)
		}
		ids[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("error during id lookup: %w", err))
	}
	return ids, nil
}

// ListAttendance reads the flattened export view.
func (s *Store) ListAttendance(ctx context.Context) ([]model.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx, listAttendanceSQL)
	if err != nil {
		return nil, classify(fmt.Errorf("attendance query failed: %w", err))
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AttendanceRecord, error) {
		var r model.AttendanceRecord
		err := row.Scan(
			&r.PersonExternalID, &r.PersonFirstName, &r.PersonLastName,
			&r.EventExternalID, &r.EventType, &r.OccurredAt,
			&r.TrainerFirstName, &r.TrainerLastName, &r.VenueName,
			&r.Status, &r.NoteDuring, &r.CompletionNote,
		)
		r.OccurredAt = r.OccurredAt.UTC()
		return r, err
	})
	if err != nil {
		return nil, classify(fmt.Errorf("reading attendance rows: %w", err))
	}
	return records, nil
}

// classify wraps connection-level failures in store.ErrUnavailable. Statement
// errors and timeouts are returned unchanged so callers fail only the
// current transaction.
func classify(err error) error {
	if err == nil || errors.Is(err, store.ErrUnavailable) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		logging.Logf(logging.Error, "PostgreSQL error. Code: %s, Message: %s, Detail: %s", pgErr.Code, pgErr.Message, pgErr.Detail)
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}
