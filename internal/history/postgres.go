package history

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/lib/pq"

	"github.com/surgery-scheduler-server/internal/domain"
)

const runsTable = "schedule_runs"

var pgRunColumns = []any{
	"id", "kind", "start_date", "surgery_count", "high_risk_count", "schedule", "errors", "created_at",
}

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
}

// NewPostgresStore creates a new PostgreSQL history store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db, dialect: goqu.Dialect("postgres")}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL history store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// DB exposes the underlying connection for health checks.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Save stores a new run.
func (s *PostgresStore) Save(ctx context.Context, run *domain.ScheduleRun) error {
	prepareRun(run)

	schedule, errs, err := encodeRun(run)
	if err != nil {
		return err
	}

	query, args, err := s.dialect.Insert(runsTable).Prepared(true).Rows(goqu.Record{
		"id":              run.ID,
		"kind":            string(run.Kind),
		"start_date":      run.StartDate,
		"surgery_count":   run.SurgeryCount,
		"high_risk_count": run.HighRiskCount,
		"schedule":        string(schedule),
		"errors":          string(errs),
		"created_at":      run.CreatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.ScheduleRun, error) {
	query, args, err := s.dialect.From(runsTable).Prepared(true).
		Select(pgRunColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return run, nil
}

// List returns runs, newest first, with pagination.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*domain.ScheduleRun, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("invalid pagination: limit=%d offset=%d", limit, offset)
	}
	query, args, err := s.dialect.From(runsTable).Prepared(true).
		Select(pgRunColumns...).
		Order(goqu.I("created_at").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*domain.ScheduleRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// Count returns the total number of runs.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	query, args, err := s.dialect.From(runsTable).Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	var count int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// Delete removes a run by ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query, args, err := s.dialect.Delete(runsTable).Prepared(true).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ExportJSON exports all runs to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportRuns(ctx, s, writer)
}

// ImportJSON imports runs from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importRuns(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
