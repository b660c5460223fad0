// Package history persists schedule runs so produced schedules can be
// listed, reloaded and exported after the request that created them.
package history

import (
	"context"
	"io"
	"time"

	"github.com/surgery-scheduler-server/internal/domain"
)

// Store defines the interface for schedule run storage operations.
type Store interface {
	// Save assigns an ID and creation time if missing and stores the run.
	Save(ctx context.Context, run *domain.ScheduleRun) error

	// Get retrieves a run by ID. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*domain.ScheduleRun, error)

	// List returns runs, newest first, with pagination.
	List(ctx context.Context, limit, offset int) ([]*domain.ScheduleRun, error)

	// Count returns the total number of stored runs.
	Count(ctx context.Context) (int64, error)

	// Delete removes a run by ID. Returns domain.ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// ExportJSON exports all runs to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports runs from a JSON reader, skipping IDs already stored.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// RunExport represents the JSON export format.
type RunExport struct {
	Version    string                `json:"version"`
	ExportedAt time.Time             `json:"exported_at"`
	Count      int                   `json:"count"`
	Runs       []*domain.ScheduleRun `json:"runs"`
}

const exportVersion = "1.0"

// maxExportLimit is the maximum number of runs to export at once.
const maxExportLimit = 1000000
