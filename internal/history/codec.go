package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/surgery-scheduler-server/internal/domain"
)

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const runColumns = `id, kind, start_date, surgery_count, high_risk_count, schedule, errors, created_at`

// prepareRun fills in the ID and timestamp of a new run.
func prepareRun(run *domain.ScheduleRun) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
}

// encodeRun serialises the schedule and error columns.
func encodeRun(run *domain.ScheduleRun) (schedule, errs []byte, err error) {
	entries := run.Schedule
	if entries == nil {
		entries = []domain.ScheduledSurgery{}
	}
	schedule, err = json.Marshal(entries)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode schedule: %w", err)
	}

	messages := run.Errors
	if messages == nil {
		messages = []string{}
	}
	errs, err = json.Marshal(messages)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode errors: %w", err)
	}
	return schedule, errs, nil
}

// scanRun scans a row into a ScheduleRun.
func scanRun(s scanner) (*domain.ScheduleRun, error) {
	run := &domain.ScheduleRun{}
	var kind string
	var schedule, errs []byte

	err := s.Scan(
		&run.ID, &kind, &run.StartDate, &run.SurgeryCount, &run.HighRiskCount,
		&schedule, &errs, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Kind = domain.RunKind(kind)
	if err := json.Unmarshal(schedule, &run.Schedule); err != nil {
		return nil, fmt.Errorf("failed to decode schedule of run %s: %w", run.ID, err)
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &run.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode errors of run %s: %w", run.ID, err)
		}
	}
	if len(run.Errors) == 0 {
		run.Errors = nil
	}
	return run, nil
}

// exportRuns writes every run returned by list as a RunExport document.
func exportRuns(ctx context.Context, store Store, writer io.Writer) error {
	all, err := store.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if all == nil {
		all = []*domain.ScheduleRun{}
	}

	export := &RunExport{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Runs:       all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// importRuns saves each exported run whose ID is not already stored.
func importRuns(ctx context.Context, store Store, reader io.Reader) (imported int, skipped int, err error) {
	var export RunExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, run := range export.Runs {
		if run.ID != "" {
			_, err := store.Get(ctx, run.ID)
			if err == nil {
				skipped++
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
			}
		}

		if err := store.Save(ctx, run); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}
