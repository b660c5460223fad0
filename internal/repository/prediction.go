// Package repository holds the pgx-backed audit trail of served predictions.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/surgery-scheduler-server/internal/domain"
)

// PredictionRepository handles prediction audit persistence
type PredictionRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// RiskSummary aggregates audited predictions of one surgery type
type RiskSummary struct {
	SurgeryType     string  `json:"surgery_type"`
	Total           int64   `json:"total"`
	HighRisk        int64   `json:"high_risk"`
	AverageDuration float64 `json:"average_duration"`
}

// NewPredictionRepository creates a new prediction repository
func NewPredictionRepository(db *pgxpool.Pool, logger *logrus.Logger) *PredictionRepository {
	return &PredictionRepository{
		db:  db,
		log: logger,
	}
}

// Record inserts an audit entry, assigning its ID and timestamp when unset.
func (r *PredictionRepository) Record(ctx context.Context, record *domain.PredictionRecord) error {
	id := uuid.New()
	if record.ID != "" {
		parsed, err := uuid.Parse(record.ID)
		if err != nil {
			return fmt.Errorf("invalid prediction record id %q: %w", record.ID, domain.ErrInvalidInput)
		}
		id = parsed
	}
	record.ID = id.String()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO prediction_audit (
			id, request_hash, surgery_type, predicted_duration,
			delay_probability, delay_risk, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		id,
		record.RequestHash,
		record.SurgeryType,
		record.PredictedDuration,
		record.DelayProbability,
		string(record.DelayRisk),
		record.CreatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"record_id":    record.ID,
			"surgery_type": record.SurgeryType,
			"error":        err,
		}).Error("Failed to record prediction")
		return fmt.Errorf("recording prediction: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"record_id":    record.ID,
		"surgery_type": record.SurgeryType,
		"delay_risk":   record.DelayRisk,
	}).Debug("Prediction recorded")

	return nil
}

// GetByID retrieves an audit entry by its ID
func (r *PredictionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PredictionRecord, error) {
	query := `
		SELECT id, request_hash, surgery_type, predicted_duration,
			   delay_probability, delay_risk, created_at
		FROM prediction_audit
		WHERE id = $1`

	record, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("prediction record not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting prediction record: %w", err)
	}
	return record, nil
}

// ListRecent returns the newest audit entries first
func (r *PredictionRepository) ListRecent(ctx context.Context, limit int) ([]*domain.PredictionRecord, error) {
	query := `
		SELECT id, request_hash, surgery_type, predicted_duration,
			   delay_probability, delay_risk, created_at
		FROM prediction_audit
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing prediction records: %w", err)
	}
	defer rows.Close()

	var records []*domain.PredictionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning prediction record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// SummariseBySurgeryType aggregates entries created at or after since
func (r *PredictionRepository) SummariseBySurgeryType(ctx context.Context, since time.Time) ([]RiskSummary, error) {
	query := `
		SELECT surgery_type,
			   COUNT(*),
			   COUNT(*) FILTER (WHERE delay_risk = $2),
			   AVG(predicted_duration)::float8
		FROM prediction_audit
		WHERE created_at >= $1
		GROUP BY surgery_type
		ORDER BY surgery_type`

	rows, err := r.db.Query(ctx, query, since, string(domain.HighRisk))
	if err != nil {
		return nil, fmt.Errorf("summarising predictions: %w", err)
	}
	defer rows.Close()

	var summaries []RiskSummary
	for rows.Next() {
		var s RiskSummary
		if err := rows.Scan(&s.SurgeryType, &s.Total, &s.HighRisk, &s.AverageDuration); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.PredictionRecord, error) {
	var (
		record domain.PredictionRecord
		id     uuid.UUID
		risk   string
	)
	err := row.Scan(
		&id,
		&record.RequestHash,
		&record.SurgeryType,
		&record.PredictedDuration,
		&record.DelayProbability,
		&risk,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ID = id.String()
	record.DelayRisk = domain.DelayRisk(risk)
	return &record, nil
}
