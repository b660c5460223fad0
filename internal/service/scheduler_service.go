package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/surgery-scheduler-server/internal/domain"
	"github.com/surgery-scheduler-server/internal/history"
)

// MaxGeneratedBatch bounds the size of a synthetic batch.
const MaxGeneratedBatch = 500

var _ domain.SchedulingService = (*SchedulingService)(nil)

// SchedulingService ties the scheduler to caching, auditing, history and the
// live feed. Optional collaborators left unset are skipped.
type SchedulingService struct {
	scheduler  domain.Scheduler
	engine     *PredictionEngine
	importer   *BatchImporter
	cache      domain.PredictionCache
	auditor    domain.PredictionAuditor
	store      history.Store
	publishers []domain.EventPublisher
	logger     *logrus.Logger
	now        func() time.Time

	batchCount int
	batchSeed  int64
}

// ServiceOption configures a SchedulingService
type ServiceOption func(*SchedulingService)

// WithCache enables prediction caching
func WithCache(cache domain.PredictionCache) ServiceOption {
	return func(s *SchedulingService) { s.cache = cache }
}

// WithAuditor records every served prediction
func WithAuditor(auditor domain.PredictionAuditor) ServiceOption {
	return func(s *SchedulingService) { s.auditor = auditor }
}

// WithStore persists produced schedules
func WithStore(store history.Store) ServiceOption {
	return func(s *SchedulingService) { s.store = store }
}

// WithPublisher broadcasts schedule events. It may be given more than once;
// nil publishers are ignored.
func WithPublisher(publisher domain.EventPublisher) ServiceOption {
	return func(s *SchedulingService) {
		if publisher != nil {
			s.publishers = append(s.publishers, publisher)
		}
	}
}

// WithLogger sets the service logger
func WithLogger(logger *logrus.Logger) ServiceOption {
	return func(s *SchedulingService) { s.logger = logger }
}

// WithClock overrides the clock used for default start dates
func WithClock(now func() time.Time) ServiceOption {
	return func(s *SchedulingService) { s.now = now }
}

// WithBatchDefaults sets the size and seed used when a generated batch
// request leaves them at zero.
func WithBatchDefaults(count int, seed int64) ServiceOption {
	return func(s *SchedulingService) {
		s.batchCount = count
		s.batchSeed = seed
	}
}

// NewSchedulingService creates a new scheduling service
func NewSchedulingService(scheduler domain.Scheduler, opts ...ServiceOption) *SchedulingService {
	s := &SchedulingService{
		scheduler:  scheduler,
		engine:     NewPredictionEngine(),
		importer:   NewBatchImporter(),
		logger:     logrus.StandardLogger(),
		now:        time.Now,
		batchCount: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predict returns the prediction for one request, serving repeats from the cache.
func (s *SchedulingService) Predict(ctx context.Context, request *domain.SurgeryRequest) (*domain.Prediction, error) {
	if request == nil {
		return nil, domain.NewValidationError("request", "is required", nil)
	}
	if err := request.ValidateTimes(); err != nil {
		return nil, err
	}

	key, err := RequestFingerprint(request)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting request: %w", err)
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			s.logger.WithField("request_hash", key).Debug("Prediction served from cache")
			return cached, nil
		}
	}

	prediction, err := s.scheduler.Predict(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("predicting surgery: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, prediction)
	}

	if s.auditor != nil {
		record := &domain.PredictionRecord{
			RequestHash:       key,
			SurgeryType:       request.SurgeryType,
			PredictedDuration: prediction.PredictedDuration,
			DelayProbability:  prediction.DelayProbability,
			DelayRisk:         prediction.PredictedDelay,
		}
		if err := s.auditor.Record(ctx, record); err != nil {
			s.logger.WithError(err).Warn("Failed to audit prediction")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"surgery_type":       request.SurgeryType,
		"predicted_duration": prediction.PredictedDuration,
		"delay_risk":         prediction.PredictedDelay,
	}).Debug("Prediction computed")

	return prediction, nil
}

// CreateSchedule schedules the given surgeries and records the run.
func (s *SchedulingService) CreateSchedule(ctx context.Context, request *domain.ScheduleRequest) (*domain.ScheduleResponse, error) {
	if request == nil {
		return nil, domain.NewValidationError("request", "is required", nil)
	}
	if _, err := ParseStartDate(request.StartDate); err != nil {
		return nil, err
	}

	resp, err := s.scheduler.Schedule(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("creating schedule: %w", err)
	}

	run := domain.NewScheduleRun(domain.RunKindSchedule, request.StartDate, resp.Schedule, nil)
	resp.RunID = s.record(ctx, run)

	s.logger.WithFields(logrus.Fields{
		"run_id":     resp.RunID,
		"start_date": request.StartDate,
		"surgeries":  len(resp.Schedule),
		"high_risk":  run.HighRiskCount,
	}).Info("Schedule created")

	return resp, nil
}

// ImportBatch schedules the surgeries of an xlsx or CSV upload. An empty startDate
// means today. Unusable rows are reported in the response rather than failing.
func (s *SchedulingService) ImportBatch(ctx context.Context, file io.Reader, startDate string) (*domain.BatchImportResponse, error) {
	startDate, err := s.resolveStartDate(startDate)
	if err != nil {
		return nil, err
	}

	result, err := s.importer.Parse(file)
	if err != nil {
		return nil, err
	}

	return s.scheduleBatch(ctx, domain.RunKindBatchImport, result.Requests, startDate, result.Errors)
}

// GenerateBatch schedules a synthetic batch. Zero count and seed fall back
// to the configured defaults.
func (s *SchedulingService) GenerateBatch(ctx context.Context, count int, seed int64, startDate string) (*domain.BatchImportResponse, error) {
	if count < 0 || count > MaxGeneratedBatch {
		return nil, domain.NewValidationError("count", fmt.Sprintf("must be between 0 and %d", MaxGeneratedBatch), count)
	}
	if count == 0 {
		count = s.batchCount
	}
	if seed == 0 {
		seed = s.batchSeed
	}

	startDate, err := s.resolveStartDate(startDate)
	if err != nil {
		return nil, err
	}

	requests := NewSeededRequestGenerator(seed).Generate(count)
	return s.scheduleBatch(ctx, domain.RunKindGenerated, requests, startDate, nil)
}

func (s *SchedulingService) scheduleBatch(ctx context.Context, kind domain.RunKind, requests []domain.SurgeryRequest, startDate string, rowErrors []string) (*domain.BatchImportResponse, error) {
	resp, err := s.scheduler.Schedule(ctx, &domain.ScheduleRequest{
		Surgeries: requests,
		StartDate: startDate,
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling batch: %w", err)
	}

	if rowErrors == nil {
		rowErrors = []string{}
	}

	run := domain.NewScheduleRun(kind, startDate, resp.Schedule, rowErrors)
	runID := s.record(ctx, run)

	s.logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"kind":       kind,
		"start_date": startDate,
		"imported":   len(resp.Schedule),
		"row_errors": len(rowErrors),
	}).Info("Batch scheduled")

	return &domain.BatchImportResponse{
		ImportedCount: len(resp.Schedule),
		Schedule:      resp.Schedule,
		Errors:        rowErrors,
		RunID:         runID,
	}, nil
}

// record saves and publishes a run, returning its ID when it was stored.
// Storage failures are logged and never fail the request.
func (s *SchedulingService) record(ctx context.Context, run *domain.ScheduleRun) string {
	var runID string
	if s.store != nil {
		if err := s.store.Save(ctx, run); err != nil {
			s.logger.WithError(err).Warn("Failed to save schedule run")
		} else {
			runID = run.ID
		}
	}

	if len(s.publishers) > 0 {
		at := run.CreatedAt
		if at.IsZero() {
			at = s.now().UTC()
		}
		event := domain.ScheduleEvent{
			Type:      run.Kind,
			RunID:     runID,
			StartDate: run.StartDate,
			Count:     run.SurgeryCount,
			HighRisk:  run.HighRiskCount,
			At:        at,
		}
		for _, p := range s.publishers {
			p.Publish(event)
		}
	}
	return runID
}

func (s *SchedulingService) resolveStartDate(startDate string) (string, error) {
	if startDate == "" {
		return s.now().Format(DateLayout), nil
	}
	if _, err := ParseStartDate(startDate); err != nil {
		return "", err
	}
	return startDate, nil
}

// WriteTemplate writes the batch import template as an xlsx workbook.
func (s *SchedulingService) WriteTemplate(w io.Writer) error {
	return s.importer.WriteTemplate(w, FormatXLSX)
}

// ModelPerformance describes the local heuristic.
func (s *SchedulingService) ModelPerformance() *domain.ModelPerformance {
	return s.engine.Performance()
}

// GetRun returns a stored run.
func (s *SchedulingService) GetRun(ctx context.Context, id string) (*domain.ScheduleRun, error) {
	if s.store == nil {
		return nil, domain.ErrNotFound
	}
	return s.store.Get(ctx, id)
}

// ListRuns returns a page of stored runs and the total count.
func (s *SchedulingService) ListRuns(ctx context.Context, limit, offset int) ([]*domain.ScheduleRun, int64, error) {
	if s.store == nil {
		return []*domain.ScheduleRun{}, 0, nil
	}
	runs, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing runs: %w", err)
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("counting runs: %w", err)
	}
	if runs == nil {
		runs = []*domain.ScheduleRun{}
	}
	return runs, total, nil
}

// DeleteRun removes a stored run.
func (s *SchedulingService) DeleteRun(ctx context.Context, id string) error {
	if s.store == nil {
		return domain.ErrNotFound
	}
	return s.store.Delete(ctx, id)
}

// ExportRuns writes every stored run as JSON.
func (s *SchedulingService) ExportRuns(ctx context.Context, w io.Writer) error {
	if s.store == nil {
		return fmt.Errorf("schedule history is not configured: %w", domain.ErrNotFound)
	}
	return s.store.ExportJSON(ctx, w)
}

// RequestFingerprint returns the hex sha256 of the request's JSON encoding.
func RequestFingerprint(request *domain.SurgeryRequest) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
