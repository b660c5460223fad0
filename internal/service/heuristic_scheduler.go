package service

import (
	"context"

	"github.com/surgery-scheduler-server/internal/domain"
)

var _ domain.Scheduler = (*HeuristicScheduler)(nil)

// HeuristicScheduler serves predictions and schedules from the local
// heuristic, with no backend involved.
type HeuristicScheduler struct {
	engine   *PredictionEngine
	assigner *ScheduleAssigner
}

// NewHeuristicScheduler creates a scheduler backed by a fresh prediction engine
func NewHeuristicScheduler() *HeuristicScheduler {
	engine := NewPredictionEngine()
	return &HeuristicScheduler{
		engine:   engine,
		assigner: NewScheduleAssigner(engine),
	}
}

// Predict implements domain.Scheduler.
func (h *HeuristicScheduler) Predict(_ context.Context, request *domain.SurgeryRequest) (*domain.Prediction, error) {
	prediction := h.engine.Predict(request)
	return &prediction, nil
}

// Schedule implements domain.Scheduler.
func (h *HeuristicScheduler) Schedule(_ context.Context, request *domain.ScheduleRequest) (*domain.ScheduleResponse, error) {
	schedule, err := h.assigner.Assign(request.Surgeries, request.StartDate)
	if err != nil {
		return nil, err
	}
	return &domain.ScheduleResponse{Schedule: schedule}, nil
}
