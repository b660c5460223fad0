package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/surgery-scheduler-server/internal/domain"
)

var _ domain.Scheduler = (*FallbackScheduler)(nil)

// FallbackScheduler calls the primary scheduler and retries on the fallback
// when the primary is unavailable. Rejected input is returned as is.
type FallbackScheduler struct {
	primary  domain.Scheduler
	fallback domain.Scheduler
	logger   *logrus.Logger
}

// NewFallbackScheduler creates a fallback scheduler
func NewFallbackScheduler(primary, fallback domain.Scheduler, logger *logrus.Logger) *FallbackScheduler {
	return &FallbackScheduler{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Predict implements domain.Scheduler.
func (f *FallbackScheduler) Predict(ctx context.Context, request *domain.SurgeryRequest) (*domain.Prediction, error) {
	prediction, err := f.primary.Predict(ctx, request)
	if err == nil || !errors.Is(err, domain.ErrBackendUnavailable) {
		return prediction, err
	}

	f.logger.WithError(err).Warn("Backend unavailable, predicting locally")
	return f.fallback.Predict(ctx, request)
}

// Schedule implements domain.Scheduler.
func (f *FallbackScheduler) Schedule(ctx context.Context, request *domain.ScheduleRequest) (*domain.ScheduleResponse, error) {
	resp, err := f.primary.Schedule(ctx, request)
	if err == nil || !errors.Is(err, domain.ErrBackendUnavailable) {
		return resp, err
	}

	f.logger.WithError(err).Warn("Backend unavailable, scheduling locally")
	return f.fallback.Schedule(ctx, request)
}

// NewScheduler picks the scheduler for mode. remote may be nil only in mock
// and auto mode; auto without a remote runs locally.
func NewScheduler(mode domain.SchedulerMode, remote, local domain.Scheduler, logger *logrus.Logger) (domain.Scheduler, error) {
	switch mode {
	case domain.ModeMock:
		return local, nil
	case domain.ModeRemote:
		if remote == nil {
			return nil, fmt.Errorf("scheduler mode %q requires a backend URL", mode)
		}
		return remote, nil
	case domain.ModeAuto:
		if remote == nil {
			logger.Warn("No backend configured, auto mode schedules locally")
			return local, nil
		}
		return NewFallbackScheduler(remote, local, logger), nil
	default:
		return nil, fmt.Errorf("unknown scheduler mode %q", mode)
	}
}

// FromConfig builds the scheduler selected by the scheduler section. The
// returned client is nil when no backend URL is configured.
func FromConfig(config *domain.Config, local domain.Scheduler, logger *logrus.Logger) (domain.Scheduler, *Client, error) {
	mode, err := domain.ParseSchedulerMode(config.Scheduler.Mode)
	if err != nil {
		return nil, nil, err
	}

	var client *Client
	var remote domain.Scheduler
	if config.Backend.BaseURL != "" && mode != domain.ModeMock {
		client, err = NewClient(config.Backend, logger)
		if err != nil {
			return nil, nil, err
		}
		remote = client
	}

	scheduler, err := NewScheduler(mode, remote, local, logger)
	if err != nil {
		return nil, nil, err
	}
	return scheduler, client, nil
}
