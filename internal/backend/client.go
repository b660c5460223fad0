// Package backend talks to a remote scheduling service that exposes the same
// /predict and /schedule contract as this server.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/surgery-scheduler-server/internal/domain"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultRateLimit      = 10
	defaultBreakerTimeout = 60 * time.Second
	defaultMaxRequests    = 5
	maxErrorBody          = 4096
)

var _ domain.Scheduler = (*Client)(nil)

// HTTPError is a non-2xx answer from the backend.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

// Unwrap classifies the status: 5xx as unavailable, 404 as not found and
// other 4xx as invalid input.
func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode >= 500:
		return domain.ErrBackendUnavailable
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode >= 400:
		return domain.ErrInvalidInput
	default:
		return nil
	}
}

// Client is a rate limited, circuit broken HTTP client for the backend
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

// NewClient creates a backend client
func NewClient(config domain.BackendConfig, logger *logrus.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.BreakerTimeout == 0 {
		config.BreakerTimeout = defaultBreakerTimeout
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = defaultMaxRequests
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "scheduling-backend",
		MaxRequests: config.MaxRequests,
		Interval:    30 * time.Second,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// Rejected input says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrBackendUnavailable)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Predict forwards a prediction request.
func (c *Client) Predict(ctx context.Context, request *domain.SurgeryRequest) (*domain.Prediction, error) {
	var prediction domain.Prediction
	if err := c.post(ctx, "/predict", request, &prediction); err != nil {
		return nil, err
	}
	return &prediction, nil
}

// Schedule forwards a scheduling request.
func (c *Client) Schedule(ctx context.Context, request *domain.ScheduleRequest) (*domain.ScheduleResponse, error) {
	var resp domain.ScheduleResponse
	if err := c.post(ctx, "/schedule", request, &resp); err != nil {
		return nil, err
	}
	if resp.Schedule == nil {
		resp.Schedule = []domain.ScheduledSurgery{}
	}
	return &resp, nil
}

// State reports the circuit breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, path, payload, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, path string, payload []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Backend call completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}
