package domain

import (
	"context"
	"io"
	"time"
)

// Predictor computes the duration and delay estimate of a single request
type Predictor interface {
	Predict(request *SurgeryRequest) Prediction
}

// Scheduler predicts and places surgeries, locally or on a remote backend
type Scheduler interface {
	Predict(ctx context.Context, request *SurgeryRequest) (*Prediction, error)
	Schedule(ctx context.Context, request *ScheduleRequest) (*ScheduleResponse, error)
}

// SchedulingService is the application surface consumed by the HTTP and MCP layers
type SchedulingService interface {
	Predict(ctx context.Context, request *SurgeryRequest) (*Prediction, error)
	CreateSchedule(ctx context.Context, request *ScheduleRequest) (*ScheduleResponse, error)
	ImportBatch(ctx context.Context, file io.Reader, startDate string) (*BatchImportResponse, error)
	GenerateBatch(ctx context.Context, count int, seed int64, startDate string) (*BatchImportResponse, error)
	WriteTemplate(w io.Writer) error
	ModelPerformance() *ModelPerformance
	GetRun(ctx context.Context, id string) (*ScheduleRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*ScheduleRun, int64, error)
	DeleteRun(ctx context.Context, id string) error
	ExportRuns(ctx context.Context, w io.Writer) error
}

// PredictionCache stores predictions keyed by a request fingerprint
type PredictionCache interface {
	Get(ctx context.Context, key string) (*Prediction, bool)
	Set(ctx context.Context, key string, prediction *Prediction)
}

// PredictionAuditor records every served prediction
type PredictionAuditor interface {
	Record(ctx context.Context, record *PredictionRecord) error
}

// ScheduleEvent is broadcast to live subscribers when a schedule is produced
type ScheduleEvent struct {
	Type      RunKind   `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	StartDate string    `json:"start_date"`
	Count     int       `json:"count"`
	HighRisk  int       `json:"high_risk"`
	At        time.Time `json:"at"`
}

// EventPublisher fans schedule events out to subscribers
type EventPublisher interface {
	Publish(event ScheduleEvent)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDatabaseConfig() *DatabaseConfig
	GetBackendConfig() *BackendConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
