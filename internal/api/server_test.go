package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgery-scheduler-server/internal/archive"
	"github.com/surgery-scheduler-server/internal/domain"
	"github.com/surgery-scheduler-server/internal/health"
	"github.com/surgery-scheduler-server/internal/history"
	"github.com/surgery-scheduler-server/internal/live"
	"github.com/surgery-scheduler-server/internal/metrics"
	"github.com/surgery-scheduler-server/internal/middleware"
	"github.com/surgery-scheduler-server/internal/service"
)

func testConfig() *domain.Config {
	return &domain.Config{
		Server: domain.ServerConfig{
			RequestTimeout: 5 * time.Second,
			MaxUploadBytes: 1 << 20,
			AllowedOrigins: []string{"*"},
		},
		Logging: domain.LoggingConfig{Level: "info"},
	}
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newTestService(t *testing.T, scheduler domain.Scheduler, opts ...service.ServiceOption) *service.SchedulingService {
	t.Helper()
	store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts = append([]service.ServiceOption{
		service.WithStore(store),
		service.WithLogger(quietLogger()),
		service.WithClock(func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }),
	}, opts...)
	return service.NewSchedulingService(scheduler, opts...)
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	svc := newTestService(t, service.NewHeuristicScheduler())
	opts = append([]ServerOption{WithLogger(quietLogger())}, opts...)
	return NewServer(testConfig(), svc, opts...)
}

func surgery() domain.SurgeryRequest {
	return domain.SurgeryRequest{
		PatientAge:       45,
		BMI:              24.5,
		SurgeryType:      "Hip Replacement",
		Surgeon:          "Dr. Smith",
		Anesthesiologist: "Dr. Brown",
		Nurse:            "Nurse A",
		DayOfWeek:        "Monday",
		TimePreference:   domain.Morning,
		PreOpPrepTime:    30,
		TransferToORTime: 15,
		AnesthesiaTime:   20,
		PositioningTime:  10,
		Comorbidities:    domain.NoComorbidities,
		InstrumentReady:  domain.Ready,
		PACUBedReady:     domain.Ready,
		ScheduledStart:   "09:00",
	}
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) domain.APIError {
	t.Helper()
	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func TestServer_Root(t *testing.T) {
	rec := do(t, newTestServer(t).Handler(), http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Surgery Scheduler API is running"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.CorrelationHeader))
}

type stubPinger struct{ err error }

func (s stubPinger) Health(context.Context) error { return s.err }

func TestServer_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		rec := do(t, newTestServer(t).Handler(), http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		var report health.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, health.StateHealthy, report.Status)
		assert.Equal(t, Version, report.Version)
	})

	t.Run("unhealthy database", func(t *testing.T) {
		checker := health.NewChecker(Version, time.Second, quietLogger())
		checker.Register(health.DatabaseCheck(stubPinger{err: errors.New("refused")}))

		rec := do(t, newTestServer(t, WithHealth(checker)).Handler(), http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var report health.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, health.StateUnhealthy, report.Status)
		assert.Equal(t, "refused", report.Components["database"].Error)
	})
}

func TestServer_Predict(t *testing.T) {
	h := newTestServer(t).Handler()

	for _, path := range []string{"/predict", "/api/v1/predict"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, path, surgery())

			require.Equal(t, http.StatusOK, rec.Code)
			var prediction domain.Prediction
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prediction))
			assert.Equal(t, 165, prediction.PredictedDuration)
			assert.Equal(t, "149 - 182", prediction.DurationRange)
			assert.Equal(t, domain.LowRisk, prediction.PredictedDelay)
		})
	}
}

func TestServer_PredictInvalidInput(t *testing.T) {
	h := newTestServer(t).Handler()

	negative := surgery()
	negative.AnesthesiaTime = -5

	tests := []struct {
		name        string
		body        interface{}
		wantMessage string
		wantDetails string
	}{
		{
			name:        "malformed json",
			body:        `{"patient_age": "old"`,
			wantMessage: "Invalid request body",
		},
		{
			name:        "negative time",
			body:        negative,
			wantMessage: "must not be negative",
			wantDetails: "anesthesia_time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/predict", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			apiErr := decodeAPIError(t, rec)
			assert.Equal(t, domain.CodeInvalidInput, apiErr.Code)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			if tt.wantDetails != "" {
				assert.Equal(t, tt.wantDetails, apiErr.Details)
			}
			assert.Equal(t, rec.Header().Get(middleware.CorrelationHeader), apiErr.RequestID)
		})
	}
}

func TestServer_Schedule(t *testing.T) {
	h := newTestServer(t).Handler()

	t.Run("valid", func(t *testing.T) {
		afternoon := surgery()
		afternoon.TimePreference = domain.Afternoon
		rec := do(t, h, http.MethodPost, "/schedule", domain.ScheduleRequest{
			Surgeries: []domain.SurgeryRequest{surgery(), afternoon},
			StartDate: "2025-03-10",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var resp domain.ScheduleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Schedule, 2)
		assert.NotEmpty(t, resp.RunID)
		assert.Equal(t, "07:00", resp.Schedule[0].ScheduledTime)
		assert.Equal(t, 1, resp.Schedule[0].OperatingRoom)
		assert.Equal(t, "14:00", resp.Schedule[1].ScheduledTime)
		assert.Equal(t, 2, resp.Schedule[1].OperatingRoom)
	})

	t.Run("bad start date", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/schedule", domain.ScheduleRequest{
			Surgeries: []domain.SurgeryRequest{surgery()},
			StartDate: "2025-02-30",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "start_date", decodeAPIError(t, rec).Details)
	})
}

func multipartUpload(t *testing.T, h http.Handler, path string, fields map[string]string, file []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if file != nil {
		part, err := writer.CreateFormFile("file", "surgeries.xlsx")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_BatchImport(t *testing.T) {
	h := newTestServer(t).Handler()

	var upload bytes.Buffer
	requests := service.NewSeededRequestGenerator(7).Generate(5)
	require.NoError(t, service.NewBatchImporter().WriteRequests(&upload, requests, service.FormatXLSX))

	t.Run("uploaded file", func(t *testing.T) {
		rec := multipartUpload(t, h, "/batch-import", map[string]string{"start_date": "2025-03-10"}, upload.Bytes())

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp domain.BatchImportResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 5, resp.ImportedCount)
		assert.Len(t, resp.Schedule, 5)
		assert.Empty(t, resp.Errors)
		assert.NotNil(t, resp.Errors)
		assert.Equal(t, "2025-03-10", resp.Schedule[0].ScheduledDate)
	})

	t.Run("generated batch without file", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/batch-import?count=12&seed=3&start_date=2025-03-10", nil)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp domain.BatchImportResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 12, resp.ImportedCount)
		assert.Equal(t, "2025-03-11", resp.Schedule[11].ScheduledDate)
	})

	t.Run("form without file defaults to today", func(t *testing.T) {
		rec := multipartUpload(t, h, "/api/v1/batch-import", nil, nil)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp domain.BatchImportResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, service.DefaultBatchSize, resp.ImportedCount)
		assert.Equal(t, "2025-03-10", resp.Schedule[0].ScheduledDate)
	})

	failures := []struct {
		name        string
		fields      map[string]string
		file        []byte
		query       string
		wantMessage string
	}{
		{
			name:        "bad date",
			fields:      map[string]string{"start_date": "10/03/2025"},
			file:        upload.Bytes(),
			wantMessage: "Invalid date format. Use YYYY-MM-DD",
		},
		{
			name:        "empty file",
			file:        []byte{},
			wantMessage: "The uploaded file contains no data",
		},
		{
			name:        "non numeric count",
			query:       "?count=many",
			wantMessage: "count must be an integer",
		},
		{
			name:        "oversized generated batch",
			query:       fmt.Sprintf("?count=%d", service.MaxGeneratedBatch+1),
			wantMessage: fmt.Sprintf("must be between 0 and %d", service.MaxGeneratedBatch),
		},
	}

	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			rec := multipartUpload(t, h, "/batch-import"+tt.query, tt.fields, tt.file)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			apiErr := decodeAPIError(t, rec)
			assert.Equal(t, domain.CodeInvalidInput, apiErr.Code)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
		})
	}
}

func TestServer_TemplateAndPerformance(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := do(t, h, http.MethodGet, "/template", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ContentTypeXLSX, rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=surgery_import_template.xlsx", rec.Header().Get("Content-Disposition"))
	template, err := service.NewBatchImporter().Parse(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Len(t, template.Requests, 2)

	rec = do(t, h, http.MethodGet, "/model-performance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Message         string                  `json:"message"`
		PerformanceData domain.ModelPerformance `json:"performance_data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Model performance metrics", body.Message)
	assert.NotEmpty(t, body.PerformanceData.Model)
	assert.Equal(t, service.HighRiskThreshold, body.PerformanceData.RiskThreshold)
}

func TestServer_ScheduleHistory(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := do(t, h, http.MethodPost, "/schedule", domain.ScheduleRequest{
		Surgeries: []domain.SurgeryRequest{surgery()},
		StartDate: "2025-03-10",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var created domain.ScheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(t, h, http.MethodGet, "/schedules?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs  []domain.ScheduleRun `json:"runs"`
		Total int64                `json:"total"`
		Limit int64                `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.Total)
	assert.Equal(t, int64(5), list.Limit)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, created.RunID, list.Runs[0].ID)

	rec = do(t, h, http.MethodGet, "/schedules/"+created.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run domain.ScheduleRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.RunKindSchedule, run.Kind)
	assert.Equal(t, 1, run.SurgeryCount)

	rec = do(t, h, http.MethodGet, "/schedules/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.RunID)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "schedule_runs.json")

	rec = do(t, h, http.MethodGet, "/schedules?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/schedules/"+created.RunID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/schedules/"+created.RunID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.CodeNotFound, decodeAPIError(t, rec).Code)
}

type unavailableScheduler struct{}

func (unavailableScheduler) Predict(context.Context, *domain.SurgeryRequest) (*domain.Prediction, error) {
	return nil, fmt.Errorf("%w: connection refused", domain.ErrBackendUnavailable)
}

func (unavailableScheduler) Schedule(context.Context, *domain.ScheduleRequest) (*domain.ScheduleResponse, error) {
	return nil, errors.New("schedule exploded")
}

func TestServer_BackendErrors(t *testing.T) {
	svc := newTestService(t, unavailableScheduler{})
	h := NewServer(testConfig(), svc, WithLogger(quietLogger())).Handler()

	rec := do(t, h, http.MethodPost, "/predict", surgery())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, domain.CodeBackendUnavailable, decodeAPIError(t, rec).Code)

	rec = do(t, h, http.MethodPost, "/schedule", domain.ScheduleRequest{
		Surgeries: []domain.SurgeryRequest{surgery()},
		StartDate: "2025-03-10",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	apiErr := decodeAPIError(t, rec)
	assert.Equal(t, domain.CodeInternalServer, apiErr.Code)
	assert.NotContains(t, apiErr.Message, "exploded")
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = domain.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1}
	svc := newTestService(t, service.NewHeuristicScheduler())
	h := NewServer(cfg, svc, WithLogger(quietLogger())).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/", nil).Code)

	rec := do(t, h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, domain.CodeRateLimit, decodeAPIError(t, rec).Code)
}

func TestServer_LiveFeed(t *testing.T) {
	hub := live.NewHub(nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	svc := newTestService(t, service.NewHeuristicScheduler(), service.WithPublisher(hub))
	srv := httptest.NewServer(NewServer(testConfig(), svc, WithHub(hub), WithLogger(quietLogger())).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/schedule", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/batch-import?count=8&seed=1&start_date=2025-03-10", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event domain.ScheduleEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, domain.RunKindGenerated, event.Type)
	assert.Equal(t, 8, event.Count)
	assert.Equal(t, "2025-03-10", event.StartDate)
	assert.NotEmpty(t, event.RunID)
}

type stubArchiver struct {
	objects []archive.Object
	err     error
}

func (a *stubArchiver) ArchiveRuns(ctx context.Context, export func(context.Context, io.Writer) error) (*archive.Object, error) {
	if a.err != nil {
		return nil, a.err
	}
	var buf bytes.Buffer
	if err := export(ctx, &buf); err != nil {
		return nil, err
	}
	obj := archive.Object{Bucket: "or-archive", Key: fmt.Sprintf("runs-%d.json", len(a.objects)), Size: int64(buf.Len())}
	a.objects = append(a.objects, obj)
	return &obj, nil
}

func (a *stubArchiver) List(context.Context) ([]archive.Object, error) {
	return a.objects, a.err
}

func TestServer_Archives(t *testing.T) {
	archiver := &stubArchiver{}
	h := newTestServer(t, WithArchiver(archiver)).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/schedule", domain.ScheduleRequest{
		Surgeries: []domain.SurgeryRequest{surgery()},
		StartDate: "2025-03-10",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/archives", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var obj archive.Object
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &obj))
	assert.Equal(t, "or-archive", obj.Bucket)
	assert.Positive(t, obj.Size)

	rec = do(t, h, http.MethodGet, "/archives", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Archives []archive.Object `json:"archives"`
		Total    int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Total)

	archiver.err = fmt.Errorf("put: %w", domain.ErrStorageUnavailable)
	rec = do(t, h, http.MethodPost, "/archives", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, domain.CodeStorage, decodeAPIError(t, rec).Code)
}

func TestServer_ArchivesDisabled(t *testing.T) {
	h := newTestServer(t).Handler()
	rec := do(t, h, http.MethodPost, "/archives", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	recorder := metrics.New()
	svc := newTestService(t, service.NewHeuristicScheduler(), service.WithPublisher(recorder))
	cfg := testConfig()
	cfg.Metrics = domain.MetricsConfig{Enabled: true, Path: "/metrics"}
	h := NewServer(cfg, svc, WithLogger(quietLogger()), WithMetrics(recorder)).Handler()

	rec := do(t, h, http.MethodPost, "/batch-import?count=5&seed=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `surgery_scheduler_schedule_runs_total{kind="generated"} 1`)
	assert.Contains(t, body, `surgery_scheduler_surgeries_scheduled_total{kind="generated"} 5`)
	assert.Contains(t, body, `route="/batch-import"`)
}
