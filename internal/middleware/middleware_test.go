package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgery-scheduler-server/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(handlers...)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"correlation_id": GetCorrelationID(c)})
	})
	router.GET("/fail", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})
	router.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	return router
}

func serve(router http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		for _, value := range v {
			req.Header.Add(k, value)
		}
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSecurityHeaders(t *testing.T) {
	rec := serve(newRouter(SecurityHeaders()), http.MethodGet, "/ping", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{
			name:       "wildcard",
			allowed:    []string{"*"},
			method:     http.MethodGet,
			origin:     "https://any.example.org",
			wantStatus: http.StatusOK,
			wantOrigin: "*",
		},
		{
			name:       "listed origin is echoed",
			allowed:    []string{"https://or.example.org/"},
			method:     http.MethodGet,
			origin:     "https://or.example.org",
			wantStatus: http.StatusOK,
			wantOrigin: "https://or.example.org",
		},
		{
			name:       "unlisted origin gets no header",
			allowed:    []string{"https://or.example.org"},
			method:     http.MethodGet,
			origin:     "https://evil.example.com",
			wantStatus: http.StatusOK,
		},
		{
			name:       "preflight",
			allowed:    nil,
			method:     http.MethodOptions,
			origin:     "http://localhost:3000",
			wantStatus: http.StatusNoContent,
			wantOrigin: "*",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newRouter(CORS(tt.allowed)), tt.method, "/ping", http.Header{"Origin": []string{tt.origin}})

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCorrelationID(t *testing.T) {
	router := newRouter(CorrelationID())

	t.Run("generated", func(t *testing.T) {
		rec := serve(router, http.MethodGet, "/ping", nil)

		id := rec.Header().Get(CorrelationHeader)
		require.Len(t, id, 36)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, id, body["correlation_id"])
	})

	t.Run("propagated", func(t *testing.T) {
		rec := serve(router, http.MethodGet, "/ping", http.Header{CorrelationHeader: []string{"abc-123"}})

		assert.Equal(t, "abc-123", rec.Header().Get(CorrelationHeader))
	})
}

func TestRequestTimeout(t *testing.T) {
	router := newRouter(CorrelationID(), RequestTimeout(20*time.Millisecond))

	rec := serve(router, http.MethodGet, "/slow", nil)
	assert.Equal(t, http.StatusRequestTimeout, rec.Code)

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, domain.CodeTimeout, apiErr.Code)
	assert.Equal(t, rec.Header().Get(CorrelationHeader), apiErr.RequestID)

	rec = serve(router, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	router := newRouter(CorrelationID(), RequestLogger(logger))

	serve(router, http.MethodGet, "/ping", http.Header{CorrelationHeader: []string{"req-1"}})
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "req-1", entry.Data["correlation_id"])
	assert.Equal(t, "/ping", entry.Data["path"])
	assert.Equal(t, http.StatusOK, entry.Data["status"])

	serve(router, http.MethodGet, "/fail", nil)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	router := newRouter(limiter.Middleware())

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/ping", nil).Code)

	rec := serve(router, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, domain.CodeRateLimit, apiErr.Code)

	// Buckets are per client.
	assert.True(t, limiter.Allow("10.0.0.9"))
}

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(1, 1)

	got := []bool{
		limiter.Allow("10.0.0.1"),
		limiter.Allow("10.0.0.1"),
		limiter.Allow("10.0.0.1"),
	}
	assert.Equal(t, []bool{true, false, false}, got)

	limiter.mu.Lock()
	tracked := len(limiter.clients)
	limiter.mu.Unlock()
	assert.Equal(t, 1, tracked)
}
