// Package metrics exports Prometheus metrics for the HTTP API and the
// schedules it produces.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/surgery-scheduler-server/internal/domain"
)

const namespace = "surgery_scheduler"

// Recorder holds the API and schedule collectors on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	runs      *prometheus.CounterVec
	surgeries *prometheus.CounterVec
	highRisk  *prometheus.CounterVec
}

var _ domain.EventPublisher = (*Recorder)(nil)

// New creates a recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_runs_total",
			Help:      "Schedules produced, by run kind.",
		}, []string{"kind"}),
		surgeries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surgeries_scheduled_total",
			Help:      "Surgeries placed on a schedule, by run kind.",
		}, []string{"kind"}),
		highRisk: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "high_risk_surgeries_total",
			Help:      "Scheduled surgeries flagged as high delay risk, by run kind.",
		}, []string{"kind"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests, r.latency, r.runs, r.surgeries, r.highRisk,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RegisterGauge registers a gauge read from fn at scrape time.
func (r *Recorder) RegisterGauge(name, help string, fn func() float64) error {
	return r.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Middleware records request counts and latency. Unmatched paths share one
// route label.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		r.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		r.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Publish counts a produced schedule.
func (r *Recorder) Publish(event domain.ScheduleEvent) {
	kind := string(event.Type)
	r.runs.WithLabelValues(kind).Inc()
	r.surgeries.WithLabelValues(kind).Add(float64(event.Count))
	r.highRisk.WithLabelValues(kind).Add(float64(event.HighRisk))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
