// Package health aggregates component checks into a single service status.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/surgery-scheduler-server/internal/history"
)

// State is the health of a component or of the whole service.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// ComponentHealth is the result of one check.
type ComponentHealth struct {
	Name     string                 `json:"name"`
	Status   State                  `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Duration time.Duration          `json:"duration"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Report is the aggregated status served by /health.
type Report struct {
	Status     State                      `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Check is a single named component probe.
type Check interface {
	Name() string
	Check(ctx context.Context) ComponentHealth
}

// Checker runs the registered checks in parallel.
type Checker struct {
	version string
	timeout time.Duration
	logger  *logrus.Logger
	started time.Time

	mu     sync.RWMutex
	checks []Check
}

// NewChecker creates a checker with no components registered.
func NewChecker(version string, timeout time.Duration, logger *logrus.Logger) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Checker{
		version: version,
		timeout: timeout,
		logger:  logger,
		started: time.Now(),
	}
}

// Register adds a check. Nil checks are ignored so unconfigured components
// can be passed through unconditionally.
func (c *Checker) Register(check Check) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// Names lists the registered checks in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for _, check := range c.checks {
		names = append(names, check.Name())
	}
	sort.Strings(names)
	return names
}

// Run executes every check and folds the results into a report.
func (c *Checker) Run(ctx context.Context) *Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	results := make(chan ComponentHealth, len(checks))
	var wg sync.WaitGroup
	for _, check := range checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()
			start := time.Now()
			result := check.Check(ctx)
			result.Name = check.Name()
			result.Duration = time.Since(start)
			results <- result
		}(check)
	}
	wg.Wait()
	close(results)

	report := &Report{
		Status:    StateHealthy,
		Timestamp: time.Now().UTC(),
		Version:   c.version,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
	}
	if len(checks) > 0 {
		report.Components = make(map[string]ComponentHealth, len(checks))
	}
	for result := range results {
		report.Components[result.Name] = result
		report.Status = worst(report.Status, result.Status)
	}

	if report.Status != StateHealthy {
		c.logger.WithFields(logrus.Fields{
			"status":     report.Status,
			"components": unhealthyNames(report.Components),
		}).Warn("Health check completed with issues")
	}
	return report
}

func worst(a, b State) State {
	rank := map[State]int{StateHealthy: 0, StateDegraded: 1, StateUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func unhealthyNames(components map[string]ComponentHealth) []string {
	var names []string
	for name, component := range components {
		if component.Status != StateHealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// PingCheck reports a component by calling ping. A failure is unhealthy
// when the component is critical and degraded otherwise.
type PingCheck struct {
	name     string
	critical bool
	ping     func(ctx context.Context) error
}

// NewPingCheck wraps an arbitrary probe function.
func NewPingCheck(name string, critical bool, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, critical: critical, ping: ping}
}

func (p *PingCheck) Name() string { return p.name }

func (p *PingCheck) Check(ctx context.Context) ComponentHealth {
	if err := p.ping(ctx); err != nil {
		status := StateDegraded
		if p.critical {
			status = StateUnhealthy
		}
		return ComponentHealth{Status: status, Message: "ping failed", Error: err.Error()}
	}
	return ComponentHealth{Status: StateHealthy, Message: "ok"}
}

// Pinger is satisfied by database.DB.
type Pinger interface {
	Health(ctx context.Context) error
}

// DatabaseCheck probes the Postgres pool. The database is critical.
func DatabaseCheck(db Pinger) Check {
	if db == nil {
		return nil
	}
	return NewPingCheck("database", true, db.Health)
}

// RedisCheck probes the shared prediction cache. Redis failures degrade
// the cache to memory only.
func RedisCheck(client *redis.Client) Check {
	if client == nil {
		return nil
	}
	return NewPingCheck("redis", false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// HistoryCheck counts stored runs.
type HistoryCheck struct {
	store history.Store
}

// NewHistoryCheck returns nil when no store is configured.
func NewHistoryCheck(store history.Store) Check {
	if store == nil {
		return nil
	}
	return &HistoryCheck{store: store}
}

func (h *HistoryCheck) Name() string { return "history" }

func (h *HistoryCheck) Check(ctx context.Context) ComponentHealth {
	count, err := h.store.Count(ctx)
	if err != nil {
		return ComponentHealth{Status: StateDegraded, Message: "history store unavailable", Error: err.Error()}
	}
	return ComponentHealth{
		Status:   StateHealthy,
		Message:  "ok",
		Metadata: map[string]interface{}{"runs": count},
	}
}

// BreakerReporter is satisfied by backend.Client.
type BreakerReporter interface {
	State() gobreaker.State
	BaseURL() string
}

// BackendCheck reports the remote backend circuit breaker. An open breaker
// is degraded since requests are served by the local heuristic or refused.
type BackendCheck struct {
	backend BreakerReporter
}

// NewBackendCheck returns nil when no backend is configured.
func NewBackendCheck(backend BreakerReporter) Check {
	if backend == nil {
		return nil
	}
	return &BackendCheck{backend: backend}
}

func (b *BackendCheck) Name() string { return "backend" }

func (b *BackendCheck) Check(ctx context.Context) ComponentHealth {
	state := b.backend.State()
	result := ComponentHealth{
		Status:   StateHealthy,
		Message:  "circuit " + state.String(),
		Metadata: map[string]interface{}{"base_url": b.backend.BaseURL()},
	}
	if state != gobreaker.StateClosed {
		result.Status = StateDegraded
	}
	return result
}
