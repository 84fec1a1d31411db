// Package health evaluates service status for /health from request outcomes,
// the shutdown flag and dependency probes.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	StatusHealthy      = "healthy"
	StatusIdle         = "idle"
	StatusDegraded     = "degraded"
	StatusOverloaded   = "overloaded"
	StatusShuttingDown = "shutting-down"
)

// Thresholds configures the status rules. Zero windows disable the rule they drive.
type Thresholds struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	RateLimitBurst         int // 0 when the limiter is disabled
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	StartTime              time.Time
}

// OverloadThreshold is the request count within OverloadWindow above which the
// service reports overloaded. Zero when rate limiting is disabled.
func (t Thresholds) OverloadThreshold() float64 {
	if t.RateLimitRPS <= 0 {
		return 0
	}
	return float64(t.RateLimitRPS) * t.OverloadWindow.Seconds() * float64(t.OverloadThresholdPct) / 100
}

// Probe checks a dependency. A nil Probe is skipped.
type Probe func(ctx context.Context) error

// Result is one evaluation of service status.
type Result struct {
	Status string
	Code   int
	Reason string
	Checks map[string]string
}

// Monitor owns the outcome tracker and shutdown flag and evaluates status on demand.
type Monitor struct {
	tracker      *Tracker
	thresholds   Thresholds
	weatherProbe Probe
	cacheProbe   Probe
	logger       *zap.Logger
	shuttingDown atomic.Bool
	now          func() time.Time

	mu         sync.Mutex
	lastStatus string
}

// NewMonitor returns a Monitor. weatherProbe and cacheProbe may be nil.
func NewMonitor(tracker *Tracker, thresholds Thresholds, weatherProbe, cacheProbe Probe, logger *zap.Logger) *Monitor {
	if tracker == nil {
		tracker = NewTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if thresholds.StartTime.IsZero() {
		thresholds.StartTime = time.Now()
	}
	return &Monitor{
		tracker:      tracker,
		thresholds:   thresholds,
		weatherProbe: weatherProbe,
		cacheProbe:   cacheProbe,
		logger:       logger,
		now:          time.Now,
	}
}

// Tracker returns the outcome tracker fed by middleware and handlers.
func (m *Monitor) Tracker() *Tracker { return m.tracker }

// Thresholds returns the configured thresholds.
func (m *Monitor) Thresholds() Thresholds { return m.thresholds }

// SetShuttingDown sets the drain flag. /health reports shutting-down while true.
func (m *Monitor) SetShuttingDown(v bool) { m.shuttingDown.Store(v) }

// ShuttingDown reports whether the process is draining.
func (m *Monitor) ShuttingDown() bool { return m.shuttingDown.Load() }

// Evaluate computes status in priority order:
// shutting-down > overloaded > degraded > idle > healthy.
// Dependency probes run on every evaluation so Checks is always populated.
func (m *Monitor) Evaluate(ctx context.Context) Result {
	checks := make(map[string]string)
	weatherErr := runProbe(ctx, m.weatherProbe, "weatherApi", checks)
	_ = runProbe(ctx, m.cacheProbe, "cache", checks)

	res := m.decide(weatherErr)
	res.Checks = checks
	m.logTransition(res)
	return res
}

func (m *Monitor) decide(weatherErr error) Result {
	th := m.thresholds
	if m.ShuttingDown() {
		return Result{Status: StatusShuttingDown, Code: http.StatusServiceUnavailable, Reason: "signal"}
	}
	if threshold := th.OverloadThreshold(); threshold > 0 && th.OverloadWindow > 0 {
		if float64(m.tracker.RequestCount(th.OverloadWindow)) > threshold {
			return Result{Status: StatusOverloaded, Code: http.StatusServiceUnavailable, Reason: "overload_threshold"}
		}
	}
	if weatherErr != nil {
		return Result{Status: StatusDegraded, Code: http.StatusServiceUnavailable, Reason: "weather_api_unreachable"}
	}
	if th.DegradedWindow > 0 && th.DegradedErrorPct > 0 {
		errs, total := m.tracker.ErrorRate(th.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(th.DegradedErrorPct) {
			return Result{Status: StatusDegraded, Code: http.StatusServiceUnavailable, Reason: "error_rate_breach"}
		}
	}
	if th.IdleWindow > 0 && th.MinimumLifespan > 0 && m.now().Sub(th.StartTime) >= th.MinimumLifespan {
		perMin := float64(m.tracker.ActivityCount(th.IdleWindow)) / th.IdleWindow.Minutes()
		if perMin < float64(th.IdleThresholdReqPerMin) {
			return Result{Status: StatusIdle, Code: http.StatusOK, Reason: "low_traffic"}
		}
	}
	return Result{Status: StatusHealthy, Code: http.StatusOK}
}

func runProbe(ctx context.Context, p Probe, name string, checks map[string]string) error {
	if p == nil {
		return nil
	}
	err := p(ctx)
	if err != nil {
		checks[name] = "unhealthy"
	} else {
		checks[name] = "healthy"
	}
	return err
}

func (m *Monitor) logTransition(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastStatus != "" && m.lastStatus != res.Status {
		m.logger.Info("health status transition",
			zap.String("previous_status", m.lastStatus),
			zap.String("current_status", res.Status),
			zap.String("reason", res.Reason))
	}
	m.lastStatus = res.Status
}
