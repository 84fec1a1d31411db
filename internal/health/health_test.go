package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func baseThresholds() Thresholds {
	return Thresholds{
		OverloadWindow:         time.Minute,
		OverloadThresholdPct:   80,
		RateLimitRPS:           1,
		RateLimitBurst:         5,
		DegradedWindow:         time.Minute,
		DegradedErrorPct:       50,
		IdleWindow:             5 * time.Minute,
		IdleThresholdReqPerMin: 1,
		MinimumLifespan:        5 * time.Minute,
		StartTime:              time.Now(),
	}
}

func okProbe(context.Context) error   { return nil }
func failProbe(context.Context) error { return errors.New("down") }

// TestMonitor_Evaluate covers each status and the priority between them.
func TestMonitor_Evaluate(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(m *Monitor)
		weather    Probe
		wantStatus string
		wantCode   int
		wantReason string
	}{
		{
			name:       "healthy",
			setup:      func(m *Monitor) { m.tracker.RecordSuccess() },
			weather:    okProbe,
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name:       "shutting down wins over everything",
			setup:      func(m *Monitor) { m.SetShuttingDown(true); m.tracker.RecordSuccessN(100) },
			weather:    failProbe,
			wantStatus: StatusShuttingDown,
			wantCode:   http.StatusServiceUnavailable,
			wantReason: "signal",
		},
		{
			name:       "overloaded above threshold",
			setup:      func(m *Monitor) { m.tracker.RecordSuccessN(49) },
			weather:    failProbe,
			wantStatus: StatusOverloaded,
			wantCode:   http.StatusServiceUnavailable,
			wantReason: "overload_threshold",
		},
		{
			name:       "degraded when weather probe fails",
			setup:      func(m *Monitor) {},
			weather:    failProbe,
			wantStatus: StatusDegraded,
			wantCode:   http.StatusServiceUnavailable,
			wantReason: "weather_api_unreachable",
		},
		{
			name:       "degraded on error rate",
			setup:      func(m *Monitor) { m.tracker.RecordErrorN(2); m.tracker.RecordSuccessN(2) },
			weather:    okProbe,
			wantStatus: StatusDegraded,
			wantCode:   http.StatusServiceUnavailable,
			wantReason: "error_rate_breach",
		},
		{
			name: "idle after minimum lifespan",
			setup: func(m *Monitor) {
				m.thresholds.StartTime = time.Now().Add(-time.Hour)
			},
			weather:    okProbe,
			wantStatus: StatusIdle,
			wantCode:   http.StatusOK,
			wantReason: "low_traffic",
		},
		{
			name: "not idle with enough activity",
			setup: func(m *Monitor) {
				m.thresholds.StartTime = time.Now().Add(-time.Hour)
				m.tracker.RecordActivityN(10)
			},
			weather:    okProbe,
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(NewTracker(), baseThresholds(), tt.weather, nil, nil)
			tt.setup(m)
			got := m.Evaluate(context.Background())
			if got.Status != tt.wantStatus || got.Code != tt.wantCode || got.Reason != tt.wantReason {
				t.Errorf("Evaluate() = %+v, want status=%s code=%d reason=%q", got, tt.wantStatus, tt.wantCode, tt.wantReason)
			}
		})
	}
}

func TestMonitor_Checks(t *testing.T) {
	m := NewMonitor(nil, Thresholds{}, okProbe, failProbe, nil)
	got := m.Evaluate(context.Background())
	if got.Checks["weatherApi"] != "healthy" || got.Checks["cache"] != "unhealthy" {
		t.Errorf("Checks = %v", got.Checks)
	}
	if got.Status != StatusHealthy {
		t.Errorf("Status = %q, want healthy; cache is informational", got.Status)
	}

	m = NewMonitor(nil, Thresholds{}, nil, nil, nil)
	if got := m.Evaluate(context.Background()); len(got.Checks) != 0 {
		t.Errorf("Checks = %v, want empty without probes", got.Checks)
	}
}

// TestMonitor_OverloadDisabledWithoutRateLimit verifies no overload status when rate limiting is off.
func TestMonitor_OverloadDisabledWithoutRateLimit(t *testing.T) {
	th := baseThresholds()
	th.RateLimitRPS = 0
	m := NewMonitor(nil, th, okProbe, nil, nil)
	m.tracker.RecordSuccessN(1000)
	if got := m.Evaluate(context.Background()); got.Status != StatusHealthy {
		t.Errorf("Status = %q, want healthy", got.Status)
	}
}

// TestMonitor_LogsTransition verifies that a status change is logged once.
func TestMonitor_LogsTransition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := NewMonitor(nil, Thresholds{}, okProbe, nil, zap.New(core))

	m.Evaluate(context.Background())
	m.SetShuttingDown(true)
	m.Evaluate(context.Background())
	m.Evaluate(context.Background())

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != StatusHealthy || fields["current_status"] != StatusShuttingDown {
		t.Errorf("fields = %v", fields)
	}
}

func TestThresholds_OverloadThreshold(t *testing.T) {
	th := Thresholds{RateLimitRPS: 20, OverloadWindow: time.Minute, OverloadThresholdPct: 80}
	if got := th.OverloadThreshold(); got != 960 {
		t.Errorf("OverloadThreshold() = %v, want 960", got)
	}
}
