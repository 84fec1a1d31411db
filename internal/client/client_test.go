package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/wind-analytics-service/internal/circuitbreaker"
	"github.com/kjstillabower/wind-analytics-service/internal/requestctx"
)

const hourlyBody = `{
  "latitude": 56.5,
  "longitude": -4.2,
  "hourly": {
    "time": ["2024-01-15T13:00"],
    "temperature_2m": [4.5],
    "wind_speed_10m": [21.3],
    "precipitation": [null],
    "wind_direction_10m": [250]
  }
}`

func newTestClient(t *testing.T, url string, attempts int) *OpenMeteoClient {
	t.Helper()
	c, err := NewOpenMeteoClient(Options{
		BaseURL:        url,
		Timeout:        2 * time.Second,
		RetryAttempts:  attempts,
		RetryBaseDelay: 5 * time.Millisecond,
		RetryMaxDelay:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	return c
}

func eventTime(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return time.Date(2024, 1, 15, 13, 40, 12, 0, loc)
}

func TestNewOpenMeteoClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "/relative/path"} {
		if _, err := NewOpenMeteoClient(Options{BaseURL: u}); err == nil {
			t.Errorf("NewOpenMeteoClient(%q) expected error", u)
		}
	}
}

func TestOpenMeteoClient_GetObservation_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		checks := map[string]string{
			"latitude":        "56.4907",
			"longitude":       "-4.2026",
			"hourly":          hourlyVariables,
			"start_hour":      "2024-01-15T13:00",
			"end_hour":        "2024-01-15T13:00",
			"timezone":        "Europe/London",
			"wind_speed_unit": "ms",
		}
		for k, want := range checks {
			if got := q.Get(k); got != want {
				t.Errorf("query %s = %q, want %q", k, got, want)
			}
		}
		if q.Has("apikey") {
			t.Error("apikey sent without a configured key")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(hourlyBody))
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL, 1).GetObservation(context.Background(), 56.4907, -4.2026, eventTime(t))
	if err != nil {
		t.Fatalf("GetObservation() error = %v", err)
	}
	if got.Hour != "2024-01-15T13:00" {
		t.Errorf("Hour = %q", got.Hour)
	}
	if got.WindSpeed == nil || *got.WindSpeed != 21.3 {
		t.Errorf("WindSpeed = %v, want 21.3", got.WindSpeed)
	}
	if got.WindDirection == nil || *got.WindDirection != 250 {
		t.Errorf("WindDirection = %v, want 250", got.WindDirection)
	}
	if got.Precipitation != nil {
		t.Errorf("Precipitation = %v, want nil for null", *got.Precipitation)
	}
	if got.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}
}

func TestOpenMeteoClient_GetObservation_SendsAPIKeyAndCorrelationID(t *testing.T) {
	var gotKey, gotCorr string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("apikey")
		gotCorr = r.Header.Get("X-Correlation-ID")
		_, _ = w.Write([]byte(hourlyBody))
	}))
	defer server.Close()

	c, err := NewOpenMeteoClient(Options{APIKey: "secret-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	ctx := requestctx.WithCorrelationID(context.Background(), "corr-42")
	if _, err := c.GetObservation(ctx, 1, 2, time.Now()); err != nil {
		t.Fatalf("GetObservation() error = %v", err)
	}
	if gotKey != "secret-key" {
		t.Errorf("apikey = %q", gotKey)
	}
	if gotCorr != "corr-42" {
		t.Errorf("X-Correlation-ID = %q", gotCorr)
	}
}

func TestOpenMeteoClient_GetObservation_ErrorHandling(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantErr      error
		wantAttempts int32
	}{
		{"400 bad request not retried", http.StatusBadRequest, `{"error":true,"reason":"Parameter 'start_hour' is out of allowed range"}`, ErrBadRequest, 1},
		{"429 retried", http.StatusTooManyRequests, ``, ErrRateLimited, 3},
		{"500 retried", http.StatusInternalServerError, ``, ErrUpstreamFailure, 3},
		{"503 retried", http.StatusServiceUnavailable, ``, ErrUpstreamFailure, 3},
		{"empty hourly not retried", http.StatusOK, `{"hourly":{"time":[]}}`, ErrNoData, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL, 3).GetObservation(context.Background(), 1, 2, time.Now())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GetObservation() error = %v, want %v", err, tt.wantErr)
			}
			if got := attempts.Load(); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
		})
	}
}

func TestOpenMeteoClient_GetObservation_ErrorIncludesReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":true,"reason":"Latitude must be in range of -90 to 90°."}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 1).GetObservation(context.Background(), 100, 2, time.Now())
	if err == nil || !errors.Is(err, ErrBadRequest) {
		t.Fatalf("GetObservation() error = %v", err)
	}
	if want := "Latitude must be in range"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not include reason %q", err, want)
	}
}

func TestOpenMeteoClient_GetObservation_RetryThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(hourlyBody))
	}))
	defer server.Close()

	if _, err := newTestClient(t, server.URL, 3).GetObservation(context.Background(), 1, 2, time.Now()); err != nil {
		t.Fatalf("GetObservation() error = %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestOpenMeteoClient_GetObservation_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(hourlyBody))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(t, server.URL, 3).GetObservation(ctx, 1, 2, time.Now())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("GetObservation() error = %v, want context.Canceled", err)
	}
}

func TestOpenMeteoClient_GetObservation_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewOpenMeteoClient(Options{BaseURL: server.URL, Timeout: 30 * time.Millisecond, RetryAttempts: 1})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	_, err = c.GetObservation(context.Background(), 1, 2, time.Now())
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("GetObservation() error = %v, want ErrTimeout", err)
	}
}

func TestOpenMeteoClient_CircuitBreakerOpens(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 1)
	c.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Minute, IsFailure: IsTransient}))

	for i := 0; i < 2; i++ {
		_, _ = c.GetObservation(context.Background(), 1, 2, time.Now())
	}
	_, err := c.GetObservation(context.Background(), 1, 2, time.Now())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("GetObservation() error = %v, want ErrCircuitOpen", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("upstream attempts = %d, want 2", attempts.Load())
	}
}

func TestOpenMeteoClient_calculateBackoff(t *testing.T) {
	c := &OpenMeteoClient{retryBaseDelay: 100 * time.Millisecond, retryMaxDelay: 300 * time.Millisecond}
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{1, 100 * time.Millisecond, 110 * time.Millisecond},
		{2, 200 * time.Millisecond, 220 * time.Millisecond},
		{3, 300 * time.Millisecond, 330 * time.Millisecond},
		{6, 300 * time.Millisecond, 330 * time.Millisecond},
	}
	for _, tt := range tests {
		got := c.calculateBackoff(tt.attempt)
		if got < tt.min || got > tt.max {
			t.Errorf("calculateBackoff(%d) = %v, want in [%v, %v]", tt.attempt, got, tt.min, tt.max)
		}
	}
}

func TestOpenMeteoClient_Ping(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("forecast_hours") != "1" {
			t.Errorf("ping query = %s", r.URL.RawQuery)
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(hourlyBody))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 1)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	healthy.Store(false)
	if err := c.Ping(context.Background()); !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("Ping() error = %v, want ErrUpstreamFailure", err)
	}
}

func TestIsTransient(t *testing.T) {
	for _, err := range []error{ErrRateLimited, ErrUpstreamFailure, ErrTimeout} {
		if !IsTransient(err) {
			t.Errorf("IsTransient(%v) = false", err)
		}
	}
	for _, err := range []error{ErrBadRequest, ErrNoData, context.Canceled, errors.New("x")} {
		if IsTransient(err) {
			t.Errorf("IsTransient(%v) = true", err)
		}
	}
}
