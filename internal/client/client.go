package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/wind-analytics-service/internal/circuitbreaker"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
	"github.com/kjstillabower/wind-analytics-service/internal/observability"
	"github.com/kjstillabower/wind-analytics-service/internal/requestctx"
)

// WeatherClient fetches hourly weather observations for a coordinate.
type WeatherClient interface {
	GetObservation(ctx context.Context, lat, lon float64, at time.Time) (models.WeatherObservation, error)
	Ping(ctx context.Context) error
}

var (
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrBadRequest      = errors.New("bad request")
	ErrTimeout         = errors.New("upstream timeout")
	ErrNoData          = errors.New("no hourly data")
	ErrCircuitOpen     = circuitbreaker.ErrOpen
)

// hourlyVariables are requested for every observation, in Open-Meteo naming.
const hourlyVariables = "temperature_2m,wind_speed_10m,precipitation,wind_direction_10m"

// hourLayout is the ISO8601 local-hour format Open-Meteo expects for start_hour/end_hour.
const hourLayout = "2006-01-02T15:04"

// Options configures an OpenMeteoClient. Zero retry values fall back to defaults.
type Options struct {
	APIKey         string
	BaseURL        string
	Timezone       string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// OpenMeteoClient calls the Open-Meteo forecast API with retries and an optional circuit breaker.
type OpenMeteoClient struct {
	apiKey         string
	baseURL        *url.URL
	timezone       string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// NewOpenMeteoClient validates opts and returns a client.
func NewOpenMeteoClient(opts Options) (*OpenMeteoClient, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay < opts.RetryBaseDelay {
		opts.RetryMaxDelay = opts.RetryBaseDelay
	}
	if opts.Timezone == "" {
		opts.Timezone = "Europe/London"
	}
	return &OpenMeteoClient{
		apiKey:         opts.APIKey,
		baseURL:        u,
		timezone:       opts.Timezone,
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

// SetCircuitBreaker wraps every upstream attempt in cb. Bad requests do not count as failures.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type openMeteoResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Hourly    struct {
		Time          []string   `json:"time"`
		Temperature   []*float64 `json:"temperature_2m"`
		WindSpeed     []*float64 `json:"wind_speed_10m"`
		Precipitation []*float64 `json:"precipitation"`
		WindDirection []*float64 `json:"wind_direction_10m"`
	} `json:"hourly"`
}

type openMeteoError struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// GetObservation returns the hourly sample for the hour containing at, interpreted in
// at's location. Retries rate limiting, 5xx and timeouts with exponential backoff.
func (c *OpenMeteoClient) GetObservation(ctx context.Context, lat, lon float64, at time.Time) (models.WeatherObservation, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return models.WeatherObservation{}, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		var obs models.WeatherObservation
		call := func() error {
			var err error
			obs, err = c.callAPI(ctx, lat, lon, at)
			return err
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			return obs, nil
		}

		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		lastErr = err
		if ctx.Err() != nil {
			return models.WeatherObservation{}, ctx.Err()
		}
		if !IsTransient(err) {
			return models.WeatherObservation{}, err
		}
	}

	return models.WeatherObservation{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, lat, lon float64, at time.Time) (models.WeatherObservation, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	hour := time.Date(at.Year(), at.Month(), at.Day(), at.Hour(), 0, 0, 0, at.Location())
	req, err := c.buildRequest(reqCtx, observationParams(lat, lon, hour))
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.WeatherObservation{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return models.WeatherObservation{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil {
			return models.WeatherObservation{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return models.WeatherObservation{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.WeatherObservation{}, fmt.Errorf("read response body: %w", err)
	}
	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		return models.WeatherObservation{}, err
	}

	var apiResp openMeteoResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherObservation{}, fmt.Errorf("parse response: %w", err)
	}
	return mapResponse(apiResp, lat, lon, hour)
}

func observationParams(lat, lon float64, hour time.Time) url.Values {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("hourly", hourlyVariables)
	params.Set("start_hour", hour.Format(hourLayout))
	params.Set("end_hour", hour.Format(hourLayout))
	params.Set("wind_speed_unit", "ms")
	return params
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, params url.Values) (*http.Request, error) {
	u := *c.baseURL
	params.Set("timezone", c.timezone)
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := requestctx.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// handleErrorResponse maps non-2xx statuses to sentinel errors, including the Open-Meteo reason when present.
func handleErrorResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	reason := ""
	var apiErr openMeteoError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Reason != "" {
		reason = ": " + apiErr.Reason
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w%s", ErrRateLimited, reason)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d%s", ErrUpstreamFailure, statusCode, reason)
	case statusCode >= 400:
		return fmt.Errorf("%w: HTTP %d%s", ErrBadRequest, statusCode, reason)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}
}

// mapResponse takes the first hourly sample; null values stay nil.
func mapResponse(apiResp openMeteoResponse, lat, lon float64, hour time.Time) (models.WeatherObservation, error) {
	h := apiResp.Hourly
	if len(h.Time) == 0 {
		return models.WeatherObservation{}, ErrNoData
	}
	first := func(values []*float64) *float64 {
		if len(values) == 0 {
			return nil
		}
		return values[0]
	}
	return models.WeatherObservation{
		Latitude:      lat,
		Longitude:     lon,
		Hour:          hour.Format(hourLayout),
		Temperature:   first(h.Temperature),
		WindSpeed:     first(h.WindSpeed),
		WindDirection: first(h.WindDirection),
		Precipitation: first(h.Precipitation),
		FetchedAt:     time.Now().UTC(),
	}, nil
}

// IsTransient reports whether err is worth retrying and counts as an upstream failure
// for the circuit breaker: rate limiting, 5xx and timeouts.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUpstreamFailure) ||
		errors.Is(err, ErrTimeout)
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

// Ping issues a single-hour forecast request to check the API is reachable and accepts our parameters.
func (c *OpenMeteoClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("latitude", "0")
	params.Set("longitude", "0")
	params.Set("hourly", "temperature_2m")
	params.Set("forecast_hours", "1")
	req, err := c.buildRequest(ctx, params)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return handleErrorResponse(resp.StatusCode, body)
}
