package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// BenchmarkClient_BuildRequest benchmarks HTTP request construction.
func BenchmarkClient_BuildRequest(b *testing.B) {
	client, _ := NewOpenMeteoClient(Options{BaseURL: "https://api.open-meteo.com/v1/forecast"})
	ctx := context.Background()
	hour := time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = client.buildRequest(ctx, observationParams(56.4907, -4.2026, hour))
	}
}

// BenchmarkClient_ParseAndMapResponse benchmarks JSON decoding plus mapping of one hourly sample.
func BenchmarkClient_ParseAndMapResponse(b *testing.B) {
	body := []byte(hourlyBody)
	hour := time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var apiResp openMeteoResponse
		_ = json.Unmarshal(body, &apiResp)
		_, _ = mapResponse(apiResp, 56.4907, -4.2026, hour)
	}
}

// BenchmarkCategorizeError benchmarks error classification for metrics labels.
func BenchmarkCategorizeError(b *testing.B) {
	errs := []error{
		fmt.Errorf("exhausted retries: %w", ErrUpstreamFailure),
		ErrBadRequest,
		errors.New("dial tcp: connection refused"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = CategorizeError(errs[i%len(errs)])
	}
}
