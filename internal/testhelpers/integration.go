//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/wind-analytics-service/internal/cache"
	"github.com/kjstillabower/wind-analytics-service/internal/charts"
	"github.com/kjstillabower/wind-analytics-service/internal/client"
	"github.com/kjstillabower/wind-analytics-service/internal/config"
	"github.com/kjstillabower/wind-analytics-service/internal/events"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
	"github.com/kjstillabower/wind-analytics-service/internal/service"
	"github.com/kjstillabower/wind-analytics-service/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test when the weather API cannot be reached.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = "https://api.open-meteo.com/v1/forecast"
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	cfg := IntegrationTestConfig{
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SetupIntegrationClient(t, cfg).Ping(ctx); err != nil {
		t.Skipf("weather API unreachable (%v), skipping integration test", err)
	}
	return cfg
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenMeteoClient {
	t.Helper()
	c, err := client.NewOpenMeteoClient(client.Options{
		BaseURL:       cfg.APIURL,
		Timezone:      "Europe/London",
		Timeout:       5 * time.Second,
		RetryAttempts: 1,
	})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	return c
}

// Stack is a fully wired service layer backed by the real weather API.
type Stack struct {
	Weather  *service.WeatherService
	Analysis *service.AnalysisService
	Client   *client.OpenMeteoClient
}

// SetupIntegrationStack builds the weather and analysis services on the configured
// cache backend, falling back to in-memory when memcached is unavailable.
// Returns the stack and a cleanup function.
func SetupIntegrationStack(t *testing.T, cfg IntegrationTestConfig) (*Stack, func()) {
	t.Helper()
	weatherClient := SetupIntegrationClient(t, cfg)

	var (
		weatherCache   cache.Cache[models.WeatherObservation]
		manifestCache  cache.Cache[*store.Manifest]
		datasetCache   cache.Cache[*store.Dataset]
		cleanup        = func() {}
	)
	if cfg.CacheBackend == "memcached" {
		mc := cache.NewMemcached(cfg.MemcachedAddr, 500*time.Millisecond, 2, 0)
		if err := mc.Ping(); err == nil {
			weatherCache = cache.NewMemcachedCache[models.WeatherObservation](mc, "it-weather:", time.Hour)
			manifestCache = cache.NewMemcachedCache[*store.Manifest](mc, "it-workspace:", 0)
			datasetCache = cache.NewMemcachedCache[*store.Dataset](mc, "it-dataset:", 0)
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		}
	}
	if weatherCache == nil {
		weatherCache = cache.NewInMemoryCache[models.WeatherObservation](time.Hour)
		manifestCache = cache.NewInMemoryCache[*store.Manifest](0)
		datasetCache = cache.NewInMemoryCache[*store.Dataset](0)
	}

	weather := service.NewWeatherService(weatherClient, weatherCache, 5*time.Minute, time.Hour)
	checker := service.NewCrossChecker(weather, service.CrossCheckConfig{WindSpeed: 20})
	analysis := service.NewAnalysisService(
		store.New(manifestCache, datasetCache, time.Hour),
		checker,
		charts.New(600, 300),
		service.AnalysisConfig{
			Sites:                    config.DefaultSites,
			UploadMaxBytes:           8 << 20,
			LidarSkipRows:            2,
			MesoscaleSpeedColumn:     "wsp_99.0",
			MesoscaleDirectionColumn: "wdir_99.0",
			Events:                   events.DefaultConfig(),
		},
	)
	return &Stack{Weather: weather, Analysis: analysis, Client: weatherClient}, cleanup
}
