package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/kjstillabower/wind-analytics-service/internal/models"
)

func createTestObservation() models.WeatherObservation {
	speed, dir := 12.4, 250.0
	return models.WeatherObservation{
		Latitude:      56.49,
		Longitude:     -4.20,
		Hour:          "2024-01-15T13:00",
		WindSpeed:     &speed,
		WindDirection: &dir,
		FetchedAt:     time.Now(),
	}
}

// BenchmarkInMemoryCache_Get_Hit benchmarks Get on a fresh entry.
func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	c := NewInMemoryCache[models.WeatherObservation](time.Hour)
	ctx := context.Background()
	_ = c.Set(ctx, "k", createTestObservation(), 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, "k")
	}
}

// BenchmarkInMemoryCache_Set benchmarks Set across a rolling key space.
func BenchmarkInMemoryCache_Set(b *testing.B) {
	c := NewInMemoryCache[models.WeatherObservation](time.Hour)
	ctx := context.Background()
	obs := createTestObservation()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Set(ctx, strconv.Itoa(i%1024), obs, 5*time.Minute)
	}
}

// BenchmarkInMemoryCache_Concurrent benchmarks parallel Get/Set.
func BenchmarkInMemoryCache_Concurrent(b *testing.B) {
	c := NewInMemoryCache[models.WeatherObservation](time.Hour)
	ctx := context.Background()
	obs := createTestObservation()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := strconv.Itoa(i % 64)
			if i%4 == 0 {
				_ = c.Set(ctx, key, obs, 5*time.Minute)
			} else {
				_, _, _ = c.Get(ctx, key)
			}
			i++
		}
	})
}

// BenchmarkMemcachedCache_Set benchmarks gob encoding plus a memcached round trip.
// Requires: Memcached running on localhost:11211 (skips otherwise).
func BenchmarkMemcachedCache_Set(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping Memcached benchmark in short mode")
	}
	mc := NewMemcached("localhost:11211", 500*time.Millisecond, 2, 0)
	defer mc.Close()
	if err := mc.Ping(); err != nil {
		b.Skipf("Memcached not available: %v", err)
	}
	c := NewMemcachedCache[models.WeatherObservation](mc, "bench:", time.Hour)
	ctx := context.Background()
	obs := createTestObservation()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Set(ctx, "k", obs, 5*time.Minute)
	}
}
