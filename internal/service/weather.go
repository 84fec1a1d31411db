package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/wind-analytics-service/internal/cache"
	"github.com/kjstillabower/wind-analytics-service/internal/client"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
	"github.com/kjstillabower/wind-analytics-service/internal/observability"
	"github.com/kjstillabower/wind-analytics-service/internal/requestctx"
)

const weatherCacheType = "weather"

// WeatherService serves hourly observations cache-aside over the weather client.
// Concurrent lookups for the same coordinate and hour share one upstream call.
type WeatherService struct {
	client        client.WeatherClient
	cache         cache.Cache[models.WeatherObservation]
	ttl           time.Duration
	staleCacheTTL time.Duration // 0 disables stale fallback
	group         singleflight.Group
}

// NewWeatherService creates a WeatherService. Observations are cached for ttl;
// after an upstream failure, entries up to staleCacheTTL old are served marked Stale.
func NewWeatherService(wc client.WeatherClient, c cache.Cache[models.WeatherObservation], ttl, staleCacheTTL time.Duration) *WeatherService {
	return &WeatherService{client: wc, cache: c, ttl: ttl, staleCacheTTL: staleCacheTTL}
}

// observationKey rounds coordinates to 0.01° (about 1 km), finer than the model grid.
func observationKey(lat, lon float64, hour time.Time) string {
	return fmt.Sprintf("%.2f,%.2f@%s", lat, lon, hour.Format("2006-01-02T15"))
}

func truncateHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// GetObservation returns the observation for the hour containing at.
func (s *WeatherService) GetObservation(ctx context.Context, lat, lon float64, at time.Time) (models.WeatherObservation, error) {
	hour := truncateHour(at)
	key := observationKey(lat, lon, hour)
	logger := requestctx.Logger(ctx)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues(weatherCacheType, "get").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues(weatherCacheType).Inc()
		logger.Debug("cache hit", zap.String("key", key))
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues(weatherCacheType).Inc()

	// The shared fetch outlives any single caller so a cancelled request does
	// not fail the others waiting on it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		obs, err := s.client.GetObservation(fetchCtx, lat, lon, hour)
		if err != nil {
			return models.WeatherObservation{}, err
		}
		if err := s.cache.Set(fetchCtx, key, obs, s.ttl); err != nil {
			observability.CacheErrorsTotal.WithLabelValues(weatherCacheType, "set").Inc()
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return obs, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return models.WeatherObservation{}, ctx.Err()
	case res = <-ch:
	}
	if res.Shared {
		observability.WeatherLookupsCoalescedTotal.Inc()
	}
	if res.Err == nil {
		return res.Val.(models.WeatherObservation), nil
	}

	if s.staleCacheTTL > 0 {
		stale, ok, staleErr := s.cache.GetStale(ctx, key, s.staleCacheTTL)
		if staleErr == nil && ok {
			observability.StaleCacheServesTotal.Inc()
			logger.Info("serving stale observation", zap.String("key", key), zap.Duration("age", time.Since(stale.FetchedAt)))
			stale.Stale = true
			return stale, nil
		}
	}
	return models.WeatherObservation{}, fmt.Errorf("fetch observation %s: %w", key, res.Err)
}
