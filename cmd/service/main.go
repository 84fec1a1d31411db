package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/wind-analytics-service/internal/cache"
	"github.com/kjstillabower/wind-analytics-service/internal/charts"
	"github.com/kjstillabower/wind-analytics-service/internal/circuitbreaker"
	"github.com/kjstillabower/wind-analytics-service/internal/client"
	"github.com/kjstillabower/wind-analytics-service/internal/config"
	"github.com/kjstillabower/wind-analytics-service/internal/events"
	"github.com/kjstillabower/wind-analytics-service/internal/health"
	httphandler "github.com/kjstillabower/wind-analytics-service/internal/http"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
	"github.com/kjstillabower/wind-analytics-service/internal/observability"
	"github.com/kjstillabower/wind-analytics-service/internal/service"
	"github.com/kjstillabower/wind-analytics-service/internal/store"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenMeteoClient(client.Options{
		APIKey:         cfg.WeatherAPIKey,
		BaseURL:        cfg.WeatherAPIURL,
		Timezone:       cfg.WeatherTimezone,
		Timeout:        cfg.WeatherAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	eventLocation, err := time.LoadLocation(cfg.WeatherTimezone)
	if err != nil {
		logger.Fatal("weather timezone", zap.String("timezone", cfg.WeatherTimezone), zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "weather_api",
			IsFailure:        client.IsTransient,
			OnStateChange: func(component string, from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker transition",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		weatherClient.SetCircuitBreaker(cb)
		observability.CircuitBreakerState.WithLabelValues("weather_api").Set(0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var (
		weatherCache   cache.Cache[models.WeatherObservation]
		manifestCache  cache.Cache[*store.Manifest]
		datasetCache   cache.Cache[*store.Dataset]
		cacheProbe     health.Probe
		closers        []io.Closer
	)
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcached(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.MemcachedMaxItemBytes)
		if err := mc.Ping(); err != nil {
			logger.Warn("memcached not reachable at startup", zap.String("addrs", cfg.MemcachedAddrs), zap.Error(err))
		}
		weatherCache = cache.NewMemcachedCache[models.WeatherObservation](mc, "weather:", cfg.StaleCacheTTL)
		manifestCache = cache.NewMemcachedCache[*store.Manifest](mc, "workspace:", 0)
		datasetCache = cache.NewMemcachedCache[*store.Dataset](mc, "dataset:", 0)
		cacheProbe = func(context.Context) error { return mc.Ping() }
		closers = append(closers, mc)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		weatherCache = cache.NewInMemoryCache[models.WeatherObservation](cfg.StaleCacheTTL)
		manifestCache = cache.NewInMemoryCache[*store.Manifest](0)
		datasetCache = cache.NewInMemoryCache[*store.Dataset](0)
		logger.Info("cache backend: in_memory")
	}

	weatherService := service.NewWeatherService(weatherClient, weatherCache, cfg.CacheTTL, cfg.StaleCacheTTL)
	checker := service.NewCrossChecker(weatherService, service.CrossCheckConfig{
		Layouts:     cfg.CrossCheckTimeLayouts,
		Location:    eventLocation,
		WindSpeed:   cfg.CrossCheckWindSpeed,
		Concurrency: cfg.CrossCheckConcurrency,
	})
	analysisService := service.NewAnalysisService(
		store.New(manifestCache, datasetCache, cfg.WorkspaceTTL),
		checker,
		charts.New(cfg.ChartWidth, cfg.ChartHeight),
		service.AnalysisConfig{
			Sites:                    cfg.Sites,
			UploadMaxBytes:           cfg.UploadMaxBytes,
			LidarSkipRows:            cfg.LidarSkipRows,
			PreviewRows:              cfg.PreviewRows,
			LidarPreviewRows:         cfg.LidarPreviewRows,
			MesoscaleSpeedColumn:     cfg.MesoscaleSpeedColumn,
			MesoscaleDirectionColumn: cfg.MesoscaleDirectionColumn,
			LidarSpeedColumnMatch:    cfg.LidarSpeedColumnMatch,
			Events: events.Config{
				SpeedColumn:     cfg.EventSpeedColumn,
				DirectionColumn: cfg.EventDirectionColumn,
				TimeColumn:      cfg.EventTimeColumn,
				HighWindSpeed:   cfg.EventHighWindSpeed,
				DirectionChange: cfg.EventDirectionChange,
				InvalidSpeed:    cfg.EventInvalidSpeed,
				WrapDirection:   cfg.EventWrapDirection,
			},
			HistogramBins: cfg.ChartHistogramBins,
		},
	)

	var limiter *rate.Limiter
	burst := 0
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		burst = cfg.RateLimitBurst
	}

	tracker := health.NewTracker()
	monitor := health.NewMonitor(tracker, health.Thresholds{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		RateLimitBurst:         burst,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		StartTime:              time.Now(),
	}, weatherClient.Ping, cacheProbe, logger)
	observability.RegisterTrafficGauges(tracker, cfg.OverloadWindow)

	handler := httphandler.NewHandler(analysisService, monitor, limiter, logger, cfg.UploadMaxBytes)
	inFlight := &httphandler.InFlight{}
	router := httphandler.NewRouter(handler, inFlight, logger, httphandler.RouterConfig{
		RequestTimeout:    cfg.RequestTimeout,
		CrossCheckTimeout: cfg.CrossCheckTimeout,
		TestingMode:       cfg.TestingMode,
	})

	writeTimeout := cfg.RequestTimeout
	if cfg.CrossCheckTimeout > writeTimeout {
		writeTimeout = cfg.CrossCheckTimeout
	}
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      writeTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.Int("sites", len(cfg.Sites)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	monitor.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	remaining := inFlight.Count()
	logger.Info("waiting for in-flight requests", zap.Int64("count", remaining))
	observability.RecordShutdownInFlight(remaining)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := inFlight.WaitForZero(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := observability.FlushTelemetry(flushCtx, logger, closers...); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
