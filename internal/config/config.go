package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/wind-analytics-service/internal/models"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	TestingMode bool

	ServerPort string

	WeatherAPIKey     string // optional; Open-Meteo only needs it on the commercial tier
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	WeatherTimezone   string

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	StaleCacheTTL  time.Duration
	WorkspaceTTL   time.Duration
	CacheBackend   string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	MemcachedMaxItemBytes int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int

	Sites []models.Site

	UploadMaxBytes   int64
	LidarSkipRows    int
	PreviewRows      int
	LidarPreviewRows int

	MesoscaleSpeedColumn     string
	MesoscaleDirectionColumn string
	LidarSpeedColumnMatch    string

	EventSpeedColumn     string
	EventDirectionColumn string
	EventTimeColumn      string
	EventHighWindSpeed   float64
	EventDirectionChange float64
	EventInvalidSpeed    float64
	EventWrapDirection   bool

	CrossCheckWindSpeed   float64
	CrossCheckTimeLayouts []string
	CrossCheckConcurrency int
	CrossCheckTimeout     time.Duration

	ChartWidth         int
	ChartHeight        int
	ChartHistogramBins int
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL      string `yaml:"url"`
		Timeout  string `yaml:"timeout"`
		Timezone string `yaml:"timezone"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend      string `yaml:"backend"`
		TTL          string `yaml:"ttl"`
		StaleTTL     string `yaml:"stale_ttl"`
		WorkspaceTTL string `yaml:"workspace_ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
			MaxItemBytes int    `yaml:"max_item_bytes"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Sites []models.Site `yaml:"sites"`

	Datasets struct {
		UploadMaxBytes   int64 `yaml:"upload_max_bytes"`
		LidarSkipRows    int   `yaml:"lidar_skip_rows"`
		PreviewRows      int   `yaml:"preview_rows"`
		LidarPreviewRows int   `yaml:"lidar_preview_rows"`
		Mesoscale struct {
			SpeedColumn     string `yaml:"speed_column"`
			DirectionColumn string `yaml:"direction_column"`
		} `yaml:"mesoscale"`
		Lidar struct {
			SpeedColumnMatch string `yaml:"speed_column_match"`
		} `yaml:"lidar"`
	} `yaml:"datasets"`

	Events struct {
		SpeedColumn     string   `yaml:"speed_column"`
		DirectionColumn string   `yaml:"direction_column"`
		TimeColumn      string   `yaml:"time_column"`
		HighWindSpeed   *float64 `yaml:"high_wind_speed"`
		DirectionChange *float64 `yaml:"direction_change"`
		InvalidSpeed    *float64 `yaml:"invalid_speed"`
		WrapDirection   bool     `yaml:"wrap_direction"`
	} `yaml:"events"`

	CrossCheck struct {
		WindSpeedThreshold *float64 `yaml:"wind_speed_threshold"`
		TimeLayouts        []string `yaml:"time_layouts"`
		Concurrency        int      `yaml:"concurrency"`
		Timeout            string   `yaml:"timeout"`
	} `yaml:"crosscheck"`

	Charts struct {
		Width         int `yaml:"width"`
		Height        int `yaml:"height"`
		HistogramBins int `yaml:"histogram_bins"`
	} `yaml:"charts"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// DefaultSites is the Scotland/Ireland pair used when the config names none.
var DefaultSites = []models.Site{
	{Name: "scotland", Latitude: 56.4907, Longitude: -4.2026},
	{Name: "ireland", Latitude: 53.1424, Longitude: -7.6921},
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and the optional
// config/secrets.yaml. The API key comes from WEATHER_API_KEY env or the secrets file. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		key, err := readSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.WeatherTimezone = strings.TrimSpace(fc.WeatherAPI.Timezone)
	if cfg.WeatherTimezone == "" {
		cfg.WeatherTimezone = "Europe/London"
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.StaleCacheTTL = parseDurationOrZero(fc.Cache.StaleTTL, 24*time.Hour)
	cfg.WorkspaceTTL = parseDuration(fc.Cache.WorkspaceTTL, 2*time.Hour)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.MemcachedMaxItemBytes = fc.Cache.Memcached.MaxItemBytes
	if cfg.MemcachedMaxItemBytes == 0 {
		cfg.MemcachedMaxItemBytes = 1 << 20
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 50
	}
	cfg.CircuitBreakerEnabled = true
	if fc.Reliability.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Reliability.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	cfg.CircuitBreakerSuccessThreshold = fc.Reliability.CircuitBreaker.SuccessThreshold
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.IdleThresholdReqPerMin = fc.Lifecycle.IdleThresholdReqPerMin
	if cfg.IdleThresholdReqPerMin <= 0 {
		cfg.IdleThresholdReqPerMin = 1
	}
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.Sites = fc.Sites
	if len(cfg.Sites) == 0 {
		cfg.Sites = append([]models.Site(nil), DefaultSites...)
	}
	for i := range cfg.Sites {
		cfg.Sites[i].Name = strings.ToLower(strings.TrimSpace(cfg.Sites[i].Name))
	}

	cfg.UploadMaxBytes = fc.Datasets.UploadMaxBytes
	if cfg.UploadMaxBytes <= 0 {
		cfg.UploadMaxBytes = 32 << 20
	}
	cfg.LidarSkipRows = fc.Datasets.LidarSkipRows
	cfg.PreviewRows = positiveOr(fc.Datasets.PreviewRows, 5)
	cfg.LidarPreviewRows = positiveOr(fc.Datasets.LidarPreviewRows, 10)
	cfg.MesoscaleSpeedColumn = stringOr(fc.Datasets.Mesoscale.SpeedColumn, "wsp_99.0")
	cfg.MesoscaleDirectionColumn = stringOr(fc.Datasets.Mesoscale.DirectionColumn, "wdir_99.0")
	cfg.LidarSpeedColumnMatch = stringOr(fc.Datasets.Lidar.SpeedColumnMatch, "horizontal wind speed")

	cfg.EventSpeedColumn = stringOr(fc.Events.SpeedColumn, "Horizontal Wind Speed (m/s) at 99m")
	cfg.EventDirectionColumn = stringOr(fc.Events.DirectionColumn, "Wind Direction (deg) at 99m")
	cfg.EventTimeColumn = stringOr(fc.Events.TimeColumn, "Time and Date")
	cfg.EventHighWindSpeed = floatOr(fc.Events.HighWindSpeed, 10)
	cfg.EventDirectionChange = floatOr(fc.Events.DirectionChange, 30)
	cfg.EventInvalidSpeed = floatOr(fc.Events.InvalidSpeed, 9999)
	cfg.EventWrapDirection = fc.Events.WrapDirection

	cfg.CrossCheckWindSpeed = floatOr(fc.CrossCheck.WindSpeedThreshold, 20)
	cfg.CrossCheckTimeLayouts = fc.CrossCheck.TimeLayouts
	if len(cfg.CrossCheckTimeLayouts) == 0 {
		cfg.CrossCheckTimeLayouts = []string{"02/01/2006 15:04:05", "02/01/2006 15:04", "2006-01-02 15:04:05", time.RFC3339}
	}
	cfg.CrossCheckConcurrency = positiveOr(fc.CrossCheck.Concurrency, 4)
	cfg.CrossCheckTimeout = parseDuration(fc.CrossCheck.Timeout, 60*time.Second)

	cfg.ChartWidth = positiveOr(fc.Charts.Width, 900)
	cfg.ChartHeight = positiveOr(fc.Charts.Height, 450)
	cfg.ChartHistogramBins = positiveOr(fc.Charts.HistogramBins, 30)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readSecrets returns the weather API key from the secrets file; a missing file is not an error.
func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func stringOr(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// validate performs post-load validation of configuration values.
// Ensures WeatherAPITimeout is positive, RequestTimeout >= WeatherAPITimeout, the cache
// backend is known, and at least two uniquely named sites exist for comparisons.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.CacheBackend == "memcached" && cfg.MemcachedMaxItemBytes < 64<<10 {
		return fmt.Errorf("cache.memcached.max_item_bytes must be at least 65536, got %d", cfg.MemcachedMaxItemBytes)
	}
	if len(cfg.Sites) < 2 {
		return fmt.Errorf("sites: at least two sites required, got %d", len(cfg.Sites))
	}
	seen := make(map[string]struct{}, len(cfg.Sites))
	for _, s := range cfg.Sites {
		if s.Name == "" {
			return fmt.Errorf("sites: name is required")
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("sites: duplicate name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
			return fmt.Errorf("sites: %s has out-of-range coordinates", s.Name)
		}
	}
	if cfg.EventHighWindSpeed < 0 || cfg.EventDirectionChange < 0 {
		return fmt.Errorf("events: thresholds must be non-negative")
	}
	if cfg.LidarSkipRows < 0 {
		return fmt.Errorf("datasets.lidar_skip_rows must be non-negative")
	}
	return nil
}
