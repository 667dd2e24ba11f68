package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-aggregation-service/internal/cache"
	"github.com/kjstillabower/weather-aggregation-service/internal/sources"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string
	LogLevel   string

	RequestTimeout time.Duration

	SourceTimeout      time.Duration
	OpenWeatherURL     string
	OpenMeteoURL       string
	WeatherStackURL    string
	OpenWeatherAPIKey  string
	WeatherStackAPIKey string

	CacheBackend         string // "in_memory" or "memcached"
	CacheTTL             time.Duration
	CacheCleanupInterval time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration
	RateLimitRPS                   int
	RateLimitBurst                 int

	ShutdownTimeout time.Duration

	LifecycleWindow      time.Duration
	OverloadThresholdPct int
	DegradedErrorPct     int

	TracingEnabled     bool
	ZipkinURL          string
	TracingServiceName string

	WarmingEnabled   bool
	WarmingInterval  time.Duration
	WarmingLocations []cache.Location
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Sources struct {
		Timeout         string `yaml:"timeout"`
		OpenWeatherURL  string `yaml:"openweather_url"`
		OpenMeteoURL    string `yaml:"openmeteo_url"`
		WeatherStackURL string `yaml:"weatherstack_url"`
	} `yaml:"sources"`

	Cache struct {
		Backend         string `yaml:"backend"`
		TTL             string `yaml:"ttl"`
		CleanupInterval string `yaml:"cleanup_interval"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Aggregation struct {
		CoalesceEnabled *bool  `yaml:"coalesce_enabled"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
	} `yaml:"aggregation"`

	Reliability struct {
		CircuitBreakerEnabled          bool   `yaml:"circuit_breaker_enabled"`
		CircuitBreakerFailureThreshold int    `yaml:"circuit_breaker_failure_threshold"`
		CircuitBreakerSuccessThreshold int    `yaml:"circuit_breaker_success_threshold"`
		CircuitBreakerTimeout          string `yaml:"circuit_breaker_timeout"`
		RateLimitRPS                   int    `yaml:"rate_limit_rps"`
		RateLimitBurst                 int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		Window               string `yaml:"window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ZipkinURL   string `yaml:"zipkin_url"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`

	Warming struct {
		Enabled   bool             `yaml:"enabled"`
		Interval  string           `yaml:"interval"`
		Locations []cache.Location `yaml:"locations"`
	} `yaml:"warming"`
}

type secretsFile struct {
	OpenWeatherAPIKey  string `yaml:"openweather_api_key"`
	WeatherStackAPIKey string `yaml:"weatherstack_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first when present; it never overrides
// variables already set. API keys come from OPENWEATHER_API_KEY / WEATHERSTACK_API_KEY or
// the secrets file. A source without a key is not queried. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
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
	cfg.ServerPort = orDefault(fc.Server.Port, "8080")
	cfg.LogLevel = strings.TrimSpace(fc.Logging.Level)

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.OpenWeatherAPIKey = orDefault(os.Getenv("OPENWEATHER_API_KEY"), sec.OpenWeatherAPIKey)
	cfg.WeatherStackAPIKey = orDefault(os.Getenv("WEATHERSTACK_API_KEY"), sec.WeatherStackAPIKey)

	cfg.SourceTimeout = parseDurationOrZero(fc.Sources.Timeout, 5*time.Second)
	cfg.OpenWeatherURL = orDefault(fc.Sources.OpenWeatherURL, sources.DefaultOpenWeatherURL)
	cfg.OpenMeteoURL = orDefault(fc.Sources.OpenMeteoURL, sources.DefaultOpenMeteoURL)
	cfg.WeatherStackURL = orDefault(fc.Sources.WeatherStackURL, sources.DefaultWeatherStackURL)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheCleanupInterval = parseDuration(fc.Cache.CleanupInterval, time.Minute)
	cfg.MemcachedAddrs = orDefault(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.CoalesceEnabled = true
	if fc.Aggregation.CoalesceEnabled != nil {
		cfg.CoalesceEnabled = *fc.Aggregation.CoalesceEnabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Aggregation.CoalesceTimeout, 5*time.Second)

	cfg.CircuitBreakerEnabled = fc.Reliability.CircuitBreakerEnabled
	cfg.CircuitBreakerFailureThreshold = positiveOr(fc.Reliability.CircuitBreakerFailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = positiveOr(fc.Reliability.CircuitBreakerSuccessThreshold, 1)
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreakerTimeout, 30*time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 250)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.LifecycleWindow = parseDuration(fc.Lifecycle.Window, 60*time.Second)
	cfg.OverloadThresholdPct = positiveOr(fc.Lifecycle.OverloadThresholdPct, 80)
	cfg.DegradedErrorPct = positiveOr(fc.Lifecycle.DegradedErrorPct, 50)

	cfg.TracingEnabled = fc.Tracing.Enabled
	cfg.ZipkinURL = orDefault(os.Getenv("ZIPKIN_URL"), fc.Tracing.ZipkinURL)
	if cfg.ZipkinURL == "" {
		cfg.ZipkinURL = "http://localhost:9411/api/v2/spans"
	}
	cfg.TracingServiceName = orDefault(fc.Tracing.ServiceName, "weather-aggregation-service")

	cfg.WarmingEnabled = fc.Warming.Enabled
	cfg.WarmingInterval = parseDuration(fc.Warming.Interval, 4*time.Minute)
	cfg.WarmingLocations = fc.Warming.Locations

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return strings.TrimSpace(def)
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
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

// validate performs post-load validation of configuration values.
// Ensures SourceTimeout is positive and that RequestTimeout and CoalesceTimeout exceed it,
// auto-adjusting both if needed. Rejects unknown cache backends and out-of-range warming locations.
func validate(cfg *Config) error {
	if cfg.SourceTimeout <= 0 {
		return fmt.Errorf("sources.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.SourceTimeout {
		cfg.RequestTimeout = cfg.SourceTimeout + time.Second
	}
	// A coalesced waiter must outlast the fan-out it joined.
	if cfg.CoalesceEnabled && cfg.CoalesceTimeout <= cfg.SourceTimeout {
		cfg.CoalesceTimeout = cfg.SourceTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.OverloadThresholdPct > 100 || cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("lifecycle percentages must be at most 100")
	}
	for i, loc := range cfg.WarmingLocations {
		if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
			return fmt.Errorf("warming.locations[%d] out of range: %s", i, loc)
		}
	}
	return nil
}
