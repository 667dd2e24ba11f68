package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/weather-aggregation-service/internal/cache"
	"github.com/kjstillabower/weather-aggregation-service/internal/sources"
)

// chdirTemp switches into a fresh directory for the duration of the test and
// clears env overrides so only the files written by the test apply.
func chdirTemp(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "OPENWEATHER_API_KEY", "WEATHERSTACK_API_KEY", "CACHE_BACKEND", "MEMCACHED_ADDRS", "ZIPKIN_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := chdirTemp(t)
	writeEnvFile(t, dir, "server:\n  port: \"9090\"\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m", cfg.CacheTTL)
	}
	if cfg.CacheCleanupInterval != time.Minute {
		t.Errorf("CacheCleanupInterval = %v, want 1m", cfg.CacheCleanupInterval)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if cfg.OpenMeteoURL != sources.DefaultOpenMeteoURL {
		t.Errorf("OpenMeteoURL = %q, want default", cfg.OpenMeteoURL)
	}
	if !cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled = false, want true by default")
	}
	if cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled = true, want false by default")
	}
	if cfg.OpenWeatherAPIKey != "" || cfg.WeatherStackAPIKey != "" {
		t.Error("API keys should be empty without env or secrets file")
	}
	if cfg.RequestTimeout <= cfg.SourceTimeout {
		t.Errorf("RequestTimeout %v must exceed SourceTimeout %v", cfg.RequestTimeout, cfg.SourceTimeout)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ENV_NAME", "nonexistent")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("Load() error = %v, want config file not found", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	writeEnvFile(t, dir, "server: [unterminated\n")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
}

func TestLoad_SecretsFile(t *testing.T) {
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "openweather_api_key: owm-from-file\nweatherstack_api_key: ws-from-file\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenWeatherAPIKey != "owm-from-file" || cfg.WeatherStackAPIKey != "ws-from-file" {
		t.Errorf("keys = (%q, %q), want values from secrets file", cfg.OpenWeatherAPIKey, cfg.WeatherStackAPIKey)
	}
}

func TestLoad_EnvOverridesSecretsFile(t *testing.T) {
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "openweather_api_key: owm-from-file\n")
	t.Setenv("OPENWEATHER_API_KEY", "owm-from-env")
	t.Setenv("CACHE_BACKEND", "MEMCACHED")
	t.Setenv("MEMCACHED_ADDRS", "cache-1:11211,cache-2:11211")
	t.Setenv("ZIPKIN_URL", "http://zipkin:9411/api/v2/spans")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenWeatherAPIKey != "owm-from-env" {
		t.Errorf("OpenWeatherAPIKey = %q, want env value", cfg.OpenWeatherAPIKey)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "cache-1:11211,cache-2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
	if cfg.ZipkinURL != "http://zipkin:9411/api/v2/spans" {
		t.Errorf("ZipkinURL = %q", cfg.ZipkinURL)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := chdirTemp(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WEATHERSTACK_API_KEY=ws-from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("WEATHERSTACK_API_KEY") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherStackAPIKey != "ws-from-dotenv" {
		t.Errorf("WeatherStackAPIKey = %q, want value from .env", cfg.WeatherStackAPIKey)
	}
}

func TestLoad_FullFile(t *testing.T) {
	dir := chdirTemp(t)
	writeEnvFile(t, dir, `
server:
  port: "8081"
logging:
  level: debug
request:
  timeout: "8s"
sources:
  timeout: "3s"
  openmeteo_url: "http://meteo.test/v1/forecast"
cache:
  backend: in_memory
  ttl: "2m"
  cleanup_interval: "30s"
aggregation:
  coalesce_enabled: false
reliability:
  circuit_breaker_enabled: true
  circuit_breaker_failure_threshold: 3
  circuit_breaker_timeout: "10s"
  rate_limit_rps: 20
  rate_limit_burst: 40
lifecycle:
  window: "30s"
  overload_threshold_pct: 90
  degraded_error_pct: 25
tracing:
  enabled: true
  service_name: aggregator-test
warming:
  enabled: true
  interval: "1m"
  locations:
    - latitude: 37.98
      longitude: 23.72
    - latitude: 51.5
      longitude: -0.12
`)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.ServerPort != "8081" {
		t.Errorf("LogLevel/ServerPort = %q/%q", cfg.LogLevel, cfg.ServerPort)
	}
	if cfg.SourceTimeout != 3*time.Second || cfg.RequestTimeout != 8*time.Second {
		t.Errorf("timeouts = %v/%v, want 3s/8s", cfg.SourceTimeout, cfg.RequestTimeout)
	}
	if cfg.OpenMeteoURL != "http://meteo.test/v1/forecast" {
		t.Errorf("OpenMeteoURL = %q", cfg.OpenMeteoURL)
	}
	if cfg.CacheTTL != 2*time.Minute || cfg.CacheCleanupInterval != 30*time.Second {
		t.Errorf("cache durations = %v/%v", cfg.CacheTTL, cfg.CacheCleanupInterval)
	}
	if cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled = true, want false from file")
	}
	if !cfg.CircuitBreakerEnabled || cfg.CircuitBreakerFailureThreshold != 3 || cfg.CircuitBreakerSuccessThreshold != 1 {
		t.Errorf("breaker = %v/%d/%d", cfg.CircuitBreakerEnabled, cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerSuccessThreshold)
	}
	if cfg.RateLimitRPS != 20 || cfg.RateLimitBurst != 40 {
		t.Errorf("rate limit = %d/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.LifecycleWindow != 30*time.Second || cfg.OverloadThresholdPct != 90 || cfg.DegradedErrorPct != 25 {
		t.Errorf("lifecycle = %v/%d/%d", cfg.LifecycleWindow, cfg.OverloadThresholdPct, cfg.DegradedErrorPct)
	}
	if !cfg.TracingEnabled || cfg.TracingServiceName != "aggregator-test" {
		t.Errorf("tracing = %v/%q", cfg.TracingEnabled, cfg.TracingServiceName)
	}
	want := []cache.Location{{Latitude: 37.98, Longitude: 23.72}, {Latitude: 51.5, Longitude: -0.12}}
	if !cfg.WarmingEnabled || len(cfg.WarmingLocations) != 2 || cfg.WarmingLocations[0] != want[0] || cfg.WarmingLocations[1] != want[1] {
		t.Errorf("warming = %v %+v", cfg.WarmingEnabled, cfg.WarmingLocations)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			SourceTimeout:   5 * time.Second,
			RequestTimeout:  2 * time.Second,
			CacheBackend:    "in_memory",
			CoalesceEnabled: true,
			CoalesceTimeout: 5 * time.Second,
		}
	}

	cfg := base()
	if err := validate(cfg); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if cfg.RequestTimeout != 6*time.Second {
		t.Errorf("RequestTimeout = %v, want auto-adjusted 6s", cfg.RequestTimeout)
	}
	if cfg.CoalesceTimeout != 6*time.Second {
		t.Errorf("CoalesceTimeout = %v, want auto-adjusted 6s", cfg.CoalesceTimeout)
	}

	cfg = base()
	cfg.CoalesceTimeout = 10 * time.Second
	if err := validate(cfg); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if cfg.CoalesceTimeout != 10*time.Second {
		t.Errorf("CoalesceTimeout = %v, want 10s kept", cfg.CoalesceTimeout)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero source timeout", func(c *Config) { c.SourceTimeout = 0 }},
		{"unknown backend", func(c *Config) { c.CacheBackend = "redis" }},
		{"pct above 100", func(c *Config) { c.DegradedErrorPct = 101 }},
		{"warming location out of range", func(c *Config) {
			c.WarmingLocations = []cache.Location{{Latitude: 95, Longitude: 10}}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := validate(cfg); err == nil {
				t.Error("validate() error = nil, want error")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 3 * time.Second},
		{"bogus", 3 * time.Second},
		{"-1s", 3 * time.Second},
		{"0s", 3 * time.Second},
		{" 250ms ", 250 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := parseDuration(tc.in, 3*time.Second); got != tc.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if got := parseDurationOrZero("0s", time.Second); got != 0 {
		t.Errorf("parseDurationOrZero(0s) = %v, want 0", got)
	}
}

const minimalEnvYAML = `
server:
  port: "8080"
sources:
  timeout: "2s"
request:
  timeout: "5s"
cache:
  ttl: "5m"
`

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}
