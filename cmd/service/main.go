package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-aggregation-service/internal/cache"
	"github.com/kjstillabower/weather-aggregation-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-aggregation-service/internal/client"
	"github.com/kjstillabower/weather-aggregation-service/internal/config"
	httphandler "github.com/kjstillabower/weather-aggregation-service/internal/http"
	"github.com/kjstillabower/weather-aggregation-service/internal/lifecycle"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
	"github.com/kjstillabower/weather-aggregation-service/internal/scheduler"
	"github.com/kjstillabower/weather-aggregation-service/internal/service"
	"github.com/kjstillabower/weather-aggregation-service/internal/sources"
	"github.com/kjstillabower/weather-aggregation-service/internal/stats"
	"github.com/kjstillabower/weather-aggregation-service/internal/traffic"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	serviceName             = "weather-aggregation-service"
	inFlightCheckInterval   = 100 * time.Millisecond
	serverReadWriteHeadroom = 5 * time.Second
)

func main() {
	logger, err := observability.NewLogger(serviceName, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if cfg.LogLevel != "" {
		if logger, err = observability.NewLogger(serviceName, cfg.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
			os.Exit(1)
		}
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled:        cfg.TracingEnabled,
		ZipkinURL:      cfg.ZipkinURL,
		ServiceName:    cfg.TracingServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}
	if cfg.TracingEnabled {
		logger.Info("tracing enabled", zap.String("zipkin_url", cfg.ZipkinURL))
	}

	var breakers *circuitbreaker.Registry
	if cfg.CircuitBreakerEnabled {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(source string, from, to circuitbreaker.State) {
				logger.Warn("circuit breaker state change",
					zap.String("source", source),
					zap.String("from", circuitbreaker.StateLabel(from)),
					zap.String("to", circuitbreaker.StateLabel(to)))
			},
		})
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	tracker := stats.New()
	fetcher, err := client.NewFetcher(client.Config{
		Decoder:  sources.NewRegistry(),
		Recorder: tracker,
		Timeout:  cfg.SourceTimeout,
		Breakers: breakers,
	})
	if err != nil {
		logger.Fatal("fetcher", zap.Error(err))
	}

	resolver := sources.NewResolver(sources.Config{
		OpenWeatherURL:     cfg.OpenWeatherURL,
		OpenWeatherAPIKey:  cfg.OpenWeatherAPIKey,
		OpenMeteoURL:       cfg.OpenMeteoURL,
		WeatherStackURL:    cfg.WeatherStackURL,
		WeatherStackAPIKey: cfg.WeatherStackAPIKey,
	})
	logger.Info("sources configured", zap.Strings("sources", resolver.Names()))

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	var purger scheduler.Purger
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		mem := cache.NewInMemoryCache()
		cacheSvc = mem
		purger = mem
		logger.Info("cache backend: in_memory")
	}

	outcomes := traffic.NewTracker(cfg.LifecycleWindow)
	observability.RegisterWindowGauges(outcomes)

	aggregator := service.NewAggregator(fetcher, cacheSvc, tracker, service.Config{
		TTL:             cfg.CacheTTL,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Logger:          logger,
		Outcomes:        outcomes,
	})

	schedCfg := scheduler.Config{CleanupInterval: cfg.CacheCleanupInterval}
	var warmer scheduler.Warmer
	if cfg.WarmingEnabled {
		warmer = cache.NewCacheWarmer(aggregator, resolver, logger)
		schedCfg.WarmInterval = cfg.WarmingInterval
		schedCfg.Locations = cfg.WarmingLocations
	}
	jobs := scheduler.New(purger, warmer, schedCfg, logger)
	if err := jobs.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	state := &lifecycle.State{}
	healthConfig := &httphandler.HealthConfig{
		RateLimitRPS:         cfg.RateLimitRPS,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		Version:              version,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	inFlight := &httphandler.InFlightTracker{}
	handler := httphandler.NewHandler(aggregator, resolver, outcomes, state, healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		Denials:        outcomes,
		RequestTimeout: cfg.RequestTimeout,
		InFlight:       inFlight,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + serverReadWriteHeadroom,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	if err := inFlight.WaitForZero(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	jobs.Stop()
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(shutdownCtx, logger, shutdownTracing); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}
