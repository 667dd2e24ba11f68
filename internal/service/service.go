package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregation-service/internal/cache"
	"github.com/kjstillabower/weather-aggregation-service/internal/client"
	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
	"github.com/kjstillabower/weather-aggregation-service/internal/query"
	"github.com/kjstillabower/weather-aggregation-service/internal/stats"
)

// DefaultTTL is how long an aggregated result stays cached when no TTL is configured.
const DefaultTTL = 5 * time.Minute

const cacheType = "aggregation"

// OutcomeRecorder receives one outcome per aggregation that reached the upstreams.
// Implemented by traffic.Tracker to drive degraded health.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordError()
}

// Config holds optional Aggregator settings.
type Config struct {
	// TTL for cached results. Zero or negative uses DefaultTTL.
	TTL time.Duration
	// CoalesceEnabled collapses concurrent misses for one key into a single fan-out.
	CoalesceEnabled bool
	// CoalesceTimeout bounds how long a caller waits on a coalesced fan-out.
	CoalesceTimeout time.Duration
	Logger          *zap.Logger
	Outcomes        OutcomeRecorder
}

// Aggregator fans out to every requested source, caches the combined unfiltered
// result, and applies filter and sort on the way out. Results are all-or-nothing.
type Aggregator struct {
	fetcher   client.SourceFetcher
	cache     cache.Cache
	stats     *stats.Tracker
	ttl       time.Duration
	logger    *zap.Logger
	outcomes  OutcomeRecorder
	stampede  *stampedeTracker
	coalescer *requestCoalescer // nil if disabled
}

// NewAggregator creates an Aggregator. tracker must be the same instance the fetcher records into.
func NewAggregator(fetcher client.SourceFetcher, c cache.Cache, tracker *stats.Tracker, cfg Config) *Aggregator {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var coalescer *requestCoalescer
	if cfg.CoalesceEnabled && cfg.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(cfg.CoalesceTimeout)
	}
	return &Aggregator{
		fetcher:   fetcher,
		cache:     c,
		stats:     tracker,
		ttl:       ttl,
		logger:    logger,
		outcomes:  cfg.Outcomes,
		stampede:  newStampedeTracker(),
		coalescer: coalescer,
	}
}

// GetAggregatedData returns one record per source, in source order before sorting.
// An empty source list yields an empty result without touching the cache or the upstreams.
// Any failed source fails the whole call with an *AggregationError and nothing is cached.
func (a *Aggregator) GetAggregatedData(ctx context.Context, sources []models.SourceRequest, filter query.Filter, order query.Comparator) ([]models.WeatherRecord, error) {
	if len(sources) == 0 {
		observability.AggregationsTotal.WithLabelValues("empty").Inc()
		return []models.WeatherRecord{}, nil
	}

	start := time.Now()
	defer func() { observability.AggregationDuration.Observe(time.Since(start).Seconds()) }()
	logger := observability.LoggerFromContext(ctx, a.logger)

	ctx, span := observability.Tracer().Start(ctx, "aggregation.get")
	defer span.End()
	span.SetAttributes(attribute.Int("aggregation.sources", len(sources)))

	key := cache.KeyFor(sources)
	if cached, ok := a.lookup(ctx, key, logger); ok {
		span.SetAttributes(attribute.Bool("aggregation.cache_hit", true))
		observability.AggregationsTotal.WithLabelValues("hit").Inc()
		logger.Debug("aggregation served", zap.Bool("cached", true), zap.Int("records", len(cached)), zap.Duration("duration", time.Since(start)))
		return query.Apply(cached, filter, order), nil
	}
	span.SetAttributes(attribute.Bool("aggregation.cache_hit", false))

	concurrent, release := a.stampede.track(key)
	defer release()
	if concurrent > 1 {
		observability.CacheStampedeConcurrentMisses.Observe(float64(concurrent))
	}
	logger.Debug("cache miss, fetching sources", zap.Int("sources", len(sources)), zap.Int("concurrent_misses", concurrent))

	var records []models.WeatherRecord
	var err error
	if a.coalescer != nil {
		// The shared fan-out outlives any one caller; fetches stay bounded by the source timeout.
		detached := context.WithoutCancel(ctx)
		var shared bool
		records, shared, err = a.coalescer.GetOrDo(ctx, key, func() ([]models.WeatherRecord, error) {
			return a.fetchAndStore(detached, key, sources, logger)
		})
		if shared {
			observability.CoalescedRequestsTotal.Inc()
		}
	} else {
		records, err = a.fetchAndStore(ctx, key, sources, logger)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregation failed")
		observability.AggregationsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	observability.AggregationsTotal.WithLabelValues("fetched").Inc()
	logger.Debug("aggregation served", zap.Bool("cached", false), zap.Int("records", len(records)), zap.Duration("duration", time.Since(start)))
	return query.Apply(records, filter, order), nil
}

// Refresh fetches sources and stores the result regardless of what is cached.
// Used by the cache warmer.
func (a *Aggregator) Refresh(ctx context.Context, sources []models.SourceRequest) error {
	if len(sources) == 0 {
		return nil
	}
	_, err := a.fetchAndStore(ctx, cache.KeyFor(sources), sources, observability.LoggerFromContext(ctx, a.logger))
	return err
}

// lookup reads the cache. Backend errors degrade to a miss.
func (a *Aggregator) lookup(ctx context.Context, key string, logger *zap.Logger) ([]models.WeatherRecord, bool) {
	cached, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed, treating as miss", zap.Error(err), zap.String("category", categorizeCacheError(err)))
		return nil, false
	}
	if !ok {
		observability.CacheMissesTotal.WithLabelValues(cacheType).Inc()
		return nil, false
	}
	observability.CacheHitsTotal.WithLabelValues(cacheType).Inc()
	return cached, true
}

// fetchAndStore fans out, and on complete success caches the unfiltered result.
func (a *Aggregator) fetchAndStore(ctx context.Context, key string, sources []models.SourceRequest, logger *zap.Logger) ([]models.WeatherRecord, error) {
	records, err := a.fetchAll(ctx, sources)
	if err != nil {
		a.recordOutcome(err)
		var aggErr *AggregationError
		if errors.As(err, &aggErr) {
			logger.Warn("aggregation failed", zap.Strings("failed_sources", aggErr.FailedSources()), zap.Int("sources", len(sources)), zap.Error(err))
		} else {
			logger.Warn("aggregation aborted", zap.Error(err))
		}
		return nil, err
	}
	a.recordOutcome(nil)

	if setErr := a.cache.Set(ctx, key, records, a.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.Error(setErr), zap.String("category", categorizeCacheError(setErr)))
	}
	return records, nil
}

// fetchAll runs one fetch per source concurrently and waits for all of them.
// Results are placed by input index so completion order never affects output order.
func (a *Aggregator) fetchAll(ctx context.Context, sources []models.SourceRequest) ([]models.WeatherRecord, error) {
	records := make([]models.WeatherRecord, len(sources))
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		i, src := i, src
		wg.Add(1)
		go func() {
			defer wg.Done()
			records[i], errs[i] = a.fetcher.Fetch(ctx, src)
		}()
	}
	wg.Wait()

	var failures []SourceFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, SourceFailure{Source: sources[i].SourceName, Err: err})
		}
	}
	if len(failures) > 0 {
		return nil, NewAggregationError(failures, len(sources))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("aggregation canceled: %w", err)
	}
	return records, nil
}

func (a *Aggregator) recordOutcome(err error) {
	if a.outcomes == nil {
		return
	}
	if err != nil {
		a.outcomes.RecordError()
		return
	}
	a.outcomes.RecordSuccess()
}

// StatisticsSnapshot returns per-source statistics ordered by source name.
func (a *Aggregator) StatisticsSnapshot() []models.SourceStatistics {
	return a.stats.AllStatistics()
}

// StatisticsFor returns statistics for one source; false when it has no observations.
func (a *Aggregator) StatisticsFor(sourceName string) (models.SourceStatistics, bool) {
	return a.stats.StatisticsFor(sourceName)
}

// ClearStatistics discards all recorded observations.
func (a *Aggregator) ClearStatistics() {
	a.stats.Clear()
}

// categorizeCacheError returns a stable label for cache error logs (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
