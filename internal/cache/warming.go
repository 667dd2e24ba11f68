package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// Refresher is implemented by the service layer: fetch the sources and store the result,
// bypassing any cached value. Used by CacheWarmer to avoid a circular dependency.
type Refresher interface {
	Refresh(ctx context.Context, sources []models.SourceRequest) error
}

// SourceResolver maps coordinates to the ordered source list.
type SourceResolver interface {
	Resolve(latitude, longitude float64) []models.SourceRequest
}

// Location is a tracked coordinate pair.
type Location struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

func (l Location) String() string {
	return fmt.Sprintf("%g,%g", l.Latitude, l.Longitude)
}

// CacheWarmer keeps aggregation results for tracked locations fresh.
type CacheWarmer struct {
	refresher Refresher
	resolver  SourceResolver
	logger    *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given refresher, resolver and logger.
func NewCacheWarmer(refresher Refresher, resolver SourceResolver, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{refresher: refresher, resolver: resolver, logger: logger}
}

// Warm refreshes every location concurrently. Returns the combined error of failed locations.
func (w *CacheWarmer) Warm(ctx context.Context, locations []Location) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("locations", len(locations)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(locations))
	for _, loc := range locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.refresher.Refresh(ctx, w.resolver.Resolve(loc.Latitude, loc.Longitude)); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", loc, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs error
	for err := range errCh {
		errs = multierr.Append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	failed := len(multierr.Errors(errs))
	w.logger.Info("cache warming complete", zap.Int("locations", len(locations)), zap.Int("errors", failed), zap.Float64("duration_seconds", duration))
	if errs != nil {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errs)
	}
	return nil
}
