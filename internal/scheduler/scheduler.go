// Package scheduler runs the periodic background jobs: the in-memory cache janitor
// and cache warming for tracked locations.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregation-service/internal/cache"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// Purger drops expired entries and reports how many it removed.
type Purger interface {
	PurgeExpired() int
}

// Warmer refreshes cached aggregations for the given locations.
type Warmer interface {
	Warm(ctx context.Context, locations []cache.Location) error
}

// Config selects which jobs run. A job with a zero interval or a nil target is skipped.
type Config struct {
	CleanupInterval time.Duration
	WarmInterval    time.Duration
	Locations       []cache.Location
	// WarmTimeout bounds one warming run. Defaults to 30s.
	WarmTimeout time.Duration
}

// Scheduler owns the gocron scheduler for background jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	purger    Purger
	warmer    Warmer
	cfg       Config
	logger    *zap.Logger
}

// New creates a Scheduler. purger is nil for backends that expire entries themselves.
func New(purger Purger, warmer Warmer, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WarmTimeout <= 0 {
		cfg.WarmTimeout = 30 * time.Second
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		purger:    purger,
		warmer:    warmer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start schedules the configured jobs and starts the scheduler without blocking.
// Warming runs once immediately; the janitor waits for its first interval.
func (s *Scheduler) Start() error {
	if s.purger != nil && s.cfg.CleanupInterval > 0 {
		if _, err := s.scheduler.Every(s.cfg.CleanupInterval).WaitForSchedule().SingletonMode().Do(s.runJanitor); err != nil {
			return fmt.Errorf("schedule cache janitor: %w", err)
		}
		s.logger.Info("cache janitor scheduled", zap.Duration("interval", s.cfg.CleanupInterval))
	}
	if s.warmer != nil && s.cfg.WarmInterval > 0 {
		if len(s.cfg.Locations) == 0 {
			s.logger.Info("cache warming enabled but no locations configured; nothing to schedule")
		} else {
			if _, err := s.scheduler.Every(s.cfg.WarmInterval).SingletonMode().Do(s.runWarm); err != nil {
				return fmt.Errorf("schedule cache warming: %w", err)
			}
			s.logger.Info("cache warming scheduled", zap.Duration("interval", s.cfg.WarmInterval), zap.Int("locations", len(s.cfg.Locations)))
		}
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) runJanitor() {
	n := s.purger.PurgeExpired()
	if n > 0 {
		observability.CacheExpiredPurgedTotal.Add(float64(n))
		s.logger.Info("purged expired cache entries", zap.Int("count", n))
	}
}

func (s *Scheduler) runWarm() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WarmTimeout)
	defer cancel()
	if err := s.warmer.Warm(ctx, s.cfg.Locations); err != nil {
		s.logger.Warn("scheduled cache warming failed", zap.Error(err))
	}
}
