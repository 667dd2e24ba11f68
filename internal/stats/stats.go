// Package stats records per-source latency observations and derives
// performance summaries from them.
package stats

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

// Bucket thresholds in milliseconds. Both bounds belong to the average bucket.
const (
	FastBelowMs = 100.0
	SlowAboveMs = 200.0
)

// Tracker maintains an append-only request log per source.
// The source map is guarded by mu; each source bucket has its own lock so that
// recording for unrelated sources never contends on one exclusive lock.
type Tracker struct {
	mu      sync.RWMutex
	sources map[string]*sourceLog
	now     func() time.Time
}

type sourceLog struct {
	mu   sync.Mutex
	logs []models.RequestLog
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		sources: make(map[string]*sourceLog),
		now:     time.Now,
	}
}

// Record appends one latency observation for the named source.
func (t *Tracker) Record(sourceName string, responseTimeMs float64) {
	entry := models.RequestLog{
		SourceName:     sourceName,
		ResponseTimeMs: responseTimeMs,
		Timestamp:      t.now(),
	}

	t.mu.RLock()
	bucket, ok := t.sources[sourceName]
	if ok {
		bucket.append(entry)
		t.mu.RUnlock()
		return
	}
	t.mu.RUnlock()

	t.mu.Lock()
	bucket, ok = t.sources[sourceName]
	if !ok {
		bucket = &sourceLog{}
		t.sources[sourceName] = bucket
	}
	// Appending under the write lock keeps the entry inside the map generation
	// that Clear may be about to swap out.
	bucket.append(entry)
	t.mu.Unlock()
}

func (s *sourceLog) append(entry models.RequestLog) {
	s.mu.Lock()
	s.logs = append(s.logs, entry)
	s.mu.Unlock()
}

func (s *sourceLog) snapshot() []models.RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RequestLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// StatisticsFor returns the summary for the named source, matched without regard to case.
// The summary carries the name as recorded. The second return is false when no
// observations exist for that name.
func (t *Tracker) StatisticsFor(sourceName string) (models.SourceStatistics, bool) {
	t.mu.RLock()
	name := sourceName
	bucket, ok := t.sources[sourceName]
	if !ok {
		for recorded, b := range t.sources {
			if strings.EqualFold(recorded, sourceName) {
				name, bucket, ok = recorded, b, true
				break
			}
		}
	}
	t.mu.RUnlock()
	if !ok {
		return models.SourceStatistics{}, false
	}
	logs := bucket.snapshot()
	if len(logs) == 0 {
		return models.SourceStatistics{}, false
	}
	return Summarize(name, logs), true
}

// AllStatistics returns a summary for every source with observations, ordered by name.
func (t *Tracker) AllStatistics() []models.SourceStatistics {
	t.mu.RLock()
	names := make([]string, 0, len(t.sources))
	buckets := make(map[string]*sourceLog, len(t.sources))
	for name, b := range t.sources {
		names = append(names, name)
		buckets[name] = b
	}
	t.mu.RUnlock()

	sort.Strings(names)
	out := make([]models.SourceStatistics, 0, len(names))
	for _, name := range names {
		logs := buckets[name].snapshot()
		if len(logs) == 0 {
			continue
		}
		out = append(out, Summarize(name, logs))
	}
	return out
}

// Logs returns a copy of the raw request log for a source, oldest first.
func (t *Tracker) Logs(sourceName string) []models.RequestLog {
	t.mu.RLock()
	bucket, ok := t.sources[sourceName]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return bucket.snapshot()
}

// Clear discards every observation. Readers that start after Clear returns see no sources.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.sources = make(map[string]*sourceLog)
	t.mu.Unlock()
}

// Summarize derives count, rounded mean and bucket counts from logs.
// The mean is rounded half away from zero to two decimal places.
func Summarize(sourceName string, logs []models.RequestLog) models.SourceStatistics {
	out := models.SourceStatistics{SourceName: sourceName, TotalRequests: len(logs)}
	if len(logs) == 0 {
		return out
	}
	sum := decimal.Zero
	for _, l := range logs {
		sum = sum.Add(decimal.NewFromFloat(l.ResponseTimeMs))
		switch Classify(l.ResponseTimeMs) {
		case BucketFast:
			out.PerformanceBuckets.Fast++
		case BucketAverage:
			out.PerformanceBuckets.Average++
		default:
			out.PerformanceBuckets.Slow++
		}
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(logs)))).Round(2)
	out.AverageResponseTimeMs = mean.InexactFloat64()
	return out
}

// Bucket is a latency class.
type Bucket string

const (
	BucketFast    Bucket = "fast"
	BucketAverage Bucket = "average"
	BucketSlow    Bucket = "slow"
)

// Classify assigns a latency to its bucket.
func Classify(ms float64) Bucket {
	switch {
	case ms < FastBelowMs:
		return BucketFast
	case ms <= SlowAboveMs:
		return BucketAverage
	default:
		return BucketSlow
	}
}
