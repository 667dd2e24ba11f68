package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sync"
	"time"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

// Cache defines the interface for aggregation result caching implementations.
// Get returns cached records if present and not expired, Set stores records with TTL.
// Values are the unfiltered, source-ordered record set of one aggregation.
type Cache interface {
	Get(ctx context.Context, key string) ([]models.WeatherRecord, bool, error)
	Set(ctx context.Context, key string, value []models.WeatherRecord, ttl time.Duration) error
}

// KeyFor derives the cache key from the ordered source names and endpoints. The same
// sequence always yields the same key; a permutation yields a different one.
func KeyFor(sources []models.SourceRequest) string {
	h := sha256.New()
	for _, s := range sources {
		writePart(h, s.SourceName)
		writePart(h, s.Endpoint)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writePart length-prefixes s so part boundaries cannot collide.
func writePart(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// InMemoryCache implements Cache using a map with TTL-based expiration.
// Expiry is evaluated on read; PurgeExpired reclaims memory but correctness never depends on it.
// Safe for concurrent use. Values are copied on the way in and out.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	now  func() time.Time
}

// cacheEntry stores cached records with expiration timestamp.
type cacheEntry struct {
	value     []models.WeatherRecord
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get retrieves cached records for the key if present and not expired.
// Returns (records, true, nil) on hit, (nil, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]models.WeatherRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	return models.CloneRecords(entry.value), true, nil
}

// Set stores records with the specified TTL, replacing any existing entry.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []models.WeatherRecord, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := cacheEntry{
		value:     models.CloneRecords(value),
		expiresAt: c.now().Add(ttl),
	}
	c.mu.Lock()
	c.data[key] = entry
	c.mu.Unlock()
	return nil
}

// PurgeExpired removes expired entries and returns how many were removed.
func (c *InMemoryCache) PurgeExpired() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.data {
		if !now.Before(e.expiresAt) {
			delete(c.data, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included until purged.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Clear removes every entry.
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	c.data = make(map[string]cacheEntry)
	c.mu.Unlock()
}
