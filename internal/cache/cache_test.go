package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

func testRecords() []models.WeatherRecord {
	return []models.WeatherRecord{
		{Source: "A", Temperature: models.Float(20)},
		{Source: "B", Temperature: models.Float(30), Humidity: models.Float(55)},
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them in order with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	err := c.Set(ctx, "k", testRecords(), time.Minute)
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if len(got) != 2 || got[0].Source != "A" || got[1].TemperatureOr(0) != 30 {
		t.Errorf("Get() = %+v, want records A then B", got)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that an entry past its expiry is absent
// even before any purge runs.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", testRecords(), 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	now = now.Add(5*time.Minute - time.Nanosecond)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() ok = false just before expiry, want true")
	}

	now = now.Add(time.Nanosecond)
	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1; retention is the janitor's job", c.Len())
	}
}

func TestInMemoryCache_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "short", testRecords(), time.Second)
	_ = c.Set(ctx, "long", testRecords(), time.Hour)

	now = now.Add(2 * time.Second)
	if n := c.PurgeExpired(); n != 1 {
		t.Errorf("PurgeExpired() = %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "long"); !ok {
		t.Error("Get(long) ok = false, want true")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", c.Len())
	}
}

// TestInMemoryCache_CopiesValues verifies that callers cannot mutate cached state.
func TestInMemoryCache_CopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	in := testRecords()
	_ = c.Set(ctx, "k", in, time.Minute)

	*in[0].Temperature = -99
	out, _, _ := c.Get(ctx, "k")
	if out[0].TemperatureOr(0) != 20 {
		t.Fatalf("cached value changed through input slice: %v", out[0].TemperatureOr(0))
	}

	out[0].Source = "mutated"
	again, _, _ := c.Get(ctx, "k")
	if again[0].Source != "A" {
		t.Errorf("cached value changed through output slice: %q", again[0].Source)
	}
}

func TestInMemoryCache_EmptyValueIsHit(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	_ = c.Set(ctx, "k", nil, time.Minute)

	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v; want hit", ok, err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Get() = %#v, want empty non-nil slice", got)
	}
}

func TestInMemoryCache_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewInMemoryCache()
	if err := c.Set(ctx, "k", testRecords(), time.Minute); err == nil {
		t.Error("Set() with canceled context: expected error")
	}
	if _, _, err := c.Get(ctx, "k"); err == nil {
		t.Error("Get() with canceled context: expected error")
	}
}

func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _ = c.Set(ctx, "k", testRecords(), time.Minute) }()
		go func() { defer wg.Done(); _, _, _ = c.Get(ctx, "k") }()
		go func() { defer wg.Done(); c.PurgeExpired() }()
	}
	wg.Wait()

	got, ok, _ := c.Get(ctx, "k")
	if !ok || len(got) != 2 {
		t.Errorf("Get() after concurrent writes = %v, %v; want 2 records", len(got), ok)
	}
}

func TestKeyFor(t *testing.T) {
	a := models.SourceRequest{SourceName: "A", Endpoint: "http://a/x"}
	b := models.SourceRequest{SourceName: "B", Endpoint: "http://b/y"}

	if KeyFor([]models.SourceRequest{a, b}) != KeyFor([]models.SourceRequest{a, b}) {
		t.Error("KeyFor() not deterministic for the same sequence")
	}
	if KeyFor([]models.SourceRequest{a, b}) == KeyFor([]models.SourceRequest{b, a}) {
		t.Error("KeyFor() should distinguish permutations")
	}
	// Length prefixes keep concatenation boundaries distinct.
	joined := models.SourceRequest{SourceName: "AB", Endpoint: "http://a/xhttp://b/y"}
	if KeyFor([]models.SourceRequest{a, b}) == KeyFor([]models.SourceRequest{joined}) {
		t.Error("KeyFor() collides across endpoint boundaries")
	}
	newline := []models.SourceRequest{{SourceName: "A", Endpoint: "x\ny"}}
	split := []models.SourceRequest{{SourceName: "A", Endpoint: "x"}, {SourceName: "", Endpoint: "y"}}
	if KeyFor(newline) == KeyFor(split) {
		t.Error("KeyFor() collides when an endpoint contains a separator")
	}
	renamed := models.SourceRequest{SourceName: "Other", Endpoint: a.Endpoint}
	if KeyFor([]models.SourceRequest{a}) == KeyFor([]models.SourceRequest{renamed}) {
		t.Error("KeyFor() should include the source name")
	}
	if got := len(KeyFor(nil)); got != 64 {
		t.Errorf("len(KeyFor(nil)) = %d, want 64 hex chars", got)
	}
}

func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{0, 1},
		{500 * time.Millisecond, 1},
		{5 * time.Minute, 300},
		{1500 * time.Millisecond, 2},
		{60 * 24 * time.Hour, 30 * 24 * 60 * 60},
	}
	for _, tt := range tests {
		if got := expirationSeconds(tt.ttl); got != tt.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}
