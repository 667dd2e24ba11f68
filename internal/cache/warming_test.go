package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

type mockRefresher struct {
	mu    sync.Mutex
	calls [][]models.SourceRequest
	err   error
}

func (m *mockRefresher) Refresh(ctx context.Context, sources []models.SourceRequest) error {
	m.mu.Lock()
	m.calls = append(m.calls, sources)
	m.mu.Unlock()
	return m.err
}

type mockResolver struct{}

func (mockResolver) Resolve(lat, lon float64) []models.SourceRequest {
	return []models.SourceRequest{{SourceName: "OpenMeteo", Endpoint: Location{lat, lon}.String()}}
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	refresher := &mockRefresher{}
	warmer := NewCacheWarmer(refresher, mockResolver{}, nil)
	ctx := context.Background()

	err := warmer.Warm(ctx, []Location{{37.98, 23.72}, {47.6, -122.3}})
	if err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if len(refresher.calls) != 2 {
		t.Errorf("Refresh() called %d times, want 2", len(refresher.calls))
	}
}

func TestCacheWarmer_Warm_EmptyLocations(t *testing.T) {
	warmer := NewCacheWarmer(&mockRefresher{}, mockResolver{}, nil)
	ctx := context.Background()

	if err := warmer.Warm(ctx, nil); err != nil {
		t.Fatalf("Warm() with nil locations error = %v, want nil", err)
	}
	if err := warmer.Warm(ctx, []Location{}); err != nil {
		t.Fatalf("Warm() with empty locations error = %v, want nil", err)
	}
}

func TestCacheWarmer_Warm_RefresherError(t *testing.T) {
	errDown := errors.New("api down")
	warmer := NewCacheWarmer(&mockRefresher{err: errDown}, mockResolver{}, nil)
	ctx := context.Background()

	err := warmer.Warm(ctx, []Location{{1, 2}, {3, 4}})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !errors.Is(err, errDown) {
		t.Errorf("Warm() error = %v, want wrapping %v", err, errDown)
	}
	for _, loc := range []string{"warm 1,2", "warm 3,4"} {
		if !strings.Contains(err.Error(), loc) {
			t.Errorf("Warm() error = %q, want mention of %q", err, loc)
		}
	}
}
