package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

// inFlightRequest tracks a single fan-out that multiple callers may wait for.
type inFlightRequest struct {
	done   chan struct{} // closed once result and err are set
	result []models.WeatherRecord
	err    error
}

// requestCoalescer prevents cache stampede by coalescing concurrent misses for the same key.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

// newRequestCoalescer creates a new requestCoalescer with the specified wait timeout.
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo joins the in-flight request for key, or starts fn if none exists.
// shared is true when the caller joined an existing request. Waiting respects ctx
// and the coalescer timeout; fn keeps running for the remaining waiters either way,
// so fn must not depend on any single caller's cancellation.
// The returned slice is shared between callers and must not be modified.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func() ([]models.WeatherRecord, error)) (result []models.WeatherRecord, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest{done: make(chan struct{})}
		rc.inFlight[key] = req
	}
	rc.mu.Unlock()

	if !exists {
		go func() {
			res, ferr := fn()
			rc.mu.Lock()
			req.result, req.err = res, ferr
			delete(rc.inFlight, key)
			rc.mu.Unlock()
			close(req.done)
		}()
	}

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-req.done:
		return req.result, exists, req.err
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, exists, err
		}
		return nil, exists, fmt.Errorf("%w after %s: %w", ErrCoalesceTimeout, rc.timeout, context.DeadlineExceeded)
	}
}

// stampedeTracker counts concurrent misses per key. A count above 1 means callers
// missed the same key while an earlier fetch for it was still running.
type stampedeTracker struct {
	mu           sync.Mutex
	activeMisses map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{activeMisses: make(map[string]int)}
}

// track records a miss for key and returns the concurrent count including this one.
// Call release once the miss is resolved.
func (st *stampedeTracker) track(key string) (concurrent int, release func()) {
	st.mu.Lock()
	st.activeMisses[key]++
	concurrent = st.activeMisses[key]
	st.mu.Unlock()

	var once sync.Once
	return concurrent, func() {
		once.Do(func() {
			st.mu.Lock()
			defer st.mu.Unlock()
			if st.activeMisses[key] <= 1 {
				delete(st.activeMisses, key)
				return
			}
			st.activeMisses[key]--
		})
	}
}

func (st *stampedeTracker) active(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.activeMisses[key]
}
