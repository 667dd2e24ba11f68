package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when a breaker rejects a call without running it.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker state as exposed to metrics.
type State = gobreaker.State

// StateLabel returns a stable metric label for a breaker state.
func StateLabel(s State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker parameters shared by every source.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of probe calls allowed while half-open.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// Interval clears closed-state counts periodically. Zero never clears.
	Interval time.Duration
	// OnStateChange is optional, for metrics and logging.
	OnStateChange func(source string, from, to State)
}

// Registry lazily creates one breaker per source name.
type Registry struct {
	cfg      Config
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry creates a Registry, filling zero values with defaults.
func NewRegistry(cfg Config) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Registry{cfg: cfg, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (r *Registry) breaker(source string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[source]; ok {
		return cb
	}
	threshold := uint32(r.cfg.FailureThreshold)
	onChange := r.cfg.OnStateChange
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        source,
		MaxRequests: uint32(r.cfg.SuccessThreshold),
		Interval:    r.cfg.Interval,
		Timeout:     r.cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if onChange != nil {
				onChange(name, from, to)
			}
		},
	})
	r.breakers[source] = cb
	return cb
}

// Execute runs fn through the named source's breaker. A rejected call returns
// an error wrapping ErrOpen and fn is not invoked.
func (r *Registry) Execute(source string, fn func() error) error {
	_, err := r.breaker(source).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrOpen, source, err)
	}
	return err
}

// State returns the current state for a source. Unknown sources report closed.
func (r *Registry) State(source string) State {
	r.mu.Lock()
	cb, ok := r.breakers[source]
	r.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
