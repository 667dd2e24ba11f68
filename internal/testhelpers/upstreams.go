// Package testhelpers provides fake weather upstreams and a fully wired aggregation stack
// for tests that exercise the real fetcher, decoders and cache together.
package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregation-service/internal/cache"
	"github.com/kjstillabower/weather-aggregation-service/internal/client"
	"github.com/kjstillabower/weather-aggregation-service/internal/service"
	"github.com/kjstillabower/weather-aggregation-service/internal/sources"
	"github.com/kjstillabower/weather-aggregation-service/internal/stats"
	"github.com/kjstillabower/weather-aggregation-service/internal/traffic"
)

// Sample payloads in each upstream's native shape.
const (
	OpenWeatherBody  = `{"main":{"temp":21.5,"humidity":60},"wind":{"speed":3.2}}`
	OpenMeteoBody    = `{"current_weather":{"temperature":18.25,"windspeed":11.0}}`
	WeatherStackBody = `{"current":{"temperature":27,"humidity":40,"wind_speed":9}}`
)

// Upstream is one fake source. Status and Body may be changed between requests.
type Upstream struct {
	Server *httptest.Server

	mu     sync.Mutex
	status int
	body   string
	delay  time.Duration
	hits   atomic.Int32
}

func newUpstream(t testing.TB, body string) *Upstream {
	u := &Upstream{status: http.StatusOK, body: body}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.mu.Lock()
		status, body, delay := u.status, u.body, u.delay
		u.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(u.Server.Close)
	return u
}

// Respond sets the status and body served from now on.
func (u *Upstream) Respond(status int, body string) {
	u.mu.Lock()
	u.status, u.body = status, body
	u.mu.Unlock()
}

// Delay makes every response wait d, or until the client gives up.
func (u *Upstream) Delay(d time.Duration) {
	u.mu.Lock()
	u.delay = d
	u.mu.Unlock()
}

// Hits returns how many requests reached the upstream.
func (u *Upstream) Hits() int {
	return int(u.hits.Load())
}

// Upstreams bundles one fake server per built-in source.
type Upstreams struct {
	OpenWeather  *Upstream
	OpenMeteo    *Upstream
	WeatherStack *Upstream
}

// NewUpstreams starts the three fake sources serving the sample payloads.
func NewUpstreams(t testing.TB) *Upstreams {
	t.Helper()
	return &Upstreams{
		OpenWeather:  newUpstream(t, OpenWeatherBody),
		OpenMeteo:    newUpstream(t, OpenMeteoBody),
		WeatherStack: newUpstream(t, WeatherStackBody),
	}
}

// ResolverConfig points a resolver at the fake servers with both keys set.
func (u *Upstreams) ResolverConfig() sources.Config {
	return sources.Config{
		OpenWeatherURL:     u.OpenWeather.Server.URL,
		OpenWeatherAPIKey:  "test-owm-key",
		OpenMeteoURL:       u.OpenMeteo.Server.URL,
		WeatherStackURL:    u.WeatherStack.Server.URL,
		WeatherStackAPIKey: "test-ws-key",
	}
}

// Stack is a real aggregation pipeline wired against fake upstreams.
type Stack struct {
	Upstreams  *Upstreams
	Resolver   *sources.Resolver
	Stats      *stats.Tracker
	Cache      *cache.InMemoryCache
	Traffic    *traffic.Tracker
	Fetcher    *client.Fetcher
	Aggregator *service.Aggregator
}

// StackOptions tunes NewStack. Zero values give a 2s source timeout and no coalescing.
type StackOptions struct {
	SourceTimeout time.Duration
	TTL           time.Duration
	Coalesce      bool
	Logger        *zap.Logger
}

// NewStack builds fetcher, statistics, cache and aggregator over fresh fake upstreams.
func NewStack(t testing.TB, opts StackOptions) *Stack {
	t.Helper()
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 2 * time.Second
	}
	ups := NewUpstreams(t)
	tracker := stats.New()
	fetcher, err := client.NewFetcher(client.Config{
		Decoder:  sources.NewRegistry(),
		Recorder: tracker,
		Timeout:  opts.SourceTimeout,
	})
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	c := cache.NewInMemoryCache()
	tr := traffic.NewTracker(time.Minute)
	agg := service.NewAggregator(fetcher, c, tracker, service.Config{
		TTL:             opts.TTL,
		CoalesceEnabled: opts.Coalesce,
		CoalesceTimeout: 5 * time.Second,
		Logger:          opts.Logger,
		Outcomes:        tr,
	})
	return &Stack{
		Upstreams:  ups,
		Resolver:   sources.NewResolver(ups.ResolverConfig()),
		Stats:      tracker,
		Cache:      c,
		Traffic:    tr,
		Fetcher:    fetcher,
		Aggregator: agg,
	}
}
