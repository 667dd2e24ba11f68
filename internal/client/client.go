package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kjstillabower/weather-aggregation-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// maxBodyBytes bounds how much of an upstream body is read.
const maxBodyBytes = 1 << 20

// Decoder turns a source's raw response body into a normalized record.
type Decoder interface {
	Decode(sourceName string, body []byte) (models.WeatherRecord, error)
}

// Recorder receives exactly one latency observation per fetch.
type Recorder interface {
	Record(sourceName string, responseTimeMs float64)
}

// SourceFetcher is the contract the aggregator depends on.
type SourceFetcher interface {
	Fetch(ctx context.Context, src models.SourceRequest) (models.WeatherRecord, error)
}

// Config configures a Fetcher. Decoder and Recorder are required.
type Config struct {
	Decoder  Decoder
	Recorder Recorder
	// Timeout bounds one fetch including the body read. Zero means no per-source limit.
	Timeout time.Duration
	// HTTPClient defaults to a client without its own timeout.
	HTTPClient *http.Client
	// Breakers is optional. A rejected call counts as an unreachable source.
	Breakers *circuitbreaker.Registry
}

// Fetcher performs a single GET per source, records its latency, and decodes the body.
// It never retries.
type Fetcher struct {
	decoder  Decoder
	recorder Recorder
	timeout  time.Duration
	client   *http.Client
	breakers *circuitbreaker.Registry
	now      func() time.Time
}

// NewFetcher validates cfg and returns a Fetcher.
func NewFetcher(cfg Config) (*Fetcher, error) {
	if cfg.Decoder == nil {
		return nil, errors.New("client: decoder is required")
	}
	if cfg.Recorder == nil {
		return nil, errors.New("client: recorder is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Fetcher{
		decoder:  cfg.Decoder,
		recorder: cfg.Recorder,
		timeout:  cfg.Timeout,
		client:   httpClient,
		breakers: cfg.Breakers,
		now:      time.Now,
	}, nil
}

// Fetch calls src.Endpoint once. The elapsed time is recorded before any error is
// returned, covering transport failures, non-2xx responses and breaker rejections.
func (f *Fetcher) Fetch(ctx context.Context, src models.SourceRequest) (models.WeatherRecord, error) {
	ctx, span := observability.Tracer().Start(ctx, "source.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("source.name", src.SourceName),
			attribute.String("server.address", endpointHost(src.Endpoint)),
		),
	)
	defer span.End()

	start := f.now()
	var body []byte
	call := func() error {
		var err error
		body, err = f.callAPI(ctx, src)
		return err
	}
	var err error
	if f.breakers != nil {
		err = f.breakers.Execute(src.SourceName, call)
		observability.SourceBreakerState.WithLabelValues(src.SourceName).Set(breakerGauge(f.breakers.State(src.SourceName)))
	} else {
		err = call()
	}
	elapsed := f.now().Sub(start)
	f.recorder.Record(src.SourceName, float64(elapsed)/float64(time.Millisecond))

	if err != nil {
		return f.fail(span, src.SourceName, elapsed, unreachable(src.SourceName, err))
	}

	rec, err := f.decoder.Decode(src.SourceName, body)
	if err != nil {
		return f.fail(span, src.SourceName, elapsed, decodeFailure(src.SourceName, fmt.Errorf("parse response: %w", err), body))
	}
	rec.Source = src.SourceName

	observability.SourceFetchesTotal.WithLabelValues(src.SourceName, "success").Inc()
	observability.SourceFetchDuration.WithLabelValues(src.SourceName, "success").Observe(elapsed.Seconds())
	return rec, nil
}

func (f *Fetcher) fail(span trace.Span, source string, elapsed time.Duration, serr *SourceError) (models.WeatherRecord, error) {
	category := string(CategorizeError(serr))
	observability.SourceFetchesTotal.WithLabelValues(source, "error").Inc()
	observability.SourceFetchDuration.WithLabelValues(source, "error").Observe(elapsed.Seconds())
	observability.SourceErrorsTotal.WithLabelValues(source, category).Inc()
	span.RecordError(serr)
	span.SetStatus(codes.Error, category)
	return models.WeatherRecord{}, serr
}

// callAPI issues the request and returns the body of a 2xx response.
func (f *Fetcher) callAPI(ctx context.Context, src models.SourceRequest) ([]byte, error) {
	reqCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := buildRequest(reqCtx, src.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		err = redactURL(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func buildRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("invalid endpoint URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

// redactURL drops the request URL from transport errors; endpoints carry credentials.
func redactURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}

func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}

func breakerGauge(s circuitbreaker.State) float64 {
	switch circuitbreaker.StateLabel(s) {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
