package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregation-service/internal/client"
	"github.com/kjstillabower/weather-aggregation-service/internal/lifecycle"
	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
	"github.com/kjstillabower/weather-aggregation-service/internal/query"
	"github.com/kjstillabower/weather-aggregation-service/internal/service"
	"github.com/kjstillabower/weather-aggregation-service/internal/traffic"
	"github.com/kjstillabower/weather-aggregation-service/internal/validation"
)

const serviceName = "weather-aggregation-service"

// Aggregator is the service surface the handlers depend on. Implemented by *service.Aggregator.
type Aggregator interface {
	GetAggregatedData(ctx context.Context, sources []models.SourceRequest, filter query.Filter, order query.Comparator) ([]models.WeatherRecord, error)
	StatisticsSnapshot() []models.SourceStatistics
	StatisticsFor(sourceName string) (models.SourceStatistics, bool)
	ClearStatistics()
}

// SourceResolver turns coordinates into the ordered upstream requests.
type SourceResolver interface {
	Resolve(latitude, longitude float64) []models.SourceRequest
}

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	RateLimitRPS         int // 0 when rate limiter disabled
	OverloadThresholdPct int
	DegradedErrorPct     int
	Version              string
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	aggregator       Aggregator
	resolver         SourceResolver
	traffic          *traffic.Tracker
	lifecycle        *lifecycle.State
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. tracker and state may be nil, which disables the
// lifecycle checks they back.
func NewHandler(
	aggregator Aggregator,
	resolver SourceResolver,
	tracker *traffic.Tracker,
	state *lifecycle.State,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		aggregator:   aggregator,
		resolver:     resolver,
		traffic:      tracker,
		lifecycle:    state,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetIndex handles GET /.
func (h *Handler) GetIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": serviceName,
		"message": "Weather aggregation service is running. Use /api/aggregation?latitude=&longitude= for data.",
	})
}

// GetAggregation handles GET /api/aggregation?latitude=&longitude=&filter=&sort=.
// Unparseable filter or sort values are ignored rather than rejected.
func (h *Handler) GetAggregation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	coords, err := validation.ParseCoordinates(q.Get("latitude"), q.Get("longitude"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}

	logger := observability.LoggerFromContext(r.Context(), h.logger)
	filter, err := query.ParseFilter(q.Get("filter"))
	if err != nil {
		logger.Debug("ignoring filter", zap.Error(err))
	}
	order, err := query.ParseSort(q.Get("sort"))
	if err != nil {
		logger.Debug("ignoring sort", zap.Error(err))
	}

	sources := h.resolver.Resolve(coords.Latitude, coords.Longitude)
	records, err := h.aggregator.GetAggregatedData(r.Context(), sources, filter, order)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetStatistics handles GET /api/statistics.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.aggregator.StatisticsSnapshot())
}

// GetSourceStatistics handles GET /api/statistics/{source}. Source names match exactly.
func (h *Handler) GetSourceStatistics(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["source"]
	s, ok := h.aggregator.StatisticsFor(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, "STATISTICS_NOT_FOUND", "No statistics found for source: "+name)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DeleteStatistics handles DELETE /api/statistics.
func (h *Handler) DeleteStatistics(w http.ResponseWriter, r *http.Request) {
	h.aggregator.ClearStatistics()
	observability.LoggerFromContext(r.Context(), h.logger).Info("statistics cleared")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Statistics cleared successfully."})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"sources": "healthy"}
	if result.status == "degraded" {
		checks["sources"] = "unhealthy"
	}
	version := "dev"
	if h.healthConfig != nil {
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
		if h.healthConfig.CachePing != nil {
			if h.healthConfig.CachePing() == nil {
				checks["cache"] = "healthy"
			} else {
				checks["cache"] = "unhealthy"
			}
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   serviceName,
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil || h.traffic == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.traffic.Overloaded(h.healthConfig.RateLimitRPS, h.healthConfig.OverloadThresholdPct) {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	if h.traffic.Degraded(h.healthConfig.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the standard error envelope.
type errorBody struct {
	Code          string   `json:"code"`
	Message       string   `json:"message"`
	RequestID     string   `json:"requestId"`
	FailedSources []string `json:"failedSources,omitempty"`
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorBody(w, status, errorBody{Code: code, Message: message, RequestID: observability.CorrelationID(r.Context())})
}

func writeErrorBody(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, map[string]errorBody{"error": body})
}

// writeServiceError maps aggregation errors to responses. The request deadline wins over
// upstream causes because a timed-out fan-out reports every pending source as failed.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context(), nil)
	body := errorBody{RequestID: observability.CorrelationID(r.Context())}
	var aggErr *service.AggregationError
	if errors.As(err, &aggErr) {
		body.FailedSources = aggErr.FailedSources()
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(r.Context().Err(), context.DeadlineExceeded):
		status, body.Code, body.Message = http.StatusGatewayTimeout, "TIMEOUT", "Timed out waiting for weather sources"
	case errors.Is(r.Context().Err(), context.Canceled):
		status, body.Code, body.Message = http.StatusServiceUnavailable, "REQUEST_CANCELED", "Request canceled"
	case errors.Is(err, service.ErrCoalesceTimeout):
		status, body.Code, body.Message = http.StatusGatewayTimeout, "TIMEOUT", "Timed out waiting for weather sources"
	case errors.Is(err, client.ErrInvalidAPIKey):
		status, body.Code, body.Message = http.StatusUnauthorized, "INVALID_API_KEY", "One or more API keys are invalid or have expired"
	case aggErr != nil:
		status, body.Code, body.Message = http.StatusBadGateway, "UPSTREAM_FAILURE", "Error communicating with weather sources"
	default:
		body.Code, body.Message = "INTERNAL_ERROR", "An error occurred while processing your request"
	}
	logger.Debug("aggregation error", zap.Error(err), zap.Int("status", status))
	writeErrorBody(w, status, body)
}
