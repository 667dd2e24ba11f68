package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// RouterConfig wires middleware for NewRouter.
type RouterConfig struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter // nil disables rate limiting
	Denials        DenialRecorder
	RequestTimeout time.Duration
	InFlight       *InFlightTracker
}

// NewRouter registers all routes. Rate limiting and the request timeout apply to /api only.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	inFlight := cfg.InFlight
	if inFlight == nil {
		inFlight = &InFlightTracker{}
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(TracingMiddleware)
	router.Use(MetricsMiddleware)
	router.Use(InFlightMiddleware(inFlight))
	router.HandleFunc("/", h.GetIndex).Methods(http.MethodGet)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter, cfg.Denials))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/aggregation", h.GetAggregation).Methods(http.MethodGet)
	api.HandleFunc("/statistics", h.GetStatistics).Methods(http.MethodGet)
	api.HandleFunc("/statistics", h.DeleteStatistics).Methods(http.MethodDelete)
	api.HandleFunc("/statistics/{source}", h.GetSourceStatistics).Methods(http.MethodGet)
	return router
}
