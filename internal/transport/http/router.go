package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/trace"

	"fitcore/internal/config"
	apierrors "fitcore/internal/errors"
	"fitcore/internal/infrastructure"
	customMiddleware "fitcore/internal/middleware"
)

// RouterDeps collects what the daemon router needs
type RouterDeps struct {
	Licenses LicenseServiceInterface
	Health   HealthServiceInterface
	Checker  customMiddleware.LicenseChecker

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Events serves the websocket event stream when set.
	Events         http.Handler
	Metrics        *infrastructure.DaemonMetrics
	Tracer         trace.Tracer

	RateLimit      config.RateLimitConfig
	RequestTimeout time.Duration
	MaxLicenseSize int64

	// IncludeStack adds stack traces to 5xx problem details.
	IncludeStack bool
	Logger       *slog.Logger
}

// Router is the daemon's HTTP handler together with its license gate
type Router struct {
	*chi.Mux
	Gate *customMiddleware.LicenseGate
}

// NewRouter wires middleware and routes.
//
// Middleware order: RequestID, RealIP, OTel, error recovery, timeout,
// security headers, rate limit, license gate.
func NewRouter(deps RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errorHandler := apierrors.NewErrorHandler(logger, deps.IncludeStack)
	validation := customMiddleware.NewValidationMiddleware(logger, errorHandler)
	gate := customMiddleware.NewLicenseGate(deps.Checker, errorHandler, logger)

	healthHandler := NewHealthHandler(deps.Health, errorHandler, logger)
	licenseHandler := NewLicenseHandler(deps.Licenses, errorHandler, deps.MaxLicenseSize, logger)
	sessionHandler := NewSessionHandler(deps.Licenses, validation, errorHandler, logger)

	r := chi.NewRouter()
	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	// Scrapes stay out of the traced and rate limited group.
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	// The event stream outlives the request timeout and needs no license.
	if deps.Events != nil {
		r.Get("/api/v1/events", deps.Events.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.NewOTelMiddleware(deps.Tracer, deps.Metrics, logger).Handler)
		r.Use(apierrors.NewErrorMiddleware(errorHandler, logger).Handler)
		if deps.RequestTimeout > 0 {
			r.Use(middleware.Timeout(deps.RequestTimeout))
		}
		r.Use(customMiddleware.SecurityHeaders)
		if deps.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				deps.RateLimit.RPS,
				deps.RateLimit.Burst,
				errorHandler,
				deps.Metrics,
				logger,
			).Handler)
		}
		r.Use(gate.Handler)
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/health/ready", healthHandler.ReadinessCheck)
		r.Get("/version", healthHandler.Version)

		r.Route("/api/v1", func(r chi.Router) {
			r.Mount("/license", licenseHandler.Routes())
			r.Get("/fingerprint", licenseHandler.Fingerprint)
			r.Mount("/features", sessionHandler.FeatureRoutes())
			r.Mount("/sessions", sessionHandler.SessionRoutes())
		})
	})

	return &Router{Mux: r, Gate: gate}
}
