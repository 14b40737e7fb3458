package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "fitcore/internal/errors"
	"fitcore/internal/license"
	"fitcore/internal/services"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service      HealthServiceInterface
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service HealthServiceInterface, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service:      service,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.HealthCheck(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.respond(w, r, status)
}

// ReadinessCheck handles GET /health/ready
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.service.ReadinessCheck(r.Context()))
}

// LivenessCheck handles GET /health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.service.LivenessCheck(r.Context()))
}

// Version handles GET /version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Version())
}

// respond answers 503 for an unhealthy status so probes need not parse
// the body.
func (h *HealthHandler) respond(w http.ResponseWriter, r *http.Request, status services.HealthStatus) {
	if status.Status == license.HealthStatusUnhealthy {
		h.logger.WarnContext(r.Context(), "health probe unhealthy",
			slog.String("path", r.URL.Path),
			slog.String("message", status.Message),
		)
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}
