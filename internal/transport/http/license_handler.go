package http

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "fitcore/internal/errors"
	"fitcore/internal/infrastructure"
	customMiddleware "fitcore/internal/middleware"
)

// DefaultMaxLicenseSize bounds license uploads.
const DefaultMaxLicenseSize = 64 << 10

// ErrLicenseFileMissing is returned by reload when the license file is gone
var ErrLicenseFileMissing = apierrors.NewAPIError(http.StatusNotFound, "LICENSE_FILE_NOT_FOUND", "License file does not exist")

// LicenseHandler handles license management requests
type LicenseHandler struct {
	service      LicenseServiceInterface
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
	tracer       trace.Tracer
	maxSize      int64
}

// NewLicenseHandler creates a new license handler. maxSize <= 0 selects
// DefaultMaxLicenseSize.
func NewLicenseHandler(service LicenseServiceInterface, errorHandler *apierrors.ErrorHandler, maxSize int64, logger *slog.Logger) *LicenseHandler {
	if maxSize <= 0 {
		maxSize = DefaultMaxLicenseSize
	}
	return &LicenseHandler{
		service:      service,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "license")),
		tracer:       otel.Tracer(infrastructure.MeterName),
		maxSize:      maxSize,
	}
}

// Routes returns a chi router for the license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetInfo)
	r.With(customMiddleware.ContentTypeValidator(h.errorHandler, "application/octet-stream")).Put("/", h.Update)
	r.Post("/reload", h.Reload)
	return r
}

// GetInfo handles GET /api/v1/license
func (h *LicenseHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Info(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}

// Update handles PUT /api/v1/license. The body is the raw license.
func (h *LicenseHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.update",
		trace.WithAttributes(attribute.String("request_id", middleware.GetReqID(r.Context()))),
	)
	defer span.End()
	r = r.WithContext(ctx)
	start := time.Now()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apierrors.NewAPIErrorWithDetails(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				"License exceeds maximum allowed size", map[string]interface{}{"max_size": h.maxSize})
		} else {
			err = apierrors.InvalidRequestWithError(err)
		}
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int("license.size", len(raw)))

	if err := h.service.Update(ctx, raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apierrors.CodeOf(err).String())
		h.logger.WarnContext(ctx, "license update rejected",
			slog.Int("size", len(raw)),
			slog.String("code", apierrors.CodeOf(err).String()),
			slog.Duration("latency", time.Since(start)),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license updated",
		slog.Int("size", len(raw)),
		slog.Duration("latency", time.Since(start)),
	)
	h.GetInfo(w, r)
}

// Reload handles POST /api/v1/license/reload
func (h *LicenseHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reload(r.Context()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = ErrLicenseFileMissing
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.GetInfo(w, r)
}

// FingerprintResponse carries the device fingerprint blob
type FingerprintResponse struct {
	Fingerprint string `json:"fingerprint"`
}

// Fingerprint handles GET /api/v1/fingerprint
func (h *LicenseHandler) Fingerprint(w http.ResponseWriter, r *http.Request) {
	fp, err := h.service.Fingerprint(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, FingerprintResponse{Fingerprint: fp})
}
