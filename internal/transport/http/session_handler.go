package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	apierrors "fitcore/internal/errors"
	customMiddleware "fitcore/internal/middleware"
	"fitcore/internal/services"
)

// SessionHandler serves feature lookups and consumption sessions
type SessionHandler struct {
	service      LicenseServiceInterface
	validation   *customMiddleware.ValidationMiddleware
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(service LicenseServiceInterface, validation *customMiddleware.ValidationMiddleware, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		service:      service,
		validation:   validation,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "session")),
	}
}

// StartSessionRequest selects the product a session is opened under. A
// zero product id takes the first product granting the feature.
type StartSessionRequest struct {
	ProductID uint32 `json:"product_id"`
}

// SessionListResponse lists the open sessions
type SessionListResponse struct {
	Sessions []services.Session `json:"sessions"`
	Count    int                `json:"count"`
}

// FeatureRoutes returns the router mounted at /api/v1/features
func (h *SessionHandler) FeatureRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{featureID}", h.GetFeature)
	r.With(customMiddleware.ContentTypeValidator(h.errorHandler, "application/json")).
		Post("/{featureID}/sessions", h.StartSession)
	return r
}

// SessionRoutes returns the router mounted at /api/v1/sessions
func (h *SessionHandler) SessionRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListSessions)
	r.Delete("/{sessionID}", h.EndSession)
	return r
}

// GetFeature handles GET /api/v1/features/{featureID}?product_id=
func (h *SessionHandler) GetFeature(w http.ResponseWriter, r *http.Request) {
	featureID, ok := h.uintParam(w, r, "featureID", chi.URLParam(r, "featureID"))
	if !ok {
		return
	}
	var productID uint32
	if v := r.URL.Query().Get("product_id"); v != "" {
		if productID, ok = h.uintParam(w, r, "product_id", v); !ok {
			return
		}
	}

	fc, err := h.service.FindFeature(r.Context(), featureID, productID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, fc)
}

// StartSession handles POST /api/v1/features/{featureID}/sessions
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	featureID, ok := h.uintParam(w, r, "featureID", chi.URLParam(r, "featureID"))
	if !ok {
		return
	}
	var req StartSessionRequest
	if !h.validation.DecodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.StartSession(r.Context(), featureID, req.ProductID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+session.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, session)
}

// ListSessions handles GET /api/v1/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.service.Sessions()
	render.JSON(w, r, SessionListResponse{Sessions: sessions, Count: len(sessions)})
}

// EndSession handles DELETE /api/v1/sessions/{sessionID}
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := uuid.Parse(id); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidParameter("sessionID", id))
		return
	}
	if err := h.service.EndSession(r.Context(), id); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) uintParam(w http.ResponseWriter, r *http.Request, name, value string) (uint32, bool) {
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidParameter(name, value))
		return 0, false
	}
	return uint32(v), true
}
