package analytics_api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ms-reservation/internal/analytics"
	"ms-reservation/internal/auth"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Summaries interface {
	GetVisitSummary(ctx context.Context, from, to string) (*analytics.VisitSummary, error)
}

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service Summaries
	Logger  *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service Summaries, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Handler{Service: service, Logger: log}
}

// RegisterRoutes registers the analytics routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/analytics", func(r chi.Router) {
		r.Get("/visits", h.GetVisitSummary)
	})
}

// GetVisitSummary handles the visit statistics request for ?from=&to=.
func (h *Handler) GetVisitSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.send(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "no actor on request"))
		return
	}
	if actor.Role != models.RoleAdmin {
		h.Logger.Warn("ANALYTICS", fmt.Sprintf("%s %s attempted to read visit analytics", actor.Role, actor.ID))
		h.send(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "You do not have permission to access these analytics"))
		return
	}

	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	summary, err := h.Service.GetVisitSummary(r.Context(), from, to)
	if errors.Is(err, analytics.ErrInvalidRange) {
		h.send(w, http.StatusBadRequest, utils.ErrorResponse("Invalid range", err.Error()))
		return
	}
	if err != nil {
		h.Logger.Error("ANALYTICS", "Error getting visit summary: "+err.Error())
		h.send(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to get analytics", "internal error"))
		return
	}

	h.send(w, http.StatusOK, utils.SuccessResponse("Visit summary", summary))
}

func (h *Handler) send(w http.ResponseWriter, status int, resp utils.APIResponse) {
	if err := utils.WriteJSON(w, status, resp); err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("failed to encode response: %v", err))
	}
}
