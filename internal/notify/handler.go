package notify

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pressroom-erp/pressroom-erp/internal/platform/httpx"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// Handler serves the notification endpoints. Everything is scoped to the
// acting user; there is no cross-user notification access.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers notification routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/unread-count", h.unreadCount)
	r.Post("/{id}/read", h.markRead)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID := shared.ActorFromContext(r.Context())
	unreadOnly := r.URL.Query().Get("unread") == "true"
	out, err := h.service.ListForUser(r.Context(), userID, unreadOnly, shared.ParsePagination(r))
	if err != nil {
		h.logger.Error("list notifications", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.UnreadCount(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"unread": n})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.MarkRead(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
