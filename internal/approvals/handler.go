package approvals

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pressroom-erp/pressroom-erp/internal/platform/httpx"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// DiscountRequestBody is the JSON body for opening a discount request.
type DiscountRequestBody struct {
	OrderID int64   `json:"order_id" validate:"required,gt=0"`
	Amount  float64 `json:"amount" validate:"required,gt=0"`
	Reason  string  `json:"reason"`
}

// CreditOverrideRequestBody is the JSON body for opening a credit override
// request.
type CreditOverrideRequestBody struct {
	OrderID int64  `json:"order_id" validate:"required,gt=0"`
	Reason  string `json:"reason"`
}

// DecisionBody is the JSON body for approving or rejecting a request.
type DecisionBody struct {
	Note string `json:"note"`
}

// Handler serves the approval endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/discount", h.requestDiscount)
	r.Post("/credit-override", h.requestCreditOverride)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	kind := Kind(r.URL.Query().Get("kind"))
	out, err := h.service.List(r.Context(), status, kind, shared.ParsePagination(r))
	if err != nil {
		h.logger.Error("list approval requests", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request id")
		return
	}
	request, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, request)
}

func (h *Handler) requestDiscount(w http.ResponseWriter, r *http.Request) {
	var req DiscountRequestBody
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	request, err := h.service.RequestDiscount(r.Context(), req.OrderID, req.Amount, req.Reason,
		shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, request)
}

func (h *Handler) requestCreditOverride(w http.ResponseWriter, r *http.Request) {
	var req CreditOverrideRequestBody
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	request, err := h.service.RequestCreditOverride(r.Context(), req.OrderID, req.Reason,
		shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, request)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.decideRoute(w, r, h.service.Approve)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.decideRoute(w, r, h.service.Reject)
}

func (h *Handler) decideRoute(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, requestID int64, note string, actorID int64) (*Request, error)) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request id")
		return
	}
	var req DecisionBody
	_ = httpx.DecodeJSON(r, &req)
	request, err := fn(r.Context(), id, req.Note, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, request)
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
