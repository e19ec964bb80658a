package quotations

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pressroom-erp/pressroom-erp/internal/orders"
	"github.com/pressroom-erp/pressroom-erp/internal/platform/httpx"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// Handler serves the quotation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers quotation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Post("/{id}/items", h.addItem)
	r.Patch("/{id}/items/{itemID}", h.updateItem)
	r.Delete("/{id}/items/{itemID}", h.removeItem)
	r.Post("/{id}/send", h.send)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/convert", h.convert)
	r.Post("/expire", h.expire)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	var customerID *int64
	if v := r.URL.Query().Get("customer_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid customer_id")
			return
		}
		customerID = &id
	}
	out, err := h.service.List(r.Context(), status, customerID, shared.ParsePagination(r))
	if err != nil {
		h.logger.Error("list quotations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"quotations": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	items := make([]ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, itemInput(it))
	}
	quotation, err := h.service.Create(r.Context(), CreateInput{
		CustomerID: req.CustomerID,
		Notes:      req.Notes,
		ValidUntil: req.ValidUntil,
		Items:      items,
		ActorID:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("create quotation", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, quotation)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	quotation, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quotation)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	var req UpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	quotation, err := h.service.Update(r.Context(), id, UpdateInput{
		CustomerID:    req.CustomerID,
		ClearCustomer: req.ClearCustomer,
		Notes:         req.Notes,
		ValidUntil:    req.ValidUntil,
		Discount:      req.Discount,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quotation)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	var req ItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	quotation, err := h.service.AddItem(r.Context(), id, itemInput(req), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quotation)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	itemID, err := idParam(r, "itemID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	var req ItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	quotation, err := h.service.UpdateItem(r.Context(), id, itemID, itemInput(req), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quotation)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	itemID, err := idParam(r, "itemID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	quotation, err := h.service.RemoveItem(r.Context(), id, itemID, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quotation)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, h.service.Send)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, h.service.Approve)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id int64, actorID int64) (*Quotation, error)) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	quotation, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quotation)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return
	}
	var req ConvertRequest
	_ = httpx.DecodeJSON(r, &req)
	input := ConvertInput{
		OverrideReason: req.OverrideReason,
		ActorID:        shared.ActorFromContext(r.Context()),
	}
	if req.Type != nil {
		t := orders.Type(*req.Type)
		input.Type = &t
	}
	if req.PaymentTerms != nil {
		p := orders.PaymentTerms(*req.PaymentTerms)
		input.PaymentTerms = &p
	}
	quotation, order, err := h.service.ConvertToOrder(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"quotation": quotation, "order": order})
}

func (h *Handler) expire(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ExpireQuotations(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"expired": n})
}

func itemInput(req ItemRequest) ItemInput {
	return ItemInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Width:     req.Width,
		Height:    req.Height,
		Notes:     req.Notes,
	}
}

func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
