package quotations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressroom-erp/pressroom-erp/internal/customers"
	"github.com/pressroom-erp/pressroom-erp/internal/orders"
	"github.com/pressroom-erp/pressroom-erp/internal/pricing"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// Store is the persistence surface the service needs.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetQuotation(ctx context.Context, id int64) (*Quotation, error)
	ListQuotations(ctx context.Context, status Status, customerID *int64, limit, offset int) ([]Quotation, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// Pricer resolves unit prices for quotation lines.
type Pricer interface {
	Calculate(ctx context.Context, q pricing.Query) (pricing.Result, error)
}

// OrderWorkflow is the slice of the order service conversion depends on.
type OrderWorkflow interface {
	Create(ctx context.Context, input orders.CreateInput) (*orders.Order, error)
	Transition(ctx context.Context, orderID int64, to orders.Status, reason string, actorID int64) (*orders.Order, error)
}

// TaxRates resolves the current tax rate percentage.
type TaxRates interface {
	TaxRate(ctx context.Context) float64
}

// Auditor records before/after snapshots of financial changes.
type Auditor interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// Service implements the quotation workflow.
type Service struct {
	store  Store
	pricer Pricer
	orders OrderWorkflow
	taxes  TaxRates
	audit  Auditor
	clock  shared.Clock
	logger *slog.Logger
}

// NewService constructs the quotation service.
func NewService(store Store, pricer Pricer, orderWorkflow OrderWorkflow, taxes TaxRates,
	audit Auditor, clock shared.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		pricer: pricer,
		orders: orderWorkflow,
		taxes:  taxes,
		audit:  audit,
		clock:  clock,
		logger: logger,
	}
}

// ItemInput describes one quotation line before pricing.
type ItemInput struct {
	ProductID int64
	Quantity  float64
	Width     *float64
	Height    *float64
	Notes     string
}

// CreateInput describes a new quotation.
type CreateInput struct {
	CustomerID *int64
	Notes      string
	ValidUntil *time.Time
	Items      []ItemInput
	ActorID    int64
}

// Create prices the given lines and stores a new DRAFT quotation.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Quotation, error) {
	now := s.clock.Now()
	lines := make([]Item, 0, len(input.Items))
	for _, in := range input.Items {
		it, err := s.priceLine(ctx, input.CustomerID, in)
		if err != nil {
			return nil, err
		}
		lines = append(lines, it)
	}

	var quotation *Quotation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		number, err := tx.NextQuotationNumber(ctx, now)
		if err != nil {
			return err
		}
		q := Quotation{
			Number:     number,
			CustomerID: input.CustomerID,
			Status:     StatusDraft,
			Notes:      input.Notes,
			ValidUntil: input.ValidUntil,
			CreatedBy:  input.ActorID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		for _, it := range lines {
			q.Subtotal += it.LineTotal
		}
		q.Subtotal = shared.Round2(q.Subtotal)
		s.recomputeTotals(ctx, &q)

		q.ID, err = tx.CreateQuotation(ctx, q)
		if err != nil {
			return err
		}
		for i := range lines {
			lines[i].QuotationID = q.ID
			if lines[i].ID, err = tx.CreateItem(ctx, lines[i]); err != nil {
				return err
			}
		}
		q.Items = lines
		quotation = &q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quotation, nil
}

// AddItem prices and appends a line to an editable quotation.
func (s *Service) AddItem(ctx context.Context, quotationID int64, input ItemInput, actorID int64) (*Quotation, error) {
	return s.mutateItems(ctx, quotationID, func(ctx context.Context, tx TxStore, q *Quotation) error {
		it, err := s.priceLine(ctx, q.CustomerID, input)
		if err != nil {
			return err
		}
		it.QuotationID = q.ID
		_, err = tx.CreateItem(ctx, it)
		return err
	})
}

// UpdateItem reprices and rewrites one line of an editable quotation.
func (s *Service) UpdateItem(ctx context.Context, quotationID, itemID int64, input ItemInput, actorID int64) (*Quotation, error) {
	return s.mutateItems(ctx, quotationID, func(ctx context.Context, tx TxStore, q *Quotation) error {
		existing, err := tx.GetItem(ctx, q.ID, itemID)
		if err != nil {
			return err
		}
		priced, err := s.priceLine(ctx, q.CustomerID, input)
		if err != nil {
			return err
		}
		priced.ID = existing.ID
		priced.QuotationID = q.ID
		return tx.UpdateItem(ctx, &priced)
	})
}

// RemoveItem deletes one line of an editable quotation.
func (s *Service) RemoveItem(ctx context.Context, quotationID, itemID int64, actorID int64) (*Quotation, error) {
	return s.mutateItems(ctx, quotationID, func(ctx context.Context, tx TxStore, q *Quotation) error {
		return tx.DeleteItem(ctx, q.ID, itemID)
	})
}

// UpdateInput carries header-level edits. Nil fields are left unchanged.
type UpdateInput struct {
	CustomerID    *int64
	ClearCustomer bool
	Notes         *string
	ValidUntil    *time.Time
	Discount      *float64
	ActorID       int64
}

// Update edits header fields of an editable quotation and recomputes totals
// when the discount changes.
func (s *Service) Update(ctx context.Context, quotationID int64, input UpdateInput) (*Quotation, error) {
	if input.Discount != nil && *input.Discount < 0 {
		return nil, fmt.Errorf("%w: discount cannot be negative", shared.ErrValidation)
	}
	now := s.clock.Now()
	var quotation *Quotation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		q, err := tx.GetQuotationForUpdate(ctx, quotationID)
		if err != nil {
			return err
		}
		if !q.Status.Editable() {
			return ErrNotEditable
		}
		if input.ClearCustomer {
			q.CustomerID = nil
		} else if input.CustomerID != nil {
			q.CustomerID = input.CustomerID
		}
		if input.Notes != nil {
			q.Notes = *input.Notes
		}
		if input.ValidUntil != nil {
			q.ValidUntil = input.ValidUntil
		}
		q.UpdatedAt = now
		if err := tx.UpdateHeader(ctx, q); err != nil {
			return err
		}
		if input.Discount != nil {
			q.Discount = shared.Round2(*input.Discount)
			s.recomputeTotals(ctx, q)
			if err := tx.UpdateTotals(ctx, q); err != nil {
				return err
			}
		}
		q.Items, err = tx.ListItems(ctx, q.ID)
		if err != nil {
			return err
		}
		quotation = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quotation, nil
}

// Send marks a DRAFT quotation as sent to the customer.
func (s *Service) Send(ctx context.Context, quotationID int64, actorID int64) (*Quotation, error) {
	return s.advance(ctx, quotationID, StatusSent, func(from Status) bool { return from == StatusDraft })
}

// Approve marks a quotation as accepted by the customer. Both DRAFT and SENT
// quotations can be approved; a customer walking in with a printed draft is
// approval enough.
func (s *Service) Approve(ctx context.Context, quotationID int64, actorID int64) (*Quotation, error) {
	return s.advance(ctx, quotationID, StatusApproved, func(from Status) bool { return from.Editable() })
}

func (s *Service) advance(ctx context.Context, quotationID int64, to Status, allowed func(Status) bool) (*Quotation, error) {
	now := s.clock.Now()
	var quotation *Quotation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		q, err := tx.GetQuotationForUpdate(ctx, quotationID)
		if err != nil {
			return err
		}
		if q.Expired(now) && q.Status != StatusConverted {
			if err := tx.UpdateStatus(ctx, q.ID, StatusExpired, now); err != nil {
				return err
			}
			return ErrExpired
		}
		if !allowed(q.Status) {
			return &InvalidTransitionError{From: q.Status, To: to}
		}
		if err := tx.UpdateStatus(ctx, q.ID, to, now); err != nil {
			return err
		}
		q.Status = to
		q.UpdatedAt = now
		quotation = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quotation, nil
}

// ConvertInput configures quotation conversion. Type and terms are derived
// from the customer unless overridden; an override carries its reason into
// the order history.
type ConvertInput struct {
	Type           *orders.Type
	PaymentTerms   *orders.PaymentTerms
	OverrideReason string
	ActorID        int64
}

// ConvertToOrder turns an approved, unexpired quotation into an order and
// drives it into production. Credit customers get an invoice order moved
// straight to IN_PRODUCTION; everyone else mirrors the counter flow and
// passes through PAID. The quotation keeps a permanent reference to the
// order and can never be converted again.
func (s *Service) ConvertToOrder(ctx context.Context, quotationID int64, input ConvertInput) (*Quotation, *orders.Order, error) {
	now := s.clock.Now()
	var (
		quotation *Quotation
		items     []Item
		credit    bool
		expired   bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		q, err := tx.GetQuotationForUpdate(ctx, quotationID)
		if err != nil {
			return err
		}
		switch {
		case q.Status == StatusConverted:
			return ErrConverted
		case q.Status == StatusExpired:
			return ErrExpired
		case q.Expired(now):
			if err := tx.UpdateStatus(ctx, q.ID, StatusExpired, now); err != nil {
				return err
			}
			expired = true
			return nil
		case q.Status != StatusApproved:
			return ErrNotApproved
		}
		items, err = tx.ListItems(ctx, q.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrNoItems
		}
		if q.CustomerID != nil {
			customer, err := tx.GetCustomer(ctx, *q.CustomerID)
			if err != nil {
				return err
			}
			credit = customer.Type == customers.TypeCredit
		}
		quotation = q
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if expired {
		return nil, nil, ErrExpired
	}

	orderType := orders.TypeWalkIn
	terms := orders.TermsImmediate
	if credit {
		orderType = orders.TypeInvoice
		terms = orders.TermsCredit30
	}
	if input.Type != nil {
		orderType = *input.Type
	}
	if input.PaymentTerms != nil {
		terms = *input.PaymentTerms
	}

	reason := "converted from quotation " + quotation.Number
	if input.OverrideReason != "" {
		reason += ": " + input.OverrideReason
	}
	orderItems := make([]orders.ItemInput, 0, len(items))
	for _, it := range items {
		orderItems = append(orderItems, orders.ItemInput{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Width:     it.Width,
			Height:    it.Height,
			Notes:     it.Notes,
		})
	}
	order, err := s.orders.Create(ctx, orders.CreateInput{
		CustomerID:   quotation.CustomerID,
		QuotationID:  &quotation.ID,
		Type:         orderType,
		PaymentTerms: terms,
		Notes:        quotation.Notes,
		Items:        orderItems,
		ActorID:      input.ActorID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create order from quotation: %w", err)
	}

	if orderType == orders.TypeInvoice && credit {
		order, err = s.orders.Transition(ctx, order.ID, orders.StatusInProduction, reason, input.ActorID)
	} else {
		if order, err = s.orders.Transition(ctx, order.ID, orders.StatusPaid, reason, input.ActorID); err == nil {
			order, err = s.orders.Transition(ctx, order.ID, orders.StatusInProduction, reason, input.ActorID)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("advance converted order: %w", err)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		q, err := tx.GetQuotationForUpdate(ctx, quotationID)
		if err != nil {
			return err
		}
		if q.Status == StatusConverted {
			return ErrConverted
		}
		return tx.MarkConverted(ctx, q.ID, order.ID, now)
	})
	if err != nil {
		return nil, nil, err
	}
	quotation.Status = StatusConverted
	quotation.ConvertedOrderID = &order.ID
	quotation.UpdatedAt = now
	quotation.Items = items

	s.recordAudit(ctx, input.ActorID, "quotation.convert", quotation.ID, nil,
		map[string]any{"order_id": order.ID, "order_number": order.Number})
	return quotation, order, nil
}

// ExpireQuotations sweeps past-validity quotations into EXPIRED. Idempotent.
func (s *Service) ExpireQuotations(ctx context.Context) (int, error) {
	return s.store.ExpireStale(ctx, s.clock.Now())
}

// Get returns one quotation with items, sweeping stale ones first.
func (s *Service) Get(ctx context.Context, id int64) (*Quotation, error) {
	s.sweep(ctx)
	return s.store.GetQuotation(ctx, id)
}

// List returns quotations filtered by status and customer, sweeping stale
// ones first.
func (s *Service) List(ctx context.Context, status Status, customerID *int64, p shared.Pagination) ([]Quotation, error) {
	s.sweep(ctx)
	return s.store.ListQuotations(ctx, status, customerID, p.PerPage, p.Offset())
}

func (s *Service) sweep(ctx context.Context) {
	if _, err := s.store.ExpireStale(ctx, s.clock.Now()); err != nil {
		s.logger.Warn("quotation expiry sweep failed", slog.Any("error", err))
	}
}

// mutateItems runs one item mutation on an editable quotation and recomputes
// its totals from the surviving lines.
func (s *Service) mutateItems(ctx context.Context, quotationID int64, fn func(context.Context, TxStore, *Quotation) error) (*Quotation, error) {
	now := s.clock.Now()
	var quotation *Quotation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		q, err := tx.GetQuotationForUpdate(ctx, quotationID)
		if err != nil {
			return err
		}
		if !q.Status.Editable() {
			return ErrNotEditable
		}
		if err := fn(ctx, tx, q); err != nil {
			return err
		}
		q.Items, err = tx.ListItems(ctx, q.ID)
		if err != nil {
			return err
		}
		var subtotal float64
		for _, it := range q.Items {
			subtotal += it.LineTotal
		}
		q.Subtotal = shared.Round2(subtotal)
		s.recomputeTotals(ctx, q)
		q.UpdatedAt = now
		if err := tx.UpdateTotals(ctx, q); err != nil {
			return err
		}
		quotation = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quotation, nil
}

func (s *Service) priceLine(ctx context.Context, customerID *int64, in ItemInput) (Item, error) {
	result, err := s.pricer.Calculate(ctx, pricing.Query{
		ProductID:  in.ProductID,
		Quantity:   in.Quantity,
		Width:      in.Width,
		Height:     in.Height,
		CustomerID: customerID,
	})
	if err != nil {
		return Item{}, fmt.Errorf("price product %d: %w", in.ProductID, err)
	}
	return Item{
		ProductID:     in.ProductID,
		Quantity:      in.Quantity,
		Width:         in.Width,
		Height:        in.Height,
		UnitPrice:     result.UnitPrice,
		LineTotal:     result.LineTotal,
		AppliedRuleID: result.AppliedRuleID,
		Notes:         in.Notes,
	}, nil
}

// recomputeTotals derives tax and total from subtotal and discount. The same
// arithmetic orders use, minus any payment state.
func (s *Service) recomputeTotals(ctx context.Context, q *Quotation) {
	rate := s.taxes.TaxRate(ctx)
	q.Tax = shared.Round2((q.Subtotal - q.Discount) * rate / 100)
	q.Total = shared.Round2(q.Subtotal - q.Discount + q.Tax)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:   &actorID,
		Action:    action,
		Entity:    "quotation",
		EntityID:  entityID,
		OldValues: before,
		NewValues: after,
		At:        s.clock.Now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
