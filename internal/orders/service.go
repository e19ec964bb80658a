package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressroom-erp/pressroom-erp/internal/customers"
	"github.com/pressroom-erp/pressroom-erp/internal/invoices"
	"github.com/pressroom-erp/pressroom-erp/internal/pricing"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// Store is the persistence surface the order workflow consumes.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetOrder(ctx context.Context, id int64) (*Order, error)
	ListOrders(ctx context.Context, status Status, customerID *int64, limit, offset int) ([]Order, error)
	ListHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error)
	ListPayments(ctx context.Context, orderID int64) ([]invoices.Payment, error)
}

// Pricer resolves unit prices for order items.
type Pricer interface {
	Calculate(ctx context.Context, q pricing.Query) (pricing.Result, error)
}

// InvoiceIssuer creates invoices for orders. Satisfied by the invoice
// workflow service.
type InvoiceIssuer interface {
	CreateFromOrder(ctx context.Context, input invoices.CreateFromOrderInput) (*invoices.Invoice, error)
}

// ProductionDispatcher spawns and cancels production jobs. Satisfied by the
// job workflow service; attached via SetJobs to break the construction cycle.
type ProductionDispatcher interface {
	CreateJobs(ctx context.Context, orderID int64, actorID *int64) error
	CancelJobs(ctx context.Context, orderID int64, actorID *int64) error
}

// RoleChecker gates privileged actions.
type RoleChecker interface {
	HasAnyRole(ctx context.Context, userID int64, roles ...string) (bool, error)
}

// TaxRates supplies the order-level tax rate in percent.
type TaxRates interface {
	TaxRate(ctx context.Context) float64
}

// Auditor records before/after snapshots of financial changes.
type Auditor interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// Service implements the order workflow.
type Service struct {
	store    Store
	pricer   Pricer
	invoices InvoiceIssuer
	jobs     ProductionDispatcher
	roles    RoleChecker
	taxes    TaxRates
	audit    Auditor
	clock    shared.Clock
	notifier shared.Notifier
	logger   *slog.Logger
}

// NewService constructs an order service.
func NewService(store Store, pricer Pricer, issuer InvoiceIssuer, roles RoleChecker, taxes TaxRates,
	audit Auditor, clock shared.Clock, notifier shared.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		pricer:   pricer,
		invoices: issuer,
		roles:    roles,
		taxes:    taxes,
		audit:    audit,
		clock:    clock,
		notifier: notifier,
		logger:   logger,
	}
}

// SetJobs attaches the production job dispatcher.
func (s *Service) SetJobs(jobs ProductionDispatcher) { s.jobs = jobs }

// ItemInput is one requested order line. A non-nil UnitPrice overrides the
// engine price and detaches the line from any pricing rule.
type ItemInput struct {
	ProductID int64
	Quantity  float64
	Width     *float64
	Height    *float64
	UnitPrice *float64
	Notes     string
}

// CreateInput describes a new order.
type CreateInput struct {
	CustomerID   *int64
	QuotationID  *int64
	Type         Type
	PaymentTerms PaymentTerms
	Notes        string
	DueDate      *time.Time
	Items        []ItemInput
	ActorID      int64
}

// Create builds a new DRAFT order with priced items. A credit customer
// placing an invoice order past their available credit is not rejected: the
// order is created flagged for approval instead. Unless the order is a
// credit-invoice order, an issued invoice is created immediately,
// best-effort.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Order, error) {
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown order type %q", shared.ErrValidation, input.Type)
	}
	if !input.PaymentTerms.IsValid() {
		return nil, fmt.Errorf("%w: unknown payment terms %q", shared.ErrValidation, input.PaymentTerms)
	}
	if len(input.Items) == 0 {
		return nil, ErrNoItems
	}

	now := s.clock.Now()
	items := make([]Item, 0, len(input.Items))
	for _, in := range input.Items {
		item := Item{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			Width:     in.Width,
			Height:    in.Height,
			Notes:     in.Notes,
		}
		if in.UnitPrice != nil {
			// Manual price: the line no longer belongs to any rule.
			item.UnitPrice = *in.UnitPrice
			item.LineTotal = manualLineTotal(*in.UnitPrice, in.Quantity, in.Width, in.Height)
		} else {
			res, err := s.pricer.Calculate(ctx, pricing.Query{
				ProductID:  in.ProductID,
				Quantity:   in.Quantity,
				Width:      in.Width,
				Height:     in.Height,
				CustomerID: input.CustomerID,
			})
			if err != nil {
				return nil, fmt.Errorf("price item (product %d): %w", in.ProductID, err)
			}
			item.UnitPrice = res.UnitPrice
			item.LineTotal = res.LineTotal
			item.AppliedRuleID = res.AppliedRuleID
		}
		items = append(items, item)
	}

	var (
		order         *Order
		creditInvoice bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var customer *customers.Customer
		if input.CustomerID != nil {
			var err error
			customer, err = tx.GetCustomerForUpdate(ctx, *input.CustomerID)
			if err != nil {
				return err
			}
		}
		creditInvoice = input.Type == TypeInvoice && customer != nil && customer.Type == customers.TypeCredit

		number, err := tx.NextOrderNumber(ctx, now)
		if err != nil {
			return err
		}
		o := Order{
			Number:       number,
			CustomerID:   input.CustomerID,
			QuotationID:  input.QuotationID,
			Type:         input.Type,
			PaymentTerms: input.PaymentTerms,
			Status:       StatusDraft,
			Notes:        input.Notes,
			DueDate:      input.DueDate,
			CreatedBy:    input.ActorID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		subtotal := 0.0
		for _, it := range items {
			subtotal += it.LineTotal
		}
		o.Subtotal = shared.Round2(subtotal)
		s.recomputeTotals(ctx, &o)

		if creditInvoice && input.PaymentTerms != TermsImmediate && customer.AvailableCredit() < o.Total {
			if o.Notes != "" {
				o.Notes += " "
			}
			o.Notes += RequiresApprovalNote
		}

		o.ID, err = tx.CreateOrder(ctx, o)
		if err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = o.ID
			items[i].ID, err = tx.CreateItem(ctx, items[i])
			if err != nil {
				return err
			}
		}
		o.Items = items

		actor := input.ActorID
		if err := tx.AppendHistory(ctx, HistoryEntry{
			OrderID: o.ID, To: StatusDraft, Note: "order created", ActorID: &actor, At: now,
		}); err != nil {
			return err
		}
		order = &o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !creditInvoice {
		s.autoInvoice(ctx, order.ID, true, input.ActorID)
	}
	return order, nil
}

// recomputeTotals derives tax, total and balance from subtotal, discount and
// paid amount. Every mutation funnels through here; nothing else computes
// totals.
func (s *Service) recomputeTotals(ctx context.Context, o *Order) {
	o.Tax = shared.Round2((o.Subtotal - o.Discount) * s.taxes.TaxRate(ctx) / 100)
	o.Total = shared.Round2(o.Subtotal - o.Discount + o.Tax)
	o.Balance = shared.Round2(o.Total - o.PaidAmount)
}

// manualLineTotal prices an overridden line. Lines with both dimensions keep
// the area geometry the engine would have used.
func manualLineTotal(unit, qty float64, width, height *float64) float64 {
	if width != nil && height != nil {
		return shared.Round2(unit * *width * *height * qty)
	}
	return shared.Round2(unit * qty)
}

// Transition moves an order through its state machine. Guards, in order:
// leaving production requires every job finished; release requires a settled
// balance, an invoice, or credit terms. Entering production spawns jobs and
// entering the payment states without an invoice creates one; both are
// best-effort side effects after the status change commits.
func (s *Service) Transition(ctx context.Context, orderID int64, to Status, reason string, actorID int64) (*Order, error) {
	if !to.IsValid() {
		return nil, ErrInvalidStatus
	}
	now := s.clock.Now()
	var (
		order         *Order
		invoiceExists bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		creditInvoice, err := s.isCreditInvoice(ctx, tx, order)
		if err != nil {
			return err
		}
		from := order.Status
		if !from.CanTransition(to, creditInvoice) {
			return &InvalidTransitionError{From: from, To: to}
		}

		if from == StatusInProduction && (to == StatusReady || to == StatusReleased || to == StatusCompleted) {
			n, err := tx.CountUnfinishedJobs(ctx, orderID)
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrJobsUnfinished
			}
		}

		if _, err := tx.GetInvoiceForOrder(ctx, orderID); err == nil {
			invoiceExists = true
		} else if !shared.IsNotFound(err) {
			return err
		}

		if to == StatusReleased && order.Balance > 0 && !invoiceExists && !creditInvoice {
			return ErrBalanceOutstanding
		}

		if err := tx.UpdateStatus(ctx, orderID, to, now); err != nil {
			return err
		}
		actor := actorID
		if err := tx.AppendHistory(ctx, HistoryEntry{
			OrderID: orderID, From: &from, To: to, Note: reason, ActorID: &actor, At: now,
		}); err != nil {
			return err
		}
		order.Status = to
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.runTransitionSideEffects(ctx, order, to, invoiceExists, actorID)
	return order, nil
}

func (s *Service) runTransitionSideEffects(ctx context.Context, order *Order, to Status, invoiceExists bool, actorID int64) {
	switch to {
	case StatusInProduction:
		s.dispatchJobs(ctx, order.ID, &actorID)
	case StatusReleased:
		if !invoiceExists {
			s.autoInvoice(ctx, order.ID, false, actorID)
		}
	case StatusPaid, StatusPendingPayment:
		if !invoiceExists {
			s.autoInvoice(ctx, order.ID, true, actorID)
		}
	case StatusReady:
		s.notifyReady(ctx, order)
	}
}

// ApplyDiscount sets the order-level discount amount and recomputes totals.
// Discounts above the threshold share of subtotal require an admin or
// manager actor.
func (s *Service) ApplyDiscount(ctx context.Context, orderID int64, amount float64, actorID int64) (*Order, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: discount cannot be negative", shared.ErrValidation)
	}
	now := s.clock.Now()
	var order *Order
	var before map[string]any
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Subtotal > 0 && amount/order.Subtotal*100 > DiscountApprovalThresholdPercent {
			ok, err := s.roles.HasAnyRole(ctx, actorID, "admin", "manager")
			if err != nil {
				return fmt.Errorf("check actor roles: %w", err)
			}
			if !ok {
				return ErrDiscountForbidden
			}
		}
		before = map[string]any{"discount": order.Discount, "total": order.Total}
		order.Discount = shared.Round2(amount)
		s.recomputeTotals(ctx, order)
		order.UpdatedAt = now
		return tx.UpdateTotals(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, "order.discount", order.ID, before,
		map[string]any{"discount": order.Discount, "total": order.Total})
	return order, nil
}

// RecordPaymentInput describes money received against an order.
type RecordPaymentInput struct {
	Amount          float64
	Method          invoices.PaymentMethod
	ReferenceNumber *string
	ActorID         int64
}

// RecordPayment applies a payment to an order, mirroring it onto the order's
// invoice and the customer's credit balance in the same transaction. A DRAFT
// order advances to PAID on any payment; a PENDING_PAYMENT order advances
// once fully paid. A READY order is never auto-released by payment.
func (s *Service) RecordPayment(ctx context.Context, orderID int64, input RecordPaymentInput) (*invoices.Payment, error) {
	if input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !input.Method.IsValid() {
		return nil, fmt.Errorf("%w: unknown payment method", shared.ErrValidation)
	}
	now := s.clock.Now()
	var (
		payment        *invoices.Payment
		invoiceExists  bool
		advancedToPaid bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		inv, err := tx.GetInvoiceForOrder(ctx, orderID)
		if err != nil && !shared.IsNotFound(err) {
			return err
		}
		invoiceExists = inv != nil

		number, err := tx.NextPaymentNumber(ctx, now)
		if err != nil {
			return err
		}
		p := invoices.Payment{
			Number:          number,
			OrderID:         &order.ID,
			Amount:          input.Amount,
			Method:          input.Method,
			ReferenceNumber: input.ReferenceNumber,
			PaymentDate:     now,
			ReceivedBy:      input.ActorID,
			CreatedAt:       now,
		}
		if inv != nil {
			p.InvoiceID = &inv.ID
		}
		p.ID, err = tx.CreatePayment(ctx, p)
		if err != nil {
			return err
		}

		order.PaidAmount = shared.Round2(order.PaidAmount + input.Amount)
		order.Balance = shared.Round2(order.Total - order.PaidAmount)
		order.UpdatedAt = now
		if err := tx.UpdateTotals(ctx, order); err != nil {
			return err
		}

		if inv != nil {
			invPaid := shared.Round2(inv.PaidAmount + input.Amount)
			invBalance := shared.Round2(inv.Total - invPaid)
			status := string(invoices.StatusPartial)
			if invBalance <= 0 {
				status = string(invoices.StatusPaid)
			}
			if err := tx.UpdateInvoicePayment(ctx, inv.ID, invPaid, invBalance, status, now); err != nil {
				return err
			}
		}

		if order.CustomerID != nil {
			customer, err := tx.GetCustomerForUpdate(ctx, *order.CustomerID)
			if err != nil {
				return err
			}
			if customer.Type == customers.TypeCredit {
				balance := shared.Round2(customer.CreditBalance - input.Amount)
				if balance < 0 {
					balance = 0
				}
				if err := tx.UpdateCustomerCredit(ctx, customer.ID, balance, now); err != nil {
					return err
				}
			}
		}

		from := order.Status
		if from == StatusDraft || (from == StatusPendingPayment && order.Balance <= 0) {
			if err := tx.UpdateStatus(ctx, order.ID, StatusPaid, now); err != nil {
				return err
			}
			actor := input.ActorID
			if err := tx.AppendHistory(ctx, HistoryEntry{
				OrderID: order.ID, From: &from, To: StatusPaid, Note: "payment " + number, ActorID: &actor, At: now,
			}); err != nil {
				return err
			}
			advancedToPaid = true
		}
		payment = &p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if advancedToPaid && !invoiceExists {
		s.autoInvoice(ctx, orderID, true, input.ActorID)
	}
	s.recordAudit(ctx, input.ActorID, "order.payment", orderID, nil,
		map[string]any{"number": payment.Number, "amount": payment.Amount, "method": payment.Method})
	return payment, nil
}

// Cancel soft-cancels an order and force-cancels its production jobs.
func (s *Service) Cancel(ctx context.Context, orderID int64, reason string, actorID int64) error {
	now := s.clock.Now()
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !cancellableStatuses[order.Status] {
			return ErrCancelForbidden
		}
		if err := tx.UpdateStatus(ctx, orderID, StatusCancelled, now); err != nil {
			return err
		}
		from := order.Status
		actor := actorID
		return tx.AppendHistory(ctx, HistoryEntry{
			OrderID: orderID, From: &from, To: StatusCancelled, Note: reason, ActorID: &actor, At: now,
		})
	})
	if err != nil {
		return err
	}

	if s.jobs != nil {
		if err := s.jobs.CancelJobs(ctx, orderID, &actorID); err != nil {
			fail := &shared.SideEffectFailure{Op: "cancel production jobs", Err: err}
			s.logger.Error(fail.Error(), slog.Int64("order_id", orderID))
		}
	}
	s.recordAudit(ctx, actorID, "order.cancel", orderID, nil, map[string]any{"reason": reason})
	return nil
}

// JobsCompleted advances an IN_PRODUCTION order to READY once all of its
// jobs are finished. Called by the job workflow with a system actor; a
// repeat call is a no-op.
func (s *Service) JobsCompleted(ctx context.Context, orderID int64) error {
	now := s.clock.Now()
	var order *Order
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusInProduction {
			order = nil
			return nil
		}
		n, err := tx.CountUnfinishedJobs(ctx, orderID)
		if err != nil {
			return err
		}
		if n > 0 {
			order = nil
			return nil
		}
		if err := tx.UpdateStatus(ctx, orderID, StatusReady, now); err != nil {
			return err
		}
		from := StatusInProduction
		if err := tx.AppendHistory(ctx, HistoryEntry{
			OrderID: orderID, From: &from, To: StatusReady, Note: "all production jobs finished", At: now,
		}); err != nil {
			return err
		}
		order.Status = StatusReady
		return nil
	})
	if err != nil {
		return err
	}
	if order != nil {
		s.notifyReady(ctx, order)
	}
	return nil
}

// ApproveCreditOverride advances a DRAFT order held for credit approval to
// PENDING_PAYMENT. The move bypasses the credit-invoice graph: approval is
// the substitute for the payment the graph would otherwise demand. Customer
// credit fields are untouched.
func (s *Service) ApproveCreditOverride(ctx context.Context, orderID int64, actorID int64) (*Order, error) {
	now := s.clock.Now()
	var order *Order
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusDraft {
			return fmt.Errorf("%w: credit override applies only to DRAFT orders", shared.ErrInvariant)
		}
		if err := tx.UpdateStatus(ctx, orderID, StatusPendingPayment, now); err != nil {
			return err
		}
		from := StatusDraft
		actor := actorID
		if err := tx.AppendHistory(ctx, HistoryEntry{
			OrderID: orderID, From: &from, To: StatusPendingPayment, Note: "credit override approved", ActorID: &actor, At: now,
		}); err != nil {
			return err
		}
		order.Status = StatusPendingPayment
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.autoInvoice(ctx, orderID, true, actorID)
	return order, nil
}

// Get returns one order with its items.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.store.GetOrder(ctx, id)
}

// List returns orders filtered by status and customer.
func (s *Service) List(ctx context.Context, status Status, customerID *int64, p shared.Pagination) ([]Order, error) {
	return s.store.ListOrders(ctx, status, customerID, p.PerPage, p.Offset())
}

// History returns an order's status history.
func (s *Service) History(ctx context.Context, orderID int64) ([]HistoryEntry, error) {
	return s.store.ListHistory(ctx, orderID)
}

// Payments returns an order's payment history.
func (s *Service) Payments(ctx context.Context, orderID int64) ([]invoices.Payment, error) {
	return s.store.ListPayments(ctx, orderID)
}

func (s *Service) isCreditInvoice(ctx context.Context, tx TxStore, order *Order) (bool, error) {
	if order.Type != TypeInvoice || order.CustomerID == nil {
		return false, nil
	}
	customer, err := tx.GetCustomerForUpdate(ctx, *order.CustomerID)
	if err != nil {
		return false, err
	}
	return customer.Type == customers.TypeCredit, nil
}

func (s *Service) dispatchJobs(ctx context.Context, orderID int64, actorID *int64) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.CreateJobs(ctx, orderID, actorID); err != nil {
		fail := &shared.SideEffectFailure{Op: "create production jobs", Err: err}
		s.logger.Error(fail.Error(), slog.Int64("order_id", orderID))
	}
}

func (s *Service) autoInvoice(ctx context.Context, orderID int64, issue bool, actorID int64) {
	if s.invoices == nil {
		return
	}
	_, err := s.invoices.CreateFromOrder(ctx, invoices.CreateFromOrderInput{
		OrderID: orderID,
		Issue:   issue,
		ActorID: actorID,
	})
	if err != nil {
		var dup *invoices.DuplicateError
		if errors.As(err, &dup) {
			return
		}
		fail := &shared.SideEffectFailure{Op: "create invoice", Err: err}
		s.logger.Error(fail.Error(), slog.Int64("order_id", orderID))
	}
}

func (s *Service) notifyReady(ctx context.Context, order *Order) {
	if err := s.notifier.Notify(ctx, shared.Notification{
		UserID:  order.CreatedBy,
		Kind:    "order_ready",
		Title:   "Order ready",
		Message: fmt.Sprintf("Order %s is ready for release", order.Number),
		Data:    map[string]any{"order_id": order.ID},
	}); err != nil {
		s.logger.Warn("ready notification failed", slog.Int64("order_id", order.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:   &actorID,
		Action:    action,
		Entity:    "order",
		EntityID:  entityID,
		OldValues: before,
		NewValues: after,
		At:        s.clock.Now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
