package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressroom-erp/pressroom-erp/internal/customers"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// DefaultCreditPeriodDays applies when neither the request nor the customer
// carries a payment period.
const DefaultCreditPeriodDays = 30

// Store is the persistence surface the invoice workflow consumes.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error)
	ListInvoices(ctx context.Context, status Status, limit, offset int) ([]Invoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	MarkOverdue(ctx context.Context, now time.Time) (int, error)
}

// TaxRates supplies the order-level tax rate in percent.
type TaxRates interface {
	TaxRate(ctx context.Context) float64
}

// Auditor records before/after snapshots of financial changes.
type Auditor interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// Service implements the invoice workflow.
type Service struct {
	store    Store
	taxes    TaxRates
	audit    Auditor
	clock    shared.Clock
	logger   *slog.Logger
	notifier shared.Notifier
}

// NewService constructs an invoice service.
func NewService(store Store, taxes TaxRates, audit Auditor, clock shared.Clock, notifier shared.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		taxes:    taxes,
		audit:    audit,
		clock:    clock,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateFromOrderInput controls invoice creation.
type CreateFromOrderInput struct {
	OrderID int64
	// Issue creates the invoice as ISSUED; false leaves it in DRAFT for
	// review. Credit balance is only charged when the invoice is issued.
	Issue            bool
	CreditPeriodDays *int
	ActorID          int64
}

// CreateFromOrder builds the single invoice for an order. Totals are copied
// from the order unless any item's production job was cancelled, in which
// case they are recomputed over the surviving items. Returns *DuplicateError
// if the order already has an invoice.
func (s *Service) CreateFromOrder(ctx context.Context, input CreateFromOrderInput) (*Invoice, error) {
	now := s.clock.Now()
	var created *Invoice
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		order, err := tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if existing, err := tx.GetInvoiceByOrder(ctx, input.OrderID); err == nil {
			return &DuplicateError{Existing: existing}
		} else if !shared.IsNotFound(err) {
			return err
		}

		var customer *customers.Customer
		if order.CustomerID != nil {
			customer, err = tx.GetCustomerForUpdate(ctx, *order.CustomerID)
			if err != nil {
				return err
			}
		}

		subtotal, discount, tax, total := order.Subtotal, order.Discount, order.Tax, order.Total
		items, err := tx.ListOrderItems(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if anyCancelled(items) {
			subtotal = 0
			for _, it := range items {
				if it.JobCancelled {
					continue
				}
				subtotal += it.LineTotal
			}
			subtotal = shared.Round2(subtotal)
			tax = shared.Round2((subtotal - discount) * s.taxes.TaxRate(ctx) / 100)
			total = shared.Round2(subtotal - discount + tax)
		}

		number, err := tx.NextInvoiceNumber(ctx, now)
		if err != nil {
			return err
		}

		inv := Invoice{
			Number:     number,
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Status:     StatusDraft,
			Subtotal:   subtotal,
			Discount:   discount,
			Tax:        tax,
			Total:      total,
			PaidAmount: order.PaidAmount,
			Balance:    shared.Round2(total - order.PaidAmount),
			DueDate:    now.AddDate(0, 0, s.creditPeriod(input.CreditPeriodDays, customer)),
			CreatedBy:  input.ActorID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if input.Issue {
			inv.Status = StatusIssued
			inv.IssueDate = &now
		}
		if inv.Balance <= 0 && inv.PaidAmount > 0 {
			inv.Status = StatusPaid
		}

		id, err := tx.CreateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id

		if input.Issue && customer != nil && customer.Type == customers.TypeCredit {
			if err := tx.UpdateCustomerCredit(ctx, customer.ID, shared.Round2(customer.CreditBalance+total), now); err != nil {
				return err
			}
		}
		created = &inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, input.ActorID, "invoice.create", created.ID, nil, map[string]any{
		"number": created.Number, "order_id": created.OrderID, "status": created.Status, "total": created.Total,
	})
	return created, nil
}

func (s *Service) creditPeriod(requested *int, customer *customers.Customer) int {
	if requested != nil {
		return *requested
	}
	if customer != nil && customer.Type == customers.TypeCredit && customer.CreditPeriodDays > 0 {
		return customer.CreditPeriodDays
	}
	return DefaultCreditPeriodDays
}

// RecordPaymentInput describes money received against an invoice.
type RecordPaymentInput struct {
	Amount          float64
	Method          PaymentMethod
	ReferenceNumber *string
	ActorID         int64
}

// RecordPayment applies a payment to an invoice and mirrors it onto the
// order in the same transaction. A credit customer's running balance is
// reduced by the amount, floored at zero. Orders still in DRAFT advance to
// PAID on any payment; PENDING_PAYMENT orders advance once fully paid.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, input RecordPaymentInput) (*Payment, error) {
	if input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !input.Method.IsValid() {
		return nil, ErrInvalidMethod
	}
	now := s.clock.Now()
	var (
		payment *Payment
		invoice *Invoice
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		number, err := tx.NextPaymentNumber(ctx, now)
		if err != nil {
			return err
		}
		p := Payment{
			Number:          number,
			InvoiceID:       &inv.ID,
			OrderID:         &inv.OrderID,
			Amount:          input.Amount,
			Method:          input.Method,
			ReferenceNumber: input.ReferenceNumber,
			PaymentDate:     now,
			ReceivedBy:      input.ActorID,
			CreatedAt:       now,
		}
		p.ID, err = tx.CreatePayment(ctx, p)
		if err != nil {
			return err
		}

		inv.PaidAmount = shared.Round2(inv.PaidAmount + input.Amount)
		inv.Balance = shared.Round2(inv.Total - inv.PaidAmount)
		if inv.Balance <= 0 {
			inv.Status = StatusPaid
		} else {
			inv.Status = StatusPartial
		}
		inv.UpdatedAt = now
		if err := tx.UpdateInvoiceAmounts(ctx, inv); err != nil {
			return err
		}

		order, err := tx.GetOrderForUpdate(ctx, inv.OrderID)
		if err != nil {
			return err
		}
		orderPaid := shared.Round2(order.PaidAmount + input.Amount)
		orderBalance := shared.Round2(order.Total - orderPaid)
		if err := tx.UpdateOrderPayment(ctx, inv.OrderID, orderPaid, orderBalance, now); err != nil {
			return err
		}
		switch {
		case order.Status == "DRAFT":
			if err := tx.UpdateOrderStatus(ctx, order.ID, "PAID", "payment "+number, input.ActorID, now); err != nil {
				return err
			}
		case order.Status == "PENDING_PAYMENT" && orderBalance <= 0:
			if err := tx.UpdateOrderStatus(ctx, order.ID, "PAID", "payment "+number, input.ActorID, now); err != nil {
				return err
			}
		}

		if inv.CustomerID != nil {
			customer, err := tx.GetCustomerForUpdate(ctx, *inv.CustomerID)
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
		payment = &p
		invoice = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyPayment(ctx, invoice, payment)
	s.recordAudit(ctx, input.ActorID, "invoice.payment", invoiceID, nil, map[string]any{
		"number": payment.Number, "amount": payment.Amount, "method": payment.Method,
	})
	return payment, nil
}

func (s *Service) notifyPayment(ctx context.Context, inv *Invoice, p *Payment) {
	err := s.notifier.Notify(ctx, shared.Notification{
		UserID:  inv.CreatedBy,
		Kind:    "invoice_payment",
		Title:   "Payment received",
		Message: fmt.Sprintf("Payment %s of %s received on invoice %s", p.Number, shared.FormatMoney(p.Amount), inv.Number),
		Data:    map[string]any{"invoice_id": inv.ID, "payment_id": p.ID, "amount": p.Amount},
	})
	if err != nil {
		s.logger.Warn("payment notification failed", slog.Int64("invoice_id", inv.ID), slog.Any("error", err))
	}
}

// UpdateDraftInput adjusts a draft invoice before approval. When
// ItemOverrides is set, totals are recomputed from the order's items with
// the overrides applied; otherwise the explicit amounts are taken as given.
type UpdateDraftInput struct {
	Subtotal      *float64
	Discount      *float64
	Tax           *float64
	ItemOverrides map[int64]ItemOverride
	ActorID       int64
}

// UpdateDraft edits a draft invoice's amounts.
func (s *Service) UpdateDraft(ctx context.Context, invoiceID int64, input UpdateDraftInput) (*Invoice, error) {
	now := s.clock.Now()
	var updated *Invoice
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return ErrNotDraft
		}
		before := map[string]any{"subtotal": inv.Subtotal, "discount": inv.Discount, "tax": inv.Tax, "total": inv.Total}

		if input.Discount != nil {
			inv.Discount = *input.Discount
		}
		if input.ItemOverrides != nil {
			items, err := tx.ListOrderItems(ctx, inv.OrderID)
			if err != nil {
				return err
			}
			subtotal := 0.0
			for _, it := range items {
				if it.JobCancelled {
					continue
				}
				if ov, ok := input.ItemOverrides[it.ID]; ok {
					subtotal += overriddenLine(it, ov)
				} else {
					subtotal += it.LineTotal
				}
			}
			inv.Subtotal = shared.Round2(subtotal)
			inv.Tax = shared.Round2((inv.Subtotal - inv.Discount) * s.taxes.TaxRate(ctx) / 100)
			inv.ItemOverrides = input.ItemOverrides
		} else {
			if input.Subtotal != nil {
				inv.Subtotal = *input.Subtotal
			}
			if input.Tax != nil {
				inv.Tax = *input.Tax
			}
		}
		inv.Total = shared.Round2(inv.Subtotal - inv.Discount + inv.Tax)
		inv.Balance = shared.Round2(inv.Total - inv.PaidAmount)
		inv.UpdatedAt = now
		if err := tx.UpdateInvoiceAmounts(ctx, inv); err != nil {
			return err
		}
		updated = inv

		s.recordAudit(ctx, input.ActorID, "invoice.update_draft", inv.ID, before, map[string]any{
			"subtotal": inv.Subtotal, "discount": inv.Discount, "tax": inv.Tax, "total": inv.Total,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func overriddenLine(it OrderItemView, ov ItemOverride) float64 {
	line := ov.UnitPrice * it.Quantity
	if it.Width != nil && it.Height != nil {
		line = ov.UnitPrice * *it.Width * *it.Height * it.Quantity
	}
	switch ov.DiscountType {
	case "percentage":
		line -= line * ov.DiscountValue / 100
	case "fixed":
		line -= ov.DiscountValue
	}
	return line
}

// ApproveDraft issues a draft invoice. The customer's credit balance is
// charged now; it was deliberately skipped at draft creation.
func (s *Service) ApproveDraft(ctx context.Context, invoiceID, actorID int64) (*Invoice, error) {
	now := s.clock.Now()
	var approved *Invoice
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return ErrNotDraft
		}
		if err := tx.UpdateInvoiceStatus(ctx, inv.ID, StatusIssued, &now, now); err != nil {
			return err
		}
		inv.Status = StatusIssued
		inv.IssueDate = &now

		if inv.CustomerID != nil {
			customer, err := tx.GetCustomerForUpdate(ctx, *inv.CustomerID)
			if err != nil {
				return err
			}
			if customer.Type == customers.TypeCredit {
				if err := tx.UpdateCustomerCredit(ctx, customer.ID, shared.Round2(customer.CreditBalance+inv.Total), now); err != nil {
					return err
				}
			}
		}
		approved = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, "invoice.approve", approved.ID, map[string]any{"status": StatusDraft},
		map[string]any{"status": StatusIssued})
	return approved, nil
}

// CheckOverdue flags issued or partially paid invoices past their due date.
func (s *Service) CheckOverdue(ctx context.Context) (int, error) {
	n, err := s.store.MarkOverdue(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("mark overdue invoices: %w", err)
	}
	if n > 0 {
		s.logger.Info("invoices marked overdue", slog.Int("count", n))
	}
	return n, nil
}

// Get returns one invoice.
func (s *Service) Get(ctx context.Context, id int64) (*Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

// GetByOrder returns the invoice for an order, if any.
func (s *Service) GetByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	return s.store.GetInvoiceByOrder(ctx, orderID)
}

// List returns invoices, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, p shared.Pagination) ([]Invoice, error) {
	return s.store.ListInvoices(ctx, status, p.PerPage, p.Offset())
}

// Payments returns the payment history of an invoice.
func (s *Service) Payments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return s.store.ListPayments(ctx, invoiceID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:   &actorID,
		Action:    action,
		Entity:    "invoice",
		EntityID:  entityID,
		OldValues: before,
		NewValues: after,
		At:        s.clock.Now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func anyCancelled(items []OrderItemView) bool {
	for _, it := range items {
		if it.JobCancelled {
			return true
		}
	}
	return false
}
