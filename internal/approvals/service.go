package approvals

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressroom-erp/pressroom-erp/internal/customers"
	"github.com/pressroom-erp/pressroom-erp/internal/orders"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// Store is the persistence surface the service needs.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetRequest(ctx context.Context, id int64) (*Request, error)
	ListRequests(ctx context.Context, status Status, kind Kind, limit, offset int) ([]Request, error)
}

// OrderWorkflow is the slice of the order service approvals act on.
type OrderWorkflow interface {
	Get(ctx context.Context, id int64) (*orders.Order, error)
	ApplyDiscount(ctx context.Context, orderID int64, amount float64, actorID int64) (*orders.Order, error)
	ApproveCreditOverride(ctx context.Context, orderID int64, actorID int64) (*orders.Order, error)
}

// CustomerDirectory reads customers for credit snapshots.
type CustomerDirectory interface {
	Get(ctx context.Context, id int64) (*customers.Customer, error)
}

// Service implements the approval workflow.
type Service struct {
	store     Store
	orders    OrderWorkflow
	customers CustomerDirectory
	clock     shared.Clock
	notifier  shared.Notifier
	logger    *slog.Logger
}

// NewService constructs the approval service.
func NewService(store Store, orderWorkflow OrderWorkflow, directory CustomerDirectory,
	clock shared.Clock, notifier shared.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		orders:    orderWorkflow,
		customers: directory,
		clock:     clock,
		notifier:  notifier,
		logger:    logger,
	}
}

// RequestDiscount opens a discount approval request, freezing the order's
// totals and the requested amount at request time.
func (s *Service) RequestDiscount(ctx context.Context, orderID int64, amount float64, reason string, actorID int64) (*Request, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: discount amount must be positive", shared.ErrValidation)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	percentage := 0.0
	if order.Subtotal > 0 {
		percentage = shared.Round2(amount / order.Subtotal * 100)
	}
	return s.create(ctx, Request{
		Kind:    KindDiscount,
		OrderID: orderID,
		Snapshot: map[string]any{
			"amount":     amount,
			"percentage": percentage,
			"subtotal":   order.Subtotal,
			"total":      order.Total,
			"reason":     reason,
		},
		RequestedBy: actorID,
	})
}

// RequestCreditOverride opens a credit override request for an order held
// past the customer's available credit.
func (s *Service) RequestCreditOverride(ctx context.Context, orderID int64, reason string, actorID int64) (*Request, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID == nil {
		return nil, fmt.Errorf("%w: walk-in orders have no credit to override", shared.ErrValidation)
	}
	customer, err := s.customers.Get(ctx, *order.CustomerID)
	if err != nil {
		return nil, err
	}
	shortfall := shared.Round2(order.Total - customer.AvailableCredit())
	if shortfall < 0 {
		shortfall = 0
	}
	return s.create(ctx, Request{
		Kind:    KindCreditOverride,
		OrderID: orderID,
		Snapshot: map[string]any{
			"requested_total": order.Total,
			"credit_balance":  customer.CreditBalance,
			"credit_limit":    customer.CreditLimit,
			"shortfall":       shortfall,
			"reason":          reason,
		},
		RequestedBy: actorID,
	})
}

// Approve grants a pending request. Discount requests apply the snapshotted
// amount to the order; credit overrides release the order into the payment
// flow. The order-side effect runs first so a failed effect leaves the
// request pending and retryable.
func (s *Service) Approve(ctx context.Context, requestID int64, note string, actorID int64) (*Request, error) {
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != StatusPending {
		return nil, ErrDecided
	}

	switch request.Kind {
	case KindDiscount:
		amount, ok := snapshotFloat(request.Snapshot, "amount")
		if !ok {
			return nil, fmt.Errorf("%w: request %d has no snapshotted amount", shared.ErrValidation, requestID)
		}
		if _, err := s.orders.ApplyDiscount(ctx, request.OrderID, amount, actorID); err != nil {
			return nil, fmt.Errorf("apply approved discount: %w", err)
		}
	case KindCreditOverride:
		if _, err := s.orders.ApproveCreditOverride(ctx, request.OrderID, actorID); err != nil {
			return nil, fmt.Errorf("apply credit override: %w", err)
		}
	}

	return s.decide(ctx, request, StatusApproved, note, actorID)
}

// Reject declines a pending request. The underlying order is untouched.
func (s *Service) Reject(ctx context.Context, requestID int64, note string, actorID int64) (*Request, error) {
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != StatusPending {
		return nil, ErrDecided
	}
	return s.decide(ctx, request, StatusRejected, note, actorID)
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, id int64) (*Request, error) {
	return s.store.GetRequest(ctx, id)
}

// List returns requests filtered by status and kind.
func (s *Service) List(ctx context.Context, status Status, kind Kind, p shared.Pagination) ([]Request, error) {
	return s.store.ListRequests(ctx, status, kind, p.PerPage, p.Offset())
}

func (s *Service) create(ctx context.Context, req Request) (*Request, error) {
	req.Status = StatusPending
	req.RequestedAt = s.clock.Now()
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		req.ID, err = tx.CreateRequest(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Service) decide(ctx context.Context, request *Request, status Status, note string, actorID int64) (*Request, error) {
	now := s.clock.Now()
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		current, err := tx.GetRequestForUpdate(ctx, request.ID)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return ErrDecided
		}
		return tx.Decide(ctx, request.ID, status, actorID, note, now)
	})
	if err != nil {
		return nil, err
	}
	request.Status = status
	request.DecidedBy = &actorID
	request.DecidedAt = &now
	request.DecisionNote = note

	s.notifyRequester(ctx, request)
	return request, nil
}

func (s *Service) notifyRequester(ctx context.Context, request *Request) {
	verb := "approved"
	if request.Status == StatusRejected {
		verb = "rejected"
	}
	err := s.notifier.Notify(ctx, shared.Notification{
		UserID:  request.RequestedBy,
		Kind:    "approval_decided",
		Title:   "Approval request " + verb,
		Message: fmt.Sprintf("Your %s request for order %d was %s", request.Kind, request.OrderID, verb),
		Data:    map[string]any{"request_id": request.ID, "order_id": request.OrderID},
	})
	if err != nil {
		s.logger.Warn("approval notification failed", slog.Int64("request_id", request.ID), slog.Any("error", err))
	}
}

func snapshotFloat(snapshot map[string]any, key string) (float64, bool) {
	v, ok := snapshot[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}
