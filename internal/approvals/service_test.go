package approvals

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pressroom-erp/pressroom-erp/internal/customers"
	"github.com/pressroom-erp/pressroom-erp/internal/orders"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type memoryStore struct {
	requests map[int64]*Request
	nextID   int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{requests: map[int64]*Request{}}
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, m)
}

func (m *memoryStore) GetRequest(ctx context.Context, id int64) (*Request, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *memoryStore) ListRequests(ctx context.Context, status Status, kind Kind, limit, offset int) ([]Request, error) {
	var out []Request
	for _, req := range m.requests {
		if (status == "" || req.Status == status) && (kind == "" || req.Kind == kind) {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (m *memoryStore) GetRequestForUpdate(ctx context.Context, id int64) (*Request, error) {
	return m.GetRequest(ctx, id)
}

func (m *memoryStore) CreateRequest(ctx context.Context, req Request) (int64, error) {
	m.nextID++
	req.ID = m.nextID
	m.requests[req.ID] = &req
	return req.ID, nil
}

func (m *memoryStore) Decide(ctx context.Context, id int64, status Status, decidedBy int64, note string, now time.Time) error {
	req := m.requests[id]
	req.Status = status
	req.DecidedBy = &decidedBy
	req.DecidedAt = &now
	req.DecisionNote = note
	return nil
}

type fakeOrderWorkflow struct {
	orders          map[int64]*orders.Order
	discounts       []float64
	creditOverrides []int64
	fail            error
}

func (f *fakeOrderWorkflow) Get(ctx context.Context, id int64) (*orders.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderWorkflow) ApplyDiscount(ctx context.Context, orderID int64, amount float64, actorID int64) (*orders.Order, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.discounts = append(f.discounts, amount)
	return f.orders[orderID], nil
}

func (f *fakeOrderWorkflow) ApproveCreditOverride(ctx context.Context, orderID int64, actorID int64) (*orders.Order, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.creditOverrides = append(f.creditOverrides, orderID)
	return f.orders[orderID], nil
}

type stubCustomers struct {
	customer *customers.Customer
}

func (s stubCustomers) Get(ctx context.Context, id int64) (*customers.Customer, error) {
	if s.customer == nil || s.customer.ID != id {
		return nil, customers.ErrNotFound
	}
	cp := *s.customer
	return &cp, nil
}

type recordingNotifier struct {
	sent []shared.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n shared.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

type fixture struct {
	store    *memoryStore
	workflow *fakeOrderWorkflow
	notifier *recordingNotifier
	svc      *Service
}

func newFixture(customer *customers.Customer) *fixture {
	store := newMemoryStore()
	workflow := &fakeOrderWorkflow{orders: map[int64]*orders.Order{}}
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := shared.ClockFunc(func() time.Time { return testNow })
	svc := NewService(store, workflow, stubCustomers{customer: customer}, clock, notifier, logger)
	return &fixture{store: store, workflow: workflow, notifier: notifier, svc: svc}
}

func i64(v int64) *int64 { return &v }

func TestRequestDiscountSnapshotsOrder(t *testing.T) {
	f := newFixture(nil)
	f.workflow.orders[1] = &orders.Order{ID: 1, Subtotal: 1000, Total: 1100}

	req, err := f.svc.RequestDiscount(context.Background(), 1, 200, "repeat customer", 4)
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)
	require.Equal(t, KindDiscount, req.Kind)
	require.Equal(t, 200.0, req.Snapshot["amount"])
	require.Equal(t, 20.0, req.Snapshot["percentage"])
	require.Equal(t, 1000.0, req.Snapshot["subtotal"])
	require.Equal(t, "repeat customer", req.Snapshot["reason"])
}

func TestRequestCreditOverrideSnapshotsShortfall(t *testing.T) {
	f := newFixture(&customers.Customer{ID: 7, Type: customers.TypeCredit, CreditLimit: 500, CreditBalance: 450})
	f.workflow.orders[1] = &orders.Order{ID: 1, CustomerID: i64(7), Total: 300}

	req, err := f.svc.RequestCreditOverride(context.Background(), 1, "trusted account", 4)
	require.NoError(t, err)
	require.Equal(t, KindCreditOverride, req.Kind)
	require.Equal(t, 300.0, req.Snapshot["requested_total"])
	require.Equal(t, 450.0, req.Snapshot["credit_balance"])
	require.Equal(t, 500.0, req.Snapshot["credit_limit"])
	// 300 requested against 50 available.
	require.Equal(t, 250.0, req.Snapshot["shortfall"])
}

func TestRequestCreditOverrideRejectsWalkIn(t *testing.T) {
	f := newFixture(nil)
	f.workflow.orders[1] = &orders.Order{ID: 1, Total: 300}

	_, err := f.svc.RequestCreditOverride(context.Background(), 1, "", 4)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApproveDiscountAppliesSnapshotAmount(t *testing.T) {
	f := newFixture(nil)
	f.workflow.orders[1] = &orders.Order{ID: 1, Subtotal: 1000, Total: 1100}
	req, err := f.svc.RequestDiscount(context.Background(), 1, 200, "", 4)
	require.NoError(t, err)

	decided, err := f.svc.Approve(context.Background(), req.ID, "ok", 9)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, decided.Status)
	require.Equal(t, int64(9), *decided.DecidedBy)
	require.Equal(t, []float64{200}, f.workflow.discounts)

	// Requester hears about the decision.
	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, int64(4), f.notifier.sent[0].UserID)

	// A decided request cannot be decided again.
	_, err = f.svc.Approve(context.Background(), req.ID, "", 9)
	require.ErrorIs(t, err, ErrDecided)
}

func TestApproveCreditOverrideReleasesOrder(t *testing.T) {
	f := newFixture(&customers.Customer{ID: 7, Type: customers.TypeCredit, CreditLimit: 500})
	f.workflow.orders[1] = &orders.Order{ID: 1, CustomerID: i64(7), Total: 800}
	req, err := f.svc.RequestCreditOverride(context.Background(), 1, "", 4)
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), req.ID, "", 9)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, f.workflow.creditOverrides)
}

func TestFailedSideEffectLeavesRequestPending(t *testing.T) {
	f := newFixture(nil)
	f.workflow.orders[1] = &orders.Order{ID: 1, Subtotal: 1000}
	req, err := f.svc.RequestDiscount(context.Background(), 1, 200, "", 4)
	require.NoError(t, err)

	f.workflow.fail = orders.ErrDiscountForbidden
	_, err = f.svc.Approve(context.Background(), req.ID, "", 9)
	require.Error(t, err)
	require.Equal(t, StatusPending, f.store.requests[req.ID].Status)

	f.workflow.fail = nil
	_, err = f.svc.Approve(context.Background(), req.ID, "", 9)
	require.NoError(t, err)
}

func TestRejectHasNoSideEffects(t *testing.T) {
	f := newFixture(nil)
	f.workflow.orders[1] = &orders.Order{ID: 1, Subtotal: 1000}
	req, err := f.svc.RequestDiscount(context.Background(), 1, 300, "", 4)
	require.NoError(t, err)

	decided, err := f.svc.Reject(context.Background(), req.ID, "too steep", 9)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, decided.Status)
	require.Equal(t, "too steep", decided.DecisionNote)
	require.Empty(t, f.workflow.discounts)
	require.Empty(t, f.workflow.creditOverrides)
}
