package orders

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pressroom-erp/pressroom-erp/internal/customers"
	"github.com/pressroom-erp/pressroom-erp/internal/invoices"
	"github.com/pressroom-erp/pressroom-erp/internal/pricing"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type memoryStore struct {
	orders          map[int64]*Order
	items           map[int64][]Item
	history         []HistoryEntry
	payments        []invoices.Payment
	custs           map[int64]*customers.Customer
	invoicesByOrder map[int64]*InvoiceSummary
	unfinishedJobs  map[int64]int
	nextID          int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:          map[int64]*Order{},
		items:           map[int64][]Item{},
		custs:           map[int64]*customers.Customer{},
		invoicesByOrder: map[int64]*InvoiceSummary{},
		unfinishedJobs:  map[int64]int{},
	}
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, m)
}

func (m *memoryStore) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Items = m.items[id]
	return &cp, nil
}

func (m *memoryStore) GetOrderForUpdate(ctx context.Context, id int64) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memoryStore) ListOrders(ctx context.Context, status Status, customerID *int64, limit, offset int) ([]Order, error) {
	var out []Order
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memoryStore) ListHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for _, e := range m.history {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryStore) ListPayments(ctx context.Context, orderID int64) ([]invoices.Payment, error) {
	var out []invoices.Payment
	for _, p := range m.payments {
		if p.OrderID != nil && *p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) ListItems(ctx context.Context, orderID int64) ([]Item, error) {
	return m.items[orderID], nil
}

func (m *memoryStore) CreateOrder(ctx context.Context, o Order) (int64, error) {
	m.nextID++
	o.ID = m.nextID
	o.Items = nil
	m.orders[o.ID] = &o
	return o.ID, nil
}

func (m *memoryStore) CreateItem(ctx context.Context, it Item) (int64, error) {
	it.ID = int64(len(m.items[it.OrderID]) + 1)
	m.items[it.OrderID] = append(m.items[it.OrderID], it)
	return it.ID, nil
}

func (m *memoryStore) UpdateTotals(ctx context.Context, o *Order) error {
	stored := m.orders[o.ID]
	stored.Subtotal = o.Subtotal
	stored.Discount = o.Discount
	stored.Tax = o.Tax
	stored.Total = o.Total
	stored.PaidAmount = o.PaidAmount
	stored.Balance = o.Balance
	stored.Notes = o.Notes
	return nil
}

func (m *memoryStore) UpdateStatus(ctx context.Context, id int64, status Status, now time.Time) error {
	m.orders[id].Status = status
	return nil
}

func (m *memoryStore) AppendHistory(ctx context.Context, e HistoryEntry) error {
	m.history = append(m.history, e)
	return nil
}

func (m *memoryStore) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	return "ORD-2506-0001", nil
}

func (m *memoryStore) NextPaymentNumber(ctx context.Context, now time.Time) (string, error) {
	return "PAY-2506-0001", nil
}

func (m *memoryStore) CreatePayment(ctx context.Context, p invoices.Payment) (int64, error) {
	p.ID = int64(len(m.payments) + 1)
	m.payments = append(m.payments, p)
	return p.ID, nil
}

func (m *memoryStore) GetCustomerForUpdate(ctx context.Context, id int64) (*customers.Customer, error) {
	c, ok := m.custs[id]
	if !ok {
		return nil, customers.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memoryStore) UpdateCustomerCredit(ctx context.Context, id int64, balance float64, now time.Time) error {
	m.custs[id].CreditBalance = balance
	return nil
}

func (m *memoryStore) CountUnfinishedJobs(ctx context.Context, orderID int64) (int, error) {
	return m.unfinishedJobs[orderID], nil
}

func (m *memoryStore) GetInvoiceForOrder(ctx context.Context, orderID int64) (*InvoiceSummary, error) {
	inv, ok := m.invoicesByOrder[orderID]
	if !ok {
		return nil, invoices.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memoryStore) UpdateInvoicePayment(ctx context.Context, id int64, paid, balance float64, status string, now time.Time) error {
	for _, inv := range m.invoicesByOrder {
		if inv.ID == id {
			inv.PaidAmount = paid
			inv.Balance = balance
			inv.Status = status
		}
	}
	return nil
}

type stubPricer struct {
	prices map[int64]float64
}

func (s stubPricer) Calculate(ctx context.Context, q pricing.Query) (pricing.Result, error) {
	unit, ok := s.prices[q.ProductID]
	if !ok {
		unit = 10
	}
	return pricing.Result{UnitPrice: unit, LineTotal: shared.Round2(unit * q.Quantity)}, nil
}

type issuerCall struct {
	orderID int64
	issue   bool
}

type recordingIssuer struct {
	store *memoryStore
	calls []issuerCall
}

func (r *recordingIssuer) CreateFromOrder(ctx context.Context, in invoices.CreateFromOrderInput) (*invoices.Invoice, error) {
	r.calls = append(r.calls, issuerCall{orderID: in.OrderID, issue: in.Issue})
	if r.store != nil {
		r.store.invoicesByOrder[in.OrderID] = &InvoiceSummary{ID: in.OrderID + 100, Status: "ISSUED"}
	}
	return &invoices.Invoice{ID: in.OrderID + 100, OrderID: in.OrderID}, nil
}

type stubRoles struct {
	allowed bool
}

func (s stubRoles) HasAnyRole(ctx context.Context, userID int64, roles ...string) (bool, error) {
	return s.allowed, nil
}

type stubTaxes struct{ rate float64 }

func (s stubTaxes) TaxRate(ctx context.Context) float64 { return s.rate }

type recordingDispatcher struct {
	created   []int64
	cancelled []int64
}

func (r *recordingDispatcher) CreateJobs(ctx context.Context, orderID int64, actorID *int64) error {
	r.created = append(r.created, orderID)
	return nil
}

func (r *recordingDispatcher) CancelJobs(ctx context.Context, orderID int64, actorID *int64) error {
	r.cancelled = append(r.cancelled, orderID)
	return nil
}

type recordingNotifier struct {
	sent []shared.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n shared.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

type fixture struct {
	store      *memoryStore
	issuer     *recordingIssuer
	dispatcher *recordingDispatcher
	notifier   *recordingNotifier
	roles      *stubRoles
	svc        *Service
}

func newFixture() *fixture {
	store := newMemoryStore()
	issuer := &recordingIssuer{store: store}
	dispatcher := &recordingDispatcher{}
	notifier := &recordingNotifier{}
	roles := &stubRoles{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := shared.ClockFunc(func() time.Time { return testNow })
	svc := NewService(store, stubPricer{prices: map[int64]float64{1: 10, 2: 25}}, issuer, roles,
		stubTaxes{rate: 10}, nil, clock, notifier, logger)
	svc.SetJobs(dispatcher)
	return &fixture{store: store, issuer: issuer, dispatcher: dispatcher, notifier: notifier, roles: roles, svc: svc}
}

func (f *fixture) seedCreditCustomer(limit, balance float64) *customers.Customer {
	c := &customers.Customer{ID: 7, Code: "CUST-001", Name: "Harbor Print Co", Type: customers.TypeCredit,
		CreditLimit: limit, CreditBalance: balance, CreditPeriodDays: 45, IsActive: true}
	f.store.custs[c.ID] = c
	return c
}

func (f *fixture) seedOrder(status Status, mutate ...func(*Order)) *Order {
	f.store.nextID++
	o := &Order{ID: f.store.nextID, Number: "ORD-2506-0001", Type: TypeWalkIn, PaymentTerms: TermsImmediate,
		Status: status, Subtotal: 1000, Tax: 100, Total: 1100, Balance: 1100, CreatedBy: 3, CreatedAt: testNow}
	for _, fn := range mutate {
		fn(o)
	}
	f.store.orders[o.ID] = o
	return o
}

func i64(v int64) *int64 { return &v }

func f64(v float64) *float64 { return &v }

func TestCreateComputesTotals(t *testing.T) {
	f := newFixture()

	order, err := f.svc.Create(context.Background(), CreateInput{
		Type:         TypeWalkIn,
		PaymentTerms: TermsImmediate,
		Items: []ItemInput{
			{ProductID: 1, Quantity: 4}, // 40.00
			{ProductID: 2, Quantity: 2}, // 50.00
		},
		ActorID: 3,
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, order.Status)
	require.Equal(t, 90.0, order.Subtotal)
	require.Equal(t, 9.0, order.Tax)
	require.Equal(t, 99.0, order.Total)
	require.Equal(t, 99.0, order.Balance)
	require.Len(t, order.Items, 2)
	require.Equal(t, 10.0, order.Items[0].UnitPrice)

	// Walk-in orders get an issued invoice immediately.
	require.Equal(t, []issuerCall{{orderID: order.ID, issue: true}}, f.issuer.calls)
	require.Len(t, f.store.history, 1)
	require.Equal(t, StatusDraft, f.store.history[0].To)
}

func TestCreateManualPriceDetachesRule(t *testing.T) {
	f := newFixture()

	order, err := f.svc.Create(context.Background(), CreateInput{
		Type:         TypeWalkIn,
		PaymentTerms: TermsImmediate,
		Items: []ItemInput{
			{ProductID: 1, Quantity: 3, UnitPrice: f64(7.5)}, // engine would say 10.00
		},
		ActorID: 3,
	})
	require.NoError(t, err)
	require.Equal(t, 7.5, order.Items[0].UnitPrice)
	require.Equal(t, 22.5, order.Items[0].LineTotal)
	require.Nil(t, order.Items[0].AppliedRuleID)
	require.Equal(t, 22.5, order.Subtotal)
}

func TestCreateCreditInvoiceSkipsImmediateInvoice(t *testing.T) {
	f := newFixture()
	f.seedCreditCustomer(5000, 0)

	order, err := f.svc.Create(context.Background(), CreateInput{
		CustomerID:   i64(7),
		Type:         TypeInvoice,
		PaymentTerms: TermsCredit30,
		Items:        []ItemInput{{ProductID: 1, Quantity: 1}},
		ActorID:      3,
	})
	require.NoError(t, err)
	require.Empty(t, f.issuer.calls)
	require.NotContains(t, order.Notes, RequiresApprovalNote)
}

func TestCreateFlagsInsufficientCredit(t *testing.T) {
	f := newFixture()
	f.seedCreditCustomer(100, 95) // 5.00 available

	order, err := f.svc.Create(context.Background(), CreateInput{
		CustomerID:   i64(7),
		Type:         TypeInvoice,
		PaymentTerms: TermsCredit30,
		Items:        []ItemInput{{ProductID: 2, Quantity: 2}}, // total 55.00
		ActorID:      3,
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, order.Status)
	require.Contains(t, order.Notes, RequiresApprovalNote)
}

func TestCreateImmediateTermsNeverFlagged(t *testing.T) {
	f := newFixture()
	f.seedCreditCustomer(100, 95)

	order, err := f.svc.Create(context.Background(), CreateInput{
		CustomerID:   i64(7),
		Type:         TypeInvoice,
		PaymentTerms: TermsImmediate,
		Items:        []ItemInput{{ProductID: 2, Quantity: 2}},
		ActorID:      3,
	})
	require.NoError(t, err)
	require.NotContains(t, order.Notes, RequiresApprovalNote)
}

func TestCreateRejectsEmptyOrder(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), CreateInput{Type: TypeWalkIn, PaymentTerms: TermsImmediate})
	require.ErrorIs(t, err, ErrNoItems)
}

func TestTransitionIntoProductionSpawnsJobs(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusPaid)

	got, err := f.svc.Transition(context.Background(), order.ID, StatusInProduction, "", 3)
	require.NoError(t, err)
	require.Equal(t, StatusInProduction, got.Status)
	require.Equal(t, []int64{order.ID}, f.dispatcher.created)
}

func TestLeaveProductionRequiresJobsDone(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusInProduction)
	f.store.unfinishedJobs[order.ID] = 1

	_, err := f.svc.Transition(context.Background(), order.ID, StatusReady, "", 3)
	require.ErrorIs(t, err, ErrJobsUnfinished)

	f.store.unfinishedJobs[order.ID] = 0
	got, err := f.svc.Transition(context.Background(), order.ID, StatusReady, "", 3)
	require.NoError(t, err)
	require.Equal(t, StatusReady, got.Status)
	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, "order_ready", f.notifier.sent[0].Kind)
}

func TestReleaseGuards(t *testing.T) {
	f := newFixture()

	// Outstanding balance, no invoice, cash order: rejected.
	order := f.seedOrder(StatusPaid)
	_, err := f.svc.Transition(context.Background(), order.ID, StatusReleased, "", 3)
	require.ErrorIs(t, err, ErrBalanceOutstanding)

	// Same order once an invoice exists: allowed.
	f.store.invoicesByOrder[order.ID] = &InvoiceSummary{ID: 900, Total: 1100, Balance: 1100, Status: "ISSUED"}
	got, err := f.svc.Transition(context.Background(), order.ID, StatusReleased, "", 3)
	require.NoError(t, err)
	require.Equal(t, StatusReleased, got.Status)
	// The existing invoice suppresses draft invoice creation.
	require.Empty(t, f.issuer.calls)

	// Settled balance releases without an invoice and creates a draft one.
	settled := f.seedOrder(StatusPaid, func(o *Order) { o.PaidAmount = 1100; o.Balance = 0 })
	_, err = f.svc.Transition(context.Background(), settled.ID, StatusReleased, "", 3)
	require.NoError(t, err)
	require.Equal(t, []issuerCall{{orderID: settled.ID, issue: false}}, f.issuer.calls)
}

func TestCreditInvoiceOrderReleasesWithBalance(t *testing.T) {
	f := newFixture()
	f.seedCreditCustomer(5000, 0)
	order := f.seedOrder(StatusReady, func(o *Order) {
		o.Type = TypeInvoice
		o.CustomerID = i64(7)
		o.PaymentTerms = TermsCredit30
	})

	got, err := f.svc.Transition(context.Background(), order.ID, StatusReleased, "", 3)
	require.NoError(t, err)
	require.Equal(t, StatusReleased, got.Status)
}

func TestTransitionEnteringPaidCreatesIssuedInvoice(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusDraft)

	_, err := f.svc.Transition(context.Background(), order.ID, StatusPaid, "counter sale", 3)
	require.NoError(t, err)
	require.Equal(t, []issuerCall{{orderID: order.ID, issue: true}}, f.issuer.calls)
}

func TestReadyToCompletedRejected(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusReady)

	_, err := f.svc.Transition(context.Background(), order.ID, StatusCompleted, "", 3)
	require.ErrorIs(t, err, shared.ErrInvariant)
}

func TestCreditInvoiceDraftSkipsPayment(t *testing.T) {
	f := newFixture()
	f.seedCreditCustomer(5000, 0)
	order := f.seedOrder(StatusDraft, func(o *Order) {
		o.Type = TypeInvoice
		o.CustomerID = i64(7)
	})

	_, err := f.svc.Transition(context.Background(), order.ID, StatusPendingPayment, "", 3)
	require.ErrorIs(t, err, shared.ErrInvariant)

	got, err := f.svc.Transition(context.Background(), order.ID, StatusInProduction, "", 3)
	require.NoError(t, err)
	require.Equal(t, StatusInProduction, got.Status)
}

func TestDiscountAboveThresholdNeedsManager(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusDraft)

	// 20% of a 1000.00 subtotal.
	_, err := f.svc.ApplyDiscount(context.Background(), order.ID, 200, 4)
	require.ErrorIs(t, err, ErrDiscountForbidden)

	f.roles.allowed = true
	got, err := f.svc.ApplyDiscount(context.Background(), order.ID, 200, 4)
	require.NoError(t, err)
	require.Equal(t, 200.0, got.Discount)
	require.Equal(t, 80.0, got.Tax)
	require.Equal(t, 880.0, got.Total)
	require.Equal(t, 880.0, got.Balance)
}

func TestSmallDiscountNeedsNoRole(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusDraft)

	got, err := f.svc.ApplyDiscount(context.Background(), order.ID, 100, 4)
	require.NoError(t, err)
	require.Equal(t, 990.0, got.Total)
}

func TestRecordPaymentFullyPaysPendingOrder(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusPendingPayment)
	f.store.invoicesByOrder[order.ID] = &InvoiceSummary{ID: 900, Total: 1100, Balance: 1100, Status: "ISSUED"}

	p, err := f.svc.RecordPayment(context.Background(), order.ID, RecordPaymentInput{
		Amount: 1100, Method: invoices.MethodBankTransfer, ActorID: 3,
	})
	require.NoError(t, err)
	require.Equal(t, int64(900), *p.InvoiceID)

	stored := f.store.orders[order.ID]
	require.Equal(t, StatusPaid, stored.Status)
	require.Equal(t, 0.0, stored.Balance)

	inv := f.store.invoicesByOrder[order.ID]
	require.Equal(t, "PAID", inv.Status)
	require.Equal(t, 0.0, inv.Balance)
}

func TestRecordPaymentPartialKeepsPending(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusPendingPayment)

	_, err := f.svc.RecordPayment(context.Background(), order.ID, RecordPaymentInput{
		Amount: 100, Method: invoices.MethodCash, ActorID: 3,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingPayment, f.store.orders[order.ID].Status)
	require.Equal(t, 1000.0, f.store.orders[order.ID].Balance)
}

func TestRecordPaymentOnDraftAdvancesAndInvoices(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusDraft)

	_, err := f.svc.RecordPayment(context.Background(), order.ID, RecordPaymentInput{
		Amount: 50, Method: invoices.MethodCash, ActorID: 3,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, f.store.orders[order.ID].Status)
	require.Equal(t, []issuerCall{{orderID: order.ID, issue: true}}, f.issuer.calls)
}

func TestReadyOrderNeverAutoReleasedByPayment(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusReady)

	_, err := f.svc.RecordPayment(context.Background(), order.ID, RecordPaymentInput{
		Amount: 1100, Method: invoices.MethodCard, ActorID: 3,
	})
	require.NoError(t, err)
	require.Equal(t, StatusReady, f.store.orders[order.ID].Status)
	require.Equal(t, 0.0, f.store.orders[order.ID].Balance)
}

func TestRecordPaymentDecrementsCreditWithFloor(t *testing.T) {
	f := newFixture()
	f.seedCreditCustomer(5000, 30)
	order := f.seedOrder(StatusPendingPayment, func(o *Order) { o.CustomerID = i64(7) })

	_, err := f.svc.RecordPayment(context.Background(), order.ID, RecordPaymentInput{
		Amount: 100, Method: invoices.MethodCredit, ActorID: 3,
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, f.store.custs[7].CreditBalance)
}

func TestCancelOnlyFromEarlyStates(t *testing.T) {
	f := newFixture()
	inProd := f.seedOrder(StatusInProduction)
	require.ErrorIs(t, f.svc.Cancel(context.Background(), inProd.ID, "", 3), ErrCancelForbidden)

	paid := f.seedOrder(StatusPaid)
	require.NoError(t, f.svc.Cancel(context.Background(), paid.ID, "customer backed out", 3))
	require.Equal(t, StatusCancelled, f.store.orders[paid.ID].Status)
	require.Equal(t, []int64{paid.ID}, f.dispatcher.cancelled)
}

func TestJobsCompletedAdvancesOnce(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusInProduction)
	f.store.unfinishedJobs[order.ID] = 0

	require.NoError(t, f.svc.JobsCompleted(context.Background(), order.ID))
	require.Equal(t, StatusReady, f.store.orders[order.ID].Status)
	require.Len(t, f.notifier.sent, 1)
	historyLen := len(f.store.history)

	// Second call is a no-op.
	require.NoError(t, f.svc.JobsCompleted(context.Background(), order.ID))
	require.Equal(t, StatusReady, f.store.orders[order.ID].Status)
	require.Len(t, f.store.history, historyLen)
	require.Len(t, f.notifier.sent, 1)
}

func TestJobsCompletedIgnoresUnfinishedJobs(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusInProduction)
	f.store.unfinishedJobs[order.ID] = 2

	require.NoError(t, f.svc.JobsCompleted(context.Background(), order.ID))
	require.Equal(t, StatusInProduction, f.store.orders[order.ID].Status)
}

func TestApproveCreditOverride(t *testing.T) {
	f := newFixture()
	order := f.seedOrder(StatusDraft, func(o *Order) { o.Notes = RequiresApprovalNote })

	got, err := f.svc.ApproveCreditOverride(context.Background(), order.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusPendingPayment, got.Status)
	require.Equal(t, []issuerCall{{orderID: order.ID, issue: true}}, f.issuer.calls)

	_, err = f.svc.ApproveCreditOverride(context.Background(), order.ID, 9)
	require.ErrorIs(t, err, shared.ErrInvariant)
}

func TestTotalsReconcileAfterEveryMutation(t *testing.T) {
	f := newFixture()
	order, err := f.svc.Create(context.Background(), CreateInput{
		Type:         TypeWalkIn,
		PaymentTerms: TermsImmediate,
		Items:        []ItemInput{{ProductID: 1, Quantity: 3}},
		ActorID:      3,
	})
	require.NoError(t, err)

	check := func(o *Order) {
		require.InDelta(t, o.Subtotal-o.Discount+o.Tax, o.Total, 0.001)
		require.InDelta(t, o.Total-o.PaidAmount, o.Balance, 0.001)
	}
	check(order)

	discounted, err := f.svc.ApplyDiscount(context.Background(), order.ID, 3, 4)
	require.NoError(t, err)
	check(discounted)

	_, err = f.svc.RecordPayment(context.Background(), order.ID, RecordPaymentInput{
		Amount: 10, Method: invoices.MethodCash, ActorID: 3,
	})
	require.NoError(t, err)
	check(f.store.orders[order.ID])
}
