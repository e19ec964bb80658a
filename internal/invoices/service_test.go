package invoices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pressroom-erp/pressroom-erp/internal/customers"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type statusChange struct {
	orderID  int64
	from, to string
	note     string
}

type memoryStore struct {
	invoices  map[int64]*Invoice
	payments  []Payment
	orders    map[int64]*OrderSummary
	items     map[int64][]OrderItemView
	customers map[int64]*customers.Customer
	history   []statusChange
	nextID    int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		invoices:  map[int64]*Invoice{},
		orders:    map[int64]*OrderSummary{},
		items:     map[int64][]OrderItemView{},
		customers: map[int64]*customers.Customer{},
	}
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, m)
}

func (m *memoryStore) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memoryStore) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *memoryStore) GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	for _, inv := range m.invoices {
		if inv.OrderID == orderID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryStore) ListInvoices(ctx context.Context, status Status, limit, offset int) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range m.invoices {
		if status == "" || inv.Status == status {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memoryStore) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range m.payments {
		if p.InvoiceID != nil && *p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	n := 0
	for _, inv := range m.invoices {
		if (inv.Status == StatusIssued || inv.Status == StatusPartial) && inv.DueDate.Before(now) {
			inv.Status = StatusOverdue
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	m.nextID++
	inv.ID = m.nextID
	m.invoices[inv.ID] = &inv
	return inv.ID, nil
}

func (m *memoryStore) UpdateInvoiceAmounts(ctx context.Context, inv *Invoice) error {
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *memoryStore) UpdateInvoiceStatus(ctx context.Context, id int64, status Status, issueDate *time.Time, now time.Time) error {
	inv, ok := m.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = status
	if issueDate != nil {
		inv.IssueDate = issueDate
	}
	return nil
}

func (m *memoryStore) NextInvoiceNumber(ctx context.Context, now time.Time) (string, error) {
	return fmt.Sprintf("INV-%s-%04d", now.Format("0601"), len(m.invoices)+1), nil
}

func (m *memoryStore) NextPaymentNumber(ctx context.Context, now time.Time) (string, error) {
	return fmt.Sprintf("PAY-%s-%04d", now.Format("0601"), len(m.payments)+1), nil
}

func (m *memoryStore) CreatePayment(ctx context.Context, p Payment) (int64, error) {
	p.ID = int64(len(m.payments) + 1)
	m.payments = append(m.payments, p)
	return p.ID, nil
}

func (m *memoryStore) GetOrderForUpdate(ctx context.Context, orderID int64) (*OrderSummary, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memoryStore) ListOrderItems(ctx context.Context, orderID int64) ([]OrderItemView, error) {
	return m.items[orderID], nil
}

func (m *memoryStore) UpdateOrderPayment(ctx context.Context, orderID int64, paid, balance float64, now time.Time) error {
	o := m.orders[orderID]
	o.PaidAmount = paid
	o.Balance = balance
	return nil
}

func (m *memoryStore) UpdateOrderStatus(ctx context.Context, orderID int64, status, note string, actorID int64, now time.Time) error {
	o := m.orders[orderID]
	m.history = append(m.history, statusChange{orderID: orderID, from: o.Status, to: status, note: note})
	o.Status = status
	return nil
}

func (m *memoryStore) GetCustomerForUpdate(ctx context.Context, id int64) (*customers.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, customers.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memoryStore) UpdateCustomerCredit(ctx context.Context, id int64, balance float64, now time.Time) error {
	m.customers[id].CreditBalance = balance
	return nil
}

type stubTaxes struct{ rate float64 }

func (s stubTaxes) TaxRate(ctx context.Context) float64 { return s.rate }

func newTestService(store *memoryStore) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := shared.ClockFunc(func() time.Time { return testNow })
	return NewService(store, stubTaxes{rate: 10}, nil, clock, shared.NopNotifier{}, logger)
}

func i64(v int64) *int64 { return &v }

func seedOrder(store *memoryStore, customerID *int64, status string) *OrderSummary {
	o := &OrderSummary{
		ID:         1,
		CustomerID: customerID,
		Type:       "invoice",
		Status:     status,
		Subtotal:   200,
		Discount:   20,
		Tax:        18,
		Total:      198,
		Balance:    198,
	}
	store.orders[o.ID] = o
	store.items[o.ID] = []OrderItemView{
		{ID: 10, ProductID: 1, Quantity: 10, UnitPrice: 10, LineTotal: 100},
		{ID: 11, ProductID: 2, Quantity: 10, UnitPrice: 10, LineTotal: 100},
	}
	return o
}

func seedCreditCustomer(store *memoryStore) *customers.Customer {
	c := &customers.Customer{
		ID:               7,
		Code:             "CUST-001",
		Name:             "Harbor Print Co",
		Type:             customers.TypeCredit,
		CreditLimit:      5000,
		CreditBalance:    100,
		CreditPeriodDays: 45,
		IsActive:         true,
	}
	store.customers[c.ID] = c
	return c
}

func TestCreateFromOrderDraft(t *testing.T) {
	store := newMemoryStore()
	seedCreditCustomer(store)
	seedOrder(store, i64(7), "PAID")
	svc := newTestService(store)

	inv, err := svc.CreateFromOrder(context.Background(), CreateFromOrderInput{OrderID: 1, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, inv.Status)
	require.Nil(t, inv.IssueDate)
	require.Equal(t, 200.0, inv.Subtotal)
	require.Equal(t, 198.0, inv.Total)
	require.Equal(t, testNow.AddDate(0, 0, 45), inv.DueDate)
	// Draft creation defers the credit charge until approval.
	require.Equal(t, 100.0, store.customers[7].CreditBalance)
}

func TestCreateFromOrderIssuedChargesCredit(t *testing.T) {
	store := newMemoryStore()
	seedCreditCustomer(store)
	seedOrder(store, i64(7), "PAID")
	svc := newTestService(store)

	inv, err := svc.CreateFromOrder(context.Background(), CreateFromOrderInput{OrderID: 1, Issue: true, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, StatusIssued, inv.Status)
	require.NotNil(t, inv.IssueDate)
	require.Equal(t, 298.0, store.customers[7].CreditBalance)
}

func TestCreateFromOrderDefaultDueDate(t *testing.T) {
	store := newMemoryStore()
	seedOrder(store, nil, "PAID")
	svc := newTestService(store)

	inv, err := svc.CreateFromOrder(context.Background(), CreateFromOrderInput{OrderID: 1, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, testNow.AddDate(0, 0, 30), inv.DueDate)
}

func TestCreateFromOrderExcludesCancelledJobs(t *testing.T) {
	store := newMemoryStore()
	seedOrder(store, nil, "PAID")
	store.items[1][1].JobCancelled = true
	svc := newTestService(store)

	inv, err := svc.CreateFromOrder(context.Background(), CreateFromOrderInput{OrderID: 1, ActorID: 3})
	require.NoError(t, err)
	// Only the surviving 100.00 line is billed: tax (100-20)*10% = 8.
	require.Equal(t, 100.0, inv.Subtotal)
	require.Equal(t, 8.0, inv.Tax)
	require.Equal(t, 88.0, inv.Total)
}

func TestCreateFromOrderDuplicateCarriesExisting(t *testing.T) {
	store := newMemoryStore()
	seedOrder(store, nil, "PAID")
	svc := newTestService(store)

	first, err := svc.CreateFromOrder(context.Background(), CreateFromOrderInput{OrderID: 1, ActorID: 3})
	require.NoError(t, err)

	_, err = svc.CreateFromOrder(context.Background(), CreateFromOrderInput{OrderID: 1, ActorID: 3})
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, first.ID, dup.Existing.ID)
	require.ErrorIs(t, err, shared.ErrInvariant)
}

func seedIssuedInvoice(store *memoryStore, customerID *int64, orderStatus string) *Invoice {
	seedOrder(store, customerID, orderStatus)
	issued := testNow.AddDate(0, 0, -5)
	inv := &Invoice{
		ID: 1, Number: "INV-2506-0001", OrderID: 1, CustomerID: customerID,
		Status: StatusIssued, Subtotal: 200, Discount: 20, Tax: 18, Total: 198,
		Balance: 198, IssueDate: &issued, DueDate: testNow.AddDate(0, 0, 25),
	}
	store.invoices[1] = inv
	store.nextID = 1
	return inv
}

func TestRecordPaymentFullSettlesInvoiceAndOrder(t *testing.T) {
	store := newMemoryStore()
	seedCreditCustomer(store)
	store.customers[7].CreditBalance = 198
	seedIssuedInvoice(store, i64(7), "PENDING_PAYMENT")
	svc := newTestService(store)

	p, err := svc.RecordPayment(context.Background(), 1, RecordPaymentInput{Amount: 198, Method: MethodBankTransfer, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, 198.0, p.Amount)

	inv := store.invoices[1]
	require.Equal(t, StatusPaid, inv.Status)
	require.Equal(t, 0.0, inv.Balance)

	order := store.orders[1]
	require.Equal(t, "PAID", order.Status)
	require.Equal(t, 0.0, order.Balance)
	require.Len(t, store.history, 1)
	require.Equal(t, "PENDING_PAYMENT", store.history[0].from)

	require.Equal(t, 0.0, store.customers[7].CreditBalance)
}

func TestRecordPaymentPartialKeepsOrderPending(t *testing.T) {
	store := newMemoryStore()
	seedIssuedInvoice(store, nil, "PENDING_PAYMENT")
	svc := newTestService(store)

	_, err := svc.RecordPayment(context.Background(), 1, RecordPaymentInput{Amount: 50, Method: MethodCash, ActorID: 3})
	require.NoError(t, err)

	require.Equal(t, StatusPartial, store.invoices[1].Status)
	require.Equal(t, 148.0, store.invoices[1].Balance)
	require.Equal(t, "PENDING_PAYMENT", store.orders[1].Status)
	require.Empty(t, store.history)
}

func TestRecordPaymentOnDraftOrderAdvancesToPaid(t *testing.T) {
	store := newMemoryStore()
	seedIssuedInvoice(store, nil, "DRAFT")
	svc := newTestService(store)

	_, err := svc.RecordPayment(context.Background(), 1, RecordPaymentInput{Amount: 10, Method: MethodCash, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, "PAID", store.orders[1].Status)
}

func TestRecordPaymentCreditFloorsAtZero(t *testing.T) {
	store := newMemoryStore()
	seedCreditCustomer(store)
	store.customers[7].CreditBalance = 50
	seedIssuedInvoice(store, i64(7), "PENDING_PAYMENT")
	svc := newTestService(store)

	_, err := svc.RecordPayment(context.Background(), 1, RecordPaymentInput{Amount: 198, Method: MethodCard, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, 0.0, store.customers[7].CreditBalance)
}

func TestRecordPaymentRejectsBadInput(t *testing.T) {
	svc := newTestService(newMemoryStore())

	_, err := svc.RecordPayment(context.Background(), 1, RecordPaymentInput{Amount: 0, Method: MethodCash})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordPayment(context.Background(), 1, RecordPaymentInput{Amount: 10, Method: "barter"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateDraftWithItemOverrides(t *testing.T) {
	store := newMemoryStore()
	inv := seedIssuedInvoice(store, nil, "PAID")
	inv.Status = StatusDraft
	svc := newTestService(store)

	// Item 10 repriced to 8.00 with a 10% line discount: 8*10 = 80, -10% = 72.
	// Item 11 keeps its original 100.00 line. Subtotal 172, tax (172-20)*10% = 15.20.
	updated, err := svc.UpdateDraft(context.Background(), 1, UpdateDraftInput{
		ItemOverrides: map[int64]ItemOverride{
			10: {UnitPrice: 8, DiscountType: "percentage", DiscountValue: 10},
		},
		ActorID: 3,
	})
	require.NoError(t, err)
	require.Equal(t, 172.0, updated.Subtotal)
	require.Equal(t, 15.2, updated.Tax)
	require.Equal(t, 167.2, updated.Total)
	require.Equal(t, 167.2, updated.Balance)
}

func TestUpdateDraftDirectAmounts(t *testing.T) {
	store := newMemoryStore()
	inv := seedIssuedInvoice(store, nil, "PAID")
	inv.Status = StatusDraft
	svc := newTestService(store)

	sub, disc, tax := 150.0, 10.0, 14.0
	updated, err := svc.UpdateDraft(context.Background(), 1, UpdateDraftInput{
		Subtotal: &sub, Discount: &disc, Tax: &tax, ActorID: 3,
	})
	require.NoError(t, err)
	require.Equal(t, 154.0, updated.Total)
}

func TestUpdateDraftRejectsIssuedInvoice(t *testing.T) {
	store := newMemoryStore()
	seedIssuedInvoice(store, nil, "PAID")
	svc := newTestService(store)

	sub := 1.0
	_, err := svc.UpdateDraft(context.Background(), 1, UpdateDraftInput{Subtotal: &sub})
	require.ErrorIs(t, err, ErrNotDraft)
}

func TestApproveDraftIssuesAndChargesCredit(t *testing.T) {
	store := newMemoryStore()
	seedCreditCustomer(store)
	inv := seedIssuedInvoice(store, i64(7), "PAID")
	inv.Status = StatusDraft
	inv.IssueDate = nil
	svc := newTestService(store)

	approved, err := svc.ApproveDraft(context.Background(), 1, 3)
	require.NoError(t, err)
	require.Equal(t, StatusIssued, approved.Status)
	require.NotNil(t, approved.IssueDate)
	require.Equal(t, 298.0, store.customers[7].CreditBalance)

	_, err = svc.ApproveDraft(context.Background(), 1, 3)
	require.ErrorIs(t, err, ErrNotDraft)
}

func TestCheckOverdueSkipsDraftsAndPaid(t *testing.T) {
	store := newMemoryStore()
	past := testNow.AddDate(0, 0, -1)
	store.invoices[1] = &Invoice{ID: 1, OrderID: 1, Status: StatusIssued, DueDate: past}
	store.invoices[2] = &Invoice{ID: 2, OrderID: 2, Status: StatusDraft, DueDate: past}
	store.invoices[3] = &Invoice{ID: 3, OrderID: 3, Status: StatusPaid, DueDate: past}
	store.invoices[4] = &Invoice{ID: 4, OrderID: 4, Status: StatusPartial, DueDate: past}
	svc := newTestService(store)

	n, err := svc.CheckOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, StatusOverdue, store.invoices[1].Status)
	require.Equal(t, StatusDraft, store.invoices[2].Status)
	require.Equal(t, StatusPaid, store.invoices[3].Status)
}

func TestRecordPaymentUnknownInvoice(t *testing.T) {
	svc := newTestService(newMemoryStore())
	_, err := svc.RecordPayment(context.Background(), 99, RecordPaymentInput{Amount: 10, Method: MethodCash})
	require.True(t, errors.Is(err, shared.ErrNotFound))
}
