package servicejobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type memoryStore struct {
	jobs        map[int64]*Job
	history     []HistoryEntry
	items       map[int64][]ProductionItem
	orderStatus map[int64]string
	nextID      int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		jobs:        map[int64]*Job{},
		items:       map[int64][]ProductionItem{},
		orderStatus: map[int64]string{},
	}
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, m)
}

func (m *memoryStore) GetJob(ctx context.Context, id int64) (*Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memoryStore) GetJobForUpdate(ctx context.Context, id int64) (*Job, error) {
	return m.GetJob(ctx, id)
}

func (m *memoryStore) ListByOrder(ctx context.Context, orderID int64) ([]Job, error) {
	var out []Job
	for id := int64(1); id <= m.nextID; id++ {
		if j, ok := m.jobs[id]; ok && j.OrderID == orderID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memoryStore) ListByOrderForUpdate(ctx context.Context, orderID int64) ([]Job, error) {
	return m.ListByOrder(ctx, orderID)
}

func (m *memoryStore) List(ctx context.Context, status Status, assignedTo *int64, limit, offset int) ([]Job, error) {
	var out []Job
	for _, j := range m.jobs {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (m *memoryStore) ListHistory(ctx context.Context, jobID int64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for _, e := range m.history {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateJob(ctx context.Context, job Job) (int64, error) {
	m.nextID++
	job.ID = m.nextID
	m.jobs[job.ID] = &job
	return job.ID, nil
}

func (m *memoryStore) UpdateJob(ctx context.Context, job *Job) error {
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memoryStore) DeleteJob(ctx context.Context, id int64) error {
	delete(m.jobs, id)
	return nil
}

func (m *memoryStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	m.history = append(m.history, entry)
	return nil
}

func (m *memoryStore) ListProductionItems(ctx context.Context, orderID int64) ([]ProductionItem, error) {
	return m.items[orderID], nil
}

func (m *memoryStore) GetOrderState(ctx context.Context, orderID int64) (string, *time.Time, error) {
	status, ok := m.orderStatus[orderID]
	if !ok {
		return "", nil, ErrNotFound
	}
	return status, nil, nil
}

func (m *memoryStore) CountUnfinishedJobs(ctx context.Context, orderID int64) (int, error) {
	n := 0
	for _, j := range m.jobs {
		if j.OrderID == orderID && !j.Status.Done() {
			n++
		}
	}
	return n, nil
}

type recordingNotifier struct {
	sent []shared.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n shared.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

type stubRoles struct {
	managers []int64
}

func (s stubRoles) ListUsersWithRole(ctx context.Context, role string) ([]int64, error) {
	return s.managers, nil
}

type recordingAdvancer struct {
	calls []int64
}

func (r *recordingAdvancer) JobsCompleted(ctx context.Context, orderID int64) error {
	r.calls = append(r.calls, orderID)
	return nil
}

type fixture struct {
	store    *memoryStore
	notifier *recordingNotifier
	advancer *recordingAdvancer
	svc      *Service
}

func newFixture() *fixture {
	store := newMemoryStore()
	notifier := &recordingNotifier{}
	advancer := &recordingAdvancer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := shared.ClockFunc(func() time.Time { return testNow })
	svc := NewService(store, stubRoles{managers: []int64{21, 22}}, clock, notifier, logger)
	svc.SetOrders(advancer)
	return &fixture{store: store, notifier: notifier, advancer: advancer, svc: svc}
}

func (f *fixture) seedJob(orderID int64, status Status) *Job {
	f.store.nextID++
	job := &Job{ID: f.store.nextID, OrderID: orderID, OrderItemID: f.store.nextID * 10,
		Status: status, Priority: "normal", CreatedAt: testNow}
	f.store.jobs[job.ID] = job
	f.store.orderStatus[orderID] = "IN_PRODUCTION"
	return job
}

func TestCreateForOrderSkipsInventoryItems(t *testing.T) {
	f := newFixture()
	f.store.orderStatus[1] = "IN_PRODUCTION"
	f.store.items[1] = []ProductionItem{
		{ItemID: 10, ProductID: 1, ProductType: "inventory"},
		{ItemID: 11, ProductID: 2, ProductType: "service"},
		{ItemID: 12, ProductID: 3, ProductType: "dimension"},
	}

	jobs, err := f.svc.CreateForOrder(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, StatusPending, jobs[0].Status)
	require.Equal(t, int64(11), jobs[0].OrderItemID)
	require.Equal(t, int64(12), jobs[1].OrderItemID)

	require.Len(t, f.store.history, 2)
	require.Nil(t, f.store.history[0].ActorID)
}

func TestTransitionHappyPath(t *testing.T) {
	f := newFixture()
	job := f.seedJob(1, StatusPending)
	actor := int64(5)

	for _, to := range []Status{StatusAccepted, StatusInProgress, StatusQAReview, StatusCompleted} {
		_, err := f.svc.Transition(context.Background(), job.ID, to, "", &actor)
		require.NoError(t, err, "transition to %s", to)
	}

	got := f.store.jobs[job.ID]
	require.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	// The single job is done, the order was still in production.
	require.Equal(t, []int64{1}, f.advancer.calls)
}

func TestIllegalTransitionRejected(t *testing.T) {
	f := newFixture()
	job := f.seedJob(1, StatusAccepted)

	_, err := f.svc.Transition(context.Background(), job.ID, StatusPending, "", nil)
	require.ErrorIs(t, err, shared.ErrInvariant)

	_, err = f.svc.Transition(context.Background(), job.ID, StatusCompleted, "", nil)
	require.ErrorIs(t, err, shared.ErrInvariant)
}

func TestRejectionStoredAsInProgress(t *testing.T) {
	f := newFixture()
	job := f.seedJob(1, StatusQAReview)

	got, err := f.svc.Transition(context.Background(), job.ID, StatusRejected, "misaligned print", nil)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, got.Status)
	require.Equal(t, 1, got.ReworkCount)
	require.NotNil(t, got.LastRejectionReason)
	require.Equal(t, "misaligned print", *got.LastRejectionReason)

	// History keeps the logical REJECTED label.
	last := f.store.history[len(f.store.history)-1]
	require.Equal(t, StatusRejected, last.To)
	require.Equal(t, StatusQAReview, *last.From)
	require.Empty(t, f.notifier.sent)
}

func TestThirdReworkEscalatesToManagers(t *testing.T) {
	f := newFixture()
	job := f.seedJob(1, StatusQAReview)
	job.ReworkCount = 2

	_, err := f.svc.Transition(context.Background(), job.ID, StatusRejected, "still off", nil)
	require.NoError(t, err)
	require.Len(t, f.notifier.sent, 2)
	require.Equal(t, "job_rework_escalation", f.notifier.sent[0].Kind)
	require.Equal(t, int64(21), f.notifier.sent[0].UserID)
}

func TestAutoAdvanceWaitsForAllJobs(t *testing.T) {
	f := newFixture()
	a := f.seedJob(1, StatusQAReview)
	f.seedJob(1, StatusInProgress)

	_, err := f.svc.Transition(context.Background(), a.ID, StatusCompleted, "", nil)
	require.NoError(t, err)
	require.Empty(t, f.advancer.calls)

	b := f.store.jobs[a.ID+1]
	_, err = f.svc.Transition(context.Background(), b.ID, StatusQAReview, "", nil)
	require.NoError(t, err)
	_, err = f.svc.Transition(context.Background(), b.ID, StatusCompleted, "", nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, f.advancer.calls)
}

func TestNoAdvanceWhenOrderLeftProduction(t *testing.T) {
	f := newFixture()
	job := f.seedJob(1, StatusQAReview)
	f.store.orderStatus[1] = "READY"

	_, err := f.svc.Transition(context.Background(), job.ID, StatusCompleted, "", nil)
	require.NoError(t, err)
	require.Empty(t, f.advancer.calls)
}

func TestAssignForcesAccepted(t *testing.T) {
	f := newFixture()
	job := f.seedJob(1, StatusInProgress)
	actor := int64(5)

	got, err := f.svc.Assign(context.Background(), job.ID, 42, &actor)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, got.Status)
	require.Equal(t, int64(42), *got.AssignedTo)

	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, int64(42), f.notifier.sent[0].UserID)
	require.Equal(t, "job_assigned", f.notifier.sent[0].Kind)
}

func TestAssignRejectsFinishedJob(t *testing.T) {
	f := newFixture()
	job := f.seedJob(1, StatusCompleted)

	_, err := f.svc.Assign(context.Background(), job.ID, 42, nil)
	require.ErrorIs(t, err, shared.ErrInvariant)
}

func TestCancelPendingHardDeletes(t *testing.T) {
	f := newFixture()
	f.seedJob(1, StatusCompleted)
	pending := f.seedJob(1, StatusPending)

	err := f.svc.Cancel(context.Background(), pending.ID, "not needed", nil)
	require.NoError(t, err)
	_, ok := f.store.jobs[pending.ID]
	require.False(t, ok)

	// With the pending job gone, the remaining completed job unblocks the order.
	require.Equal(t, []int64{1}, f.advancer.calls)
}

func TestCancelRejectsStartedJob(t *testing.T) {
	f := newFixture()
	job := f.seedJob(1, StatusInProgress)

	err := f.svc.Cancel(context.Background(), job.ID, "", nil)
	require.ErrorIs(t, err, shared.ErrInvariant)
	_, ok := f.store.jobs[job.ID]
	require.True(t, ok)
}

func TestCancelForOrderForceCancelsUnfinished(t *testing.T) {
	f := newFixture()
	done := f.seedJob(1, StatusCompleted)
	pending := f.seedJob(1, StatusPending)
	working := f.seedJob(1, StatusInProgress)

	err := f.svc.CancelForOrder(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, f.store.jobs[done.ID].Status)
	require.Equal(t, StatusCancelled, f.store.jobs[pending.ID].Status)
	require.Equal(t, StatusCancelled, f.store.jobs[working.ID].Status)
	require.Empty(t, f.advancer.calls)
}
