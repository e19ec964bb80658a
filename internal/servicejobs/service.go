package servicejobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressroom-erp/pressroom-erp/internal/products"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// Store is the persistence surface the job workflow consumes.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetJob(ctx context.Context, id int64) (*Job, error)
	ListByOrder(ctx context.Context, orderID int64) ([]Job, error)
	List(ctx context.Context, status Status, assignedTo *int64, limit, offset int) ([]Job, error)
	ListHistory(ctx context.Context, jobID int64) ([]HistoryEntry, error)
}

// RoleDirectory resolves users holding a role, used for rework escalation.
type RoleDirectory interface {
	ListUsersWithRole(ctx context.Context, role string) ([]int64, error)
}

// OrderAdvancer is implemented by the order workflow. JobsCompleted is called
// once every job for an order is done while the order is still in production.
type OrderAdvancer interface {
	JobsCompleted(ctx context.Context, orderID int64) error
}

// Service implements the production job workflow.
type Service struct {
	store    Store
	roles    RoleDirectory
	clock    shared.Clock
	notifier shared.Notifier
	logger   *slog.Logger
	orders   OrderAdvancer
}

// NewService constructs a job service. The order workflow is attached later
// via SetOrders to break the construction cycle between the two packages.
func NewService(store Store, roles RoleDirectory, clock shared.Clock, notifier shared.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		roles:    roles,
		clock:    clock,
		notifier: notifier,
		logger:   logger,
	}
}

// SetOrders attaches the order workflow used for auto-advancing orders.
func (s *Service) SetOrders(o OrderAdvancer) { s.orders = o }

// CreateForOrder creates one PENDING job per order item whose product
// requires production. Inventory items get no job. ActorID is nil when the
// jobs are spawned by the order entering production.
func (s *Service) CreateForOrder(ctx context.Context, orderID int64, actorID *int64) ([]Job, error) {
	now := s.clock.Now()
	var created []Job
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		_, dueDate, err := tx.GetOrderState(ctx, orderID)
		if err != nil {
			return err
		}
		items, err := tx.ListProductionItems(ctx, orderID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if !products.Type(it.ProductType).RequiresProduction() {
				continue
			}
			job := Job{
				OrderID:     orderID,
				OrderItemID: it.ItemID,
				Status:      StatusPending,
				Priority:    "normal",
				DueDate:     dueDate,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			job.ID, err = tx.CreateJob(ctx, job)
			if err != nil {
				return fmt.Errorf("create job for item %d: %w", it.ItemID, err)
			}
			if err := tx.AppendHistory(ctx, HistoryEntry{
				JobID: job.ID, To: StatusPending, ActorID: actorID, At: now,
			}); err != nil {
				return err
			}
			created = append(created, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Transition moves a job through its state machine. A move to REJECTED is
// recorded in history but stored as IN_PROGRESS with rework_count bumped and
// the reason kept on the job; past the escalation threshold, managers are
// notified. Reaching COMPLETED or CANCELLED re-evaluates the parent order.
func (s *Service) Transition(ctx context.Context, jobID int64, to Status, reason string, actorID *int64) (*Job, error) {
	if !to.IsValid() {
		return nil, ErrInvalidStatus
	}
	now := s.clock.Now()
	var (
		job          *Job
		escalate     bool
		advanceOrder int64
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		job, err = tx.GetJobForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if !job.Status.CanTransition(to) {
			return &InvalidTransitionError{From: job.Status, To: to}
		}
		from := job.Status

		stored := to
		if to == StatusRejected {
			stored = StatusInProgress
			job.ReworkCount++
			r := reason
			job.LastRejectionReason = &r
			if job.ReworkCount > ReworkEscalationThreshold {
				escalate = true
			}
		}
		switch stored {
		case StatusInProgress:
			if job.StartedAt == nil {
				job.StartedAt = &now
			}
		case StatusCompleted:
			job.CompletedAt = &now
		case StatusDelivered:
			job.DeliveredAt = &now
		}
		job.Status = stored
		job.UpdatedAt = now
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		entry := HistoryEntry{JobID: job.ID, From: &from, To: to, ActorID: actorID, At: now}
		if reason != "" {
			entry.Reason = &reason
		}
		if err := tx.AppendHistory(ctx, entry); err != nil {
			return err
		}

		if stored.Done() {
			id, err := s.orderReadyForAdvance(ctx, tx, job.OrderID)
			if err != nil {
				return err
			}
			advanceOrder = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if escalate {
		s.escalateRework(ctx, job)
	}
	s.maybeAdvanceOrder(ctx, advanceOrder)
	return job, nil
}

// Assign sets the assignee and forces the job to ACCEPTED.
func (s *Service) Assign(ctx context.Context, jobID, userID int64, actorID *int64) (*Job, error) {
	now := s.clock.Now()
	var job *Job
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		job, err = tx.GetJobForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.Done() || job.Status == StatusDelivered {
			return &InvalidTransitionError{From: job.Status, To: StatusAccepted}
		}
		from := job.Status
		job.AssignedTo = &userID
		job.Status = StatusAccepted
		job.UpdatedAt = now
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		reason := "assigned"
		return tx.AppendHistory(ctx, HistoryEntry{
			JobID: job.ID, From: &from, To: StatusAccepted, ActorID: actorID, Reason: &reason, At: now,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.Notify(ctx, shared.Notification{
		UserID:  userID,
		Kind:    "job_assigned",
		Title:   "Job assigned",
		Message: fmt.Sprintf("Production job #%d has been assigned to you", job.ID),
		Data:    map[string]any{"job_id": job.ID, "order_id": job.OrderID},
	}); err != nil {
		s.logger.Warn("assignee notification failed", slog.Int64("job_id", job.ID), slog.Any("error", err))
	}
	return job, nil
}

// Cancel removes a job. A job still PENDING is hard deleted; its history
// goes with it. Anything past acceptance cannot be cancelled individually,
// only through order cancellation.
func (s *Service) Cancel(ctx context.Context, jobID int64, reason string, actorID *int64) error {
	var advanceOrder int64
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		job, err := tx.GetJobForUpdate(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusPending {
			return &InvalidTransitionError{From: job.Status, To: StatusCancelled}
		}
		if err := tx.DeleteJob(ctx, job.ID); err != nil {
			return err
		}
		id, err := s.orderReadyForAdvance(ctx, tx, job.OrderID)
		if err != nil {
			return err
		}
		advanceOrder = id
		return nil
	})
	if err != nil {
		return err
	}
	s.maybeAdvanceOrder(ctx, advanceOrder)
	return nil
}

// CancelForOrder force-cancels every unfinished job of an order. Called by
// the order workflow when the order itself is cancelled; the parent order is
// not re-evaluated.
func (s *Service) CancelForOrder(ctx context.Context, orderID int64, actorID *int64) error {
	now := s.clock.Now()
	reason := "order cancelled"
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		jobs, err := tx.ListByOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		for i := range jobs {
			job := &jobs[i]
			if job.Status.Done() || job.Status == StatusDelivered {
				continue
			}
			from := job.Status
			job.Status = StatusCancelled
			job.UpdatedAt = now
			if err := tx.UpdateJob(ctx, job); err != nil {
				return err
			}
			if err := tx.AppendHistory(ctx, HistoryEntry{
				JobID: job.ID, From: &from, To: StatusCancelled, ActorID: actorID, Reason: &reason, At: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateJobs adapts CreateForOrder for callers that only care about the
// error.
func (s *Service) CreateJobs(ctx context.Context, orderID int64, actorID *int64) error {
	_, err := s.CreateForOrder(ctx, orderID, actorID)
	return err
}

// CancelJobs is an alias for CancelForOrder under the dispatcher interface.
func (s *Service) CancelJobs(ctx context.Context, orderID int64, actorID *int64) error {
	return s.CancelForOrder(ctx, orderID, actorID)
}

// Get returns one job.
func (s *Service) Get(ctx context.Context, id int64) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListByOrder returns an order's jobs.
func (s *Service) ListByOrder(ctx context.Context, orderID int64) ([]Job, error) {
	return s.store.ListByOrder(ctx, orderID)
}

// List returns jobs filtered by status and assignee.
func (s *Service) List(ctx context.Context, status Status, assignedTo *int64, p shared.Pagination) ([]Job, error) {
	return s.store.List(ctx, status, assignedTo, p.PerPage, p.Offset())
}

// History returns a job's status history.
func (s *Service) History(ctx context.Context, jobID int64) ([]HistoryEntry, error) {
	return s.store.ListHistory(ctx, jobID)
}

// orderReadyForAdvance returns the order ID when every job is done and the
// order is still in production, zero otherwise.
func (s *Service) orderReadyForAdvance(ctx context.Context, tx TxStore, orderID int64) (int64, error) {
	n, err := tx.CountUnfinishedJobs(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if n != 0 {
		return 0, nil
	}
	status, _, err := tx.GetOrderState(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if status != "IN_PRODUCTION" {
		return 0, nil
	}
	return orderID, nil
}

// maybeAdvanceOrder drives the parent order to READY after the transaction
// committed. Failure is logged, never propagated.
func (s *Service) maybeAdvanceOrder(ctx context.Context, orderID int64) {
	if orderID == 0 || s.orders == nil {
		return
	}
	if err := s.orders.JobsCompleted(ctx, orderID); err != nil {
		fail := &shared.SideEffectFailure{Op: "auto-advance order", Err: err}
		s.logger.Error(fail.Error(), slog.Int64("order_id", orderID))
	}
}

func (s *Service) escalateRework(ctx context.Context, job *Job) {
	managers, err := s.roles.ListUsersWithRole(ctx, "manager")
	if err != nil {
		s.logger.Warn("manager lookup failed", slog.Any("error", err))
		return
	}
	for _, userID := range managers {
		if err := s.notifier.Notify(ctx, shared.Notification{
			UserID:  userID,
			Kind:    "job_rework_escalation",
			Title:   "Repeated rework",
			Message: fmt.Sprintf("Job #%d failed QA %d times", job.ID, job.ReworkCount),
			Data:    map[string]any{"job_id": job.ID, "order_id": job.OrderID, "rework_count": job.ReworkCount},
		}); err != nil {
			s.logger.Warn("escalation notification failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
}
