// Package servicejobs tracks production work units, one per order item that
// requires production.
package servicejobs

import "time"

// Status represents the job lifecycle.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusOnHold     Status = "ON_HOLD"
	StatusQAReview   Status = "QA_REVIEW"
	// StatusRejected is a logical label only. A job failing QA is stored as
	// IN_PROGRESS with rework_count incremented and the reason kept in
	// last_rejection_reason; REJECTED never rests in the status column.
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusDelivered Status = "DELIVERED"
)

// transitions holds the legal moves. CANCELLED and DELIVERED are terminal.
// There is no path back from ACCEPTED to PENDING.
var transitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress},
	StatusInProgress: {StatusQAReview, StatusAccepted, StatusOnHold},
	StatusOnHold:     {StatusInProgress},
	StatusQAReview:   {StatusCompleted, StatusRejected, StatusInProgress},
	StatusRejected:   {StatusInProgress},
	StatusCompleted:  {StatusDelivered},
}

// CanTransition reports whether moving from s to target is legal.
func (s Status) CanTransition(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Done reports whether the job no longer blocks its order's production exit.
// A cancelled job counts as done.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsValid checks the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInProgress, StatusOnHold, StatusQAReview,
		StatusRejected, StatusCancelled, StatusCompleted, StatusDelivered:
		return true
	default:
		return false
	}
}

// ReworkEscalationThreshold is the rework count above which managers are
// notified.
const ReworkEscalationThreshold = 2

// Job is a production work unit for one order item.
type Job struct {
	ID                  int64      `json:"id"`
	OrderID             int64      `json:"order_id"`
	OrderItemID         int64      `json:"order_item_id"`
	Status              Status     `json:"status"`
	Priority            string     `json:"priority"`
	AssignedTo          *int64     `json:"assigned_to,omitempty"`
	ReworkCount         int        `json:"rework_count"`
	LastRejectionReason *string    `json:"last_rejection_reason,omitempty"`
	DueDate             *time.Time `json:"due_date,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	DeliveredAt         *time.Time `json:"delivered_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// HistoryEntry records one status change. ActorID is nil for system
// initiated changes such as bulk creation when an order enters production.
type HistoryEntry struct {
	ID      int64     `json:"id"`
	JobID   int64     `json:"job_id"`
	From    *Status   `json:"from,omitempty"`
	To      Status    `json:"to"`
	ActorID *int64    `json:"actor_id,omitempty"`
	Reason  *string   `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// ProductionItem is an order item eligible for a job, as read from the
// order's line items joined with the product catalogue.
type ProductionItem struct {
	ItemID      int64
	ProductID   int64
	ProductType string
}
