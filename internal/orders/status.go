package orders

// Status represents the order lifecycle.
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusInProduction   Status = "IN_PRODUCTION"
	StatusReady          Status = "READY"
	StatusReleased       Status = "RELEASED"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// IsValid checks the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPendingPayment, StatusPaid, StatusInProduction,
		StatusReady, StatusReleased, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// regularTransitions is the graph for cash and walk-in orders. COMPLETED and
// CANCELLED are terminal.
var regularTransitions = map[Status][]Status{
	StatusDraft:          {StatusPendingPayment, StatusPaid, StatusCancelled},
	StatusPendingPayment: {StatusPaid, StatusInProduction, StatusReady, StatusCancelled},
	StatusPaid:           {StatusInProduction, StatusReady, StatusReleased, StatusCancelled},
	StatusInProduction:   {StatusReady, StatusCancelled},
	StatusReady:          {StatusReleased, StatusPaid, StatusCancelled},
	StatusReleased:       {StatusCompleted},
}

// creditInvoiceTransitions is the graph for invoice-type orders placed by
// credit customers. Production starts before payment, and a READY order
// cannot fall back into the payment states.
var creditInvoiceTransitions = map[Status][]Status{
	StatusDraft:          {StatusInProduction, StatusCancelled},
	StatusPendingPayment: regularTransitions[StatusPendingPayment],
	StatusPaid:           regularTransitions[StatusPaid],
	StatusInProduction:   regularTransitions[StatusInProduction],
	StatusReady:          {StatusReleased, StatusCancelled},
	StatusReleased:       regularTransitions[StatusReleased],
}

// CanTransition reports whether moving from s to target is legal under the
// given graph selection.
func (s Status) CanTransition(target Status, creditInvoice bool) bool {
	graph := regularTransitions
	if creditInvoice {
		graph = creditInvoiceTransitions
	}
	for _, t := range graph[s] {
		if t == target {
			return true
		}
	}
	return false
}

// cancellableStatuses are the only states an order may be cancelled from.
var cancellableStatuses = map[Status]bool{
	StatusDraft:          true,
	StatusPendingPayment: true,
	StatusPaid:           true,
}
