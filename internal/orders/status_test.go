package orders

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegularTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusDraft, StatusPendingPayment, true},
		{StatusDraft, StatusPaid, true},
		{StatusDraft, StatusCancelled, true},
		{StatusDraft, StatusInProduction, false},
		{StatusPendingPayment, StatusPaid, true},
		{StatusPendingPayment, StatusInProduction, true},
		{StatusPendingPayment, StatusReady, true},
		{StatusPaid, StatusReleased, true},
		{StatusPaid, StatusCompleted, false},
		{StatusInProduction, StatusReady, true},
		{StatusInProduction, StatusReleased, false},
		{StatusReady, StatusReleased, true},
		{StatusReady, StatusPaid, true},
		{StatusReady, StatusCompleted, false},
		{StatusReleased, StatusCompleted, true},
		{StatusReleased, StatusCancelled, false},
		{StatusCompleted, StatusReleased, false},
		{StatusCancelled, StatusDraft, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransition(tc.to, false), "%s -> %s", tc.from, tc.to)
	}
}

func TestCreditInvoiceTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		// Production starts straight from DRAFT, payment states are skipped.
		{StatusDraft, StatusInProduction, true},
		{StatusDraft, StatusPendingPayment, false},
		{StatusDraft, StatusPaid, false},
		{StatusDraft, StatusCancelled, true},
		// READY cannot fall back into payment.
		{StatusReady, StatusPaid, false},
		{StatusReady, StatusReleased, true},
		{StatusReady, StatusCancelled, true},
		// Remaining rows match the regular graph.
		{StatusPendingPayment, StatusPaid, true},
		{StatusInProduction, StatusReady, true},
		{StatusReleased, StatusCompleted, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransition(tc.to, true), "%s -> %s", tc.from, tc.to)
	}
}
