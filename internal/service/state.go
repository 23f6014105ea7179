package service

import (
	"fmt"

	"github.com/tandoor-pos/api/internal/database"
	"github.com/tandoor-pos/api/internal/enum"
)

// InvalidTransitionError reports a status change outside the allowed set.
// PaymentStatus is the payment state the check ran against, so callers can
// rebuild the exact set of transitions that were available.
type InvalidTransitionError struct {
	From          string
	To            string
	PaymentStatus string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

// allowedTransitions defines valid status transitions before payment-state
// filtering. The operational sequence is monotonic (OPEN through CLOSED);
// VOIDED and CANCELLED branch off every non-terminal state, and REFUNDED is
// reachable only from SERVED or CLOSED.
var allowedTransitions = map[string][]string{
	enum.OrderStatusOpen:      {enum.OrderStatusHeld, enum.OrderStatusSent, enum.OrderStatusVoided, enum.OrderStatusCancelled},
	enum.OrderStatusHeld:      {enum.OrderStatusSent, enum.OrderStatusVoided, enum.OrderStatusCancelled},
	enum.OrderStatusSent:      {enum.OrderStatusPreparing, enum.OrderStatusVoided, enum.OrderStatusCancelled},
	enum.OrderStatusPreparing: {enum.OrderStatusReady, enum.OrderStatusVoided, enum.OrderStatusCancelled},
	enum.OrderStatusReady:     {enum.OrderStatusServed, enum.OrderStatusVoided, enum.OrderStatusCancelled},
	enum.OrderStatusServed:    {enum.OrderStatusClosed, enum.OrderStatusVoided, enum.OrderStatusCancelled, enum.OrderStatusRefunded},
	enum.OrderStatusClosed:    {enum.OrderStatusRefunded},
}

// terminalStatuses block all further line-item mutation.
var terminalStatuses = map[string]bool{
	enum.OrderStatusClosed:    true,
	enum.OrderStatusVoided:    true,
	enum.OrderStatusCancelled: true,
	enum.OrderStatusRefunded:  true,
}

func isValidOrderStatus(s string) bool {
	switch s {
	case enum.OrderStatusOpen, enum.OrderStatusHeld, enum.OrderStatusSent,
		enum.OrderStatusPreparing, enum.OrderStatusReady, enum.OrderStatusServed,
		enum.OrderStatusClosed, enum.OrderStatusVoided, enum.OrderStatusCancelled,
		enum.OrderStatusRefunded:
		return true
	}
	return false
}

// AvailableTransitions returns the statuses reachable from the current
// (status, payment_status) pair. Void/cancel require the order not to be
// paid; refund requires it to be paid.
func AvailableTransitions(status, paymentStatus string) []string {
	var out []string
	for _, next := range allowedTransitions[status] {
		switch next {
		case enum.OrderStatusVoided, enum.OrderStatusCancelled:
			if paymentStatus == enum.PaymentStatusPaid {
				continue
			}
		case enum.OrderStatusRefunded:
			if paymentStatus != enum.PaymentStatusPaid {
				continue
			}
		}
		out = append(out, next)
	}
	return out
}

// validateTransition checks one requested step against AvailableTransitions.
func validateTransition(status, paymentStatus, next string) error {
	for _, s := range AvailableTransitions(status, paymentStatus) {
		if s == next {
			return nil
		}
	}
	return &InvalidTransitionError{From: status, To: next, PaymentStatus: paymentStatus}
}

// CanModify is the single predicate gating every line-item mutation,
// discount application, and field edit: terminal orders and paid orders
// are frozen.
func CanModify(order database.Order) bool {
	return !terminalStatuses[order.Status] && order.PaymentStatus != enum.PaymentStatusPaid
}
