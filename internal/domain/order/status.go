package order

import "fmt"

// Status is the authoritative lifecycle state of an order. The main line
// advances strictly forward; PAYMENT_FAILED and CANCELLED sit outside it.
type Status string

const (
	StatusAwaitingPayment  Status = "AWAITING_PAYMENT"
	StatusPaymentConfirmed Status = "PAYMENT_CONFIRMED"
	StatusConfirmed        Status = "CONFIRMED"
	StatusPreparing        Status = "PREPARING"
	StatusReady            Status = "READY"
	StatusDelivered        Status = "DELIVERED"
	StatusPaymentFailed    Status = "PAYMENT_FAILED"
	StatusCancelled        Status = "CANCELLED"
)

// mainLineRank orders the forward-progress statuses. Out-of-band statuses
// (PAYMENT_FAILED, CANCELLED) have no rank and return ok=false.
func mainLineRank(s Status) (int, bool) {
	switch s {
	case StatusAwaitingPayment:
		return 1, true
	case StatusPaymentConfirmed:
		return 2, true
	case StatusConfirmed:
		return 3, true
	case StatusPreparing:
		return 4, true
	case StatusReady:
		return 5, true
	case StatusDelivered:
		return 6, true
	default:
		return 0, false
	}
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	if _, ok := mainLineRank(s); ok {
		return true
	}
	return s == StatusPaymentFailed || s == StatusCancelled
}

// Terminal reports whether no further forward progress is possible from s.
// PAYMENT_FAILED is not terminal: a later paid observation may still move the
// order forward after a re-attempted checkout.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanAdvanceTo reports whether a transition from s to target is legal.
//
// Rules:
//   - main line: target rank must be strictly greater than the current rank
//   - only AWAITING_PAYMENT enters PAYMENT_FAILED
//   - PAYMENT_FAILED may re-enter the main line at PAYMENT_CONFIRMED (checkout
//     re-attempt that later succeeds)
//   - CANCELLED is reachable from any state before PREPARING
//   - CANCELLED and DELIVERED admit nothing
func (s Status) CanAdvanceTo(target Status) bool {
	if s == target {
		return false
	}
	switch target {
	case StatusPaymentFailed:
		return s == StatusAwaitingPayment
	case StatusCancelled:
		cur, ok := mainLineRank(s)
		if !ok {
			return s == StatusPaymentFailed
		}
		prep, _ := mainLineRank(StatusPreparing)
		return cur < prep
	}

	tgt, ok := mainLineRank(target)
	if !ok {
		return false
	}
	cur, ok := mainLineRank(s)
	if !ok {
		// Re-attempt exception: a fresh checkout on a failed payment may
		// confirm later. Cancelled orders stay cancelled.
		return s == StatusPaymentFailed && target == StatusPaymentConfirmed
	}
	return tgt > cur
}

// PriorStatuses returns every status from which target is directly reachable.
// Storage uses this to push the forward-only check into a conditional UPDATE.
func PriorStatuses(target Status) []Status {
	all := []Status{
		StatusAwaitingPayment, StatusPaymentConfirmed, StatusConfirmed,
		StatusPreparing, StatusReady, StatusDelivered,
		StatusPaymentFailed, StatusCancelled,
	}
	var prior []Status
	for _, s := range all {
		if s.CanAdvanceTo(target) {
			prior = append(prior, s)
		}
	}
	return prior
}

// ParseStatus validates a raw status string from storage or the API.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}
