package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMainLineAdvances(t *testing.T) {
	line := []Status{
		StatusAwaitingPayment,
		StatusPaymentConfirmed,
		StatusConfirmed,
		StatusPreparing,
		StatusReady,
		StatusDelivered,
	}

	for i, from := range line {
		for j, to := range line {
			got := from.CanAdvanceTo(to)
			if j > i {
				assert.True(t, got, "%s -> %s should be legal", from, to)
			} else {
				assert.False(t, got, "%s -> %s should be illegal", from, to)
			}
		}
	}
}

func TestStatusNoBackwardMotion(t *testing.T) {
	// Stale out-of-order observation: order already READY, paid arrives late.
	assert.False(t, StatusReady.CanAdvanceTo(StatusPaymentConfirmed))
	assert.False(t, StatusDelivered.CanAdvanceTo(StatusAwaitingPayment))
}

func TestStatusPaymentFailed(t *testing.T) {
	assert.True(t, StatusAwaitingPayment.CanAdvanceTo(StatusPaymentFailed))

	// Only the initial state can fail payment.
	assert.False(t, StatusPaymentConfirmed.CanAdvanceTo(StatusPaymentFailed))
	assert.False(t, StatusReady.CanAdvanceTo(StatusPaymentFailed))

	// Re-attempt exception: a failed payment may confirm after a fresh
	// checkout, but re-enters only at PAYMENT_CONFIRMED.
	assert.True(t, StatusPaymentFailed.CanAdvanceTo(StatusPaymentConfirmed))
	assert.False(t, StatusPaymentFailed.CanAdvanceTo(StatusConfirmed))
	assert.False(t, StatusPaymentFailed.CanAdvanceTo(StatusAwaitingPayment))
}

func TestStatusCancellation(t *testing.T) {
	assert.True(t, StatusAwaitingPayment.CanAdvanceTo(StatusCancelled))
	assert.True(t, StatusPaymentConfirmed.CanAdvanceTo(StatusCancelled))
	assert.True(t, StatusConfirmed.CanAdvanceTo(StatusCancelled))
	assert.True(t, StatusPaymentFailed.CanAdvanceTo(StatusCancelled))

	// Once preparation starts, cancellation is no longer a restaurant action.
	assert.False(t, StatusPreparing.CanAdvanceTo(StatusCancelled))
	assert.False(t, StatusReady.CanAdvanceTo(StatusCancelled))
	assert.False(t, StatusDelivered.CanAdvanceTo(StatusCancelled))

	// Cancelled is terminal.
	assert.False(t, StatusCancelled.CanAdvanceTo(StatusPaymentConfirmed))
	assert.False(t, StatusCancelled.CanAdvanceTo(StatusDelivered))
}

func TestStatusSelfTransition(t *testing.T) {
	for _, s := range []Status{StatusAwaitingPayment, StatusPaymentConfirmed, StatusCancelled} {
		assert.False(t, s.CanAdvanceTo(s))
	}
}

func TestPriorStatuses(t *testing.T) {
	prior := PriorStatuses(StatusPaymentConfirmed)
	assert.ElementsMatch(t, []Status{StatusAwaitingPayment, StatusPaymentFailed}, prior)

	prior = PriorStatuses(StatusPaymentFailed)
	assert.ElementsMatch(t, []Status{StatusAwaitingPayment}, prior)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("PAYMENT_CONFIRMED")
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentConfirmed, s)

	_, err = ParseStatus("SHIPPED")
	require.Error(t, err)
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPaymentFailed.Terminal())
	assert.False(t, StatusAwaitingPayment.Terminal())
}
