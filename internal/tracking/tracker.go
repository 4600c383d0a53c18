// Package tracking records order lifecycle events for the kitchen pipeline
// and analytics. The reconciler guarantees each hook fires at most once per
// order, so recording here needs no dedup of its own.
package tracking

import (
	"context"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/tavolohq/tavolo-backend/internal/domain/order"
)

// Store persists tracking events.
type Store interface {
	Record(ctx context.Context, orderID int64, event string, payload []byte) error
}

// Tracker writes order lifecycle events to the store and the log. Recording
// failures are logged, not propagated: a tracking outage must never undo or
// block a payment transition that already committed.
type Tracker struct {
	store Store
}

// New creates a Tracker backed by the given store.
func New(store Store) *Tracker {
	return &Tracker{store: store}
}

// OrderPlaced records that an order's payment was confirmed and it entered
// the kitchen pipeline.
func (t *Tracker) OrderPlaced(ctx context.Context, o *order.Order) {
	t.record(ctx, o, "order.placed")
}

// PaymentFailed records a failed payment attempt.
func (t *Tracker) PaymentFailed(ctx context.Context, o *order.Order) {
	t.record(ctx, o, "order.payment_failed")
}

func (t *Tracker) record(ctx context.Context, o *order.Order, event string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("reference", func(e *jx.Encoder) { e.Str(o.Reference) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.StringFixed(2)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
	})

	lg := zctx.From(ctx).With(
		zap.Int64("order_id", o.ID),
		zap.String("event", event),
	)
	if err := t.store.Record(ctx, o.ID, event, e.Bytes()); err != nil {
		lg.Error("Failed to record tracking event", zap.Error(err))
		return
	}
	lg.Info("Tracking event recorded")
}
