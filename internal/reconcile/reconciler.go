// Package reconcile merges externally observed payment state into the locally
// authoritative order status. Every channel that learns something from the
// gateway (webhook delivery, client polling, forced verification) funnels
// through here, so the forward-only rule lives in exactly one place.
package reconcile

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/tavolohq/tavolo-backend/internal/domain/order"
	"github.com/tavolohq/tavolo-backend/internal/gateway"
)

// Source identifies the channel an observation arrived on. It only affects
// logging and metrics; the transition rule is identical for all sources.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceVerify  Source = "verify"
)

// Tracker receives downstream effects that must fire exactly once per order.
// The reconciler calls it only when this process performed the transition.
type Tracker interface {
	OrderPlaced(ctx context.Context, o *order.Order)
	PaymentFailed(ctx context.Context, o *order.Order)
}

// Observation is one externally observed session state.
type Observation struct {
	SessionStatus string // gateway session status string
	SessionID     string
	TransactionID string
	Source        Source
}

// SessionGateway is the slice of the provider client used for forced
// verification.
type SessionGateway interface {
	SessionStatus(ctx context.Context, sessionID string) (*gateway.Session, error)
}

// Reconciler applies observations to orders. It is the only component that
// writes order status.
type Reconciler struct {
	orders  order.Repository
	gateway SessionGateway
	tracker Tracker
}

// New creates a Reconciler.
func New(orders order.Repository, gw SessionGateway, tracker Tracker) *Reconciler {
	return &Reconciler{orders: orders, gateway: gw, tracker: tracker}
}

// Apply maps the observation onto the order state machine and advances the
// order if, and only if, that is forward progress. Stale and duplicate
// observations are silent no-ops: at-least-once webhook delivery and
// overlapping poll races both resolve to a single transition.
func (r *Reconciler) Apply(ctx context.Context, o *order.Order, obs Observation) (*order.Order, error) {
	lg := zctx.From(ctx).With(
		zap.Int64("order_id", o.ID),
		zap.String("session_id", obs.SessionID),
		zap.String("source", string(obs.Source)),
		zap.String("observed", obs.SessionStatus),
	)

	switch obs.SessionStatus {
	case gateway.SessionPaid:
		res, err := r.orders.AdvanceStatus(ctx, o.ID, order.StatusPaymentConfirmed, obs.TransactionID)
		if err != nil {
			return nil, errors.Wrap(err, "advance to payment confirmed")
		}
		if !res.Transitioned {
			lg.Debug("Paid observation was stale, keeping current status")
			return res.Order, nil
		}
		lg.Info("Payment confirmed")
		r.tracker.OrderPlaced(ctx, res.Order)
		return res.Order, nil

	case gateway.SessionFailed:
		res, err := r.orders.AdvanceStatus(ctx, o.ID, order.StatusPaymentFailed, "")
		if err != nil {
			return nil, errors.Wrap(err, "advance to payment failed")
		}
		if !res.Transitioned {
			lg.Debug("Failed observation was stale, keeping current status")
			return res.Order, nil
		}
		lg.Info("Payment failed")
		r.tracker.PaymentFailed(ctx, res.Order)
		return res.Order, nil

	case gateway.SessionExpired:
		// The user never paid. Status stays put; the dead session is detached
		// so a later checkout attempt can open a fresh one.
		if obs.SessionID != "" {
			if err := r.orders.ClearSession(ctx, o.ID, obs.SessionID); err != nil {
				return nil, errors.Wrap(err, "clear expired session")
			}
			lg.Info("Checkout session expired, detached from order")
		}
		return r.orders.GetByID(ctx, o.ID)

	case gateway.SessionPending:
		return o, nil

	default:
		lg.Warn("Ignoring unrecognized session status")
		return o, nil
	}
}

// VerifyPayment is the client-triggered fallback: query the gateway directly
// for the order's session and apply the result. Used when a client returns to
// the foreground after a redirect and cannot wait for the webhook.
func (r *Reconciler) VerifyPayment(ctx context.Context, orderID int64) (*order.Order, error) {
	o, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CheckoutSessionID == "" {
		// Nothing to verify against; the order never started checkout.
		return o, nil
	}

	sess, err := r.gateway.SessionStatus(ctx, o.CheckoutSessionID)
	if err != nil {
		return nil, errors.Wrapf(err, "query session %s", o.CheckoutSessionID)
	}
	return r.Apply(ctx, o, Observation{
		SessionStatus: sess.Status,
		SessionID:     sess.ID,
		TransactionID: sess.TransactionID,
		Source:        SourceVerify,
	})
}
