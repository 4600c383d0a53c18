// Package checkout creates hosted checkout sessions for orders, guaranteeing
// at most one live session per order under concurrent client retries.
package checkout

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tavolohq/tavolo-backend/internal/domain/order"
	"github.com/tavolohq/tavolo-backend/internal/gateway"
)

// ErrSessionUnrecoverable is returned when the provider reports a duplicate
// session for an order's reference but the session cannot be retrieved. The
// caller must not retry blindly; the order needs operator attention.
var ErrSessionUnrecoverable = errors.New("checkout session exists at gateway but cannot be retrieved")

// Gateway is the slice of the provider client the orchestrator needs.
type Gateway interface {
	CreateSession(ctx context.Context, reference string, amount decimal.Decimal, currency, description string) (*gateway.Session, error)
	SessionStatus(ctx context.Context, sessionID string) (*gateway.Session, error)
	SessionByReference(ctx context.Context, reference string) (*gateway.Session, error)
}

// Result is the outcome of a checkout initiation.
type Result struct {
	OrderID   int64
	SessionID string
	PayURL    string
}

// Orchestrator serializes session creation per order. Two guards stack:
// singleflight collapses concurrent creates within this process without
// holding a lock across the gateway round trip, and the repository's
// conditional AttachSession write is the authoritative cross-instance guard.
type Orchestrator struct {
	orders  order.Repository
	gateway Gateway
	group   singleflight.Group
}

// NewOrchestrator creates a checkout Orchestrator.
func NewOrchestrator(orders order.Repository, gw Gateway) *Orchestrator {
	return &Orchestrator{orders: orders, gateway: gw}
}

// Initiate ensures the order has exactly one live checkout session and
// returns it. Re-entry with an existing live session returns that session;
// mobile clients retry on any ambiguity, so this path must be idempotent.
func (o *Orchestrator) Initiate(ctx context.Context, orderID int64) (*Result, error) {
	ord, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if ord.HasLiveSession() {
		return o.resolveExisting(ctx, ord)
	}

	v, err, _ := o.group.Do(fmt.Sprintf("order:%d", orderID), func() (interface{}, error) {
		return o.createSession(ctx, ord)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// resolveExisting returns the order's current session, re-querying the
// provider for the hosted-pay URL, which is not stored locally.
func (o *Orchestrator) resolveExisting(ctx context.Context, ord *order.Order) (*Result, error) {
	sess, err := o.gateway.SessionStatus(ctx, ord.CheckoutSessionID)
	if err != nil {
		return nil, errors.Wrapf(err, "query existing session %s", ord.CheckoutSessionID)
	}
	return &Result{OrderID: ord.ID, SessionID: sess.ID, PayURL: sess.PayURL}, nil
}

// createSession runs inside the per-order singleflight. Another request may
// still have attached a session from a different instance, so the conditional
// write decides who wins; the loser adopts the stored session.
func (o *Orchestrator) createSession(ctx context.Context, ord *order.Order) (*Result, error) {
	desc := fmt.Sprintf("Order %s", ord.Reference)
	sess, err := o.gateway.CreateSession(ctx, ord.Reference, ord.Total, ord.Currency, desc)
	if err != nil {
		if errors.Is(err, gateway.ErrDuplicateSession) {
			return o.recoverCollision(ctx, ord)
		}
		return nil, errors.Wrap(err, "create session")
	}

	current, won, err := o.orders.AttachSession(ctx, ord.ID, sess.ID)
	if err != nil {
		return nil, errors.Wrap(err, "attach session")
	}
	if !won {
		// A concurrent request attached first. Its session is the live one;
		// the one we just created is orphaned and will expire at the gateway.
		zctx.From(ctx).Info("Lost session attach race, adopting stored session",
			zap.Int64("order_id", ord.ID),
			zap.String("created", sess.ID),
			zap.String("adopted", current))
		stored, err := o.gateway.SessionStatus(ctx, current)
		if err != nil {
			return nil, errors.Wrapf(err, "query adopted session %s", current)
		}
		return &Result{OrderID: ord.ID, SessionID: stored.ID, PayURL: stored.PayURL}, nil
	}

	return &Result{OrderID: ord.ID, SessionID: sess.ID, PayURL: sess.PayURL}, nil
}

// recoverCollision handles the provider's duplicate-reference rejection by
// adopting the session the provider already holds. If the provider claims a
// duplicate but cannot produce the session, that contradiction is terminal.
func (o *Orchestrator) recoverCollision(ctx context.Context, ord *order.Order) (*Result, error) {
	sess, err := o.gateway.SessionByReference(ctx, ord.Reference)
	if err != nil {
		if errors.Is(err, gateway.ErrSessionNotFound) {
			zctx.From(ctx).Error("Gateway reported duplicate session but lookup found none",
				zap.Int64("order_id", ord.ID),
				zap.String("reference", ord.Reference))
			return nil, ErrSessionUnrecoverable
		}
		return nil, errors.Wrap(err, "recover duplicate session")
	}

	current, won, err := o.orders.AttachSession(ctx, ord.ID, sess.ID)
	if err != nil {
		return nil, errors.Wrap(err, "attach recovered session")
	}
	if !won && current != sess.ID {
		// The stored session takes precedence over the recovered one.
		stored, err := o.gateway.SessionStatus(ctx, current)
		if err != nil {
			return nil, errors.Wrapf(err, "query stored session %s", current)
		}
		return &Result{OrderID: ord.ID, SessionID: stored.ID, PayURL: stored.PayURL}, nil
	}
	return &Result{OrderID: ord.ID, SessionID: sess.ID, PayURL: sess.PayURL}, nil
}
