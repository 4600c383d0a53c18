// Package handler exposes the HTTP API: checkout initiation, payment webhook
// delivery, status polling, and the thin order/menu plumbing around them.
package handler

import (
	"context"
	"net/http"

	"github.com/tavolohq/tavolo-backend/internal/checkout"
	"github.com/tavolohq/tavolo-backend/internal/domain/menu"
	"github.com/tavolohq/tavolo-backend/internal/domain/order"
	"github.com/tavolohq/tavolo-backend/internal/gateway"
	"github.com/tavolohq/tavolo-backend/internal/reconcile"
)

// SessionGateway is the slice of the provider client the handler needs for
// the live session-status proxy endpoint.
type SessionGateway interface {
	SessionStatus(ctx context.Context, sessionID string) (*gateway.Session, error)
}

// EventInbox tracks processed webhook event ids so repeat deliveries can be
// acknowledged without touching the order.
type EventInbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID, eventType string) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// WebhookSecret is the shared secret for gateway notification signatures.
	WebhookSecret []byte
}

// Handler implements the HTTP API, delegating business logic to the checkout
// orchestrator, the reconciler, and the order service.
type Handler struct {
	orders       order.Repository
	orderService *order.Service
	menu         menu.Repository
	orchestrator *checkout.Orchestrator
	reconciler   *reconcile.Reconciler
	gateway      SessionGateway
	inbox        EventInbox

	webhookSecret []byte
}

// New constructs a Handler with the required dependencies.
func New(
	cfg Config,
	orders order.Repository,
	orderService *order.Service,
	menuRepo menu.Repository,
	orchestrator *checkout.Orchestrator,
	reconciler *reconcile.Reconciler,
	gw SessionGateway,
	inbox EventInbox,
) *Handler {
	return &Handler{
		orders:        orders,
		orderService:  orderService,
		menu:          menuRepo,
		orchestrator:  orchestrator,
		reconciler:    reconciler,
		gateway:       gw,
		inbox:         inbox,
		webhookSecret: cfg.WebhookSecret,
	}
}

// Routes registers all API routes on the given mux under /api.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/checkout", h.InitiateCheckout)
	mux.HandleFunc("GET /api/checkout/{sessionID}/status", h.CheckoutSessionStatus)
	mux.HandleFunc("POST /api/webhook", h.Webhook)

	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /api/orders/{id}/status", h.OrderStatus)
	mux.HandleFunc("POST /api/orders/{id}/verify-payment", h.VerifyPayment)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)

	mux.HandleFunc("GET /api/menu", h.ListMenu)
}
