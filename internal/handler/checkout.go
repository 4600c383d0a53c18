package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/tavolohq/tavolo-backend/internal/checkout"
	"github.com/tavolohq/tavolo-backend/internal/domain/order"
	"github.com/tavolohq/tavolo-backend/internal/gateway"
)

// InitiateCheckout handles POST /api/checkout. Repeated calls for the same
// order return the same session: clients retry on any timeout ambiguity.
func (h *Handler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var orderID int64
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key == "orderId" {
			v, err := d.Int64()
			orderID = v
			return err
		}
		return d.Skip()
	}); err != nil || orderID <= 0 {
		writeError(w, http.StatusBadRequest, "orderId required")
		return
	}

	res, err := h.orchestrator.Initiate(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, gateway.ErrUnavailable):
			writeError(w, http.StatusBadGateway, "couldn't reach payment provider, try again")
		case errors.Is(err, checkout.ErrSessionUnrecoverable):
			writeError(w, http.StatusConflict, "checkout session conflict, contact support")
		default:
			internalError(w, r, err, zap.Int64("order_id", orderID))
		}
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Int64(res.OrderID) })
		e.Field("sessionId", func(e *jx.Encoder) { e.Str(res.SessionID) })
		e.Field("payUrl", func(e *jx.Encoder) { e.Str(res.PayURL) })
	})
}

// CheckoutSessionStatus handles GET /api/checkout/{sessionID}/status. It
// proxies a live gateway query and resolves the local order the session
// belongs to. The gateway's answer is informational; the order's own status
// remains the ground truth.
func (h *Handler) CheckoutSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	ord, err := h.orders.GetBySessionID(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown checkout session")
			return
		}
		internalError(w, r, err, zap.String("session_id", sessionID))
		return
	}

	sess, err := h.gateway.SessionStatus(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "unknown checkout session")
		case errors.Is(err, gateway.ErrUnavailable):
			writeError(w, http.StatusBadGateway, "couldn't reach payment provider, try again")
		default:
			internalError(w, r, err, zap.String("session_id", sessionID))
		}
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Field("sessionId", func(e *jx.Encoder) { e.Str(sess.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(sess.Status) })
		e.Field("orderId", func(e *jx.Encoder) { e.Int64(ord.ID) })
	})
}
