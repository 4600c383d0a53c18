package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/tavolohq/tavolo-backend/internal/domain/order"
	"github.com/tavolohq/tavolo-backend/internal/gateway"
	"github.com/tavolohq/tavolo-backend/internal/reconcile"
)

// SignatureHeader carries the gateway's HMAC-SHA256 of the raw request body,
// hex encoded.
const SignatureHeader = "X-Payload-Signature"

// webhookEvent is the decoded gateway notification payload.
type webhookEvent struct {
	EventID       string
	EventType     string
	Reference     string
	SessionID     string
	TransactionID string
}

// Webhook handles POST /api/webhook: gateway payment-result notifications.
// The signature is verified over the raw body before anything else; a bad
// signature is rejected without any order lookup, so probing with invented
// references reveals nothing. Delivery is at-least-once; the reconciler makes
// re-delivery a no-op.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		zctx.From(r.Context()).Warn("Webhook signature mismatch",
			zap.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	evt, err := decodeWebhookEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	lg := zctx.From(r.Context()).With(
		zap.String("event_type", evt.EventType),
		zap.String("reference", evt.Reference),
	)

	observed, ok := sessionStatusFromEvent(evt.EventType)
	if !ok {
		// Unknown event kinds are acknowledged so the gateway stops
		// re-delivering something we will never act on.
		lg.Warn("Ignoring unrecognized webhook event type")
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			e.Field("result", func(e *jx.Encoder) { e.Str("ignored") })
		})
		return
	}

	// Repeat deliveries of an already-processed event are acknowledged before
	// any order lookup. The reconciler would no-op them anyway; this spares
	// the work and keeps an audit row per event id.
	if evt.EventID != "" {
		seen, err := h.inbox.Seen(r.Context(), evt.EventID)
		if err != nil {
			internalError(w, r, err, zap.String("event_id", evt.EventID))
			return
		}
		if seen {
			lg.Debug("Duplicate webhook delivery acknowledged")
			writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
				e.Field("result", func(e *jx.Encoder) { e.Str("duplicate") })
			})
			return
		}
	}

	ord, err := h.orders.GetByReference(r.Context(), evt.Reference)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			// A validly signed event for an order we do not know should be
			// unreachable; flag it for operators and refuse.
			lg.Error("Webhook references unknown order")
			writeError(w, http.StatusNotFound, "unknown reference")
			return
		}
		internalError(w, r, err, zap.String("reference", evt.Reference))
		return
	}

	updated, err := h.reconciler.Apply(r.Context(), ord, reconcile.Observation{
		SessionStatus: observed,
		SessionID:     evt.SessionID,
		TransactionID: evt.TransactionID,
		Source:        reconcile.SourceWebhook,
	})
	if err != nil {
		internalError(w, r, err,
			zap.Int64("order_id", ord.ID),
			zap.String("reference", evt.Reference))
		return
	}

	// Marked only after the reconciliation write committed: a delivery that
	// failed mid-flight stays unmarked and the gateway's retry gets through.
	if evt.EventID != "" {
		if err := h.inbox.MarkSeen(r.Context(), evt.EventID, evt.EventType); err != nil {
			zctx.From(r.Context()).Warn("Failed to mark webhook event processed",
				zap.String("event_id", evt.EventID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Field("result", func(e *jx.Encoder) { e.Str("processed") })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(updated.Status)) })
	})
}

// verifySignature computes HMAC-SHA256 over the raw body and compares it to
// the hex signature in constant time.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil || len(provided) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.webhookSecret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// sessionStatusFromEvent maps gateway event types onto session statuses.
func sessionStatusFromEvent(eventType string) (string, bool) {
	switch eventType {
	case "checkout.paid":
		return gateway.SessionPaid, true
	case "checkout.failed":
		return gateway.SessionFailed, true
	case "checkout.expired":
		return gateway.SessionExpired, true
	default:
		return "", false
	}
}

func decodeWebhookEvent(body []byte) (*webhookEvent, error) {
	var evt webhookEvent
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "eventId":
			evt.EventID, err = d.Str()
		case "eventType":
			evt.EventType, err = d.Str()
		case "reference":
			evt.Reference, err = d.Str()
		case "sessionId":
			evt.SessionID, err = d.Str()
		case "transactionId":
			evt.TransactionID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, err
	}
	if evt.EventType == "" || evt.Reference == "" {
		return nil, errors.New("eventType and reference are required")
	}
	return &evt, nil
}
