package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/tavolohq/tavolo-backend/internal/domain/order"
	"github.com/tavolohq/tavolo-backend/internal/gateway"
)

// CreateOrder handles POST /api/orders. Plumbing around the core: prices the
// requested lines from the menu and opens the order in AWAITING_PAYMENT.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	req, err := decodeCreateOrder(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ord, err := h.orderService.Create(r.Context(), *req)
	if err != nil {
		var notFound *order.MenuItemNotFoundError
		var badQty *order.InvalidQuantityError
		switch {
		case errors.Is(err, order.ErrEmptyItems):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &notFound), errors.As(err, &badQty),
			errors.Is(err, order.ErrItemUnavailable):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			internalError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeOrder(e, ord)
	})
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	ord, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		internalError(w, r, err, zap.Int64("order_id", id))
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, ord)
	})
}

// OrderStatus handles GET /api/orders/{id}/status, the client polling
// endpoint. Deliberately small: id, status, session id.
func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	ord, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		internalError(w, r, err, zap.Int64("order_id", id))
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(ord.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(ord.Status)) })
		e.Field("sessionId", func(e *jx.Encoder) { e.Str(ord.CheckoutSessionID) })
	})
}

// VerifyPayment handles POST /api/orders/{id}/verify-payment, the forced
// reconciliation fallback for clients returning from the hosted payment page
// before the webhook lands.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	ord, err := h.reconciler.VerifyPayment(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, gateway.ErrUnavailable):
			writeError(w, http.StatusBadGateway, "couldn't reach payment provider, try again")
		default:
			internalError(w, r, err, zap.Int64("order_id", id))
		}
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(ord.ID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(ord.Status)) })
		e.Field("sessionId", func(e *jx.Encoder) { e.Str(ord.CheckoutSessionID) })
	})
}

// CancelOrder handles POST /api/orders/{id}/cancel, an explicit restaurant
// action, legal only before preparation starts.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	ord, err := h.orderService.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, order.ErrOrderNotOpen):
			writeError(w, http.StatusConflict, "order can no longer be cancelled")
		default:
			internalError(w, r, err, zap.Int64("order_id", id))
		}
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, ord)
	})
}

func decodeCreateOrder(body []byte) (*order.CreateRequest, error) {
	var req order.CreateRequest
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "currency":
			v, err := d.Str()
			req.Currency = v
			return err
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var line order.LineRequest
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "menuItemId":
						line.MenuItemID, err = d.Str()
					case "quantity":
						line.Quantity, err = d.Int()
					case "customization":
						raw, rawErr := d.Raw()
						line.Customization = []byte(raw)
						err = rawErr
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, line)
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "malformed order request")
	}
	return &req, nil
}

func encodeOrder(e *jx.Encoder, ord *order.Order) {
	e.Field("id", func(e *jx.Encoder) { e.Int64(ord.ID) })
	e.Field("reference", func(e *jx.Encoder) { e.Str(ord.Reference) })
	e.Field("total", func(e *jx.Encoder) { e.Str(ord.Total.StringFixed(2)) })
	e.Field("currency", func(e *jx.Encoder) { e.Str(ord.Currency) })
	e.Field("status", func(e *jx.Encoder) { e.Str(string(ord.Status)) })
	if ord.CheckoutSessionID != "" {
		e.Field("sessionId", func(e *jx.Encoder) { e.Str(ord.CheckoutSessionID) })
	}
	if ord.TransactionID != "" {
		e.Field("transactionId", func(e *jx.Encoder) { e.Str(ord.TransactionID) })
	}
	e.Field("items", func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, it := range ord.Items {
				item := it
				e.Obj(func(e *jx.Encoder) {
					e.Field("menuItemId", func(e *jx.Encoder) { e.Str(item.MenuItemID) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
					e.Field("unitPrice", func(e *jx.Encoder) { e.Str(item.UnitPrice.StringFixed(2)) })
				})
			}
		})
	})
	e.Field("createdAt", func(e *jx.Encoder) { e.Str(ord.CreatedAt.Format(timeFormat)) })
}
