package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Order is the durable record of a customer order. It is the single source of
// truth for payment state: the gateway's view of a checkout session is only
// ever mirrored into Status through the reconciler.
type Order struct {
	ID        int64
	Reference string

	Total    decimal.Decimal
	Currency string

	// CheckoutSessionID is empty until a hosted checkout session is created.
	// Once set it is immutable for the life of that session; it is cleared
	// only when the session is known dead (expired).
	CheckoutSessionID string

	// TransactionID is the gateway transaction reported on completion.
	TransactionID string

	Status Status
	Items  []Item

	CreatedAt       time.Time
	StatusChangedAt time.Time
}

// Item is a single priced line of an order. Items are owned by their order
// and never outlive it.
type Item struct {
	MenuItemID    string          `json:"menu_item_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Customization []byte          `json:"customization,omitempty"`
}

// HasLiveSession reports whether the order carries a checkout session that is
// not known dead. A session on an order whose payment later failed is dead:
// a fresh checkout attempt is allowed.
func (o *Order) HasLiveSession() bool {
	return o.CheckoutSessionID != "" && o.Status != StatusPaymentFailed
}

// AdvanceResult reports the outcome of a conditional status advance.
type AdvanceResult struct {
	// Transitioned is true when this call performed the transition. A false
	// value with no error means the order was already at or past the target.
	Transitioned bool
	Order        *Order
}

// Repository defines persistence operations for orders. Conditional writes
// (AttachSession, AdvanceStatus) must be atomic so that concurrent webhook
// and poll observations cannot lose updates.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByReference(ctx context.Context, reference string) (*Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Order, error)

	// AttachSession sets the checkout session id only when the order has none
	// (or the prior session is dead). It returns the session id now on the
	// order and whether this call won the write. A losing call is not an
	// error: the caller adopts the winner.
	AttachSession(ctx context.Context, orderID int64, sessionID string) (current string, won bool, err error)

	// ClearSession removes the session id, but only while it still matches
	// sessionID. Used when a session is observed expired.
	ClearSession(ctx context.Context, orderID int64, sessionID string) error

	// AdvanceStatus moves the order to target only if that is forward
	// progress from the order's current status. txnID, when non-empty, is
	// recorded as the gateway transaction id.
	AdvanceStatus(ctx context.Context, orderID int64, target Status, txnID string) (AdvanceResult, error)
}

// ErrNotFound is returned by repositories when no order matches the lookup.
var ErrNotFound = errors.New("order not found")
