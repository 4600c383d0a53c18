package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tavolohq/tavolo-backend/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// conditional writes (AttachSession, AdvanceStatus) push their guards into
// single UPDATE statements, so concurrent webhook and poll observations
// cannot lose updates regardless of how many service instances run.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, reference, total, currency,
	COALESCE(checkout_session_id, ''), COALESCE(transaction_id, ''),
	status, items, created_at, status_changed_at`

// Create persists a new order. The reference is derived from the generated id
// inside the insert, so it is unique without coordination. Line items are
// serialized to the JSONB column; they are owned by the order and have no
// table of their own.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO orders (total, currency, status, items)
		VALUES ($1, $2, $3, $4)
		RETURNING id, reference, created_at, status_changed_at`,
		o.Total, o.Currency, o.Status, itemsJSON,
	)
	if err := row.Scan(&o.ID, &o.Reference, &o.CreatedAt, &o.StatusChangedAt); err != nil {
		return errors.Wrap(err, "insert order")
	}
	return nil
}

// GetByID loads an order by its numeric id.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetByReference loads an order by its merchant reference.
func (r *OrderRepository) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE reference = $1`, reference))
}

// GetBySessionID loads the order a checkout session is attached to.
func (r *OrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE checkout_session_id = $1`, sessionID))
}

// AttachSession sets the checkout session id if the order has none, or if the
// prior session is dead (payment failed). The UPDATE's WHERE clause is the
// cross-instance idempotency guard: exactly one concurrent caller wins.
func (r *OrderRepository) AttachSession(ctx context.Context, orderID int64, sessionID string) (string, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET checkout_session_id = $2
		WHERE id = $1
		  AND (checkout_session_id IS NULL OR status = $3)`,
		orderID, sessionID, order.StatusPaymentFailed,
	)
	if err != nil {
		return "", false, errors.Wrapf(err, "attach session to order %d", orderID)
	}
	if tag.RowsAffected() == 1 {
		return sessionID, true, nil
	}

	// Lost the race (or the order is gone). Report what is stored now.
	var current string
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(checkout_session_id, '') FROM orders WHERE id = $1`, orderID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, order.ErrNotFound
		}
		return "", false, errors.Wrapf(err, "read session of order %d", orderID)
	}
	return current, false, nil
}

// ClearSession detaches a session, but only while it is still the one stored.
func (r *OrderRepository) ClearSession(ctx context.Context, orderID int64, sessionID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET checkout_session_id = NULL
		WHERE id = $1 AND checkout_session_id = $2`,
		orderID, sessionID,
	)
	if err != nil {
		return errors.Wrapf(err, "clear session of order %d", orderID)
	}
	return nil
}

// AdvanceStatus moves the order to target only when the stored status is one
// the target may legally follow. The check and the write are a single atomic
// UPDATE; a stale or duplicate observation affects zero rows and is reported
// as Transitioned=false, not as an error.
func (r *OrderRepository) AdvanceStatus(ctx context.Context, orderID int64, target order.Status, txnID string) (order.AdvanceResult, error) {
	prior := order.PriorStatuses(target)
	from := make([]string, len(prior))
	for i, s := range prior {
		from[i] = string(s)
	}

	var txn *string
	if txnID != "" {
		txn = &txnID
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET status = $2,
		    transaction_id = COALESCE($3, transaction_id),
		    status_changed_at = NOW()
		WHERE id = $1 AND status = ANY($4)`,
		orderID, target, txn, from,
	)
	if err != nil {
		return order.AdvanceResult{}, errors.Wrapf(err, "advance order %d to %s", orderID, target)
	}

	o, err := r.GetByID(ctx, orderID)
	if err != nil {
		return order.AdvanceResult{}, err
	}
	return order.AdvanceResult{
		Transitioned: tag.RowsAffected() == 1,
		Order:        o,
	}, nil
}

func (r *OrderRepository) scanOne(row pgx.Row) (*order.Order, error) {
	var o order.Order
	var itemsJSON []byte
	var status string
	err := row.Scan(
		&o.ID, &o.Reference, &o.Total, &o.Currency,
		&o.CheckoutSessionID, &o.TransactionID,
		&status, &itemsJSON, &o.CreatedAt, &o.StatusChangedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan order")
	}

	o.Status, err = order.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, errors.Wrap(err, "unmarshal order items")
	}
	return &o, nil
}
