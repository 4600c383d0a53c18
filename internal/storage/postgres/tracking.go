package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tavolohq/tavolo-backend/internal/tracking"
)

var _ tracking.Store = (*TrackingStore)(nil)

// TrackingStore persists order lifecycle events.
type TrackingStore struct {
	pool *pgxpool.Pool
}

// NewTrackingStore returns a TrackingStore that uses the given pool.
func NewTrackingStore(pool *pgxpool.Pool) *TrackingStore {
	return &TrackingStore{pool: pool}
}

// Record appends one event row for the order.
func (s *TrackingStore) Record(ctx context.Context, orderID int64, event string, payload []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO order_events (order_id, event, payload)
		VALUES ($1, $2, $3)`,
		orderID, event, payload,
	)
	if err != nil {
		return errors.Wrapf(err, "record %s for order %d", event, orderID)
	}
	return nil
}
