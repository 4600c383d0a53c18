package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookInbox records which gateway events were already processed. The
// reconciler's conditional status write is what actually makes re-delivery
// safe; the inbox short-circuits repeats before any order lookup and keeps an
// audit trail of every delivery.
type WebhookInbox struct {
	pool *pgxpool.Pool
}

// NewWebhookInbox returns a WebhookInbox that uses the given pool.
func NewWebhookInbox(pool *pgxpool.Pool) *WebhookInbox {
	return &WebhookInbox{pool: pool}
}

// Seen reports whether the event id was already fully processed.
func (i *WebhookInbox) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := i.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`, eventID,
	).Scan(&seen)
	if err != nil {
		return false, errors.Wrapf(err, "check webhook event %s", eventID)
	}
	return seen, nil
}

// MarkSeen records a fully processed event id. Called only after the
// reconciliation write committed, so a delivery that failed mid-flight is
// retried by the gateway rather than skipped. ON CONFLICT DO NOTHING makes
// the insert race-safe.
func (i *WebhookInbox) MarkSeen(ctx context.Context, eventID, eventType string) error {
	_, err := i.pool.Exec(ctx, `
		INSERT INTO webhook_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return errors.Wrapf(err, "mark webhook event %s", eventID)
	}
	return nil
}
