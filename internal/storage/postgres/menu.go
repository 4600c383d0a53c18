package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tavolohq/tavolo-backend/internal/domain/menu"
)

var _ menu.Repository = (*MenuRepository)(nil)

// MenuRepository implements menu.Repository backed by PostgreSQL.
type MenuRepository struct {
	pool *pgxpool.Pool
}

// NewMenuRepository returns a MenuRepository that uses the given pool.
func NewMenuRepository(pool *pgxpool.Pool) *MenuRepository {
	return &MenuRepository{pool: pool}
}

// List returns all menu items, available ones first.
func (r *MenuRepository) List(ctx context.Context) ([]menu.Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, price, category, available
		FROM menu_items
		ORDER BY available DESC, category, name`)
	if err != nil {
		return nil, errors.Wrap(err, "list menu items")
	}
	return scanItems(rows)
}

// GetByIDs fetches the given menu items in a single query. Missing ids are
// absent from the result.
func (r *MenuRepository) GetByIDs(ctx context.Context, ids []string) ([]menu.Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, price, category, available
		FROM menu_items
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get menu items")
	}
	return scanItems(rows)
}

func scanItems(rows pgx.Rows) ([]menu.Item, error) {
	defer rows.Close()
	var items []menu.Item
	for rows.Next() {
		var it menu.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Price, &it.Category, &it.Available); err != nil {
			return nil, errors.Wrap(err, "scan menu item")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate menu items")
	}
	return items, nil
}
