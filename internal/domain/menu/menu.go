// Package menu holds the catalog surface the order pipeline depends on.
// Catalog management itself (admin CRUD, images) lives outside the core.
package menu

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a menu item does not exist.
var ErrNotFound = errors.New("menu item not found")

// Item is a purchasable menu entry.
type Item struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Category  string
	Available bool
}

// Repository defines read access to the menu.
type Repository interface {
	List(ctx context.Context) ([]Item, error)
	// GetByIDs fetches the given items in one batch. Missing ids are simply
	// absent from the result; callers decide whether that is an error.
	GetByIDs(ctx context.Context, ids []string) ([]Item, error)
}
