package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/tavolohq/tavolo-backend/internal/domain/menu"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrOrderNotOpen    = errors.New("order can no longer be cancelled")
	ErrItemUnavailable = errors.New("menu item unavailable")
)

// MenuItemNotFoundError indicates a requested menu item does not exist.
type MenuItemNotFoundError struct {
	MenuItemID string
}

func (e *MenuItemNotFoundError) Error() string {
	return fmt.Sprintf("menu item %s not found", e.MenuItemID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	MenuItemID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for menu item %s", e.MenuItemID)
}

// LineRequest is one requested order line before pricing.
type LineRequest struct {
	MenuItemID    string
	Quantity      int
	Customization []byte
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	Items    []LineRequest
	Currency string
}

// Service encapsulates order creation and restaurant-side actions. Payment
// state never changes here; that is the reconciler's job.
type Service struct {
	menu   menu.Repository
	orders Repository
}

// NewService creates an order Service with the required dependencies.
func NewService(menuRepo menu.Repository, orders Repository) *Service {
	return &Service{menu: menuRepo, orders: orders}
}

// Create validates the requested lines, prices them from the menu in a single
// batch, and persists the order in AWAITING_PAYMENT with a fresh reference.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, line := range req.Items {
		if line.Quantity <= 0 {
			return nil, &InvalidQuantityError{MenuItemID: line.MenuItemID}
		}
		ids[i] = line.MenuItemID
	}

	fetched, err := s.menu.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get menu items")
	}
	byID := make(map[string]menu.Item, len(fetched))
	for _, it := range fetched {
		byID[it.ID] = it
	}

	items := make([]Item, len(req.Items))
	total := decimal.Zero
	for i, line := range req.Items {
		it, ok := byID[line.MenuItemID]
		if !ok {
			return nil, &MenuItemNotFoundError{MenuItemID: line.MenuItemID}
		}
		if !it.Available {
			return nil, errors.Wrapf(ErrItemUnavailable, "menu item %s", it.ID)
		}
		items[i] = Item{
			MenuItemID:    line.MenuItemID,
			Quantity:      line.Quantity,
			UnitPrice:     it.Price,
			Customization: line.Customization,
		}
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	o := &Order{
		Total:    total.Round(2),
		Currency: currency,
		Status:   StatusAwaitingPayment,
		Items:    items,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// Cancel marks an order cancelled on explicit restaurant action. Orders that
// already entered preparation cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, orderID int64) (*Order, error) {
	res, err := s.orders.AdvanceStatus(ctx, orderID, StatusCancelled, "")
	if err != nil {
		return nil, err
	}
	if !res.Transitioned {
		return nil, ErrOrderNotOpen
	}
	return res.Order, nil
}
