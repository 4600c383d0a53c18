//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"regexp"
	"testing"
)

var referencePattern = regexp.MustCompile(`^ORD-[0-9]+$`)

func TestListMenu(t *testing.T) {
	resp := doGet(t, "/api/menu")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	items := decodeJSON[[]menuItemResponse](t, resp)
	if len(items) != 8 {
		t.Fatalf("expected 8 menu items, got %d", len(items))
	}

	byID := make(map[string]menuItemResponse, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	if byID["margherita"].Price != "12.50" {
		t.Errorf("margherita price: got %q, want 12.50", byID["margherita"].Price)
	}
	if byID["espresso"].Available {
		t.Error("espresso should be unavailable")
	}
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{Items: []orderItemRequest{}})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateOrder_UnknownItem(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{
		Items: []orderItemRequest{{MenuItemID: "no-such-dish", Quantity: 1}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestCreateOrder_UnavailableItem(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{
		Items: []orderItemRequest{{MenuItemID: "espresso", Quantity: 1}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestCreateOrder_TotalsAndReference(t *testing.T) {
	resp := doPost(t, "/api/orders", orderRequest{
		Items: []orderItemRequest{
			{MenuItemID: "margherita", Quantity: 2}, // 2 x 12.50
			{MenuItemID: "tiramisu", Quantity: 1},   // 1 x 6.50
		},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	ord := decodeJSON[orderResponse](t, resp)
	if ord.Total != "31.50" {
		t.Errorf("total: got %q, want 31.50", ord.Total)
	}
	if ord.Currency != "USD" {
		t.Errorf("currency: got %q, want USD", ord.Currency)
	}
	if ord.Status != "AWAITING_PAYMENT" {
		t.Errorf("status: got %q, want AWAITING_PAYMENT", ord.Status)
	}
	if !referencePattern.MatchString(ord.Reference) {
		t.Errorf("reference %q does not match ORD-<id>", ord.Reference)
	}
	if len(ord.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(ord.Items))
	}
	if ord.Items[0].UnitPrice != "12.50" {
		t.Errorf("unit price: got %q, want 12.50", ord.Items[0].UnitPrice)
	}
}

func TestGetOrder(t *testing.T) {
	created := placeOrder(t, "carbonara", 1)

	resp := doGet(t, fmt.Sprintf("/api/orders/%d", created.ID))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	got := decodeJSON[orderResponse](t, resp)
	if got.ID != created.ID || got.Total != "13.50" {
		t.Errorf("got order %+v", got)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	resp := doGet(t, "/api/orders/99999999")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestOrderStatus_Polling(t *testing.T) {
	created := placeOrder(t, "lemonade", 2)

	resp := doGet(t, fmt.Sprintf("/api/orders/%d/status", created.ID))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	st := decodeJSON[statusResponse](t, resp)
	if st.Status != "AWAITING_PAYMENT" {
		t.Errorf("status: got %q, want AWAITING_PAYMENT", st.Status)
	}
	if st.SessionID != "" {
		t.Errorf("session id before checkout: got %q, want empty", st.SessionID)
	}
}

func TestCancelOrder_BeforePayment(t *testing.T) {
	created := placeOrder(t, "house-salad", 1)

	resp := doPost(t, fmt.Sprintf("/api/orders/%d/cancel", created.ID), nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	got := decodeJSON[orderResponse](t, resp)
	if got.Status != "CANCELLED" {
		t.Errorf("status: got %q, want CANCELLED", got.Status)
	}

	// Cancelling again is a conflict: CANCELLED is terminal.
	again := doPost(t, fmt.Sprintf("/api/orders/%d/cancel", created.ID), nil)
	defer again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", again.StatusCode)
	}
}

// placeOrder creates a fresh order and fails the test on any error.
func placeOrder(t *testing.T, menuItemID string, quantity int) orderResponse {
	t.Helper()

	resp := doPost(t, "/api/orders", orderRequest{
		Items: []orderItemRequest{{MenuItemID: menuItemID, Quantity: quantity}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("place order: expected 201, got %d", resp.StatusCode)
	}
	return decodeJSON[orderResponse](t, resp)
}
