package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tavolohq/tavolo-backend/internal/checkout"
	"github.com/tavolohq/tavolo-backend/internal/domain/menu"
	"github.com/tavolohq/tavolo-backend/internal/domain/order"
	"github.com/tavolohq/tavolo-backend/internal/gateway"
	"github.com/tavolohq/tavolo-backend/internal/reconcile"
)

const testSecret = "wh_secret"

// --- Mock implementations ---

type memOrderRepo struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*order.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{nextID: 1, orders: make(map[int64]*order.Order)}
}

func (m *memOrderRepo) add(o *order.Order) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		o.ID = m.nextID
	}
	if o.ID >= m.nextID {
		m.nextID = o.ID + 1
	}
	o.Reference = "ORD-" + strconv.FormatInt(o.ID, 10)
	o.CreatedAt = time.Now()
	o.StatusChangedAt = o.CreatedAt
	m.orders[o.ID] = o
	return o
}

func (m *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	m.add(o)
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id int64) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) GetByReference(_ context.Context, ref string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Reference == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *memOrderRepo) GetBySessionID(_ context.Context, sessionID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.CheckoutSessionID == sessionID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *memOrderRepo) AttachSession(_ context.Context, orderID int64, sessionID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return "", false, order.ErrNotFound
	}
	if o.CheckoutSessionID == "" || o.Status == order.StatusPaymentFailed {
		o.CheckoutSessionID = sessionID
		return sessionID, true, nil
	}
	return o.CheckoutSessionID, false, nil
}

func (m *memOrderRepo) ClearSession(_ context.Context, orderID int64, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok && o.CheckoutSessionID == sessionID {
		o.CheckoutSessionID = ""
	}
	return nil
}

func (m *memOrderRepo) AdvanceStatus(_ context.Context, orderID int64, target order.Status, txnID string) (order.AdvanceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return order.AdvanceResult{}, order.ErrNotFound
	}
	if !o.Status.CanAdvanceTo(target) {
		cp := *o
		return order.AdvanceResult{Transitioned: false, Order: &cp}, nil
	}
	o.Status = target
	if txnID != "" {
		o.TransactionID = txnID
	}
	o.StatusChangedAt = time.Now()
	cp := *o
	return order.AdvanceResult{Transitioned: true, Order: &cp}, nil
}

type memMenuRepo struct {
	items []menu.Item
}

func (m *memMenuRepo) List(_ context.Context) ([]menu.Item, error) {
	return m.items, nil
}

func (m *memMenuRepo) GetByIDs(_ context.Context, ids []string) ([]menu.Item, error) {
	var out []menu.Item
	for _, id := range ids {
		for _, it := range m.items {
			if it.ID == id {
				out = append(out, it)
			}
		}
	}
	return out, nil
}

type memInbox struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemInbox() *memInbox {
	return &memInbox{seen: make(map[string]bool)}
}

func (i *memInbox) Seen(_ context.Context, eventID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seen[eventID], nil
}

func (i *memInbox) MarkSeen(_ context.Context, eventID, _ string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen[eventID] = true
	return nil
}

type fakeGateway struct {
	mu          sync.Mutex
	createCalls int
	sessions    map[string]*gateway.Session
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*gateway.Session)}
}

func (g *fakeGateway) CreateSession(_ context.Context, reference string, _ decimal.Decimal, _, _ string) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	sess := &gateway.Session{
		ID:        "chk_abc",
		PayURL:    "https://pay.example/chk_abc",
		Status:    gateway.SessionPending,
		Reference: reference,
	}
	g.sessions[sess.ID] = sess
	return sess, nil
}

func (g *fakeGateway) SessionStatus(_ context.Context, sessionID string) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[sessionID]
	if !ok {
		return nil, gateway.ErrSessionNotFound
	}
	return sess, nil
}

func (g *fakeGateway) SessionByReference(_ context.Context, reference string) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sess := range g.sessions {
		if sess.Reference == reference {
			return sess, nil
		}
	}
	return nil, gateway.ErrSessionNotFound
}

// setPaid flips a session to paid, simulating gateway-side completion.
func (g *fakeGateway) setPaid(sessionID, txnID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sess, ok := g.sessions[sessionID]; ok {
		sess.Status = gateway.SessionPaid
		sess.TransactionID = txnID
	}
}

type countingTracker struct {
	placed atomic.Int64
	failed atomic.Int64
}

func (t *countingTracker) OrderPlaced(_ context.Context, _ *order.Order)   { t.placed.Add(1) }
func (t *countingTracker) PaymentFailed(_ context.Context, _ *order.Order) { t.failed.Add(1) }

// --- Harness ---

type fixture struct {
	repo    *memOrderRepo
	gateway *fakeGateway
	tracker *countingTracker
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemOrderRepo()
	gw := newFakeGateway()
	tracker := &countingTracker{}
	menuRepo := &memMenuRepo{items: []menu.Item{
		{ID: "margherita", Name: "Margherita Pizza", Price: decimal.RequireFromString("12.50"), Category: "pizza", Available: true},
		{ID: "tiramisu", Name: "Tiramisu", Price: decimal.RequireFromString("9.48"), Category: "dessert", Available: true},
	}}

	h := New(
		Config{WebhookSecret: []byte(testSecret)},
		repo,
		order.NewService(menuRepo, repo),
		menuRepo,
		checkout.NewOrchestrator(repo, gw),
		reconcile.New(repo, gw, tracker),
		gw,
		newMemInbox(),
	)

	mux := http.NewServeMux()
	h.Routes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{repo: repo, gateway: gw, tracker: tracker, server: server}
}

func (f *fixture) seedOrder(t *testing.T, id int64, total string) *order.Order {
	t.Helper()
	return f.repo.add(&order.Order{
		ID:       id,
		Total:    decimal.RequireFromString(total),
		Currency: "USD",
		Status:   order.StatusAwaitingPayment,
		Items: []order.Item{
			{MenuItemID: "margherita", Quantity: 1, UnitPrice: decimal.RequireFromString("12.50")},
			{MenuItemID: "tiramisu", Quantity: 1, UnitPrice: decimal.RequireFromString("9.48")},
		},
	})
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *fixture) postWebhook(t *testing.T, body, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/webhook", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (f *fixture) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}
