package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavolohq/tavolo-backend/internal/domain/order"
	"github.com/tavolohq/tavolo-backend/internal/gateway"
)

// --- Mock implementations ---

// memOrderRepo is a functional in-memory order repository with the same
// conditional-write semantics as the postgres implementation.
type memOrderRepo struct {
	mu     sync.Mutex
	orders map[int64]*order.Order
}

func newMemOrderRepo(orders ...*order.Order) *memOrderRepo {
	m := &memOrderRepo{orders: make(map[int64]*order.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
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

// mockGateway counts calls and can simulate collisions and delays.
type mockGateway struct {
	createCalls    atomic.Int64
	createDelay    time.Duration
	createErr      error
	byReference    *gateway.Session
	byReferenceErr error
	sessions       sync.Map // id -> *gateway.Session
}

func (g *mockGateway) CreateSession(_ context.Context, reference string, _ decimal.Decimal, _, _ string) (*gateway.Session, error) {
	n := g.createCalls.Add(1)
	if g.createDelay > 0 {
		time.Sleep(g.createDelay)
	}
	if g.createErr != nil {
		return nil, g.createErr
	}
	sess := &gateway.Session{
		ID:        "chk_" + reference,
		PayURL:    "https://pay.example/chk_" + reference,
		Status:    gateway.SessionPending,
		Reference: reference,
	}
	if n > 1 {
		sess.ID = sess.ID + "_dup"
	}
	g.sessions.Store(sess.ID, sess)
	return sess, nil
}

func (g *mockGateway) SessionStatus(_ context.Context, sessionID string) (*gateway.Session, error) {
	if v, ok := g.sessions.Load(sessionID); ok {
		return v.(*gateway.Session), nil
	}
	return &gateway.Session{ID: sessionID, PayURL: "https://pay.example/" + sessionID, Status: gateway.SessionPending}, nil
}

func (g *mockGateway) SessionByReference(_ context.Context, _ string) (*gateway.Session, error) {
	if g.byReferenceErr != nil {
		return nil, g.byReferenceErr
	}
	return g.byReference, nil
}

func awaitingOrder(id int64) *order.Order {
	return &order.Order{
		ID:        id,
		Reference: "ORD-42",
		Total:     decimal.RequireFromString("21.98"),
		Currency:  "USD",
		Status:    order.StatusAwaitingPayment,
	}
}

// --- Tests ---

func TestInitiate_OrderNotFound(t *testing.T) {
	o := NewOrchestrator(newMemOrderRepo(), &mockGateway{})

	_, err := o.Initiate(context.Background(), 99)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestInitiate_CreatesAndPersistsSession(t *testing.T) {
	repo := newMemOrderRepo(awaitingOrder(42))
	gw := &mockGateway{}
	o := NewOrchestrator(repo, gw)

	res, err := o.Initiate(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "chk_ORD-42", res.SessionID)
	assert.Equal(t, "https://pay.example/chk_ORD-42", res.PayURL)

	stored, err := repo.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "chk_ORD-42", stored.CheckoutSessionID)
	assert.Equal(t, order.StatusAwaitingPayment, stored.Status, "initiation must not change status")
}

func TestInitiate_IdempotentReentry(t *testing.T) {
	repo := newMemOrderRepo(awaitingOrder(42))
	gw := &mockGateway{}
	o := NewOrchestrator(repo, gw)

	first, err := o.Initiate(context.Background(), 42)
	require.NoError(t, err)
	second, err := o.Initiate(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, int64(1), gw.createCalls.Load(), "exactly one session created at the gateway")
}

func TestInitiate_ConcurrentRequestsCollapse(t *testing.T) {
	repo := newMemOrderRepo(awaitingOrder(42))
	gw := &mockGateway{createDelay: 50 * time.Millisecond}
	o := NewOrchestrator(repo, gw)

	const parallel = 8
	results := make([]*Result, parallel)
	errs := make([]error, parallel)
	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Initiate(context.Background(), 42)
		}(i)
	}
	wg.Wait()

	for i := 0; i < parallel; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].SessionID, results[i].SessionID)
	}
	assert.Equal(t, int64(1), gw.createCalls.Load(), "concurrent retries must not create extra sessions")
}

func TestInitiate_LostAttachRaceAdoptsWinner(t *testing.T) {
	ord := awaitingOrder(42)
	repo := newMemOrderRepo(ord)
	gw := &mockGateway{}
	o := NewOrchestrator(repo, gw)

	// Another instance attached a session between our read and our write.
	created, err := gw.CreateSession(context.Background(), "ORD-42", ord.Total, "USD", "")
	require.NoError(t, err)
	_, won, err := repo.AttachSession(context.Background(), 42, created.ID)
	require.NoError(t, err)
	require.True(t, won)

	res, err := o.Initiate(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, created.ID, res.SessionID)
	assert.Equal(t, int64(1), gw.createCalls.Load())
}

func TestInitiate_DuplicateCollisionRecovered(t *testing.T) {
	repo := newMemOrderRepo(awaitingOrder(42))
	existing := &gateway.Session{
		ID:     "chk_prior",
		PayURL: "https://pay.example/chk_prior",
		Status: gateway.SessionPending,
	}
	gw := &mockGateway{createErr: gateway.ErrDuplicateSession, byReference: existing}
	o := NewOrchestrator(repo, gw)

	res, err := o.Initiate(context.Background(), 42)
	require.NoError(t, err, "collision must be transparent to the caller")
	assert.Equal(t, "chk_prior", res.SessionID)

	stored, err := repo.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "chk_prior", stored.CheckoutSessionID)
}

func TestInitiate_DuplicateCollisionUnrecoverable(t *testing.T) {
	repo := newMemOrderRepo(awaitingOrder(42))
	gw := &mockGateway{createErr: gateway.ErrDuplicateSession, byReferenceErr: gateway.ErrSessionNotFound}
	o := NewOrchestrator(repo, gw)

	_, err := o.Initiate(context.Background(), 42)
	require.ErrorIs(t, err, ErrSessionUnrecoverable)
}

func TestInitiate_FreshSessionAfterPaymentFailed(t *testing.T) {
	ord := awaitingOrder(42)
	ord.Status = order.StatusPaymentFailed
	ord.CheckoutSessionID = "chk_dead"
	repo := newMemOrderRepo(ord)
	gw := &mockGateway{}
	o := NewOrchestrator(repo, gw)

	res, err := o.Initiate(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "chk_ORD-42", res.SessionID, "dead session must be replaced")
	assert.Equal(t, int64(1), gw.createCalls.Load())
}

func TestInitiate_GatewayDown(t *testing.T) {
	repo := newMemOrderRepo(awaitingOrder(42))
	gw := &mockGateway{createErr: gateway.ErrUnavailable}
	o := NewOrchestrator(repo, gw)

	_, err := o.Initiate(context.Background(), 42)
	require.ErrorIs(t, err, gateway.ErrUnavailable)

	stored, err := repo.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, stored.CheckoutSessionID, "no session persisted on failure")
}
