package payment

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lois2311/pyro-backend/internal/domain/order"
)

type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	// conflicts makes the next N updates fail with ErrVersionConflict.
	conflicts int
	updates   int
	appendErr error
}

func newMockOrderRepo(orders ...*order.Order) *mockOrderRepo {
	m := &mockOrderRepo{orders: make(map[string]*order.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.PaymentEvents = append([][]byte(nil), o.PaymentEvents...)
	c.AppliedDiscounts = append([]string(nil), o.AppliedDiscounts...)
	return &c
}

func (m *mockOrderRepo) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *mockOrderRepo) GetByTransactionID(_ context.Context, txID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PaymentTransactionID == txID {
			return cloneOrder(o), nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *mockOrderRepo) List(context.Context) ([]order.Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) Update(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return order.ErrVersionConflict
	}
	cur, ok := m.orders[o.ID]
	if !ok {
		return order.ErrNotFound
	}
	if cur.Version != o.Version {
		return order.ErrVersionConflict
	}
	m.updates++
	o.Version++
	stored := cloneOrder(o)
	stored.PaymentEvents = cur.PaymentEvents
	m.orders[o.ID] = stored
	return nil
}

func (m *mockOrderRepo) AppendPaymentEvent(_ context.Context, id string, event []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.PaymentEvents = append(o.PaymentEvents, event)
	return nil
}

func (m *mockOrderRepo) stored(id string) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.orders[id])
}

type mockGateway struct {
	tx    *Transaction
	err   error
	calls int
	req   TransactionRequest
	key   string
}

func (m *mockGateway) CreateTransaction(_ context.Context, req TransactionRequest, key string) (*Transaction, error) {
	m.calls++
	m.req = req
	m.key = key
	if m.err != nil {
		return nil, m.err
	}
	return m.tx, nil
}

type memoryStore struct {
	items map[string]*Transaction
}

func (m *memoryStore) Load(_ context.Context, key string) (*Transaction, bool, error) {
	tx, ok := m.items[key]
	return tx, ok, nil
}

func (m *memoryStore) Save(_ context.Context, key string, tx *Transaction) error {
	if m.items == nil {
		m.items = make(map[string]*Transaction)
	}
	m.items[key] = tx
	return nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newOrder(id, total, currency string) *order.Order {
	o := &order.Order{
		ID:       id,
		Items:    []order.LineItem{order.NewLineItem("p1", 1, d(total))},
		Currency: currency,
		Status:   order.StatusPending,
		Version:  1,
	}
	if err := o.Recalculate(); err != nil {
		panic(err)
	}
	return o
}
