package discount

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lois2311/pyro-backend/internal/domain/order"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	// conflicts makes the next N updates fail with ErrVersionConflict.
	conflicts int
	updateErr error
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

func (m *mockOrderRepo) GetByTransactionID(context.Context, string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (m *mockOrderRepo) List(context.Context) ([]order.Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) Update(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
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
	o.Version++
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *mockOrderRepo) AppendPaymentEvent(context.Context, string, []byte) error {
	return nil
}

func (m *mockOrderRepo) stored(id string) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.orders[id])
}

type mockDiscountRepo struct {
	mu        sync.Mutex
	discounts map[string]*Discount
	apps      map[string]*Application
	createErr error
	// exhaustOnCommit simulates a concurrent redemption that used the last
	// slot between the eligibility check and the commit.
	exhaustOnCommit bool
	commitErr       error
}

func newMockDiscountRepo(discounts ...*Discount) *mockDiscountRepo {
	m := &mockDiscountRepo{
		discounts: make(map[string]*Discount),
		apps:      make(map[string]*Application),
	}
	for _, disc := range discounts {
		m.discounts[disc.ID] = disc
	}
	return m
}

func (m *mockDiscountRepo) Create(_ context.Context, disc *Discount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.discounts {
		if existing.Code == disc.Code {
			return ErrCodeTaken
		}
	}
	c := *disc
	m.discounts[disc.ID] = &c
	return nil
}

func (m *mockDiscountRepo) List(context.Context) ([]Discount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Discount
	for _, disc := range m.discounts {
		out = append(out, *disc)
	}
	return out, nil
}

func (m *mockDiscountRepo) FindActiveByCode(_ context.Context, code string) (*Discount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, disc := range m.discounts {
		if disc.Code == code && disc.Active {
			c := *disc
			return &c, nil
		}
	}
	return nil, ErrNotFoundOrInactive
}

func (m *mockDiscountRepo) CreateApplication(_ context.Context, a *Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.apps[a.ID] = &c
	return nil
}

func (m *mockDiscountRepo) GetApplication(_ context.Context, id string) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return nil, ErrApplicationNotFound
	}
	c := *a
	return &c, nil
}

func (m *mockDiscountRepo) CommitApplication(_ context.Context, a *Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	stored, ok := m.apps[a.ID]
	if !ok || stored.State != StatePending {
		return ErrApplicationSettled
	}
	disc := m.discounts[a.DiscountID]
	if m.exhaustOnCommit {
		disc.UsedCount = disc.MaxUses
	}
	if disc.Exhausted() {
		return ErrExhausted
	}
	disc.UsedCount++
	stored.State = StateCompleted
	return nil
}

func (m *mockDiscountRepo) SetApplicationState(_ context.Context, id string, from, to ApplicationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok || a.State != from {
		return ErrApplicationSettled
	}
	a.State = to
	return nil
}

func (m *mockDiscountRepo) ListPendingApplications(_ context.Context, before time.Time) ([]Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Application
	for _, a := range m.apps {
		if a.State == StatePending && a.CreatedAt.Before(before) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockDiscountRepo) CountApplications(_ context.Context, orderID, discountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.apps {
		if a.OrderID == orderID && a.DiscountID == discountID &&
			(a.State == StatePending || a.State == StateCompleted) {
			n++
		}
	}
	return n, nil
}

func (m *mockDiscountRepo) appStates() []ApplicationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ApplicationState
	for _, a := range m.apps {
		out = append(out, a.State)
	}
	return out
}

func (m *mockDiscountRepo) used(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discounts[id].UsedCount
}

// --- Helpers ---

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newOrder(id, total string) *order.Order {
	o := &order.Order{
		ID:      id,
		Items:   []order.LineItem{order.NewLineItem("p1", 1, d(total))},
		Status:  order.StatusPending,
		Version: 1,
	}
	if err := o.Recalculate(); err != nil {
		panic(err)
	}
	return o
}

func percentOff(id, code, value string) *Discount {
	return &Discount{ID: id, Name: code, Code: code, Kind: KindPercentage, Value: d(value), Active: true}
}

func newTestEngine(orders *mockOrderRepo, discounts *mockDiscountRepo, opts ...Option) *Engine {
	e := NewEngine(orders, discounts, opts...)
	e.now = func() time.Time { return fixedNow }
	return e
}

// --- Tests ---

func TestEngine_Apply(t *testing.T) {
	t.Run("percentage on 250 total", func(t *testing.T) {
		orders := newMockOrderRepo(newOrder("o1", "250"))
		discounts := newMockDiscountRepo(percentOff("d1", "SAVE10", "10"))
		e := newTestEngine(orders, discounts)

		res, err := e.Apply(context.Background(), "o1", "SAVE10")
		require.NoError(t, err)

		assert.True(t, d("25").Equal(res.Order.Discount))
		assert.True(t, d("225").Equal(res.Order.Total))
		assert.Equal(t, StateCompleted, res.Application.State)
		assert.Equal(t, 1, res.Discount.UsedCount)
		assert.Equal(t, 1, discounts.used("d1"))

		stored := orders.stored("o1")
		assert.True(t, d("225").Equal(stored.Total))
		assert.Equal(t, []string{res.Application.ID}, stored.AppliedDiscounts)
	})

	t.Run("fixed amount clamped to total", func(t *testing.T) {
		orders := newMockOrderRepo(newOrder("o1", "40"))
		discounts := newMockDiscountRepo(&Discount{
			ID: "d1", Name: "Big", Code: "BIG-100", Kind: KindFixedAmount, Value: d("100"), Active: true,
		})
		e := newTestEngine(orders, discounts)

		res, err := e.Apply(context.Background(), "o1", "BIG-100")
		require.NoError(t, err)
		assert.True(t, d("40").Equal(res.Order.Discount))
		assert.True(t, res.Order.Total.IsZero())
	})

	t.Run("discounts accumulate", func(t *testing.T) {
		orders := newMockOrderRepo(newOrder("o1", "200"))
		discounts := newMockDiscountRepo(percentOff("d1", "SAVE10", "10"))
		e := newTestEngine(orders, discounts)

		_, err := e.Apply(context.Background(), "o1", "SAVE10")
		require.NoError(t, err)
		res, err := e.Apply(context.Background(), "o1", "SAVE10")
		require.NoError(t, err)

		// 10% of 200, then 10% of 180.
		assert.True(t, d("38").Equal(res.Order.Discount))
		assert.True(t, d("162").Equal(res.Order.Total))
	})

	t.Run("single use per order", func(t *testing.T) {
		orders := newMockOrderRepo(newOrder("o1", "200"))
		discounts := newMockDiscountRepo(percentOff("d1", "SAVE10", "10"))
		e := newTestEngine(orders, discounts, WithSingleUsePerOrder(true))

		_, err := e.Apply(context.Background(), "o1", "SAVE10")
		require.NoError(t, err)
		_, err = e.Apply(context.Background(), "o1", "SAVE10")
		assert.True(t, errors.Is(err, ErrAlreadyApplied))
		assert.True(t, d("180").Equal(orders.stored("o1").Total))
	})

	t.Run("order not found", func(t *testing.T) {
		e := newTestEngine(newMockOrderRepo(), newMockDiscountRepo(percentOff("d1", "SAVE10", "10")))
		_, err := e.Apply(context.Background(), "missing", "SAVE10")
		assert.True(t, errors.Is(err, order.ErrNotFound))
	})

	t.Run("inactive discount", func(t *testing.T) {
		disc := percentOff("d1", "SAVE10", "10")
		disc.Active = false
		e := newTestEngine(newMockOrderRepo(newOrder("o1", "100")), newMockDiscountRepo(disc))
		_, err := e.Apply(context.Background(), "o1", "SAVE10")
		assert.True(t, errors.Is(err, ErrNotFoundOrInactive))
	})

	t.Run("exhausted before apply writes nothing", func(t *testing.T) {
		disc := percentOff("d1", "SAVE10", "10")
		disc.MaxUses, disc.UsedCount = 3, 3
		orders := newMockOrderRepo(newOrder("o1", "100"))
		discounts := newMockDiscountRepo(disc)
		e := newTestEngine(orders, discounts)

		_, err := e.Apply(context.Background(), "o1", "SAVE10")
		assert.True(t, errors.Is(err, ErrExhausted))
		assert.Empty(t, discounts.appStates())
		assert.True(t, orders.stored("o1").Discount.IsZero())
	})

	t.Run("lost usage race compensates order", func(t *testing.T) {
		disc := percentOff("d1", "SAVE10", "10")
		disc.MaxUses = 1
		orders := newMockOrderRepo(newOrder("o1", "250"))
		discounts := newMockDiscountRepo(disc)
		discounts.exhaustOnCommit = true
		e := newTestEngine(orders, discounts)

		_, err := e.Apply(context.Background(), "o1", "SAVE10")
		assert.True(t, errors.Is(err, ErrExhausted))

		stored := orders.stored("o1")
		assert.True(t, stored.Discount.IsZero())
		assert.True(t, d("250").Equal(stored.Total))
		assert.Empty(t, stored.AppliedDiscounts)
		assert.Equal(t, []ApplicationState{StateCompensated}, discounts.appStates())
	})

	t.Run("version conflict aborts intent", func(t *testing.T) {
		orders := newMockOrderRepo(newOrder("o1", "250"))
		orders.conflicts = 1
		discounts := newMockDiscountRepo(percentOff("d1", "SAVE10", "10"))
		e := newTestEngine(orders, discounts)

		_, err := e.Apply(context.Background(), "o1", "SAVE10")
		assert.True(t, errors.Is(err, order.ErrVersionConflict))
		assert.Equal(t, []ApplicationState{StateAborted}, discounts.appStates())
		assert.Equal(t, 0, discounts.used("d1"))
	})

	t.Run("order store failure leaves intent pending", func(t *testing.T) {
		orders := newMockOrderRepo(newOrder("o1", "250"))
		orders.updateErr = errors.New("connection reset")
		discounts := newMockDiscountRepo(percentOff("d1", "SAVE10", "10"))
		e := newTestEngine(orders, discounts)

		_, err := e.Apply(context.Background(), "o1", "SAVE10")
		require.Error(t, err)
		assert.Equal(t, []ApplicationState{StatePending}, discounts.appStates())
	})
}

func TestEngine_Apply_ConcurrentLastUse(t *testing.T) {
	disc := percentOff("d1", "LAST-ONE", "10")
	disc.MaxUses = 1

	const n = 8
	var seed []*order.Order
	for i := range n {
		seed = append(seed, newOrder(string(rune('a'+i)), "100"))
	}
	orders := newMockOrderRepo(seed...)
	discounts := newMockDiscountRepo(disc)
	e := newTestEngine(orders, discounts)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, o := range seed {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.Apply(context.Background(), id, "LAST-ONE")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrExhausted), "unexpected error %v", err)
		}(o.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, discounts.used("d1"))

	discounted := 0
	for _, o := range seed {
		if !orders.stored(o.ID).Discount.IsZero() {
			discounted++
		}
	}
	assert.Equal(t, 1, discounted)
}

func TestEngine_ReconcilePending(t *testing.T) {
	stale := fixedNow.Add(-time.Hour)

	// Order write never happened.
	untouched := newOrder("o1", "100")

	// Order carries the amount, usage not yet counted.
	applied := newOrder("o2", "100")
	require.NoError(t, applied.AddDiscount("app-2", d("10")))

	// Order carries the amount, but the discount ran out meanwhile.
	late := newOrder("o3", "100")
	require.NoError(t, late.AddDiscount("app-3", d("5")))

	open := percentOff("d1", "OPEN-10", "10")
	capped := &Discount{ID: "d2", Name: "capped", Code: "CAP-5", Kind: KindFixedAmount, Value: d("5"), Active: true, MaxUses: 1, UsedCount: 1}

	orders := newMockOrderRepo(untouched, applied, late)
	discounts := newMockDiscountRepo(open, capped)
	for _, a := range []*Application{
		{ID: "app-1", OrderID: "o1", DiscountID: "d1", Amount: d("10"), State: StatePending, CreatedAt: stale},
		{ID: "app-2", OrderID: "o2", DiscountID: "d1", Amount: d("10"), State: StatePending, CreatedAt: stale},
		{ID: "app-3", OrderID: "o3", DiscountID: "d2", Amount: d("5"), State: StatePending, CreatedAt: stale},
		{ID: "app-4", OrderID: "o2", DiscountID: "d1", Amount: d("10"), State: StatePending, CreatedAt: fixedNow},
	} {
		require.NoError(t, discounts.CreateApplication(context.Background(), a))
	}
	e := newTestEngine(orders, discounts)

	report, err := e.ReconcilePending(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Completed: 1, Aborted: 1, Compensated: 1}, report)

	get := func(id string) ApplicationState {
		a, err := discounts.GetApplication(context.Background(), id)
		require.NoError(t, err)
		return a.State
	}
	assert.Equal(t, StateAborted, get("app-1"))
	assert.Equal(t, StateCompleted, get("app-2"))
	assert.Equal(t, StateCompensated, get("app-3"))
	assert.Equal(t, StatePending, get("app-4"), "recent intents are left alone")

	assert.Equal(t, 1, discounts.used("d1"))
	lateStored := orders.stored("o3")
	assert.True(t, lateStored.Discount.IsZero())
	assert.True(t, d("100").Equal(lateStored.Total))

	// Running again finds nothing stale.
	report, err = e.ReconcilePending(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{}, report)
}

func TestEngine_Create(t *testing.T) {
	t.Run("stores normalized discount", func(t *testing.T) {
		discounts := newMockDiscountRepo()
		e := newTestEngine(newMockOrderRepo(), discounts)

		disc := &Discount{Name: " Spring ", Code: " SPRING-26 ", Kind: KindPercentage, Value: d("12.345"), Active: true, UsedCount: 7}
		require.NoError(t, e.Create(context.Background(), disc))

		assert.NotEmpty(t, disc.ID)
		assert.Equal(t, "Spring", disc.Name)
		assert.Equal(t, "SPRING-26", disc.Code)
		assert.True(t, d("12.35").Equal(disc.Value))
		assert.Equal(t, 0, disc.UsedCount)
		assert.Equal(t, fixedNow, disc.CreatedAt)

		list, err := e.List(context.Background())
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("duplicate code", func(t *testing.T) {
		discounts := newMockDiscountRepo(percentOff("d1", "SPRING-26", "10"))
		e := newTestEngine(newMockOrderRepo(), discounts)

		err := e.Create(context.Background(), &Discount{Name: "Again", Code: "SPRING-26", Kind: KindPercentage, Value: d("5")})
		assert.True(t, errors.Is(err, ErrCodeTaken))
	})

	t.Run("invalid code", func(t *testing.T) {
		e := newTestEngine(newMockOrderRepo(), newMockDiscountRepo())
		err := e.Create(context.Background(), &Discount{Name: "x", Code: "a!", Kind: KindPercentage, Value: d("5")})
		assert.True(t, errors.Is(err, ErrInvalidCode))
	})

	t.Run("store error is wrapped", func(t *testing.T) {
		discounts := newMockDiscountRepo()
		discounts.createErr = errors.New("disk full")
		e := newTestEngine(newMockOrderRepo(), discounts)
		err := e.Create(context.Background(), &Discount{Name: "x", Code: "ABCD", Kind: KindFixedAmount, Value: decimal.NewFromInt(5)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create discount")
	})
}
