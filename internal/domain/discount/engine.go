package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/lois2311/pyro-backend/internal/domain/order"
	"github.com/lois2311/pyro-backend/internal/telemetry"
)

const maxUpdateAttempts = 3

// Result is the outcome of a successful Apply.
type Result struct {
	Order       *order.Order
	Discount    *Discount
	Application *Application
}

// ReconcileReport counts how ReconcilePending settled stuck applications.
type ReconcileReport struct {
	Completed   int
	Aborted     int
	Compensated int
	Failed      int
}

// Option configures an Engine.
type Option func(*Engine)

// WithSingleUsePerOrder rejects a second application of the same discount on
// one order with ErrAlreadyApplied.
func WithSingleUsePerOrder(enabled bool) Option {
	return func(e *Engine) { e.singleUsePerOrder = enabled }
}

// WithMetrics records application outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine applies discount codes to orders.
//
// The order and the discount usage counter live in different aggregates, so
// every application is first written as a pending intent record. The order
// is then updated conditionally on its version and finally the intent is
// committed together with the usage increment. A failure between the steps
// leaves a pending record that ReconcilePending settles later.
type Engine struct {
	orders    order.Repository
	discounts Repository
	metrics   *telemetry.Metrics
	now       func() time.Time

	singleUsePerOrder bool
}

// NewEngine creates a discount Engine.
func NewEngine(orders order.Repository, discounts Repository, opts ...Option) *Engine {
	e := &Engine{
		orders:    orders,
		discounts: discounts,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply validates code against the order's current total and folds the
// computed amount into the order.
func (e *Engine) Apply(ctx context.Context, orderID, code string) (*Result, error) {
	res, err := e.apply(ctx, orderID, code)
	e.metrics.DiscountApplied(ctx, err)
	return res, err
}

func (e *Engine) apply(ctx context.Context, orderID, code string) (*Result, error) {
	o, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	d, err := e.discounts.FindActiveByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	if err := d.Check(now, o.Total); err != nil {
		return nil, err
	}
	if e.singleUsePerOrder {
		n, err := e.discounts.CountApplications(ctx, o.ID, d.ID)
		if err != nil {
			return nil, errors.Wrap(err, "count applications")
		}
		if n > 0 {
			return nil, ErrAlreadyApplied
		}
	}

	app := &Application{
		ID:         uuid.New().String(),
		OrderID:    o.ID,
		DiscountID: d.ID,
		Code:       d.Code,
		Amount:     d.Amount(o.Total),
		State:      StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.discounts.CreateApplication(ctx, app); err != nil {
		return nil, errors.Wrap(err, "create application")
	}

	if err := o.AddDiscount(app.ID, app.Amount); err != nil {
		e.settle(ctx, app, StateAborted)
		return nil, err
	}
	o.UpdatedAt = now
	if err := e.orders.Update(ctx, o); err != nil {
		if errors.Is(err, order.ErrVersionConflict) {
			e.settle(ctx, app, StateAborted)
			return nil, order.ErrVersionConflict
		}
		// Unknown outcome: the record stays pending for reconciliation.
		return nil, errors.Wrap(err, "update order")
	}

	err = e.discounts.CommitApplication(ctx, app)
	switch {
	case err == nil:
	case errors.Is(err, ErrExhausted):
		if err := e.compensate(ctx, app); err != nil {
			return nil, errors.Wrap(err, "compensate order")
		}
		e.settle(ctx, app, StateCompensated)
		return nil, ErrExhausted
	case errors.Is(err, ErrApplicationSettled):
		stored, gerr := e.discounts.GetApplication(ctx, app.ID)
		if gerr != nil {
			return nil, errors.Wrap(gerr, "get application")
		}
		if stored.State != StateCompleted {
			// Settled as aborted before the order write landed.
			if err := e.compensate(ctx, app); err != nil {
				return nil, errors.Wrap(err, "compensate order")
			}
			return nil, order.ErrVersionConflict
		}
		app = stored
	default:
		return nil, errors.Wrap(err, "commit application")
	}

	app.State = StateCompleted
	d.UsedCount++
	return &Result{Order: o, Discount: d, Application: app}, nil
}

// compensate removes the application's amount from its order.
func (e *Engine) compensate(ctx context.Context, app *Application) error {
	var lastErr error
	for range maxUpdateAttempts {
		o, err := e.orders.Get(ctx, app.OrderID)
		if err != nil {
			return err
		}
		changed, err := o.RemoveDiscount(app.ID, app.Amount)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		o.UpdatedAt = e.now().UTC()
		lastErr = e.orders.Update(ctx, o)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, order.ErrVersionConflict) {
			return lastErr
		}
	}
	return lastErr
}

// settle moves a pending application to a final state. Failures are left to
// ReconcilePending, which only looks at pending records.
func (e *Engine) settle(ctx context.Context, app *Application, to ApplicationState) {
	if err := e.discounts.SetApplicationState(ctx, app.ID, StatePending, to); err == nil {
		app.State = to
	}
}

// ReconcilePending settles applications that stayed pending for longer than
// olderThan. An order without the application id means the order write never
// happened; otherwise the usage is committed, or the order is compensated
// when the discount ran out meanwhile.
func (e *Engine) ReconcilePending(ctx context.Context, olderThan time.Duration) (ReconcileReport, error) {
	var report ReconcileReport
	apps, err := e.discounts.ListPendingApplications(ctx, e.now().UTC().Add(-olderThan))
	if err != nil {
		return report, errors.Wrap(err, "list pending applications")
	}

	var lastErr error
	for i := range apps {
		app := &apps[i]
		state, err := e.reconcile(ctx, app)
		switch {
		case err != nil:
			report.Failed++
			lastErr = errors.Wrapf(err, "application %s", app.ID)
		case state == StateCompleted:
			report.Completed++
		case state == StateAborted:
			report.Aborted++
		case state == StateCompensated:
			report.Compensated++
		}
	}
	return report, lastErr
}

func (e *Engine) reconcile(ctx context.Context, app *Application) (ApplicationState, error) {
	o, err := e.orders.Get(ctx, app.OrderID)
	switch {
	case errors.Is(err, order.ErrNotFound):
		return e.transition(ctx, app, StateAborted)
	case err != nil:
		return "", err
	}
	if !o.HasDiscountApplication(app.ID) {
		return e.transition(ctx, app, StateAborted)
	}

	err = e.discounts.CommitApplication(ctx, app)
	switch {
	case err == nil:
		return StateCompleted, nil
	case errors.Is(err, ErrExhausted):
		if err := e.compensate(ctx, app); err != nil {
			return "", err
		}
		return e.transition(ctx, app, StateCompensated)
	case errors.Is(err, ErrApplicationSettled):
		return "", nil
	default:
		return "", err
	}
}

func (e *Engine) transition(ctx context.Context, app *Application, to ApplicationState) (ApplicationState, error) {
	err := e.discounts.SetApplicationState(ctx, app.ID, StatePending, to)
	switch {
	case err == nil:
		return to, nil
	case errors.Is(err, ErrApplicationSettled):
		return "", nil
	default:
		return "", err
	}
}

// Create validates and stores a new discount.
func (e *Engine) Create(ctx context.Context, d *Discount) error {
	d.Name = strings.TrimSpace(d.Name)
	d.Code = strings.TrimSpace(d.Code)
	if err := d.Validate(); err != nil {
		return err
	}
	now := e.now().UTC()
	d.ID = uuid.New().String()
	d.Value = d.Value.Round(2)
	d.MinOrderTotal = d.MinOrderTotal.Round(2)
	d.UsedCount = 0
	d.CreatedAt = now
	d.UpdatedAt = now
	if err := e.discounts.Create(ctx, d); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			return ErrCodeTaken
		}
		return errors.Wrap(err, "create discount")
	}
	return nil
}

// List returns every discount.
func (e *Engine) List(ctx context.Context) ([]Discount, error) {
	return e.discounts.List(ctx)
}
