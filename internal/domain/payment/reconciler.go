package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/lois2311/pyro-backend/internal/domain/order"
)

// Gateway transaction statuses.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
	StatusVoided   = "VOIDED"
	StatusError    = "ERROR"
)

// IsTerminal reports whether status is a final gateway status.
func IsTerminal(status string) bool {
	switch status {
	case StatusApproved, StatusDeclined, StatusVoided, StatusError:
		return true
	default:
		return false
	}
}

// Reconciler folds verified webhook events into orders. Applying the same
// event twice yields the same order state, except that each delivery is
// recorded in the audit log.
type Reconciler struct {
	orders      order.Repository
	autoAdvance bool
	now         func() time.Time
}

// NewReconciler creates a Reconciler. With autoAdvance an approved payment
// moves a pending order to delivered.
func NewReconciler(orders order.Repository, autoAdvance bool) *Reconciler {
	return &Reconciler{
		orders:      orders,
		autoAdvance: autoAdvance,
		now:         time.Now,
	}
}

// Apply records ev on the order that owns its transaction. It returns
// order.ErrNotFound when no order matches.
func (r *Reconciler) Apply(ctx context.Context, ev *Event) (*order.Order, error) {
	o, err := r.orders.GetByTransactionID(ctx, ev.Transaction.ID)
	if err != nil {
		return nil, err
	}

	if err := r.orders.AppendPaymentEvent(ctx, o.ID, ev.Raw); err != nil {
		return nil, errors.Wrap(err, "append payment event")
	}
	o.PaymentEvents = append(o.PaymentEvents, ev.Raw)

	var lastErr error
	for range maxUpdateAttempts {
		changed, err := r.fold(o, ev)
		if err != nil {
			return nil, err
		}
		if !changed {
			return o, nil
		}
		o.UpdatedAt = r.now().UTC()
		lastErr = r.orders.Update(ctx, o)
		if lastErr == nil {
			return o, nil
		}
		if !errors.Is(lastErr, order.ErrVersionConflict) {
			return nil, errors.Wrap(lastErr, "update order")
		}
		o, err = r.orders.Get(ctx, o.ID)
		if err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// fold applies the event to o and reports whether anything changed.
func (r *Reconciler) fold(o *order.Order, ev *Event) (bool, error) {
	changed := false

	status := strings.ToUpper(strings.TrimSpace(ev.Transaction.Status))
	switch {
	case status == "" || status == o.PaymentStatus:
	case status == StatusPending && IsTerminal(o.PaymentStatus):
		// Late delivery of an earlier event.
	default:
		o.PaymentStatus = status
		changed = true
	}

	if r.autoAdvance && o.PaymentStatus == StatusApproved && o.Status == order.StatusPending {
		advanced, err := o.AdvanceStatus(order.StatusDelivered)
		if err != nil {
			return false, err
		}
		changed = changed || advanced
	}
	return changed, nil
}
