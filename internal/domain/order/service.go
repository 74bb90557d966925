package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lois2311/pyro-backend/internal/domain/product"
)

// maxUpdateAttempts bounds reload-and-retry loops on version conflicts.
const maxUpdateAttempts = 3

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	Customer       Customer
	DeliveryMethod DeliveryMethod
	PaymentMethod  PaymentMethod
	Items          []ItemRequest
	Notes          string
	Tax            decimal.Decimal
	Currency       string
}

// Service encapsulates order creation and administrative updates.
type Service struct {
	snapshotter *Snapshotter
	orders      Repository
	now         func() time.Time
}

// NewService creates an order Service.
func NewService(products product.Repository, orders Repository) *Service {
	return &Service{
		snapshotter: NewSnapshotter(products),
		orders:      orders,
		now:         time.Now,
	}
}

// Create validates the request, snapshots prices and persists a pending order.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if strings.TrimSpace(req.Customer.Name) == "" || strings.TrimSpace(req.Customer.Phone) == "" {
		return nil, ErrCustomerRequired
	}
	if err := ValidateMethods(req.DeliveryMethod, req.PaymentMethod, strings.TrimSpace(req.Customer.Address)); err != nil {
		return nil, err
	}
	if req.Tax.IsNegative() {
		return nil, ErrNegativeAmount
	}

	lines, err := s.snapshotter.Snapshot(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	now := s.now().UTC()
	o := &Order{
		ID:             uuid.New().String(),
		Customer:       req.Customer,
		DeliveryMethod: req.DeliveryMethod,
		PaymentMethod:  req.PaymentMethod,
		Items:          lines,
		Notes:          req.Notes,
		Discount:       decimal.Zero,
		Tax:            req.Tax.Round(2),
		Currency:       currency,
		Status:         StatusPending,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.Recalculate(); err != nil {
		return nil, err
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.Get(ctx, id)
}

// List returns every order, newest first.
func (s *Service) List(ctx context.Context) ([]Order, error) {
	return s.orders.List(ctx)
}

// UpdateStatus moves an order forward to delivered or finalized. Only these
// two targets are accepted; repeating the current status succeeds without a
// write.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (*Order, error) {
	if status != StatusDelivered && status != StatusFinalized {
		return nil, ErrInvalidStatus
	}

	var lastErr error
	for range maxUpdateAttempts {
		o, err := s.orders.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := o.AdvanceStatus(status)
		if err != nil {
			return nil, err
		}
		if !changed {
			return o, nil
		}
		o.UpdatedAt = s.now().UTC()
		lastErr = s.orders.Update(ctx, o)
		if lastErr == nil {
			return o, nil
		}
		if !errors.Is(lastErr, ErrVersionConflict) {
			return nil, errors.Wrap(lastErr, "update order")
		}
	}
	return nil, lastErr
}
