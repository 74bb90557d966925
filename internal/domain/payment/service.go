package payment

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/lois2311/pyro-backend/internal/domain/order"
	"github.com/lois2311/pyro-backend/internal/telemetry"
)

const (
	// DefaultTimeout bounds a single gateway call.
	DefaultTimeout    = 15 * time.Second
	maxUpdateAttempts = 3
)

// InitiateRequest holds the input for starting a payment.
type InitiateRequest struct {
	OrderID           string
	PaymentMethodType string
	PaymentSourceID   string
	CustomerEmail     string
	// IdempotencyKey is optional; it defaults to "order-<id>".
	IdempotencyKey string
}

// InitiateResult is the outcome of Initiate.
type InitiateResult struct {
	Order       *order.Order
	Transaction *Transaction
	// Replayed is set when the result came from the idempotency store.
	Replayed bool
}

// IdempotencyStore remembers completed initiations by idempotency key.
type IdempotencyStore interface {
	Load(ctx context.Context, key string) (*Transaction, bool, error)
	Save(ctx context.Context, key string, tx *Transaction) error
}

type nopStore struct{}

func (nopStore) Load(context.Context, string) (*Transaction, bool, error) { return nil, false, nil }
func (nopStore) Save(context.Context, string, *Transaction) error         { return nil }

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithIdempotencyStore enables replay of completed initiations.
func WithIdempotencyStore(store IdempotencyStore) ServiceOption {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithServiceMetrics records initiation outcomes.
func WithServiceMetrics(m *telemetry.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// Service starts payments for orders.
type Service struct {
	orders  order.Repository
	gateway Gateway
	store   IdempotencyStore
	metrics *telemetry.Metrics
	timeout time.Duration
	now     func() time.Time
}

// NewService creates a payment Service.
func NewService(orders order.Repository, gateway Gateway, opts ...ServiceOption) *Service {
	s := &Service{
		orders:  orders,
		gateway: gateway,
		store:   nopStore{},
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate creates a gateway transaction for the order's total and records
// its id on the order. The order is reserved for the idempotency key before
// the gateway is called, so a concurrent initiation under another key fails
// with order.ErrTransactionAssigned instead of charging twice.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	res, err := s.initiate(ctx, req)
	s.metrics.PaymentInitiated(ctx, err)
	return res, err
}

func (s *Service) initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.CustomerEmail))
	if err != nil {
		return nil, ErrInvalidEmail
	}

	o, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = "order-" + o.ID
	}

	if o.PaymentTransactionID != "" {
		return s.replay(ctx, o, key)
	}

	amount, err := ToMinorUnits(o.Total, o.Currency)
	if err != nil {
		return nil, err
	}

	o, err = s.update(ctx, o, func(o *order.Order) (bool, error) {
		return o.ReservePayment(key)
	})
	if err != nil {
		return nil, err
	}
	if o.PaymentTransactionID != "" {
		// The owning key finished while this call waited on the reservation.
		return s.replay(ctx, o, key)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tx, err := s.gateway.CreateTransaction(callCtx, TransactionRequest{
		AmountInCents:     amount,
		Currency:          o.Currency,
		CustomerEmail:     addr.Address,
		PaymentMethodType: req.PaymentMethodType,
		PaymentSourceID:   req.PaymentSourceID,
		Reference:         o.ID,
	}, key)
	if err != nil {
		var gwErr *GatewayError
		if !errors.As(err, &gwErr) {
			gwErr = &GatewayError{Unavailable: true, Err: err}
		}
		// An unavailable gateway may still have created the transaction, so
		// the reservation stays and only the same key can retry.
		if !gwErr.Unavailable {
			s.release(ctx, o, key)
		}
		return nil, gwErr
	}

	o, err = s.update(ctx, o, func(o *order.Order) (bool, error) {
		if o.PaymentTransactionID == tx.ID {
			return false, nil
		}
		return true, o.AttachTransaction(tx.ID, tx.Status)
	})
	if err != nil {
		return nil, errors.Wrap(err, "attach transaction")
	}

	if err := s.store.Save(ctx, key, tx); err != nil {
		zctx.From(ctx).Warn("Save idempotency record",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
	return &InitiateResult{Order: o, Transaction: tx}, nil
}

func (s *Service) replay(ctx context.Context, o *order.Order, key string) (*InitiateResult, error) {
	tx, ok, err := s.store.Load(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "load idempotency record")
	}
	if ok && tx.ID == o.PaymentTransactionID {
		return &InitiateResult{Order: o, Transaction: tx, Replayed: true}, nil
	}
	return nil, order.ErrTransactionAssigned
}

func (s *Service) release(ctx context.Context, o *order.Order, key string) {
	_, err := s.update(ctx, o, func(o *order.Order) (bool, error) {
		return o.ReleasePayment(key), nil
	})
	if err != nil {
		zctx.From(ctx).Warn("Release payment reservation",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

// update applies mutate and writes the order, reloading and reapplying on
// version conflicts. Nothing is written when mutate reports no change.
func (s *Service) update(ctx context.Context, o *order.Order, mutate func(*order.Order) (bool, error)) (*order.Order, error) {
	var lastErr error
	for range maxUpdateAttempts {
		changed, err := mutate(o)
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
		if !errors.Is(lastErr, order.ErrVersionConflict) {
			return nil, errors.Wrap(lastErr, "update order")
		}
		reloaded, err := s.orders.Get(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		o = reloaded
	}
	return nil, lastErr
}

func validateRequest(req InitiateRequest) error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"order_id", req.OrderID},
		{"payment_method_type", req.PaymentMethodType},
		{"payment_source_id", req.PaymentSourceID},
		{"customer_email", req.CustomerEmail},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}
