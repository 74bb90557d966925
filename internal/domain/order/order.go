package order

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lois2311/pyro-backend/internal/domain/apperr"
)

// DeliveryMethod is how the order reaches the customer.
type DeliveryMethod string

const (
	DeliveryHome   DeliveryMethod = "home_delivery"
	DeliveryPickup DeliveryMethod = "pickup"
)

// PaymentMethod is how the customer settles the order.
type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCash         PaymentMethod = "cash"
)

// Status is the fulfilment state of an order. It only moves forward.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFinalized Status = "finalized"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusDelivered: 1,
	StatusFinalized: 2,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// DefaultCurrency is used when an order is created without one.
const DefaultCurrency = "COP"

var (
	ErrNotFound        = apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
	ErrVersionConflict = apperr.New(apperr.KindConflict, "concurrency_conflict", "order was modified concurrently, retry")

	ErrItemsRequired         = apperr.New(apperr.KindValidation, "items_required", "at least one item is required")
	ErrCustomerRequired      = apperr.New(apperr.KindValidation, "customer_required", "customer name and phone are required")
	ErrAddressRequired       = apperr.New(apperr.KindValidation, "address_required", "address is required for home delivery")
	ErrInvalidDeliveryMethod = apperr.New(apperr.KindValidation, "invalid_delivery_method", "delivery method must be home_delivery or pickup")
	ErrInvalidPaymentMethod  = apperr.New(apperr.KindValidation, "invalid_payment_method", "payment method must be bank_transfer or cash")
	ErrCashRequiresPickup    = apperr.New(apperr.KindValidation, "cash_requires_pickup", "cash payment is only allowed for pickup orders")
	ErrNegativeAmount        = apperr.New(apperr.KindValidation, "negative_amount", "discount and tax must not be negative")
	ErrNegativeTotal         = apperr.New(apperr.KindValidation, "negative_total", "order total must not be negative")
	ErrInvalidStatus         = apperr.New(apperr.KindValidation, "invalid_status", "status must be delivered or finalized")
	ErrStatusRegression      = apperr.New(apperr.KindValidation, "status_regression", "order status cannot move backwards")
	ErrTransactionAssigned   = apperr.New(apperr.KindConflict, "payment_already_initiated", "order already has a payment transaction")
)

// Customer identifies who placed the order.
type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
}

// LineItem is an order line with the unit price captured at creation time.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// NewLineItem snapshots price into a line item.
func NewLineItem(productID string, quantity int, price decimal.Decimal) LineItem {
	return LineItem{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: price,
		Subtotal:  price.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// Order is the aggregate root. Money fields are kept consistent by the
// methods below; callers never assign Total directly.
type Order struct {
	ID             string
	Customer       Customer
	DeliveryMethod DeliveryMethod
	PaymentMethod  PaymentMethod
	Items          []LineItem
	Notes          string
	Discount       decimal.Decimal
	Tax            decimal.Decimal
	Currency       string
	Total          decimal.Decimal
	Status         Status

	PaymentTransactionID string
	PaymentStatus        string
	// PaymentKey is the idempotency key of the initiation that owns the
	// order's payment. It is reserved before the gateway is called.
	PaymentKey string
	// PaymentEvents is the raw webhook audit log. It is only ever extended
	// through Repository.AppendPaymentEvent.
	PaymentEvents [][]byte

	// AppliedDiscounts holds the ids of discount applications whose amount
	// is included in Discount.
	AppliedDiscounts []string

	// Version is the optimistic concurrency token; Repository.Update bumps it.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateMethods checks the delivery/payment combination.
func ValidateMethods(delivery DeliveryMethod, payment PaymentMethod, address string) error {
	switch delivery {
	case DeliveryHome, DeliveryPickup:
	default:
		return ErrInvalidDeliveryMethod
	}
	switch payment {
	case PaymentBankTransfer, PaymentCash:
	default:
		return ErrInvalidPaymentMethod
	}
	if payment == PaymentCash && delivery != DeliveryPickup {
		return ErrCashRequiresPickup
	}
	if delivery == DeliveryHome && address == "" {
		return ErrAddressRequired
	}
	return nil
}

// Subtotal is the pre-discount, pre-tax sum of all lines.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.Subtotal)
	}
	return sum
}

// Recalculate recomputes Total from lines, discount and tax.
func (o *Order) Recalculate() error {
	if o.Discount.IsNegative() || o.Tax.IsNegative() {
		return ErrNegativeAmount
	}
	total := o.Subtotal().Sub(o.Discount).Add(o.Tax)
	if total.IsNegative() {
		return ErrNegativeTotal
	}
	o.Total = total
	return nil
}

// HasDiscountApplication reports whether the application id is already
// reflected in the order.
func (o *Order) HasDiscountApplication(id string) bool {
	return slices.Contains(o.AppliedDiscounts, id)
}

// AddDiscount folds an applied discount amount into the order. Adding the
// same application twice is a no-op.
func (o *Order) AddDiscount(applicationID string, amount decimal.Decimal) error {
	if o.HasDiscountApplication(applicationID) {
		return nil
	}
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	prev := o.Discount
	o.Discount = o.Discount.Add(amount)
	if err := o.Recalculate(); err != nil {
		o.Discount = prev
		return err
	}
	o.AppliedDiscounts = append(o.AppliedDiscounts, applicationID)
	return nil
}

// RemoveDiscount reverts a previously added application. It reports whether
// anything changed.
func (o *Order) RemoveDiscount(applicationID string, amount decimal.Decimal) (bool, error) {
	idx := slices.Index(o.AppliedDiscounts, applicationID)
	if idx < 0 {
		return false, nil
	}
	o.Discount = o.Discount.Sub(amount)
	if o.Discount.IsNegative() {
		o.Discount = decimal.Zero
	}
	o.AppliedDiscounts = slices.Delete(o.AppliedDiscounts, idx, idx+1)
	return true, o.Recalculate()
}

// AdvanceStatus moves the order forward to next. Moving to the current
// status is a no-op and reports false.
func (o *Order) AdvanceStatus(next Status) (bool, error) {
	if !next.Valid() {
		return false, ErrInvalidStatus
	}
	switch cur, want := statusRank[o.Status], statusRank[next]; {
	case want == cur:
		return false, nil
	case want < cur:
		return false, ErrStatusRegression
	}
	o.Status = next
	return true, nil
}

// AttachTransaction records the gateway transaction. The id can only be set
// once; attaching the same id again is accepted.
func (o *Order) AttachTransaction(id, status string) error {
	if o.PaymentTransactionID != "" && o.PaymentTransactionID != id {
		return ErrTransactionAssigned
	}
	o.PaymentTransactionID = id
	o.PaymentStatus = status
	return nil
}

// ReservePayment claims the order's payment for key. Only one key can ever
// own an order; reserving again with the owning key is accepted so a retry
// reaches the gateway with the same idempotency key.
func (o *Order) ReservePayment(key string) (bool, error) {
	switch o.PaymentKey {
	case key:
		return false, nil
	case "":
		if o.PaymentTransactionID != "" {
			return false, ErrTransactionAssigned
		}
		o.PaymentKey = key
		return true, nil
	default:
		return false, ErrTransactionAssigned
	}
}

// ReleasePayment drops a reservation held by key that never produced a
// transaction.
func (o *Order) ReleasePayment(key string) bool {
	if o.PaymentKey != key || o.PaymentTransactionID != "" {
		return false
	}
	o.PaymentKey = ""
	return true
}

// Repository is the order store contract. Update is a conditional write on
// Version and fails with ErrVersionConflict when the stored row moved on.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Order, error)
	List(ctx context.Context) ([]Order, error)
	// Update persists every field except PaymentEvents, then increments
	// o.Version.
	Update(ctx context.Context, o *Order) error
	// AppendPaymentEvent atomically appends one raw event to the audit log
	// without touching Version.
	AppendPaymentEvent(ctx context.Context, id string, event []byte) error
}
