package discount

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lois2311/pyro-backend/internal/domain/apperr"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage takes a percentage of the current order total.
	KindPercentage Kind = "percentage"
	// KindFixedAmount takes a fixed amount, capped at the order total.
	KindFixedAmount Kind = "fixed_amount"
)

// CodePattern is the accepted shape of a discount code.
var CodePattern = regexp.MustCompile(`^[A-Za-z0-9-]{4,}$`)

var (
	hundred = decimal.NewFromInt(100)
)

var (
	ErrNotFoundOrInactive = apperr.New(apperr.KindNotFound, "discount_not_found_or_inactive", "discount not found or inactive")
	ErrNotYetValid        = apperr.New(apperr.KindValidation, "discount_not_yet_valid", "discount is not valid yet")
	ErrExpired            = apperr.New(apperr.KindValidation, "discount_expired", "discount has expired")
	ErrMinimumNotMet      = apperr.New(apperr.KindValidation, "minimum_not_met", "order total does not meet the discount minimum")
	ErrExhausted          = apperr.New(apperr.KindValidation, "discount_exhausted", "discount has reached its maximum uses")
	ErrAlreadyApplied     = apperr.New(apperr.KindValidation, "discount_already_applied", "discount was already applied to this order")
	ErrInvalidCode        = apperr.New(apperr.KindValidation, "invalid_discount_code", "discount code must be at least 4 letters, digits or dashes")
	ErrCodeTaken          = apperr.New(apperr.KindConflict, "discount_code_taken", "a discount with this code already exists")
)

// InvalidDiscountError describes why an administrator-supplied discount was
// rejected.
type InvalidDiscountError struct {
	Field  string
	Reason string
}

func (e *InvalidDiscountError) Error() string {
	return "invalid discount " + e.Field + ": " + e.Reason
}

// AppError classifies the error as a validation failure.
func (e *InvalidDiscountError) AppError() *apperr.Error {
	return &apperr.Error{Kind: apperr.KindValidation, Code: "invalid_discount", Message: e.Error()}
}

// Discount is a redeemable code with its eligibility rules.
type Discount struct {
	ID            string
	Name          string
	Description   string
	Code          string
	Kind          Kind
	Value         decimal.Decimal
	Active        bool
	StartDate     *time.Time
	EndDate       *time.Time
	MinOrderTotal decimal.Decimal
	// MaxUses of zero means unlimited.
	MaxUses   int
	UsedCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks an administrator-supplied discount before it is stored.
func (d *Discount) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &InvalidDiscountError{Field: "name", Reason: "required"}
	}
	if !CodePattern.MatchString(d.Code) {
		return ErrInvalidCode
	}
	switch d.Kind {
	case KindPercentage:
		if d.Value.IsNegative() || d.Value.GreaterThan(hundred) {
			return &InvalidDiscountError{Field: "value", Reason: "percentage must be between 0 and 100"}
		}
	case KindFixedAmount:
		if d.Value.IsNegative() {
			return &InvalidDiscountError{Field: "value", Reason: "amount must not be negative"}
		}
	default:
		return &InvalidDiscountError{Field: "kind", Reason: "must be percentage or fixed_amount"}
	}
	if d.MinOrderTotal.IsNegative() {
		return &InvalidDiscountError{Field: "min_order_total", Reason: "must not be negative"}
	}
	if d.MaxUses < 0 {
		return &InvalidDiscountError{Field: "max_uses", Reason: "must not be negative"}
	}
	if d.StartDate != nil && d.EndDate != nil && d.EndDate.Before(*d.StartDate) {
		return &InvalidDiscountError{Field: "end_date", Reason: "must not be before start_date"}
	}
	return nil
}

// Check runs the eligibility rules in order: validity window, minimum order
// total, then remaining uses.
func (d *Discount) Check(now time.Time, orderTotal decimal.Decimal) error {
	if d.StartDate != nil && now.Before(*d.StartDate) {
		return ErrNotYetValid
	}
	if d.EndDate != nil && now.After(*d.EndDate) {
		return ErrExpired
	}
	if orderTotal.LessThan(d.MinOrderTotal) {
		return ErrMinimumNotMet
	}
	if d.Exhausted() {
		return ErrExhausted
	}
	return nil
}

// Exhausted reports whether the usage cap has been reached.
func (d *Discount) Exhausted() bool {
	return d.MaxUses > 0 && d.UsedCount >= d.MaxUses
}

// Amount computes the discount for the given order total, rounded to 2
// decimal places and never larger than the total.
func (d *Discount) Amount(total decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch d.Kind {
	case KindPercentage:
		amount = total.Mul(d.Value).Div(hundred)
	default:
		amount = d.Value
	}
	amount = amount.Round(2)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, total)
}

// Repository stores discounts and their application intent records. The
// two live together so that CommitApplication can settle an application
// and count its use atomically.
type Repository interface {
	Create(ctx context.Context, d *Discount) error
	List(ctx context.Context) ([]Discount, error)
	// FindActiveByCode returns ErrNotFoundOrInactive when no active discount
	// has the exact code.
	FindActiveByCode(ctx context.Context, code string) (*Discount, error)

	CreateApplication(ctx context.Context, a *Application) error
	GetApplication(ctx context.Context, id string) (*Application, error)
	// CommitApplication moves a pending application to completed and
	// increments the discount's used count in one step. It returns
	// ErrExhausted if the cap was reached (nothing changes) and
	// ErrApplicationSettled if the application is no longer pending.
	CommitApplication(ctx context.Context, a *Application) error
	// SetApplicationState is a conditional transition from -> to. It returns
	// ErrApplicationSettled if the stored state is not from.
	SetApplicationState(ctx context.Context, id string, from, to ApplicationState) error
	ListPendingApplications(ctx context.Context, createdBefore time.Time) ([]Application, error)
	// CountApplications counts pending and completed applications of a
	// discount on an order.
	CountApplications(ctx context.Context, orderID, discountID string) (int, error)
}
