package discount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lois2311/pyro-backend/internal/domain/apperr"
)

// ApplicationState tracks an intent record through the two-store write.
type ApplicationState string

const (
	// StatePending is written before either aggregate changes.
	StatePending ApplicationState = "pending"
	// StateCompleted means the order carries the amount and the use was counted.
	StateCompleted ApplicationState = "completed"
	// StateAborted means the order was never changed.
	StateAborted ApplicationState = "aborted"
	// StateCompensated means the order change was reverted.
	StateCompensated ApplicationState = "compensated"
)

// ErrApplicationSettled is returned by conditional transitions on an
// application that already left the expected state.
var ErrApplicationSettled = apperr.New(apperr.KindConflict, "discount_application_settled", "discount application already settled")

// ErrApplicationNotFound is returned by GetApplication.
var ErrApplicationNotFound = apperr.New(apperr.KindNotFound, "discount_application_not_found", "discount application not found")

// Application is the intent record of one discount redemption on one order.
type Application struct {
	ID         string
	OrderID    string
	DiscountID string
	Code       string
	Amount     decimal.Decimal
	State      ApplicationState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
