package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lois2311/pyro-backend/internal/domain/apperr"
)

// TransactionRequest is the processor-agnostic payment creation request.
type TransactionRequest struct {
	AmountInCents     int64
	Currency          string
	CustomerEmail     string
	PaymentMethodType string
	PaymentSourceID   string
	// Reference ties the transaction back to the order.
	Reference string
}

// Transaction is the processor's view of a created payment.
type Transaction struct {
	ID     string
	Status string
	// Raw is the provider response body.
	Raw []byte
}

// Gateway creates transactions at the payment processor. Implementations
// forward idempotencyKey so that a retried request yields the same
// transaction.
type Gateway interface {
	CreateTransaction(ctx context.Context, req TransactionRequest, idempotencyKey string) (*Transaction, error)
}

// GatewayError reports a failed transaction creation.
type GatewayError struct {
	// Unavailable is set for transport failures, timeouts and 5xx answers.
	Unavailable bool
	StatusCode  int
	// Payload is the raw provider body, if any.
	Payload []byte
	Err     error
}

func (e *GatewayError) Error() string {
	kind := "rejected"
	if e.Unavailable {
		kind = "unavailable"
	}
	switch {
	case e.Err != nil:
		return fmt.Sprintf("payment gateway %s: %v", kind, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("payment gateway %s: status %d", kind, e.StatusCode)
	default:
		return "payment gateway " + kind
	}
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// AppError classifies the failure as external.
func (e *GatewayError) AppError() *apperr.Error {
	if e.Unavailable {
		return &apperr.Error{Kind: apperr.KindExternal, Code: "gateway_unavailable", Message: "payment gateway is unavailable"}
	}
	return &apperr.Error{Kind: apperr.KindExternal, Code: "gateway_rejected", Message: "payment gateway rejected the transaction"}
}

// currencyExponents lists currencies whose minor unit is not 1/100.
var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"CLP": 0,
}

// ToMinorUnits converts amount to the currency's minor unit, rounding half up.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, ErrInvalidAmount
	}
	exp, ok := currencyExponents[strings.ToUpper(currency)]
	if !ok {
		exp = 2
	}
	return amount.Shift(exp).Round(0).IntPart(), nil
}
