package payment

import (
	"strings"

	"github.com/lois2311/pyro-backend/internal/domain/apperr"
)

var (
	ErrInvalidEmail  = apperr.New(apperr.KindValidation, "invalid_email", "customer email is not a valid address")
	ErrInvalidAmount = apperr.New(apperr.KindValidation, "invalid_amount", "order total cannot be charged")

	ErrMissingSignature = apperr.New(apperr.KindAuthentication, "missing_signature", "signature header is missing or incomplete")
	ErrInvalidSignature = apperr.New(apperr.KindAuthentication, "invalid_signature", "signature does not match")
	ErrSignatureExpired = apperr.New(apperr.KindAuthentication, "signature_expired", "signature timestamp is outside the accepted window")
	ErrSecretMissing    = apperr.New(apperr.KindConfiguration, "webhook_secret_missing", "webhook secret is not configured")
	ErrMalformedEvent   = apperr.New(apperr.KindValidation, "malformed_event", "webhook event body is malformed")
)

// MissingFieldsError lists required request fields that were empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// AppError classifies the error as a validation failure.
func (e *MissingFieldsError) AppError() *apperr.Error {
	return &apperr.Error{Kind: apperr.KindValidation, Code: "missing_fields", Message: e.Error()}
}
