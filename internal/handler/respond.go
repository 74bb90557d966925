package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/lois2311/pyro-backend/internal/domain/apperr"
	"github.com/lois2311/pyro-backend/internal/domain/auth"
	"github.com/lois2311/pyro-backend/internal/domain/payment"
)

var errInvalidJSON = apperr.New(apperr.KindValidation, "invalid_json", "request body is not valid JSON")

type errorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Fields  []string        `json:"fields,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(e *apperr.Error) int {
	switch e {
	case auth.ErrUnauthorized:
		return http.StatusUnauthorized
	case auth.ErrForbidden:
		return http.StatusForbidden
	}
	switch e.Kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation, apperr.KindAuthentication, apperr.KindExternal:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto the error body. Unclassified errors are logged
// and reported as internal without their message.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	lg := zctx.From(ctx)

	e, ok := apperr.From(err)
	if !ok {
		lg.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal error"})
		return
	}

	status := statusFor(e)
	body := errorBody{Code: e.Code, Message: e.Message}

	var missing *payment.MissingFieldsError
	if errors.As(err, &missing) {
		body.Fields = missing.Fields
	}
	var gwErr *payment.GatewayError
	if errors.As(err, &gwErr) {
		body.Details = details(gwErr.Payload)
		lg.Warn("Payment gateway failed",
			zap.Bool("unavailable", gwErr.Unavailable),
			zap.Int("status_code", gwErr.StatusCode),
			zap.Error(err),
		)
	}

	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.String("code", e.Code), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.String("code", e.Code), zap.Error(err))
	}
	writeJSON(w, status, body)
}

// details passes a provider payload through as JSON, quoting it when it is
// not JSON itself.
func details(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	if jx.Valid(payload) {
		return payload
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return nil
	}
	return quoted
}

// decode reads a JSON body of at most h.maxBody bytes into v.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errInvalidJSON, err.Error())
	}
	return nil
}
