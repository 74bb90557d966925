package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/lois2311/pyro-backend/internal/domain/auth"
)

// APIKeyHeader carries the administrator key.
const APIKeyHeader = "X-API-Key"

// SecurityHandler authenticates administrative requests via HMAC-SHA256
// hashed API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// RequireScope rejects requests without a key granting scope.
func (s *SecurityHandler) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, err := s.authenticate(r)
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			if !info.HasScope(scope) {
				writeError(ctx, w, auth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(zctx.With(ctx, zap.String("api_key", info.ID))))
		})
	}
}

func (s *SecurityHandler) authenticate(r *http.Request) (*auth.APIKeyInfo, error) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return nil, auth.ErrUnauthorized
	}
	hexHash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		return nil, auth.ErrUnauthorized
	}

	// The stored hash may still differ if the lookup matched loosely.
	computed, _ := hex.DecodeString(hexHash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, auth.ErrUnauthorized
	}
	return info, nil
}
