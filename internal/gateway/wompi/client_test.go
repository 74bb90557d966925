package wompi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lois2311/pyro-backend/internal/domain/payment"
)

var testRequest = payment.TransactionRequest{
	AmountInCents:     25000,
	Currency:          "COP",
	CustomerEmail:     "ana@example.com",
	PaymentMethodType: "NEQUI",
	PaymentSourceID:   "src_1",
	Reference:         "o1",
}

func TestClient_CreateTransaction(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/transactions", r.URL.Path)
			assert.Equal(t, "Bearer prv_test", r.Header.Get("Authorization"))
			assert.Equal(t, "order-o1", r.Header.Get("Idempotency-Key"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.JSONEq(t, `{
				"amount_in_cents": 25000,
				"currency": "COP",
				"customer_email": "ana@example.com",
				"payment_method_type": "NEQUI",
				"payment_source_id": "src_1",
				"reference": "o1"
			}`, string(body))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"id":"tx-1","status":"PENDING","amount_in_cents":25000}}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL+"/", "prv_test")
		tx, err := c.CreateTransaction(context.Background(), testRequest, "order-o1")
		require.NoError(t, err)
		assert.Equal(t, "tx-1", tx.ID)
		assert.Equal(t, "PENDING", tx.Status)
		assert.Contains(t, string(tx.Raw), "amount_in_cents")
	})

	t.Run("rejected carries payload", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":{"type":"INPUT_VALIDATION_ERROR"}}`))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, "k").CreateTransaction(context.Background(), testRequest, "key")
		var gwErr *payment.GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.False(t, gwErr.Unavailable)
		assert.Equal(t, http.StatusUnprocessableEntity, gwErr.StatusCode)
		assert.JSONEq(t, `{"error":{"type":"INPUT_VALIDATION_ERROR"}}`, string(gwErr.Payload))
	})

	t.Run("server error is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, "k").CreateTransaction(context.Background(), testRequest, "key")
		var gwErr *payment.GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.True(t, gwErr.Unavailable)
	})

	t.Run("timeout is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := NewClient(srv.URL, "k").CreateTransaction(ctx, testRequest, "key")
		var gwErr *payment.GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.True(t, gwErr.Unavailable)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("response without id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"status":"PENDING"}}`))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, "k").CreateTransaction(context.Background(), testRequest, "key")
		var gwErr *payment.GatewayError
		require.True(t, errors.As(err, &gwErr))
	})
}
