// Package wompi implements payment.Gateway against the Wompi REST API.
package wompi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/lois2311/pyro-backend/internal/domain/payment"
)

// DefaultBaseURL is the sandbox environment.
const DefaultBaseURL = "https://sandbox.wompi.co"

// maxBodySize caps how much of a provider response is read.
const maxBodySize = 1 << 20

// Client creates transactions at Wompi.
type Client struct {
	baseURL    string
	privateKey string
	httpClient *http.Client
}

var _ payment.Gateway = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTracerProvider instruments outgoing requests with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cl *Client) {
		cl.httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tp)),
		}
	}
}

// NewClient creates a Wompi client. Timeouts come from the caller's context.
func NewClient(baseURL, privateKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		privateKey: privateKey,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateTransaction posts a transaction. Transport errors and 5xx answers
// are reported as unavailable, other non-2xx answers as rejected; both carry
// the provider body.
func (c *Client) CreateTransaction(ctx context.Context, req payment.TransactionRequest, idempotencyKey string) (*payment.Transaction, error) {
	body := encodeTransaction(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.privateKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &payment.GatewayError{Unavailable: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &payment.GatewayError{Unavailable: true, StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &payment.GatewayError{Unavailable: true, StatusCode: resp.StatusCode, Payload: raw}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &payment.GatewayError{StatusCode: resp.StatusCode, Payload: raw}
	}

	tx, err := decodeTransaction(raw)
	if err != nil {
		return nil, &payment.GatewayError{Unavailable: true, StatusCode: resp.StatusCode, Payload: raw, Err: err}
	}
	return tx, nil
}

func encodeTransaction(req payment.TransactionRequest) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount_in_cents")
	e.Int64(req.AmountInCents)
	e.FieldStart("currency")
	e.Str(req.Currency)
	e.FieldStart("customer_email")
	e.Str(req.CustomerEmail)
	e.FieldStart("payment_method_type")
	e.Str(req.PaymentMethodType)
	e.FieldStart("payment_source_id")
	e.Str(req.PaymentSourceID)
	e.FieldStart("reference")
	e.Str(req.Reference)
	e.ObjEnd()
	return e.Bytes()
}

// decodeTransaction reads {"data":{"id":...,"status":...}}.
func decodeTransaction(raw []byte) (*payment.Transaction, error) {
	tx := &payment.Transaction{Raw: raw}
	d := jx.DecodeBytes(raw)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "data" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id":
				if d.Next() == jx.Number {
					var n jx.Num
					n, err = d.Num()
					tx.ID = n.String()
					return err
				}
				tx.ID, err = d.Str()
			case "status":
				tx.Status, err = d.Str()
			default:
				return d.Skip()
			}
			return err
		})
	}); err != nil {
		return nil, errors.Wrap(err, "decode transaction")
	}
	if tx.ID == "" {
		return nil, errors.New("transaction id missing in response")
	}
	return tx, nil
}
