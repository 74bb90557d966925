package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/lois2311/pyro-backend/internal/domain/order"
	"github.com/lois2311/pyro-backend/internal/domain/payment"
)

const (
	// SignatureHeader carries "t=<unix>,v1=<hex>" on webhook deliveries.
	SignatureHeader = "X-Webhook-Signature"
	// IdempotencyKeyHeader is read when the body does not name a key.
	IdempotencyKeyHeader = "Idempotency-Key"
)

// InitiatePayment creates a gateway transaction for an order.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req initiatePaymentRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get(IdempotencyKeyHeader)
	}

	res, err := h.payments.Initiate(ctx, payment.InitiateRequest{
		OrderID:           req.OrderID,
		PaymentMethodType: req.PaymentMethodType,
		PaymentSourceID:   req.PaymentSource,
		CustomerEmail:     req.CustomerEmail,
		IdempotencyKey:    key,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	zctx.From(ctx).Info("Payment initiated",
		zap.String("order_id", res.Order.ID),
		zap.String("transaction_id", res.Transaction.ID),
		zap.String("status", res.Transaction.Status),
		zap.Bool("replayed", res.Replayed),
	)
	writeJSON(w, http.StatusOK, initiatePaymentResponse{
		Order:       toOrderResponse(res.Order),
		Transaction: toTransactionResponse(res.Transaction),
		Replayed:    res.Replayed,
	})
}

// PaymentWebhook verifies and applies a processor notification. Events for
// unknown transactions are acknowledged so the processor stops retrying.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(ctx, w, errors.Wrap(payment.ErrMalformedEvent, err.Error()))
		return
	}

	ev, err := h.verifier.Verify(body, r.Header.Get(SignatureHeader))
	if err != nil {
		h.metrics.WebhookProcessed(ctx, err)
		writeError(ctx, w, err)
		return
	}
	lg = lg.With(
		zap.String("event", ev.Name),
		zap.String("transaction_id", ev.Transaction.ID),
		zap.String("status", ev.Transaction.Status),
	)

	o, err := h.reconciler.Apply(ctx, ev)
	h.metrics.WebhookProcessed(ctx, err)
	switch {
	case errors.Is(err, order.ErrNotFound):
		lg.Warn("Webhook for unknown transaction")
		writeJSON(w, http.StatusOK, webhookResponse{Status: "unmatched"})
		return
	case err != nil:
		writeError(ctx, w, err)
		return
	}

	lg.Info("Webhook processed",
		zap.String("order_id", o.ID),
		zap.String("payment_status", o.PaymentStatus),
	)
	writeJSON(w, http.StatusOK, webhookResponse{Status: "processed", OrderID: o.ID})
}
