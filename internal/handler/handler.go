// Package handler exposes the order, discount and payment flows over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lois2311/pyro-backend/internal/domain/discount"
	"github.com/lois2311/pyro-backend/internal/domain/order"
	"github.com/lois2311/pyro-backend/internal/domain/payment"
	"github.com/lois2311/pyro-backend/internal/telemetry"
)

// ScopeAdmin guards the administrative routes.
const ScopeAdmin = "admin"

// OrderService is the order flow used by the handlers.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	List(ctx context.Context) ([]order.Order, error)
	UpdateStatus(ctx context.Context, id string, status order.Status) (*order.Order, error)
}

// DiscountService applies and manages discount codes.
type DiscountService interface {
	Apply(ctx context.Context, orderID, code string) (*discount.Result, error)
	Create(ctx context.Context, d *discount.Discount) error
	List(ctx context.Context) ([]discount.Discount, error)
}

// PaymentService starts gateway transactions.
type PaymentService interface {
	Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResult, error)
}

// WebhookVerifier authenticates processor notifications.
type WebhookVerifier interface {
	Verify(body []byte, header string) (*payment.Event, error)
}

// PaymentReconciler folds verified notifications into orders.
type PaymentReconciler interface {
	Apply(ctx context.Context, ev *payment.Event) (*order.Order, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
	Metrics      *telemetry.Metrics
}

// Handler serves the public and administrative API.
type Handler struct {
	orders     OrderService
	discounts  DiscountService
	payments   PaymentService
	verifier   WebhookVerifier
	reconciler PaymentReconciler

	maxBody int64
	metrics *telemetry.Metrics
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	orders OrderService,
	discounts DiscountService,
	payments PaymentService,
	verifier WebhookVerifier,
	reconciler PaymentReconciler,
) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		orders:     orders,
		discounts:  discounts,
		payments:   payments,
		verifier:   verifier,
		reconciler: reconciler,
		maxBody:    maxBody,
		metrics:    cfg.Metrics,
	}
}

// NewRouter mounts every route under /api.
func NewRouter(h *Handler, sec *SecurityHandler) http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "route_not_found", Message: "no such route"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Code: "method_not_allowed", Message: "method not allowed"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/discounts/apply", h.ApplyDiscount)
		r.Post("/payments", h.InitiatePayment)
		r.Post("/payments/webhook", h.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(sec.RequireScope(ScopeAdmin))
			r.Get("/orders", h.ListOrders)
			r.Put("/orders/{id}/status", h.UpdateOrderStatus)
			r.Get("/discounts", h.ListDiscounts)
			r.Post("/discounts", h.CreateDiscount)
		})
	})
	return r
}
