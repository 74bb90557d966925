package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/lois2311/pyro-backend/internal/domain/order"
)

// CreateOrder snapshots prices and stores a pending order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createOrderRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	o, err := h.orders.Create(ctx, req.toDomain())
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.Stringer("total", o.Total),
		zap.String("currency", o.Currency),
	)
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

// GetOrder returns a single order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// ListOrders returns every order, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = toOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateOrderStatus moves an order to delivered or finalized.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateStatusRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	id := chi.URLParam(r, "id")
	o, err := h.orders.UpdateStatus(ctx, id, order.Status(req.Status))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", id),
		zap.String("status", string(o.Status)),
	)
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
