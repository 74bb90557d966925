package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/lois2311/pyro-backend/internal/domain/discount"
)

// ApplyDiscount redeems a code against an order.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req applyDiscountRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if !discount.CodePattern.MatchString(req.Code) {
		writeError(ctx, w, discount.ErrInvalidCode)
		return
	}

	lg := zctx.From(ctx).With(zap.String("order_id", req.OrderID), zap.String("code", req.Code))
	lg.Debug("Applying discount")

	res, err := h.discounts.Apply(ctx, req.OrderID, req.Code)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	lg.Info("Discount applied",
		zap.String("application_id", res.Application.ID),
		zap.Stringer("amount", res.Application.Amount),
	)
	writeJSON(w, http.StatusOK, applyDiscountResponse{
		Order:         toOrderResponse(res.Order),
		Discount:      toDiscountResponse(res.Discount),
		Amount:        money(res.Application.Amount),
		ApplicationID: res.Application.ID,
	})
}

// CreateDiscount registers a new code.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req discountRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	d := req.toDomain()
	if err := h.discounts.Create(ctx, d); err != nil {
		writeError(ctx, w, err)
		return
	}

	zctx.From(ctx).Info("Discount created", zap.String("discount_id", d.ID), zap.String("code", d.Code))
	writeJSON(w, http.StatusCreated, toDiscountResponse(d))
}

// ListDiscounts returns every discount.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	discounts, err := h.discounts.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	resp := make([]discountResponse, len(discounts))
	for i := range discounts {
		resp[i] = toDiscountResponse(&discounts[i])
	}
	writeJSON(w, http.StatusOK, resp)
}
