package handler

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lois2311/pyro-backend/internal/domain/discount"
	"github.com/lois2311/pyro-backend/internal/domain/order"
	"github.com/lois2311/pyro-backend/internal/domain/payment"
)

// money renders an amount as a JSON number with two decimals.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

type itemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	CustomerName   string           `json:"customerName"`
	Phone          string           `json:"phone"`
	Address        string           `json:"address"`
	Email          string           `json:"email"`
	DeliveryMethod string           `json:"deliveryMethod"`
	PaymentMethod  string           `json:"paymentMethod"`
	Products       []itemRequest    `json:"products"`
	Notes          string           `json:"notes"`
	Tax            *decimal.Decimal `json:"tax"`
	Currency       string           `json:"currency"`
}

func (req *createOrderRequest) toDomain() order.CreateRequest {
	items := make([]order.ItemRequest, len(req.Products))
	for i, p := range req.Products {
		items[i] = order.ItemRequest{ProductID: p.ProductID, Quantity: p.Quantity}
	}
	tax := decimal.Zero
	if req.Tax != nil {
		tax = *req.Tax
	}
	return order.CreateRequest{
		Customer: order.Customer{
			Name:    req.CustomerName,
			Phone:   req.Phone,
			Address: req.Address,
			Email:   req.Email,
		},
		DeliveryMethod: order.DeliveryMethod(req.DeliveryMethod),
		PaymentMethod:  order.PaymentMethod(req.PaymentMethod),
		Items:          items,
		Notes:          req.Notes,
		Tax:            tax,
		Currency:       req.Currency,
	}
}

type lineItemResponse struct {
	ProductID string      `json:"productId"`
	Quantity  int         `json:"quantity"`
	UnitPrice json.Number `json:"unitPrice"`
	Subtotal  json.Number `json:"subtotal"`
}

type orderResponse struct {
	ID                   string             `json:"id"`
	CustomerName         string             `json:"customerName"`
	Phone                string             `json:"phone"`
	Address              string             `json:"address,omitempty"`
	Email                string             `json:"email,omitempty"`
	DeliveryMethod       string             `json:"deliveryMethod"`
	PaymentMethod        string             `json:"paymentMethod"`
	Items                []lineItemResponse `json:"items"`
	Notes                string             `json:"notes,omitempty"`
	Subtotal             json.Number        `json:"subtotal"`
	Discount             json.Number        `json:"discount"`
	Tax                  json.Number        `json:"tax"`
	Total                json.Number        `json:"total"`
	Currency             string             `json:"currency"`
	Status               string             `json:"status"`
	PaymentTransactionID string             `json:"paymentTransactionId,omitempty"`
	PaymentStatus        string             `json:"paymentStatus,omitempty"`
	PaymentEvents        []json.RawMessage  `json:"paymentEvents"`
	AppliedDiscounts     []string           `json:"appliedDiscounts"`
	Version              int64              `json:"version"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]lineItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = lineItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: money(it.UnitPrice),
			Subtotal:  money(it.Subtotal),
		}
	}
	events := make([]json.RawMessage, len(o.PaymentEvents))
	for i, ev := range o.PaymentEvents {
		events[i] = ev
	}
	applied := o.AppliedDiscounts
	if applied == nil {
		applied = []string{}
	}
	return orderResponse{
		ID:                   o.ID,
		CustomerName:         o.Customer.Name,
		Phone:                o.Customer.Phone,
		Address:              o.Customer.Address,
		Email:                o.Customer.Email,
		DeliveryMethod:       string(o.DeliveryMethod),
		PaymentMethod:        string(o.PaymentMethod),
		Items:                items,
		Notes:                o.Notes,
		Subtotal:             money(o.Subtotal()),
		Discount:             money(o.Discount),
		Tax:                  money(o.Tax),
		Total:                money(o.Total),
		Currency:             o.Currency,
		Status:               string(o.Status),
		PaymentTransactionID: o.PaymentTransactionID,
		PaymentStatus:        o.PaymentStatus,
		PaymentEvents:        events,
		AppliedDiscounts:     applied,
		Version:              o.Version,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type discountRequest struct {
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Code          string           `json:"code"`
	Type          string           `json:"type"`
	Value         decimal.Decimal  `json:"value"`
	Active        *bool            `json:"active"`
	StartDate     *time.Time       `json:"startDate"`
	EndDate       *time.Time       `json:"endDate"`
	MinOrderTotal *decimal.Decimal `json:"minOrderTotal"`
	MaxUses       int              `json:"maxUses"`
}

func (req *discountRequest) toDomain() *discount.Discount {
	d := &discount.Discount{
		Name:        req.Name,
		Description: req.Description,
		Code:        req.Code,
		Kind:        discount.Kind(req.Type),
		Value:       req.Value,
		Active:      true,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		MaxUses:     req.MaxUses,
	}
	if req.Active != nil {
		d.Active = *req.Active
	}
	if req.MinOrderTotal != nil {
		d.MinOrderTotal = *req.MinOrderTotal
	}
	return d
}

type discountResponse struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Code          string      `json:"code"`
	Type          string      `json:"type"`
	Value         json.Number `json:"value"`
	Active        bool        `json:"active"`
	StartDate     *time.Time  `json:"startDate,omitempty"`
	EndDate       *time.Time  `json:"endDate,omitempty"`
	MinOrderTotal json.Number `json:"minOrderTotal"`
	MaxUses       int         `json:"maxUses"`
	UsedCount     int         `json:"usedCount"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

func toDiscountResponse(d *discount.Discount) discountResponse {
	return discountResponse{
		ID:            d.ID,
		Name:          d.Name,
		Description:   d.Description,
		Code:          d.Code,
		Type:          string(d.Kind),
		Value:         money(d.Value),
		Active:        d.Active,
		StartDate:     d.StartDate,
		EndDate:       d.EndDate,
		MinOrderTotal: money(d.MinOrderTotal),
		MaxUses:       d.MaxUses,
		UsedCount:     d.UsedCount,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type applyDiscountRequest struct {
	OrderID string `json:"orderId"`
	Code    string `json:"code"`
}

type applyDiscountResponse struct {
	Order         orderResponse    `json:"order"`
	Discount      discountResponse `json:"discount"`
	Amount        json.Number      `json:"amount"`
	ApplicationID string           `json:"applicationId"`
}

type initiatePaymentRequest struct {
	OrderID           string `json:"orderId"`
	PaymentMethodType string `json:"paymentMethodType"`
	PaymentSource     string `json:"paymentSource"`
	CustomerEmail     string `json:"customerEmail"`
	IdempotencyKey    string `json:"idempotencyKey"`
}

type transactionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

type initiatePaymentResponse struct {
	Order       orderResponse       `json:"order"`
	Transaction transactionResponse `json:"transaction"`
	Replayed    bool                `json:"replayed"`
}

func toTransactionResponse(tx *payment.Transaction) transactionResponse {
	return transactionResponse{ID: tx.ID, Status: tx.Status, Raw: details(tx.Raw)}
}

type webhookResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}
