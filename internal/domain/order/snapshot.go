package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/lois2311/pyro-backend/internal/domain/apperr"
	"github.com/lois2311/pyro-backend/internal/domain/product"
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// AppError classifies the error as a missing product.
func (e *ProductNotFoundError) AppError() *apperr.Error {
	return &apperr.Error{Kind: apperr.KindNotFound, Code: "product_not_found", Message: e.Error()}
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// AppError classifies the error as a validation failure.
func (e *InvalidQuantityError) AppError() *apperr.Error {
	return &apperr.Error{Kind: apperr.KindValidation, Code: "invalid_quantity", Message: e.Error()}
}

// ItemRequest is one requested line before pricing.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// Snapshotter resolves current catalog prices into immutable line items.
type Snapshotter struct {
	products product.Repository
}

// NewSnapshotter creates a Snapshotter reading from the given catalog.
func NewSnapshotter(products product.Repository) *Snapshotter {
	return &Snapshotter{products: products}
}

// Snapshot validates quantities, fetches every product in a single batch and
// returns line items in request order. Any unknown product aborts the whole
// snapshot. A product requested twice yields two lines at the same price.
func (s *Snapshotter) Snapshot(ctx context.Context, items []ItemRequest) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, ErrItemsRequired
	}

	ids := make([]string, len(items))
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	prices := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		prices[p.ID] = p
	}

	lines := make([]LineItem, len(items))
	for i, item := range items {
		p, ok := prices[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		lines[i] = NewLineItem(item.ProductID, item.Quantity, p.Price)
	}
	return lines, nil
}
