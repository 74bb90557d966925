package product

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product is the catalog view the order flow needs: identity and the
// current unit price.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
}

// Repository resolves current catalog prices.
type Repository interface {
	// GetByIDs returns the products matching any of the given IDs. Missing IDs
	// are simply absent from the result.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
