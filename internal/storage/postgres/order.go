package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lois2311/pyro-backend/internal/domain/order"
)

const orderColumns = `id, customer, delivery_method, payment_method, items, notes,
	discount, tax, currency, total, status, payment_transaction_id, payment_status,
	payment_key, payment_events, applied_discounts, version, created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, '[]'::jsonb, $15, $16, $17, $18)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByTransactionSQL = `SELECT ` + orderColumns + ` FROM orders WHERE payment_transaction_id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`

	// payment_events only grows through appendPaymentEventSQL.
	updateOrderSQL = `UPDATE orders SET
		customer = $3, delivery_method = $4, payment_method = $5, items = $6, notes = $7,
		discount = $8, tax = $9, currency = $10, total = $11, status = $12,
		payment_transaction_id = $13, payment_status = $14, payment_key = $15,
		applied_discounts = $16, updated_at = $17, version = version + 1
		WHERE id = $1 AND version = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	appendPaymentEventSQL = `UPDATE orders
		SET payment_events = payment_events || jsonb_build_array($2::text)
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Customer and items are serialized to JSON for
// storage in JSONB columns.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	customerJSON, itemsJSON, err := marshalOrder(o)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, customerJSON, string(o.DeliveryMethod), string(o.PaymentMethod), itemsJSON, o.Notes,
		o.Discount, o.Tax, o.Currency, o.Total, string(o.Status), nullString(o.PaymentTransactionID),
		o.PaymentStatus, o.PaymentKey, appliedIDs(o), o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns the order with the given id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}
	return r.getOne(ctx, getOrderSQL, id)
}

// GetByTransactionID returns the order carrying the gateway transaction id.
func (r *OrderRepository) GetByTransactionID(ctx context.Context, transactionID string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByTransactionSQL, transactionID)
}

func (r *OrderRepository) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return &o, nil
}

// List returns all orders, newest first.
func (r *OrderRepository) List(ctx context.Context) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// Update writes o if the stored version still equals o.Version, then bumps
// o.Version.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	customerJSON, itemsJSON, err := marshalOrder(o)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, updateOrderSQL,
		o.ID, o.Version,
		customerJSON, string(o.DeliveryMethod), string(o.PaymentMethod), itemsJSON, o.Notes,
		o.Discount, o.Tax, o.Currency, o.Total, string(o.Status),
		nullString(o.PaymentTransactionID), o.PaymentStatus, o.PaymentKey, appliedIDs(o), o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrTransactionAssigned
		}
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, orderExistsSQL, o.ID).Scan(&exists); err != nil {
			return fmt.Errorf("checking order %q: %w", o.ID, err)
		}
		if !exists {
			return order.ErrNotFound
		}
		return order.ErrVersionConflict
	}

	o.Version++
	return nil
}

// AppendPaymentEvent appends event to the order's audit log in place. Each
// entry is kept as a JSON string holding the bytes exactly as received.
func (r *OrderRepository) AppendPaymentEvent(ctx context.Context, id string, event []byte) error {
	tag, err := r.pool.Exec(ctx, appendPaymentEventSQL, id, string(event))
	if err != nil {
		return fmt.Errorf("appending payment event to order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func marshalOrder(o *order.Order) (customer, items []byte, err error) {
	customer, err = json.Marshal(o.Customer)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling order customer: %w", err)
	}
	items, err = json.Marshal(o.Items)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling order items: %w", err)
	}
	return customer, items, nil
}

func appliedIDs(o *order.Order) []string {
	if o.AppliedDiscounts == nil {
		return []string{}
	}
	return o.AppliedDiscounts
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                             order.Order
		customerJSON, itemsJSON       []byte
		eventsJSON                    []byte
		deliveryMethod, paymentMethod string
		status                        string
		transactionID                 *string
		discount, tax, total          decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &customerJSON, &deliveryMethod, &paymentMethod, &itemsJSON, &o.Notes,
		&discount, &tax, &o.Currency, &total, &status, &transactionID, &o.PaymentStatus,
		&o.PaymentKey, &eventsJSON, &o.AppliedDiscounts, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	if err := json.Unmarshal(customerJSON, &o.Customer); err != nil {
		return o, fmt.Errorf("unmarshaling order customer: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	var events []string
	if err := json.Unmarshal(eventsJSON, &events); err != nil {
		return o, fmt.Errorf("unmarshaling payment events: %w", err)
	}
	for _, ev := range events {
		o.PaymentEvents = append(o.PaymentEvents, []byte(ev))
	}

	o.DeliveryMethod = order.DeliveryMethod(deliveryMethod)
	o.PaymentMethod = order.PaymentMethod(paymentMethod)
	o.Status = order.Status(status)
	o.Discount = discount
	o.Tax = tax
	o.Total = total
	if transactionID != nil {
		o.PaymentTransactionID = *transactionID
	}
	return o, nil
}
