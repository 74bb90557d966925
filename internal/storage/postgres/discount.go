package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lois2311/pyro-backend/internal/domain/discount"
)

const discountColumns = `id, name, description, code, kind, value, active, start_date, end_date,
	min_order_total, max_uses, used_count, created_at, updated_at`

const (
	createDiscountSQL = `INSERT INTO discounts (` + discountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	insertDiscountIgnoreSQL = createDiscountSQL + ` ON CONFLICT (code) DO NOTHING`

	listDiscountsSQL = `SELECT ` + discountColumns + ` FROM discounts ORDER BY created_at DESC`

	listDiscountCodesSQL = `SELECT code FROM discounts`

	findActiveDiscountSQL = `SELECT ` + discountColumns + `
		FROM discounts WHERE code = $1 AND active = TRUE`

	incrementDiscountUsageSQL = `UPDATE discounts SET used_count = used_count + 1, updated_at = $2
		WHERE id = $1 AND (max_uses = 0 OR used_count < max_uses)`

	applicationColumns = `id, order_id, discount_id, code, amount, state, created_at, updated_at`

	createApplicationSQL = `INSERT INTO discount_applications (` + applicationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getApplicationSQL = `SELECT ` + applicationColumns + ` FROM discount_applications WHERE id = $1`

	setApplicationStateSQL = `UPDATE discount_applications SET state = $3, updated_at = $4
		WHERE id = $1 AND state = $2`

	listPendingApplicationsSQL = `SELECT ` + applicationColumns + `
		FROM discount_applications WHERE state = 'pending' AND created_at < $1
		ORDER BY created_at`

	countApplicationsSQL = `SELECT COUNT(*) FROM discount_applications
		WHERE order_id = $1 AND discount_id = $2 AND state IN ('pending', 'completed')`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool, now: time.Now}
}

// Create inserts a discount. A duplicate code yields discount.ErrCodeTaken.
func (r *DiscountRepository) Create(ctx context.Context, d *discount.Discount) error {
	_, err := r.pool.Exec(ctx, createDiscountSQL, discountArgs(d)...)
	if err != nil {
		if isUniqueViolation(err) {
			return discount.ErrCodeTaken
		}
		return fmt.Errorf("creating discount %q: %w", d.Code, err)
	}
	return nil
}

// List returns all discounts, newest first.
func (r *DiscountRepository) List(ctx context.Context) ([]discount.Discount, error) {
	rows, err := r.pool.Query(ctx, listDiscountsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing discounts: %w", err)
	}
	return pgx.CollectRows(rows, scanDiscount)
}

// FindActiveByCode looks up an active discount by its exact code.
func (r *DiscountRepository) FindActiveByCode(ctx context.Context, code string) (*discount.Discount, error) {
	rows, err := r.pool.Query(ctx, findActiveDiscountSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFoundOrInactive
		}
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	return &d, nil
}

// CreateApplication inserts an intent record.
func (r *DiscountRepository) CreateApplication(ctx context.Context, a *discount.Application) error {
	_, err := r.pool.Exec(ctx, createApplicationSQL,
		a.ID, a.OrderID, a.DiscountID, a.Code, a.Amount, string(a.State), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating discount application %q: %w", a.ID, err)
	}
	return nil
}

// GetApplication returns an intent record by id.
func (r *DiscountRepository) GetApplication(ctx context.Context, id string) (*discount.Application, error) {
	rows, err := r.pool.Query(ctx, getApplicationSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting discount application %q: %w", id, err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanApplication)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("getting discount application %q: %w", id, err)
	}
	return &a, nil
}

// CommitApplication completes a pending application and counts the use in
// one transaction.
func (r *DiscountRepository) CommitApplication(ctx context.Context, a *discount.Application) error {
	now := r.now().UTC()
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, setApplicationStateSQL,
			a.ID, string(discount.StatePending), string(discount.StateCompleted), now,
		)
		if err != nil {
			return fmt.Errorf("completing discount application %q: %w", a.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return discount.ErrApplicationSettled
		}

		tag, err = tx.Exec(ctx, incrementDiscountUsageSQL, a.DiscountID, now)
		if err != nil {
			return fmt.Errorf("incrementing usage of discount %q: %w", a.DiscountID, err)
		}
		if tag.RowsAffected() == 0 {
			return discount.ErrExhausted
		}
		return nil
	})
}

// SetApplicationState moves an application from one state to another.
func (r *DiscountRepository) SetApplicationState(ctx context.Context, id string, from, to discount.ApplicationState) error {
	tag, err := r.pool.Exec(ctx, setApplicationStateSQL, id, string(from), string(to), r.now().UTC())
	if err != nil {
		return fmt.Errorf("setting discount application %q to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrApplicationSettled
	}
	return nil
}

// ListPendingApplications returns pending applications created before the
// given time, oldest first.
func (r *DiscountRepository) ListPendingApplications(ctx context.Context, createdBefore time.Time) ([]discount.Application, error) {
	rows, err := r.pool.Query(ctx, listPendingApplicationsSQL, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("listing pending applications: %w", err)
	}
	return pgx.CollectRows(rows, scanApplication)
}

// CountApplications counts live applications of a discount on an order.
func (r *DiscountRepository) CountApplications(ctx context.Context, orderID, discountID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countApplicationsSQL, orderID, discountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting applications: %w", err)
	}
	return n, nil
}

// Codes returns every stored discount code.
func (r *DiscountRepository) Codes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listDiscountCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing discount codes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// CopyNew bulk-loads discounts whose codes are known to be absent.
func (r *DiscountRepository) CopyNew(ctx context.Context, ds []discount.Discount) (int64, error) {
	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"discounts"},
		[]string{
			"id", "name", "description", "code", "kind", "value", "active", "start_date", "end_date",
			"min_order_total", "max_uses", "used_count", "created_at", "updated_at",
		},
		pgx.CopyFromSlice(len(ds), func(i int) ([]any, error) {
			return discountArgs(&ds[i]), nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("copying discounts: %w", err)
	}
	return n, nil
}

// InsertIfAbsent inserts d unless its code exists and reports whether a row
// was written.
func (r *DiscountRepository) InsertIfAbsent(ctx context.Context, d *discount.Discount) (bool, error) {
	tag, err := r.pool.Exec(ctx, insertDiscountIgnoreSQL, discountArgs(d)...)
	if err != nil {
		return false, fmt.Errorf("inserting discount %q: %w", d.Code, err)
	}
	return tag.RowsAffected() == 1, nil
}

func discountArgs(d *discount.Discount) []any {
	return []any{
		d.ID, d.Name, d.Description, d.Code, string(d.Kind), d.Value, d.Active, d.StartDate, d.EndDate,
		d.MinOrderTotal, d.MaxUses, d.UsedCount, d.CreatedAt, d.UpdatedAt,
	}
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d             discount.Discount
		kind          string
		value         decimal.Decimal
		minOrderTotal decimal.Decimal
		maxUses       int32
		usedCount     int32
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.Description, &d.Code, &kind, &value, &d.Active, &d.StartDate, &d.EndDate,
		&minOrderTotal, &maxUses, &usedCount, &d.CreatedAt, &d.UpdatedAt,
	)
	d.Kind = discount.Kind(kind)
	d.Value = value
	d.MinOrderTotal = minOrderTotal
	d.MaxUses = int(maxUses)
	d.UsedCount = int(usedCount)
	return d, err
}

func scanApplication(row pgx.CollectableRow) (discount.Application, error) {
	var (
		a      discount.Application
		amount decimal.Decimal
		state  string
	)
	err := row.Scan(&a.ID, &a.OrderID, &a.DiscountID, &a.Code, &amount, &state, &a.CreatedAt, &a.UpdatedAt)
	a.Amount = amount
	a.State = discount.ApplicationState(state)
	return a, err
}
