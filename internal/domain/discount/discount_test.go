package discount

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDiscount_Amount(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		value string
		total string
		want  string
	}{
		{name: "percentage", kind: KindPercentage, value: "10", total: "250", want: "25"},
		{name: "percentage rounds to cents", kind: KindPercentage, value: "15", total: "33.33", want: "5"},
		{name: "full percentage", kind: KindPercentage, value: "100", total: "80.5", want: "80.5"},
		{name: "fixed", kind: KindFixedAmount, value: "30", total: "250", want: "30"},
		{name: "fixed clamped to total", kind: KindFixedAmount, value: "300", total: "250", want: "250"},
		{name: "zero total", kind: KindFixedAmount, value: "10", total: "0", want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disc := &Discount{Kind: tt.kind, Value: d(tt.value)}
			got := disc.Amount(d(tt.total))
			assert.True(t, d(tt.want).Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestDiscount_Check(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	tests := []struct {
		name    string
		disc    Discount
		total   string
		wantErr error
	}{
		{name: "eligible", disc: Discount{MinOrderTotal: d("100")}, total: "250"},
		{name: "inside window", disc: Discount{StartDate: &yesterday, EndDate: &tomorrow}, total: "10"},
		{name: "not yet valid", disc: Discount{StartDate: &tomorrow}, total: "10", wantErr: ErrNotYetValid},
		{name: "expired", disc: Discount{EndDate: &yesterday}, total: "10", wantErr: ErrExpired},
		{name: "minimum not met", disc: Discount{MinOrderTotal: d("100")}, total: "99.99", wantErr: ErrMinimumNotMet},
		{name: "minimum met exactly", disc: Discount{MinOrderTotal: d("100")}, total: "100"},
		{name: "exhausted", disc: Discount{MaxUses: 2, UsedCount: 2}, total: "10", wantErr: ErrExhausted},
		{name: "unlimited", disc: Discount{MaxUses: 0, UsedCount: 1000}, total: "10"},
		{
			name:    "expiry checked before minimum",
			disc:    Discount{EndDate: &yesterday, MinOrderTotal: d("100"), MaxUses: 1, UsedCount: 1},
			total:   "10",
			wantErr: ErrExpired,
		},
		{
			name:    "minimum checked before usage",
			disc:    Discount{MinOrderTotal: d("100"), MaxUses: 1, UsedCount: 1},
			total:   "10",
			wantErr: ErrMinimumNotMet,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.disc.Check(now, d(tt.total))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "want %v got %v", tt.wantErr, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDiscount_Validate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)

	valid := func() Discount {
		return Discount{Name: "Spring", Code: "SPRING-10", Kind: KindPercentage, Value: d("10")}
	}

	tests := []struct {
		name   string
		modify func(*Discount)
		field  string
		code   bool
	}{
		{name: "valid", modify: func(*Discount) {}},
		{name: "missing name", modify: func(x *Discount) { x.Name = " " }, field: "name"},
		{name: "short code", modify: func(x *Discount) { x.Code = "AB1" }, code: true},
		{name: "code with spaces", modify: func(x *Discount) { x.Code = "AB 12" }, code: true},
		{name: "percentage over 100", modify: func(x *Discount) { x.Value = d("100.01") }, field: "value"},
		{name: "negative fixed", modify: func(x *Discount) { x.Kind = KindFixedAmount; x.Value = d("-1") }, field: "value"},
		{name: "unknown kind", modify: func(x *Discount) { x.Kind = "bogo" }, field: "kind"},
		{name: "negative minimum", modify: func(x *Discount) { x.MinOrderTotal = d("-5") }, field: "min_order_total"},
		{name: "negative max uses", modify: func(x *Discount) { x.MaxUses = -1 }, field: "max_uses"},
		{name: "inverted window", modify: func(x *Discount) { x.StartDate = &start; x.EndDate = &before }, field: "end_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disc := valid()
			tt.modify(&disc)
			err := disc.Validate()
			switch {
			case tt.code:
				assert.True(t, errors.Is(err, ErrInvalidCode))
			case tt.field != "":
				var invalid *InvalidDiscountError
				require.True(t, errors.As(err, &invalid), "got %v", err)
				assert.Equal(t, tt.field, invalid.Field)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
