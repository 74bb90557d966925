package telemetry

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/lois2311/pyro-backend/internal/domain/apperr"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.DiscountApplied(ctx, nil)
		m.PaymentInitiated(ctx, errors.New("x"))
		m.WebhookProcessed(ctx, nil)
	})
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	m.DiscountApplied(context.Background(), nil)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil).Value.AsString())
	assert.Equal(t, "internal", outcome(errors.New("boom")).Value.AsString())
	coded := apperr.New(apperr.KindValidation, "minimum_not_met", "m")
	assert.Equal(t, "minimum_not_met", outcome(errors.Wrap(coded, "apply")).Value.AsString())
}
