// Package telemetry holds the service's OpenTelemetry instruments.
package telemetry

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lois2311/pyro-backend/internal/domain/apperr"
)

const meterName = "github.com/lois2311/pyro-backend"

// Metrics counts business outcomes. A nil *Metrics records nothing.
type Metrics struct {
	discountApplications metric.Int64Counter
	paymentInitiations   metric.Int64Counter
	webhookEvents        metric.Int64Counter
}

// NewMetrics registers the counters on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	discounts, err := meter.Int64Counter("pyro.discount.applications",
		metric.WithDescription("Discount application attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "discount applications counter")
	}
	payments, err := meter.Int64Counter("pyro.payment.initiations",
		metric.WithDescription("Payment initiation attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "payment initiations counter")
	}
	webhooks, err := meter.Int64Counter("pyro.payment.webhook_events",
		metric.WithDescription("Inbound payment webhook events by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "webhook events counter")
	}

	return &Metrics{
		discountApplications: discounts,
		paymentInitiations:   payments,
		webhookEvents:        webhooks,
	}, nil
}

// DiscountApplied records one discount application attempt.
func (m *Metrics) DiscountApplied(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.discountApplications.Add(ctx, 1, metric.WithAttributes(outcome(err)))
}

// PaymentInitiated records one payment initiation attempt.
func (m *Metrics) PaymentInitiated(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.paymentInitiations.Add(ctx, 1, metric.WithAttributes(outcome(err)))
}

// WebhookProcessed records one webhook delivery.
func (m *Metrics) WebhookProcessed(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(outcome(err)))
}

func outcome(err error) attribute.KeyValue {
	if err == nil {
		return attribute.String("outcome", "ok")
	}
	if e, ok := apperr.From(err); ok {
		return attribute.String("outcome", e.Code)
	}
	return attribute.String("outcome", "internal")
}
