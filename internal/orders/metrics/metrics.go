package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	ordersCreatedTotal     metric.Int64Counter
	orderCreationDuration  metric.Float64Histogram
	paymentsReconciled     metric.Int64Counter
	stockAlertsTotal       metric.Int64Counter
	gatewayRequestDuration metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.ordersCreatedTotal, err = meter.Int64Counter(
		"orders_created_total",
		metric.WithDescription("Total number of orders created"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create orders_created_total counter: %w", err)
	}

	m.orderCreationDuration, err = meter.Float64Histogram(
		"order_creation_duration_seconds",
		metric.WithDescription("Duration of order creation operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_creation_duration histogram: %w", err)
	}

	m.paymentsReconciled, err = meter.Int64Counter(
		"payments_reconciled_total",
		metric.WithDescription("Payment outcomes handled by the reconciler"),
		metric.WithUnit("{payment}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payments_reconciled_total counter: %w", err)
	}

	m.stockAlertsTotal, err = meter.Int64Counter(
		"stock_alerts_total",
		metric.WithDescription("Out-of-stock alerts sent to store contacts"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create stock_alerts_total counter: %w", err)
	}

	m.gatewayRequestDuration, err = meter.Float64Histogram(
		"payment_gateway_request_duration_seconds",
		metric.WithDescription("Duration of payment gateway calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_gateway_request_duration histogram: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordOrderCreated(ctx context.Context, success bool) {
	m.ordersCreatedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", statusLabel(success)),
	))
}

func (m *Metrics) RecordOrderCreationDuration(ctx context.Context, durationSeconds float64) {
	m.orderCreationDuration.Record(ctx, durationSeconds)
}

// RecordPaymentReconciled counts an outcome by source, resulting status and
// whether it changed state or replayed a recorded result.
func (m *Metrics) RecordPaymentReconciled(ctx context.Context, source, status string, replayed bool) {
	result := "applied"
	if replayed {
		result = "replayed"
	}
	m.paymentsReconciled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
		attribute.String("result", result),
	))
}

func (m *Metrics) RecordStockAlert(ctx context.Context, success bool) {
	m.stockAlertsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", statusLabel(success)),
	))
}

func (m *Metrics) RecordGatewayRequest(ctx context.Context, operation string, durationSeconds float64, success bool) {
	m.gatewayRequestDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", statusLabel(success)),
	))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
