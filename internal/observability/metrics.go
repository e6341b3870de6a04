// Package observability wires OpenTelemetry metrics and tracing for foreman.
package observability

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Metrics manages the instruments for the record updater and operation monitors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	lockAcquired         metric.Int64Counter
	lockConflicts        metric.Int64Counter
	lockRetriesExhausted metric.Int64Counter
	lockWait             metric.Float64Histogram

	monitorPolls    metric.Int64Counter
	monitorOutcomes metric.Int64Counter
	taskTransitions metric.Int64Counter
}

// NewMetrics creates the metrics collector backed by a Prometheus exporter.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if !config.Enabled {
		return nil, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("foreman")

	m := &Metrics{meter: meter}

	if m.lockAcquired, err = meter.Int64Counter(
		"foreman.record.lock.acquired",
		metric.WithDescription("Locked updates that acquired the record lock"),
		metric.WithUnit("{update}"),
	); err != nil {
		return nil, fmt.Errorf("create lock acquired counter: %w", err)
	}

	if m.lockConflicts, err = meter.Int64Counter(
		"foreman.record.lock.conflicts",
		metric.WithDescription("Lock contention and version conflicts observed while updating"),
		metric.WithUnit("{conflict}"),
	); err != nil {
		return nil, fmt.Errorf("create lock conflicts counter: %w", err)
	}

	if m.lockRetriesExhausted, err = meter.Int64Counter(
		"foreman.record.lock.retries_exhausted",
		metric.WithDescription("Locked updates that gave up after the retry budget"),
		metric.WithUnit("{update}"),
	); err != nil {
		return nil, fmt.Errorf("create retries exhausted counter: %w", err)
	}

	if m.lockWait, err = meter.Float64Histogram(
		"foreman.record.lock.wait",
		metric.WithDescription("Time spent acquiring and applying a locked update"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create lock wait histogram: %w", err)
	}

	if m.monitorPolls, err = meter.Int64Counter(
		"foreman.monitor.polls",
		metric.WithDescription("Status polls issued by operation monitors"),
		metric.WithUnit("{poll}"),
	); err != nil {
		return nil, fmt.Errorf("create monitor polls counter: %w", err)
	}

	if m.monitorOutcomes, err = meter.Int64Counter(
		"foreman.monitor.outcomes",
		metric.WithDescription("Terminal outcomes reached by operation monitors"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("create monitor outcomes counter: %w", err)
	}

	if m.taskTransitions, err = meter.Int64Counter(
		"foreman.task.transitions",
		metric.WithDescription("Task status transitions applied to the ledger"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, fmt.Errorf("create task transitions counter: %w", err)
	}

	return m, nil
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promclient.Handler()
}

// RecordLockAcquired counts a successful locked update and its total wait.
func (m *Metrics) RecordLockAcquired(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.lockAcquired.Add(ctx, 1)
	m.lockWait.Record(ctx, seconds)
}

// RecordLockConflict counts one contention or version-conflict retry.
func (m *Metrics) RecordLockConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.lockConflicts.Add(ctx, 1)
}

// RecordRetriesExhausted counts a locked update that returned false.
func (m *Metrics) RecordRetriesExhausted(ctx context.Context) {
	if m == nil {
		return
	}
	m.lockRetriesExhausted.Add(ctx, 1)
}

// RecordMonitorPoll counts one status poll for the given operation kind.
func (m *Metrics) RecordMonitorPoll(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.monitorPolls.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordMonitorOutcome counts a terminal monitor outcome (completed, failed, timeout).
func (m *Metrics) RecordMonitorOutcome(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.monitorOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// RecordTaskTransition counts a ledger transition into the given status.
func (m *Metrics) RecordTaskTransition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.taskTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
