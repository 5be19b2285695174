package observability

import (
	"context"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Textfile string `mapstructure:"textfile" yaml:"textfile"` // node_exporter textfile collector target
}

// MetricsCollector manages supervisor metrics. Instruments are created on an
// OpenTelemetry meter whose Prometheus exporter feeds a private registry; the
// registry is written to a textfile instead of being served. A zero collector
// (metrics disabled) accepts every call and records nothing.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry
	textfile string

	loads         metric.Int64Counter
	reloads       metric.Int64Counter
	removals      metric.Int64Counter
	scanErrors    metric.Int64Counter
	workersActive metric.Int64Gauge
	cycleDuration metric.Float64Histogram
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
		prometheus.WithoutScopeInfo(),
		prometheus.WithoutTargetInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)
	meter := provider.Meter("hotpool")

	m := &MetricsCollector{
		provider: provider,
		registry: registry,
		textfile: config.Textfile,
	}

	if m.loads, err = meter.Int64Counter(
		"hotpool.loads",
		metric.WithDescription("Task load attempts by result"),
		metric.WithUnit("{load}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create loads counter: %w", err)
	}
	if m.reloads, err = meter.Int64Counter(
		"hotpool.reloads",
		metric.WithDescription("Workers swapped after a source change"),
		metric.WithUnit("{reload}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create reloads counter: %w", err)
	}
	if m.removals, err = meter.Int64Counter(
		"hotpool.removals",
		metric.WithDescription("Workers retired because their source disappeared"),
		metric.WithUnit("{removal}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create removals counter: %w", err)
	}
	if m.scanErrors, err = meter.Int64Counter(
		"hotpool.scan_errors",
		metric.WithDescription("Cycles aborted because the pool could not be listed"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create scan_errors counter: %w", err)
	}
	if m.workersActive, err = meter.Int64Gauge(
		"hotpool.workers_active",
		metric.WithDescription("Workers running after the last cycle"),
		metric.WithUnit("{worker}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create workers_active gauge: %w", err)
	}
	if m.cycleDuration, err = meter.Float64Histogram(
		"hotpool.cycle.duration",
		metric.WithDescription("Wall time of one reconcile cycle"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.004, 0.016, 0.064, 0.256, 1, 4, 16),
	); err != nil {
		return nil, fmt.Errorf("failed to create cycle_duration histogram: %w", err)
	}
	return m, nil
}

// Gatherer exposes the registry the exporter writes into, or nil when disabled.
func (m *MetricsCollector) Gatherer() promclient.Gatherer {
	if m == nil || m.registry == nil {
		return nil
	}
	return m.registry
}

// RecordLoad records a load attempt outcome ("ok" or an error kind).
func (m *MetricsCollector) RecordLoad(ctx context.Context, result string) {
	if m == nil || m.loads == nil {
		return
	}
	m.loads.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordReload records a completed worker swap.
func (m *MetricsCollector) RecordReload(ctx context.Context) {
	if m == nil || m.reloads == nil {
		return
	}
	m.reloads.Add(ctx, 1)
}

// RecordRemoval records a retired worker.
func (m *MetricsCollector) RecordRemoval(ctx context.Context) {
	if m == nil || m.removals == nil {
		return
	}
	m.removals.Add(ctx, 1)
}

// RecordScanError records an aborted cycle.
func (m *MetricsCollector) RecordScanError(ctx context.Context) {
	if m == nil || m.scanErrors == nil {
		return
	}
	m.scanErrors.Add(ctx, 1)
}

// RecordCycle records the cycle duration and the live worker count after it.
func (m *MetricsCollector) RecordCycle(ctx context.Context, duration time.Duration, workers int) {
	if m == nil || m.cycleDuration == nil {
		return
	}
	m.cycleDuration.Record(ctx, duration.Seconds())
	m.workersActive.Record(ctx, int64(workers))
}

// Flush writes the registry to the configured textfile, if any.
func (m *MetricsCollector) Flush() error {
	if m == nil || m.registry == nil || m.textfile == "" {
		return nil
	}
	if err := promclient.WriteToTextfile(m.textfile, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Shutdown flushes the textfile one last time and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	flushErr := m.Flush()
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return flushErr
}
