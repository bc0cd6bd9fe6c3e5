package observability

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"releasepipe/internal/pipeline"
)

// Metrics holds the pipeline, HTTP and dispatcher instruments.
type Metrics struct {
	meter metric.Meter

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Runs and instances
	RunDuration      metric.Float64Histogram
	RunsTotal        metric.Int64Counter
	RunsActive       metric.Int64UpDownCounter
	InstanceDuration metric.Float64Histogram
	InstancesTotal   metric.Int64Counter

	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
}

// NewMetrics creates the instruments on a private Prometheus registry and
// returns the handler serving it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &Metrics{meter: provider.Meter("releasepipe")}
	if err := m.init(); err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

func (m *Metrics) init() error {
	var err error
	meter := m.meter

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	); err != nil {
		return err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return err
	}
	if m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	); err != nil {
		return err
	}

	if m.RunDuration, err = meter.Float64Histogram(
		"pipeline_run_duration_seconds",
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(10, 30, 60, 120, 300, 600, 900, 1800, 3600),
	); err != nil {
		return err
	}
	if m.RunsTotal, err = meter.Int64Counter(
		"pipeline_runs_total",
		metric.WithDescription("Total number of finished pipeline runs by result"),
	); err != nil {
		return err
	}
	if m.RunsActive, err = meter.Int64UpDownCounter(
		"pipeline_runs_active",
		metric.WithDescription("Number of runs in progress (saturation)"),
	); err != nil {
		return err
	}
	if m.InstanceDuration, err = meter.Float64Histogram(
		"pipeline_instance_duration_seconds",
		metric.WithDescription("Job instance duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900, 1800),
	); err != nil {
		return err
	}
	if m.InstancesTotal, err = meter.Int64Counter(
		"pipeline_instances_total",
		metric.WithDescription("Total number of terminal job instances by job and result"),
	); err != nil {
		return err
	}

	if m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Callback delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return err
	}
	if m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	); err != nil {
		return err
	}
	if m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total events failed after retries"),
	); err != nil {
		return err
	}
	m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total events dropped"),
	)
	return err
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordRunStarted marks a run in progress. Pair with RecordRun.
func (m *Metrics) RecordRunStarted(ctx context.Context, kind string) {
	m.RunsActive.Add(ctx, 1, metric.WithAttributes(kindAttr(kind)))
}

// RecordRunEnded clears the in-progress mark set by RecordRunStarted.
func (m *Metrics) RecordRunEnded(ctx context.Context, kind string) {
	m.RunsActive.Add(ctx, -1, metric.WithAttributes(kindAttr(kind)))
}

// RecordRun implements scheduler.Metrics.
func (m *Metrics) RecordRun(ctx context.Context, status pipeline.Status, duration time.Duration) {
	attrs := metric.WithAttributes(resultAttr(status))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordInstance implements scheduler.Metrics.
func (m *Metrics) RecordInstance(ctx context.Context, job pipeline.JobID, status pipeline.Status, duration time.Duration) {
	attrs := metric.WithAttributes(jobAttr(job), resultAttr(status))
	m.InstancesTotal.Add(ctx, 1, attrs)
	if status != pipeline.StatusSkipped {
		m.InstanceDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordDispatcherDelivered implements dispatcher.MetricsRecorder.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, duration time.Duration) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, duration.Seconds())
}

// RecordDispatcherFailed implements dispatcher.MetricsRecorder.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped implements dispatcher.MetricsRecorder.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}
