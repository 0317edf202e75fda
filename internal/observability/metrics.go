package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the pack planning service
type MetricsCollector struct {
	meter metric.Meter

	// Planner metrics
	plannerRequests metric.Int64Counter
	plannerFallback metric.Int64Counter
	plannerLatency  metric.Float64Histogram

	// Lifecycle metrics
	plansCreated metric.Int64Counter
	planReplays  metric.Int64Counter

	// HTTP metrics
	httpRequests metric.Int64Counter
	httpLatency  metric.Float64Histogram

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("packplan")

	plannerRequests, err := meter.Int64Counter(
		"packplan.planner.requests.total",
		metric.WithDescription("Total number of order-optimization requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create planner_requests counter: %w", err)
	}

	plannerFallback, err := meter.Int64Counter(
		"packplan.planner.fallback.total",
		metric.WithDescription("Total number of deterministic fallback orderings"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create planner_fallback counter: %w", err)
	}

	plannerLatency, err := meter.Float64Histogram(
		"packplan.planner.latency",
		metric.WithDescription("Order-optimization latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create planner_latency histogram: %w", err)
	}

	plansCreated, err := meter.Int64Counter(
		"packplan.plans.created.total",
		metric.WithDescription("Total number of newly persisted session pack plans"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plans_created counter: %w", err)
	}

	planReplays, err := meter.Int64Counter(
		"packplan.plans.replayed.total",
		metric.WithDescription("Total number of idempotent plan-next replays"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan_replays counter: %w", err)
	}

	httpRequests, err := meter.Int64Counter(
		"packplan.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests counter: %w", err)
	}

	httpLatency, err := meter.Float64Histogram(
		"packplan.http.latency",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_latency histogram: %w", err)
	}

	collector := &MetricsCollector{
		meter:           meter,
		plannerRequests: plannerRequests,
		plannerFallback: plannerFallback,
		plannerLatency:  plannerLatency,
		plansCreated:    plansCreated,
		planReplays:     planReplays,
		httpRequests:    httpRequests,
		httpLatency:     httpLatency,
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// StartPrometheusServer starts the Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordPlannerRequest records one order-optimization request
func (m *MetricsCollector) RecordPlannerRequest(ctx context.Context, model string, status string, usedFallback bool, latency time.Duration) {
	if m == nil || m.plannerRequests == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("status", status),
	}

	m.plannerRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.plannerLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
	if usedFallback {
		m.plannerFallback.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

// RecordPlanCreated records a newly persisted plan
func (m *MetricsCollector) RecordPlanCreated(ctx context.Context) {
	if m == nil || m.plansCreated == nil {
		return
	}
	m.plansCreated.Add(ctx, 1)
}

// RecordPlanReplay records an idempotent replay of an existing plan
func (m *MetricsCollector) RecordPlanReplay(ctx context.Context) {
	if m == nil || m.planReplays == nil {
		return
	}
	m.planReplays.Add(ctx, 1)
}

// RecordHTTPRequest records one HTTP request
func (m *MetricsCollector) RecordHTTPRequest(ctx context.Context, route string, method string, status int, latency time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("route", route),
		attribute.String("method", method),
		attribute.Int("status", status),
	}

	m.httpRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
}
