package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"fitcore/internal/config"
)

const (
	ServiceVersion = "1.0.0"
	MeterName      = "fitcore-licensed"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	EnableMetrics  bool
	EnableTracing  bool
	SampleRatio    float64

	// TraceWriter receives stdout trace export; defaults to os.Stdout.
	TraceWriter io.Writer
}

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter

	// Registry backs PrometheusHTTP; nil when metrics are disabled.
	Registry       *promclient.Registry
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// NewOTelConfig maps the telemetry section onto an OTelConfig
func NewOTelConfig(cfg config.TelemetryConfig) *OTelConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "production"
	}
	name := cfg.ServiceName
	if name == "" {
		name = config.AppName
	}
	return &OTelConfig{
		ServiceName:    name,
		ServiceVersion: ServiceVersion,
		Environment:    env,
		EnableMetrics:  cfg.EnableMetrics,
		EnableTracing:  cfg.EnableTracing,
		SampleRatio:    1.0,
	}
}

// InitializeOTel sets up tracing and metrics as cfg asks. Disabled signals
// get no-op implementations so callers never check for nil.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = NewOTelConfig(config.Default().Telemetry)
	}
	ctx := context.Background()

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Tracer: otel.Tracer(MeterName),
		Meter:  noop.NewMeterProvider().Meter(MeterName),
		Logger: logger,
	}

	if cfg.EnableTracing {
		if err := initializeTracing(cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}
	if cfg.EnableMetrics {
		if err := initializeMetrics(cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	return providers, nil
}

func initializeTracing(cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	w := cfg.TraceWriter
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)
	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetTracerProvider(tp)
	return nil
}

func initializeMetrics(cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	providers.Registry = reg
	providers.PrometheusHTTP = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	providers.MeterProvider = mp
	providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetMeterProvider(mp)
	return nil
}

// DaemonMetrics holds the licensed daemon's own instruments. License core
// instruments live with the core.
type DaemonMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter
	HTTPRateLimited     metric.Int64Counter

	LicenseReloads metric.Int64Counter
	WatcherEvents  metric.Int64Counter

	EventClients    metric.Int64UpDownCounter
	EventsPublished metric.Int64Counter
	EventsDropped   metric.Int64Counter
}

// CreateDaemonMetrics creates the daemon instruments on meter
func CreateDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	var (
		m   DaemonMetrics
		err error
	)
	if m.HTTPRequestsTotal, err = meter.Int64Counter("fitcore_http_requests",
		metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram("fitcore_http_request_duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.HTTPActiveRequests, err = meter.Int64UpDownCounter("fitcore_http_active_requests",
		metric.WithDescription("Number of in-flight HTTP requests")); err != nil {
		return nil, err
	}
	if m.HTTPRateLimited, err = meter.Int64Counter("fitcore_http_rate_limited",
		metric.WithDescription("Requests rejected by the rate limiter")); err != nil {
		return nil, err
	}
	if m.LicenseReloads, err = meter.Int64Counter("fitcore_license_reloads",
		metric.WithDescription("License file reload attempts by result")); err != nil {
		return nil, err
	}
	if m.WatcherEvents, err = meter.Int64Counter("fitcore_watcher_events",
		metric.WithDescription("File system events seen by the license watcher")); err != nil {
		return nil, err
	}
	if m.EventClients, err = meter.Int64UpDownCounter("fitcore_event_clients",
		metric.WithDescription("Connected event stream clients")); err != nil {
		return nil, err
	}
	if m.EventsPublished, err = meter.Int64Counter("fitcore_events_published",
		metric.WithDescription("Events broadcast to the event stream by type")); err != nil {
		return nil, err
	}
	if m.EventsDropped, err = meter.Int64Counter("fitcore_events_dropped",
		metric.WithDescription("Event deliveries dropped for slow clients")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordHTTPRequest records one finished request
func (m *DaemonMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.String("http.status_code", strconv.Itoa(status)),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRateLimited counts one rejected request
func (m *DaemonMetrics) RecordRateLimited(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.HTTPRateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("http.path", path)))
}

// RecordLicenseReload records a reload attempt; err nil means success
func (m *DaemonMetrics) RecordLicenseReload(ctx context.Context, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.LicenseReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordWatcherEvent counts one license file event by operation
func (m *DaemonMetrics) RecordWatcherEvent(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.WatcherEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordEventClient adjusts the connected event client count by delta
func (m *DaemonMetrics) RecordEventClient(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.EventClients.Add(ctx, delta)
}

// RecordEventPublished counts one broadcast and the deliveries it dropped
func (m *DaemonMetrics) RecordEventPublished(ctx context.Context, eventType string, dropped int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("type", eventType))
	m.EventsPublished.Add(ctx, 1, attrs)
	if dropped > 0 {
		m.EventsDropped.Add(ctx, int64(dropped), attrs)
	}
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// TraceIDFromContext extracts the span trace ID from context for logging
// correlation
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
