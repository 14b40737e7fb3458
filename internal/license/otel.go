package license

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	fiterrors "fitcore/internal/errors"
)

const (
	TracerName = "fitcore-license"
	MeterName  = "fitcore-license"
)

// Metrics holds the license core OpenTelemetry instruments. A nil
// *Metrics records nothing.
type Metrics struct {
	// Verification metrics
	Verifications        metric.Int64Counter
	VerificationDuration metric.Float64Histogram
	CacheHits            metric.Int64Counter
	CacheMisses          metric.Int64Counter

	// Lookup metrics
	Lookups        metric.Int64Counter
	LookupDuration metric.Float64Histogram

	// Consumption metrics
	ConsumeStarts      metric.Int64Counter
	ConsumeFailures    metric.Int64Counter
	ActiveConsumptions metric.Int64UpDownCounter

	// Update metrics
	UpdatePreparations metric.Int64Counter
}

// InitializeMetrics creates all license core instruments.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Verifications, err = meter.Int64Counter(
		"license_verifications_total",
		metric.WithDescription("Signature verifications by algorithm and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifications counter: %w", err)
	}

	m.VerificationDuration, err = meter.Float64Histogram(
		"license_verification_duration_seconds",
		metric.WithDescription("Signature verification duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification duration histogram: %w", err)
	}

	m.CacheHits, err = meter.Int64Counter(
		"license_signature_cache_hits_total",
		metric.WithDescription("RSA verifications skipped by the signature cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.CacheMisses, err = meter.Int64Counter(
		"license_signature_cache_misses_total",
		metric.WithDescription("RSA verifications that missed the signature cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.Lookups, err = meter.Int64Counter(
		"license_lookups_total",
		metric.WithDescription("Item and feature lookups by operation and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookups counter: %w", err)
	}

	m.LookupDuration, err = meter.Float64Histogram(
		"license_lookup_duration_seconds",
		metric.WithDescription("Lookup duration in seconds, including validity checks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup duration histogram: %w", err)
	}

	m.ConsumeStarts, err = meter.Int64Counter(
		"license_consume_starts_total",
		metric.WithDescription("Successful feature consumption starts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consume starts counter: %w", err)
	}

	m.ConsumeFailures, err = meter.Int64Counter(
		"license_consume_failures_total",
		metric.WithDescription("Refused feature consumption starts by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consume failures counter: %w", err)
	}

	m.ActiveConsumptions, err = meter.Int64UpDownCounter(
		"license_active_consumptions",
		metric.WithDescription("Features started and not yet ended"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active consumptions gauge: %w", err)
	}

	m.UpdatePreparations, err = meter.Int64Counter(
		"license_update_preparations_total",
		metric.WithDescription("License update preparations by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create update preparations counter: %w", err)
	}

	return m, nil
}

func resultAttr(err error) attribute.KeyValue {
	if err == nil {
		return attribute.String("result", "ok")
	}
	return attribute.String("result", strings.ToLower(fiterrors.CodeOf(err).String()))
}

func (m *Metrics) recordVerification(ctx context.Context, alg Algorithm, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("algorithm", alg.String()), resultAttr(err))
	m.Verifications.Add(ctx, 1, attrs)
	m.VerificationDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) recordCache(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Add(ctx, 1)
	} else {
		m.CacheMisses.Add(ctx, 1)
	}
}

func (m *Metrics) recordLookup(ctx context.Context, op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("operation", op), resultAttr(err))
	m.Lookups.Add(ctx, 1, attrs)
	m.LookupDuration.Record(ctx, duration.Seconds(), attrs)
}

// recordConsume counts a start; started is false when fc was already
// consuming, which leaves the active gauge alone.
func (m *Metrics) recordConsume(ctx context.Context, fc *FeatureContext, started bool, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ConsumeFailures.Add(ctx, 1, metric.WithAttributes(resultAttr(err)))
		return
	}
	attrs := metric.WithAttributes(attribute.Int64("product_id", int64(fc.ProductID)))
	m.ConsumeStarts.Add(ctx, 1, attrs)
	if started {
		m.ActiveConsumptions.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordRelease(ctx context.Context, fc *FeatureContext) {
	if m == nil {
		return
	}
	m.ActiveConsumptions.Add(ctx, -1, metric.WithAttributes(attribute.Int64("product_id", int64(fc.ProductID))))
}

func (m *Metrics) recordUpdate(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.UpdatePreparations.Add(ctx, 1, metric.WithAttributes(resultAttr(err)))
}

// classifyError maps an error to a low-cardinality span attribute.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	return strings.ToLower(fiterrors.KindOf(err).String())
}
