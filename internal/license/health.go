package license

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/infrastructure"
	"fitcore/internal/persist"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health of a specific component
type ComponentHealth struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  string                 `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheckConfig configures health check behavior
type HealthCheckConfig struct {
	CheckTimeout          time.Duration
	MaxValidationDuration time.Duration
}

// DefaultHealthCheckConfig returns sensible defaults
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		CheckTimeout:          5 * time.Second,
		MaxValidationDuration: time.Second,
	}
}

// LicenseSource returns the license currently in service, or nil.
type LicenseSource func() *License

// HealthCheck reports on the core, its collaborators and the active
// license.
type HealthCheck struct {
	core    *Core
	license LicenseSource
	config  HealthCheckConfig
}

// NewHealthCheck creates a health check. license may be nil.
func NewHealthCheck(core *Core, license LicenseSource, config HealthCheckConfig) *HealthCheck {
	return &HealthCheck{core: core, license: license, config: config}
}

// HealthCheckResult contains the aggregated health status
type HealthCheckResult struct {
	OverallStatus HealthStatus                `json:"status"`
	Message       string                      `json:"message"`
	Timestamp     time.Time                   `json:"timestamp"`
	Duration      string                      `json:"duration"`
	TraceID       string                      `json:"trace_id,omitempty"`
	Version       string                      `json:"version"`
	Components    map[string]*ComponentHealth `json:"components"`
}

// PerformHealthCheck runs every component check concurrently.
func (hc *HealthCheck) PerformHealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	ctx, span := hc.core.tracer.Start(ctx, "license.health_check",
		trace.WithAttributes(attribute.String("component", "license_health")),
	)
	defer span.End()

	start := time.Now()
	result := &HealthCheckResult{
		Timestamp:  start,
		TraceID:    infrastructure.TraceIDFromContext(ctx),
		Version:    GetVersion().String(),
		Components: make(map[string]*ComponentHealth),
	}

	checks := map[string]func(context.Context) *ComponentHealth{
		"core":            hc.checkCore,
		"signature_cache": hc.checkSignatureCache,
		"persistence":     hc.checkPersistence,
		"device_id":       hc.checkDeviceID,
		"license":         hc.checkLicense,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, hc.config.CheckTimeout)
			defer cancel()
			h := check(checkCtx)
			mu.Lock()
			result.Components[name] = h
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.OverallStatus = overallStatus(result.Components)
	result.Duration = time.Since(start).String()
	result.Message = statusMessage(result.OverallStatus, result.Components)

	span.SetAttributes(
		attribute.String("health.overall_status", string(result.OverallStatus)),
		attribute.Int("health.total_components", len(result.Components)),
	)
	return result, nil
}

func newComponent() *ComponentHealth {
	return &ComponentHealth{Timestamp: time.Now(), Metadata: make(map[string]interface{})}
}

func (hc *HealthCheck) checkCore(context.Context) *ComponentHealth {
	h := newComponent()
	h.Metadata["capabilities"] = hc.core.caps.String()
	h.Metadata["keys"] = hc.core.nkeys
	if !hc.core.Initialized() {
		h.Status = HealthStatusUnhealthy
		h.Message = "License core not initialized"
		return h
	}
	unusable := 0
	for i := 0; i < hc.core.nkeys; i++ {
		if hc.core.keys[i].err != nil {
			unusable++
		}
	}
	h.Metadata["unusable_keys"] = unusable
	switch {
	case hc.core.nkeys == 0 || unusable == hc.core.nkeys:
		h.Status = HealthStatusUnhealthy
		h.Message = "No usable signing key"
	case unusable > 0:
		h.Status = HealthStatusDegraded
		h.Message = fmt.Sprintf("%d of %d signing keys unusable", unusable, hc.core.nkeys)
	default:
		h.Status = HealthStatusHealthy
		h.Message = "License core ready"
	}
	return h
}

func (hc *HealthCheck) checkSignatureCache(context.Context) *ComponentHealth {
	h := newComponent()
	stats := hc.core.cache.Stats()
	h.Metadata["hit_count"] = stats.Hits
	h.Metadata["miss_count"] = stats.Misses
	h.Metadata["hit_ratio"] = stats.HitRatio
	h.Status = HealthStatusHealthy
	h.Message = "Signature cache operational"
	if hc.core.opts.DisableRSACache {
		h.Message = "Signature cache disabled"
	}
	return h
}

// checkPersistence reads a record that never exists; anything other than
// not-found means the store is unreachable or corrupt.
func (hc *HealthCheck) checkPersistence(ctx context.Context) *ComponentHealth {
	h := newComponent()
	if !hc.core.persistenceEnabled() {
		h.Status = HealthStatusHealthy
		h.Message = "Persistence not enabled"
		return h
	}
	start := time.Now()
	_, err := hc.core.opts.Store.Get(ctx, uuid.Nil, persist.MaxKeyID)
	h.Duration = time.Since(start).String()
	switch {
	case err == nil || fiterrors.IsNotFound(err):
		h.Status = HealthStatusHealthy
		h.Message = "Persistent store reachable"
	default:
		h.Status = HealthStatusUnhealthy
		h.Message = "Persistent store failure"
		h.Error = err.Error()
		h.Metadata["error_type"] = classifyError(err)
	}
	return h
}

func (hc *HealthCheck) checkDeviceID(ctx context.Context) *ComponentHealth {
	h := newComponent()
	if !hc.core.caps.Has(CapNodeLock) {
		h.Status = HealthStatusHealthy
		h.Message = "Node locking not enabled"
		return h
	}
	if _, err := hc.core.deviceFingerprint(ctx); err != nil {
		h.Status = HealthStatusDegraded
		h.Message = "Device fingerprint unavailable"
		h.Error = err.Error()
		return h
	}
	h.Status = HealthStatusHealthy
	h.Message = "Device fingerprint available"
	return h
}

func (hc *HealthCheck) checkLicense(ctx context.Context) *ComponentHealth {
	h := newComponent()
	var lic *License
	if hc.license != nil {
		lic = hc.license()
	}
	if lic == nil {
		h.Status = HealthStatusDegraded
		h.Message = "No license loaded"
		return h
	}

	start := time.Now()
	err := hc.core.CheckValidity(ctx, lic, true)
	duration := time.Since(start)
	h.Duration = duration.String()
	h.Metadata["verified"] = lic.Verified()

	switch {
	case err != nil:
		h.Status = HealthStatusUnhealthy
		h.Message = "License invalid"
		h.Error = err.Error()
		h.Metadata["error_type"] = classifyError(err)
	case duration > hc.config.MaxValidationDuration:
		h.Status = HealthStatusDegraded
		h.Message = fmt.Sprintf("License validation slow (%.2fs)", duration.Seconds())
	default:
		h.Status = HealthStatusHealthy
		h.Message = "License valid"
	}
	return h
}

func overallStatus(components map[string]*ComponentHealth) HealthStatus {
	status := HealthStatusHealthy
	for _, h := range components {
		switch h.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

func statusMessage(status HealthStatus, components map[string]*ComponentHealth) string {
	switch status {
	case HealthStatusHealthy:
		return fmt.Sprintf("All %d license components are healthy", len(components))
	case HealthStatusDegraded:
		return "License system operational with degraded components"
	default:
		return "License system unhealthy"
	}
}

// HTTPHandler serves the health check as JSON.
func (hc *HealthCheck) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := hc.PerformHealthCheck(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Health check failed: %v", err), http.StatusInternalServerError)
			return
		}

		statusCode := http.StatusOK
		if result.OverallStatus == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		encoder.Encode(result)
	}
}
