package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"fitcore/internal/infrastructure"
	"fitcore/internal/license"
)

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	checker   *license.HealthCheck
	licenses  *LicenseService
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    license.HealthStatus       `json:"status"`
	Message   string                     `json:"message,omitempty"`
	Timestamp time.Time                  `json:"timestamp"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Sessions  int                        `json:"open_sessions"`
	License   *license.HealthCheckResult `json:"license,omitempty"`
	Runtime   map[string]interface{}     `json:"runtime,omitempty"`
}

// NewHealthService creates a new health service
func NewHealthService(version, buildTime string, core *license.Core, licenses *LicenseService, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.String("build_time", buildTime))

	return &HealthService{
		version:   version,
		buildTime: buildTime,
		checker:   license.NewHealthCheck(core, licenses.Current, license.DefaultHealthCheckConfig()),
		licenses:  licenses,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// HealthCheck runs the full license health check and adds runtime stats.
func (hs *HealthService) HealthCheck(ctx context.Context) (HealthStatus, error) {
	result, err := hs.checker.PerformHealthCheck(ctx)
	if err != nil {
		hs.logger.ErrorContext(ctx, "health check failed", slog.String("error", err.Error()))
		return HealthStatus{}, err
	}
	status := hs.base(result.OverallStatus)
	status.Message = result.Message
	status.License = result
	status.Runtime = infrastructure.CollectSystemStats(hs.startTime).FormatStats()
	return status, nil
}

// ReadinessCheck reports healthy only while a valid license is in service.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	if err := hs.licenses.CheckLicense(ctx); err != nil {
		status := hs.base(license.HealthStatusUnhealthy)
		status.Message = err.Error()
		return status
	}
	status := hs.base(license.HealthStatusHealthy)
	status.Message = "license valid"
	return status
}

// LivenessCheck reports that the process is serving requests.
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return hs.base(license.HealthStatusHealthy)
}

// Version returns build and runtime version information.
func (hs *HealthService) Version() map[string]interface{} {
	return map[string]interface{}{
		"version":      hs.version,
		"build_time":   hs.buildTime,
		"core_version": license.GetVersion().String(),
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
	}
}

func (hs *HealthService) base(status license.HealthStatus) HealthStatus {
	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Version:   hs.version,
		Uptime:    time.Since(hs.startTime).Round(time.Second).String(),
		Sessions:  hs.licenses.sessions.count(),
	}
}
