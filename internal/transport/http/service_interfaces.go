package http

import (
	"context"

	"fitcore/internal/license"
	"fitcore/internal/services"
)

// LicenseServiceInterface is the license surface the handlers use
type LicenseServiceInterface interface {
	Info(ctx context.Context) (*services.LicenseInfo, error)
	Update(ctx context.Context, raw []byte) error
	Reload(ctx context.Context) error
	Fingerprint(ctx context.Context) (string, error)

	FindFeature(ctx context.Context, featureID, productID uint32) (*license.FeatureContext, error)
	StartSession(ctx context.Context, featureID, productID uint32) (*services.Session, error)
	EndSession(ctx context.Context, id string) error
	Sessions() []services.Session
}

// HealthServiceInterface defines the health endpoints' dependencies
type HealthServiceInterface interface {
	HealthCheck(ctx context.Context) (services.HealthStatus, error)
	ReadinessCheck(ctx context.Context) services.HealthStatus
	LivenessCheck(ctx context.Context) services.HealthStatus
	Version() map[string]interface{}
}

var (
	_ LicenseServiceInterface = (*services.LicenseService)(nil)
	_ HealthServiceInterface  = (*services.HealthService)(nil)
)
