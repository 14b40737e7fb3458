package http

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fitcore/internal/license"
	"fitcore/internal/services"
)

// MockLicenseService implements LicenseServiceInterface for testing
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) Info(ctx context.Context) (*services.LicenseInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.LicenseInfo), args.Error(1)
}

func (m *MockLicenseService) Update(ctx context.Context, raw []byte) error {
	return m.Called(ctx, raw).Error(0)
}

func (m *MockLicenseService) Reload(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockLicenseService) Fingerprint(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockLicenseService) FindFeature(ctx context.Context, featureID, productID uint32) (*license.FeatureContext, error) {
	args := m.Called(ctx, featureID, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*license.FeatureContext), args.Error(1)
}

func (m *MockLicenseService) StartSession(ctx context.Context, featureID, productID uint32) (*services.Session, error) {
	args := m.Called(ctx, featureID, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Session), args.Error(1)
}

func (m *MockLicenseService) EndSession(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockLicenseService) Sessions() []services.Session {
	return m.Called().Get(0).([]services.Session)
}

// MockHealthService implements HealthServiceInterface for testing
type MockHealthService struct {
	mock.Mock
}

func (m *MockHealthService) HealthCheck(ctx context.Context) (services.HealthStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(services.HealthStatus), args.Error(1)
}

func (m *MockHealthService) ReadinessCheck(ctx context.Context) services.HealthStatus {
	return m.Called(ctx).Get(0).(services.HealthStatus)
}

func (m *MockHealthService) LivenessCheck(ctx context.Context) services.HealthStatus {
	return m.Called(ctx).Get(0).(services.HealthStatus)
}

func (m *MockHealthService) Version() map[string]interface{} {
	return m.Called().Get(0).(map[string]interface{})
}

// MockLicenseChecker implements the license gate's checker
type MockLicenseChecker struct {
	mock.Mock
}

func (m *MockLicenseChecker) CheckLicense(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
