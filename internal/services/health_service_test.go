package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitcore/internal/license"
	"fitcore/internal/persist"
	"fitcore/internal/security"
	"fitcore/internal/shared/testutil"
)

func newHealthFixture(t *testing.T) (*HealthService, *LicenseService, *testutil.LicenseFixtures) {
	t.Helper()
	dir := t.TempDir()
	logger, _ := testutil.NewTestLogger(t)

	core, err := license.New(license.Options{
		Keys: []license.Key{{
			Algorithm: license.AlgAES,
			Scope:     license.ScopeSign,
			Material:  testutil.FixtureAESKey,
		}},
		Capabilities: license.CapAES | license.CapClock | license.CapPersistence,
		Store:        persist.NewMemoryStore(),
		Clock:        license.ClockFunc(func() (uint32, error) { return uint32(time.Now().Unix()), nil }),
		DeviceID:     security.StaticDeviceID("health-device"),
		Logger:       logger,
	})
	require.NoError(t, err)
	require.NoError(t, core.Init(context.Background()))

	licenses := NewLicenseService(core, LicenseServiceConfig{Path: filepath.Join(dir, "license.bin")}, nil, logger)
	return NewHealthService("1.2.3", "2026-10-01", core, licenses, logger), licenses, testutil.NewLicenseFixtures(dir)
}

func TestHealthService_Readiness(t *testing.T) {
	ctx := context.Background()
	hs, licenses, fixtures := newHealthFixture(t)

	status := hs.ReadinessCheck(ctx)
	assert.Equal(t, license.HealthStatusUnhealthy, status.Status)
	assert.NotEmpty(t, status.Message)

	_, err := fixtures.WriteLicense("license.bin", fixtures.Perpetual())
	require.NoError(t, err)
	require.NoError(t, licenses.Load(ctx))

	status = hs.ReadinessCheck(ctx)
	assert.Equal(t, license.HealthStatusHealthy, status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Zero(t, status.Sessions)
}

func TestHealthService_Liveness(t *testing.T) {
	hs, _, _ := newHealthFixture(t)

	status := hs.LivenessCheck(context.Background())
	assert.Equal(t, license.HealthStatusHealthy, status.Status, "liveness does not need a license")
	assert.NotEmpty(t, status.Uptime)
	assert.False(t, status.Timestamp.IsZero())
}

func TestHealthService_HealthCheck(t *testing.T) {
	ctx := context.Background()
	hs, licenses, fixtures := newHealthFixture(t)

	status, err := hs.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.HealthStatusDegraded, status.Status, "no license loaded")
	require.NotNil(t, status.License)
	assert.Contains(t, status.License.Components, "license")
	assert.NotEmpty(t, status.Runtime)

	_, err = fixtures.WriteLicense("license.bin", fixtures.Perpetual())
	require.NoError(t, err)
	require.NoError(t, licenses.Load(ctx))
	session, err := licenses.StartSession(ctx, 7, 0)
	require.NoError(t, err)

	status, err = hs.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.HealthStatusHealthy, status.Status)
	assert.Equal(t, license.HealthStatusHealthy, status.License.Components["license"].Status)
	assert.Equal(t, 1, status.Sessions)

	require.NoError(t, licenses.EndSession(ctx, session.ID))
}

func TestHealthService_Version(t *testing.T) {
	hs, _, _ := newHealthFixture(t)

	v := hs.Version()
	assert.Equal(t, "1.2.3", v["version"])
	assert.Equal(t, "2026-10-01", v["build_time"])
	assert.Equal(t, license.GetVersion().String(), v["core_version"])
	assert.NotEmpty(t, v["go_version"])
}

func TestHealthService_ReadinessAfterLicenseRemoved(t *testing.T) {
	ctx := context.Background()
	hs, licenses, fixtures := newHealthFixture(t)

	path, err := fixtures.WriteLicense("license.bin", fixtures.Perpetual())
	require.NoError(t, err)
	require.NoError(t, licenses.Load(ctx))
	require.NoError(t, os.Remove(path))

	// the license stays in service until a replacement is admitted
	assert.Error(t, licenses.Reload(ctx))
	assert.Equal(t, license.HealthStatusHealthy, hs.ReadinessCheck(ctx).Status)
}
