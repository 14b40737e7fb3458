package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "fitcore/internal/errors"
)

type mockChecker struct {
	calls atomic.Int32
	err   error
}

func (m *mockChecker) CheckLicense(ctx context.Context) error {
	m.calls.Add(1)
	return m.err
}

func newTestGate(checker LicenseChecker) (*LicenseGate, *time.Time) {
	logger, _ := newTestLogger()
	g := NewLicenseGate(checker, apierrors.NewErrorHandler(logger, false), logger)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.cache.now = func() time.Time { return now }
	return g, &now
}

func TestLicenseGate(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		checkErr   error
		wantStatus int
		wantCalled bool
		wantChecks int32
		wantType   string
	}{
		{
			name:       "health excluded",
			path:       "/health/ready",
			checkErr:   apierrors.ErrNoLicense,
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "metrics excluded",
			path:       "/metrics",
			checkErr:   apierrors.ErrNoLicense,
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "version excluded",
			path:       "/version",
			checkErr:   apierrors.ErrNoLicense,
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "session end excluded",
			path:       "/api/v1/sessions/0b6f",
			checkErr:   apierrors.ErrNoLicense,
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "valid license",
			path:       "/api/v1/features/7",
			wantStatus: http.StatusOK,
			wantCalled: true,
			wantChecks: 1,
		},
		{
			name:       "no license",
			path:       "/api/v1/features/7",
			checkErr:   apierrors.ErrNoLicense,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: 1,
			wantType:   apierrors.TypeServiceDown,
		},
		{
			name:       "license expired",
			path:       "/api/v1/features/7",
			checkErr:   apierrors.New(apierrors.CodeFeatureExpired, "check license"),
			wantStatus: http.StatusForbidden,
			wantChecks: 1,
			wantType:   "/errors/license/feature-expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockChecker{err: tt.checkErr}
			g, _ := newTestGate(checker)

			var called bool
			rec := httptest.NewRecorder()
			g.Handler(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, tt.wantChecks, checker.calls.Load())
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, decodeBody(t, rec)["type"])
			}
		})
	}
}

func TestLicenseGateCache(t *testing.T) {
	checker := &mockChecker{}
	g, now := newTestGate(checker)
	h := g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serve := func() int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/features/1", nil))
		return rec.Code
	}

	require.Equal(t, http.StatusOK, serve())
	require.Equal(t, http.StatusOK, serve())
	assert.Equal(t, int32(1), checker.calls.Load(), "second request served from cache")

	*now = now.Add(DefaultLicenseCacheTTL + time.Second)
	serve()
	assert.Equal(t, int32(2), checker.calls.Load(), "expired entry re-checked")

	g.InvalidateCache()
	serve()
	assert.Equal(t, int32(3), checker.calls.Load(), "invalidation forces a check")
}

func TestLicenseGateFailureCachedBriefly(t *testing.T) {
	checker := &mockChecker{err: apierrors.ErrNoLicense}
	g, now := newTestGate(checker)
	g.WithCacheTTL(time.Hour)
	h := g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serve := func() int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/features/1", nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusServiceUnavailable, serve())
	assert.Equal(t, http.StatusServiceUnavailable, serve())
	assert.Equal(t, int32(1), checker.calls.Load())
	assert.Equal(t, 1, g.ConsecutiveFailures())

	*now = now.Add(failureCacheTTL + time.Second)
	checker.err = nil
	assert.Equal(t, http.StatusOK, serve())
	assert.Equal(t, int32(2), checker.calls.Load())
	assert.Zero(t, g.ConsecutiveFailures())
}

func TestLicenseGateConcurrentMissChecksOnce(t *testing.T) {
	checker := &mockChecker{}
	g, _ := newTestGate(checker)
	h := g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/features/1", nil))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), checker.calls.Load())
}
