package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "fitcore/internal/errors"
	"fitcore/internal/infrastructure"
)

const (
	// DefaultLicenseCacheTTL is how long a successful check is reused.
	DefaultLicenseCacheTTL = 30 * time.Second
	// failureCacheTTL is shorter so a fixed license is picked up quickly.
	failureCacheTTL = 5 * time.Second
	checkTimeout    = 5 * time.Second
)

// LicenseGate rejects requests while no valid license is loaded. Results
// of the checker are cached; reloads call InvalidateCache.
type LicenseGate struct {
	checker      LicenseChecker
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
	cache        *validationCache

	excludePaths    map[string]struct{}
	excludePrefixes []string

	// serializes checks on a cache miss
	validationMu sync.Mutex
}

type validationCache struct {
	mu         sync.RWMutex
	err        error
	checkedAt  time.Time
	ttl        time.Duration
	errorCount int
	now        func() time.Time
}

// NewLicenseGate creates the gate. Health, version, metrics and license
// management endpoints are always reachable.
func NewLicenseGate(checker LicenseChecker, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseGate {
	return &LicenseGate{
		checker:      checker,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("component", "license_gate")),
		cache: &validationCache{
			ttl: DefaultLicenseCacheTTL,
			now: time.Now,
		},
		excludePaths: map[string]struct{}{
			"/metrics":               {},
			"/version":               {},
			"/api/v1/license":        {},
			"/api/v1/license/reload": {},
			"/api/v1/fingerprint":    {},
		},
		// Sessions can always be ended, even after the license went away.
		excludePrefixes: []string{"/health", "/api/v1/sessions/"},
	}
}

// WithCacheTTL overrides the success cache lifetime
func (g *LicenseGate) WithCacheTTL(ttl time.Duration) *LicenseGate {
	g.cache.mu.Lock()
	g.cache.ttl = ttl
	g.cache.mu.Unlock()
	return g
}

// Handler returns the middleware handler function
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.shouldExcludePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		span := trace.SpanFromContext(ctx)

		cached, err := g.cachedResult()
		if !cached {
			err = g.check(ctx)
		}
		span.SetAttributes(
			attribute.Bool("license.cache_hit", cached),
			attribute.Bool("license.valid", err == nil),
		)

		if err != nil {
			g.logger.WarnContext(ctx, "request rejected by license gate",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			g.errorHandler.HandleError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// check runs the checker once per cache miss
func (g *LicenseGate) check(ctx context.Context) error {
	g.validationMu.Lock()
	defer g.validationMu.Unlock()

	// Another request may have refreshed the cache while we waited.
	if ok, err := g.cachedResult(); ok {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := g.checker.CheckLicense(ctx)
	if err != nil {
		infrastructure.RecordError(ctx, err)
	}
	g.logger.DebugContext(ctx, "license check performed",
		slog.Duration("duration", time.Since(start)),
		slog.Bool("valid", err == nil),
	)
	g.store(err)
	return err
}

func (g *LicenseGate) cachedResult() (bool, error) {
	c := g.cache
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.checkedAt.IsZero() {
		return false, nil
	}
	ttl := c.ttl
	if c.err != nil {
		ttl = min(ttl, failureCacheTTL)
	}
	if c.now().Sub(c.checkedAt) > ttl {
		return false, nil
	}
	return true, c.err
}

func (g *LicenseGate) store(err error) {
	c := g.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	c.err = err
	c.checkedAt = c.now()
	if err != nil {
		c.errorCount++
	} else {
		c.errorCount = 0
	}
}

// InvalidateCache forces the next request to re-check the license
func (g *LicenseGate) InvalidateCache() {
	g.cache.mu.Lock()
	g.cache.checkedAt = time.Time{}
	g.cache.err = nil
	g.cache.mu.Unlock()
	g.logger.Debug("license cache invalidated")
}

// ConsecutiveFailures reports how many checks in a row have failed
func (g *LicenseGate) ConsecutiveFailures() int {
	g.cache.mu.RLock()
	defer g.cache.mu.RUnlock()
	return g.cache.errorCount
}

func (g *LicenseGate) shouldExcludePath(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
