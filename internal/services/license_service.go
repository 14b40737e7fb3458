package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/algorand/go-deadlock"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/infrastructure"
	"fitcore/internal/license"
	"fitcore/internal/sproto"
)

// loadedLicense is one license in service together with its bytes.
type loadedLicense struct {
	handle   *license.License
	raw      []byte
	loadedAt time.Time
	source   string
}

// LicenseService owns the license the daemon serves. It loads the license
// file, applies replacements through the core's update pipeline and tracks
// open consumption sessions.
type LicenseService struct {
	core       *license.Core
	path       string
	backupPath string
	logger     *slog.Logger
	metrics    *infrastructure.DaemonMetrics

	current  atomic.Pointer[loadedLicense]
	sessions *sessionRegistry

	// serializes load, reload and update
	updateMu deadlock.Mutex

	listenersMu deadlock.Mutex
	listeners   []func()
	publisher   EventPublisher

	now func() time.Time
}

// LicenseServiceConfig holds the file locations of the served license.
type LicenseServiceConfig struct {
	Path       string
	BackupPath string
}

// NewLicenseService creates the service. metrics may be nil.
func NewLicenseService(core *license.Core, cfg LicenseServiceConfig, metrics *infrastructure.DaemonMetrics, logger *slog.Logger) *LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseService{
		core:       core,
		path:       cfg.Path,
		backupPath: cfg.BackupPath,
		logger:     logger.With(slog.String("component", "license_service")),
		metrics:    metrics,
		sessions:   newSessionRegistry(),
		now:        time.Now,
	}
}

// OnChange registers fn to run after the served license changed.
func (s *LicenseService) OnChange(fn func()) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *LicenseService) notify() {
	s.listenersMu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Current returns the license in service, or nil.
func (s *LicenseService) Current() *license.License {
	if l := s.current.Load(); l != nil {
		return l.handle
	}
	return nil
}

// Path returns the license file the service reads.
func (s *LicenseService) Path() string {
	return s.path
}

// Load reads the license file and puts it in service. A missing file
// leaves the service without a license and returns an fs.ErrNotExist
// error.
func (s *LicenseService) Load(ctx context.Context) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read license file: %w", err)
	}
	return s.apply(ctx, raw, "file")
}

// Reload re-reads the license file after a change on disk. Identical
// contents are ignored. On failure the previous license stays in service.
func (s *LicenseService) Reload(ctx context.Context) (err error) {
	defer func() { s.metrics.RecordLicenseReload(ctx, err) }()

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read license file: %w", err)
	}
	if cur := s.current.Load(); cur != nil && bytes.Equal(cur.raw, raw) {
		s.logger.DebugContext(ctx, "license file unchanged")
		return nil
	}
	return s.apply(ctx, raw, "reload")
}

// Update validates raw as a replacement for the license in service,
// writes it to the license file and keeps the previous file as a backup.
func (s *LicenseService) Update(ctx context.Context, raw []byte) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	if len(raw) == 0 {
		return fiterrors.New(fiterrors.CodeInvalidParameter, "license.update")
	}
	raw = append([]byte(nil), raw...)
	next := s.core.NewLicense(raw)
	if err := s.admit(ctx, next); err != nil {
		s.publish(ctx, EventLicenseRejected, LicenseEvent{Source: "update", Code: fiterrors.CodeOf(err).String()})
		return err
	}
	if err := s.writeFile(raw); err != nil {
		return err
	}
	s.install(ctx, next, raw, "update")
	return nil
}

// apply admits raw and puts it in service. The caller holds updateMu.
func (s *LicenseService) apply(ctx context.Context, raw []byte, source string) error {
	next := s.core.NewLicense(raw)
	if err := s.admit(ctx, next); err != nil {
		s.logger.WarnContext(ctx, "license rejected",
			slog.String("source", source),
			slog.String("code", fiterrors.CodeOf(err).String()),
			slog.String("error", err.Error()),
		)
		s.publish(ctx, EventLicenseRejected, LicenseEvent{Source: source, Code: fiterrors.CodeOf(err).String()})
		return err
	}
	s.install(ctx, next, raw, source)
	return nil
}

// admit decides whether next may replace the license in service.
//
// An updatable license (one with a container id and update counter)
// replacing another goes through the core's update pipeline. Otherwise
// the license must pass the validity pipeline; an updatable license whose
// counter is not yet recorded is recorded instead.
func (s *LicenseService) admit(ctx context.Context, next *license.License) error {
	_, _, nextUpdatable, err := s.core.Identity(ctx, next)
	if err != nil {
		return err
	}
	if cur := s.current.Load(); cur != nil {
		_, _, prevUpdatable, err := s.core.Identity(ctx, cur.handle)
		if err != nil {
			return err
		}
		if prevUpdatable {
			return s.core.PrepareLicenseUpdate(ctx, cur.handle, next)
		}
	}

	err = s.core.CheckValidity(ctx, next, true)
	if nextUpdatable && fiterrors.CodeOf(err) == fiterrors.CodeUpdateCountMismatch {
		return s.core.PrepareLicenseUpdate(ctx, nil, next)
	}
	return err
}

func (s *LicenseService) install(ctx context.Context, next *license.License, raw []byte, source string) {
	s.current.Store(&loadedLicense{
		handle:   next,
		raw:      raw,
		loadedAt: s.now(),
		source:   source,
	})
	s.logger.InfoContext(ctx, "license in service",
		slog.String("source", source),
		slog.Int("size", len(raw)),
	)
	s.notify()
	s.publish(ctx, EventLicenseLoaded, LicenseEvent{Source: source, Size: len(raw)})
}

// writeFile replaces the license file atomically and keeps the previous
// contents at the backup path.
func (s *LicenseService) writeFile(raw []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create license directory: %w", err)
	}
	if s.backupPath != "" {
		if prev, err := os.ReadFile(s.path); err == nil {
			if err := os.WriteFile(s.backupPath, prev, 0o600); err != nil {
				return fmt.Errorf("write license backup: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read license file: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".license-*")
	if err != nil {
		return fmt.Errorf("create temp license file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp license file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp license file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace license file: %w", err)
	}
	return nil
}

// CheckLicense reports whether a valid license is in service.
func (s *LicenseService) CheckLicense(ctx context.Context) error {
	cur := s.current.Load()
	if cur == nil {
		return fiterrors.ErrNoLicense
	}
	return s.core.CheckValidity(ctx, cur.handle, true)
}

// Fingerprint returns the base64 device fingerprint blob.
func (s *LicenseService) Fingerprint(ctx context.Context) (string, error) {
	return s.core.GetFingerprint(ctx)
}

// FindFeature returns the first product granting featureID. A non-zero
// productID restricts the search to that product.
func (s *LicenseService) FindFeature(ctx context.Context, featureID, productID uint32) (*license.FeatureContext, error) {
	cur := s.current.Load()
	if cur == nil {
		return nil, fiterrors.ErrNoLicense
	}

	fc := &license.FeatureContext{}
	flags := sproto.First
	for {
		if err := s.core.FindFeature(ctx, cur.handle, featureID, flags, fc); err != nil {
			return nil, err
		}
		if productID == 0 || fc.ProductID == productID {
			return fc, nil
		}
		flags = sproto.Next
	}
}

// StartSession checks that featureID may be used now and opens a
// consumption session for it. The product's concurrency limit bounds the
// number of open sessions.
func (s *LicenseService) StartSession(ctx context.Context, featureID, productID uint32) (*Session, error) {
	fc, err := s.FindFeature(ctx, featureID, productID)
	if err != nil {
		return nil, err
	}
	if err := s.core.StartConsume(ctx, fc); err != nil {
		return nil, err
	}

	session, err := s.sessions.open(fc, s.now())
	if err != nil {
		// keep the core's consume accounting balanced
		_ = s.core.EndConsume(ctx, fc)
		s.logger.WarnContext(ctx, "concurrency limit reached",
			slog.Uint64("feature_id", uint64(featureID)),
			slog.Uint64("product_id", uint64(fc.ProductID)),
			slog.Uint64("limit", uint64(fc.Model.ConcurrencyLimit)),
		)
		return nil, err
	}
	s.logger.InfoContext(ctx, "session started",
		slog.String("session_id", session.ID),
		slog.Uint64("feature_id", uint64(featureID)),
		slog.Uint64("product_id", uint64(fc.ProductID)),
	)
	s.publish(ctx, EventSessionStarted, *session)
	return session, nil
}

// EndSession closes a session opened by StartSession.
func (s *LicenseService) EndSession(ctx context.Context, id string) error {
	session, ok := s.sessions.close(id)
	if !ok {
		return fiterrors.ErrSessionNotFound
	}
	if err := s.core.EndConsume(ctx, session.fc); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "session ended",
		slog.String("session_id", id),
		slog.Duration("held", s.now().Sub(session.StartedAt)),
	)
	s.publish(ctx, EventSessionEnded, SessionEndedEvent{SessionID: id})
	return nil
}

// Sessions lists the open sessions ordered by start time.
func (s *LicenseService) Sessions() []Session {
	return s.sessions.list()
}

func request(tag sproto.Tag, flags sproto.Flags) sproto.Request {
	return sproto.Request{Tag: tag, Type: tag.Type(), Flags: flags}
}
