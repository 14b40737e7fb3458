package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"fitcore/internal/config"
	"fitcore/internal/infrastructure"
	"fitcore/internal/license"
	"fitcore/internal/security"
	"fitcore/internal/services"
	handlers "fitcore/internal/transport/http"
	"fitcore/internal/websocket"
)

var (
	// Version is set at link time
	Version = "dev"
	// BuildTime is set at link time
	BuildTime = "unknown"
)

// Options adjusts how the application is assembled
type Options struct {
	// BaseDir resolves relative paths; empty means the executable
	// directory.
	BaseDir string
	// Logger replaces the logger built from the logging section.
	Logger *slog.Logger
}

// Application represents the licensed daemon
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.DaemonMetrics

	Core     *license.Core
	Licenses *services.LicenseService
	Health   *services.HealthService
	Events   *websocket.Hub
	Router   *handlers.Router
	Server   *http.Server

	watcher   *licenseWatcher
	ownLogger bool
	closers   []io.Closer
	stopOnce  sync.Once
	stopErr   error
}

// New assembles the daemon from cfg. The license file may be missing; the
// daemon then starts unready and waits for an upload or a file to appear.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *Application, err error) {
	logger := opts.Logger
	if logger == nil {
		if logger, err = infrastructure.InitializeLogger(cfg.Logging); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", Version),
	)

	paths, err := cfg.GetPaths(opts.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution(logger)

	a := &Application{Config: cfg, Paths: paths, Logger: logger, ownLogger: opts.Logger == nil}
	defer func() {
		if err != nil {
			a.closeAll(ctx)
		}
	}()

	otelCfg := infrastructure.NewOTelConfig(cfg.Telemetry)
	otelCfg.ServiceVersion = Version
	if a.OTelProviders, err = infrastructure.InitializeOTel(otelCfg, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if a.Metrics, err = infrastructure.CreateDaemonMetrics(a.OTelProviders.Meter); err != nil {
		return nil, fmt.Errorf("failed to create daemon metrics: %w", err)
	}

	if err := a.initCore(ctx); err != nil {
		return nil, err
	}
	if err := a.initServices(ctx); err != nil {
		return nil, err
	}
	a.initRouter()
	return a, nil
}

func (a *Application) initCore(ctx context.Context) error {
	cfg := a.Config
	caps, err := license.ParseCapabilities(cfg.Core.Capabilities)
	if err != nil {
		return fmt.Errorf("invalid capabilities: %w", err)
	}
	if err := a.Paths.ValidateRequiredFiles(); err != nil {
		return err
	}
	keys, err := loadKeys(cfg.Keys, a.Paths)
	if err != nil {
		return err
	}
	store, closer, err := openStore(ctx, cfg.Persistence, a.Paths, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open persistent store: %w", err)
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	coreMetrics, err := license.InitializeMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	opts := license.Options{
		Keys:            keys,
		Capabilities:    caps,
		Store:           store,
		EnforceNodeLock: cfg.Core.EnforceNodeLock,
		DisableRSACache: cfg.Core.DisableRSACache,
		DisableLocking:  !cfg.Core.ThreadSafe,
		Logger:          infrastructure.WithComponent(a.Logger, "license"),
		Metrics:         coreMetrics,
	}
	if cfg.Core.DeviceID != "" {
		opts.DeviceID = security.StaticDeviceID(cfg.Core.DeviceID)
	}

	if a.Core, err = license.New(opts); err != nil {
		return fmt.Errorf("failed to create license core: %w", err)
	}
	return a.Core.Init(ctx)
}

func (a *Application) initServices(ctx context.Context) error {
	a.Licenses = services.NewLicenseService(a.Core, services.LicenseServiceConfig{
		Path:       a.Paths.LicenseFile,
		BackupPath: a.Paths.LicenseBackup,
	}, a.Metrics, a.Logger)
	a.Events = websocket.NewHub(a.Metrics, a.Logger)
	a.Licenses.SetPublisher(a.Events)

	switch err := a.Licenses.Load(ctx); {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		a.Logger.WarnContext(ctx, "License file not found",
			slog.String("path", a.Paths.LicenseFile),
			slog.String("action", "upload a license or place it at the path"),
		)
	default:
		a.Logger.ErrorContext(ctx, "License not accepted",
			slog.String("path", a.Paths.LicenseFile),
			slog.String("error", err.Error()),
		)
	}

	a.Health = services.NewHealthService(Version, BuildTime, a.Core, a.Licenses, a.Logger)

	if a.Config.License.Watch {
		w, err := newLicenseWatcher(a.Paths.LicenseFile, a.Config.License.Debounce, a.Licenses, a.Metrics, a.Logger)
		if err != nil {
			return err
		}
		a.watcher = w
		a.closers = append(a.closers, w)
	}
	return nil
}

func (a *Application) initRouter() {
	cfg := a.Config
	a.Router = handlers.NewRouter(handlers.RouterDeps{
		Licenses:       a.Licenses,
		Health:         a.Health,
		Checker:        a.Licenses,
		MetricsHandler: a.OTelProviders.PrometheusHTTP,
		Events:         a.Events,
		Metrics:        a.Metrics,
		Tracer:         a.OTelProviders.Tracer,
		RateLimit:      cfg.Server.RateLimit,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxLicenseSize: cfg.Server.MaxLicenseSize,
		IncludeStack:   cfg.Logging.Development,
		Logger:         a.Logger,
	})
	a.Licenses.OnChange(a.Router.Gate.InvalidateCache)

	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
}

// Run serves until ctx is done or the server fails, then shuts down.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "HTTP server listening", slog.String("addr", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error { return a.Events.Run(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

// Stop gracefully stops the application. Later calls return the first
// result.
func (a *Application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.Logger.InfoContext(ctx, "Shutting down application",
			slog.Int("open_sessions", len(a.Licenses.Sessions())),
		)
		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
		if err := a.closeAll(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		a.Logger.InfoContext(ctx, "Application shutdown complete")
		if a.ownLogger {
			if err := infrastructure.CloseLogFile(); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

// closeAll releases the store, the watcher and telemetry.
func (a *Application) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
