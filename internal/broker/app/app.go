package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/backend"
	httpapi "github.com/aussiebroadwan/mcpbroker/internal/broker/http"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/mcp"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/session"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/store"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/store/drivers/memory"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/telemetry"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"

	serviceName = "mcp-broker"
)

// Application encapsulates the broker with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	telemetry *telemetry.Provider
	store     store.Store
	sessions  *session.Registry

	tokenService        *service.TokenService
	authorizeService    *service.AuthorizeService
	deviceService       *service.DeviceService
	grantService        *service.GrantService
	housekeepingService *service.HousekeepingService

	backend *backend.Client
	catalog *mcp.Catalog

	server *http.Server
	router *httpapi.Router
}

// New validates cfg and creates an Application with all dependencies
// initialized.
func New(ctx context.Context, cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: serviceName,
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	tp, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: BuildVersion,
		Exporter:       cfg.TraceExporter,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app.telemetry = tp

	app.store = memory.NewStore(
		memory.WithPendingTTL(cfg.PendingTTL),
		memory.WithCodeTTL(cfg.CodeTTL),
		memory.WithDeviceTTL(cfg.DeviceTTL),
		memory.WithDeviceInterval(cfg.DevicePollInterval),
	)
	app.sessions = session.NewRegistry(session.Config{
		MaxAge:      cfg.SessionMaxAge,
		IdleTimeout: cfg.SessionIdleTimeout,
		Logger:      app.logger,
	})

	if err := app.initServices(); err != nil {
		return nil, err
	}
	if err := app.initTools(); err != nil {
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler is the root HTTP handler, exposed for tests.
func (app *Application) Handler() http.Handler {
	return app.server.Handler
}

// Run serves until ctx is cancelled or the server fails, then shuts down.
func (app *Application) Run(ctx context.Context) error {
	app.housekeepingService.Start()

	app.logger.Info("mcp broker starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"tools", app.catalog.Len(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return app.sessions.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutdown requested", "cause", context.Cause(gctx))
		return app.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully shuts down the application. Open event streams are
// closed first so the server is not left waiting on them.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down mcp broker...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if n := app.sessions.CloseAll(); n > 0 {
		app.logger.Info("closed mcp sessions", "count", n)
	}

	var errs []error
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
		errs = append(errs, err)
	}

	app.housekeepingService.Stop()

	if err := app.telemetry.Shutdown(ctx); err != nil {
		app.logger.Error("error flushing traces", "error", err)
	}

	if err := app.store.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		errs = append(errs, err)
	}

	app.logger.Info("mcp broker stopped")
	return errors.Join(errs...)
}

// initServices initializes the token, authorization and grant services.
func (app *Application) initServices() error {
	tokens, err := service.NewTokenService(service.TokenConfig{
		Secret:           []byte(app.cfg.JWTSecret),
		Issuer:           app.cfg.Issuer,
		MainAppIssuer:    app.cfg.MainAppIssuer,
		AccessTTL:        app.cfg.AccessTokenTTL,
		ResourceTTL:      app.cfg.ResourceTokenTTL,
		ResourceAudience: app.cfg.ResourceAudience,
		Leeway:           5 * time.Second,
		Logger:           app.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}
	app.tokenService = tokens

	app.authorizeService = &service.AuthorizeService{
		Store:      app.store,
		ConsentURL: app.cfg.ConsentURL,
	}
	app.deviceService = &service.DeviceService{
		Store:           app.store,
		VerificationURI: app.cfg.DeviceVerificationURL,
	}
	app.grantService = &service.GrantService{
		Store:  app.store,
		Tokens: app.tokenService,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.store,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// initTools connects the backend API and registers its tools. Without a
// backend the broker still completes OAuth flows but lists no tools.
func (app *Application) initTools() error {
	app.catalog = mcp.NewCatalog()

	if app.cfg.BackendURL == "" {
		app.logger.Warn("BACKEND_API_URL not set, no tools will be exposed")
		return nil
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL: app.cfg.BackendURL,
		Timeout: app.cfg.BackendTimeout,
	}, app.tokenService)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}
	app.backend = client
	app.grantService.Directory = backend.NewDirectory(client)

	if err := mcp.RegisterBackendTools(app.catalog, client, mcp.BackendTools); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	return nil
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.cfg.BaseURL,
		BuildVersion,
		app.store,
		app.sessions,
		app.logger,
	)

	router.TokenService = app.tokenService
	router.AuthorizeService = app.authorizeService
	router.DeviceService = app.deviceService
	router.GrantService = app.grantService
	router.MCPHandler = &mcp.Handler{
		Dispatcher: mcp.NewDispatcher(app.catalog, mcp.ServerInfo{
			Name:    serviceName,
			Version: BuildVersion,
		}, app.cfg.ToolTimeout),
		Sessions:  app.sessions,
		KeepAlive: app.cfg.SSEKeepAlive,
	}
	router.ApplyRoutes()

	app.router = router

	// No write timeout: event streams stay open for the session's lifetime.
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           otelhttp.NewHandler(router, serviceName),
		ReadHeaderTimeout: 3 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
