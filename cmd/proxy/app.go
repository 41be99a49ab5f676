package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/avaproxy/internal/audit"
	"github.com/vyrodovalexey/avaproxy/internal/config"
	"github.com/vyrodovalexey/avaproxy/internal/health"
	"github.com/vyrodovalexey/avaproxy/internal/middleware"
	"github.com/vyrodovalexey/avaproxy/internal/monitoring"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/proxy"
	"github.com/vyrodovalexey/avaproxy/internal/router"
	"github.com/vyrodovalexey/avaproxy/internal/rules"
	"github.com/vyrodovalexey/avaproxy/internal/storage"
)

// Server defaults applied when the configuration leaves them unset.
const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	storageCheckTimeout      = 2 * time.Second
)

// application holds all application components.
type application struct {
	config        *config.GatewayConfig
	logger        observability.Logger
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	store         storage.ResourceStorage
	auditLogger   audit.Logger
	router        *router.Router
	healthChecker *health.Checker
	handler       http.Handler
	server        *http.Server
	metricsServer *http.Server
}

// newApplication initializes all application components. Nothing is
// listening yet.
func newApplication(cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	app.metrics = observability.NewMetrics("proxy")
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)
	registerMetrics(app.metrics.Registry())

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.tracer = tracer

	store, err := storage.New(cfg.Storage, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.store = store

	auditLogger, err := audit.NewLogger(cfg.Audit,
		audit.WithLoggerLogger(logger),
		audit.WithLoggerRegisterer(app.metrics.Registry()),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	app.auditLogger = auditLogger

	monitor := monitoring.NewPrometheusHandler(
		monitoring.WithRegisterer(app.metrics.Registry()),
		monitoring.WithLogger(logger),
	)

	app.router = router.New(
		router.WithFactory(rules.NewFactory(
			rules.WithProperties(cfg.Properties),
			rules.WithLogger(logger),
		)),
		router.WithPoolRegistry(proxy.NewPoolRegistry(proxy.WithPoolLogger(logger))),
		router.WithResponder(storage.NewResponder(store, logger)),
		router.WithLocalAddress(cfg.LocalAddress),
		router.WithForwarderOptions(
			proxy.WithStorage(store),
			proxy.WithMonitoring(monitor),
			proxy.WithAudit(auditLogger),
			proxy.WithLogger(logger),
			proxy.WithProfileTemplate(cfg.Profile.PathTemplate),
		),
		router.WithMetrics(app.metrics),
		router.WithAudit(auditLogger),
		router.WithLogger(logger),
	)

	app.healthChecker = health.NewChecker(version, logger)
	app.healthChecker.RegisterCheck("rules", health.RulesCheck(func() int {
		return app.router.Table().Len()
	}))
	app.healthChecker.RegisterCheck("storage", health.StorageCheck(store, storageCheckTimeout))

	resource := router.NewConfigResource(app.router, router.WithResourceLogger(logger))
	app.handler = buildMiddlewareChain(
		newRootHandler(cfg.AdminPath, resource, app.router),
		logger, app.metrics, app.tracer,
	)

	app.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.OrDefault(defaultReadHeaderTimeout),
		IdleTimeout:       cfg.Server.IdleTimeout.OrDefault(defaultIdleTimeout),
	}

	if cfg.Metrics.Enabled {
		app.metricsServer = createMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path,
			app.metrics, app.healthChecker, logger)
	}

	return app, nil
}

// registerMetrics binds the package-level collectors to the registry
// served on /metrics.
func registerMetrics(registry *prometheus.Registry) {
	proxy.InitMetrics(registry)
	router.InitMetrics(registry)
	middleware.InitMetrics(registry)
	health.InitMetrics(registry)

	storageMetrics := storage.GetStorageMetrics()
	storageMetrics.Init()
	storageMetrics.MustRegister(registry)
}

// run loads the rules, serves until ctx is canceled and then shuts
// down gracefully.
func (app *application) run(ctx context.Context) error {
	watcher, err := app.startRulesWatcher(ctx)
	if err != nil {
		app.close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("starting proxy listener", observability.String("address", app.config.Listen))
		return serve(app.server)
	})

	if app.metricsServer != nil {
		g.Go(func() error {
			return serve(app.metricsServer)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		app.shutdown(watcher)
		return nil
	})

	return g.Wait()
}

// serve runs server until it is shut down.
func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", server.Addr, err)
	}
	return nil
}

// startRulesWatcher loads the rules file and watches it. Without a rules
// file the proxy starts with an empty table, filled through the admin
// resource.
func (app *application) startRulesWatcher(ctx context.Context) (*config.Watcher, error) {
	if app.config.RulesFile == "" {
		app.logger.Warn("no rules file configured, starting with an empty routing table")
		return nil, nil
	}

	watcher, err := config.NewWatcher(app.config.RulesFile, func(data []byte) error {
		return app.router.Reload(data, router.SourceFile)
	},
		config.WithLogger(app.logger),
		config.WithErrorCallback(func(err error) {
			app.logger.Error("rules file watcher error", observability.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rules watcher: %w", err)
	}

	if err := watcher.Start(ctx); err != nil {
		_ = watcher.Stop()
		return nil, fmt.Errorf("failed to load rules file %s: %w", app.config.RulesFile, err)
	}
	return watcher, nil
}

// shutdown stops the listeners and releases every component.
func (app *application) shutdown(watcher *config.Watcher) {
	app.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout.Duration())
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			app.logger.Error("failed to stop rules watcher", observability.Error(err))
		}
	}

	if app.metricsServer != nil {
		if err := app.metricsServer.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("failed to stop proxy listener gracefully", observability.Error(err))
	}

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	app.close()
}

// close releases the router, storage and audit sink.
func (app *application) close() {
	app.router.Close()

	if err := app.store.Close(); err != nil {
		app.logger.Error("failed to close storage", observability.Error(err))
	}

	if err := app.auditLogger.Close(); err != nil {
		app.logger.Error("failed to close audit logger", observability.Error(err))
	}
}
