// Package app provides the standalone process wiring around the filter
// engine: config, logging, the backend capability manifest, the two C9
// caches, the materialized-view orphan collector, and the optional debug
// HTTP/TLS surface. It deliberately stops short of constructing an
// internal/orchestrator.Orchestrator — that needs a live hostport.Layer
// resolver and hostport.Processing implementation the GIS host provides
// in-process, which this standalone binary does not have (spec §1 treats
// the GIS host as an external collaborator, out of scope to reimplement).
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/filtergeist/filtergeist/internal/adapters/metrics"
	storageAdapter "github.com/filtergeist/filtergeist/internal/adapters/storage"
	tlsAdapter "github.com/filtergeist/filtergeist/internal/adapters/tls"
	"github.com/filtergeist/filtergeist/internal/backendconfig"
	"github.com/filtergeist/filtergeist/internal/cache"
	"github.com/filtergeist/filtergeist/internal/config"
	"github.com/filtergeist/filtergeist/internal/config/watch"
	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/health"
	"github.com/filtergeist/filtergeist/internal/history"
	httpAdapter "github.com/filtergeist/filtergeist/internal/adapters/http"
	"github.com/filtergeist/filtergeist/internal/mv"
	"github.com/filtergeist/filtergeist/internal/ports/output"
)

// knownBackends is every backend the health checker reports on. memory is
// always available — it needs no external driver.
var knownBackends = []domain.Backend{domain.BackendPostgreSQL, domain.BackendSpatiaLite, domain.BackendOGR, domain.BackendMemory}

// manifestHolder lets the hot-reload watcher swap in a freshly-loaded
// Manifest without a lock in the read path.
type manifestHolder struct {
	current atomic.Pointer[backendconfig.Manifest]
}

func (h *manifestHolder) store(m backendconfig.Manifest) { h.current.Store(&m) }

func (h *manifestHolder) Available(b domain.Backend) bool {
	if b == domain.BackendMemory {
		return true
	}
	m := h.current.Load()
	if m == nil {
		return false
	}
	return m.Available(b)
}

func (h *manifestHolder) age() func() time.Duration {
	return func() time.Duration {
		m := h.current.Load()
		if m == nil {
			return 0
		}
		return time.Since(m.RefreshedAt)
	}
}

// App holds every component the standalone process wires up.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Storage  output.ObjectStorage
	Manifest *manifestHolder

	PostgresDB   *sql.DB
	SpatiaLiteDB *sql.DB
	MVManagers   map[domain.Dialect]*mv.Manager
	GC           *mv.Collector

	GeometryCache   *cache.GeometryCache
	ExpressionCache *cache.ExpressionCache
	History         history.Store
	Health          *health.Checker

	HTTPServer *httpAdapter.Server
	TLSServer  *tlsAdapter.Server
	Watcher    *watch.Watcher
	Metrics    *metrics.Collector
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Manifest: &manifestHolder{},
	}

	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("filtergeist")
	}
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if app.Metrics != nil {
		metricsCollector = app.Metrics
	}

	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = store

	loader := backendconfig.NewLoader(store, metricsCollector, logger)
	manifest, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading backend capability manifest: %w", err)
	}
	app.Manifest.store(manifest)

	if err := app.openBackendConnections(ctx); err != nil {
		return nil, err
	}

	app.GeometryCache, err = cache.NewGeometryCache(int64(cfg.Threshold.GeometryCacheSize), 0)
	if err != nil {
		return nil, fmt.Errorf("initializing geometry cache: %w", err)
	}
	app.ExpressionCache, err = cache.NewExpressionCache(int64(cfg.Threshold.ExpressionCacheSize), 0)
	if err != nil {
		return nil, fmt.Errorf("initializing expression cache: %w", err)
	}

	if app.PostgresDB != nil {
		app.History = history.NewSQLStore(app.PostgresDB)
	} else {
		app.History = history.NewLog()
	}
	app.Health = health.New(app.Manifest, knownBackends, app.Manifest.age())

	if len(app.MVManagers) > 0 {
		managers := make([]*mv.Manager, 0, len(app.MVManagers))
		for _, m := range app.MVManagers {
			managers = append(managers, m)
		}
		// No host is attached in the standalone binary, so every session looks
		// orphaned immediately; operators running this process alongside a live
		// host should replace liveSessions with a real session-liveness feed
		// (e.g. the lib/pq LISTEN/NOTIFY channel spec §4.8 describes) before
		// relying on the periodic sweep rather than the manual trigger.
		liveSessions := func(context.Context) map[string]bool { return map[string]bool{} }
		app.GC = mv.NewCollector(managers, liveSessions, cfg.Threshold.OrphanMVMaxAge/24, cfg.Threshold.OrphanMVMaxAge, logger)
	}

	app.HTTPServer = httpAdapter.NewServer(cfg.Server, httpAdapter.Dependencies{
		History:   app.History,
		Health:    app.Health,
		GeomCache: app.GeometryCache,
		ExprCache: app.ExpressionCache,
		GC:        app.GC,
		Metrics:   app.Metrics,
	}, logger)

	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Enabled:  cfg.TLS.Enabled,
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
			},
			app.HTTPServer.Router(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	if cfg.Storage.Type == "local" {
		w, err := watch.New(
			watch.Config{Paths: []string{cfg.Storage.LocalPath + "/" + backendconfig.ManifestObjectKey}},
			app.handleManifestEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize config watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// openBackendConnections opens the PostgreSQL and SpatiaLite connections the
// manifest marks available, and builds one mv.Manager per live dialect.
func (a *App) openBackendConnections(ctx context.Context) error {
	a.MVManagers = make(map[domain.Dialect]*mv.Manager)

	if a.Manifest.Available(domain.BackendPostgreSQL) && a.Config.Postgres.DSN != "" {
		db, err := sql.Open("pgx", a.Config.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("opening postgresql connection: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			a.Logger.Warn("postgresql ping failed, backend will be treated as unavailable", "error", err)
		} else {
			a.PostgresDB = db
			a.MVManagers[domain.DialectPostgreSQL] = mv.NewManager(db, domain.DialectPostgreSQL, "")
		}
	}

	if a.Manifest.Available(domain.BackendSpatiaLite) && a.Config.SpatiaLite.Path != "" {
		db, err := mv.OpenSpatiaLite(ctx, a.Config.SpatiaLite.Path)
		if err != nil {
			a.Logger.Warn("spatialite open failed, backend will be treated as unavailable", "error", err)
		} else {
			a.SpatiaLiteDB = db
			a.MVManagers[domain.DialectSpatiaLite] = mv.NewManager(db, domain.DialectSpatiaLite, "")
		}
	}

	return nil
}

// Start starts all application components.
func (a *App) Start(ctx context.Context) error {
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start config watcher", "error", err)
		}
	}

	if a.GC != nil {
		a.GC.Start(ctx)
	}

	if a.Config.TLS.Enabled && a.TLSServer != nil {
		return a.TLSServer.ListenAndServe(a.Config.Server.Address())
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	if a.GC != nil {
		a.GC.Stop()
	}

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}
	if a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil {
			a.Logger.Error("TLS server shutdown error", "error", err)
		}
	}

	if a.PostgresDB != nil {
		_ = a.PostgresDB.Close()
	}
	if a.SpatiaLiteDB != nil {
		_ = a.SpatiaLiteDB.Close()
	}

	return nil
}

// handleManifestEvent reloads the backend capability manifest when its
// backing object changes.
func (a *App) handleManifestEvent(ctx context.Context, event watch.Event) error {
	a.Logger.Info("backend capability manifest changed", "path", event.Path, "operation", event.Operation.String())

	if event.Operation == watch.OpRemoved {
		a.Manifest.store(backendconfig.Manifest{Backends: map[domain.Backend]bool{}})
		return nil
	}

	loader := backendconfig.NewLoader(a.Storage, &output.NoOpMetrics{}, a.Logger)
	manifest, err := loader.Load(ctx)
	if err != nil {
		a.Logger.Error("failed to reload backend capability manifest", "error", err)
		return err
	}
	a.Manifest.store(manifest)
	return nil
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storageAdapter.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storageAdapter.NewS3Storage(ctx, storageAdapter.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storageAdapter.NewAzureStorage(storageAdapter.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case "http":
		return storageAdapter.NewHTTPStorage(storageAdapter.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
