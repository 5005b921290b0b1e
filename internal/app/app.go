// Package app provides application-level wiring and dependency injection
// for the freight-insights server.
package app

import (
	"context"
	"database/sql"
	"log/slog"

	"freight-insights/internal/cache"
	"freight-insights/internal/config"
	"freight-insights/internal/db/repository"
	"freight-insights/internal/domain"
	"freight-insights/internal/export"
	"freight-insights/internal/query"
	"freight-insights/internal/storage"
	"freight-insights/internal/warehouse"
)

// Deps holds the external dependencies that main() must provide.
// These are things the app package cannot (or should not) create itself:
// database handles, config, and the warehouse connection.
type Deps struct {
	Cfg       *config.Config
	Warehouse *warehouse.DuckDB
	WriteDB   *sql.DB
	ReadDB    *sql.DB
	Logger    *slog.Logger
}

// Services groups the service pointers the API handler and background
// workers need.
type Services struct {
	Query      *query.Service
	Exports    *export.Manager
	Dispatcher *export.Dispatcher
	Sweeper    *export.Sweeper
}

// App holds the fully-wired application.
type App struct {
	Services Services
}

// New wires repositories, the cache, and the services from the provided
// deps. The cache and the S3 artifact store are optional: their absence
// degrades features, never startup.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg

	queryRepo := repository.NewQueryRepo(deps.WriteDB, deps.ReadDB)
	jobRepo := repository.NewExportJobRepo(deps.WriteDB, deps.ReadDB)

	var cacheStore domain.CacheStore
	if cfg.CacheEnabled() {
		client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			// The warehouse answers every query the cache would have.
			deps.Logger.Warn("redis unreachable, caching disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			cacheStore = cache.NewRedisStore(client)
			deps.Logger.Info("result cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
		}
	}

	querySvc := query.NewService(queryRepo, deps.Warehouse, cacheStore, query.Config{
		CacheTTL:     cfg.CacheTTL,
		QueryTimeout: cfg.QueryTimeout,
	}, deps.Logger.With("component", "query"))

	var uploads domain.ArtifactStore
	if cfg.HasS3Config() {
		uploads = storage.NewS3Store(storage.S3Config{
			Endpoint: *cfg.S3Endpoint,
			Region:   *cfg.S3Region,
			KeyID:    *cfg.S3KeyID,
			Secret:   *cfg.S3Secret,
			Bucket:   *cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
		})
		deps.Logger.Info("artifact uploads enabled", "bucket", *cfg.S3Bucket)
	}

	exportLogger := deps.Logger.With("component", "export")
	manager := export.NewManager(jobRepo, queryRepo, querySvc, nil, uploads, export.ManagerConfig{
		ArtifactRoot: cfg.ExportRoot,
		Retention:    cfg.ExportRetention,
	}, exportLogger)

	dispatcher := export.NewDispatcher(manager, cfg.ExportWorkers, cfg.ExportQueue, exportLogger)

	sweeper, err := export.NewSweeper(manager, cfg.SweepSchedule, exportLogger)
	if err != nil {
		return nil, err
	}

	return &App{Services: Services{
		Query:      querySvc,
		Exports:    manager,
		Dispatcher: dispatcher,
		Sweeper:    sweeper,
	}}, nil
}
