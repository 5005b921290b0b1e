// Command server runs the freight-insights analytics API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"freight-insights/internal/api"
	"freight-insights/internal/app"
	"freight-insights/internal/config"
	internaldb "freight-insights/internal/db"
	"freight-insights/internal/warehouse"
)

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Freight analytics query and export API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply metastore migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.MetaDBPath, 1)
			if err != nil {
				return fmt.Errorf("open metastore: %w", err)
			}
			defer writeDB.Close()
			defer readDB.Close()

			if err := internaldb.RunMigrations(writeDB); err != nil {
				return fmt.Errorf("migrate metastore: %w", err)
			}
			logger.Info("metastore migrations applied", "path", cfg.MetaDBPath)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, export workers, and artifact sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Warehouse.
	duckDB, err := warehouse.Open(cfg.WarehousePath)
	if err != nil {
		return fmt.Errorf("open warehouse: %w", err)
	}
	defer duckDB.Close()

	// Metastore: single-connection write pool, concurrent read pool.
	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.MetaDBPath, 4)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	defer writeDB.Close()
	defer readDB.Close()

	if err := internaldb.RunMigrations(writeDB); err != nil {
		return fmt.Errorf("migrate metastore: %w", err)
	}

	a, err := app.New(ctx, app.Deps{
		Cfg:       cfg,
		Warehouse: warehouse.NewDuckDB(duckDB, logger.With("component", "warehouse")),
		WriteDB:   writeDB,
		ReadDB:    readDB,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}

	handler := api.NewHandler(a.Services.Query, a.Services.Exports, a.Services.Dispatcher,
		logger.With("component", "api"))
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// Background workers.
	dispatcherDone := make(chan error, 1)
	go func() { dispatcherDone <- a.Services.Dispatcher.Run(ctx) }()
	a.Services.Sweeper.Start()
	defer a.Services.Sweeper.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		logger.Info("http api listening", "addr", cfg.ListenAddr)
		serverDone <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverDone:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := <-dispatcherDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dispatcher stopped with error", "error", err)
	}
	return nil
}
