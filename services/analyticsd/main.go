package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/pflag"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"lendify/observability/logging"
	telemetry "lendify/observability/otel"
	"lendify/services/analytics"
	"lendify/services/analyticsd/config"
)

func main() {
	var cfgPath string
	var exportPath string
	pflag.StringVarP(&cfgPath, "config", "c", "", "path to analyticsd config (optional)")
	pflag.StringVar(&exportPath, "export-parquet", "", "write every stored event to this parquet file and exit")
	pflag.Parse()

	if err := run(cfgPath, exportPath); err != nil {
		log.Fatalf("analyticsd: %v", err)
	}
}

func run(cfgPath, exportPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := strings.TrimSpace(os.Getenv("LENDIFY_ENV"))
	logger := logging.Setup("analyticsd", env, logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "analyticsd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    true,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     endpoint != "",
		Traces:      cfg.Tracing && endpoint != "",
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("analytics database ready",
		slog.String("driver", cfg.Database.Driver),
		slog.String("dsn", logging.MaskDSN(cfg.Database.DSN)),
		slog.String("path", cfg.Database.Path))

	store, err := analytics.NewStore(db)
	if err != nil {
		return err
	}
	if exportPath != "" {
		return export(context.Background(), store, exportPath, logger)
	}

	srv, err := analytics.NewServer(analytics.Config{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("analyticsd listening", slog.String("addr", cfg.ListenAddress))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = server.Close()
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

// openDatabase connects with the configured driver and migrates the schema.
func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("database connection error: %w", err)
	}
	if err := analytics.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate error: %w", err)
	}
	return db, nil
}

func export(ctx context.Context, store *analytics.Store, path string, logger *slog.Logger) error {
	if _, err := store.Verify(ctx); err != nil {
		return fmt.Errorf("refusing to export: %w", err)
	}
	records, err := store.List(ctx, "", 0)
	if err != nil {
		return err
	}
	if err := analytics.ExportParquet(path, records); err != nil {
		return err
	}
	logger.Info("analytics export written", slog.String("path", path), slog.Int("events", len(records)))
	return nil
}
