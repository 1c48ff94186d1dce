package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheetquery/sheetquery/internal/api"
	"github.com/sheetquery/sheetquery/internal/assistant"
	"github.com/sheetquery/sheetquery/internal/auth"
	catalogpostgres "github.com/sheetquery/sheetquery/internal/catalog/postgres"
	"github.com/sheetquery/sheetquery/internal/config"
	"github.com/sheetquery/sheetquery/internal/dataset"
	"github.com/sheetquery/sheetquery/internal/nl2sql"
	"github.com/sheetquery/sheetquery/internal/observability"
	"github.com/sheetquery/sheetquery/internal/relation"
	duckdbstore "github.com/sheetquery/sheetquery/internal/relation/duckdb"
	sqlitestore "github.com/sheetquery/sheetquery/internal/relation/sqlite"
	"github.com/sheetquery/sheetquery/internal/storage"
	s3store "github.com/sheetquery/sheetquery/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("sheetquery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	store, err := openRelationStore(startupCtx, cfg)
	if err != nil {
		logger.Error("failed to open relation store", slog.String("engine", cfg.Relation.Engine), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	generator, err := nl2sql.NewGenerator(startupCtx, nl2sql.Config{
		Provider:       cfg.AI.Provider,
		BaseURL:        cfg.AI.BaseURL,
		APIKey:         cfg.AI.APIKey,
		Models:         cfg.AI.Models,
		Temperature:    cfg.AI.Temperature,
		Timeout:        cfg.AI.Timeout,
		DiscoverModels: cfg.AI.DiscoverModels,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize query generator", slog.Any("error", err))
		os.Exit(1)
	}

	readiness := []api.ReadinessCheck{api.CheckRelationStore(store.Ping)}

	var catalogRepo *catalogpostgres.Repository
	if cfg.Catalog.DSN != "" {
		catalogDB, err := catalogpostgres.Open(startupCtx, catalogpostgres.DBConfig{
			DSN:             cfg.Catalog.DSN,
			MaxOpenConns:    cfg.Catalog.MaxOpenConns,
			MaxIdleConns:    cfg.Catalog.MaxIdleConns,
			ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open catalog db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = catalogDB.Close() }()
		catalogRepo = catalogpostgres.NewRepository(catalogDB)
		readiness = append(readiness, catalogRepo.HealthCheck)
	}

	var archiver *storage.ParquetArchiver
	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(startupCtx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = storage.NewParquetArchiver(objectStore)
	}

	sessions := assistant.NewManager(store, assistant.ManagerConfig{
		TTL:          cfg.Session.TTL,
		HistoryLimit: cfg.Session.HistoryLimit,
		OnRemove:     sessionCleanup(logger, archiver, catalogRepo),
	}, logger)

	opts := dataset.DefaultOptions()
	opts.Missing = cfg.Relation.Missing
	opts.MaxRows = cfg.Relation.MaxRows
	loader := assistant.NewLoader(store, opts, cfg.Relation.SampleRows, logger)

	pipeline := assistant.NewPipeline(generator, relation.NewExecutor(store, cfg.Relation.RowLimit), nl2sql.DialectFor(store.Dialect()), logger)
	pipeline.RepairOnExecutionError = cfg.AI.RepairOnExecutionError

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: 2 * time.Second,
		Sessions:          sessions,
		Loader:            loader,
		Pipeline:          pipeline,
	}
	if archiver != nil {
		loader.Archiver = archiver
		deps.Archives = archiver
	}
	if catalogRepo != nil {
		loader.Recorder = catalogRepo
		deps.Loads = catalogRepo
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sessions.Run(ctx, evictionInterval(cfg.Session.TTL))

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("engine", store.Dialect()),
			slog.Bool("catalog", catalogRepo != nil),
			slog.Bool("archive", archiver != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
	if err := sessions.Close(shutdownCtx); err != nil {
		logger.Error("failed to release sessions", slog.Any("error", err))
		os.Exit(1)
	}
}

func openRelationStore(ctx context.Context, cfg config.Config) (relation.Store, error) {
	switch cfg.Relation.Engine {
	case config.EngineDuckDB:
		return duckdbstore.Open(ctx, cfg.Relation.Dir)
	default:
		return sqlitestore.Open(ctx, cfg.Relation.Dir)
	}
}

// sessionCleanup removes the archives and catalog rows of a released session.
func sessionCleanup(logger *slog.Logger, archiver *storage.ParquetArchiver, repo *catalogpostgres.Repository) assistant.SessionHook {
	return func(ctx context.Context, session *assistant.Session) {
		if archiver != nil {
			removed, err := archiver.Purge(ctx, session.ID)
			if err != nil {
				logger.Warn("failed to purge session archives", slog.String("session_id", session.ID), slog.Any("error", err))
			} else if removed > 0 {
				logger.Debug("purged session archives", slog.String("session_id", session.ID), slog.Int("objects", removed))
			}
		}
		if repo != nil {
			if _, err := repo.DeleteSessionLoads(ctx, session.TenantID, session.ID); err != nil {
				logger.Warn("failed to delete session loads", slog.String("session_id", session.ID), slog.Any("error", err))
			}
		}
	}
}

func evictionInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		return time.Minute
	}
	return interval
}
