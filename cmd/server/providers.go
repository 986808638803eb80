package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/janhq/catalog-api/internal/config"
	"github.com/janhq/catalog-api/internal/domain/activity"
	"github.com/janhq/catalog-api/internal/domain/allocator"
	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/domain/diff"
	"github.com/janhq/catalog-api/internal/domain/patch"
	"github.com/janhq/catalog-api/internal/domain/resolver"
	"github.com/janhq/catalog-api/internal/domain/revision"
	"github.com/janhq/catalog-api/internal/infrastructure/auth"
	"github.com/janhq/catalog-api/internal/infrastructure/cache"
	"github.com/janhq/catalog-api/internal/infrastructure/crontab"
	"github.com/janhq/catalog-api/internal/infrastructure/database"
	"github.com/janhq/catalog-api/internal/infrastructure/database/repository/counterrepo"
	"github.com/janhq/catalog-api/internal/infrastructure/database/repository/entityrepo"
	"github.com/janhq/catalog-api/internal/infrastructure/database/repository/patchrepo"
	"github.com/janhq/catalog-api/internal/infrastructure/database/transaction"
	"github.com/janhq/catalog-api/internal/infrastructure/metrics"
	"github.com/janhq/catalog-api/internal/infrastructure/observability"
	"github.com/janhq/catalog-api/internal/interfaces/httpserver"
	"github.com/janhq/catalog-api/internal/webhook"
	"github.com/janhq/catalog-api/internal/worker"
)

// buildApplication wires every component by hand. BuildApplication in
// wire.go describes the same graph for code generation.
func buildApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (app *Application, cleanup func(), err error) {
	var closers []func()
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer func() {
		if err != nil {
			release()
		}
	}()

	telemetry, err := newTelemetry(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize observability: %w", err)
	}
	closers = append(closers, func() { shutdownTelemetry(cfg, telemetry, log) })

	db, err := newGormDB(ctx, newDatabaseConfig(cfg), log)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("close database")
		}
	})

	authValidator, err := auth.NewValidator(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize auth validator: %w", err)
	}
	closers = append(closers, authValidator.Close)

	schema, err := newSchema(cfg)
	if err != nil {
		return nil, nil, err
	}

	txDB := transaction.NewDatabase(db)
	entities, err := newEntityStore(cfg, entityrepo.NewEntityRepository(txDB))
	if err != nil {
		return nil, nil, err
	}
	patches := patchrepo.NewPatchRepository(txDB)

	ids, closeIDs, err := newAllocator(ctx, cfg, counterrepo.NewCounterRepository(txDB), log)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeIDs)

	pool := newActivityPool(cfg, telemetry, log)

	coordinator := newCoordinator(cfg, entities, patches, ids, txDB, log)
	service := newRevisionService(cfg, schema, entities, patches, ids, coordinator, pool, telemetry, log)

	httpServer, err := httpserver.New(cfg, log, service, schema, authValidator, newReadinessCheck(db))
	if err != nil {
		return nil, nil, fmt.Errorf("build http server: %w", err)
	}

	return NewApplication(httpServer, newCrontab(cfg, patches, log), pool, log), release, nil
}

func newCrontab(cfg *config.Config, patches patch.Repository, log zerolog.Logger) *crontab.Crontab {
	return crontab.NewCrontab(patches, cfg.PatchRetention, cfg.RetentionCron, log)
}

func newTelemetry(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	return observability.Init(ctx, observability.FromAppConfig(cfg))
}

func shutdownTelemetry(cfg *config.Config, telemetry *observability.Provider, log zerolog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown telemetry")
	}
}

func newDatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		DSN:             cfg.DatabaseURL,
		ApplicationName: cfg.ServiceName,
		ConnectTimeout:  cfg.DBConnectTimeout,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		SlowQuery:       cfg.DBSlowQuery,
		LogLevel:        gormlogger.Warn,
	}
}

func newGormDB(ctx context.Context, cfg database.Config, log zerolog.Logger) (*gorm.DB, error) {
	db, err := database.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.AutoMigrate(ctx, db, log); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func newReadinessCheck(db *gorm.DB) httpserver.ReadinessCheck {
	return func(ctx context.Context) error {
		return database.Ping(ctx, db)
	}
}

func newSchema(cfg *config.Config) (*catalog.Schema, error) {
	if cfg.SchemaPath == "" {
		return catalog.DefaultSchema(), nil
	}
	schema, err := catalog.LoadSchema(cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog schema: %w", err)
	}
	return schema, nil
}

func newEntityStore(cfg *config.Config, repo *entityrepo.Repository) (catalog.EntityStore, error) {
	if cfg.EntityCacheSize <= 0 {
		return repo, nil
	}
	cached, err := entityrepo.NewCachedStore(repo, cfg.EntityCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build entity cache: %w", err)
	}
	return cached, nil
}

// newAllocator keeps the identifier counters in Postgres. Reservations and
// collection locks live in Redis when it is configured so several replicas
// can allocate safely, otherwise in process.
func newAllocator(ctx context.Context, cfg *config.Config, counters allocator.CounterStore, log zerolog.Logger) (allocator.Allocator, func(), error) {
	if !cfg.UsesRedis() {
		log.Warn().Msg("REDIS_URL not set; identifier reservations are process local")
		svc := allocator.NewService(counters, allocator.NewMemoryReservations(), allocator.NewKeyedMutex(), log)
		return svc.WithHooks(metrics.AllocatorHooks()), func() {}, nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	svc := allocator.NewService(
		counters,
		cache.NewReservationSet(client),
		cache.NewKeyLocker(client, cfg.RedisLockTTL, log),
		log,
	)
	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("close redis client")
		}
	}
	return svc.WithHooks(metrics.AllocatorHooks()), closeFn, nil
}

func newActivityPool(cfg *config.Config, telemetry *observability.Provider, log zerolog.Logger) *worker.Pool {
	sinks := activity.Multi{activity.NewLogSink(log, telemetry.Sanitizer.SanitizeRef)}
	if cfg.ActivityWebhookURL != "" {
		sinks = append(sinks, webhook.NewHTTPSink(
			cfg.ActivityWebhookURL,
			cfg.ActivityTimeout,
			log,
			webhook.WithRedactor(telemetry.Sanitizer),
		))
	}

	return worker.NewPool(sinks, worker.Config{
		WorkerCount: cfg.ActivityWorkers,
		QueueSize:   cfg.ActivityQueueSize,
		TaskTimeout: cfg.ActivityTimeout,
	}, telemetry.Delivery, log)
}

func newCoordinator(
	cfg *config.Config,
	entities catalog.EntityStore,
	patches patch.Repository,
	ids allocator.Allocator,
	txDB *transaction.Database,
	log zerolog.Logger,
) *revision.Coordinator {
	opts := []revision.CoordinatorOption{
		revision.WithCoordinatorObserver(metrics.RevisionObserver{}),
	}
	if cfg.DBTransactional {
		opts = append(opts, revision.WithTransactor(txDB))
	}
	return revision.NewCoordinator(entities, patches, ids, log, opts...)
}

func newRevisionService(
	cfg *config.Config,
	schema *catalog.Schema,
	entities catalog.EntityStore,
	patches patch.Repository,
	ids allocator.Allocator,
	coordinator *revision.Coordinator,
	publisher activity.Publisher,
	telemetry *observability.Provider,
	log zerolog.Logger,
) *revision.Service {
	ignored := cfg.DiffIgnoredKeys
	if len(ignored) == 0 {
		ignored = diff.DefaultIgnoredKeys
	}
	return revision.NewService(revision.Deps{
		Entities: entities,
		Patches:  patches,
		IDs:      ids,
		Resolver: resolver.NewResolver(schema, entities, ids, resolver.Config{
			MaxDepth: cfg.ResolverMaxDepth,
		}, log),
		Differ:      diff.NewDiffer(ignored...),
		Coordinator: coordinator,
		Publisher:   publisher,
		Observer:    metrics.RevisionObserver{},
		Redact:      telemetry.Sanitizer.SanitizeRef,
	}, log)
}
