//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"

	"github.com/janhq/catalog-api/internal/config"
	"github.com/janhq/catalog-api/internal/domain/activity"
	"github.com/janhq/catalog-api/internal/domain/revision"
	"github.com/janhq/catalog-api/internal/infrastructure/auth"
	"github.com/janhq/catalog-api/internal/infrastructure/database/repository"
	"github.com/janhq/catalog-api/internal/interfaces/httpserver"
	"github.com/janhq/catalog-api/internal/worker"
)

var revisionSet = wire.NewSet(
	repository.RepositoryProvider,
	newSchema,
	newEntityStore,
	newAllocator,
	newActivityPool,
	wire.Bind(new(activity.Publisher), new(*worker.Pool)),
	newCoordinator,
	newRevisionService,
	wire.Bind(new(revision.Operations), new(*revision.Service)),
)

// BuildApplication assembles the catalog service with Wire.
func BuildApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, func(), error) {
	wire.Build(
		newTelemetry,
		newDatabaseConfig,
		newGormDB,
		newReadinessCheck,
		auth.NewValidator,
		revisionSet,
		httpserver.New,
		newCrontab,
		NewApplication,
	)
	return nil, nil, nil
}
