package repository

import (
	"github.com/google/wire"

	"github.com/janhq/catalog-api/internal/infrastructure/database/repository/counterrepo"
	"github.com/janhq/catalog-api/internal/infrastructure/database/repository/entityrepo"
	"github.com/janhq/catalog-api/internal/infrastructure/database/repository/patchrepo"
	"github.com/janhq/catalog-api/internal/infrastructure/database/transaction"
)

var RepositoryProvider = wire.NewSet(
	transaction.NewDatabase,
	entityrepo.NewEntityRepository,
	patchrepo.NewPatchRepository,
	counterrepo.NewCounterRepository,
)
