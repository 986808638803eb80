package counterrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/janhq/catalog-api/internal/domain/allocator"
	"github.com/janhq/catalog-api/internal/infrastructure/database/dbschema"
	"github.com/janhq/catalog-api/internal/infrastructure/database/transaction"
	"github.com/janhq/catalog-api/internal/utils/platformerrors"
)

type Repository struct {
	db *transaction.Database
}

func NewCounterRepository(db *transaction.Database) allocator.CounterStore {
	return &Repository{db: db}
}

func (r *Repository) Current(ctx context.Context, collection string) (int64, error) {
	var model dbschema.IdentifierCounter
	if err := r.db.GetTx(ctx).First(&model, "collection = ?", collection).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, allocator.ErrCounterMissing
		}
		return 0, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to read identifier counter")
	}
	return model.Value, nil
}

// Advance never moves a counter backwards.
func (r *Repository) Advance(ctx context.Context, collection string, value int64) error {
	result := r.db.GetTx(ctx).
		Model(&dbschema.IdentifierCounter{}).
		Where("collection = ?", collection).
		Updates(map[string]any{
			"value":      gorm.Expr("GREATEST(value, ?)", value),
			"updated_at": gorm.Expr("NOW()"),
		})
	if result.Error != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, result.Error, "failed to advance identifier counter")
	}
	if result.RowsAffected == 0 {
		return allocator.ErrCounterMissing
	}
	return nil
}
