package entityrepo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/infrastructure/database/dbschema"
	"github.com/janhq/catalog-api/internal/infrastructure/database/transaction"
	"github.com/janhq/catalog-api/internal/utils/platformerrors"
)

const uniqueViolation = "23505"

type Repository struct {
	db  *transaction.Database
	now func() time.Time
}

func NewEntityRepository(db *transaction.Database) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ catalog.EntityStore = (*Repository)(nil)

func (r *Repository) Exists(ctx context.Context, t catalog.EntityType, id string) (bool, error) {
	var count int64
	err := r.db.GetTx(ctx).
		Model(&dbschema.Entity{}).
		Where("collection = ? AND id = ?", string(t), id).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to check entity existence")
	}
	return count > 0, nil
}

func (r *Repository) FindByID(ctx context.Context, t catalog.EntityType, id string) (*catalog.Entity, error) {
	var model dbschema.Entity
	err := r.db.GetTx(ctx).
		Where("collection = ? AND id = ?", string(t), id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, catalog.ErrEntityNotFound
		}
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to fetch entity")
	}
	entity, err := model.EtoD()
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to decode entity")
	}
	return entity, nil
}

func (r *Repository) Create(ctx context.Context, entity *catalog.Entity) error {
	now := r.now()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now
	if entity.Version == 0 {
		entity.Version = 1
	}

	model, err := dbschema.NewSchemaEntity(entity)
	if err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to encode entity")
	}
	if err := r.db.GetTx(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return catalog.ErrEntityExists
		}
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to create entity")
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, entity *catalog.Entity, expectedVersion int64) error {
	model, err := dbschema.NewSchemaEntity(entity)
	if err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to encode entity")
	}
	entity.UpdatedAt = r.now()

	result := r.db.GetTx(ctx).
		Model(&dbschema.Entity{}).
		Where("collection = ? AND id = ? AND version = ?", model.Collection, model.ID, expectedVersion).
		Updates(map[string]any{
			"fields":     model.Fields,
			"version":    entity.Version,
			"updated_at": entity.UpdatedAt,
		})
	if result.Error != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, result.Error, "failed to update entity")
	}
	if result.RowsAffected > 0 {
		return nil
	}

	exists, err := r.Exists(ctx, entity.Type, entity.ID)
	if err != nil {
		return err
	}
	if !exists {
		return catalog.ErrEntityNotFound
	}
	return catalog.ErrVersionMismatch
}

func (r *Repository) MarkVerified(ctx context.Context, refs []catalog.Ref) error {
	if len(refs) == 0 {
		return nil
	}
	keys := make([][]any, len(refs))
	for i, ref := range refs {
		keys[i] = []any{string(ref.Type), ref.ID}
	}
	result := r.db.GetTx(ctx).
		Model(&dbschema.Entity{}).
		Where("(collection, id) IN ?", keys).
		Updates(map[string]any{"verified": true, "updated_at": r.now()})
	if result.Error != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, result.Error, "failed to verify entities")
	}
	if result.RowsAffected < int64(len(refs)) {
		return catalog.ErrEntityNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, t catalog.EntityType, id string) error {
	result := r.db.GetTx(ctx).
		Where("collection = ? AND id = ?", string(t), id).
		Delete(&dbschema.Entity{})
	if result.Error != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, result.Error, "failed to delete entity")
	}
	if result.RowsAffected == 0 {
		return catalog.ErrEntityNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
