package patchrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/janhq/catalog-api/internal/domain/patch"
	"github.com/janhq/catalog-api/internal/infrastructure/database/dbschema"
	"github.com/janhq/catalog-api/internal/infrastructure/database/transaction"
	"github.com/janhq/catalog-api/internal/utils/platformerrors"
)

type Repository struct {
	db *transaction.Database
}

func NewPatchRepository(db *transaction.Database) patch.Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, p *patch.Patch) error {
	model, err := dbschema.NewSchemaPatch(p)
	if err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to encode patch")
	}
	if err := r.db.GetTx(ctx).Create(model).Error; err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to create patch")
	}
	return nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*patch.Patch, error) {
	var model dbschema.Patch
	if err := r.db.GetTx(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, patch.ErrPatchNotFound
		}
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to fetch patch")
	}
	p, err := model.EtoD()
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to decode patch")
	}
	return p, nil
}

// Update is a compare-and-set on status, which is what serializes
// concurrent moderators.
func (r *Repository) Update(ctx context.Context, p *patch.Patch, expected patch.Status) error {
	model, err := dbschema.NewSchemaPatch(p)
	if err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to encode patch")
	}

	result := r.db.GetTx(ctx).
		Model(&dbschema.Patch{}).
		Where("id = ? AND status = ?", p.ID, string(expected)).
		Updates(map[string]any{
			"status":         model.Status,
			"changes":        model.Changes,
			"before_changes": model.BeforeChanges,
			"payload":        model.Payload,
			"base_version":   model.BaseVersion,
			"created_refs":   model.CreatedRefs,
			"actions":        model.Actions,
			"updated_at":     model.UpdatedAt,
		})
	if result.Error != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, result.Error, "failed to update patch")
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.GetTx(ctx).Model(&dbschema.Patch{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to check patch")
	}
	if count == 0 {
		return patch.ErrPatchNotFound
	}
	return patch.ErrStatusChanged
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.db.GetTx(ctx).Where("id = ?", id).Delete(&dbschema.Patch{}).Error; err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "failed to delete patch")
	}
	return nil
}

func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.GetTx(ctx).
		Where("status IN ? AND updated_at < ?", []string{string(patch.StatusAccepted), string(patch.StatusRejected)}, cutoff).
		Delete(&dbschema.Patch{})
	if result.Error != nil {
		return 0, platformerrors.AsError(ctx, platformerrors.LayerRepository, result.Error, "failed to prune patches")
	}
	return result.RowsAffected, nil
}
