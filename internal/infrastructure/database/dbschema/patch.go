package dbschema

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/janhq/catalog-api/internal/domain/catalog"
	"github.com/janhq/catalog-api/internal/domain/diff"
	"github.com/janhq/catalog-api/internal/domain/patch"
)

// Patch is a persisted moderation ledger entry. The change tree is stored
// flattened so leaves keep the distinction between null and absent.
type Patch struct {
	ID               string                                 `gorm:"column:id;type:varchar(26);primaryKey"`
	Kind             string                                 `gorm:"column:kind;type:varchar(16);not null"`
	TargetCollection string                                 `gorm:"column:target_collection;type:varchar(32);not null;index:idx_patches_target"`
	TargetID         string                                 `gorm:"column:target_id;type:varchar(64);not null;index:idx_patches_target"`
	AuthorRef        string                                 `gorm:"column:author_ref;type:varchar(255);not null"`
	Status           string                                 `gorm:"column:status;type:varchar(32);not null"`
	Changes          datatypes.JSONSlice[diff.FieldChange]  `gorm:"column:changes;type:jsonb;not null"`
	BeforeChanges    datatypes.JSON                         `gorm:"column:before_changes;type:jsonb;not null"`
	Payload          datatypes.JSON                         `gorm:"column:payload;type:jsonb;not null"`
	BaseVersion      int64                                  `gorm:"column:base_version;not null"`
	CreatedRefs      datatypes.JSONSlice[catalog.Ref]       `gorm:"column:created_refs;type:jsonb;not null"`
	Actions          datatypes.JSONSlice[patch.ActionEntry] `gorm:"column:actions;type:jsonb;not null"`
	CreatedAt        time.Time                              `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time                              `gorm:"column:updated_at;not null"`
}

// NewSchemaPatch converts a domain patch for storage.
func NewSchemaPatch(p *patch.Patch) (*Patch, error) {
	if p == nil {
		return nil, nil
	}
	changes, err := p.Changes.Flatten()
	if err != nil {
		return nil, fmt.Errorf("flatten changes of patch %s: %w", p.ID, err)
	}
	before, err := marshalFields(p.BeforeChanges)
	if err != nil {
		return nil, fmt.Errorf("encode before snapshot of patch %s: %w", p.ID, err)
	}
	payload, err := marshalFields(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload of patch %s: %w", p.ID, err)
	}
	return &Patch{
		ID:               p.ID,
		Kind:             string(p.Kind),
		TargetCollection: string(p.Target.Type),
		TargetID:         p.Target.ID,
		AuthorRef:        p.AuthorRef,
		Status:           string(p.Status),
		Changes:          changes,
		BeforeChanges:    before,
		Payload:          payload,
		BaseVersion:      p.BaseVersion,
		CreatedRefs:      append(datatypes.JSONSlice[catalog.Ref]{}, p.CreatedRefs...),
		Actions:          append(datatypes.JSONSlice[patch.ActionEntry]{}, p.Actions...),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}, nil
}

// EtoD converts the schema model to its domain representation.
func (p *Patch) EtoD() (*patch.Patch, error) {
	if p == nil {
		return nil, nil
	}
	changes, err := diff.FromFieldChanges(p.Changes)
	if err != nil {
		return nil, fmt.Errorf("rebuild changes of patch %s: %w", p.ID, err)
	}
	before := map[string]any{}
	if len(p.BeforeChanges) > 0 {
		if err := json.Unmarshal(p.BeforeChanges, &before); err != nil {
			return nil, fmt.Errorf("decode before snapshot of patch %s: %w", p.ID, err)
		}
	}
	var payload map[string]any
	if len(p.Payload) > 0 {
		if err := json.Unmarshal(p.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode payload of patch %s: %w", p.ID, err)
		}
	}
	target := catalog.Ref{Type: catalog.EntityType(p.TargetCollection), ID: p.TargetID}
	return &patch.Patch{
		ID:            p.ID,
		Kind:          patch.Kind(p.Kind),
		Target:        target,
		TargetPath:    target.Path(),
		AuthorRef:     p.AuthorRef,
		Status:        patch.Status(p.Status),
		Changes:       changes,
		BeforeChanges: before,
		Payload:       payload,
		BaseVersion:   p.BaseVersion,
		CreatedRefs:   append([]catalog.Ref{}, p.CreatedRefs...),
		Actions:       append([]patch.ActionEntry{}, p.Actions...),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}, nil
}
