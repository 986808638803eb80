package dbschema

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/janhq/catalog-api/internal/domain/catalog"
)

// Entity is one catalog record. All collections share the table and are
// told apart by Collection.
type Entity struct {
	Collection string         `gorm:"column:collection;type:varchar(32);primaryKey"`
	ID         string         `gorm:"column:id;type:varchar(64);primaryKey"`
	Verified   bool           `gorm:"column:verified;not null;default:false"`
	Version    int64          `gorm:"column:version;not null;default:1"`
	Fields     datatypes.JSON `gorm:"column:fields;type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null"`
}

// NewSchemaEntity converts a domain entity for storage.
func NewSchemaEntity(e *catalog.Entity) (*Entity, error) {
	if e == nil {
		return nil, nil
	}
	fields, err := marshalFields(e.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s fields: %w", e.Ref().Path(), err)
	}
	return &Entity{
		Collection: string(e.Type),
		ID:         e.ID,
		Verified:   e.Verified,
		Version:    e.Version,
		Fields:     fields,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}, nil
}

// EtoD converts the schema model to its domain representation.
func (e *Entity) EtoD() (*catalog.Entity, error) {
	if e == nil {
		return nil, nil
	}
	fields := map[string]any{}
	if len(e.Fields) > 0 {
		if err := json.Unmarshal(e.Fields, &fields); err != nil {
			return nil, fmt.Errorf("decode %s/%s fields: %w", e.Collection, e.ID, err)
		}
	}
	return &catalog.Entity{
		Type:      catalog.EntityType(e.Collection),
		ID:        e.ID,
		Verified:  e.Verified,
		Version:   e.Version,
		Fields:    fields,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}, nil
}

func marshalFields(fields map[string]any) (datatypes.JSON, error) {
	if fields == nil {
		return datatypes.JSON("{}"), nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
