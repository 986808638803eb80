// Package catalog defines the media entities, their relation schema and the
// store contract the revision engine persists them through.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EntityType names both the kind of a media record and its collection.
type EntityType string

const (
	EntityTypeAnime     EntityType = "Anime"
	EntityTypeManga     EntityType = "Manga"
	EntityTypeCharacter EntityType = "Character"
	EntityTypePerson    EntityType = "Person"
	EntityTypeCompany   EntityType = "Company"
	EntityTypeTrack     EntityType = "Track"
	EntityTypeGroup     EntityType = "Group"
)

// AllEntityTypes lists every collection the service manages.
var AllEntityTypes = []EntityType{
	EntityTypeAnime,
	EntityTypeManga,
	EntityTypeCharacter,
	EntityTypePerson,
	EntityTypeCompany,
	EntityTypeTrack,
	EntityTypeGroup,
}

// String returns the collection name.
func (t EntityType) String() string {
	return string(t)
}

// ParseEntityType accepts the collection name case-insensitively, plus the
// lower-case plural used in URLs ("anime", "people", "companies").
func ParseEntityType(raw string) (EntityType, error) {
	if t, ok := entityTypeAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown entity type %q", raw)
}

var entityTypeAliases = map[string]EntityType{
	"anime":      EntityTypeAnime,
	"manga":      EntityTypeManga,
	"character":  EntityTypeCharacter,
	"characters": EntityTypeCharacter,
	"person":     EntityTypePerson,
	"people":     EntityTypePerson,
	"persons":    EntityTypePerson,
	"company":    EntityTypeCompany,
	"companies":  EntityTypeCompany,
	"track":      EntityTypeTrack,
	"tracks":     EntityTypeTrack,
	"group":      EntityTypeGroup,
	"groups":     EntityTypeGroup,
}

// Entity is a stored media record. Fields holds arbitrary scalar and nested
// values; relation fields hold lists of {id, role?} objects.
type Entity struct {
	Type      EntityType     `json:"type"`
	ID        string         `json:"id"`
	Verified  bool           `json:"verified"`
	Version   int64          `json:"version"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Ref returns the reference to this entity.
func (e *Entity) Ref() Ref {
	return Ref{Type: e.Type, ID: e.ID}
}

// Ref points at one entity in one collection.
type Ref struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

// Path renders the ref as "<collection>/<id>".
func (r Ref) Path() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// ResolvedRef is one resolved relation item. Role is kept at the same position
// as in the submitted list.
type ResolvedRef struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// AsField renders the ref in the shape stored inside Entity.Fields.
func (r ResolvedRef) AsField() map[string]any {
	field := map[string]any{"id": r.ID}
	if r.Role != "" {
		field["role"] = r.Role
	}
	return field
}

// RefsAsField renders a resolved relation list for Entity.Fields.
func RefsAsField(refs []ResolvedRef) []any {
	out := make([]any, len(refs))
	for i, ref := range refs {
		out[i] = ref.AsField()
	}
	return out
}

var (
	// ErrEntityNotFound is returned by stores when the entity does not exist.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrEntityExists is returned by Create when the ID is already stored.
	ErrEntityExists = errors.New("entity already exists")
	// ErrVersionMismatch is returned by Update when expectedVersion is stale.
	ErrVersionMismatch = errors.New("entity version mismatch")
)

// EntityStore is the per-collection persistence contract.
type EntityStore interface {
	Exists(ctx context.Context, t EntityType, id string) (bool, error)
	FindByID(ctx context.Context, t EntityType, id string) (*Entity, error)
	Create(ctx context.Context, entity *Entity) error
	// Update overwrites Fields and Version when the stored version equals
	// expectedVersion.
	Update(ctx context.Context, entity *Entity, expectedVersion int64) error
	MarkVerified(ctx context.Context, refs []Ref) error
	Delete(ctx context.Context, t EntityType, id string) error
}
