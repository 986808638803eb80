package resolver

import (
	"fmt"
	"strings"

	revErrors "github.com/janhq/catalog-api/internal/domain/errors"
)

// RelationInput is one submitted relation item: Existing or New.
type RelationInput interface {
	relationInput()
	RoleTag() string
}

// Existing references an entity already stored in the target collection.
type Existing struct {
	ID   string
	Role string
}

// New carries the payload of an entity to create alongside the submission.
type New struct {
	Payload map[string]any
	Role    string
}

func (Existing) relationInput() {}
func (New) relationInput()      {}

// RoleTag returns the optional role label.
func (e Existing) RoleTag() string { return e.Role }

// RoleTag returns the optional role label.
func (n New) RoleTag() string { return n.Role }

// ParseRelationList decodes the submitted descriptors of one relation field.
// Each item is {"id": "...", "role"?: "..."} or {"new": {...}, "role"?: "..."}.
func ParseRelationList(path string, raw any) ([]RelationInput, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, revErrors.ValidationFailed(path, "relation field must be a list")
	}

	out := make([]RelationInput, 0, len(items))
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		input, err := parseRelationItem(itemPath, item)
		if err != nil {
			return nil, err
		}
		out = append(out, input)
	}
	return out, nil
}

func parseRelationItem(path string, raw any) (RelationInput, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, revErrors.ValidationFailed(path, "relation item must be an object")
	}

	role, err := optionalString(path, obj, "role")
	if err != nil {
		return nil, err
	}

	rawID, hasID := obj["id"]
	rawNew, hasNew := obj["new"]
	switch {
	case hasID && hasNew:
		return nil, revErrors.ValidationFailed(path, `relation item cannot carry both "id" and "new"`)
	case hasID:
		id, ok := rawID.(string)
		if !ok || strings.TrimSpace(id) == "" {
			return nil, revErrors.ValidationFailed(path+".id", "must be a non-empty string")
		}
		return Existing{ID: id, Role: role}, nil
	case hasNew:
		payload, ok := rawNew.(map[string]any)
		if !ok {
			return nil, revErrors.ValidationFailed(path+".new", "must be an object")
		}
		return New{Payload: payload, Role: role}, nil
	default:
		return nil, revErrors.ValidationFailed(path, `relation item needs "id" or "new"`)
	}
}

func optionalString(path string, obj map[string]any, key string) (string, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", revErrors.ValidationFailed(path+"."+key, "must be a string")
	}
	return s, nil
}
