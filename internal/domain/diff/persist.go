package diff

import (
	"encoding/json"
	"fmt"
)

// FieldChange is one leaf of a Tree addressed by its full path. A nil Before
// or After means the side was absent; JSON null is stored as "null".
type FieldChange struct {
	Path   []string        `json:"path"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

// Flatten lists the tree leaves in deterministic path order.
func (t Tree) Flatten() ([]FieldChange, error) {
	out := make([]FieldChange, 0, t.Leaves())
	if err := flatten(t, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(tree Tree, prefix []string, out *[]FieldChange) error {
	for _, key := range sortedKeys(tree) {
		path := append(append([]string(nil), prefix...), key)
		switch node := tree[key].(type) {
		case Change:
			before, err := encodeSide(node.Before)
			if err != nil {
				return fmt.Errorf("diff: encode before at %v: %w", path, err)
			}
			after, err := encodeSide(node.After)
			if err != nil {
				return fmt.Errorf("diff: encode after at %v: %w", path, err)
			}
			*out = append(*out, FieldChange{Path: path, Before: before, After: after})
		case Tree:
			if err := flatten(node, path, out); err != nil {
				return err
			}
		default:
			return fmt.Errorf("diff: unexpected node %T at %v", node, path)
		}
	}
	return nil
}

// FromFieldChanges rebuilds a Tree from its flattened leaves.
func FromFieldChanges(changes []FieldChange) (Tree, error) {
	root := Tree{}
	for _, fc := range changes {
		if len(fc.Path) == 0 {
			return nil, fmt.Errorf("diff: field change without path")
		}
		before, err := decodeSide(fc.Before)
		if err != nil {
			return nil, fmt.Errorf("diff: decode before at %v: %w", fc.Path, err)
		}
		after, err := decodeSide(fc.After)
		if err != nil {
			return nil, fmt.Errorf("diff: decode after at %v: %w", fc.Path, err)
		}

		node := root
		for _, key := range fc.Path[:len(fc.Path)-1] {
			child, ok := node[key]
			if !ok {
				next := Tree{}
				node[key] = next
				node = next
				continue
			}
			next, ok := child.(Tree)
			if !ok {
				return nil, fmt.Errorf("diff: path %v crosses a leaf", fc.Path)
			}
			node = next
		}
		leaf := fc.Path[len(fc.Path)-1]
		if _, exists := node[leaf]; exists {
			return nil, fmt.Errorf("diff: duplicate path %v", fc.Path)
		}
		node[leaf] = Change{Before: before, After: after}
	}
	return root, nil
}

func encodeSide(v any) (json.RawMessage, error) {
	if IsUndefined(v) {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeSide(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return Undefined, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
