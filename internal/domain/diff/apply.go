package diff

import (
	"fmt"
	"sort"
	"strconv"
)

// Apply returns a copy of snapshot with every after-value of tree written in.
// An Undefined after-value deletes the key or array slot.
func Apply(snapshot map[string]any, tree Tree) (map[string]any, error) {
	cloned, _ := clone(snapshot).(map[string]any)
	if cloned == nil {
		cloned = map[string]any{}
	}
	if err := applyObject(cloned, tree, ""); err != nil {
		return nil, err
	}
	return cloned, nil
}

func applyObject(target map[string]any, tree Tree, path string) error {
	for _, key := range sortedKeys(tree) {
		childPath := joinPath(path, key)
		switch node := tree[key].(type) {
		case Change:
			if IsUndefined(node.After) {
				delete(target, key)
				continue
			}
			target[key] = clone(node.After)
		case Tree:
			next, err := applyNode(target[key], node, childPath)
			if err != nil {
				return err
			}
			target[key] = next
		default:
			return fmt.Errorf("diff: unexpected node %T at %s", node, childPath)
		}
	}
	return nil
}

func applyNode(current any, tree Tree, path string) (any, error) {
	switch container := current.(type) {
	case map[string]any:
		if err := applyObject(container, tree, path); err != nil {
			return nil, err
		}
		return container, nil
	case []any:
		return applyArray(container, tree, path)
	default:
		return nil, fmt.Errorf("diff: %s is %T, cannot apply nested changes", path, current)
	}
}

func applyArray(target []any, tree Tree, path string) ([]any, error) {
	removed := make(map[int]struct{})
	for _, key := range sortedKeys(tree) {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("diff: %s has non-index key %q", path, key)
		}
		childPath := joinPath(path, key)
		for idx >= len(target) {
			target = append(target, nil)
		}
		switch node := tree[key].(type) {
		case Change:
			if IsUndefined(node.After) {
				removed[idx] = struct{}{}
				continue
			}
			target[idx] = clone(node.After)
		case Tree:
			next, err := applyNode(target[idx], node, childPath)
			if err != nil {
				return nil, err
			}
			target[idx] = next
		default:
			return nil, fmt.Errorf("diff: unexpected node %T at %s", node, childPath)
		}
	}
	if len(removed) == 0 {
		return target, nil
	}
	kept := make([]any, 0, len(target)-len(removed))
	for i, v := range target {
		if _, drop := removed[i]; !drop {
			kept = append(kept, v)
		}
	}
	return kept, nil
}

func clone(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = clone(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = clone(item)
		}
		return out
	default:
		return value
	}
}

// sortedKeys orders numeric keys by value so array growth is applied in
// position order; other keys sort lexically after them.
func sortedKeys(tree Tree) []string {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessKey(keys[i], keys[j])
	})
	return keys
}

func lessKey(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai < bi
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return a < b
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
