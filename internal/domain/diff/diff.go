// Package diff computes and applies structural change trees between two
// JSON-shaped entity snapshots.
package diff

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
)

type undefined struct{}

// MarshalJSON renders the absent marker as null for display purposes. The
// persisted form keeps absence distinct, see FieldChange.
func (undefined) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Undefined marks the side of a Change where the key did not exist.
var Undefined any = undefined{}

// IsUndefined reports whether v is the absent marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// Change is a leaf of a Tree.
type Change struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// MarshalJSON omits the absent side.
func (c Change) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 2)
	if !IsUndefined(c.Before) {
		out["before"] = c.Before
	}
	if !IsUndefined(c.After) {
		out["after"] = c.After
	}
	return json.Marshal(out)
}

// Tree maps keys to either a Change or a nested Tree. Array positions are
// keyed by their decimal index.
type Tree map[string]any

// IsEmpty reports whether the tree records no change.
func (t Tree) IsEmpty() bool {
	return len(t) == 0
}

// Leaves counts the Change leaves of the tree.
func (t Tree) Leaves() int {
	n := 0
	for _, v := range t {
		switch node := v.(type) {
		case Change:
			n++
		case Tree:
			n += node.Leaves()
		}
	}
	return n
}

// DefaultIgnoredKeys are counters and bookkeeping fields users never edit.
var DefaultIgnoredKeys = []string{"votes", "views", "favourites", "updatedAt"}

// Differ compares snapshots while skipping a deny-list of keys at any depth.
type Differ struct {
	ignored map[string]struct{}
}

// NewDiffer builds a Differ ignoring the given keys.
func NewDiffer(ignoredKeys ...string) *Differ {
	ignored := make(map[string]struct{}, len(ignoredKeys))
	for _, k := range ignoredKeys {
		ignored[k] = struct{}{}
	}
	return &Differ{ignored: ignored}
}

// Ignores reports whether key is skipped.
func (d *Differ) Ignores(key string) bool {
	_, ok := d.ignored[key]
	return ok
}

// Diff returns the changes turning before into after. It never mutates its
// inputs and equal snapshots yield an empty tree.
func (d *Differ) Diff(before, after map[string]any) Tree {
	return d.diffObjects(before, after)
}

func (d *Differ) diffObjects(before, after map[string]any) Tree {
	out := Tree{}
	for _, key := range unionKeys(before, after) {
		if d.Ignores(key) {
			continue
		}
		b, inBefore := before[key]
		a, inAfter := after[key]
		switch {
		case !inBefore:
			out[key] = Change{Before: Undefined, After: a}
		case !inAfter:
			out[key] = Change{Before: b, After: Undefined}
		default:
			if node, changed := d.diffValues(b, a); changed {
				out[key] = node
			}
		}
	}
	return out
}

func (d *Differ) diffArrays(before, after []any) Tree {
	out := Tree{}
	n := len(before)
	if len(after) > n {
		n = len(after)
	}
	for i := 0; i < n; i++ {
		key := strconv.Itoa(i)
		switch {
		case i >= len(before):
			out[key] = Change{Before: Undefined, After: after[i]}
		case i >= len(after):
			out[key] = Change{Before: before[i], After: Undefined}
		default:
			if node, changed := d.diffValues(before[i], after[i]); changed {
				out[key] = node
			}
		}
	}
	return out
}

// diffValues recurses only when both sides are the same container kind.
func (d *Differ) diffValues(before, after any) (any, bool) {
	switch b := before.(type) {
	case map[string]any:
		if a, ok := after.(map[string]any); ok {
			tree := d.diffObjects(b, a)
			return tree, !tree.IsEmpty()
		}
	case []any:
		if a, ok := after.([]any); ok {
			tree := d.diffArrays(b, a)
			return tree, !tree.IsEmpty()
		}
	}
	if equalValues(before, after) {
		return nil, false
	}
	return Change{Before: before, After: after}, true
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Normalize converts an arbitrary value into the JSON-decoded shape
// (map[string]any, []any, float64, string, bool, nil) the differ expects.
func Normalize(v map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
