// internal/state/document.go
package state

import (
	"fmt"
	"strings"
)

// lookup walks path read-only.
// found=false when a segment is missing or null; err when a non-object sits on the way.
func lookup(doc map[string]any, path []string) (node any, found bool, err error) {
	var cur any = doc
	for i, seg := range path {
		if cur == nil {
			return nil, false, nil
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false, fmt.Errorf("%w: %s is %s, not an object",
				ErrPatchRejected, joinPath(path[:i]), kindOf(cur))
		}
		next, ok := m[seg]
		if !ok {
			return nil, false, nil
		}
		cur = next
	}
	return cur, true, nil
}

// ensureMap returns the object at path, creating missing objects on the way.
// Callers must have checked the path first.
func ensureMap(doc map[string]any, path []string) map[string]any {
	cur := doc
	for _, seg := range path {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	return cur
}

// ---- dry run ----

// check reports whether p can be applied to doc without touching it.
func check(doc map[string]any, p Patch) error {
	switch p := p.(type) {
	case ResetAll:
		return nil

	case Set:
		return checkCreatable(doc, p.Path[:len(p.Path)-1])
	case DictClear:
		return checkCreatable(doc, p.Path[:len(p.Path)-1])
	case ListClear:
		return checkCreatable(doc, p.Path[:len(p.Path)-1])
	case SetKey:
		return checkCreatable(doc, p.Path)

	case DictDel:
		node, found, err := lookup(doc, p.Path)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s does not exist", ErrPatchRejected, joinPath(p.Path))
		}
		if _, ok := node.(map[string]any); !ok {
			return fmt.Errorf("%w: %s is %s, not an object", ErrPatchRejected, joinPath(p.Path), kindOf(node))
		}
		return nil

	case ListUnshift:
		node, found, err := lookup(doc, p.Path)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s does not exist", ErrPatchRejected, joinPath(p.Path))
		}
		if _, ok := node.([]any); !ok {
			return fmt.Errorf("%w: %s is %s, not a list", ErrPatchRejected, joinPath(p.Path), kindOf(node))
		}
		return nil

	default:
		return fmt.Errorf("%w: unsupported patch %T", ErrMalformedPatch, p)
	}
}

// checkCreatable accepts a path whose existing prefix is made of objects.
func checkCreatable(doc map[string]any, path []string) error {
	node, found, err := lookup(doc, path)
	if err != nil || !found || node == nil {
		return err
	}
	if _, ok := node.(map[string]any); !ok {
		return fmt.Errorf("%w: %s is %s, not an object", ErrPatchRejected, joinPath(path), kindOf(node))
	}
	return nil
}

// ---- mutation ----

// apply mutates doc. p must have passed check. Returns the (possibly new) root.
func apply(doc map[string]any, p Patch) map[string]any {
	switch p := p.(type) {
	case ResetAll:
		return Default()

	case Set:
		parent := ensureMap(doc, p.Path[:len(p.Path)-1])
		parent[p.Path[len(p.Path)-1]] = deepCopy(p.Value)

	case SetKey:
		ensureMap(doc, p.Path)[p.Key] = deepCopy(p.Value)

	case DictDel:
		delete(ensureMap(doc, p.Path), p.Key)

	case DictClear:
		ensureMap(doc, p.Path[:len(p.Path)-1])[p.Path[len(p.Path)-1]] = map[string]any{}

	case ListClear:
		ensureMap(doc, p.Path[:len(p.Path)-1])[p.Path[len(p.Path)-1]] = []any{}

	case ListUnshift:
		parent := ensureMap(doc, p.Path[:len(p.Path)-1])
		last := p.Path[len(p.Path)-1]
		old := parent[last].([]any)

		n := min(len(old)+1, p.MaxLen)
		next := make([]any, 0, n)
		next = append(next, deepCopy(p.Value))
		next = append(next, old[:n-1]...)
		parent[last] = next
	}
	return doc
}

// ---- value helpers ----

// deepCopy copies JSON-shaped trees. Scalars are shared.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

// normalize converts a decoded tree (msgpack or Go literals) to the JSON
// representation: every number float64, every object map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "an object"
	case []any:
		return "a list"
	case string:
		return "a string"
	case bool:
		return "a bool"
	case float64:
		return "a number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func joinPath(path []string) string {
	if len(path) == 0 {
		return "<root>"
	}
	return strings.Join(path, ".")
}
