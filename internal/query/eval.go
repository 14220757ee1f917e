package query

import (
	"encoding/json"
	"strings"
	"time"
)

// Matches evaluates the condition against a flat record document.
// A nil condition matches everything.
func Matches(doc map[string]any, c *Cond) bool {
	if c == nil {
		return true
	}
	switch c.Op {
	case OpAnd:
		for _, k := range c.Kids {
			if !Matches(doc, k) {
				return false
			}
		}
		return true
	case OpOr:
		for _, k := range c.Kids {
			if Matches(doc, k) {
				return true
			}
		}
		return false
	case OpEq:
		v, ok := Path(doc, c.Field)
		return ok && equal(v, c.Value)
	case OpNe:
		v, ok := Path(doc, c.Field)
		return !ok || !equal(v, c.Value)
	case OpLt, OpLte, OpGt, OpGte:
		v, ok := Path(doc, c.Field)
		if !ok || v == nil {
			return false
		}
		cmp, ok := compare(v, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return cmp < 0
		case OpLte:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case OpIn:
		v, ok := Path(doc, c.Field)
		if !ok {
			return false
		}
		for _, want := range c.Values {
			if equal(v, want) {
				return true
			}
		}
		return false
	case OpAnyIn:
		v, ok := Path(doc, c.Field)
		if !ok {
			return false
		}
		for _, elem := range asSlice(v) {
			for _, want := range c.Values {
				if equal(elem, want) {
					return true
				}
			}
		}
		return false
	case OpNull:
		v, ok := Path(doc, c.Field)
		return !ok || v == nil
	case OpNotNull:
		v, ok := Path(doc, c.Field)
		return ok && v != nil
	default:
		return false
	}
}

// Path walks a dotted path through nested maps. It reports ok=false when a
// segment is structurally absent.
func Path(doc map[string]any, path string) (any, bool) {
	cur := any(doc)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Equal reports value equality under the evaluator's coercion rules.
func Equal(a, b any) bool { return equal(a, b) }

func asSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func equal(a, b any) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	return false
}

// compare orders two scalar values, coercing across the representations a
// value can take after a JSON round trip (json.Number, float64, RFC3339
// strings for instants).
func compare(a, b any) (int, bool) {
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb), true
		}
		return 0, false
	}
	if na, ok := asFloat(a); ok {
		if nb, ok := asFloat(b); ok {
			switch {
			case na < nb:
				return -1, true
			case na > nb:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	switch va := a.(type) {
	case string:
		if vb, ok := b.(string); ok {
			return strings.Compare(va, vb), true
		}
	case bool:
		if vb, ok := b.(bool); ok {
			if va == vb {
				return 0, true
			}
			if !va {
				return -1, true
			}
			return 1, true
		}
	case nil:
		if b == nil {
			return 0, true
		}
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
