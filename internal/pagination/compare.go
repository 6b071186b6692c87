package pagination

import (
	"cmp"
	"time"
)

// CompareKeys compares two sort keys lexicographically under order,
// flipping the result of every descending field. It returns -1, 0 or +1.
// Executors that page over in-memory data use it as both the sort
// comparator and the keyset predicate.
func CompareKeys(order Order, a, b []any) int {
	for i, f := range order {
		if i >= len(a) || i >= len(b) {
			break
		}
		c := compareValues(a[i], b[i])
		if f.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return cmp.Compare(av, bv)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case float64:
		if bv, ok := asFloat(b); ok {
			return cmp.Compare(av, bv)
		}
	default:
		if an, ok := asInt(a); ok {
			if bn, ok := asInt(b); ok {
				return cmp.Compare(an, bn)
			}
			if bf, ok := asFloat(b); ok {
				return cmp.Compare(float64(an), bf)
			}
		}
	}
	return 0
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	if f, ok := v.(float64); ok {
		return f, true
	}
	if n, ok := asInt(v); ok {
		return float64(n), true
	}
	return 0, false
}
