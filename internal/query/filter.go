package query

import "sort"

// SortKey orders results by one field.
type SortKey struct {
	Field string
	Desc  bool
}

// Filter bundles the find options a store driver applies, in order:
// where, order, skip/limit, projection.
type Filter struct {
	Where  *Cond
	Order  []SortKey
	Skip   int
	Limit  int // 0 means unbounded (callers cap it before it reaches a driver)
	Fields []string
}

// Less orders two documents under the sort keys. Values that cannot be
// compared keep their relative order.
func Less(a, b map[string]any, order []SortKey) bool {
	for _, key := range order {
		va, _ := Path(a, key.Field)
		vb, _ := Path(b, key.Field)
		cmp, ok := compare(va, vb)
		if !ok || cmp == 0 {
			continue
		}
		if key.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

// SortDocs stable-sorts documents in place under the sort keys.
func SortDocs(docs []map[string]any, order []SortKey) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool { return Less(docs[i], docs[j], order) })
}

// Page applies skip/limit bounds to a slice length and returns the window.
func Page(n, skip, limit int) (lo, hi int) {
	if skip < 0 {
		skip = 0
	}
	if skip > n {
		skip = n
	}
	hi = n
	if limit > 0 && skip+limit < n {
		hi = skip + limit
	}
	return skip, hi
}

// Project copies the listed fields (plus nothing else) out of a document.
// An empty field list means no projection.
func Project(doc map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return doc
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}
