// Package query defines the store-level predicate tree and find options
// shared by every store driver: the memory store evaluates conditions
// directly, the postgres store compiles the same tree to SQL.
package query

// Op enumerates predicate node types.
type Op string

const (
	OpAnd     Op = "and"
	OpOr      Op = "or"
	OpEq      Op = "eq"
	OpNe      Op = "neq"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpIn      Op = "in"      // scalar field value is one of Values
	OpAnyIn   Op = "anyIn"   // array-valued field intersects Values
	OpNull    Op = "null"    // field is absent or null
	OpNotNull Op = "notNull" // field is present and non-null
)

// Cond is one node of a boolean predicate tree over a record document.
// Leaves address fields by dotted path; managed attributes use their
// canonical keys. Immutable once built.
type Cond struct {
	Op     Op
	Field  string
	Value  any
	Values []any
	Kids   []*Cond
}

// And combines children conjunctively. With no children it is always true.
func And(kids ...*Cond) *Cond { return &Cond{Op: OpAnd, Kids: compact(kids)} }

// Or combines children disjunctively. With no children it is always false.
func Or(kids ...*Cond) *Cond { return &Cond{Op: OpOr, Kids: compact(kids)} }

func Eq(field string, v any) *Cond  { return &Cond{Op: OpEq, Field: field, Value: v} }
func Ne(field string, v any) *Cond  { return &Cond{Op: OpNe, Field: field, Value: v} }
func Lt(field string, v any) *Cond  { return &Cond{Op: OpLt, Field: field, Value: v} }
func Lte(field string, v any) *Cond { return &Cond{Op: OpLte, Field: field, Value: v} }
func Gt(field string, v any) *Cond  { return &Cond{Op: OpGt, Field: field, Value: v} }
func Gte(field string, v any) *Cond { return &Cond{Op: OpGte, Field: field, Value: v} }

// In matches when the scalar field value equals one of vs.
func In(field string, vs ...any) *Cond { return &Cond{Op: OpIn, Field: field, Values: vs} }

// AnyIn matches when the array-valued field shares at least one element with vs.
func AnyIn(field string, vs ...any) *Cond { return &Cond{Op: OpAnyIn, Field: field, Values: vs} }

func Null(field string) *Cond    { return &Cond{Op: OpNull, Field: field} }
func NotNull(field string) *Cond { return &Cond{Op: OpNotNull, Field: field} }

// Merge conjoins base with extra, flattening when base is already a
// conjunction. Either side may be nil.
func Merge(base, extra *Cond) *Cond {
	switch {
	case base == nil:
		return extra
	case extra == nil:
		return base
	case base.Op == OpAnd:
		kids := make([]*Cond, 0, len(base.Kids)+1)
		kids = append(kids, base.Kids...)
		kids = append(kids, extra)
		return &Cond{Op: OpAnd, Kids: kids}
	default:
		return And(base, extra)
	}
}

func compact(kids []*Cond) []*Cond {
	out := kids[:0]
	for _, k := range kids {
		if k != nil {
			out = append(out, k)
		}
	}
	return out
}
