// Package convert maps wire JSON payloads to domain types: records,
// where-clause JSON into predicate trees, and lookup/scope request forms.
package convert

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/lookup"
	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/query"
	"github.com/mvetrov/recordgate/internal/scope"
)

// FindRequest is the wire form of a find call.
type FindRequest struct {
	Where   map[string]any  `json:"where,omitempty"`
	Order   []string        `json:"order,omitempty"`
	Skip    int             `json:"skip,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Fields  []string        `json:"fields,omitempty"`
	Scope   *scope.Spec     `json:"scope,omitempty"`
	Lookups []LookupRequest `json:"lookups,omitempty"`
}

// LookupRequest is the wire form of a lookup directive.
type LookupRequest struct {
	Path    string          `json:"path"`
	Where   map[string]any  `json:"where,omitempty"`
	Order   []string        `json:"order,omitempty"`
	Skip    int             `json:"skip,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Fields  []string        `json:"fields,omitempty"`
	Scope   *scope.Spec     `json:"scope,omitempty"`
	Lookups []LookupRequest `json:"lookups,omitempty"`
}

// ToRecord builds a record from a wire document.
func ToRecord(doc map[string]any) (*model.Record, error) {
	return model.RecordFromDoc(doc)
}

// ToFilter converts the request's filter portion (where, order, paging,
// projection). Scope and lookups are converted separately.
func ToFilter(req *FindRequest) (query.Filter, error) {
	var f query.Filter
	if req == nil {
		return f, nil
	}
	where, err := ToCond(req.Where)
	if err != nil {
		return f, err
	}
	order, err := ParseOrder(req.Order)
	if err != nil {
		return f, err
	}
	if req.Skip < 0 || req.Limit < 0 {
		return f, fmt.Errorf("%w: negative skip/limit", errs.ErrValidation)
	}
	f.Where = where
	f.Order = order
	f.Skip = req.Skip
	f.Limit = req.Limit
	f.Fields = req.Fields
	return f, nil
}

// ToDirectives converts wire lookups into resolver directives.
func ToDirectives(reqs []LookupRequest) ([]lookup.Directive, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	out := make([]lookup.Directive, 0, len(reqs))
	for i := range reqs {
		d, err := toDirective(&reqs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func toDirective(req *LookupRequest) (lookup.Directive, error) {
	where, err := ToCond(req.Where)
	if err != nil {
		return lookup.Directive{}, err
	}
	order, err := ParseOrder(req.Order)
	if err != nil {
		return lookup.Directive{}, err
	}
	nested, err := ToDirectives(req.Lookups)
	if err != nil {
		return lookup.Directive{}, err
	}
	return lookup.Directive{
		Path:    req.Path,
		Where:   where,
		Scope:   req.Scope,
		Order:   order,
		Skip:    req.Skip,
		Limit:   req.Limit,
		Fields:  req.Fields,
		Lookups: nested,
	}, nil
}

// ToCond converts where-clause JSON into a predicate tree. Supported forms:
//
//	{"f": v}                      equality
//	{"f": {"gt": v, ...}}         operator object (gt gte lt lte neq in anyIn null)
//	{"and": [ ... ]}              conjunction of sub-clauses
//	{"or":  [ ... ]}              disjunction of sub-clauses
//
// Multiple keys on one object conjoin. RFC3339 strings become instants so
// both store drivers compare them as time.
func ToCond(where map[string]any) (*query.Cond, error) {
	if len(where) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var kids []*query.Cond
	for _, k := range keys {
		v := where[k]
		switch k {
		case "and", "or":
			subs, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %q expects a list of clauses", errs.ErrValidation, k)
			}
			group := make([]*query.Cond, 0, len(subs))
			for _, sub := range subs {
				m, ok := sub.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%w: %q clause must be an object", errs.ErrValidation, k)
				}
				c, err := ToCond(m)
				if err != nil {
					return nil, err
				}
				if c != nil {
					group = append(group, c)
				}
			}
			if k == "and" {
				kids = append(kids, query.And(group...))
			} else {
				kids = append(kids, query.Or(group...))
			}
		default:
			c, err := fieldCond(k, v)
			if err != nil {
				return nil, err
			}
			kids = append(kids, c)
		}
	}
	if len(kids) == 1 {
		return kids[0], nil
	}
	return query.And(kids...), nil
}

func fieldCond(field string, v any) (*query.Cond, error) {
	// JSON null means "absent or null"; an Eq against nil would diverge
	// between the evaluator and the SQL rendering.
	if v == nil {
		return query.Null(field), nil
	}
	ops, ok := v.(map[string]any)
	if !ok {
		return query.Eq(field, normalize(v)), nil
	}
	opKeys := make([]string, 0, len(ops))
	for k := range ops {
		opKeys = append(opKeys, k)
	}
	sort.Strings(opKeys)

	var kids []*query.Cond
	for _, op := range opKeys {
		arg := ops[op]
		switch op {
		case "eq":
			if arg == nil {
				kids = append(kids, query.Null(field))
				continue
			}
			kids = append(kids, query.Eq(field, normalize(arg)))
		case "neq":
			if arg == nil {
				kids = append(kids, query.NotNull(field))
				continue
			}
			kids = append(kids, query.Ne(field, normalize(arg)))
		case "gt":
			kids = append(kids, query.Gt(field, normalize(arg)))
		case "gte":
			kids = append(kids, query.Gte(field, normalize(arg)))
		case "lt":
			kids = append(kids, query.Lt(field, normalize(arg)))
		case "lte":
			kids = append(kids, query.Lte(field, normalize(arg)))
		case "in", "anyIn":
			list, ok := arg.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %q on %q expects a list", errs.ErrValidation, op, field)
			}
			vals := make([]any, len(list))
			for i, e := range list {
				vals[i] = normalize(e)
			}
			if op == "in" {
				kids = append(kids, query.In(field, vals...))
			} else {
				kids = append(kids, query.AnyIn(field, vals...))
			}
		case "null":
			isNull, ok := arg.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: %q on %q expects a boolean", errs.ErrValidation, op, field)
			}
			if isNull {
				kids = append(kids, query.Null(field))
			} else {
				kids = append(kids, query.NotNull(field))
			}
		default:
			return nil, fmt.Errorf("%w: unknown operator %q on field %q", errs.ErrValidation, op, field)
		}
	}
	if len(kids) == 1 {
		return kids[0], nil
	}
	return query.And(kids...), nil
}

// ParseOrder parses "field [ASC|DESC]" clauses.
func ParseOrder(clauses []string) ([]query.SortKey, error) {
	if len(clauses) == 0 {
		return nil, nil
	}
	out := make([]query.SortKey, 0, len(clauses))
	for _, clause := range clauses {
		parts := strings.Fields(clause)
		switch len(parts) {
		case 1:
			out = append(out, query.SortKey{Field: parts[0]})
		case 2:
			switch strings.ToUpper(parts[1]) {
			case "ASC":
				out = append(out, query.SortKey{Field: parts[0]})
			case "DESC":
				out = append(out, query.SortKey{Field: parts[0], Desc: true})
			default:
				return nil, fmt.Errorf("%w: bad order clause %q", errs.ErrValidation, clause)
			}
		default:
			return nil, fmt.Errorf("%w: bad order clause %q", errs.ErrValidation, clause)
		}
	}
	return out, nil
}

func normalize(v any) any {
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return v
}
