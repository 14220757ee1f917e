// Package scope compiles the declarative "sets" grammar into store-level
// predicates. The same compiled form backs read-time filtering, write-time
// admission checks and lookup resolution.
package scope

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/query"
)

// Spec is a tree of named set terms combined via and/or groupings.
// A node may name a set and carry combinator children at the same time;
// everything on one node is conjoined. Immutable once compiled.
type Spec struct {
	Set  string              `json:"set,omitempty" yaml:"set,omitempty"`
	Args map[string][]string `json:"args,omitempty" yaml:"args,omitempty"`
	And  []Spec              `json:"and,omitempty" yaml:"and,omitempty"`
	Or   []Spec              `json:"or,omitempty" yaml:"or,omitempty"`
}

// Params carries the per-request inputs a compilation may draw on.
// Now is captured once per top-level Compile call, so `actives` and
// `expireds` evaluated in one request are mutually exclusive.
type Params struct {
	Now      time.Time
	UserIDs  []string
	GroupIDs []string
}

// Argument names understood by the audience set.
const (
	ArgUserIDs  = "userIds"
	ArgGroupIDs = "groupIds"
)

var windowRe = regexp.MustCompile(`^(createds|updateds)-(\d+)d$`)

// Compile turns a spec into a predicate tree. A nil spec compiles to nil
// (match everything). Unknown set names fail validation naming the term.
func Compile(spec *Spec, p Params) (*query.Cond, error) {
	if spec == nil {
		return nil, nil
	}
	if p.Now.IsZero() {
		p.Now = time.Now()
	}
	return compileNode(spec, p)
}

func compileNode(spec *Spec, p Params) (*query.Cond, error) {
	var kids []*query.Cond

	if spec.Set != "" {
		c, err := compileSet(spec, p)
		if err != nil {
			return nil, err
		}
		kids = append(kids, c)
	}
	for i := range spec.And {
		c, err := compileNode(&spec.And[i], p)
		if err != nil {
			return nil, err
		}
		kids = append(kids, c)
	}
	if len(spec.Or) > 0 {
		ors := make([]*query.Cond, 0, len(spec.Or))
		for i := range spec.Or {
			c, err := compileNode(&spec.Or[i], p)
			if err != nil {
				return nil, err
			}
			ors = append(ors, c)
		}
		kids = append(kids, query.Or(ors...))
	}

	switch len(kids) {
	case 0:
		return nil, fmt.Errorf("%w: empty scope node", errs.ErrValidation)
	case 1:
		return kids[0], nil
	default:
		return query.And(kids...), nil
	}
}

func compileSet(spec *Spec, p Params) (*query.Cond, error) {
	switch spec.Set {
	case "actives":
		return query.And(
			query.NotNull(model.FieldValidFrom),
			query.Lt(model.FieldValidFrom, p.Now),
			query.Or(
				query.Null(model.FieldValidUntil),
				query.Gt(model.FieldValidUntil, p.Now),
			),
		), nil
	case "expireds":
		return query.And(
			query.NotNull(model.FieldValidUntil),
			query.Lte(model.FieldValidUntil, p.Now),
		), nil
	case "publics":
		return query.Eq(model.FieldVisibility, string(model.Public)), nil
	case "privates":
		return query.Eq(model.FieldVisibility, string(model.Private)), nil
	case "protecteds":
		return query.Eq(model.FieldVisibility, string(model.Protected)), nil
	case "owners":
		return intersects(p.UserIDs, p.GroupIDs,
			[]string{model.FieldOwnerUsers}, []string{model.FieldOwnerGroups}), nil
	case "audience":
		users := spec.Args[ArgUserIDs]
		groups := spec.Args[ArgGroupIDs]
		member := intersects(users, groups,
			[]string{model.FieldOwnerUsers, model.FieldViewerUsers},
			[]string{model.FieldOwnerGroups, model.FieldViewerGroups})
		return query.Or(append([]*query.Cond{
			query.Eq(model.FieldVisibility, string(model.Public)),
		}, member.Kids...)...), nil
	}

	if m := windowRe.FindStringSubmatch(spec.Set); m != nil {
		days, err := strconv.Atoi(m[2])
		if err != nil || days < 0 {
			return nil, fmt.Errorf("%w: bad day window in set %q", errs.ErrValidation, spec.Set)
		}
		field := model.FieldCreatedAt
		if m[1] == "updateds" {
			field = model.FieldUpdatedAt
		}
		return query.Gte(field, p.Now.AddDate(0, 0, -days)), nil
	}

	return nil, fmt.Errorf("%w: unknown set %q", errs.ErrValidation, spec.Set)
}

// intersects builds the membership disjunction over user and group list
// fields. With no identities at all it compiles to a never-matching OR.
func intersects(users, groups []string, userFields, groupFields []string) *query.Cond {
	var kids []*query.Cond
	if len(users) > 0 {
		vs := toAny(users)
		for _, f := range userFields {
			kids = append(kids, query.AnyIn(f, vs...))
		}
	}
	if len(groups) > 0 {
		vs := toAny(groups)
		for _, f := range groupFields {
			kids = append(kids, query.AnyIn(f, vs...))
		}
	}
	return query.Or(kids...)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Describe renders a spec as a compact diagnostic label, e.g.
// "set[and[actives,owners]]". Used in admission failure messages.
func Describe(spec *Spec) string {
	if spec == nil {
		return "set[]"
	}
	return "set[" + describeNode(spec) + "]"
}

func describeNode(spec *Spec) string {
	var parts []string
	if spec.Set != "" {
		parts = append(parts, spec.Set)
	}
	if len(spec.And) > 0 {
		inner := make([]string, len(spec.And))
		for i := range spec.And {
			inner[i] = describeNode(&spec.And[i])
		}
		parts = append(parts, "and["+strings.Join(inner, ",")+"]")
	}
	if len(spec.Or) > 0 {
		inner := make([]string, len(spec.Or))
		for i := range spec.Or {
			inner[i] = describeNode(&spec.Or[i])
		}
		parts = append(parts, "or["+strings.Join(inner, ",")+"]")
	}
	return strings.Join(parts, ",")
}
