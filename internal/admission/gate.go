// Package admission implements the write-time checks gating record
// creation: idempotent replay detection, uniqueness and per-kind quotas.
// The gate only reads; persisting an admitted record is the caller's job,
// and the two phases are deliberately not atomic: concurrent creates that
// each pass their own check can both land, transiently exceeding a limit
// or defeating a uniqueness rule.
package admission

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mvetrov/recordgate/internal/config"
	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/query"
	"github.com/mvetrov/recordgate/internal/repository"
	"github.com/mvetrov/recordgate/internal/scope"
)

// Upper bound on candidates fetched for in-process idempotency comparison.
const idempotencyCandidates = 64

// Gate evaluates admission rules against the store before a create.
type Gate struct {
	repo repository.Reader
	log  *zap.Logger
}

// New constructs a gate.
func New(repo repository.Reader, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{repo: repo, log: log}
}

// Admit runs the checks in order: idempotency, uniqueness, limits, so an
// idempotent replay is never misreported as a limit violation. A non-nil
// record return means "short-circuit: hand back this existing record".
// A nil, nil return means "proceed with the insert".
func (g *Gate) Admit(ctx context.Context, rules config.Resolved, rec *model.Record, now time.Time) (*model.Record, error) {
	params := scope.Params{Now: now, UserIDs: rec.OwnerUsers, GroupIDs: rec.OwnerGroups}
	doc := rec.Doc()

	existing, err := g.checkIdempotency(ctx, rules, rec, doc, params)
	if err != nil || existing != nil {
		return existing, err
	}
	if err := g.checkUniqueness(ctx, rules, rec, doc, params); err != nil {
		return nil, err
	}
	return nil, g.checkLimits(ctx, rules, rec, params)
}

func (g *Gate) checkIdempotency(
	ctx context.Context, rules config.Resolved, rec *model.Record,
	doc map[string]any, params scope.Params,
) (*model.Record, error) {
	for _, rule := range rules.Idempotency {
		scoped, err := scope.Compile(rule.Scope, params)
		if err != nil {
			return nil, err
		}
		where := query.Merge(scalarEquality(doc, rule.Fields), scoped)
		if rule.Kind != "" {
			where = query.Merge(where, query.Eq(model.FieldKind, rule.Kind))
		}
		candidates, err := g.repo.Find(ctx, rec.Collection, query.Filter{
			Where: where,
			Limit: idempotencyCandidates,
		})
		if err != nil {
			return nil, err
		}
		for _, cand := range candidates {
			if fieldsEquivalent(cand.Doc(), doc, rule.Fields) {
				g.log.Debug("idempotent create matched existing record",
					zap.String("collection", rec.Collection),
					zap.String("id", cand.ID.String()),
				)
				return cand, nil
			}
		}
	}
	return nil, nil
}

func (g *Gate) checkUniqueness(
	ctx context.Context, rules config.Resolved, rec *model.Record,
	doc map[string]any, params scope.Params,
) error {
	for _, rule := range rules.Uniqueness {
		scoped, err := scope.Compile(rule.Scope, params)
		if err != nil {
			return err
		}
		where := query.Merge(scalarEquality(doc, rule.Fields), scoped)
		if rule.Kind != "" {
			where = query.Merge(where, query.Eq(model.FieldKind, rule.Kind))
		}
		n, err := g.repo.Count(ctx, rec.Collection, where)
		if err != nil {
			return err
		}
		if n > 0 {
			return &errs.UniquenessViolation{Fields: rule.Fields, Scope: scope.Describe(rule.Scope)}
		}
	}
	return nil
}

// checkLimits evaluates rules in configuration order and reports the first
// violation only.
func (g *Gate) checkLimits(
	ctx context.Context, rules config.Resolved, rec *model.Record, params scope.Params,
) error {
	for _, rule := range rules.Limits {
		scoped, err := scope.Compile(&rule.Scope, params)
		if err != nil {
			return err
		}
		where := scoped
		if rule.Kind != "" {
			where = query.Merge(query.Eq(model.FieldKind, rule.Kind), scoped)
		}
		n, err := g.repo.Count(ctx, rec.Collection, where)
		if err != nil {
			return err
		}
		if n >= int64(rule.Limit) {
			return &errs.LimitExceeded{Scope: scope.Describe(&rule.Scope), Limit: rule.Limit}
		}
	}
	return nil
}

// scalarEquality builds the store-side equality predicate over the rule's
// scalar fields, using the incoming record's own values. Array-valued
// fields are excluded here; for idempotency rules they are verified
// in-process as unordered sets.
func scalarEquality(doc map[string]any, fields []string) *query.Cond {
	var kids []*query.Cond
	for _, f := range fields {
		v, ok := query.Path(doc, f)
		switch {
		case !ok || v == nil:
			kids = append(kids, query.Null(f))
		case isArray(v):
			// compared in-process, or skipped by design for uniqueness
		default:
			kids = append(kids, query.Eq(f, v))
		}
	}
	return query.And(kids...)
}

// fieldsEquivalent verifies every rule field, including array fields as
// order-insensitive sets and instants by exact value.
func fieldsEquivalent(a, b map[string]any, fields []string) bool {
	for _, f := range fields {
		va, _ := query.Path(a, f)
		vb, _ := query.Path(b, f)
		if !valueEquivalent(va, vb) {
			return false
		}
	}
	return true
}

func valueEquivalent(a, b any) bool {
	if isArray(a) || isArray(b) {
		return setEqual(normalizeSet(a), normalizeSet(b))
	}
	if ta, ok := asInstant(a); ok {
		tb, ok := asInstant(b)
		return ok && ta.Equal(tb)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func isArray(v any) bool {
	switch v.(type) {
	case []any, []string:
		return true
	}
	return false
}

func normalizeSet(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
	case []string:
		out = append(out, t...)
	case nil:
	default:
		out = append(out, fmt.Sprint(t))
	}
	sort.Strings(out)
	return out
}

func setEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func asInstant(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}
