// Package lookup resolves URI-style references embedded in record fields.
// A directive names a property path; every well-formed reference found
// there is batch-fetched (one store read per directive per level), filtered
// through the directive's predicate and scope, ordered, paged, projected
// and inlined in place of the reference string. Directives nest, and the
// recursion carries an explicit depth counter as a safeguard against
// self-referential chains.
package lookup

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/query"
	"github.com/mvetrov/recordgate/internal/repository"
	"github.com/mvetrov/recordgate/internal/scope"
)

// Directive instructs the resolver to inline references found at Path.
// Filter semantics, in order: Where AND Scope, then Order, then Skip/Limit,
// then Fields projection. Nested Lookups apply to each resolved record.
type Directive struct {
	Path    string          `json:"path"`
	Where   *query.Cond     `json:"-"`
	Scope   *scope.Spec     `json:"scope,omitempty"`
	Order   []query.SortKey `json:"-"`
	Skip    int             `json:"skip,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Fields  []string        `json:"fields,omitempty"`
	Lookups []Directive     `json:"lookups,omitempty"`
}

// DefaultMaxDepth bounds lookup recursion when no explicit cap is set.
const DefaultMaxDepth = 8

var pathSegRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Resolver walks result documents and inlines referenced records.
type Resolver struct {
	repo     repository.Reader
	codec    model.RefCodec
	maxDepth int
	log      *zap.Logger
}

// New constructs a resolver. A zero maxDepth falls back to DefaultMaxDepth.
func New(repo repository.Reader, codec model.RefCodec, maxDepth int, log *zap.Logger) *Resolver {
	if codec == nil {
		codec = model.DefaultCodec
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{repo: repo, codec: codec, maxDepth: maxDepth, log: log}
}

// Resolve applies the directives to each document in place. Individual bad
// or dangling references never fail the call; only a malformed directive
// does. Params supply the request instant and caller identity for scope
// compilation.
func (r *Resolver) Resolve(ctx context.Context, docs []map[string]any, dirs []Directive, p scope.Params) error {
	for i := range dirs {
		if err := validate(&dirs[i]); err != nil {
			return err
		}
	}
	return r.resolve(ctx, docs, dirs, p, 1)
}

func (r *Resolver) resolve(ctx context.Context, docs []map[string]any, dirs []Directive, p scope.Params, depth int) error {
	if len(dirs) == 0 || len(docs) == 0 {
		return nil
	}
	if depth > r.maxDepth {
		r.log.Warn("lookup recursion depth exceeded, leaving references unresolved",
			zap.Int("maxDepth", r.maxDepth))
		return nil
	}
	for i := range dirs {
		if err := r.applyDirective(ctx, docs, &dirs[i], p, depth); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) applyDirective(ctx context.Context, docs []map[string]any, d *Directive, p scope.Params, depth int) error {
	locs := collect(docs, strings.Split(d.Path, "."))
	if len(locs) == 0 {
		return nil
	}

	// Gather every well-formed reference under the directive, per target
	// collection. Malformed strings are no-ops here.
	byCollection := map[string][]any{}
	seen := map[string]bool{}
	for _, loc := range locs {
		for _, s := range refStrings(loc.parent[loc.key]) {
			ref, ok := r.codec.Parse(s)
			if !ok || seen[s] {
				continue
			}
			seen[s] = true
			byCollection[ref.Collection] = append(byCollection[ref.Collection], ref.ID.String())
		}
	}

	scoped, err := scope.Compile(d.Scope, p)
	if err != nil {
		return fmt.Errorf("lookup %q: %w", d.Path, err)
	}

	// One batched read per target collection at this level.
	resolved := map[string]map[string]any{}
	var resolvedDocs []map[string]any
	for collection, ids := range byCollection {
		where := query.Merge(query.Merge(&query.Cond{Op: query.OpIn, Field: model.FieldID, Values: ids}, d.Where), scoped)
		recs, err := r.repo.Find(ctx, collection, query.Filter{Where: where})
		if err != nil {
			return err
		}
		for _, rec := range recs {
			doc := rec.Doc()
			resolved[r.codec.Format(model.Ref{Collection: collection, ID: rec.ID})] = doc
			resolvedDocs = append(resolvedDocs, doc)
		}
	}

	// Nested directives run on the shared resolved documents before they
	// are cloned into individual locations.
	if err := r.resolve(ctx, resolvedDocs, d.Lookups, p, depth+1); err != nil {
		return err
	}

	for _, loc := range locs {
		r.attach(loc, d, resolved)
	}
	return nil
}

// attach replaces the reference value at one location with resolved
// documents. Array entries that did not resolve are dropped; a scalar
// holding a well-formed reference whose target is gone becomes null, while
// a scalar that never parsed as a reference stays untouched, so callers can
// tell "not a reference" from "requested but not found".
func (r *Resolver) attach(loc location, d *Directive, resolved map[string]map[string]any) {
	switch v := loc.parent[loc.key].(type) {
	case string:
		ref, ok := r.codec.Parse(v)
		if !ok {
			return
		}
		doc, found := r.resolvedFor(ref, d, resolved)
		if !found {
			loc.parent[loc.key] = nil
			return
		}
		loc.parent[loc.key] = query.Project(doc, d.Fields)
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				continue
			}
			ref, ok := r.codec.Parse(s)
			if !ok {
				continue
			}
			if doc, found := r.resolvedFor(ref, d, resolved); found {
				out = append(out, doc)
			}
		}
		if len(d.Order) > 0 {
			query.SortDocs(out, d.Order)
		}
		lo, hi := query.Page(len(out), d.Skip, d.Limit)
		final := make([]any, 0, hi-lo)
		for _, doc := range out[lo:hi] {
			final = append(final, query.Project(doc, d.Fields))
		}
		loc.parent[loc.key] = final
	}
}

// resolvedFor looks up the batch result keyed by the canonical formatted
// reference, so codec variants of the same target coincide. Each location
// gets its own deep copy.
func (r *Resolver) resolvedFor(ref model.Ref, d *Directive, resolved map[string]map[string]any) (map[string]any, bool) {
	doc, ok := resolved[r.codec.Format(ref)]
	if !ok {
		return nil, false
	}
	return model.CloneValue(doc).(map[string]any), true
}

type location struct {
	parent map[string]any
	key    string
}

// collect walks the property path from each document root. Array segments
// fan out element-wise; structurally absent paths contribute nothing.
func collect(docs []map[string]any, segs []string) []location {
	var out []location
	for _, doc := range docs {
		out = appendLocations(out, doc, segs)
	}
	return out
}

func appendLocations(out []location, node any, segs []string) []location {
	if arr, ok := node.([]any); ok {
		for _, elem := range arr {
			out = appendLocations(out, elem, segs)
		}
		return out
	}
	m, ok := node.(map[string]any)
	if !ok {
		return out
	}
	if len(segs) == 1 {
		if _, ok := m[segs[0]]; ok {
			out = append(out, location{parent: m, key: segs[0]})
		}
		return out
	}
	next, ok := m[segs[0]]
	if !ok {
		return out
	}
	return appendLocations(out, next, segs[1:])
}

func refStrings(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func validate(d *Directive) error {
	if d.Path == "" {
		return fmt.Errorf("%w: lookup directive without path", errs.ErrValidation)
	}
	for _, seg := range strings.Split(d.Path, ".") {
		if !pathSegRe.MatchString(seg) {
			return fmt.Errorf("%w: bad lookup path %q", errs.ErrValidation, d.Path)
		}
	}
	if d.Skip < 0 || d.Limit < 0 {
		return fmt.Errorf("%w: negative skip/limit in lookup %q", errs.ErrValidation, d.Path)
	}
	for i := range d.Lookups {
		if err := validate(&d.Lookups[i]); err != nil {
			return err
		}
	}
	return nil
}
