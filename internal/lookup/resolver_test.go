package lookup

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/query"
	"github.com/mvetrov/recordgate/internal/repository/memory"
	"github.com/mvetrov/recordgate/internal/scope"
)

var now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func store(t *testing.T, recs ...*model.Record) *memory.Store {
	t.Helper()
	s := memory.New()
	for _, rec := range recs {
		require.NoError(t, s.Insert(context.Background(), rec))
	}
	return s
}

func author(name string, fields map[string]any) *model.Record {
	return &model.Record{
		ID:         uuid.Must(uuid.NewV4()),
		Collection: "authors",
		Kind:       "author",
		Name:       name,
		Visibility: model.Public,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
		Fields:     fields,
	}
}

func refTo(rec *model.Record) string {
	return model.DefaultCodec.Format(model.Ref{Collection: rec.Collection, ID: rec.ID})
}

func TestResolve_ArrayMixedEntries(t *testing.T) {
	ctx := context.Background()
	herbert := author("Herbert", nil)
	simmons := author("Simmons", nil)
	s := store(t, herbert, simmons)
	r := New(s, nil, 0, nil)

	dangling := model.DefaultCodec.Format(model.Ref{Collection: "authors", ID: uuid.Must(uuid.NewV4())})
	doc := map[string]any{
		"authors": []any{"not a ref", dangling, refTo(herbert), refTo(simmons)},
	}

	err := r.Resolve(ctx, []map[string]any{doc}, []Directive{{Path: "authors"}}, scope.Params{Now: now})
	require.NoError(t, err)

	// only the two entries that parsed and resolved survive
	got, ok := doc["authors"].([]any)
	require.True(t, ok)
	require.Len(t, got, 2)
	names := []string{
		got[0].(map[string]any)["name"].(string),
		got[1].(map[string]any)["name"].(string),
	}
	require.ElementsMatch(t, []string{"Herbert", "Simmons"}, names)
}

func TestResolve_ScalarSemantics(t *testing.T) {
	ctx := context.Background()
	herbert := author("Herbert", nil)
	s := store(t, herbert)
	r := New(s, nil, 0, nil)

	dangling := model.DefaultCodec.Format(model.Ref{Collection: "authors", ID: uuid.Must(uuid.NewV4())})
	docs := []map[string]any{
		{"author": refTo(herbert)},
		{"author": dangling},
		{"author": "just a plain string"},
	}

	err := r.Resolve(ctx, docs, []Directive{{Path: "author"}}, scope.Params{Now: now})
	require.NoError(t, err)

	resolved, ok := docs[0]["author"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Herbert", resolved["name"])

	// well-formed but gone: nulled, so the caller sees the reference failed
	require.Nil(t, docs[1]["author"])
	// not a reference at all: untouched
	require.Equal(t, "just a plain string", docs[2]["author"])
}

func TestResolve_OrderSkipLimitFields(t *testing.T) {
	ctx := context.Background()
	a := author("Asimov", map[string]any{"born": 1920.0})
	b := author("Herbert", map[string]any{"born": 1920.0})
	c := author("Simmons", map[string]any{"born": 1948.0})
	s := store(t, a, b, c)
	r := New(s, nil, 0, nil)

	doc := map[string]any{"authors": []any{refTo(c), refTo(a), refTo(b)}}
	err := r.Resolve(ctx, []map[string]any{doc}, []Directive{{
		Path:   "authors",
		Order:  []query.SortKey{{Field: "born"}, {Field: "name", Desc: true}},
		Skip:   1,
		Limit:  1,
		Fields: []string{"name"},
	}}, scope.Params{Now: now})
	require.NoError(t, err)

	got := doc["authors"].([]any)
	require.Len(t, got, 1)
	// sorted (Herbert, Asimov, Simmons), skip 1 -> Asimov, projected to name
	require.Equal(t, map[string]any{"name": "Asimov"}, got[0].(map[string]any))
}

func TestResolve_WhereAndScope(t *testing.T) {
	ctx := context.Background()
	pub := author("Public", nil)
	priv := author("Private", nil)
	priv.Visibility = model.Private
	s := store(t, pub, priv)
	r := New(s, nil, 0, nil)

	doc := map[string]any{"authors": []any{refTo(pub), refTo(priv)}}
	err := r.Resolve(ctx, []map[string]any{doc}, []Directive{{
		Path:  "authors",
		Scope: &scope.Spec{Set: "publics"},
	}}, scope.Params{Now: now})
	require.NoError(t, err)

	got := doc["authors"].([]any)
	require.Len(t, got, 1)
	require.Equal(t, "Public", got[0].(map[string]any)["name"])

	doc = map[string]any{"authors": []any{refTo(pub), refTo(priv)}}
	err = r.Resolve(ctx, []map[string]any{doc}, []Directive{{
		Path:  "authors",
		Where: query.Eq(model.FieldName, "Private"),
	}}, scope.Params{Now: now})
	require.NoError(t, err)
	require.Len(t, doc["authors"].([]any), 1)
}

func TestResolve_NestedDirectives(t *testing.T) {
	ctx := context.Background()
	herbert := author("Herbert", nil)
	book := &model.Record{
		ID:         uuid.Must(uuid.NewV4()),
		Collection: "books",
		Kind:       "book",
		Name:       "Dune",
		Visibility: model.Public,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
		Fields:     map[string]any{"author": refTo(herbert)},
	}
	s := store(t, herbert, book)
	r := New(s, nil, 0, nil)

	doc := map[string]any{"favorite": refTo(book)}
	err := r.Resolve(ctx, []map[string]any{doc}, []Directive{{
		Path:    "favorite",
		Lookups: []Directive{{Path: "author"}},
	}}, scope.Params{Now: now})
	require.NoError(t, err)

	fav := doc["favorite"].(map[string]any)
	require.Equal(t, "Dune", fav["name"])
	nested, ok := fav["author"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Herbert", nested["name"])
}

func TestResolve_DepthGuardOnCycle(t *testing.T) {
	ctx := context.Background()
	a := author("A", nil)
	b := author("B", nil)
	a.Fields = map[string]any{"peer": refTo(b)}
	b.Fields = map[string]any{"peer": refTo(a)}
	s := store(t, a, b)
	r := New(s, nil, 3, nil)

	// a chain of peer lookups over mutually referencing records: the depth
	// counter cuts resolution off past the cap
	dirs := []Directive{{Path: "peer", Lookups: []Directive{{Path: "peer", Lookups: []Directive{{Path: "peer", Lookups: []Directive{{Path: "peer"}}}}}}}}

	doc := map[string]any{"peer": refTo(a)}
	err := r.Resolve(ctx, []map[string]any{doc}, dirs, scope.Params{Now: now})
	require.NoError(t, err)

	// levels within the cap resolved, the level past it stayed a string
	l1 := doc["peer"].(map[string]any)
	l2 := l1["peer"].(map[string]any)
	l3 := l2["peer"].(map[string]any)
	_, isString := l3["peer"].(string)
	require.True(t, isString)
}

func TestResolve_DirectiveValidation(t *testing.T) {
	r := New(memory.New(), nil, 0, nil)
	p := scope.Params{Now: now}
	docs := []map[string]any{{"a": "b"}}

	err := r.Resolve(context.Background(), docs, []Directive{{Path: ""}}, p)
	require.ErrorIs(t, err, errs.ErrValidation)

	err = r.Resolve(context.Background(), docs, []Directive{{Path: "a..b"}}, p)
	require.ErrorIs(t, err, errs.ErrValidation)

	err = r.Resolve(context.Background(), docs, []Directive{{Path: "a", Skip: -1}}, p)
	require.ErrorIs(t, err, errs.ErrValidation)

	// nested directives are validated up front too
	err = r.Resolve(context.Background(), docs, []Directive{{Path: "a", Lookups: []Directive{{Path: "x y"}}}}, p)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestResolve_PathFanOut(t *testing.T) {
	ctx := context.Background()
	herbert := author("Herbert", nil)
	s := store(t, herbert)
	r := New(s, nil, 0, nil)

	doc := map[string]any{
		"chapters": []any{
			map[string]any{"contributor": refTo(herbert)},
			map[string]any{"contributor": "plain"},
			map[string]any{"title": "no contributor"},
		},
	}
	err := r.Resolve(ctx, []map[string]any{doc}, []Directive{{Path: "chapters.contributor"}}, scope.Params{Now: now})
	require.NoError(t, err)

	chapters := doc["chapters"].([]any)
	first := chapters[0].(map[string]any)
	require.Equal(t, "Herbert", first["contributor"].(map[string]any)["name"])
	require.Equal(t, "plain", chapters[1].(map[string]any)["contributor"])
}
