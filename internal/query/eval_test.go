package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatches_Leaves(t *testing.T) {
	doc := map[string]any{
		"kind":    "book",
		"pages":   412.0,
		"tags":    []any{"sf", "classic"},
		"deleted": nil,
		"meta":    map[string]any{"lang": "en"},
	}

	require.True(t, Matches(doc, nil))
	require.True(t, Matches(doc, Eq("kind", "book")))
	require.False(t, Matches(doc, Eq("kind", "author")))
	require.True(t, Matches(doc, Eq("meta.lang", "en")))
	require.True(t, Matches(doc, Ne("kind", "author")))
	// absent field: neq matches, eq does not
	require.True(t, Matches(doc, Ne("missing", "x")))
	require.False(t, Matches(doc, Eq("missing", "x")))

	require.True(t, Matches(doc, Gt("pages", 400)))
	require.False(t, Matches(doc, Gt("pages", 412)))
	require.True(t, Matches(doc, Gte("pages", 412)))
	require.True(t, Matches(doc, Lt("pages", 500)))
	require.True(t, Matches(doc, Lte("pages", 412.0)))
	// incomparable operands never match
	require.False(t, Matches(doc, Gt("kind", 5)))

	require.True(t, Matches(doc, In("kind", "article", "book")))
	require.False(t, Matches(doc, In("kind", "article")))
	require.True(t, Matches(doc, AnyIn("tags", "classic", "noir")))
	require.False(t, Matches(doc, AnyIn("tags", "noir")))
	require.False(t, Matches(doc, AnyIn("kind", "book"))) // scalar is not an array

	require.True(t, Matches(doc, Null("deleted")))
	require.True(t, Matches(doc, Null("missing")))
	require.False(t, Matches(doc, Null("kind")))
	require.True(t, Matches(doc, NotNull("kind")))
	require.False(t, Matches(doc, NotNull("deleted")))
}

func TestMatches_Combinators(t *testing.T) {
	doc := map[string]any{"a": 1.0, "b": 2.0}

	require.True(t, Matches(doc, And(Eq("a", 1), Eq("b", 2))))
	require.False(t, Matches(doc, And(Eq("a", 1), Eq("b", 3))))
	require.True(t, Matches(doc, Or(Eq("a", 9), Eq("b", 2))))
	require.False(t, Matches(doc, Or(Eq("a", 9), Eq("b", 9))))

	// empty groups: conjunction is vacuously true, disjunction false
	require.True(t, Matches(doc, And()))
	require.False(t, Matches(doc, Or()))
}

func TestMatches_TimeCoercion(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	doc := map[string]any{"validFrom": "2026-07-01T00:00:00Z"}

	require.True(t, Matches(doc, Lte("validFrom", now)))
	require.False(t, Matches(doc, Gt("validFrom", now)))
	require.True(t, Matches(doc, Eq("validFrom", time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))))
}

func TestMerge(t *testing.T) {
	a, b := Eq("x", 1), Eq("y", 2)

	require.Nil(t, Merge(nil, nil))
	require.Same(t, a, Merge(a, nil))
	require.Same(t, b, Merge(nil, b))

	m := Merge(a, b)
	require.Equal(t, OpAnd, m.Op)
	require.Len(t, m.Kids, 2)

	// conjunction base flattens instead of nesting
	m2 := Merge(m, Eq("z", 3))
	require.Equal(t, OpAnd, m2.Op)
	require.Len(t, m2.Kids, 3)
}

func TestSortDocsAndPage(t *testing.T) {
	docs := []map[string]any{
		{"name": "b", "rank": 2.0},
		{"name": "a", "rank": 2.0},
		{"name": "c", "rank": 1.0},
	}
	SortDocs(docs, []SortKey{{Field: "rank"}, {Field: "name", Desc: true}})
	require.Equal(t, "c", docs[0]["name"])
	require.Equal(t, "b", docs[1]["name"])
	require.Equal(t, "a", docs[2]["name"])

	lo, hi := Page(3, 1, 1)
	require.Equal(t, 1, lo)
	require.Equal(t, 2, hi)

	lo, hi = Page(3, 5, 10)
	require.Equal(t, 3, lo)
	require.Equal(t, 3, hi)

	lo, hi = Page(3, 0, 0) // zero limit means unbounded
	require.Equal(t, 0, lo)
	require.Equal(t, 3, hi)
}

func TestProject(t *testing.T) {
	doc := map[string]any{"id": "1", "name": "Dune", "pages": 412.0}

	require.Equal(t, doc, Project(doc, nil))

	got := Project(doc, []string{"name", "missing"})
	require.Equal(t, map[string]any{"name": "Dune"}, got)
}
