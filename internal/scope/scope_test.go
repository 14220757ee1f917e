package scope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/query"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func compileOK(t *testing.T, spec *Spec, p Params) *query.Cond {
	t.Helper()
	p.Now = testNow
	c, err := Compile(spec, p)
	require.NoError(t, err)
	return c
}

func docAt(from, until *time.Time) map[string]any {
	r := model.Record{Visibility: model.Private, ValidFrom: from, ValidUntil: until}
	return r.Doc()
}

func TestCompile_ActivesExpiredsExclusive(t *testing.T) {
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	actives := compileOK(t, &Spec{Set: "actives"}, Params{})
	expireds := compileOK(t, &Spec{Set: "expireds"}, Params{})

	cases := []struct {
		name           string
		doc            map[string]any
		active, expire bool
	}{
		{"never started", docAt(nil, nil), false, false},
		{"open ended", docAt(&past, nil), true, false},
		{"ended", docAt(&past, &past), false, true},
		{"ending later", docAt(&past, &future), true, false},
		{"not yet started", docAt(&future, nil), false, false},
		{"until without from", docAt(nil, &past), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.active, query.Matches(tc.doc, actives))
			require.Equal(t, tc.expire, query.Matches(tc.doc, expireds))
			// no document is both active and expired under one clock capture
			require.False(t, query.Matches(tc.doc, actives) && query.Matches(tc.doc, expireds))
		})
	}
}

func TestCompile_Visibility(t *testing.T) {
	pub := (&model.Record{Visibility: model.Public}).Doc()
	priv := (&model.Record{Visibility: model.Private}).Doc()
	prot := (&model.Record{Visibility: model.Protected}).Doc()

	require.True(t, query.Matches(pub, compileOK(t, &Spec{Set: "publics"}, Params{})))
	require.False(t, query.Matches(priv, compileOK(t, &Spec{Set: "publics"}, Params{})))
	require.True(t, query.Matches(priv, compileOK(t, &Spec{Set: "privates"}, Params{})))
	require.True(t, query.Matches(prot, compileOK(t, &Spec{Set: "protecteds"}, Params{})))
}

func TestCompile_Owners(t *testing.T) {
	doc := (&model.Record{
		Visibility:  model.Private,
		OwnerUsers:  []string{"u1"},
		OwnerGroups: []string{"g1"},
	}).Doc()

	c := compileOK(t, &Spec{Set: "owners"}, Params{UserIDs: []string{"u1"}})
	require.True(t, query.Matches(doc, c))

	c = compileOK(t, &Spec{Set: "owners"}, Params{GroupIDs: []string{"g1", "g2"}})
	require.True(t, query.Matches(doc, c))

	c = compileOK(t, &Spec{Set: "owners"}, Params{UserIDs: []string{"u2"}})
	require.False(t, query.Matches(doc, c))

	// no identity at all: never matches, even ownerless records
	c = compileOK(t, &Spec{Set: "owners"}, Params{})
	require.False(t, query.Matches(doc, c))
	require.False(t, query.Matches((&model.Record{}).Doc(), c))
}

func TestCompile_Audience(t *testing.T) {
	doc := (&model.Record{
		Visibility:   model.Private,
		OwnerUsers:   []string{"owner"},
		ViewerUsers:  []string{"viewer"},
		ViewerGroups: []string{"vg"},
	}).Doc()
	spec := func(users, groups []string) *Spec {
		return &Spec{Set: "audience", Args: map[string][]string{
			ArgUserIDs:  users,
			ArgGroupIDs: groups,
		}}
	}

	require.True(t, query.Matches(doc, compileOK(t, spec([]string{"owner"}, nil), Params{})))
	require.True(t, query.Matches(doc, compileOK(t, spec([]string{"viewer"}, nil), Params{})))
	require.True(t, query.Matches(doc, compileOK(t, spec(nil, []string{"vg"}), Params{})))
	require.False(t, query.Matches(doc, compileOK(t, spec([]string{"stranger"}, nil), Params{})))

	// public records short-circuit membership entirely
	pub := (&model.Record{Visibility: model.Public}).Doc()
	require.True(t, query.Matches(pub, compileOK(t, spec([]string{"stranger"}, nil), Params{})))
	require.True(t, query.Matches(pub, compileOK(t, spec(nil, nil), Params{})))
}

func TestCompile_DayWindows(t *testing.T) {
	recent := (&model.Record{CreatedAt: testNow.AddDate(0, 0, -3), UpdatedAt: testNow.AddDate(0, 0, -3)}).Doc()
	old := (&model.Record{CreatedAt: testNow.AddDate(0, 0, -30), UpdatedAt: testNow.AddDate(0, 0, -1)}).Doc()

	createds := compileOK(t, &Spec{Set: "createds-7d"}, Params{})
	require.True(t, query.Matches(recent, createds))
	require.False(t, query.Matches(old, createds))

	updateds := compileOK(t, &Spec{Set: "updateds-7d"}, Params{})
	require.True(t, query.Matches(old, updateds))
}

func TestCompile_Combinators(t *testing.T) {
	past := testNow.Add(-time.Hour)
	doc := (&model.Record{
		Visibility: model.Public,
		ValidFrom:  &past,
		OwnerUsers: []string{"u1"},
	}).Doc()

	both := &Spec{And: []Spec{{Set: "actives"}, {Set: "publics"}}}
	require.True(t, query.Matches(doc, compileOK(t, both, Params{})))

	either := &Spec{Or: []Spec{{Set: "expireds"}, {Set: "owners"}}}
	require.True(t, query.Matches(doc, compileOK(t, either, Params{UserIDs: []string{"u1"}})))
	require.False(t, query.Matches(doc, compileOK(t, either, Params{UserIDs: []string{"u2"}})))

	// a node naming a set and carrying children conjoins them
	mixed := &Spec{Set: "publics", And: []Spec{{Set: "actives"}}}
	require.True(t, query.Matches(doc, compileOK(t, mixed, Params{})))
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(&Spec{Set: "borrowables"}, Params{})
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Contains(t, err.Error(), "borrowables")

	_, err = Compile(&Spec{}, Params{})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = Compile(&Spec{Set: "createds-d"}, Params{})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestCompile_Nil(t *testing.T) {
	c, err := Compile(nil, Params{})
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestDescribe(t *testing.T) {
	require.Equal(t, "set[actives]", Describe(&Spec{Set: "actives"}))
	require.Equal(t, "set[and[actives,owners]]",
		Describe(&Spec{And: []Spec{{Set: "actives"}, {Set: "owners"}}}))
	require.Equal(t, "set[]", Describe(nil))
}
