package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mvetrov/recordgate/internal/config"
	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/repository/memory"
	"github.com/mvetrov/recordgate/internal/scope"
)

var now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newBook(name string, active bool) *model.Record {
	rec := &model.Record{
		Collection: "books",
		Kind:       "book",
		Name:       name,
		Slug:       model.Slugify(name),
		Visibility: model.Private,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	if active {
		from := now.Add(-time.Hour)
		rec.ValidFrom = &from
	}
	return rec
}

func activeBookLimit(limit uint) config.Resolved {
	return config.Resolved{Limits: []config.ResolvedLimit{{
		LimitRule: config.LimitRule{Scope: scope.Spec{Set: "actives"}, Limit: limit},
		Kind:      "book",
	}}}
}

func TestAdmit_LimitOnActives(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gate := New(store, nil)
	rules := activeBookLimit(1)

	// empty store: first active create is admitted
	existing, err := gate.Admit(ctx, rules, newBook("one", true), now)
	require.NoError(t, err)
	require.Nil(t, existing)
	require.NoError(t, store.Insert(ctx, newBook("one", true)))

	// one active book already exists: reject and report the limit
	_, err = gate.Admit(ctx, rules, newBook("two", true), now)
	var limited *errs.LimitExceeded
	require.ErrorAs(t, err, &limited)
	require.ErrorIs(t, err, errs.ErrLimitExceeded)
	require.Equal(t, uint(1), limited.Limit)
	require.Equal(t, "set[actives]", limited.Scope)

	// inactive creates are outside the scope and pass
	existing, err = gate.Admit(ctx, rules, newBook("draft", false), now)
	require.NoError(t, err)
	require.Nil(t, existing)
}

func TestAdmit_KindScopedLimitIgnoresOtherKinds(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gate := New(store, nil)

	magazine := newBook("glossy", true)
	magazine.Kind = "magazine"
	require.NoError(t, store.Insert(ctx, magazine))

	existing, err := gate.Admit(ctx, activeBookLimit(1), newBook("one", true), now)
	require.NoError(t, err)
	require.Nil(t, existing)
}

func TestAdmit_FirstLimitViolationWins(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gate := New(store, nil)
	require.NoError(t, store.Insert(ctx, newBook("one", true)))

	rules := config.Resolved{Limits: []config.ResolvedLimit{
		{LimitRule: config.LimitRule{Scope: scope.Spec{Set: "actives"}, Limit: 1}},
		{LimitRule: config.LimitRule{Scope: scope.Spec{Set: "createds-7d"}, Limit: 1}},
	}}

	_, err := gate.Admit(ctx, rules, newBook("two", true), now)
	var limited *errs.LimitExceeded
	require.ErrorAs(t, err, &limited)
	require.Equal(t, "set[actives]", limited.Scope)
}

func TestAdmit_Uniqueness(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gate := New(store, nil)
	require.NoError(t, store.Insert(ctx, newBook("Dune", true)))

	rules := config.Resolved{Uniqueness: []config.ResolvedUniqueness{{
		UniquenessRule: config.UniquenessRule{
			Fields: []string{model.FieldSlug},
			Scope:  &scope.Spec{Set: "actives"},
		},
	}}}

	// same slug inside the scope: rejected
	_, err := gate.Admit(ctx, rules, newBook("Dune", true), now)
	var dup *errs.UniquenessViolation
	require.ErrorAs(t, err, &dup)
	require.ErrorIs(t, err, errs.ErrUniqueness)
	require.Equal(t, []string{model.FieldSlug}, dup.Fields)

	// different slug: fine
	existing, err := gate.Admit(ctx, rules, newBook("Messiah", true), now)
	require.NoError(t, err)
	require.Nil(t, existing)

	// uniqueness is scope-relative: an expired duplicate does not block
	expired := newBook("Hyperion", true)
	until := now.Add(-time.Minute)
	expired.ValidUntil = &until
	require.NoError(t, store.Insert(ctx, expired))
	existing, err = gate.Admit(ctx, rules, newBook("Hyperion", true), now)
	require.NoError(t, err)
	require.Nil(t, existing)
}

func TestAdmit_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gate := New(store, nil)

	prior := newBook("Dune", true)
	prior.OwnerUsers = []string{"u1", "u2"}
	prior.Version = 3
	require.NoError(t, store.Insert(ctx, prior))

	rules := config.Resolved{Idempotency: []config.ResolvedIdempotency{{
		IdempotencyRule: config.IdempotencyRule{
			Fields: []string{model.FieldName, model.FieldOwnerUsers},
		},
	}}}

	// array fields compare as unordered sets
	replay := newBook("Dune", true)
	replay.OwnerUsers = []string{"u2", "u1"}
	existing, err := gate.Admit(ctx, rules, replay, now)
	require.NoError(t, err)
	require.NotNil(t, existing)
	require.Equal(t, prior.ID, existing.ID)
	require.EqualValues(t, 3, existing.Version) // replay leaves the record untouched

	// a differing owner set is a genuine new create
	fresh := newBook("Dune", true)
	fresh.OwnerUsers = []string{"u1"}
	existing, err = gate.Admit(ctx, rules, fresh, now)
	require.NoError(t, err)
	require.Nil(t, existing)
}

func TestAdmit_IdempotencyBeforeLimits(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gate := New(store, nil)

	prior := newBook("Dune", true)
	require.NoError(t, store.Insert(ctx, prior))

	rules := activeBookLimit(1)
	rules.Idempotency = []config.ResolvedIdempotency{{
		IdempotencyRule: config.IdempotencyRule{Fields: []string{model.FieldName}},
	}}

	// the limit is already at capacity, but the replay must still resolve
	// to the existing record instead of a limit error
	existing, err := gate.Admit(ctx, rules, newBook("Dune", true), now)
	require.NoError(t, err)
	require.NotNil(t, existing)
	require.Equal(t, prior.ID, existing.ID)
}

func TestValueEquivalent(t *testing.T) {
	require.True(t, valueEquivalent([]any{"a", "b"}, []string{"b", "a"}))
	require.False(t, valueEquivalent([]any{"a"}, []any{"a", "a"}))
	require.True(t, valueEquivalent("2026-08-01T12:00:00Z", now))
	require.False(t, valueEquivalent("2026-08-01T12:00:01Z", now))
	require.True(t, valueEquivalent(nil, nil))
	require.False(t, valueEquivalent(nil, "x"))
	require.True(t, valueEquivalent(int64(5), 5.0))
}
