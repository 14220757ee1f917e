package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	require.Equal(t, CodeNotFound, Code(ErrNotFound))
	require.Equal(t, CodeValidation, Code(fmt.Errorf("%w: empty kind", ErrValidation)))
	require.Equal(t, CodeLimitExceeded, Code(&LimitExceeded{Scope: "set[actives]", Limit: 1}))
	require.Equal(t, CodeUniqueness, Code(&UniquenessViolation{Fields: []string{"slug"}}))
	require.Equal(t, CodeImmutable, Code(&Immutable{Field: "kind"}))
	require.Equal(t, "", Code(fmt.Errorf("plain failure")))
	require.Equal(t, "", Code(nil))
}

func TestTypedErrors(t *testing.T) {
	limited := &LimitExceeded{Scope: "set[actives]", Limit: 2}
	require.ErrorIs(t, limited, ErrLimitExceeded)
	require.Contains(t, limited.Error(), "2")
	require.Contains(t, limited.Error(), "set[actives]")

	dup := &UniquenessViolation{Fields: []string{"slug"}, Scope: "set[actives]"}
	require.ErrorIs(t, dup, ErrUniqueness)
	require.Contains(t, dup.Error(), "slug")

	imm := &Immutable{Field: "kind", Current: "book"}
	require.ErrorIs(t, imm, ErrImmutable)
	require.Contains(t, imm.Error(), "kind")

	// typed errors do not match each other's sentinels
	require.NotErrorIs(t, limited, ErrUniqueness)
}
