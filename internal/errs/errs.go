// Package errs contains sentinel and typed errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a rejected payload or request shape.
	ErrValidation = errors.New("validation failed")

	// ErrImmutable indicates an attempted change of a field fixed at creation.
	ErrImmutable = errors.New("immutable field")

	// ErrUniqueness indicates an admission uniqueness rule matched an existing record.
	ErrUniqueness = errors.New("uniqueness violation")

	// ErrLimitExceeded indicates an admission limit rule was hit.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrInvalidRef indicates a reference value that cannot be parsed.
	ErrInvalidRef = errors.New("invalid reference")

	// ErrRefConstraint indicates a reference pointing outside its allowed collections.
	ErrRefConstraint = errors.New("reference constraint violation")
)

// Machine-readable codes carried to the transport layer.
const (
	CodeValidation    = "validation_failed"
	CodeImmutable     = "immutable_field"
	CodeNotFound      = "not_found"
	CodeUniqueness    = "uniqueness_violation"
	CodeLimitExceeded = "limit_exceeded"
	CodeInvalidRef    = "invalid_ref"
	CodeRefConstraint = "ref_constraint"
)

// Code maps an error to its stable code, or "" for unclassified errors.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrImmutable):
		return CodeImmutable
	case errors.Is(err, ErrUniqueness):
		return CodeUniqueness
	case errors.Is(err, ErrLimitExceeded):
		return CodeLimitExceeded
	case errors.Is(err, ErrInvalidRef):
		return CodeInvalidRef
	case errors.Is(err, ErrRefConstraint):
		return CodeRefConstraint
	case errors.Is(err, ErrValidation):
		return CodeValidation
	default:
		return ""
	}
}

// Immutable reports an attempt to change a creation-time field.
// The current stored value is named so the caller sees what was kept.
type Immutable struct {
	Field   string
	Current any
}

func (e *Immutable) Error() string {
	return fmt.Sprintf("field %q is immutable (current value %v)", e.Field, e.Current)
}

// Is matches the ErrImmutable sentinel.
func (e *Immutable) Is(target error) bool { return target == ErrImmutable }

// UniquenessViolation carries the compiled scope description that matched.
type UniquenessViolation struct {
	Fields []string
	Scope  string
}

func (e *UniquenessViolation) Error() string {
	if e.Scope == "" {
		return fmt.Sprintf("uniqueness violation on fields %v", e.Fields)
	}
	return fmt.Sprintf("uniqueness violation on fields %v within %s", e.Fields, e.Scope)
}

// Is matches the ErrUniqueness sentinel.
func (e *UniquenessViolation) Is(target error) bool { return target == ErrUniqueness }

// LimitExceeded carries the violated rule's scope and numeric limit.
type LimitExceeded struct {
	Scope string
	Limit uint
}

func (e *LimitExceeded) Error() string {
	return fmt.Sprintf("limit %d exceeded for %s", e.Limit, e.Scope)
}

// Is matches the ErrLimitExceeded sentinel.
func (e *LimitExceeded) Is(target error) bool { return target == ErrLimitExceeded }
