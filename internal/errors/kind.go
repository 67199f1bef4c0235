package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure at the engine boundary. Compute conditions
// (insufficient history, zero variance) are never errors; they are neutral
// values in the data model.
type Kind uint16

const (
	KindUnknown Kind = iota
	KindValidation
	KindConsistency
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConsistency:
		return "consistency"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Kind sentinels. A kinded error matches its sentinel through errors.Is, so
// callers branch on taxonomy without knowing the concrete message.
var (
	ErrValidation  = &kindSentinel{kind: KindValidation}
	ErrConsistency = &kindSentinel{kind: KindConsistency}
	ErrUnavailable = &kindSentinel{kind: KindUnavailable}
)

type kindSentinel struct {
	kind Kind
}

func (s *kindSentinel) Error() string {
	return s.kind.String() + " error"
}

type kindedError struct {
	kind Kind
	err  error
}

func (e *kindedError) Error() string {
	return e.kind.String() + ": " + e.err.Error()
}

func (e *kindedError) Unwrap() error {
	return e.err
}

func (e *kindedError) Is(target error) bool {
	s, ok := target.(*kindSentinel)
	return ok && s.kind == e.kind
}

// Validationf builds a validation error. Rejected at the boundary before
// touching aggregate state.
func Validationf(format string, args ...any) error {
	return &kindedError{kind: KindValidation, err: fmt.Errorf(format, args...)}
}

// Consistencyf builds a consistency error: duplicate trade-id, out-of-order
// day submission, or a dangling reference.
func Consistencyf(format string, args ...any) error {
	return &kindedError{kind: KindConsistency, err: fmt.Errorf(format, args...)}
}

// Unavailablef builds an unavailability error for an unreachable durable
// store. Fatal to the write; never blocks reads of published state.
func Unavailablef(format string, args ...any) error {
	return &kindedError{kind: KindUnavailable, err: fmt.Errorf(format, args...)}
}

// Unavailable wraps err as an unavailability error, preserving the cause.
func Unavailable(err error, text string) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: KindUnavailable, err: Wrap(err, text)}
}

// KindOf extracts the kind of an error, walking the wrap chain.
func KindOf(err error) Kind {
	var ke *kindedError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConsistency reports whether err is a consistency error.
func IsConsistency(err error) bool {
	return errors.Is(err, ErrConsistency)
}

// IsUnavailable reports whether err is an unavailability error.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Is re-exports errors.Is so callers of this package do not need to import
// the standard library package under an alias.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
