// Package fault classifies harness errors by the phase that produced them.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies which part of the harness an error belongs to.
type Kind int

const (
	// Unknown is reported for errors that carry no Kind.
	Unknown Kind = iota

	// Configuration errors abort the whole run before any scenario starts.
	Configuration

	// Scaffold errors are fatal to a single scenario.
	Scaffold

	// Invocation errors mean the build tool could not be started or timed out.
	Invocation

	// Assertion errors mean at least one expectation was unmet.
	Assertion
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Scaffold:
		return "scaffold"
	case Invocation:
		return "invocation"
	case Assertion:
		return "assertion"
	default:
		return "unknown"
	}
}

// Error is an error tagged with its Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with kind and op.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted message as the wrapped error.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
