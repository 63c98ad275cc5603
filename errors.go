package rootio

import (
	"errors"
	"fmt"
)

// Kind classifies a decode failure per the error taxonomy the engine surfaces
// to callers. There is no local recovery for any of these except the
// null-reference case handled inline by the streamed-object layer.
type Kind int

const (
	KindTruncated Kind = iota
	KindInvalid
	KindCorrupt
	KindUnknownFeature
	KindUnknownLocatorType
	KindUnknownEnvelopeType
	KindUnknownClass
	KindUnimplemented
	KindIoError
	KindCodecError
)

func (k Kind) String() string {
	switch k {
	case KindTruncated:
		return "truncated"
	case KindInvalid:
		return "invalid"
	case KindCorrupt:
		return "corrupt"
	case KindUnknownFeature:
		return "unknown-feature"
	case KindUnknownLocatorType:
		return "unknown-locator-type"
	case KindUnknownEnvelopeType:
		return "unknown-envelope-type"
	case KindUnknownClass:
		return "unknown-class"
	case KindUnimplemented:
		return "unimplemented"
	case KindIoError:
		return "io-error"
	case KindCodecError:
		return "codec-error"
	default:
		return "unknown"
	}
}

// Error is the single wrapping error type every package-level failure surfaces
// through.
type Error struct {
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Context
	}
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap attaches context to cause, returning nil if cause is nil.
func Wrap(context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Context: context, Cause: cause}
}

// DecodeError carries the structured fields a user-visible failure must
// report per the error-handling design: kind, offending position (when
// known), declared/observed lengths, and class-name/type-id context.
type DecodeError struct {
	Kind     Kind
	Position int64 // -1 when not known
	Declared int64 // -1 when not applicable
	Observed int64 // -1 when not applicable
	Class    string
	Context  string
	Cause    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Context)
	if e.Position >= 0 {
		msg += fmt.Sprintf(" (at %d)", e.Position)
	}
	if e.Declared >= 0 || e.Observed >= 0 {
		msg += fmt.Sprintf(" (declared=%d observed=%d)", e.Declared, e.Observed)
	}
	if e.Class != "" {
		msg += fmt.Sprintf(" (class=%s)", e.Class)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Decode builds a DecodeError with unset numeric fields defaulted to -1.
func Decode(kind Kind, context string) *DecodeError {
	return &DecodeError{Kind: kind, Context: context, Position: -1, Declared: -1, Observed: -1}
}

func (e *DecodeError) At(pos int64) *DecodeError {
	e.Position = pos
	return e
}

func (e *DecodeError) WithLengths(declared, observed int64) *DecodeError {
	e.Declared = declared
	e.Observed = observed
	return e
}

func (e *DecodeError) WithClass(name string) *DecodeError {
	e.Class = name
	return e
}

func (e *DecodeError) WithCause(cause error) *DecodeError {
	e.Cause = cause
	return e
}

// IsKind reports whether err is a *DecodeError of the given kind, unwrapping
// as needed.
func IsKind(err error, kind Kind) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
