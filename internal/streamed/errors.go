package streamed

import "errors"

// Sentinel errors the rootio root package classifies into its DecodeError
// Kind taxonomy via errors.Is.
var (
	ErrInvalid      = errors.New("streamed: invalid value")
	ErrUnknownClass = errors.New("streamed: class-name mismatch")
)
