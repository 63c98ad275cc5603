package rntuple

import "errors"

var (
	// ErrUnknownFeature flags a non-zero feature-flag bit this reader does
	// not implement.
	ErrUnknownFeature = errors.New("rntuple: unknown feature flag")
	// ErrCorrupt flags a cross-checksum or structural mismatch between
	// envelopes.
	ErrCorrupt = errors.New("rntuple: corrupt")
)
