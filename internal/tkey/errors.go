package tkey

import "errors"

var (
	// ErrInvalid flags a value outside its expected domain (bad version,
	// negative count, etc).
	ErrInvalid = errors.New("tkey: invalid value")
	// ErrCorrupt flags a declared/observed length mismatch.
	ErrCorrupt = errors.New("tkey: corrupt")
	// ErrUnknownClass flags a key whose class name does not match the
	// expected class name in ReadObjectAs's strict mode.
	ErrUnknownClass = errors.New("tkey: unknown class")
)
