package envelope

import "errors"

// Sentinel errors the rootio root package classifies into its DecodeError
// Kind taxonomy via errors.Is.
var (
	// ErrUnknownLocatorType flags a non-standard locator whose type tag has
	// no reader.
	ErrUnknownLocatorType = errors.New("envelope: unknown locator type")
	// ErrUnknownType flags an envelope type ID outside the registered set
	// (reserved/header/footer/page-list).
	ErrUnknownType = errors.New("envelope: unknown envelope type")
	// ErrCorrupt flags a declared/observed length or checksum mismatch.
	ErrCorrupt = errors.New("envelope: corrupt")
)
