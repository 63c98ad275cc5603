// Package envelope implements the Locator/EnvelopeLink indirection layer and
// the typed length+checksum envelope wrapper RNTuple's header, footer, and
// page-list payloads are carried in.
package envelope

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/rootio/internal/iobuf"
)

// Locator describes an on-storage byte range: either the common Standard
// form or the extensible Large form. Any other type tag is a hard error
// (ErrUnknownLocatorType).
type Locator interface {
	// ByteSize is the number of bytes this locator's range occupies on
	// storage (may differ from an envelope's declared uncompressed length
	// only when compression is in use).
	ByteSize() uint64
	ByteOffset() uint64
}

// StandardLocator is the common in-file locator: a non-negative i32 size
// followed by a u64 offset.
type StandardLocator struct {
	Size   uint32
	Offset uint64
}

func (l StandardLocator) ByteSize() uint64   { return uint64(l.Size) }
func (l StandardLocator) ByteOffset() uint64 { return l.Offset }

// LargeLocator is the non-standard (type 0x01) locator for ranges whose size
// doesn't fit in 32 bits: a u64 size followed by a u64 offset.
type LargeLocator struct {
	Size   uint64
	Offset uint64
}

func (l LargeLocator) ByteSize() uint64   { return l.Size }
func (l LargeLocator) ByteOffset() uint64 { return l.Offset }

const largeLocatorType = 0x01

// ReadLocator reads a Locator from buf. It peeks a signed 32-bit value: a
// non-negative value means a Standard locator; a negative value means the
// 32-bit word packs (size_of_locator:u16, reserved:u8, type:u7, 1:u1),
// where the forced top bit is what makes the word negative. Dispatch is on
// the 7-bit type; currently only 0x01 (Large) is recognized.
func ReadLocator(buf *iobuf.Buffer) (Locator, *iobuf.Buffer, error) {
	raw, err := buf.Peek(4)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: peeking locator discriminant: %w", err)
	}
	word := int32(binary.LittleEndian.Uint32(raw))
	if word >= 0 {
		vals, rest, err := buf.Unpack(binary.LittleEndian, "iQ")
		if err != nil {
			return nil, nil, fmt.Errorf("envelope: reading standard locator: %w", err)
		}
		if vals[0] < 0 {
			return nil, nil, fmt.Errorf("envelope: standard locator size must be non-negative, got %d", vals[0])
		}
		return StandardLocator{Size: uint32(vals[0]), Offset: uint64(vals[1])}, rest, nil
	}

	uword := uint32(word)
	typ := byte(uword>>24) & 0x7F
	switch typ {
	case largeLocatorType:
		_, rest, err := buf.Unpack(binary.LittleEndian, "I")
		if err != nil {
			return nil, nil, fmt.Errorf("envelope: consuming large locator header: %w", err)
		}
		vals, rest, err := rest.Unpack(binary.LittleEndian, "QQ")
		if err != nil {
			return nil, nil, fmt.Errorf("envelope: reading large locator body: %w", err)
		}
		return LargeLocator{Size: uint64(vals[0]), Offset: uint64(vals[1])}, rest, nil
	default:
		return nil, nil, fmt.Errorf("%w: tag 0x%02x", ErrUnknownLocatorType, typ)
	}
}

// EnvelopeLink is an envelope-link: an uncompressed byte length plus the
// Locator that resolves it to a byte range.
type EnvelopeLink struct {
	Length  uint64
	Locator Locator
}

// ReadEnvelopeLink reads an EnvelopeLink: a little-endian u64 length
// followed by a Locator.
func ReadEnvelopeLink(buf *iobuf.Buffer) (EnvelopeLink, *iobuf.Buffer, error) {
	vals, rest, err := buf.Unpack(binary.LittleEndian, "Q")
	if err != nil {
		return EnvelopeLink{}, nil, fmt.Errorf("envelope: reading envelope link length: %w", err)
	}
	loc, rest, err := ReadLocator(rest)
	if err != nil {
		return EnvelopeLink{}, nil, fmt.Errorf("envelope: reading envelope link locator: %w", err)
	}
	return EnvelopeLink{Length: uint64(vals[0]), Locator: loc}, rest, nil
}

// GetBuffer fetches the byte range the link's Locator describes.
func (l EnvelopeLink) GetBuffer(fetch iobuf.Fetch) (*iobuf.Buffer, error) {
	buf, err := fetch(l.Locator.ByteOffset(), l.Locator.ByteSize())
	if err != nil {
		return nil, fmt.Errorf("envelope: fetching envelope link range: %w", err)
	}
	return buf, nil
}
