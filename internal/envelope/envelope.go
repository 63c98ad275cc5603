package envelope

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/scigolib/rootio/internal/iobuf"
)

// TypeID identifies an envelope's payload kind, packed into the low 16 bits
// of its leading length+type word.
type TypeID uint16

const (
	TypeReserved TypeID = 0x00
	TypeHeader   TypeID = 0x01
	TypeFooter   TypeID = 0x02
	TypePageList TypeID = 0x03
)

// Header is the common envelope framing every variant shares: the typed
// length+checksum wrapper around each payload kind.
type Header struct {
	Type     TypeID
	Length   uint64
	Checksum uint64
	Unknown  []byte
}

// PayloadReader reads an envelope's typed payload, given the declared type
// and a buffer holding the bytes after the length+type word up to (not
// including) the trailing checksum.
type PayloadReader[Payload any] func(typ TypeID, buf *iobuf.Buffer) (Payload, *iobuf.Buffer, error)

// Read implements the envelope read contract: length+type word, type
// check, payload, opaque unknown tail, trailing checksum. The trailing
// checksum word is stored for the cross-checks between envelopes; it is
// recomputed and verified only when a digest has been installed with
// SetChecksum (see VerifyChecksum).
func Read[Payload any](buf *iobuf.Buffer, expected TypeID, readPayload PayloadReader[Payload]) (Header, Payload, *iobuf.Buffer, error) {
	var zero Payload
	start := buf.RelPos()
	checksumInput, err := buf.Peek(buf.Len())
	if err != nil {
		return Header{}, zero, nil, fmt.Errorf("envelope: peeking full buffer for checksum: %w", err)
	}

	vals, rest, err := buf.Unpack(binary.LittleEndian, "Q")
	if err != nil {
		return Header{}, zero, nil, fmt.Errorf("envelope: reading length+type word: %w", err)
	}
	word := uint64(vals[0])
	typ := TypeID(word & 0xFFFF)
	length := word >> 16

	if typ > TypePageList {
		return Header{}, zero, nil, fmt.Errorf("%w: type 0x%02x", ErrUnknownType, typ)
	}
	if typ != expected {
		return Header{}, zero, nil, fmt.Errorf("%w: expected type 0x%02x, got 0x%02x", ErrCorrupt, expected, typ)
	}
	if length < 16 || int(length-8) != rest.Len() {
		return Header{}, zero, nil, fmt.Errorf("%w: declared length %d (minus 8) does not match buffer length %d", ErrCorrupt, length, rest.Len())
	}

	// The payload reader sees only the bytes before the trailing checksum.
	body := iobuf.New(rest.Bytes()[:rest.Len()-8], rest.AbsPos())
	payload, after, err := readPayload(typ, body)
	if err != nil {
		return Header{}, zero, nil, fmt.Errorf("envelope: reading payload: %w", err)
	}
	_, rest, err = rest.ConsumeView(body.Len() - after.Len())
	if err != nil {
		return Header{}, zero, nil, fmt.Errorf("envelope: advancing past payload: %w", err)
	}

	consumed := int64(rest.RelPos() - start)
	unknownLen := int64(length) - consumed - 8
	if unknownLen < 0 {
		return Header{}, zero, nil, fmt.Errorf("envelope: payload overran declared length %d", length)
	}
	unknown, rest, err := rest.Consume(int(unknownLen))
	if err != nil {
		return Header{}, zero, nil, fmt.Errorf("envelope: consuming unknown tail: %w", err)
	}

	csVals, rest, err := rest.Unpack(binary.LittleEndian, "Q")
	if err != nil {
		return Header{}, zero, nil, fmt.Errorf("envelope: reading trailing checksum: %w", err)
	}
	checksum := uint64(csVals[0])

	if uint64(len(checksumInput)) < length {
		return Header{}, zero, nil, fmt.Errorf("%w: buffer shorter than declared length %d", ErrCorrupt, length)
	}
	if err := VerifyChecksum(checksumInput[:length-8], checksum); err != nil {
		return Header{}, zero, nil, err
	}

	hdr := Header{Type: typ, Length: length, Checksum: checksum, Unknown: unknown}
	return hdr, payload, rest, nil
}

// Checksum computes the 64-bit digest an envelope's trailing checksum word
// is compared against. It covers every byte of the envelope up to (not
// including) the checksum word itself.
type Checksum func(data []byte) uint64

var checksumFn Checksum

// SetChecksum installs the digest used to verify envelope checksums, or nil
// to disable recomputation. The default is nil: the trailing word is stored
// and cross-checked between envelopes without being recomputed, since the
// on-disk digest algorithm has changed across writer versions and the
// cross-checks compare stored values only.
func SetChecksum(fn Checksum) { checksumFn = fn }

// XXHash64 is a ready-to-install Checksum computing the 64-bit xxHash of
// the envelope bytes, for corpora written with that digest.
func XXHash64(data []byte) uint64 { return xxhash.Sum64(data) }

// VerifyChecksum compares want against the installed digest of data. With
// no digest installed it accepts any stored value.
func VerifyChecksum(data []byte, want uint64) error {
	if checksumFn == nil {
		return nil
	}
	got := checksumFn(data)
	if got != want {
		return fmt.Errorf("%w: checksum mismatch: declared 0x%x, computed 0x%x", ErrCorrupt, want, got)
	}
	return nil
}
