package rntuple

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/rootio/internal/codec"
	"github.com/scigolib/rootio/internal/envelope"
	"github.com/scigolib/rootio/internal/iobuf"
	"github.com/scigolib/rootio/internal/streamed"
)

// anchorClassName is the streamed class name of the RNTuple anchor object,
// normalized the same way every other class name is.
const anchorClassName = "ROOT3a3aRNTuple"

// Anchor is the small, fixed-size `ROOT::RNTuple` object a TKey holds: the
// writer's version and the seek/size/length triples locating the header and
// footer envelopes. Unlike TNamed, it has no TObject base; its own
// StreamHeader is read directly.
type Anchor struct {
	VersionEpoch uint16
	VersionMajor uint16
	VersionMinor uint16
	VersionPatch uint16
	SeekHeader   uint64
	NBytesHeader uint64
	LenHeader    uint64
	SeekFooter   uint64
	NBytesFooter uint64
	LenFooter    uint64
	MaxKeySize   uint64
}

// ReadAnchor reads an Anchor from buf.
func ReadAnchor(buf *iobuf.Buffer) (Anchor, *iobuf.Buffer, error) {
	start := buf.RelPos()
	hdr, rest, err := streamed.Read(buf)
	if err != nil {
		return Anchor{}, nil, fmt.Errorf("rntuple: reading anchor stream header: %w", err)
	}
	if len(hdr.ClassName) != 0 {
		if got := streamed.Normalize(hdr.ClassName); got != anchorClassName {
			return Anchor{}, nil, fmt.Errorf("rntuple: %w: expected class %s but got %s", ErrCorrupt, anchorClassName, got)
		}
	}

	m, rest, err := codec.ReadRecord(anchorCodec, rest)
	if err != nil {
		return Anchor{}, nil, fmt.Errorf("rntuple: reading anchor fields: %w", err)
	}
	if endPos := start + uint64(hdr.ByteCount) + 4; rest.RelPos() != endPos {
		return Anchor{}, nil, fmt.Errorf("rntuple: %w: anchor ends at %d, expected %d", ErrCorrupt, rest.RelPos(), endPos)
	}
	return Anchor{
		VersionEpoch: uint16(m.Int("fVersionEpoch")),
		VersionMajor: uint16(m.Int("fVersionMajor")),
		VersionMinor: uint16(m.Int("fVersionMinor")),
		VersionPatch: uint16(m.Int("fVersionPatch")),
		SeekHeader:   uint64(m.Int("fSeekHeader")),
		NBytesHeader: uint64(m.Int("fNBytesHeader")),
		LenHeader:    uint64(m.Int("fLenHeader")),
		SeekFooter:   uint64(m.Int("fSeekFooter")),
		NBytesFooter: uint64(m.Int("fNBytesFooter")),
		LenFooter:    uint64(m.Int("fLenFooter")),
		MaxKeySize:   uint64(m.Int("fMaxKeySize")),
	}, rest, nil
}

// anchorCodec is the anchor's member shape: the whole object is big-endian,
// like every other TKey-streamed structure.
var anchorCodec = codec.Compose(
	codec.Fmt(binary.BigEndian, "fVersionEpoch", "H"),
	codec.Fmt(binary.BigEndian, "fVersionMajor", "H"),
	codec.Fmt(binary.BigEndian, "fVersionMinor", "H"),
	codec.Fmt(binary.BigEndian, "fVersionPatch", "H"),
	codec.Fmt(binary.BigEndian, "fSeekHeader", "Q"),
	codec.Fmt(binary.BigEndian, "fNBytesHeader", "Q"),
	codec.Fmt(binary.BigEndian, "fLenHeader", "Q"),
	codec.Fmt(binary.BigEndian, "fSeekFooter", "Q"),
	codec.Fmt(binary.BigEndian, "fNBytesFooter", "Q"),
	codec.Fmt(binary.BigEndian, "fLenFooter", "Q"),
	codec.Fmt(binary.BigEndian, "fMaxKeySize", "Q"),
)

func (a Anchor) headerLink() envelope.EnvelopeLink {
	return envelope.EnvelopeLink{
		Length:  a.LenHeader,
		Locator: envelope.LargeLocator{Size: a.NBytesHeader, Offset: a.SeekHeader},
	}
}

func (a Anchor) footerLink() envelope.EnvelopeLink {
	return envelope.EnvelopeLink{
		Length:  a.LenFooter,
		Locator: envelope.LargeLocator{Size: a.NBytesFooter, Offset: a.SeekFooter},
	}
}

// GetHeader fetches and reads this anchor's header envelope.
func (a Anchor) GetHeader(fetch iobuf.Fetch) (envelope.Header, HeaderEnvelope, error) {
	buf, err := envelopeBuffer(a.headerLink(), fetch)
	if err != nil {
		return envelope.Header{}, HeaderEnvelope{}, fmt.Errorf("rntuple: fetching header envelope: %w", err)
	}
	hdr, payload, _, err := ReadHeaderEnvelope(buf)
	if err != nil {
		return envelope.Header{}, HeaderEnvelope{}, fmt.Errorf("rntuple: reading header envelope: %w", err)
	}
	return hdr, payload, nil
}

// GetFooter fetches and reads this anchor's footer envelope.
func (a Anchor) GetFooter(fetch iobuf.Fetch) (envelope.Header, FooterEnvelope, error) {
	buf, err := envelopeBuffer(a.footerLink(), fetch)
	if err != nil {
		return envelope.Header{}, FooterEnvelope{}, fmt.Errorf("rntuple: fetching footer envelope: %w", err)
	}
	hdr, payload, _, err := ReadFooterEnvelope(buf)
	if err != nil {
		return envelope.Header{}, FooterEnvelope{}, fmt.Errorf("rntuple: reading footer envelope: %w", err)
	}
	return hdr, payload, nil
}
