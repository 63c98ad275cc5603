package streamed

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/rootio/internal/codec"
	"github.com/scigolib/rootio/internal/iobuf"
	"github.com/scigolib/rootio/internal/utils"
)

// TString is ROOT's classic length-prefixed string: a one-byte length, or
// 0xFF followed by a big-endian 4-byte length for strings of 255 bytes or
// more.
type TString struct {
	Value []byte
}

func (s TString) String() string { return string(s.Value) }

// ReadTString reads a TString from buf.
func ReadTString(buf *iobuf.Buffer) (TString, *iobuf.Buffer, error) {
	lenByte, rest, err := buf.Consume(1)
	if err != nil {
		return TString{}, nil, fmt.Errorf("streamed: TString: reading length byte: %w", err)
	}
	n := int(lenByte[0])
	if n == 0xFF {
		vals, r2, err := rest.Unpack(binary.BigEndian, "i")
		if err != nil {
			return TString{}, nil, fmt.Errorf("streamed: TString: reading extended length: %w", err)
		}
		n = int(vals[0])
		if n < 0 {
			return TString{}, nil, fmt.Errorf("streamed: TString: %w: negative extended length %d", ErrInvalid, n)
		}
		if err := utils.ValidateBufferSize(uint64(n), utils.MaxStringSize, "TString"); err != nil {
			return TString{}, nil, fmt.Errorf("streamed: %w: %s", ErrInvalid, err)
		}
		rest = r2
	}
	data, rest, err := rest.Consume(n)
	if err != nil {
		return TString{}, nil, fmt.Errorf("streamed: TString: reading %d bytes: %w", n, err)
	}
	return TString{Value: data}, rest, nil
}

// TUUID is a plain 16-byte UUID value preceded by a version field, used by
// TDirectory's optional UUID member.
type TUUID struct {
	Version uint16
	Bytes   [16]byte
}

var tuuidCodec = codec.Compose(
	codec.Fmt(binary.BigEndian, "fVersion", "H"),
	codec.FixedSizeArray(binary.BigEndian, "fUUID", 1, 16),
)

// ReadTUUID reads a TUUID from buf.
func ReadTUUID(buf *iobuf.Buffer) (TUUID, *iobuf.Buffer, error) {
	m, rest, err := codec.ReadRecord(tuuidCodec, buf)
	if err != nil {
		return TUUID{}, nil, fmt.Errorf("streamed: TUUID: %w", err)
	}
	var u [16]byte
	for i, b := range m.Ints("fUUID") {
		u[i] = byte(b)
	}
	return TUUID{Version: uint16(m.Int("fVersion")), Bytes: u}, rest, nil
}

// TObjectBits are the relevant bits of TObject.fBits this engine inspects.
const tobjectIsReferenced = 0x00000010

// tobjectMembersCodec is TObject's member shape; pidf is the classic
// flag-gated optional member, present only for kIsReferenced objects.
var tobjectMembersCodec = codec.Compose(
	codec.Fmt(binary.BigEndian, "fVersion", "h"),
	codec.Fmt(binary.BigEndian, "fUniqueID", "i"),
	codec.Fmt(binary.BigEndian, "fBits", "I"),
	codec.OptionalField("fBits", tobjectIsReferenced, codec.Fmt(binary.BigEndian, "pidf", "H")),
)

// TObject is ROOT's universal base object.
type TObject struct {
	Header   StreamHeader
	Version  int16
	UniqueID int32
	Bits     uint32
	Pidf     *uint16
}

// ReadTObjectBase implements the legacy special case for TObject read as a
// nested base class: peek a plain big-endian int16; a value below 0x40 is a
// bare version number with no stream header at all (pre-StreamerInfo ROOT
// files).
func ReadTObjectBase(buf *iobuf.Buffer) (StreamHeader, *iobuf.Buffer, error) {
	raw, err := buf.Peek(2)
	if err != nil {
		return StreamHeader{}, nil, fmt.Errorf("streamed: peeking TObject base version: %w", err)
	}
	v := int16(binary.BigEndian.Uint16(raw))
	if v < 0x40 {
		uv := uint16(v)
		return StreamHeader{Version: &uv}, buf, nil
	}
	return Read(buf)
}

// ReadTObject reads a TObject. indent is 0 when TObject is the outermost
// streamed object being read, and > 0 when it is being read as a nested
// base class (e.g. of TNamed). The end-position invariant is only enforced
// at indent 0: files in the wild violate it for nested base reads in ways
// that have never been fully explained, so those tolerate a mismatch.
func ReadTObject(buf *iobuf.Buffer, indent int) (TObject, *iobuf.Buffer, error) {
	start := buf.RelPos()
	var hdr StreamHeader
	var rest *iobuf.Buffer
	var err error
	if indent > 0 {
		hdr, rest, err = ReadTObjectBase(buf)
	} else {
		hdr, rest, err = Read(buf)
		if err == nil {
			err = checkClassName(hdr, "TObject")
		}
	}
	if err != nil {
		return TObject{}, nil, err
	}

	m, rest, err := codec.ReadRecord(tobjectMembersCodec, rest)
	if err != nil {
		return TObject{}, nil, fmt.Errorf("streamed: TObject: reading members: %w", err)
	}
	version := int16(m.Int("fVersion"))
	uniqueID := int32(m.Int("fUniqueID"))
	bits := uint32(m.Int("fBits"))
	var pidf *uint16
	if v, ok := m.OptInt("pidf"); ok {
		p := uint16(v)
		pidf = &p
	}

	if indent == 0 {
		endPos := start + uint64(hdr.ByteCount) + 4
		if rest.RelPos() != endPos {
			return TObject{}, nil, fmt.Errorf("streamed: TObject: expected end position %d, got %d", endPos, rest.RelPos())
		}
	}
	return TObject{Header: hdr, Version: version, UniqueID: uniqueID, Bits: bits, Pidf: pidf}, rest, nil
}

// TNamed adds a name and title on top of TObject.
type TNamed struct {
	Header StreamHeader
	Object TObject
	Name   TString
	Title  TString
}

// ReadTNamed reads a TNamed: its own stream header, then TObject as a
// depth-1 base class, then its own fName/fTitle members, enforcing the
// outer end-position invariant.
func ReadTNamed(buf *iobuf.Buffer) (TNamed, *iobuf.Buffer, error) {
	start := buf.RelPos()
	hdr, rest, err := Read(buf)
	if err != nil {
		return TNamed{}, nil, err
	}
	if err := checkClassName(hdr, "TNamed"); err != nil {
		return TNamed{}, nil, err
	}
	endPos := start + uint64(hdr.ByteCount) + 4

	obj, rest, err := ReadTObject(rest, 1)
	if err != nil {
		return TNamed{}, nil, fmt.Errorf("streamed: TNamed: reading TObject base: %w", err)
	}
	name, rest, err := ReadTString(rest)
	if err != nil {
		return TNamed{}, nil, fmt.Errorf("streamed: TNamed: reading fName: %w", err)
	}
	title, rest, err := ReadTString(rest)
	if err != nil {
		return TNamed{}, nil, fmt.Errorf("streamed: TNamed: reading fTitle: %w", err)
	}

	if rest.RelPos() != endPos {
		return TNamed{}, nil, fmt.Errorf("streamed: TNamed: expected end position %d, got %d", endPos, rest.RelPos())
	}
	return TNamed{Header: hdr, Object: obj, Name: name, Title: title}, rest, nil
}

// TIOFeaturesMode selects which of the two observed wire encodings for
// ROOT::TIOFeatures to use: some files carry an extra 4 bytes only when
// IOBits > 0 (ModeConditional), others always carry 4 discard bytes before
// the 1-byte flag (ModeLegacyPrefix). The ambiguity is surfaced as a knob
// rather than folded into one behavior, since both encodings appear in
// real corpora.
type TIOFeaturesMode int

const (
	TIOFeaturesModeConditional TIOFeaturesMode = iota
	TIOFeaturesModeLegacyPrefix
)

// TIOFeatures is ROOT::TIOFeatures, a bitmask of optional I/O optimizations
// a file was written with.
type TIOFeatures struct {
	Header StreamHeader
	IOBits byte
	Extra  *int32
}

// ReadTIOFeatures reads a ROOT::TIOFeatures object using mode to resolve the
// prefix-handling ambiguity.
func ReadTIOFeatures(buf *iobuf.Buffer, mode TIOFeaturesMode) (TIOFeatures, *iobuf.Buffer, error) {
	hdr, rest, err := Read(buf)
	if err != nil {
		return TIOFeatures{}, nil, err
	}
	if err := checkClassName(hdr, "ROOT3a3aTIOFeatures"); err != nil {
		return TIOFeatures{}, nil, err
	}

	if mode == TIOFeaturesModeLegacyPrefix {
		_, rest, err = rest.Consume(4)
		if err != nil {
			return TIOFeatures{}, nil, fmt.Errorf("streamed: TIOFeatures: consuming legacy prefix: %w", err)
		}
	}

	bits, rest, err := rest.Consume(1)
	if err != nil {
		return TIOFeatures{}, nil, fmt.Errorf("streamed: TIOFeatures: reading IOBits: %w", err)
	}
	iobits := bits[0]

	var extra *int32
	if mode == TIOFeaturesModeConditional && iobits > 0 {
		vals, r2, err := rest.Unpack(binary.BigEndian, "i")
		if err != nil {
			return TIOFeatures{}, nil, fmt.Errorf("streamed: TIOFeatures: reading extra: %w", err)
		}
		e := int32(vals[0])
		extra = &e
		rest = r2
	}
	return TIOFeatures{Header: hdr, IOBits: iobits, Extra: extra}, rest, nil
}

// Uninterpreted is the forward-compatible catch-all for classes outside the
// registry: the stream header plus its raw, undecoded payload bytes.
type Uninterpreted struct {
	Header StreamHeader
	Data   []byte
}

// ReadUninterpreted reads an Uninterpreted object.
func ReadUninterpreted(buf *iobuf.Buffer) (Uninterpreted, *iobuf.Buffer, error) {
	start := buf.RelPos()
	hdr, rest, err := Read(buf)
	if err != nil {
		return Uninterpreted{}, nil, err
	}
	// The object ends byte-count + 4 bytes after its start; whatever the
	// header did not consume up to there is the payload.
	n := int(int64(start) + int64(hdr.ByteCount) + 4 - int64(rest.RelPos()))
	if n < 0 {
		return Uninterpreted{}, nil, fmt.Errorf("streamed: %w: uninterpreted object byte count %d too small", ErrInvalid, hdr.ByteCount)
	}
	data, rest, err := rest.Consume(n)
	if err != nil {
		return Uninterpreted{}, nil, fmt.Errorf("streamed: Uninterpreted: reading payload: %w", err)
	}
	return Uninterpreted{Header: hdr, Data: data}, rest, nil
}
