package rntuple

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/scigolib/rootio/internal/codec"
	"github.com/scigolib/rootio/internal/frame"
	"github.com/scigolib/rootio/internal/iobuf"
	"github.com/scigolib/rootio/internal/utils"
)

// ColumnType identifies the on-disk physical encoding of a column, e.g.
// kIndex64, kChar, kReal64.
type ColumnType uint16

// Field description flag bits.
const (
	fieldFlagRepetitive   = 0x01
	fieldFlagProjected    = 0x02
	fieldFlagTypeChecksum = 0x04
)

// Column description flag bits.
const (
	columnFlagDeferred   = 0x01
	columnFlagValueRange = 0x02
)

// stringCodec reads an RNTuple-native string into the named member; codecs
// are first-class values, so record shapes below compose it freely with the
// fixed-format families.
func stringCodec(name string) codec.Codec {
	return func(m codec.Members, buf *iobuf.Buffer) (codec.Members, *iobuf.Buffer, error) {
		s, rest, err := readRNTupleString(buf)
		if err != nil {
			return nil, nil, fmt.Errorf("rntuple: reading %s: %w", name, err)
		}
		m[name] = s
		return m, rest, nil
	}
}

// FieldDescription is the payload of one field record frame in a header (or
// schema-extension) field list: the logical field a set of physical columns
// realizes. The trailing members are present only when the matching flag
// bit is set.
type FieldDescription struct {
	FieldVersion     uint32
	TypeVersion      uint32
	ParentFieldID    uint32
	StructuralRole   uint16
	Flags            uint16
	FieldName        string
	TypeName         string
	TypeAlias        string
	FieldDescription string
	ArraySize        *uint64 // repetitive fields only
	SourceFieldID    *uint32 // projected fields only
	TypeChecksum     *uint32
}

var fieldDescriptionCodec = codec.Compose(
	codec.Fmt(binary.LittleEndian, "fFieldVersion", "I"),
	codec.Fmt(binary.LittleEndian, "fTypeVersion", "I"),
	codec.Fmt(binary.LittleEndian, "fParentFieldID", "I"),
	codec.Fmt(binary.LittleEndian, "fStructuralRole", "H"),
	codec.Fmt(binary.LittleEndian, "fFlags", "H"),
	stringCodec("fFieldName"),
	stringCodec("fTypeName"),
	stringCodec("fTypeAlias"),
	stringCodec("fDescription"),
	codec.OptionalField("fFlags", fieldFlagRepetitive, codec.Fmt(binary.LittleEndian, "fArraySize", "Q")),
	codec.OptionalField("fFlags", fieldFlagProjected, codec.Fmt(binary.LittleEndian, "fSourceFieldID", "I")),
	codec.OptionalField("fFlags", fieldFlagTypeChecksum, codec.Fmt(binary.LittleEndian, "fTypeChecksum", "I")),
)

func readFieldDescriptionPayload(buf *iobuf.Buffer) (FieldDescription, *iobuf.Buffer, error) {
	m, rest, err := codec.ReadRecord(fieldDescriptionCodec, buf)
	if err != nil {
		return FieldDescription{}, nil, fmt.Errorf("rntuple: reading field description: %w", err)
	}
	fd := FieldDescription{
		FieldVersion:     uint32(m.Int("fFieldVersion")),
		TypeVersion:      uint32(m.Int("fTypeVersion")),
		ParentFieldID:    uint32(m.Int("fParentFieldID")),
		StructuralRole:   uint16(m.Int("fStructuralRole")),
		Flags:            uint16(m.Int("fFlags")),
		FieldName:        m.Str("fFieldName"),
		TypeName:         m.Str("fTypeName"),
		TypeAlias:        m.Str("fTypeAlias"),
		FieldDescription: m.Str("fDescription"),
	}
	if v, ok := m.OptInt("fArraySize"); ok {
		n := uint64(v)
		fd.ArraySize = &n
	}
	if v, ok := m.OptInt("fSourceFieldID"); ok {
		id := uint32(v)
		fd.SourceFieldID = &id
	}
	if v, ok := m.OptInt("fTypeChecksum"); ok {
		cs := uint32(v)
		fd.TypeChecksum = &cs
	}
	return fd, rest, nil
}

func readFieldDescription(buf *iobuf.Buffer) (frame.RecordFrame[FieldDescription], *iobuf.Buffer, error) {
	return frame.ReadRecordFrame(buf, readFieldDescriptionPayload)
}

// ColumnDescription is the payload of one column record frame: the physical
// storage format for part of a field. FirstElementIndex is present only for
// deferred columns; MinValue/MaxValue only when the value-range flag is set.
type ColumnDescription struct {
	ColumnType          ColumnType
	BitsOnStorage       uint16
	FieldID             uint32
	Flags               uint16
	RepresentationIndex uint16
	FirstElementIndex   *uint64
	MinValue            *float64
	MaxValue            *float64
}

var columnDescriptionCodec = codec.Compose(
	codec.Fmt(binary.LittleEndian, "fColumnType", "H"),
	codec.Fmt(binary.LittleEndian, "fBitsOnStorage", "H"),
	codec.Fmt(binary.LittleEndian, "fFieldID", "I"),
	codec.Fmt(binary.LittleEndian, "fFlags", "H"),
	codec.Fmt(binary.LittleEndian, "fRepresentationIndex", "H"),
	codec.OptionalField("fFlags", columnFlagDeferred, codec.Fmt(binary.LittleEndian, "fFirstElementIndex", "Q")),
	codec.OptionalField("fFlags", columnFlagValueRange, codec.Fmt(binary.LittleEndian, "fValueRange", "QQ")),
)

func readColumnDescriptionPayload(buf *iobuf.Buffer) (ColumnDescription, *iobuf.Buffer, error) {
	m, rest, err := codec.ReadRecord(columnDescriptionCodec, buf)
	if err != nil {
		return ColumnDescription{}, nil, fmt.Errorf("rntuple: reading column description: %w", err)
	}
	cd := ColumnDescription{
		ColumnType:          ColumnType(m.Int("fColumnType")),
		BitsOnStorage:       uint16(m.Int("fBitsOnStorage")),
		FieldID:             uint32(m.Int("fFieldID")),
		Flags:               uint16(m.Int("fFlags")),
		RepresentationIndex: uint16(m.Int("fRepresentationIndex")),
	}
	if v, ok := m.OptInt("fFirstElementIndex"); ok {
		idx := uint64(v)
		cd.FirstElementIndex = &idx
	}
	if vals := m.Ints("fValueRange"); len(vals) == 2 {
		minV := math.Float64frombits(uint64(vals[0]))
		maxV := math.Float64frombits(uint64(vals[1]))
		cd.MinValue, cd.MaxValue = &minV, &maxV
	}
	return cd, rest, nil
}

func readColumnDescription(buf *iobuf.Buffer) (frame.RecordFrame[ColumnDescription], *iobuf.Buffer, error) {
	return frame.ReadRecordFrame(buf, readColumnDescriptionPayload)
}

// AliasColumnDescription maps an alternate (projected) column onto a
// concrete physical column.
type AliasColumnDescription struct {
	PhysicalColumnID uint32
	FieldID          uint32
}

var aliasColumnDescriptionCodec = codec.Compose(
	codec.Fmt(binary.LittleEndian, "fPhysicalColumnID", "I"),
	codec.Fmt(binary.LittleEndian, "fFieldID", "I"),
)

func readAliasColumnDescriptionPayload(buf *iobuf.Buffer) (AliasColumnDescription, *iobuf.Buffer, error) {
	m, rest, err := codec.ReadRecord(aliasColumnDescriptionCodec, buf)
	if err != nil {
		return AliasColumnDescription{}, nil, fmt.Errorf("rntuple: reading alias column description: %w", err)
	}
	return AliasColumnDescription{
		PhysicalColumnID: uint32(m.Int("fPhysicalColumnID")),
		FieldID:          uint32(m.Int("fFieldID")),
	}, rest, nil
}

func readAliasColumnDescription(buf *iobuf.Buffer) (frame.RecordFrame[AliasColumnDescription], *iobuf.Buffer, error) {
	return frame.ReadRecordFrame(buf, readAliasColumnDescriptionPayload)
}

// ExtraTypeInformation is an opaque, forward-compatible type-info record
// keyed by a content identifier.
type ExtraTypeInformation struct {
	ContentID   uint32
	TypeVersion uint32
	TypeName    string
}

var extraTypeInformationCodec = codec.Compose(
	codec.Fmt(binary.LittleEndian, "fContentIdentifier", "I"),
	codec.Fmt(binary.LittleEndian, "fTypeVersion", "I"),
	stringCodec("fTypeName"),
)

func readExtraTypeInformationPayload(buf *iobuf.Buffer) (ExtraTypeInformation, *iobuf.Buffer, error) {
	m, rest, err := codec.ReadRecord(extraTypeInformationCodec, buf)
	if err != nil {
		return ExtraTypeInformation{}, nil, fmt.Errorf("rntuple: reading extra type information: %w", err)
	}
	return ExtraTypeInformation{
		ContentID:   uint32(m.Int("fContentIdentifier")),
		TypeVersion: uint32(m.Int("fTypeVersion")),
		TypeName:    m.Str("fTypeName"),
	}, rest, nil
}

func readExtraTypeInformation(buf *iobuf.Buffer) (frame.RecordFrame[ExtraTypeInformation], *iobuf.Buffer, error) {
	return frame.ReadRecordFrame(buf, readExtraTypeInformationPayload)
}

// readRNTupleString reads an RNTuple-native string: a little-endian u32
// length prefix followed by that many raw bytes — distinct from the classic
// TString length encoding TKey/TNamed use.
func readRNTupleString(buf *iobuf.Buffer) (string, *iobuf.Buffer, error) {
	vals, rest, err := buf.Unpack(binary.LittleEndian, "I")
	if err != nil {
		return "", nil, fmt.Errorf("rntuple: reading string length: %w", err)
	}
	if n := uint64(vals[0]); n > 0 {
		if err := utils.ValidateBufferSize(n, utils.MaxStringSize, "rntuple: string"); err != nil {
			return "", nil, err
		}
	}
	raw, rest, err := rest.Consume(int(vals[0]))
	if err != nil {
		return "", nil, fmt.Errorf("rntuple: reading string contents: %w", err)
	}
	return string(raw), rest, nil
}
