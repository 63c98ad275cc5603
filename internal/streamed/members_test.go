package streamed

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/rootio/internal/codec"
	"github.com/scigolib/rootio/internal/iobuf"
)

func readBEU32Item(buf *iobuf.Buffer) (uint32, *iobuf.Buffer, error) {
	vals, rest, err := buf.Unpack(binary.BigEndian, "I")
	if err != nil {
		return 0, nil, err
	}
	return uint32(vals[0]), rest, nil
}

func TestStdVectorMember(t *testing.T) {
	// stream header for the vector member, then count and elements
	data := be32(uint32(byteCountMask) | 14)
	data = append(data, be16(6)...) // vector streamer version
	data = append(data, be32(2)...)
	data = append(data, be32(10)...)
	data = append(data, be32(20)...)

	m, rest, err := StdVectorMember("fValues", readBEU32Item)(codec.Members{}, iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 20}, m["fValues"])
	assert.True(t, rest.Empty())
}

func TestStdMapMember(t *testing.T) {
	data := be32(uint32(byteCountMask) | 10)
	data = append(data, be16(6)...)
	data = append(data, be32(1)...)

	_, _, err := StdMapMember("fIndex")(codec.Members{}, iobuf.New(data, 0))
	assert.ErrorIs(t, err, codec.ErrUnimplemented)
}

// TestDictionaryExtensionShape registers a decoder the way the dynamic
// class-builder collaborator would: member codecs composed in declaration
// order, with the member bag as the decoded value.
func TestDictionaryExtensionShape(t *testing.T) {
	shape := codec.Compose(
		codec.Fmt(binary.BigEndian, "fN", "i"),
		ArrayMember("fOffsets", "fN", 4),
		Double32Member("fScale", "pedestal [0,100,8]"),
		ObjectRefMember("fCalib"),
	)
	Register("XTestShape", func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error) {
		m, rest, err := codec.ReadRecord(shape, buf)
		return m, rest, err
	})

	data := be32(2)                     // fN
	data = append(data, 0x01)           // array presence byte
	data = append(data, be32(100)...)   // fOffsets[0]
	data = append(data, be32(200)...)   // fOffsets[1]
	data = append(data, 0x80)           // fScale: 8 bits over [0,100]
	data = append(data, be32(0)...)     // fCalib: null pointer

	obj, rest, err := Lookup("XTestShape")(iobuf.New(data, 0))
	require.NoError(t, err)
	m, ok := obj.(codec.Members)
	require.True(t, ok)
	assert.Equal(t, []int64{100, 200}, m.Ints("fOffsets"))
	assert.InDelta(t, 100.0*0x80/0xFF, m["fScale"], 1e-9)
	assert.Equal(t, codec.Ref{Kind: codec.RefNull}, m["fCalib"])
	assert.True(t, rest.Empty())
}

func TestArrayMemberPadByteLaw(t *testing.T) {
	shape := codec.Compose(
		codec.Fmt(binary.BigEndian, "fN", "i"),
		ArrayMember("fData", "fN", 2),
	)

	// empty array carries a 0x00 presence byte
	data := append(be32(0), 0x00)
	m, rest, err := codec.ReadRecord(shape, iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Empty(t, m.Ints("fData"))
	assert.True(t, rest.Empty())

	// a non-empty array with a 0x00 presence byte is rejected
	data = append(be32(1), 0x00, 0, 5)
	_, _, err = codec.ReadRecord(shape, iobuf.New(data, 0))
	assert.Error(t, err)
}
