package streamed

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/rootio/internal/iobuf"
)

func be64bits(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func TestReadTArrayI(t *testing.T) {
	data := be32(3)
	negFive := int32(-5)
	data = append(data, be32(uint32(negFive))...)
	data = append(data, be32(0)...)
	data = append(data, be32(7)...)

	arr, rest, err := ReadTArrayI(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Equal(t, []int32{-5, 0, 7}, arr.Data)
	assert.True(t, rest.Empty())
}

func TestReadTArrayC(t *testing.T) {
	data := append(be32(2), 0xFF, 0x01)
	arr, rest, err := ReadTArrayC(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Equal(t, []int8{-1, 1}, arr.Data)
	assert.True(t, rest.Empty())
}

func TestReadTArrayS(t *testing.T) {
	negTwo := int16(-2)
	data := append(be32(1), be16(uint16(negTwo))...)
	arr, rest, err := ReadTArrayS(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Equal(t, []int16{-2}, arr.Data)
	assert.True(t, rest.Empty())
}

func TestReadTArrayF(t *testing.T) {
	data := append(be32(2), be32(math.Float32bits(1.5))...)
	data = append(data, be32(math.Float32bits(-2.25))...)

	arr, rest, err := ReadTArrayF(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2.25}, arr.Data)
	assert.True(t, rest.Empty())
}

func TestReadTArrayD(t *testing.T) {
	data := be32(1)
	data = append(data, be64bits(math.Float64bits(3.5))...)

	arr, rest, err := ReadTArrayD(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5}, arr.Data)
	assert.True(t, rest.Empty())
}

func TestReadTArrayTruncated(t *testing.T) {
	data := append(be32(4), 0x00, 0x01)
	_, _, err := ReadTArrayI(iobuf.New(data, 0))
	assert.Error(t, err)
}

func TestTArrayDispatch(t *testing.T) {
	// TArray classes resolve through the class dictionary, not the
	// Uninterpreted fallback
	data := append(be32(1), be32(42)...)
	obj, rest, err := Lookup("TArrayI")(iobuf.New(data, 0))
	require.NoError(t, err)
	arr, ok := obj.(TArrayI)
	require.True(t, ok)
	assert.Equal(t, []int32{42}, arr.Data)
	assert.True(t, rest.Empty())
}
