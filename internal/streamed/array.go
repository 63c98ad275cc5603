package streamed

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/scigolib/rootio/internal/codec"
	"github.com/scigolib/rootio/internal/iobuf"
)

// ROOT's TArray family: a big-endian count followed by that many elements,
// with no stream header of its own. Each variant is a thin construction
// over the count-prefixed array codec.

// TArrayC holds 8-bit signed elements.
type TArrayC struct {
	Data []int8
}

// TArrayS holds 16-bit signed elements.
type TArrayS struct {
	Data []int16
}

// TArrayI holds 32-bit signed elements.
type TArrayI struct {
	Data []int32
}

// TArrayF holds 32-bit IEEE-754 elements.
type TArrayF struct {
	Data []float32
}

// TArrayD holds 64-bit IEEE-754 elements.
type TArrayD struct {
	Data []float64
}

func readArrayElements(buf *iobuf.Buffer, itemWidth int) ([]int64, *iobuf.Buffer, error) {
	m, rest, err := codec.ReadRecord(codec.CArray(binary.BigEndian, "fA", itemWidth), buf)
	if err != nil {
		return nil, nil, fmt.Errorf("streamed: TArray: %w", err)
	}
	return m.Ints("fA"), rest, nil
}

// ReadTArrayC reads a TArrayC from buf.
func ReadTArrayC(buf *iobuf.Buffer) (TArrayC, *iobuf.Buffer, error) {
	raw, rest, err := readArrayElements(buf, 1)
	if err != nil {
		return TArrayC{}, nil, err
	}
	out := make([]int8, len(raw))
	for i, v := range raw {
		out[i] = int8(v)
	}
	return TArrayC{Data: out}, rest, nil
}

// ReadTArrayS reads a TArrayS from buf.
func ReadTArrayS(buf *iobuf.Buffer) (TArrayS, *iobuf.Buffer, error) {
	raw, rest, err := readArrayElements(buf, 2)
	if err != nil {
		return TArrayS{}, nil, err
	}
	out := make([]int16, len(raw))
	for i, v := range raw {
		out[i] = int16(v)
	}
	return TArrayS{Data: out}, rest, nil
}

// ReadTArrayI reads a TArrayI from buf.
func ReadTArrayI(buf *iobuf.Buffer) (TArrayI, *iobuf.Buffer, error) {
	raw, rest, err := readArrayElements(buf, 4)
	if err != nil {
		return TArrayI{}, nil, err
	}
	out := make([]int32, len(raw))
	for i, v := range raw {
		out[i] = int32(v)
	}
	return TArrayI{Data: out}, rest, nil
}

// ReadTArrayF reads a TArrayF from buf.
func ReadTArrayF(buf *iobuf.Buffer) (TArrayF, *iobuf.Buffer, error) {
	raw, rest, err := readArrayElements(buf, 4)
	if err != nil {
		return TArrayF{}, nil, err
	}
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = math.Float32frombits(uint32(v))
	}
	return TArrayF{Data: out}, rest, nil
}

// ReadTArrayD reads a TArrayD from buf.
func ReadTArrayD(buf *iobuf.Buffer) (TArrayD, *iobuf.Buffer, error) {
	raw, rest, err := readArrayElements(buf, 8)
	if err != nil {
		return TArrayD{}, nil, err
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = math.Float64frombits(uint64(v))
	}
	return TArrayD{Data: out}, rest, nil
}

func init() {
	Register("TArrayC", func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error) {
		obj, rest, err := ReadTArrayC(buf)
		return obj, rest, err
	})
	Register("TArrayS", func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error) {
		obj, rest, err := ReadTArrayS(buf)
		return obj, rest, err
	})
	Register("TArrayI", func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error) {
		obj, rest, err := ReadTArrayI(buf)
		return obj, rest, err
	})
	Register("TArrayF", func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error) {
		obj, rest, err := ReadTArrayF(buf)
		return obj, rest, err
	})
	Register("TArrayD", func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error) {
		obj, rest, err := ReadTArrayD(buf)
		return obj, rest, err
	})
}
