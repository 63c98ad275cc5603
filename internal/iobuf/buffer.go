// Package iobuf provides the random-access byte-range fetch abstraction and
// the positional read-buffer the rest of the engine decodes through.
package iobuf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Sentinel errors the rootio root package classifies into its DecodeError
// Kind taxonomy via errors.Is.
var (
	// ErrTruncated flags a read that needs more bytes than remain.
	ErrTruncated = errors.New("iobuf: truncated")
	// ErrInvalid flags a request outside the valid domain (negative length).
	ErrInvalid = errors.New("iobuf: invalid")
)

// Fetch returns exactly length bytes starting at offset, positioned with
// AbsPos=offset, RelPos=0 and an empty local-refs table. Implementations
// must fail with a truncated/IO error rather than returning a short read.
type Fetch func(offset, length uint64) (*Buffer, error)

// Buffer is a positional view over a borrowed byte slice. It never
// reallocates the payload it was constructed with; slicing shares both the
// backing bytes and the local-refs table with the buffer it was sliced from,
// per the shared-ownership rule the streamed-object layer depends on for
// class-name back-references.
type Buffer struct {
	data      []byte
	absPos    int64 // -1 when unknown (e.g. after decompression)
	relPos    uint64
	localRefs map[uint64][]byte
}

// New constructs a top-level Buffer over data, as returned by a Fetch call.
func New(data []byte, absPos int64) *Buffer {
	return &Buffer{data: data, absPos: absPos, relPos: 0, localRefs: map[uint64][]byte{}}
}

// NewDecompressed constructs a Buffer over freshly decompressed data. Per
// the resource-model rules, a decompressed buffer's absolute file offset no
// longer corresponds to anything (absPos is unknown, reported as -1), while
// its relative position is set to originRelPos — the originating TKey's
// key_len, for a TKey body — so downstream size/position invariants still
// hold relative to that origin.
func NewDecompressed(data []byte, originRelPos uint64) *Buffer {
	return &Buffer{data: data, absPos: -1, relPos: originRelPos, localRefs: map[uint64][]byte{}}
}

// Len returns the number of unconsumed bytes remaining.
func (b *Buffer) Len() int { return len(b.data) }

// Empty reports whether the buffer has been fully drained.
func (b *Buffer) Empty() bool { return len(b.data) == 0 }

// AbsPos returns the absolute file offset of the buffer's current position,
// or -1 if unknown (set to unknown once a decompressed buffer is substituted
// in, per the resource-model rules).
func (b *Buffer) AbsPos() int64 { return b.absPos }

// RelPos returns the position relative to the start of the owning TKey (or
// whatever top-level buffer this one derives from).
func (b *Buffer) RelPos() uint64 { return b.relPos }

// LocalRefs exposes the shared class-name back-reference table as part of
// the buffer value rather than as hidden global state.
func (b *Buffer) LocalRefs() map[uint64][]byte { return b.localRefs }

// Bytes returns the unconsumed bytes without copying or advancing position.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) child(data []byte, advance int) *Buffer {
	abs := int64(-1)
	if b.absPos >= 0 {
		abs = b.absPos + int64(advance)
	}
	return &Buffer{
		data:      data,
		absPos:    abs,
		relPos:    b.relPos + uint64(advance),
		localRefs: b.localRefs,
	}
}

// Slice returns a new buffer starting at offset n into this one, sharing the
// local-refs table. Out-of-range n is a truncated error.
func (b *Buffer) Slice(n int) (*Buffer, error) {
	if n < 0 || n > len(b.data) {
		return nil, fmt.Errorf("%w: slice %d out of range for buffer of length %d", ErrTruncated, n, len(b.data))
	}
	return b.child(b.data[n:], n), nil
}

// Consume removes the first n bytes, returning a copy of them plus the
// remaining buffer. Negative n is invalid.
func (b *Buffer) Consume(n int) ([]byte, *Buffer, error) {
	if n < 0 {
		return nil, nil, fmt.Errorf("%w: cannot consume negative length %d", ErrInvalid, n)
	}
	if n > len(b.data) {
		return nil, nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, len(b.data))
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	rest, err := b.Slice(n)
	if err != nil {
		return nil, nil, err
	}
	return out, rest, nil
}

// ConsumeView is like Consume but returns a view into the backing bytes
// instead of a copy. Callers must not retain the view past the backing
// buffer's lifetime.
func (b *Buffer) ConsumeView(n int) ([]byte, *Buffer, error) {
	if n < 0 {
		return nil, nil, fmt.Errorf("%w: cannot consume negative length %d", ErrInvalid, n)
	}
	if n > len(b.data) {
		return nil, nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, len(b.data))
	}
	view := b.data[:n]
	rest, err := b.Slice(n)
	if err != nil {
		return nil, nil, err
	}
	return view, rest, nil
}

// Peek returns the first n bytes without advancing the buffer.
func (b *Buffer) Peek(n int) ([]byte, error) {
	if n < 0 || n > len(b.data) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, len(b.data))
	}
	return b.data[:n], nil
}

// widthOf returns the byte width of one struct.unpack-style verb.
func widthOf(verb byte) (int, bool, error) {
	switch verb {
	case 'b', 'B':
		return 1, verb == 'b', nil
	case 'h', 'H':
		return 2, verb == 'h', nil
	case 'i', 'I':
		return 4, verb == 'i', nil
	case 'q', 'Q':
		return 8, verb == 'q', nil
	default:
		return 0, false, fmt.Errorf("iobuf: unsupported unpack verb %q", verb)
	}
}

// Unpack reads a sequence of fixed-width integers described by spec (a
// struct.unpack-style verb string using b/B, h/H, i/I, q/Q for 1/2/4/8 byte
// signed/unsigned integers) in the given byte order, returning the remainder
// buffer. Unsigned values that don't fit in int64 retain their bit pattern;
// callers needing the unsigned value should cast back with uint64(v).
func (b *Buffer) Unpack(order binary.ByteOrder, spec string) ([]int64, *Buffer, error) {
	cur := b
	out := make([]int64, 0, len(spec))
	for i := 0; i < len(spec); i++ {
		width, signed, err := widthOf(spec[i])
		if err != nil {
			return nil, nil, err
		}
		raw, rest, err := cur.Consume(width)
		if err != nil {
			return nil, nil, err
		}
		var v uint64
		switch width {
		case 1:
			v = uint64(raw[0])
		case 2:
			v = uint64(order.Uint16(raw))
		case 4:
			v = uint64(order.Uint32(raw))
		case 8:
			v = order.Uint64(raw)
		}
		if signed {
			switch width {
			case 1:
				out = append(out, int64(int8(v)))
			case 2:
				out = append(out, int64(int16(v)))
			case 4:
				out = append(out, int64(int32(v)))
			case 8:
				out = append(out, int64(v))
			}
		} else {
			out = append(out, int64(v))
		}
		cur = rest
	}
	return out, cur, nil
}
