// Package frame implements the Record/List frame layer: every RNTuple
// envelope payload is built from length-prefixed frames whose sign encodes
// which kind they are.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/rootio/internal/iobuf"
)

// ItemReader reads one Item from buf, returning the remainder.
type ItemReader[Item any] func(buf *iobuf.Buffer) (Item, *iobuf.Buffer, error)

// PayloadReader reads a Record Frame's typed payload from buf.
type PayloadReader[Payload any] func(buf *iobuf.Buffer) (Payload, *iobuf.Buffer, error)

// ExtraReader reads a frame-subclass's trailing "extra members" — used by
// the page-location column-level list frame, which carries an element
// offset and (when not suppressed) compression settings after its items.
type ExtraReader[Extra any] func(buf *iobuf.Buffer) (Extra, *iobuf.Buffer, error)

// RecordFrame is a length-prefixed container whose declared size is
// positive; its bytes-consumed (payload plus any unknown tail) must equal
// that size exactly.
type RecordFrame[Payload any] struct {
	Size    int64
	Payload Payload
	Unknown []byte
}

// ReadRecordFrame peeks the frame's signed size, requires it to be positive,
// reads the typed payload via readPayload, then consumes any remaining
// declared-but-unread bytes as an opaque unknown tail, so frames written by
// newer producers with extra trailing members still parse.
func ReadRecordFrame[Payload any](buf *iobuf.Buffer, readPayload PayloadReader[Payload]) (RecordFrame[Payload], *iobuf.Buffer, error) {
	var zero RecordFrame[Payload]
	start := buf.RelPos()

	vals, rest, err := buf.Unpack(binary.LittleEndian, "q")
	if err != nil {
		return zero, nil, fmt.Errorf("frame: reading record frame size: %w", err)
	}
	size := vals[0]
	if size <= 0 {
		return zero, nil, fmt.Errorf("frame: expected positive record frame size, got %d", size)
	}

	payload, rest, err := readPayload(rest)
	if err != nil {
		return zero, nil, fmt.Errorf("frame: reading record frame payload: %w", err)
	}

	consumed := int64(rest.RelPos() - start)
	unknownLen := size - consumed
	if unknownLen < 0 {
		return zero, nil, fmt.Errorf("frame: record frame payload overran declared size %d by %d bytes", size, -unknownLen)
	}
	unknown, rest, err := rest.Consume(int(unknownLen))
	if err != nil {
		return zero, nil, fmt.Errorf("frame: consuming record frame unknown tail: %w", err)
	}

	return RecordFrame[Payload]{Size: size, Payload: payload, Unknown: unknown}, rest, nil
}

// ListFrame is a length-prefixed container whose declared size is the
// (negated) magnitude following the sign, holding Count items plus
// optionally a frame-subclass's extra trailing members.
type ListFrame[Item any] struct {
	Size    int64
	Items   []Item
	Unknown []byte
}

func (f ListFrame[Item]) Len() int { return len(f.Items) }

// ReadListFrame peeks the frame's signed size, requires it to be negative,
// reads the u32 item count and that many items via readItem, then consumes
// the unknown tail. It has no frame-subclass extra members; use
// ReadListFrameWithExtra for list frames that carry trailing fields (e.g.
// the page-location column-level frame).
func ReadListFrame[Item any](buf *iobuf.Buffer, readItem ItemReader[Item]) (ListFrame[Item], *iobuf.Buffer, error) {
	lf, extra, rest, err := ReadListFrameWithExtra(buf, readItem, noExtra)
	_ = extra
	return lf, rest, err
}

func noExtra(buf *iobuf.Buffer) (struct{}, *iobuf.Buffer, error) {
	return struct{}{}, buf, nil
}

// ReadListFrameWithExtra is ReadListFrame plus an extra-members hook
// invoked after the item list and before the unknown tail is computed, for
// the list-frame variants that carry trailing fields of their own.
func ReadListFrameWithExtra[Item any, Extra any](buf *iobuf.Buffer, readItem ItemReader[Item], readExtra ExtraReader[Extra]) (ListFrame[Item], Extra, *iobuf.Buffer, error) {
	var zero ListFrame[Item]
	var zeroExtra Extra
	start := buf.RelPos()

	vals, rest, err := buf.Unpack(binary.LittleEndian, "q")
	if err != nil {
		return zero, zeroExtra, nil, fmt.Errorf("frame: reading list frame size: %w", err)
	}
	size := vals[0]
	if size >= 0 {
		return zero, zeroExtra, nil, fmt.Errorf("frame: expected negative list frame size, got %d", size)
	}
	size = -size

	countVals, rest, err := rest.Unpack(binary.LittleEndian, "I")
	if err != nil {
		return zero, zeroExtra, nil, fmt.Errorf("frame: reading list frame item count: %w", err)
	}
	count := countVals[0]
	if count < 0 {
		return zero, zeroExtra, nil, fmt.Errorf("frame: invalid negative list frame item count %d", count)
	}

	items := make([]Item, 0, count)
	for i := int64(0); i < count; i++ {
		var item Item
		item, rest, err = readItem(rest)
		if err != nil {
			return zero, zeroExtra, nil, fmt.Errorf("frame: reading list frame item %d: %w", i, err)
		}
		items = append(items, item)
	}

	extra, rest, err := readExtra(rest)
	if err != nil {
		return zero, zeroExtra, nil, fmt.Errorf("frame: reading list frame extra members: %w", err)
	}

	consumed := int64(rest.RelPos() - start)
	unknownLen := size - consumed
	if unknownLen < 0 {
		return zero, zeroExtra, nil, fmt.Errorf("frame: list frame contents overran declared size %d by %d bytes", size, -unknownLen)
	}
	unknown, rest, err := rest.Consume(int(unknownLen))
	if err != nil {
		return zero, zeroExtra, nil, fmt.Errorf("frame: consuming list frame unknown tail: %w", err)
	}

	return ListFrame[Item]{Size: size, Items: items, Unknown: unknown}, extra, rest, nil
}

// PeekKind reports whether the frame starting at buf is a Record Frame or
// a List Frame without consuming anything: the sign of the leading 64-bit
// size is the discriminant. It returns an error for a zero-size frame.
func PeekKind(buf *iobuf.Buffer) (isList bool, err error) {
	raw, err := buf.Peek(8)
	if err != nil {
		return false, fmt.Errorf("frame: peeking frame size: %w", err)
	}
	size := int64(binary.LittleEndian.Uint64(raw))
	switch {
	case size > 0:
		return false, nil
	case size < 0:
		return true, nil
	default:
		return false, fmt.Errorf("frame: frame size must not be zero")
	}
}
