package streamed

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/rootio/internal/codec"
	"github.com/scigolib/rootio/internal/iobuf"
)

// Member-codec constructors for the types a discovered StreamerInfo record
// can declare. The dynamic class-builder collaborator composes these with
// the fixed-format families and calls Register with the result; the classes
// built into this package use the same vocabulary directly.

// StdVectorMember returns the codec for a std::vector<T> member at the
// outermost nesting level: the member's stream header, then the
// count-prefixed element sequence. Directly nested vectors have no header
// of their own and go through codec.ReadStdVector.
func StdVectorMember[T any](name string, item codec.ItemReader[T]) codec.Codec {
	return func(m codec.Members, buf *iobuf.Buffer) (codec.Members, *iobuf.Buffer, error) {
		_, rest, err := Read(buf)
		if err != nil {
			return nil, nil, fmt.Errorf("streamed: %s: reading vector stream header: %w", name, err)
		}
		items, rest, err := codec.ReadStdVector(rest, item)
		if err != nil {
			return nil, nil, fmt.Errorf("streamed: %s: %w", name, err)
		}
		m[name] = items
		return m, rest, nil
	}
}

// StdMapMember returns the codec for a std::map<K,V> member. ROOT writes
// maps memberwise, which this engine does not decode.
func StdMapMember(name string) codec.Codec {
	return func(m codec.Members, buf *iobuf.Buffer) (codec.Members, *iobuf.Buffer, error) {
		_, rest, err := Read(buf)
		if err != nil {
			return nil, nil, fmt.Errorf("streamed: %s: reading map stream header: %w", name, err)
		}
		if _, err := codec.ReadStdMap(rest); err != nil {
			return nil, nil, fmt.Errorf("streamed: %s: %w", name, err)
		}
		return m, rest, nil
	}
}

// ObjectRefMember returns the codec for a pointer-to-object member: the
// stored value is the classified reference, never a decoded object.
func ObjectRefMember(name string) codec.Codec {
	return func(m codec.Members, buf *iobuf.Buffer) (codec.Members, *iobuf.Buffer, error) {
		ref, rest, err := ReadObjectRef(buf)
		if err != nil {
			return nil, nil, fmt.Errorf("streamed: %s: %w", name, err)
		}
		m[name] = ref
		return m, rest, nil
	}
}

// Double32Member returns the codec for a Double32_t member, with its
// bit-packing parsed from the member's title annotation.
func Double32Member(name, title string) codec.Codec {
	params := codec.ParseDouble32Title(title)
	return func(m codec.Members, buf *iobuf.Buffer) (codec.Members, *iobuf.Buffer, error) {
		v, rest, err := codec.ReadDouble32(buf, params)
		if err != nil {
			return nil, nil, fmt.Errorf("streamed: %s: %w", name, err)
		}
		m[name] = v
		return m, rest, nil
	}
}

// ArrayMember returns the codec for a dynamically sized numeric array
// member whose element count lives in an earlier member, with the leading
// presence byte hand-written streamers emit before such arrays.
func ArrayMember(name, shapeField string, itemWidth int) codec.Codec {
	return codec.BasicArray(binary.BigEndian, name, shapeField, itemWidth, true)
}
