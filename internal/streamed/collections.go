package streamed

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/rootio/internal/codec"
	"github.com/scigolib/rootio/internal/iobuf"
)

// ReadObjectRef reads a pointer-to-object member. A null pointer and an
// unresolved reference both materialize as-is without dereferencing; an
// inlined object is skipped over, not decoded.
func ReadObjectRef(buf *iobuf.Buffer) (codec.Ref, *iobuf.Buffer, error) {
	ref, rest, err := codec.ReadRef(buf)
	if err != nil {
		return codec.Ref{}, nil, err
	}
	if ref.Kind == codec.RefInline {
		_, rest, err = rest.Consume(int(ref.Skipped))
		if err != nil {
			return codec.Ref{}, nil, fmt.Errorf("streamed: skipping inlined object of %d bytes: %w", ref.Skipped, err)
		}
	}
	return ref, rest, nil
}

// TObjArray is ROOT's ordered collection of object pointers. The element
// objects themselves are not decoded: each entry is the pointer word
// classified by the reference codec, with inlined objects skipped.
type TObjArray struct {
	Header     StreamHeader
	Object     TObject
	Name       TString
	LowerBound int32
	Refs       []codec.Ref
}

var tobjArrayMembersCodec = codec.Compose(
	codec.Fmt(binary.BigEndian, "fNobjects", "i"),
	codec.Fmt(binary.BigEndian, "fLowerBound", "i"),
)

// ReadTObjArray reads a TObjArray: its own stream header, TObject as a
// depth-1 base class, the collection name, bounds, and one object pointer
// per element.
func ReadTObjArray(buf *iobuf.Buffer) (TObjArray, *iobuf.Buffer, error) {
	start := buf.RelPos()
	hdr, rest, err := Read(buf)
	if err != nil {
		return TObjArray{}, nil, err
	}
	if err := checkClassName(hdr, "TObjArray"); err != nil {
		return TObjArray{}, nil, err
	}
	endPos := start + uint64(hdr.ByteCount) + 4

	obj, rest, err := ReadTObject(rest, 1)
	if err != nil {
		return TObjArray{}, nil, fmt.Errorf("streamed: TObjArray: reading TObject base: %w", err)
	}
	name, rest, err := ReadTString(rest)
	if err != nil {
		return TObjArray{}, nil, fmt.Errorf("streamed: TObjArray: reading fName: %w", err)
	}
	m, rest, err := codec.ReadRecord(tobjArrayMembersCodec, rest)
	if err != nil {
		return TObjArray{}, nil, fmt.Errorf("streamed: TObjArray: reading bounds: %w", err)
	}
	n := int(m.Int("fNobjects"))
	if n < 0 {
		return TObjArray{}, nil, fmt.Errorf("streamed: TObjArray: %w: negative element count %d", ErrInvalid, n)
	}

	refs := make([]codec.Ref, 0, n)
	for i := 0; i < n; i++ {
		var ref codec.Ref
		ref, rest, err = ReadObjectRef(rest)
		if err != nil {
			return TObjArray{}, nil, fmt.Errorf("streamed: TObjArray: reading element %d: %w", i, err)
		}
		refs = append(refs, ref)
	}

	if rest.RelPos() != endPos {
		return TObjArray{}, nil, fmt.Errorf("streamed: TObjArray: expected end position %d, got %d", endPos, rest.RelPos())
	}
	return TObjArray{
		Header:     hdr,
		Object:     obj,
		Name:       name,
		LowerBound: int32(m.Int("fLowerBound")),
		Refs:       refs,
	}, rest, nil
}

func init() {
	Register("TObjArray", func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error) {
		obj, rest, err := ReadTObjArray(buf)
		return obj, rest, err
	})
}
