// Package codec implements the per-field decoders the engine composes into
// record readers: fixed-format primitives, optional fields, fixed/size-
// prefixed/external-size arrays, std::vector/map, pointer/reference codecs,
// and the Double32 bit-packed composite. Each family is a first-class Go
// function composed explicitly per record type rather than dispatched
// through a reflection/struct-tag framework.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/scigolib/rootio/internal/iobuf"
)

// ErrUnimplemented is returned by codec families that are recognized by the
// engine but deliberately not decoded (std::map memberwise serialization,
// std::set/deque/pair reserved slots).
var ErrUnimplemented = errors.New("codec: unimplemented")

// Members is the mutable field bag a composed record decoder threads
// through its codecs.
type Members map[string]any

// Int returns the named scalar member. Codecs store every fixed-width
// integer as int64; unsigned values keep their bit pattern and are cast
// back by the caller.
func (m Members) Int(name string) int64 {
	v, _ := m[name].(int64)
	return v
}

// OptInt returns the named scalar member and whether an optional-presence
// codec actually read it.
func (m Members) OptInt(name string) (int64, bool) {
	v, ok := m[name].(int64)
	return v, ok
}

// Str returns the named string member, as stored by a string-reading codec.
func (m Members) Str(name string) string {
	v, _ := m[name].(string)
	return v
}

// Ints returns the named homogeneous-array member.
func (m Members) Ints(name string) []int64 {
	v, _ := m[name].([]int64)
	return v
}

// Codec reads one logical field (or group of fields) out of buf, returning
// the updated member bag and the remaining buffer.
type Codec func(Members, *iobuf.Buffer) (Members, *iobuf.Buffer, error)

// Compose chains codecs into one: the record decoder for a declared type is
// the concatenation of its per-field codecs in declaration order.
func Compose(codecs ...Codec) Codec {
	return func(m Members, buf *iobuf.Buffer) (Members, *iobuf.Buffer, error) {
		var err error
		for _, c := range codecs {
			m, buf, err = c(m, buf)
			if err != nil {
				return nil, nil, err
			}
		}
		return m, buf, nil
	}
}

// ReadRecord runs a composed record codec over a fresh member bag.
func ReadRecord(c Codec, buf *iobuf.Buffer) (Members, *iobuf.Buffer, error) {
	return c(Members{}, buf)
}

// Fmt reads a fixed-format primitive tuple per spec and assigns it to name.
// When spec unpacks to a single value, members[name] is that scalar int64;
// otherwise it is the []int64 tuple.
func Fmt(order binary.ByteOrder, name, spec string) Codec {
	return func(m Members, buf *iobuf.Buffer) (Members, *iobuf.Buffer, error) {
		vals, rest, err := buf.Unpack(order, spec)
		if err != nil {
			return nil, nil, fmt.Errorf("codec: Fmt(%s): %w", name, err)
		}
		if len(vals) == 1 {
			m[name] = vals[0]
		} else {
			m[name] = vals
		}
		return m, rest, nil
	}
}

// OptionalField reads via inner only when members[flagName]&flagMask != 0;
// otherwise it leaves the member unset (absent from the bag) and the buffer
// alone.
func OptionalField(flagName string, flagMask int64, inner Codec) Codec {
	return func(m Members, buf *iobuf.Buffer) (Members, *iobuf.Buffer, error) {
		flag, ok := m[flagName].(int64)
		if !ok {
			return nil, nil, fmt.Errorf("codec: OptionalField: flag field %q missing or wrong type", flagName)
		}
		if flag&flagMask == 0 {
			return m, buf, nil
		}
		return inner(m, buf)
	}
}

// FixedSizeArray reads size homogeneous itemWidth-byte values in order,
// yielding them as a []int64.
func FixedSizeArray(order binary.ByteOrder, name string, itemWidth, size int) Codec {
	return func(m Members, buf *iobuf.Buffer) (Members, *iobuf.Buffer, error) {
		out := make([]int64, 0, size)
		cur := buf
		for i := 0; i < size; i++ {
			spec := widthSpec(itemWidth)
			vals, rest, err := cur.Unpack(order, spec)
			if err != nil {
				return nil, nil, fmt.Errorf("codec: FixedSizeArray(%s)[%d]: %w", name, i, err)
			}
			out = append(out, vals[0])
			cur = rest
		}
		m[name] = out
		return m, cur, nil
	}
}

// CArray reads a big-endian i32 count followed by count itemWidth-byte
// values.
func CArray(itemOrder binary.ByteOrder, name string, itemWidth int) Codec {
	return func(m Members, buf *iobuf.Buffer) (Members, *iobuf.Buffer, error) {
		n, rest, err := buf.Unpack(binary.BigEndian, "i")
		if err != nil {
			return nil, nil, fmt.Errorf("codec: CArray(%s): reading count: %w", name, err)
		}
		count := int(n[0])
		if count < 0 {
			return nil, nil, fmt.Errorf("codec: CArray(%s): invalid negative count %d", name, count)
		}
		out := make([]int64, 0, count)
		cur := rest
		for i := 0; i < count; i++ {
			vals, r2, err := cur.Unpack(itemOrder, widthSpec(itemWidth))
			if err != nil {
				return nil, nil, fmt.Errorf("codec: CArray(%s)[%d]: %w", name, i, err)
			}
			out = append(out, vals[0])
			cur = r2
		}
		m[name] = out
		return m, cur, nil
	}
}

// BasicArray reads an array whose element count comes from an earlier
// member (shapeField), preceded by a pad byte governing empty vs present
// when hasPad is set.
func BasicArray(itemOrder binary.ByteOrder, name, shapeField string, itemWidth int, hasPad bool) Codec {
	return func(m Members, buf *iobuf.Buffer) (Members, *iobuf.Buffer, error) {
		nRaw, ok := m[shapeField]
		if !ok {
			return nil, nil, fmt.Errorf("codec: BasicArray(%s): shape field %q missing", name, shapeField)
		}
		n, ok := nRaw.(int64)
		if !ok {
			return nil, nil, fmt.Errorf("codec: BasicArray(%s): shape field %q not an integer", name, shapeField)
		}
		cur := buf
		if hasPad {
			pad, rest, err := cur.Consume(1)
			if err != nil {
				return nil, nil, fmt.Errorf("codec: BasicArray(%s): reading pad byte: %w", name, err)
			}
			switch {
			case n == 0 && pad[0] == 0x00:
			case n > 0 && pad[0] == 0x01:
			default:
				return nil, nil, fmt.Errorf("codec: BasicArray(%s): invalid pad byte 0x%02x for size %d", name, pad[0], n)
			}
			cur = rest
		}
		out := make([]int64, 0, n)
		for i := int64(0); i < n; i++ {
			vals, rest, err := cur.Unpack(itemOrder, widthSpec(itemWidth))
			if err != nil {
				return nil, nil, fmt.Errorf("codec: BasicArray(%s)[%d]: %w", name, i, err)
			}
			out = append(out, vals[0])
			cur = rest
		}
		m[name] = out
		return m, cur, nil
	}
}

func widthSpec(width int) string {
	switch width {
	case 1:
		return "B"
	case 2:
		return "H"
	case 4:
		return "I"
	case 8:
		return "Q"
	default:
		return "B"
	}
}

// ItemReader reads one instance of T from buf, returning the remainder.
type ItemReader[T any] func(buf *iobuf.Buffer) (T, *iobuf.Buffer, error)

// ReadStdVector reads a std::vector<T>: big-endian i32 count, then count
// inner reads via item. The caller is responsible for peeling any
// outermost StreamHeader first (it is suppressed for directly nested
// vectors), since that belongs to the streamed-object layer, not the
// container codec itself.
func ReadStdVector[T any](buf *iobuf.Buffer, item ItemReader[T]) ([]T, *iobuf.Buffer, error) {
	n, rest, err := buf.Unpack(binary.BigEndian, "i")
	if err != nil {
		return nil, nil, fmt.Errorf("codec: StdVector: reading count: %w", err)
	}
	count := int(n[0])
	if count < 0 {
		return nil, nil, fmt.Errorf("codec: StdVector: invalid negative count %d", count)
	}
	out := make([]T, 0, count)
	cur := rest
	for i := 0; i < count; i++ {
		v, r2, err := item(cur)
		if err != nil {
			return nil, nil, fmt.Errorf("codec: StdVector[%d]: %w", i, err)
		}
		out = append(out, v)
		cur = r2
	}
	return out, cur, nil
}

// ReadStdMap always fails: std::map uses ROOT's memberwise serialization,
// which this engine does not support.
func ReadStdMap(buf *iobuf.Buffer) (*iobuf.Buffer, error) {
	return nil, fmt.Errorf("codec: std::map memberwise serialization: %w", ErrUnimplemented)
}

// ReadStdSet, ReadStdDeque and ReadStdPair are reserved codec slots.
func ReadStdSet(buf *iobuf.Buffer) (*iobuf.Buffer, error)   { return nil, ErrUnimplemented }
func ReadStdDeque(buf *iobuf.Buffer) (*iobuf.Buffer, error) { return nil, ErrUnimplemented }
func ReadStdPair(buf *iobuf.Buffer) (*iobuf.Buffer, error)  { return nil, ErrUnimplemented }

// RefKind discriminates the pointer/reference sum type.
type RefKind int

const (
	RefNull RefKind = iota
	RefInline
	RefExternal
)

// Ref is the pointer/reference codec's result: Null, Inline(skippedBytes),
// or External(offset) — external references are never dereferenced by this
// engine (cyclic reference resolution is a caller concern).
type Ref struct {
	Kind    RefKind
	Skipped uint32 // valid when Kind == RefInline
	Offset  uint32 // valid when Kind == RefExternal
}

const refInlineMask = 0x40000000

// ReadRef reads the big-endian i32 pointer/reference word and classifies it.
func ReadRef(buf *iobuf.Buffer) (Ref, *iobuf.Buffer, error) {
	vals, rest, err := buf.Unpack(binary.BigEndian, "I")
	if err != nil {
		return Ref{}, nil, fmt.Errorf("codec: Ref: %w", err)
	}
	addr := uint32(vals[0])
	switch {
	case addr == 0:
		return Ref{Kind: RefNull}, rest, nil
	case addr&refInlineMask != 0:
		return Ref{Kind: RefInline, Skipped: addr &^ refInlineMask}, rest, nil
	default:
		return Ref{Kind: RefExternal, Offset: addr}, rest, nil
	}
}

// Double32Params is the title-parsed (xmin, xmax, nbits) triple controlling
// how a Double32 field is bit-packed on disk.
type Double32Params struct {
	Min   float64
	Max   float64
	NBits int
}

// DefaultDouble32Params is the fallback for malformed or absent titles:
// a plain 32-bit read with no rescaling.
var DefaultDouble32Params = Double32Params{Min: 0, Max: 0, NBits: 32}

// ParseDouble32Title parses a ROOT member title annotation of the form
// "[xmin,xmax]" or "[xmin,xmax,nbits]" into Double32Params, falling back to
// DefaultDouble32Params on any parse failure rather than erroring, the same
// leniency TBufferFile itself applies to malformed titles.
func ParseDouble32Title(title string) Double32Params {
	start := strings.IndexByte(title, '[')
	end := strings.IndexByte(title, ']')
	if start < 0 || end < 0 || end <= start {
		return DefaultDouble32Params
	}
	parts := strings.Split(title[start+1:end], ",")
	if len(parts) < 2 {
		return DefaultDouble32Params
	}
	min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return DefaultDouble32Params
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return DefaultDouble32Params
	}
	nbits := 32
	if len(parts) >= 3 {
		n, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return DefaultDouble32Params
		}
		nbits = n
	}
	return Double32Params{Min: min, Max: max, NBits: nbits}
}

// ReadDouble32 reads ceil(nbits/8) bytes as a big-endian unsigned integer and
// rescales it to a float using params; when params are the zero default, it
// instead reads a plain IEEE-754 float32.
func ReadDouble32(buf *iobuf.Buffer, params Double32Params) (float64, *iobuf.Buffer, error) {
	if params.NBits <= 0 {
		return 0, nil, fmt.Errorf("codec: Double32: invalid nbits %d", params.NBits)
	}
	if params == DefaultDouble32Params || (params.Min == 0 && params.Max == 0) {
		vals, rest, err := buf.Unpack(binary.BigEndian, "I")
		if err != nil {
			return 0, nil, fmt.Errorf("codec: Double32 (f32 fallback): %w", err)
		}
		bits := uint32(vals[0])
		return float64(math.Float32frombits(bits)), rest, nil
	}
	nbytes := (params.NBits + 7) / 8
	if nbytes > 8 {
		return 0, nil, fmt.Errorf("codec: Double32: nbits %d exceeds 64-bit storage", params.NBits)
	}
	raw, rest, err := buf.Consume(nbytes)
	if err != nil {
		return 0, nil, fmt.Errorf("codec: Double32: %w", err)
	}
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	maxVal := uint64(1)<<uint(params.NBits) - 1
	frac := float64(v) / float64(maxVal)
	return params.Min + frac*(params.Max-params.Min), rest, nil
}
