// Package streamed implements the polymorphic streamed-object layer: the
// per-object StreamHeader (version XOR new-class XOR back-reference), the
// in-buffer class-name local-refs table, normalized class-name keys, and a
// small registry of the structural classes this engine reads directly
// (TObject, TNamed, ROOT::TIOFeatures, the TArray family and TObjArray), with
// the Uninterpreted catch-all returned for any other class name. The
// dynamic class-builder that turns arbitrary StreamerInfo records into
// decoders for user types stays an external collaborator (spec §1
// Non-goals); this registry only covers the classes the core itself needs
// to traverse the file structure.
package streamed

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/scigolib/rootio/internal/iobuf"
)

const (
	byteCountMask int32  = 0x40000000
	classMask     uint32 = 0x80000000
	newClassTag   uint32 = 0xFFFFFFFF
	notAVersion   uint16 = 0x8000
)

// StreamHeader is the header every streamed ROOT object begins with. When
// the byte-count word's high bit is set, ByteCount/Version or ByteCount/
// ClassName are populated ("fresh" object). When the high bit is absent,
// the whole word is a back-reference to an object read earlier in the same
// buffer: ClassRef holds that reference and every other field is zero.
type StreamHeader struct {
	ByteCount int32
	Version   *uint16
	ClassName []byte
	ClassRef  *int64
}

// Read reads a StreamHeader. The constants are TBufferFile's:
// kByteCountMask=0x40000000, kClassMask=0x80000000,
// kNewClassTag=0xFFFFFFFF, kNotAVersion=0x8000.
func Read(buf *iobuf.Buffer) (StreamHeader, *iobuf.Buffer, error) {
	raw, err := buf.Peek(4)
	if err != nil {
		return StreamHeader{}, nil, fmt.Errorf("streamed: peeking stream header: %w", err)
	}
	byteCount := int32(binary.BigEndian.Uint32(raw[0:4]))

	if uint32(byteCount)&uint32(byteCountMask) == 0 {
		// The whole word is a reference to an object read earlier in the buffer.
		_, rest, err := buf.Consume(4)
		if err != nil {
			return StreamHeader{}, nil, fmt.Errorf("streamed: consuming object back-reference: %w", err)
		}
		ref := int64(byteCount)
		return StreamHeader{ClassRef: &ref}, rest, nil
	}
	byteCount &^= byteCountMask

	raw, err = buf.Peek(6)
	if err != nil {
		return StreamHeader{}, nil, fmt.Errorf("streamed: peeking stream header version: %w", err)
	}
	tmp1 := binary.BigEndian.Uint16(raw[4:6])
	if tmp1&notAVersion == 0 {
		version := tmp1
		_, rest, err := buf.Consume(6)
		if err != nil {
			return StreamHeader{}, nil, fmt.Errorf("streamed: consuming version header: %w", err)
		}
		return StreamHeader{ByteCount: byteCount, Version: &version}, rest, nil
	}

	raw, err = buf.Peek(8)
	if err != nil {
		return StreamHeader{}, nil, fmt.Errorf("streamed: peeking stream header class info: %w", err)
	}
	tmp2 := binary.BigEndian.Uint16(raw[6:8])
	classInfo := (uint32(tmp1) << 16) | uint32(tmp2)
	_, rest, err := buf.Consume(8)
	if err != nil {
		return StreamHeader{}, nil, fmt.Errorf("streamed: consuming class-info header: %w", err)
	}

	if classInfo == newClassTag {
		classRef := int64(rest.RelPos()) - 4
		name, rest2, err := readCString(rest)
		if err != nil {
			return StreamHeader{}, nil, err
		}
		if !isPrintableASCII(name) {
			return StreamHeader{}, nil, fmt.Errorf("streamed: %w: class name %q is not printable ASCII", ErrInvalid, name)
		}
		rest2.LocalRefs()[uint64(classRef)] = name
		return StreamHeader{ByteCount: byteCount, ClassName: name, ClassRef: &classRef}, rest2, nil
	}

	ref := int64(classInfo&^classMask) - 2
	name, ok := rest.LocalRefs()[uint64(ref)]
	if !ok {
		return StreamHeader{}, nil, fmt.Errorf("streamed: class back-reference %d not found in local refs", ref)
	}
	return StreamHeader{ByteCount: byteCount, ClassName: name, ClassRef: &ref}, rest, nil
}

func readCString(buf *iobuf.Buffer) ([]byte, *iobuf.Buffer, error) {
	var out []byte
	cur := buf
	for {
		b, rest, err := cur.Consume(1)
		if err != nil {
			return nil, nil, fmt.Errorf("streamed: reading class-name c-string: %w", err)
		}
		if b[0] == 0 {
			return out, rest, nil
		}
		out = append(out, b[0])
		cur = rest
	}
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// Normalize produces the stable dictionary key for a raw class-name: ASCII
// with `:`->`3a`, `<`->`3c`, `>`->`3e`, `,`->`2c`, space->`_`, and a
// `const_` prefix stripped.
func Normalize(raw []byte) string {
	s := string(raw)
	s = strings.ReplaceAll(s, ":", "3a")
	s = strings.ReplaceAll(s, "<", "3c")
	s = strings.ReplaceAll(s, ">", "3e")
	s = strings.ReplaceAll(s, ",", "2c")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.TrimPrefix(s, "const_")
	return s
}

func checkClassName(hdr StreamHeader, expected string) error {
	if len(hdr.ClassName) == 0 {
		return nil
	}
	if got := Normalize(hdr.ClassName); got != expected {
		return fmt.Errorf("streamed: %w: expected class %s but got %s", ErrUnknownClass, expected, got)
	}
	return nil
}

// Decoder reads one instance of a registered class from buf.
type Decoder func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error)

var classDict = map[string]Decoder{}

func init() {
	Register("TObject", func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error) {
		obj, rest, err := ReadTObject(buf, 0)
		return obj, rest, err
	})
	Register("TNamed", func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error) {
		obj, rest, err := ReadTNamed(buf)
		return obj, rest, err
	})
	Register("ROOT3a3aTIOFeatures", func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error) {
		obj, rest, err := ReadTIOFeatures(buf, TIOFeaturesModeConditional)
		return obj, rest, err
	})
}

// Register adds, or overrides, the decoder for a normalized class name. A
// caller-supplied dynamic class-builder (outside this engine's scope) would
// call this to extend the dictionary with types discovered from a file's
// StreamerInfo records.
func Register(className string, dec Decoder) { classDict[className] = dec }

// Lookup returns the registered decoder for className, falling back to the
// Uninterpreted catch-all (header plus raw undecoded bytes) when the class
// is not registered, so unknown classes skip cleanly instead of failing.
func Lookup(className string) Decoder {
	if dec, ok := classDict[className]; ok {
		return dec
	}
	return func(buf *iobuf.Buffer) (any, *iobuf.Buffer, error) {
		obj, rest, err := ReadUninterpreted(buf)
		return obj, rest, err
	}
}
