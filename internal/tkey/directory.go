package tkey

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/rootio/internal/codec"
	"github.com/scigolib/rootio/internal/iobuf"
	"github.com/scigolib/rootio/internal/streamed"
)

// DirectoryHeader is the v6.22 TDirectory header: fVersion (encoding
// whether seeks are 64-bit, +1000 if so), two fDatime stamps, and the two
// associated-record byte counts.
type DirectoryHeader struct {
	Version    int16
	DatimeC    uint32
	DatimeM    uint32
	NBytesKeys int32
	NBytesName int32
}

// ClassVersion returns the TDirectory class version, stripped of the
// 64-bit-seek marker.
func (h DirectoryHeader) ClassVersion() int16 { return h.Version % 1000 }

// IsLarge reports whether the directory's seeks are 64-bit.
func (h DirectoryHeader) IsLarge() bool { return h.Version > 1000 }

var directoryHeaderCodec = codec.Compose(
	codec.Fmt(binary.BigEndian, "fVersion", "h"),
	codec.Fmt(binary.BigEndian, "fDatimeC", "I"),
	codec.Fmt(binary.BigEndian, "fDatimeM", "I"),
	codec.Fmt(binary.BigEndian, "fNbytesKeys", "i"),
	codec.Fmt(binary.BigEndian, "fNbytesName", "i"),
)

func readDirectoryHeader(buf *iobuf.Buffer) (DirectoryHeader, *iobuf.Buffer, error) {
	m, rest, err := codec.ReadRecord(directoryHeaderCodec, buf)
	if err != nil {
		return DirectoryHeader{}, nil, fmt.Errorf("tkey: reading directory header: %w", err)
	}
	return DirectoryHeader{
		Version:    int16(m.Int("fVersion")),
		DatimeC:    uint32(m.Int("fDatimeC")),
		DatimeM:    uint32(m.Int("fDatimeM")),
		NBytesKeys: int32(m.Int("fNbytesKeys")),
		NBytesName: int32(m.Int("fNbytesName")),
	}, rest, nil
}

// Directory is a TDirectory: the short/long seek forms, an optional TUUID
// (version > 1), and (in the short form) 12 bytes of reserved padding that
// allow later in-place upgrade to 64-bit seeks.
type Directory struct {
	Header     DirectoryHeader
	SeekDir    int64
	SeekParent int64
	SeekKeys   int64
	UUID       *streamed.TUUID
}

// ReadDirectory reads a TDirectory from buf.
func ReadDirectory(buf *iobuf.Buffer) (Directory, *iobuf.Buffer, error) {
	hdr, rest, err := readDirectoryHeader(buf)
	if err != nil {
		return Directory{}, nil, err
	}

	var seekDir, seekParent, seekKeys int64
	if hdr.IsLarge() {
		vals, r2, err := rest.Unpack(binary.BigEndian, "qqq")
		if err != nil {
			return Directory{}, nil, fmt.Errorf("tkey: reading 64-bit directory seeks: %w", err)
		}
		seekDir, seekParent, seekKeys, rest = vals[0], vals[1], vals[2], r2
	} else {
		vals, r2, err := rest.Unpack(binary.BigEndian, "iii")
		if err != nil {
			return Directory{}, nil, fmt.Errorf("tkey: reading 32-bit directory seeks: %w", err)
		}
		seekDir, seekParent, seekKeys, rest = vals[0], vals[1], vals[2], r2
	}

	var uuid *streamed.TUUID
	if hdr.ClassVersion() > 1 {
		u, r2, err := streamed.ReadTUUID(rest)
		if err != nil {
			return Directory{}, nil, fmt.Errorf("tkey: reading directory UUID: %w", err)
		}
		uuid = &u
		rest = r2
	}

	if !hdr.IsLarge() {
		_, r2, err := rest.Consume(12)
		if err != nil {
			return Directory{}, nil, fmt.Errorf("tkey: consuming directory padding: %w", err)
		}
		rest = r2
	}

	return Directory{Header: hdr, SeekDir: seekDir, SeekParent: seekParent, SeekKeys: seekKeys, UUID: uuid}, rest, nil
}

// KeyList is a TKeyList: the keys found in a directory, keyed by name with
// max-cycle-wins lookup semantics.
type KeyList struct {
	Keys    []Key
	Padding []byte
}

// ReadKeyList reads a TKeyList from buf: an i32 count, that many TKeys, and
// (when the list mixes short and long keys) 8 bytes of reserved padding per
// short key, to allow later in-place upgrade to 64-bit seeks. A list whose
// keys are all short, or all long, carries no padding.
func ReadKeyList(buf *iobuf.Buffer) (KeyList, *iobuf.Buffer, error) {
	vals, rest, err := buf.Unpack(binary.BigEndian, "i")
	if err != nil {
		return KeyList{}, nil, fmt.Errorf("tkey: reading key list count: %w", err)
	}
	n := int(vals[0])
	if n < 0 {
		return KeyList{}, nil, fmt.Errorf("%w: negative key list count %d", ErrInvalid, n)
	}
	keys := make([]Key, 0, n)
	for i := 0; i < n; i++ {
		var k Key
		k, rest, err = ReadKey(rest)
		if err != nil {
			return KeyList{}, nil, fmt.Errorf("tkey: reading key %d: %w", i, err)
		}
		keys = append(keys, k)
	}
	var padding []byte
	nShort := 0
	for _, k := range keys {
		if k.IsShort() {
			nShort++
		}
	}
	if nShort > 0 && nShort != len(keys) {
		padding, rest, err = rest.Consume(8 * nShort)
		if err != nil {
			return KeyList{}, nil, fmt.Errorf("tkey: consuming key list padding: %w", err)
		}
	}
	return KeyList{Keys: keys, Padding: padding}, rest, nil
}

// Lookup returns the key named name with the maximum cycle number among any
// duplicates, or false if none match.
func (kl KeyList) Lookup(name string) (Key, bool) {
	var best Key
	found := false
	for _, k := range kl.Keys {
		if string(k.Name.Value) != name {
			continue
		}
		if !found || k.Header.Cycle > best.Header.Cycle {
			best = k
			found = true
		}
	}
	return best, found
}

// GetKeyList fetches and reads the TKeyList this directory's fSeekKeys
// points to, validating it against the directory's own seek fields.
func (d Directory) GetKeyList(fetch iobuf.Fetch) (KeyList, error) {
	raw, err := fetch(uint64(d.SeekKeys), uint64(d.Header.NBytesName+d.Header.NBytesKeys))
	if err != nil {
		return KeyList{}, fmt.Errorf("tkey: fetching directory key list: %w", err)
	}
	full := raw.Bytes()

	key, _, err := ReadKey(raw)
	if err != nil {
		return KeyList{}, fmt.Errorf("tkey: reading directory key-list TKey: %w", err)
	}
	if key.SeekKey != d.SeekKeys {
		return KeyList{}, fmt.Errorf("%w: key-list fSeekKey mismatch: %d != %d", ErrCorrupt, key.SeekKey, d.SeekKeys)
	}
	if key.SeekPdir != d.SeekDir {
		return KeyList{}, fmt.Errorf("%w: key-list fSeekPdir mismatch: %d != %d", ErrCorrupt, key.SeekPdir, d.SeekDir)
	}

	cached := func(seek, size uint64) (*iobuf.Buffer, error) {
		off := int64(seek) - d.SeekKeys
		if off < 0 || off+int64(size) > int64(len(full)) {
			return nil, fmt.Errorf("tkey: fetch_cached: seek=%d size=%d out of range", seek, size)
		}
		return iobuf.New(full[off:off+int64(size):off+int64(size)], -1), nil
	}

	return ReadObjectAs(key, cached, "TKeyList", false, ReadKeyList)
}
