package tkey

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/rootio/internal/iobuf"
	"github.com/scigolib/rootio/internal/streamed"
)

// fileMagic is the 4-byte identifier every ROOT file starts with.
const fileMagic = "root"

// bigFileVersion is the fVersion threshold above which file-level seek
// fields (fEND, fSeekFree, fSeekInfo) are written as 8 bytes rather than 4.
const bigFileVersion = 1000000

// FileHeader is the fixed-layout record at the very start of a ROOT file:
// the "root" magic, a format version, and the seek/size fields needed to
// locate the root TDirectory's own wrapping TKey at fBEGIN.
type FileHeader struct {
	Version    int32
	Begin      int64
	End        int64
	SeekFree   int64
	NBytesFree int32
	NFree      int32
	NBytesName int32
	Units      byte
	Compress   int32
	SeekInfo   int64
	NBytesInfo int32
}

// IsBig reports whether this file uses 64-bit seek fields.
func (h FileHeader) IsBig() bool { return h.Version >= bigFileVersion }

func readFileHeader(fetch iobuf.Fetch) (FileHeader, error) {
	buf, err := fetch(0, 64)
	if err != nil {
		return FileHeader{}, fmt.Errorf("tkey: fetching file header: %w", err)
	}

	magic, rest, err := buf.Consume(4)
	if err != nil {
		return FileHeader{}, fmt.Errorf("tkey: reading file magic: %w", err)
	}
	if string(magic) != fileMagic {
		return FileHeader{}, fmt.Errorf("%w: missing %q magic, got %q", ErrInvalid, fileMagic, magic)
	}

	vals, rest, err := rest.Unpack(binary.BigEndian, "i")
	if err != nil {
		return FileHeader{}, fmt.Errorf("tkey: reading fVersion: %w", err)
	}
	version := int32(vals[0])
	big := version >= bigFileVersion

	var begin, end, seekFree int64
	var nbytesFree, nfree, nbytesName int32
	if big {
		vals, rest, err = rest.Unpack(binary.BigEndian, "iqqiii")
		if err != nil {
			return FileHeader{}, fmt.Errorf("tkey: reading big-file header fields: %w", err)
		}
		begin, end, seekFree = vals[0], vals[1], vals[2]
		nbytesFree, nfree, nbytesName = int32(vals[3]), int32(vals[4]), int32(vals[5])
	} else {
		vals, rest, err = rest.Unpack(binary.BigEndian, "iiiiii")
		if err != nil {
			return FileHeader{}, fmt.Errorf("tkey: reading header fields: %w", err)
		}
		begin, end, seekFree = vals[0], vals[1], vals[2]
		nbytesFree, nfree, nbytesName = int32(vals[3]), int32(vals[4]), int32(vals[5])
	}

	unitsRaw, rest, err := rest.Consume(1)
	if err != nil {
		return FileHeader{}, fmt.Errorf("tkey: reading fUnits: %w", err)
	}

	vals, rest, err = rest.Unpack(binary.BigEndian, "i")
	if err != nil {
		return FileHeader{}, fmt.Errorf("tkey: reading fCompress: %w", err)
	}
	compress := int32(vals[0])

	var seekInfo int64
	if big {
		vals, rest, err = rest.Unpack(binary.BigEndian, "q")
	} else {
		vals, rest, err = rest.Unpack(binary.BigEndian, "i")
	}
	if err != nil {
		return FileHeader{}, fmt.Errorf("tkey: reading fSeekInfo: %w", err)
	}
	seekInfo = vals[0]

	vals, _, err = rest.Unpack(binary.BigEndian, "i")
	if err != nil {
		return FileHeader{}, fmt.Errorf("tkey: reading fNbytesInfo: %w", err)
	}

	return FileHeader{
		Version:    version,
		Begin:      begin,
		End:        end,
		SeekFree:   seekFree,
		NBytesFree: nbytesFree,
		NFree:      nfree,
		NBytesName: nbytesName,
		Units:      unitsRaw[0],
		Compress:   compress,
		SeekInfo:   seekInfo,
		NBytesInfo: int32(vals[0]),
	}, nil
}

// maxAnchorKeySize bounds the single fetch used to read the root
// directory's wrapping TKey: big enough for any realistic fName/fTitle pair
// without needing to learn the key's length up front.
const maxAnchorKeySize = 4096

// File is a parsed ROOT file: its header plus the root TDirectory reached
// through the TKey at fBEGIN. Name and Title are the file's own, stored as
// bare strings ahead of the directory record inside that key.
type File struct {
	Header    FileHeader
	RootKey   Key
	Name      streamed.TString
	Title     streamed.TString
	Directory Directory
}

// ReadFile reads the file header and root TDirectory via fetch. The root
// TDirectory is stored uncompressed directly after its wrapping TKey, so its
// body is read without going through the RCompressed dispatch fetchBody
// otherwise uses for class records.
func ReadFile(fetch iobuf.Fetch) (File, error) {
	header, err := readFileHeader(fetch)
	if err != nil {
		return File{}, err
	}

	keyLen := int64(maxAnchorKeySize)
	if avail := header.End - header.Begin; avail < keyLen {
		keyLen = avail
	}
	keyBuf, err := fetch(uint64(header.Begin), uint64(keyLen))
	if err != nil {
		return File{}, fmt.Errorf("tkey: fetching root TKey: %w", err)
	}
	key, _, err := ReadKey(keyBuf)
	if err != nil {
		return File{}, fmt.Errorf("tkey: reading root TKey: %w", err)
	}

	dirBuf, err := fetch(uint64(key.SeekKey+int64(key.Header.KeyLen)), uint64(key.Header.ObjLen))
	if err != nil {
		return File{}, fmt.Errorf("tkey: fetching root TDirectory: %w", err)
	}
	name, rest, err := streamed.ReadTString(dirBuf)
	if err != nil {
		return File{}, fmt.Errorf("tkey: reading file name: %w", err)
	}
	title, rest, err := streamed.ReadTString(rest)
	if err != nil {
		return File{}, fmt.Errorf("tkey: reading file title: %w", err)
	}
	dir, _, err := ReadDirectory(rest)
	if err != nil {
		return File{}, fmt.Errorf("tkey: reading root TDirectory: %w", err)
	}

	return File{Header: header, RootKey: key, Name: name, Title: title, Directory: dir}, nil
}

// KeyList fetches and reads the TKeyList of this file's root directory.
func (f File) KeyList(fetch iobuf.Fetch) (KeyList, error) {
	return f.Directory.GetKeyList(fetch)
}
