package tkey

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/scigolib/rootio/internal/iobuf"
	"github.com/scigolib/rootio/internal/utils"
)

// ErrCodecError is returned when a compression tag has no registered
// Decompressor, or when a registered one reports a mismatch.
var ErrCodecError = errors.New("tkey: codec error")

// Decompressor maps compressed bytes and a declared uncompressed size to
// plain bytes. The returned slice is copied out by the chained-block reader
// and recycled through the shared buffer pool afterwards, so implementations
// may allocate it with utils.GetBuffer and must not retain it.
type Decompressor func(compressed []byte, uncompressedSize int) ([]byte, error)

// compressionTag is the 2-byte algorithm identifier at the start of a ROOT
// compressed-block header (e.g. "ZL" zlib, "L4" lz4, "ZS" zstd).
type compressionTag [2]byte

var decompressors = map[compressionTag]Decompressor{}

func init() {
	RegisterDecompressor(compressionTag{'Z', 'L'}, decompressZlib)
	RegisterDecompressor(compressionTag{'L', '4'}, decompressLZ4)
	RegisterDecompressor(compressionTag{'Z', 'S'}, decompressZstd)
}

// RegisterDecompressor installs (or overrides) the Decompressor used for a
// 2-byte compression tag.
func RegisterDecompressor(tag [2]byte, d Decompressor) {
	decompressors[compressionTag(tag)] = d
}

func decompressZlib(compressed []byte, uncompressedSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("tkey: zlib: %w", err)
	}
	defer r.Close()
	out := utils.GetBuffer(uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("tkey: zlib: %w", err)
	}
	return out, nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	out := utils.GetBuffer(uncompressedSize)
	n, err := lz4.UncompressBlock(compressed, out)
	if err != nil {
		return nil, fmt.Errorf("tkey: lz4: %w", err)
	}
	return out[:n], nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("tkey: zstd: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(compressed, utils.GetBuffer(uncompressedSize)[:0])
	if err != nil {
		return nil, fmt.Errorf("tkey: zstd: %w", err)
	}
	return out, nil
}

// compressedBlockHeader is ROOT's classic packed compression-block header:
// a 2-byte algorithm tag, a 1-byte method/version, a 3-byte little-endian
// compressed size, and a 3-byte little-endian uncompressed size.
type compressedBlockHeader struct {
	Algo             compressionTag
	Method           byte
	CompressedSize   uint32
	UncompressedSize uint32
}

func readCompressedBlockHeader(buf *iobuf.Buffer) (compressedBlockHeader, *iobuf.Buffer, error) {
	data, rest, err := buf.Consume(9)
	if err != nil {
		return compressedBlockHeader{}, nil, fmt.Errorf("tkey: reading compression block header: %w", err)
	}
	h := compressedBlockHeader{
		Algo:             compressionTag{data[0], data[1]},
		Method:           data[2],
		CompressedSize:   uint32(data[3]) | uint32(data[4])<<8 | uint32(data[5])<<16,
		UncompressedSize: uint32(data[6]) | uint32(data[7])<<8 | uint32(data[8])<<16,
	}
	return h, rest, nil
}

// Decompress reads one or more chained RCompressed blocks from buf until
// want bytes of uncompressed output have been produced, dispatching each
// block through the Decompressor registered for its algorithm tag. ROOT
// splits large payloads (e.g. big TBaskets) into multiple chained blocks,
// each individually compressed.
func Decompress(buf *iobuf.Buffer, want int) ([]byte, error) {
	if err := utils.ValidateBufferSize(uint64(want), utils.MaxObjectSize, "tkey: decompressed object"); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
	}
	out := make([]byte, 0, want)
	cur := buf
	for len(out) < want {
		hdr, rest, err := readCompressedBlockHeader(cur)
		if err != nil {
			return nil, err
		}
		compressed, rest, err := rest.Consume(int(hdr.CompressedSize))
		if err != nil {
			return nil, fmt.Errorf("tkey: reading compressed block payload: %w", err)
		}
		dec, ok := decompressors[hdr.Algo]
		if !ok {
			return nil, fmt.Errorf("%w: unregistered compression tag %q", ErrCodecError, string(hdr.Algo[:]))
		}
		plain, err := dec(compressed, int(hdr.UncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCodecError, err)
		}
		if len(plain) != int(hdr.UncompressedSize) {
			return nil, fmt.Errorf("%w: decompressed block size mismatch: declared %d, got %d", ErrCodecError, hdr.UncompressedSize, len(plain))
		}
		out = append(out, plain...)
		utils.ReleaseBuffer(plain)
		cur = rest
	}
	if len(out) != want {
		return nil, fmt.Errorf("tkey: decompressed total %d bytes, want %d", len(out), want)
	}
	return out, nil
}
