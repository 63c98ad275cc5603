package iobuf

import (
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// OpenFile opens path and returns a Fetch backed by os.File.ReadAt, plus a
// closer the caller must invoke once done. Short reads are reported as
// I/O errors rather than silently returning fewer bytes, matching the
// Fetch contract.
func OpenFile(path string) (Fetch, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("iobuf: open %s: %w", path, err)
	}
	fetch := func(offset, length uint64) (*Buffer, error) {
		buf := make([]byte, length)
		n, err := f.ReadAt(buf, int64(offset))
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("iobuf: read %d bytes at %d from %s: %w", length, offset, path, err)
		}
		if uint64(n) != length {
			return nil, fmt.Errorf("iobuf: short read at %d: wanted %d, got %d", offset, length, n)
		}
		return New(buf, int64(offset)), nil
	}
	return fetch, f, nil
}

// OpenMmap opens path and returns a Fetch backed by a read-only memory
// mapping, exercising a second ByteRangeFetch backend alongside the
// os.File-backed one (real-world callers prefer this for large files that
// are read many times, e.g. repeated RNTuple page fetches).
func OpenMmap(path string) (Fetch, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("iobuf: open %s: %w", path, err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("iobuf: mmap %s: %w", path, err)
	}
	fetch := func(offset, length uint64) (*Buffer, error) {
		end := offset + length
		if end > uint64(len(m)) || end < offset {
			return nil, fmt.Errorf("iobuf: short read at %d: mapping is %d bytes, wanted %d", offset, len(m), length)
		}
		buf := make([]byte, length)
		copy(buf, m[offset:end])
		return New(buf, int64(offset)), nil
	}
	return fetch, mmapCloser{m: m, f: f}, nil
}

type mmapCloser struct {
	m mmap.MMap
	f *os.File
}

func (c mmapCloser) Close() error {
	if err := c.m.Unmap(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

// FromBytes wraps an in-memory byte slice as a Fetch, for callers that have
// already loaded (or synthesized, e.g. from a decompressed block) an entire
// file into memory.
func FromBytes(data []byte) Fetch {
	return func(offset, length uint64) (*Buffer, error) {
		end := offset + length
		if end > uint64(len(data)) || end < offset {
			return nil, fmt.Errorf("iobuf: short read at %d: have %d bytes, wanted %d", offset, len(data), length)
		}
		return New(data[offset:end:end], int64(offset)), nil
	}
}
