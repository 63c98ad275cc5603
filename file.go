// Package rootio reads ROOT binary files, with a focus on decoding the
// RNTuple columnar storage format: the TKey/TDirectory framing every object
// lives inside, the polymorphic streamed-object layer those objects are
// serialized with, and the RNTuple envelope stack (header, footer, page-list)
// that locates a tuple's columnar data.
package rootio

import (
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/rootio/internal/codec"
	"github.com/scigolib/rootio/internal/envelope"
	"github.com/scigolib/rootio/internal/iobuf"
	"github.com/scigolib/rootio/internal/rntuple"
	"github.com/scigolib/rootio/internal/streamed"
	"github.com/scigolib/rootio/internal/tkey"
)

// File is an open ROOT file: the backing fetch closure plus its top-level
// structure (the file header and the root TDirectory reached through it).
type File struct {
	fetch  iobuf.Fetch
	inner  tkey.File
	closer io.Closer
}

// Open opens path with an os.File-backed fetch, issuing one positioned read
// per byte range the decoder asks for.
func Open(path string) (*File, error) {
	fetch, closer, err := iobuf.OpenFile(path)
	if err != nil {
		return nil, Wrap("rootio: opening file", err)
	}
	f, err := openWithFetch(fetch, closer)
	if err != nil {
		closer.Close()
		return nil, err
	}
	return f, nil
}

// OpenMmap opens path by memory-mapping it, avoiding a full read for large
// files.
func OpenMmap(path string) (*File, error) {
	fetch, closer, err := iobuf.OpenMmap(path)
	if err != nil {
		return nil, Wrap("rootio: memory-mapping file", err)
	}
	f, err := openWithFetch(fetch, closer)
	if err != nil {
		closer.Close()
		return nil, err
	}
	return f, nil
}

func openWithFetch(fetch iobuf.Fetch, closer io.Closer) (*File, error) {
	rf, err := ReadROOTFile(fetch)
	if err != nil {
		return nil, err
	}
	return &File{fetch: fetch, inner: rf.inner, closer: closer}, nil
}

// Close releases any resources (e.g. the file handle or memory mapping)
// backing the file.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// KeyList reads the top-level TKeyList of this file's root directory.
func (f *File) KeyList() (tkey.KeyList, error) {
	return f.inner.KeyList(f.fetch)
}

// ReadObject reads the named top-level key's object, dispatching on its
// class name.
func (f *File) ReadObject(name string) (any, error) {
	kl, err := f.KeyList()
	if err != nil {
		return nil, err
	}
	key, ok := kl.Lookup(name)
	if !ok {
		return nil, Wrap("rootio: reading object", fmt.Errorf("key %q not found", name))
	}
	obj, err := tkey.ReadObject(key, f.fetch)
	if err != nil {
		return nil, classifyDecodeErr("rootio: reading object", err)
	}
	return obj, nil
}

// ReadAnchor reads the named top-level key as an RNTuple anchor.
func (f *File) ReadAnchor(name string) (rntuple.Anchor, error) {
	kl, err := f.KeyList()
	if err != nil {
		return rntuple.Anchor{}, err
	}
	key, ok := kl.Lookup(name)
	if !ok {
		return rntuple.Anchor{}, Wrap("rootio: reading anchor", fmt.Errorf("key %q not found", name))
	}
	anchor, err := tkey.ReadObjectAs(key, f.fetch, "ROOT3a3aRNTuple", true, rntuple.ReadAnchor)
	if err != nil {
		return rntuple.Anchor{}, classifyDecodeErr("rootio: reading anchor", err)
	}
	return anchor, nil
}

// ReadRNTuple reads the named top-level key's RNTuple anchor and fully
// traverses its header, footer, and page-list envelopes.
func (f *File) ReadRNTuple(name string) (rntuple.RNTuple, error) {
	anchor, err := f.ReadAnchor(name)
	if err != nil {
		return rntuple.RNTuple{}, err
	}
	rnt, err := rntuple.FromAnchor(anchor, f.fetch)
	if err != nil {
		return rntuple.RNTuple{}, classifyDecodeErr("rootio: traversing RNTuple", err)
	}
	return rnt, nil
}

// ROOTFile is the top-level parsed structure of a ROOT binary container:
// its file header and the TKey/TDirectory chain reaching the root
// directory's key list.
type ROOTFile struct {
	inner tkey.File
}

// ReadROOTFile reads a ROOTFile's header and root TDirectory via fetch.
func ReadROOTFile(fetch iobuf.Fetch) (*ROOTFile, error) {
	inner, err := tkey.ReadFile(fetch)
	if err != nil {
		return nil, classifyDecodeErr("rootio: reading ROOT file", err)
	}
	return &ROOTFile{inner: inner}, nil
}

// TFile returns the parsed TFile structure: the file header plus the root
// TDirectory reached through the TKey at fBEGIN.
func (r *ROOTFile) TFile() tkey.File {
	return r.inner
}

// KeyList reads this file's root TKeyList via fetch.
func (r *ROOTFile) KeyList(fetch iobuf.Fetch) (tkey.KeyList, error) {
	kl, err := r.inner.KeyList(fetch)
	if err != nil {
		return tkey.KeyList{}, classifyDecodeErr("rootio: reading key list", err)
	}
	return kl, nil
}

// classifyDecodeErr maps the leaf packages' sentinel errors onto the
// public Kind taxonomy via errors.Is, attaching the original error as the
// DecodeError's cause.
func classifyDecodeErr(context string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindIoError
	switch {
	case errors.Is(err, streamed.ErrUnknownClass), errors.Is(err, tkey.ErrUnknownClass):
		kind = KindUnknownClass
	case errors.Is(err, streamed.ErrInvalid), errors.Is(err, tkey.ErrInvalid), errors.Is(err, iobuf.ErrInvalid):
		kind = KindInvalid
	case errors.Is(err, iobuf.ErrTruncated):
		kind = KindTruncated
	case errors.Is(err, envelope.ErrUnknownLocatorType):
		kind = KindUnknownLocatorType
	case errors.Is(err, envelope.ErrUnknownType):
		kind = KindUnknownEnvelopeType
	case errors.Is(err, tkey.ErrCorrupt), errors.Is(err, rntuple.ErrCorrupt), errors.Is(err, envelope.ErrCorrupt):
		kind = KindCorrupt
	case errors.Is(err, tkey.ErrCodecError):
		kind = KindCodecError
	case errors.Is(err, rntuple.ErrUnknownFeature):
		kind = KindUnknownFeature
	case errors.Is(err, codec.ErrUnimplemented):
		kind = KindUnimplemented
	}
	return Decode(kind, context).WithCause(err)
}
