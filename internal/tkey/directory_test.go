package tkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/rootio/internal/iobuf"
)

// buildDirectory serializes a TDirectory record. Versions above 1000 use
// 64-bit seeks and drop the trailing 12 reserved bytes.
func buildDirectory(version int16, seekDir, seekParent, seekKeys int64, nBytesKeys, nBytesName int32, withUUID bool) []byte {
	data := be16(uint16(version))
	data = append(data, be32(0x1111)...) // fDatimeC
	data = append(data, be32(0x2222)...) // fDatimeM
	data = append(data, be32(uint32(nBytesKeys))...)
	data = append(data, be32(uint32(nBytesName))...)
	if version > 1000 {
		data = append(data, be64(uint64(seekDir))...)
		data = append(data, be64(uint64(seekParent))...)
		data = append(data, be64(uint64(seekKeys))...)
	} else {
		data = append(data, be32(uint32(seekDir))...)
		data = append(data, be32(uint32(seekParent))...)
		data = append(data, be32(uint32(seekKeys))...)
	}
	if withUUID {
		data = append(data, be16(1)...)
		data = append(data, make([]byte, 16)...)
	}
	if version < 1000 {
		data = append(data, make([]byte, 12)...) // room for 64-bit seek upgrade
	}
	return data
}

func TestReadDirectoryShortForm(t *testing.T) {
	data := buildDirectory(5, 100, 0, 300, 120, 60, true)
	dir, rest, err := ReadDirectory(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Equal(t, int16(5), dir.Header.ClassVersion())
	assert.False(t, dir.Header.IsLarge())
	assert.Equal(t, int64(100), dir.SeekDir)
	assert.Equal(t, int64(300), dir.SeekKeys)
	assert.Equal(t, int32(120), dir.Header.NBytesKeys)
	require.NotNil(t, dir.UUID)
	assert.True(t, rest.Empty(), "the 12 reserved bytes after a short directory must be consumed")
}

func TestReadDirectoryLargeForm(t *testing.T) {
	data := buildDirectory(1005, 100, 50, 5_000_000_000, 120, 60, true)
	dir, rest, err := ReadDirectory(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.True(t, dir.Header.IsLarge())
	assert.Equal(t, int16(5), dir.Header.ClassVersion())
	assert.Equal(t, int64(5_000_000_000), dir.SeekKeys)
	assert.True(t, rest.Empty())
}

func TestReadDirectoryV1NoUUID(t *testing.T) {
	data := buildDirectory(1, 10, 0, 20, 30, 40, false)
	dir, rest, err := ReadDirectory(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Nil(t, dir.UUID)
	assert.True(t, rest.Empty())
}

func TestReadKeyListAllShort(t *testing.T) {
	k1 := buildKey(2, 10, 10, 100, 0, "TNamed", "A", "")
	k2 := buildKey(2, 10, 10, 200, 0, "TNamed", "B", "")
	data := be32(2)
	data = append(data, k1...)
	data = append(data, k2...)

	kl, rest, err := ReadKeyList(iobuf.New(data, 0))
	require.NoError(t, err)
	require.Len(t, kl.Keys, 2)
	assert.Empty(t, kl.Padding)
	assert.True(t, rest.Empty())

	a, ok := kl.Lookup("A")
	require.True(t, ok)
	assert.Equal(t, int64(100), a.SeekKey)
	_, ok = kl.Lookup("missing")
	assert.False(t, ok)
}

func TestReadKeyListMixedPadding(t *testing.T) {
	// one short and one long key: 8 bytes of reserved padding per short key
	k1 := buildKey(2, 10, 10, 100, 0, "TNamed", "A", "")
	k2 := buildKey(1004, 10, 10, 200, 0, "TNamed", "B", "")
	data := be32(2)
	data = append(data, k1...)
	data = append(data, k2...)
	data = append(data, make([]byte, 8)...)

	kl, rest, err := ReadKeyList(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Len(t, kl.Padding, 8)
	assert.True(t, rest.Empty())
}

func TestKeyListLookupMaxCycle(t *testing.T) {
	mk := func(cycle int16, seek int64) Key {
		keyBytes := buildKey(2, 10, 10, seek, 0, "TNamed", "obj", "")
		key, _, err := ReadKey(iobuf.New(keyBytes, 0))
		require.NoError(t, err)
		key.Header.Cycle = cycle
		return key
	}
	kl := KeyList{Keys: []Key{mk(1, 111), mk(3, 333), mk(2, 222)}}

	best, ok := kl.Lookup("obj")
	require.True(t, ok)
	assert.Equal(t, int16(3), best.Header.Cycle)
	assert.Equal(t, int64(333), best.SeekKey)
}

func TestDirectoryGetKeyList(t *testing.T) {
	// lay out a key-list record: its wrapping TKey at seekKeys, body
	// following immediately, fetched via the directory's seek fields
	inner := buildKey(2, 10, 10, 500, 0, "TNamed", "payload", "")
	body := be32(1)
	body = append(body, inner...)

	const seekKeys, seekDir = 1000, 64
	wrapper := buildKey(2, int32(len(body)), int32(len(body)), seekKeys, seekDir, "TFile", "keys", "")

	image := make([]byte, seekKeys+len(wrapper)+len(body))
	copy(image[seekKeys:], wrapper)
	copy(image[seekKeys+len(wrapper):], body)

	dir := Directory{
		Header:   DirectoryHeader{Version: 5, NBytesKeys: int32(len(wrapper) + len(body))},
		SeekDir:  seekDir,
		SeekKeys: seekKeys,
	}
	kl, err := dir.GetKeyList(iobuf.FromBytes(image))
	require.NoError(t, err)
	require.Len(t, kl.Keys, 1)
	assert.Equal(t, "payload", kl.Keys[0].Name.String())
}

func TestDirectoryGetKeyListSeekMismatch(t *testing.T) {
	body := be32(0)
	wrapper := buildKey(2, int32(len(body)), int32(len(body)), 999, 0, "TFile", "keys", "")
	image := make([]byte, 1000+len(wrapper)+len(body))
	copy(image[1000:], wrapper)
	copy(image[1000+len(wrapper):], body)

	dir := Directory{
		Header:   DirectoryHeader{Version: 5, NBytesKeys: int32(len(wrapper) + len(body))},
		SeekKeys: 1000,
	}
	_, err := dir.GetKeyList(iobuf.FromBytes(image))
	assert.ErrorIs(t, err, ErrCorrupt)
}
