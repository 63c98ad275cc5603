package rntuple

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/rootio/internal/envelope"
	"github.com/scigolib/rootio/internal/frame"
	"github.com/scigolib/rootio/internal/iobuf"
)

func le32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }
func le64(v uint64) []byte { return binary.LittleEndian.AppendUint64(nil, v) }
func leSize(v int64) []byte { return binary.LittleEndian.AppendUint64(nil, uint64(v)) }
func be16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func be32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
func be64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func rstring(s string) []byte {
	return append(le32(uint32(len(s))), s...)
}

func recordFrame(payload []byte) []byte {
	return append(leSize(int64(8+len(payload))), payload...)
}

func listFrame(items [][]byte, extra []byte) []byte {
	size := 8 + 4 + len(extra)
	for _, it := range items {
		size += len(it)
	}
	data := leSize(-int64(size))
	data = append(data, le32(uint32(len(items)))...)
	for _, it := range items {
		data = append(data, it...)
	}
	return append(data, extra...)
}

func envelopeBytes(typ envelope.TypeID, payload []byte) []byte {
	length := uint64(8 + len(payload) + 8)
	data := le64(length<<16 | uint64(typ))
	data = append(data, payload...)
	return append(data, le64(xxhash.Sum64(data))...)
}

func fieldDesc(parentID uint32, name, typeName string) []byte {
	payload := le32(0)                    // field version
	payload = append(payload, le32(0)...) // type version
	payload = append(payload, le32(parentID)...)
	payload = append(payload, le16bytes(0)...) // structural role
	payload = append(payload, le16bytes(0)...) // flags
	payload = append(payload, rstring(name)...)
	payload = append(payload, rstring(typeName)...)
	payload = append(payload, rstring("")...)
	payload = append(payload, rstring("")...)
	return recordFrame(payload)
}

func le16bytes(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }

func columnDesc(colType ColumnType, bits uint16, fieldID uint32) []byte {
	payload := le16bytes(uint16(colType))
	payload = append(payload, le16bytes(bits)...)
	payload = append(payload, le32(fieldID)...)
	payload = append(payload, le16bytes(0)...) // flags
	payload = append(payload, le16bytes(0)...) // representation index
	return recordFrame(payload)
}

func standardLocator(size uint32, offset uint64) []byte {
	return append(le32(size), le64(offset)...)
}

func envelopeLink(length uint64, size uint32, offset uint64) []byte {
	return append(le64(length), standardLocator(size, offset)...)
}

func clusterGroup(minEntry, span uint64, nClusters uint32, link []byte) []byte {
	payload := le64(minEntry)
	payload = append(payload, le64(span)...)
	payload = append(payload, le32(nClusters)...)
	payload = append(payload, link...)
	return recordFrame(payload)
}

func clusterSummary(firstEntry, nEntriesAndFlag uint64) []byte {
	return recordFrame(append(le64(firstEntry), le64(nEntriesAndFlag)...))
}

func pageDesc(nElements int32, size uint32, offset uint64) []byte {
	return append(le32(uint32(nElements)), standardLocator(size, offset)...)
}

func columnPages(pages [][]byte, elementOffset int64, settings *uint32) []byte {
	extra := leSize(elementOffset)
	if settings != nil {
		extra = append(extra, le32(*settings)...)
	}
	return listFrame(pages, extra)
}

func emptyListFrame() []byte { return listFrame(nil, nil) }

func emptySchemaExtension() []byte {
	payload := emptyListFrame()
	payload = append(payload, emptyListFrame()...)
	payload = append(payload, emptyListFrame()...)
	payload = append(payload, emptyListFrame()...)
	return recordFrame(payload)
}

// buildHeaderEnvelope assembles a header envelope shaped like a two-field
// string tuple: each std::string field uses an index column plus a char
// column.
func buildHeaderEnvelope(name string) []byte {
	payload := le64(0) // feature flags
	payload = append(payload, rstring(name)...)
	payload = append(payload, rstring("The first ever RNTuple.")...)
	payload = append(payload, rstring("ROOT v6.35.001")...)
	payload = append(payload, listFrame([][]byte{
		fieldDesc(0, "firstName", "std::string"),
		fieldDesc(1, "lastName", "std::string"),
	}, nil)...)
	payload = append(payload, listFrame([][]byte{
		columnDesc(1, 64, 0), // index column
		columnDesc(2, 8, 0),  // char payload column
		columnDesc(1, 64, 1),
		columnDesc(2, 8, 1),
	}, nil)...)
	payload = append(payload, emptyListFrame()...)
	payload = append(payload, emptyListFrame()...)
	return envelopeBytes(envelope.TypeHeader, payload)
}

func buildFooterEnvelope(headerChecksum uint64, groups [][]byte) []byte {
	payload := le64(0) // feature flags
	payload = append(payload, le64(headerChecksum)...)
	payload = append(payload, emptySchemaExtension()...)
	payload = append(payload, listFrame(groups, nil)...)
	return envelopeBytes(envelope.TypeFooter, payload)
}

func buildPageListEnvelope(headerChecksum uint64, summaries, clusters [][]byte) []byte {
	payload := le64(headerChecksum)
	payload = append(payload, listFrame(summaries, nil)...)
	payload = append(payload, listFrame(clusters, nil)...)
	return envelopeBytes(envelope.TypePageList, payload)
}

func envelopeChecksum(env []byte) uint64 {
	return binary.LittleEndian.Uint64(env[len(env)-8:])
}

func recordFrameOf[T any](payload T) frame.RecordFrame[T] {
	return frame.RecordFrame[T]{Payload: payload}
}

// zlibBlockBytes wraps plain in a single zlib RCompressed block.
func zlibBlockBytes(t *testing.T, plain []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	_, err := w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	n, u := b.Len(), len(plain)
	header := []byte{'Z', 'L', 8, byte(n), byte(n >> 8), byte(n >> 16), byte(u), byte(u >> 8), byte(u >> 16)}
	return append(header, b.Bytes()...)
}

func TestReadHeaderEnvelope(t *testing.T) {
	data := buildHeaderEnvelope("Contributors")

	hdr, payload, rest, err := ReadHeaderEnvelope(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Equal(t, envelope.TypeHeader, hdr.Type)
	assert.Equal(t, uint64(len(data)), hdr.Length)
	assert.Equal(t, "Contributors", payload.Name)
	assert.Equal(t, "The first ever RNTuple.", payload.Description)
	assert.Equal(t, "ROOT v6.35.001", payload.Library)
	require.Len(t, payload.FieldDescriptions.Items, 2)
	assert.Equal(t, "firstName", payload.FieldDescriptions.Items[0].Payload.FieldName)
	assert.Equal(t, "std::string", payload.FieldDescriptions.Items[0].Payload.TypeName)
	require.Len(t, payload.ColumnDescriptions.Items, 4)
	assert.Equal(t, uint16(64), payload.ColumnDescriptions.Items[0].Payload.BitsOnStorage)
	assert.Empty(t, payload.AliasColumnDescriptions.Items)
	assert.True(t, rest.Empty())
}

func TestReadHeaderEnvelopeRejectsFeatureFlags(t *testing.T) {
	payload := le64(1) // undefined feature bit
	payload = append(payload, rstring("x")...)
	payload = append(payload, rstring("")...)
	payload = append(payload, rstring("")...)
	payload = append(payload, emptyListFrame()...)
	payload = append(payload, emptyListFrame()...)
	payload = append(payload, emptyListFrame()...)
	payload = append(payload, emptyListFrame()...)
	data := envelopeBytes(envelope.TypeHeader, payload)

	_, _, _, err := ReadHeaderEnvelope(iobuf.New(data, 0))
	assert.ErrorIs(t, err, ErrUnknownFeature)
}

func TestReadFooterEnvelope(t *testing.T) {
	link := envelopeLink(244, 244, 1409)
	data := buildFooterEnvelope(0x1234, [][]byte{clusterGroup(0, 22, 1, link)})

	hdr, payload, rest, err := ReadFooterEnvelope(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Equal(t, envelope.TypeFooter, hdr.Type)
	assert.Equal(t, uint64(0x1234), payload.HeaderChecksum)
	require.Len(t, payload.ClusterGroups.Items, 1)
	group := payload.ClusterGroups.Items[0].Payload
	assert.Equal(t, uint64(0), group.MinEntryNumber)
	assert.Equal(t, uint64(22), group.EntrySpan)
	assert.Equal(t, uint32(1), group.NClusters)
	assert.Equal(t, uint64(244), group.PageListLink.Length)
	assert.Equal(t, envelope.StandardLocator{Size: 244, Offset: 1409}, group.PageListLink.Locator)
	assert.True(t, rest.Empty())
}

func TestReadPageListEnvelope(t *testing.T) {
	compression := uint32(0)
	cluster := listFrame([][]byte{
		columnPages([][]byte{pageDesc(-22, 176, 620)}, 0, &compression),
		columnPages([][]byte{pageDesc(-178, 178, 804)}, 0, &compression),
		columnPages([][]byte{pageDesc(-22, 176, 990)}, 0, &compression),
		columnPages([][]byte{pageDesc(-193, 193, 1174)}, 0, &compression),
	}, nil)
	data := buildPageListEnvelope(0x77, [][]byte{clusterSummary(0, 22)}, [][]byte{cluster})

	_, payload, rest, err := ReadPageListEnvelope(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x77), payload.HeaderChecksum)
	require.Len(t, payload.ClusterSummaries.Items, 1)
	summary := payload.ClusterSummaries.Items[0].Payload
	assert.Equal(t, uint64(0), summary.FirstEntryNumber)
	assert.Equal(t, uint64(22), summary.NEntries())
	assert.Equal(t, byte(0), summary.FeatureFlag())

	require.Len(t, payload.PageLocations.Items, 1)
	columns := payload.PageLocations.Items[0]
	require.Len(t, columns.Items, 4)
	first := columns.Items[0]
	require.Len(t, first.Pages.Items, 1)
	assert.Equal(t, int32(-22), first.Pages.Items[0].NElements)
	assert.Equal(t, envelope.StandardLocator{Size: 176, Offset: 620}, first.Pages.Items[0].Locator)
	assert.Equal(t, int64(0), first.ElementOffset)
	require.NotNil(t, first.CompressionSettings)
	assert.Equal(t, uint32(0), *first.CompressionSettings)
	assert.True(t, rest.Empty())
}

func TestReadPageListSuppressedColumn(t *testing.T) {
	cluster := listFrame([][]byte{
		columnPages(nil, -1, nil), // suppressed: no compression settings on disk
	}, nil)
	data := buildPageListEnvelope(0, nil, [][]byte{cluster})

	_, payload, _, err := ReadPageListEnvelope(iobuf.New(data, 0))
	require.NoError(t, err)
	col := payload.PageLocations.Items[0].Items[0]
	assert.Equal(t, int64(-1), col.ElementOffset)
	assert.Nil(t, col.CompressionSettings)
}

func TestReadPageListRejectsShardedClusters(t *testing.T) {
	sharded := uint64(1)<<56 | 22
	data := buildPageListEnvelope(0, [][]byte{clusterSummary(0, sharded)}, nil)
	_, _, _, err := ReadPageListEnvelope(iobuf.New(data, 0))
	assert.ErrorIs(t, err, ErrUnknownFeature)
}

func TestReadAnchor(t *testing.T) {
	fields := be16(1)
	fields = append(fields, be16(0)...)
	fields = append(fields, be16(0)...)
	fields = append(fields, be16(0)...)
	for _, v := range []uint64{254, 332, 332, 1687, 148, 148, 1073741824} {
		fields = append(fields, be64(v)...)
	}
	byteCount := uint32(2 + len(fields))
	data := be32(0x40000000 | byteCount)
	data = append(data, be16(2)...) // anchor class version
	data = append(data, fields...)

	anchor, rest, err := ReadAnchor(iobuf.New(data, 0))
	require.NoError(t, err)
	assert.Equal(t, Anchor{
		VersionEpoch: 1,
		VersionMajor: 0,
		VersionMinor: 0,
		VersionPatch: 0,
		SeekHeader:   254,
		NBytesHeader: 332,
		LenHeader:    332,
		SeekFooter:   1687,
		NBytesFooter: 148,
		LenFooter:    148,
		MaxKeySize:   1073741824,
	}, anchor)
	assert.True(t, rest.Empty())
}

func TestReadAnchorEndPosition(t *testing.T) {
	data := be32(0x40000000 | 80) // byte count beyond the actual fields
	data = append(data, be16(2)...)
	data = append(data, make([]byte, 72)...)
	_, _, err := ReadAnchor(iobuf.New(data, 0))
	assert.ErrorIs(t, err, ErrCorrupt)
}

// buildImage lays out header, footer and page-list envelopes in one
// synthetic byte image and returns the matching anchor.
func buildImage(t *testing.T) (Anchor, []byte) {
	t.Helper()
	header := buildHeaderEnvelope("Contributors")
	headerChecksum := envelopeChecksum(header)

	compression := uint32(0)
	cluster := listFrame([][]byte{
		columnPages([][]byte{pageDesc(-22, 176, 620)}, 0, &compression),
		columnPages([][]byte{pageDesc(-178, 178, 804)}, 0, &compression),
		columnPages([][]byte{pageDesc(-22, 176, 990)}, 0, &compression),
		columnPages([][]byte{pageDesc(-193, 193, 1174)}, 0, &compression),
	}, nil)
	pageList := buildPageListEnvelope(headerChecksum, [][]byte{clusterSummary(0, 22)}, [][]byte{cluster})

	const headerOffset, pageListOffset = 254, 1409
	footerOffset := pageListOffset + len(pageList)

	link := envelopeLink(uint64(len(pageList)), uint32(len(pageList)), pageListOffset)
	footer := buildFooterEnvelope(headerChecksum, [][]byte{clusterGroup(0, 22, 1, link)})

	image := make([]byte, footerOffset+len(footer))
	copy(image[headerOffset:], header)
	copy(image[pageListOffset:], pageList)
	copy(image[footerOffset:], footer)

	anchor := Anchor{
		VersionEpoch: 1,
		SeekHeader:   headerOffset,
		NBytesHeader: uint64(len(header)),
		LenHeader:    uint64(len(header)),
		SeekFooter:   uint64(footerOffset),
		NBytesFooter: uint64(len(footer)),
		LenFooter:    uint64(len(footer)),
		MaxKeySize:   1073741824,
	}
	return anchor, image
}

func TestFromAnchor(t *testing.T) {
	anchor, image := buildImage(t)
	rnt, err := FromAnchor(anchor, iobuf.FromBytes(image))
	require.NoError(t, err)

	assert.Equal(t, "Contributors", rnt.Header.Name)
	assert.Equal(t, rnt.Footer.HeaderChecksum, rnt.PageLists[0].HeaderChecksum)
	assert.Equal(t, FeatureFlags(0), rnt.FeatureFlags())

	schema := rnt.SchemaDescription()
	require.Len(t, schema.FieldDescriptions, 2)
	require.Len(t, schema.ColumnDescriptions, 4)
	assert.Equal(t, "lastName", schema.FieldDescriptions[1].FieldName)

	pages := rnt.ExtendedPageDescriptions()
	require.Len(t, pages, 1)
	require.Len(t, pages[0], 1)
	require.Len(t, pages[0][0], 4)
	first := pages[0][0][0][0]
	assert.Equal(t, int32(-22), first.Page.NElements)
	assert.Equal(t, 176, first.UncompressedSize, "22 elements of 64 bits occupy 176 bytes")
	assert.Equal(t, ColumnType(1), first.ColumnType)
	second := pages[0][0][1][0]
	assert.Equal(t, 178, second.UncompressedSize, "178 char elements occupy 178 bytes")
}

func TestFromAnchorHeaderChecksumMismatch(t *testing.T) {
	anchor, image := buildImage(t)
	// corrupt the footer's recorded header checksum (first payload byte
	// after its 8-byte feature flags), then re-seal the footer checksum
	footer := image[anchor.SeekFooter : anchor.SeekFooter+anchor.NBytesFooter]
	footer[8+8]++
	sum := xxhash.Sum64(footer[:len(footer)-8])
	binary.LittleEndian.PutUint64(footer[len(footer)-8:], sum)

	_, err := FromAnchor(anchor, iobuf.FromBytes(image))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFromAnchorWithChecksumDigest(t *testing.T) {
	// the images built here are sealed with the 64-bit xxHash, so the
	// opt-in recomputation path accepts them end to end
	envelope.SetChecksum(envelope.XXHash64)
	defer envelope.SetChecksum(nil)

	anchor, image := buildImage(t)
	rnt, err := FromAnchor(anchor, iobuf.FromBytes(image))
	require.NoError(t, err)
	assert.Equal(t, "Contributors", rnt.Header.Name)
}

func TestGetPageListsCompressedEnvelope(t *testing.T) {
	// a page-list envelope stored compressed: the cluster-group locator
	// carries the on-disk size while the link length is the plain size
	plain := buildPageListEnvelope(0xABCD, [][]byte{clusterSummary(0, 5)}, [][]byte{listFrame(nil, nil)})
	compressed := zlibBlockBytes(t, plain)

	const offset = 100
	image := make([]byte, offset+len(compressed))
	copy(image[offset:], compressed)

	link := envelope.EnvelopeLink{
		Length:  uint64(len(plain)),
		Locator: envelope.StandardLocator{Size: uint32(len(compressed)), Offset: offset},
	}
	footer := FooterEnvelope{}
	footer.ClusterGroups.Items = append(footer.ClusterGroups.Items, recordFrameOf(ClusterGroup{
		EntrySpan: 5, NClusters: 1, PageListLink: link,
	}))

	lists, err := footer.GetPageLists(iobuf.FromBytes(image))
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, uint64(0xABCD), lists[0].HeaderChecksum)
}

func TestPageDescriptionGetPage(t *testing.T) {
	image := make([]byte, 64)
	copy(image[40:], []byte{9, 9, 9, 9})
	pd := PageDescription{NElements: -4, Locator: envelope.StandardLocator{Size: 4, Offset: 40}}
	buf, err := pd.GetPage(iobuf.FromBytes(image))
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9, 9}, buf.Bytes())
}

func TestUncompressedPageSize(t *testing.T) {
	assert.Equal(t, 176, uncompressedPageSize(-22, 64))
	assert.Equal(t, 176, uncompressedPageSize(22, 64))
	assert.Equal(t, 1, uncompressedPageSize(1, 1))
	assert.Equal(t, 3, uncompressedPageSize(24, 1))
	assert.Equal(t, 0, uncompressedPageSize(0, 64))
}
