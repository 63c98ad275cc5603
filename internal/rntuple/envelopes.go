package rntuple

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/rootio/internal/envelope"
	"github.com/scigolib/rootio/internal/frame"
	"github.com/scigolib/rootio/internal/iobuf"
	"github.com/scigolib/rootio/internal/tkey"
)

// envelopeBuffer fetches the byte range an envelope link describes. A
// locator whose on-storage size differs from the link's declared
// uncompressed length holds a compressed envelope; it is routed through the
// same RCompressed decompressor registry TKey bodies use, and must yield
// exactly the declared number of plain bytes.
func envelopeBuffer(link envelope.EnvelopeLink, fetch iobuf.Fetch) (*iobuf.Buffer, error) {
	buf, err := link.GetBuffer(fetch)
	if err != nil {
		return nil, err
	}
	if link.Locator.ByteSize() == link.Length {
		return buf, nil
	}
	plain, err := tkey.Decompress(buf, int(link.Length))
	if err != nil {
		return nil, fmt.Errorf("rntuple: decompressing envelope: %w", err)
	}
	return iobuf.NewDecompressed(plain, 0), nil
}

// HeaderEnvelope is the RNTuple header envelope payload: the schema
// description as originally written (field/column/alias-column/extra-type
// lists), plus identifying metadata. The field set follows the published
// RNTuple binary format specification.
type HeaderEnvelope struct {
	FeatureFlags            FeatureFlags
	Name                    string
	Description             string
	Library                 string
	FieldDescriptions       frame.ListFrame[frame.RecordFrame[FieldDescription]]
	ColumnDescriptions      frame.ListFrame[frame.RecordFrame[ColumnDescription]]
	AliasColumnDescriptions frame.ListFrame[frame.RecordFrame[AliasColumnDescription]]
	ExtraTypeInformations   frame.ListFrame[frame.RecordFrame[ExtraTypeInformation]]
}

func readHeaderEnvelopePayload(_ envelope.TypeID, buf *iobuf.Buffer) (HeaderEnvelope, *iobuf.Buffer, error) {
	flags, rest, err := readFeatureFlags(buf)
	if err != nil {
		return HeaderEnvelope{}, nil, err
	}
	name, rest, err := readRNTupleString(rest)
	if err != nil {
		return HeaderEnvelope{}, nil, fmt.Errorf("rntuple: reading header name: %w", err)
	}
	description, rest, err := readRNTupleString(rest)
	if err != nil {
		return HeaderEnvelope{}, nil, fmt.Errorf("rntuple: reading header description: %w", err)
	}
	library, rest, err := readRNTupleString(rest)
	if err != nil {
		return HeaderEnvelope{}, nil, fmt.Errorf("rntuple: reading header library: %w", err)
	}
	fields, rest, err := frame.ReadListFrame(rest, readFieldDescription)
	if err != nil {
		return HeaderEnvelope{}, nil, fmt.Errorf("rntuple: reading header field descriptions: %w", err)
	}
	columns, rest, err := frame.ReadListFrame(rest, readColumnDescription)
	if err != nil {
		return HeaderEnvelope{}, nil, fmt.Errorf("rntuple: reading header column descriptions: %w", err)
	}
	aliases, rest, err := frame.ReadListFrame(rest, readAliasColumnDescription)
	if err != nil {
		return HeaderEnvelope{}, nil, fmt.Errorf("rntuple: reading header alias column descriptions: %w", err)
	}
	extraTypes, rest, err := frame.ReadListFrame(rest, readExtraTypeInformation)
	if err != nil {
		return HeaderEnvelope{}, nil, fmt.Errorf("rntuple: reading header extra type info: %w", err)
	}
	return HeaderEnvelope{
		FeatureFlags:            flags,
		Name:                    name,
		Description:             description,
		Library:                 library,
		FieldDescriptions:       fields,
		ColumnDescriptions:      columns,
		AliasColumnDescriptions: aliases,
		ExtraTypeInformations:   extraTypes,
	}, rest, nil
}

// ReadHeaderEnvelope reads a complete header envelope (length+type wrapper,
// payload, checksum) from buf.
func ReadHeaderEnvelope(buf *iobuf.Buffer) (envelope.Header, HeaderEnvelope, *iobuf.Buffer, error) {
	return envelope.Read(buf, envelope.TypeHeader, readHeaderEnvelopePayload)
}

// FooterEnvelope is the RNTuple footer envelope payload: a cross-check
// checksum of the header, an incremental schema extension, and the cluster
// groups that locate page-list envelopes.
type FooterEnvelope struct {
	FeatureFlags    FeatureFlags
	HeaderChecksum  uint64
	SchemaExtension frame.RecordFrame[SchemaExtension]
	ClusterGroups   frame.ListFrame[frame.RecordFrame[ClusterGroup]]
}

func readFooterEnvelopePayload(_ envelope.TypeID, buf *iobuf.Buffer) (FooterEnvelope, *iobuf.Buffer, error) {
	flags, rest, err := readFeatureFlags(buf)
	if err != nil {
		return FooterEnvelope{}, nil, err
	}
	vals, rest, err := rest.Unpack(binary.LittleEndian, "Q")
	if err != nil {
		return FooterEnvelope{}, nil, fmt.Errorf("rntuple: reading footer header checksum: %w", err)
	}
	schemaExt, rest, err := readSchemaExtension(rest)
	if err != nil {
		return FooterEnvelope{}, nil, fmt.Errorf("rntuple: reading footer schema extension: %w", err)
	}
	groups, rest, err := frame.ReadListFrame(rest, readClusterGroup)
	if err != nil {
		return FooterEnvelope{}, nil, fmt.Errorf("rntuple: reading footer cluster groups: %w", err)
	}
	return FooterEnvelope{
		FeatureFlags:    flags,
		HeaderChecksum:  uint64(vals[0]),
		SchemaExtension: schemaExt,
		ClusterGroups:   groups,
	}, rest, nil
}

// ReadFooterEnvelope reads a complete footer envelope from buf.
func ReadFooterEnvelope(buf *iobuf.Buffer) (envelope.Header, FooterEnvelope, *iobuf.Buffer, error) {
	return envelope.Read(buf, envelope.TypeFooter, readFooterEnvelopePayload)
}

// GetPageLists fetches and reads every PageListEnvelope this footer's
// cluster groups link to, in cluster-group order.
func (f FooterEnvelope) GetPageLists(fetch iobuf.Fetch) ([]PageListEnvelope, error) {
	out := make([]PageListEnvelope, 0, len(f.ClusterGroups.Items))
	for i, group := range f.ClusterGroups.Items {
		buf, err := envelopeBuffer(group.Payload.PageListLink, fetch)
		if err != nil {
			return nil, fmt.Errorf("rntuple: fetching page-list envelope %d: %w", i, err)
		}
		_, pl, _, err := ReadPageListEnvelope(buf)
		if err != nil {
			return nil, fmt.Errorf("rntuple: reading page-list envelope %d: %w", i, err)
		}
		out = append(out, pl)
	}
	return out, nil
}

// PageListEnvelope is the RNTuple page-list envelope payload: a cross-check
// checksum of the header, the cluster summaries it covers, and the
// triple-nested page-location list frame.
type PageListEnvelope struct {
	HeaderChecksum   uint64
	ClusterSummaries frame.ListFrame[frame.RecordFrame[ClusterSummary]]
	PageLocations    PageLocations
}

func readPageListEnvelopePayload(_ envelope.TypeID, buf *iobuf.Buffer) (PageListEnvelope, *iobuf.Buffer, error) {
	vals, rest, err := buf.Unpack(binary.LittleEndian, "Q")
	if err != nil {
		return PageListEnvelope{}, nil, fmt.Errorf("rntuple: reading page-list header checksum: %w", err)
	}
	summaries, rest, err := frame.ReadListFrame(rest, readClusterSummary)
	if err != nil {
		return PageListEnvelope{}, nil, fmt.Errorf("rntuple: reading page-list cluster summaries: %w", err)
	}
	pages, rest, err := ReadPageLocations(rest)
	if err != nil {
		return PageListEnvelope{}, nil, fmt.Errorf("rntuple: reading page-list page locations: %w", err)
	}
	return PageListEnvelope{
		HeaderChecksum:   uint64(vals[0]),
		ClusterSummaries: summaries,
		PageLocations:    pages,
	}, rest, nil
}

// ReadPageListEnvelope reads a complete page-list envelope from buf.
func ReadPageListEnvelope(buf *iobuf.Buffer) (envelope.Header, PageListEnvelope, *iobuf.Buffer, error) {
	return envelope.Read(buf, envelope.TypePageList, readPageListEnvelopePayload)
}
