package rntuple

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/rootio/internal/codec"
	"github.com/scigolib/rootio/internal/envelope"
	"github.com/scigolib/rootio/internal/frame"
	"github.com/scigolib/rootio/internal/iobuf"
)

// FeatureFlags is the signed 64-bit feature-flag word found at the start of
// both header and footer envelopes. No feature bits are defined yet, so any
// non-zero value aborts reading rather than being silently ignored.
type FeatureFlags int64

func readFeatureFlags(buf *iobuf.Buffer) (FeatureFlags, *iobuf.Buffer, error) {
	vals, rest, err := buf.Unpack(binary.LittleEndian, "q")
	if err != nil {
		return 0, nil, fmt.Errorf("rntuple: reading feature flags: %w", err)
	}
	flags := FeatureFlags(vals[0])
	if flags != 0 {
		return 0, nil, fmt.Errorf("%w: unknown feature flags 0x%x", ErrUnknownFeature, uint64(flags))
	}
	return flags, rest, nil
}

// SchemaExtension is the footer's schema-extension record frame: an
// incremental schema description, in the same shape as the header's four
// list frames, continuing the header's field/column ID numbering.
type SchemaExtension struct {
	FieldDescriptions       frame.ListFrame[frame.RecordFrame[FieldDescription]]
	ColumnDescriptions      frame.ListFrame[frame.RecordFrame[ColumnDescription]]
	AliasColumnDescriptions frame.ListFrame[frame.RecordFrame[AliasColumnDescription]]
	ExtraTypeInformations   frame.ListFrame[frame.RecordFrame[ExtraTypeInformation]]
}

func readSchemaExtensionPayload(buf *iobuf.Buffer) (SchemaExtension, *iobuf.Buffer, error) {
	fields, rest, err := frame.ReadListFrame(buf, readFieldDescription)
	if err != nil {
		return SchemaExtension{}, nil, fmt.Errorf("rntuple: reading schema extension fields: %w", err)
	}
	columns, rest, err := frame.ReadListFrame(rest, readColumnDescription)
	if err != nil {
		return SchemaExtension{}, nil, fmt.Errorf("rntuple: reading schema extension columns: %w", err)
	}
	aliases, rest, err := frame.ReadListFrame(rest, readAliasColumnDescription)
	if err != nil {
		return SchemaExtension{}, nil, fmt.Errorf("rntuple: reading schema extension alias columns: %w", err)
	}
	extraTypes, rest, err := frame.ReadListFrame(rest, readExtraTypeInformation)
	if err != nil {
		return SchemaExtension{}, nil, fmt.Errorf("rntuple: reading schema extension extra type info: %w", err)
	}
	return SchemaExtension{fields, columns, aliases, extraTypes}, rest, nil
}

func readSchemaExtension(buf *iobuf.Buffer) (frame.RecordFrame[SchemaExtension], *iobuf.Buffer, error) {
	return frame.ReadRecordFrame(buf, readSchemaExtensionPayload)
}

// ClusterGroup is a footer record frame describing one group of clusters and
// the PageListEnvelope link that resolves their page locations.
type ClusterGroup struct {
	MinEntryNumber uint64
	EntrySpan      uint64
	NClusters      uint32
	PageListLink   envelope.EnvelopeLink
}

// envelopeLinkCodec reads an EnvelopeLink member; like the string codec in
// schema.go it is a locally defined codec composed alongside the
// fixed-format families.
func envelopeLinkCodec(name string) codec.Codec {
	return func(m codec.Members, buf *iobuf.Buffer) (codec.Members, *iobuf.Buffer, error) {
		link, rest, err := envelope.ReadEnvelopeLink(buf)
		if err != nil {
			return nil, nil, fmt.Errorf("rntuple: reading %s: %w", name, err)
		}
		m[name] = link
		return m, rest, nil
	}
}

var clusterGroupCodec = codec.Compose(
	codec.Fmt(binary.LittleEndian, "fMinEntryNumber", "Q"),
	codec.Fmt(binary.LittleEndian, "fEntrySpan", "Q"),
	codec.Fmt(binary.LittleEndian, "fNClusters", "I"),
	envelopeLinkCodec("pagelistLink"),
)

func readClusterGroupPayload(buf *iobuf.Buffer) (ClusterGroup, *iobuf.Buffer, error) {
	m, rest, err := codec.ReadRecord(clusterGroupCodec, buf)
	if err != nil {
		return ClusterGroup{}, nil, fmt.Errorf("rntuple: reading cluster group: %w", err)
	}
	link, _ := m["pagelistLink"].(envelope.EnvelopeLink)
	return ClusterGroup{
		MinEntryNumber: uint64(m.Int("fMinEntryNumber")),
		EntrySpan:      uint64(m.Int("fEntrySpan")),
		NClusters:      uint32(m.Int("fNClusters")),
		PageListLink:   link,
	}, rest, nil
}

func readClusterGroup(buf *iobuf.Buffer) (frame.RecordFrame[ClusterGroup], *iobuf.Buffer, error) {
	return frame.ReadRecordFrame(buf, readClusterGroupPayload)
}

// clusterShardedFlag is reserved for a future specification version that
// will support sharded clusters; readers must abort when it is set. Other
// flag bits are ignored.
const clusterShardedFlag = 0x01

// ClusterSummary is a page-list record frame describing one cluster's entry
// range; nEntries and the per-cluster feature flag share a single 64-bit
// word (56 low bits / 8 high bits).
type ClusterSummary struct {
	FirstEntryNumber       uint64
	NEntriesAndFeatureFlag uint64
}

// NEntries returns the number of entries in the cluster (low 56 bits).
func (c ClusterSummary) NEntries() uint64 { return c.NEntriesAndFeatureFlag & 0x00ffffffffffffff }

// FeatureFlag returns the per-cluster feature flag (high 8 bits). Flag 0x01
// is reserved for future sharded-cluster support; readers must reject it.
func (c ClusterSummary) FeatureFlag() byte { return byte(c.NEntriesAndFeatureFlag >> 56) }

var clusterSummaryCodec = codec.Compose(
	codec.Fmt(binary.LittleEndian, "fFirstEntryNumber", "Q"),
	codec.Fmt(binary.LittleEndian, "fNEntriesAndFeatureFlag", "Q"),
)

func readClusterSummaryPayload(buf *iobuf.Buffer) (ClusterSummary, *iobuf.Buffer, error) {
	m, rest, err := codec.ReadRecord(clusterSummaryCodec, buf)
	if err != nil {
		return ClusterSummary{}, nil, fmt.Errorf("rntuple: reading cluster summary: %w", err)
	}
	cs := ClusterSummary{
		FirstEntryNumber:       uint64(m.Int("fFirstEntryNumber")),
		NEntriesAndFeatureFlag: uint64(m.Int("fNEntriesAndFeatureFlag")),
	}
	if cs.FeatureFlag()&clusterShardedFlag != 0 {
		return ClusterSummary{}, nil, fmt.Errorf("%w: sharded clusters (cluster summary flag 0x%02x)", ErrUnknownFeature, cs.FeatureFlag())
	}
	return cs, rest, nil
}

func readClusterSummary(buf *iobuf.Buffer) (frame.RecordFrame[ClusterSummary], *iobuf.Buffer, error) {
	return frame.ReadRecordFrame(buf, readClusterSummaryPayload)
}
