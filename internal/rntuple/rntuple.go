// Package rntuple implements the RNTuple envelope stack: the anchor object
// that locates a header and footer envelope, the triple-nested page-location
// list frames a page-list envelope carries, and the merged schema
// description needed to interpret a page's raw bytes.
package rntuple

import (
	"fmt"

	"github.com/scigolib/rootio/internal/frame"
	"github.com/scigolib/rootio/internal/iobuf"
)

// SchemaDescription is the full schema — the header envelope's original
// field/column/alias-column/extra-type lists, extended by whatever the
// footer's schema-extension record frame adds. Field and column IDs in the
// extension continue numbering from the header's, so concatenation (not
// merge-by-ID) is the correct combination.
type SchemaDescription struct {
	FieldDescriptions       []FieldDescription
	ColumnDescriptions      []ColumnDescription
	AliasColumnDescriptions []AliasColumnDescription
	ExtraTypeInformations   []ExtraTypeInformation
}

// concatPayloads combines a header list with its schema-extension
// counterpart, unwrapping each record frame to its payload.
func concatPayloads[T any](header, ext frame.ListFrame[frame.RecordFrame[T]]) []T {
	out := make([]T, 0, len(header.Items)+len(ext.Items))
	for _, rf := range header.Items {
		out = append(out, rf.Payload)
	}
	for _, rf := range ext.Items {
		out = append(out, rf.Payload)
	}
	return out
}

// SchemaDescriptionFromEnvelopes builds a SchemaDescription by concatenating
// the header's lists with the footer's schema-extension lists.
func SchemaDescriptionFromEnvelopes(header HeaderEnvelope, footer FooterEnvelope) SchemaDescription {
	ext := footer.SchemaExtension.Payload
	return SchemaDescription{
		FieldDescriptions:       concatPayloads(header.FieldDescriptions, ext.FieldDescriptions),
		ColumnDescriptions:      concatPayloads(header.ColumnDescriptions, ext.ColumnDescriptions),
		AliasColumnDescriptions: concatPayloads(header.AliasColumnDescriptions, ext.AliasColumnDescriptions),
		ExtraTypeInformations:   concatPayloads(header.ExtraTypeInformations, ext.ExtraTypeInformations),
	}
}

// InterpretablePage pairs a page's raw location with the information needed
// to know how many (still-compressed) bytes it decompresses to and what
// physical type its elements carry.
type InterpretablePage struct {
	Page             PageDescription
	UncompressedSize int
	ColumnType       ColumnType
}

// uncompressedPageSize computes ceil(|nElements| * bitsOnStorage / 8), the
// number of plain bytes a page holds once decompressed. The magnitude is
// negated in the page description when the column is suppressed or split.
func uncompressedPageSize(nElements int32, bitsOnStorage uint16) int {
	n := int64(nElements)
	if n < 0 {
		n = -n
	}
	bits := n * int64(bitsOnStorage)
	return int((bits + 7) / 8)
}

// RNTuple is the fully traversed RNTuple structure: its header, its footer,
// and every page-list envelope its cluster groups link to.
type RNTuple struct {
	Header    HeaderEnvelope
	Footer    FooterEnvelope
	PageLists []PageListEnvelope
}

// FromAnchor reads an RNTuple's header and footer through anchor, verifies
// the footer's and every page-list's cross-checksum against the header, and
// fetches every linked page-list envelope.
func FromAnchor(anchor Anchor, fetch iobuf.Fetch) (RNTuple, error) {
	headerHdr, header, err := anchor.GetHeader(fetch)
	if err != nil {
		return RNTuple{}, err
	}
	_, footer, err := anchor.GetFooter(fetch)
	if err != nil {
		return RNTuple{}, err
	}
	if footer.HeaderChecksum != headerHdr.Checksum {
		return RNTuple{}, fmt.Errorf("rntuple: %w: header checksum mismatch: footer declares 0x%x, header computes 0x%x",
			ErrCorrupt, footer.HeaderChecksum, headerHdr.Checksum)
	}

	pageLists, err := footer.GetPageLists(fetch)
	if err != nil {
		return RNTuple{}, err
	}
	for i, pl := range pageLists {
		if pl.HeaderChecksum != headerHdr.Checksum {
			return RNTuple{}, fmt.Errorf("rntuple: %w: page-list %d header checksum mismatch: declares 0x%x, header computes 0x%x",
				ErrCorrupt, i, pl.HeaderChecksum, headerHdr.Checksum)
		}
	}

	return RNTuple{Header: header, Footer: footer, PageLists: pageLists}, nil
}

// SchemaDescription returns the full schema: the header's lists extended by
// the footer's schema-extension lists.
func (r RNTuple) SchemaDescription() SchemaDescription {
	return SchemaDescriptionFromEnvelopes(r.Header, r.Footer)
}

// FeatureFlags returns the logical OR of the header's and footer's feature
// flags.
func (r RNTuple) FeatureFlags() FeatureFlags {
	return r.Header.FeatureFlags | r.Footer.FeatureFlags
}

// ExtendedPageDescriptions walks every page-list envelope's cluster/column/
// page nesting and pairs each page with its inferred uncompressed size and
// column type, using the combined schema's column descriptions (in
// serialization order) to look up each column's storage width.
func (r RNTuple) ExtendedPageDescriptions() [][][][]InterpretablePage {
	columns := r.SchemaDescription().ColumnDescriptions
	out := make([][][][]InterpretablePage, 0, len(r.PageLists))
	for _, pl := range r.PageLists {
		var perEnvelope [][][]InterpretablePage
		for _, cluster := range pl.PageLocations.Items {
			var perCluster [][]InterpretablePage
			for i, columnPages := range cluster.Items {
				if i >= len(columns) {
					break
				}
				colDesc := columns[i]
				var perColumn []InterpretablePage
				for _, page := range columnPages.Pages.Items {
					perColumn = append(perColumn, InterpretablePage{
						Page:             page,
						UncompressedSize: uncompressedPageSize(page.NElements, colDesc.BitsOnStorage),
						ColumnType:       colDesc.ColumnType,
					})
				}
				perCluster = append(perCluster, perColumn)
			}
			perEnvelope = append(perEnvelope, perCluster)
		}
		out = append(out, perEnvelope)
	}
	return out
}
