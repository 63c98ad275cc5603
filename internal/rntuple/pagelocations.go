package rntuple

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/rootio/internal/envelope"
	"github.com/scigolib/rootio/internal/frame"
	"github.com/scigolib/rootio/internal/iobuf"
)

// PageDescription is the innermost item of the page-locations triple-nested
// list frame: one page's element count and its Locator. It is a plain item,
// not a record frame.
type PageDescription struct {
	NElements int32
	Locator   envelope.Locator
}

func readPageDescription(buf *iobuf.Buffer) (PageDescription, *iobuf.Buffer, error) {
	vals, rest, err := buf.Unpack(binary.LittleEndian, "i")
	if err != nil {
		return PageDescription{}, nil, fmt.Errorf("rntuple: reading page element count: %w", err)
	}
	loc, rest, err := envelope.ReadLocator(rest)
	if err != nil {
		return PageDescription{}, nil, fmt.Errorf("rntuple: reading page locator: %w", err)
	}
	return PageDescription{NElements: int32(vals[0]), Locator: loc}, rest, nil
}

// GetPage fetches the (possibly still compressed) raw bytes of this page.
// Interpreting the bytes as a typed column array is out of scope; callers
// get the opaque on-storage payload located by the page's Locator.
func (p PageDescription) GetPage(fetch iobuf.Fetch) (*iobuf.Buffer, error) {
	buf, err := fetch(p.Locator.ByteOffset(), p.Locator.ByteSize())
	if err != nil {
		return nil, fmt.Errorf("rntuple: fetching page: %w", err)
	}
	return buf, nil
}

// ColumnPages is the inner list frame: every page belonging to one column
// within one cluster, plus the trailing element-offset/compression-settings
// extra members only this frame carries. A negative element offset marks
// the column as suppressed for this cluster.
type ColumnPages struct {
	Pages               frame.ListFrame[PageDescription]
	ElementOffset       int64
	CompressionSettings *uint32
}

func readColumnPages(buf *iobuf.Buffer) (ColumnPages, *iobuf.Buffer, error) {
	lf, extra, rest, err := frame.ReadListFrameWithExtra(buf, readPageDescription, readColumnPagesExtra)
	if err != nil {
		return ColumnPages{}, nil, fmt.Errorf("rntuple: reading column page list: %w", err)
	}
	return ColumnPages{Pages: lf, ElementOffset: extra.offset, CompressionSettings: extra.settings}, rest, nil
}

type columnPagesExtra struct {
	offset   int64
	settings *uint32
}

func readColumnPagesExtra(buf *iobuf.Buffer) (columnPagesExtra, *iobuf.Buffer, error) {
	vals, rest, err := buf.Unpack(binary.LittleEndian, "q")
	if err != nil {
		return columnPagesExtra{}, nil, fmt.Errorf("rntuple: reading column element offset: %w", err)
	}
	offset := vals[0]
	var settings *uint32
	if offset >= 0 {
		sVals, r2, err := rest.Unpack(binary.LittleEndian, "I")
		if err != nil {
			return columnPagesExtra{}, nil, fmt.Errorf("rntuple: reading column compression settings: %w", err)
		}
		v := uint32(sVals[0])
		settings = &v
		rest = r2
	}
	return columnPagesExtra{offset: offset, settings: settings}, rest, nil
}

// ClusterColumns is the outer list frame: every column's pages within one
// cluster, in schema-description order.
type ClusterColumns = frame.ListFrame[ColumnPages]

func readClusterColumns(buf *iobuf.Buffer) (ClusterColumns, *iobuf.Buffer, error) {
	return frame.ReadListFrame(buf, readColumnPages)
}

// PageLocations is the top-most list frame: every cluster's column-page
// layout, in cluster-ID order.
type PageLocations = frame.ListFrame[ClusterColumns]

// ReadPageLocations reads the triple-nested page-locations list frame.
func ReadPageLocations(buf *iobuf.Buffer) (PageLocations, *iobuf.Buffer, error) {
	return frame.ReadListFrame(buf, readClusterColumns)
}
