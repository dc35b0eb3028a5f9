package format

import (
	"encoding/binary"
	"fmt"
)

// B-tree page types (the first byte of the page header).
const (
	PageTypeInteriorIndex = 0x02
	PageTypeInteriorTable = 0x05
	PageTypeLeafIndex     = 0x0a
	PageTypeLeafTable     = 0x0d
)

// Page header sizes: 8 bytes on leaves, 12 on interior pages (the extra
// 4 bytes hold the right-child pointer).
const (
	PageHeaderSizeLeaf     = 8
	PageHeaderSizeInterior = 12
)

// PageHeader is the parsed b-tree page header. Offset is the position of
// the header within the page: 100 on page 1, 0 elsewhere.
type PageHeader struct {
	Type             byte
	FirstFreeblock   uint16
	CellCount        uint16
	CellContentStart uint32 // 0 on disk encodes 65536
	FragmentedBytes  uint8
	RightChild       uint32 // interior pages only
	Offset           int
}

// IsLeaf reports whether the page is a leaf page.
func (h *PageHeader) IsLeaf() bool {
	return h.Type == PageTypeLeafTable || h.Type == PageTypeLeafIndex
}

// IsTable reports whether the page belongs to a table b-tree.
func (h *PageHeader) IsTable() bool {
	return h.Type == PageTypeLeafTable || h.Type == PageTypeInteriorTable
}

// Size returns the page header size in bytes.
func (h *PageHeader) Size() int {
	if h.IsLeaf() {
		return PageHeaderSizeLeaf
	}
	return PageHeaderSizeInterior
}

// HeaderOffset returns the byte offset of the page header within a page:
// page 1 carries the 100-byte database header first.
func HeaderOffset(pageNum uint32) int {
	if pageNum == 1 {
		return HeaderSize
	}
	return 0
}

// ParsePageHeader parses the b-tree page header of the given page.
func ParsePageHeader(data []byte, pageNum uint32) (*PageHeader, error) {
	off := HeaderOffset(pageNum)
	if len(data) < off+PageHeaderSizeLeaf {
		return nil, Corrupt(pageNum, "page too small for header")
	}

	h := &PageHeader{
		Type:             data[off],
		FirstFreeblock:   binary.BigEndian.Uint16(data[off+1:]),
		CellCount:        binary.BigEndian.Uint16(data[off+3:]),
		CellContentStart: uint32(binary.BigEndian.Uint16(data[off+5:])),
		FragmentedBytes:  data[off+7],
		Offset:           off,
	}
	if h.CellContentStart == 0 {
		h.CellContentStart = 65536
	}

	switch h.Type {
	case PageTypeLeafTable, PageTypeLeafIndex:
	case PageTypeInteriorTable, PageTypeInteriorIndex:
		if len(data) < off+PageHeaderSizeInterior {
			return nil, Corrupt(pageNum, "interior page too small for header")
		}
		h.RightChild = binary.BigEndian.Uint32(data[off+8:])
	default:
		return nil, Corrupt(pageNum, fmt.Sprintf("unknown page type 0x%02x", h.Type))
	}

	return h, nil
}

// CellPointer returns the content offset of cell i, read from the cell
// pointer array that follows the page header.
func (h *PageHeader) CellPointer(data []byte, i int) (uint16, error) {
	if i < 0 || i >= int(h.CellCount) {
		return 0, fmt.Errorf("cell index %d out of range (page has %d cells)", i, h.CellCount)
	}
	pos := h.Offset + h.Size() + i*2
	if pos+2 > len(data) {
		return 0, fmt.Errorf("cell pointer %d beyond page end", i)
	}
	return binary.BigEndian.Uint16(data[pos:]), nil
}

// WritePageHeader serializes h back into the page. The cell pointer array
// is managed separately by the mutator.
func WritePageHeader(data []byte, h *PageHeader) {
	off := h.Offset
	data[off] = h.Type
	binary.BigEndian.PutUint16(data[off+1:], h.FirstFreeblock)
	binary.BigEndian.PutUint16(data[off+3:], h.CellCount)
	start := h.CellContentStart
	if start == 65536 {
		start = 0
	}
	binary.BigEndian.PutUint16(data[off+5:], uint16(start))
	data[off+7] = h.FragmentedBytes
	if !h.IsLeaf() {
		binary.BigEndian.PutUint32(data[off+8:], h.RightChild)
	}
}

// InitPage formats an empty b-tree page of the given type in place.
func InitPage(data []byte, pageNum uint32, pageType byte, usableSize int) {
	off := HeaderOffset(pageNum)
	for i := off; i < len(data); i++ {
		data[i] = 0
	}
	h := &PageHeader{
		Type:             pageType,
		CellContentStart: uint32(usableSize),
		Offset:           off,
	}
	WritePageHeader(data, h)
}
