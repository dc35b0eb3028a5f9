// Package btree drives table and index b-trees over a page source:
// stateful cursors for ordered traversal and seeks, and a mutator that
// inserts and deletes rows with leaf splits and interior promotion.
package btree

import (
	"errors"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/record"
)

// MaxDepth bounds tree descent to defend against corrupt page cycles.
const MaxDepth = 20

// Traversal errors.
var (
	ErrNotPositioned = errors.New("cursor is not positioned on a row")
	ErrDepthExceeded = errors.New("b-tree depth exceeded (possible corruption)")
)

// Tree identifies one b-tree within a database.
type Tree struct {
	src        format.PageReader
	root       uint32
	usableSize int
}

// NewTree creates a handle for the b-tree rooted at root.
func NewTree(src format.PageReader, root uint32, usableSize int) *Tree {
	return &Tree{src: src, root: root, usableSize: usableSize}
}

// Root returns the root page number.
func (t *Tree) Root() uint32 { return t.root }

// page loads and parses one page of the tree.
func (t *Tree) page(n uint32) ([]byte, *format.PageHeader, error) {
	data, err := t.src.Page(n)
	if err != nil {
		return nil, nil, err
	}
	h, err := format.ParsePageHeader(data, n)
	if err != nil {
		return nil, nil, err
	}
	return data, h, nil
}

// cellAt parses cell i of the given page.
func cellAt(data []byte, h *format.PageHeader, i int, usableSize int, pageNum uint32) (*format.Cell, error) {
	off, err := h.CellPointer(data, i)
	if err != nil {
		return nil, format.Corrupt(pageNum, err.Error())
	}
	if int(off) >= len(data) {
		return nil, format.Corrupt(pageNum, "cell pointer beyond page end")
	}
	return format.ParseCell(h.Type, data[off:], usableSize, pageNum)
}

// Payload assembles the full payload of a cell, following its overflow
// chain when present.
func (t *Tree) Payload(c *format.Cell) ([]byte, error) {
	return format.AssemblePayload(t.src, t.usableSize, c)
}

// Record decodes the record carried by a cell.
func (t *Tree) Record(c *format.Cell) (*record.View, error) {
	payload, err := t.Payload(c)
	if err != nil {
		return nil, err
	}
	return record.Decode(payload)
}
