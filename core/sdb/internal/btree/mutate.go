package btree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
)

// Mutation errors.
var (
	ErrDuplicateRowid = errors.New("duplicate rowid")
	ErrRecordTooLarge = errors.New("record too large for page size")
	errPageFull       = errors.New("page full") // internal; resolved by splitting
)

// PageStore is the mutable page access the mutator needs. Update journals
// the page before handing its in-memory copy to fn; Allocate and Free
// manage the freelist.
type PageStore interface {
	format.PageReader
	UsableSize() int
	Update(n uint32, fn func(data []byte) error) error
	Allocate() (uint32, error)
	Free(n uint32) error
}

// Mutator performs inserts and deletes on b-trees through a PageStore.
// All page mutations go through Update, so every touched page is journaled
// by the transaction before it changes.
type Mutator struct {
	store  PageStore
	usable int
}

// NewMutator creates a mutator over store.
func NewMutator(store PageStore) *Mutator {
	return &Mutator{store: store, usable: store.UsableSize()}
}

// split reports a completed page split to the parent level: sep is the
// separator (rowid for table trees, an encoded interior cell body for
// index trees) and right is the new right sibling.
type split struct {
	sepRowid int64
	sepCell  []byte // index trees: promoted cell without its child prefix
	right    uint32
}

// CreateTree allocates and formats an empty leaf root of the given type.
func (m *Mutator) CreateTree(pageType byte) (uint32, error) {
	pageNum, err := m.store.Allocate()
	if err != nil {
		return 0, err
	}
	err = m.store.Update(pageNum, func(data []byte) error {
		format.InitPage(data, pageNum, pageType, m.usable)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pageNum, nil
}

// InsertTableRow inserts a row into the table b-tree rooted at root. The
// payload is the encoded record; overflow pages are allocated as needed.
func (m *Mutator) InsertTableRow(root uint32, rowid int64, payload []byte) error {
	cell, err := m.buildTableLeafCell(rowid, payload)
	if err != nil {
		return err
	}
	s, err := m.insertTable(root, rowid, cell)
	if err != nil {
		return err
	}
	if s != nil {
		return m.growRoot(root, s, true)
	}
	return nil
}

// buildTableLeafCell encodes the leaf cell, spilling to an overflow chain
// when the payload exceeds the inline maximum.
func (m *Mutator) buildTableLeafCell(rowid int64, payload []byte) ([]byte, error) {
	local := format.LocalPayload(len(payload), m.usable, true)
	var overflow uint32
	if local < len(payload) {
		var err error
		overflow, err = m.writeOverflow(payload[local:])
		if err != nil {
			return nil, err
		}
	}
	cell := format.EncodeTableLeafCell(rowid, payload[:local], len(payload), overflow)
	if len(cell)+format.PageHeaderSizeLeaf+2 > m.usable {
		return nil, fmt.Errorf("%w: %d payload bytes", ErrRecordTooLarge, len(payload))
	}
	return cell, nil
}

// writeOverflow stores tail in a fresh overflow chain and returns the
// first page number.
func (m *Mutator) writeOverflow(tail []byte) (uint32, error) {
	chunk := m.usable - 4
	var pages []uint32
	for off := 0; off < len(tail); off += chunk {
		pageNum, err := m.store.Allocate()
		if err != nil {
			return 0, err
		}
		pages = append(pages, pageNum)
	}
	for i, pageNum := range pages {
		next := uint32(0)
		if i+1 < len(pages) {
			next = pages[i+1]
		}
		start := i * chunk
		end := start + chunk
		if end > len(tail) {
			end = len(tail)
		}
		part := tail[start:end]
		err := m.store.Update(pageNum, func(data []byte) error {
			for j := range data {
				data[j] = 0
			}
			binary.BigEndian.PutUint32(data, next)
			copy(data[4:], part)
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return pages[0], nil
}

// freeOverflow releases the overflow chain of a cell, if any.
func (m *Mutator) freeOverflow(c *format.Cell) error {
	if c.Overflow == 0 {
		return nil
	}
	pages, err := format.OverflowPages(m.store, m.usable, c.Overflow, int(c.TotalPayload)-len(c.Payload))
	if err != nil {
		return err
	}
	for _, pageNum := range pages {
		if err := m.store.Free(pageNum); err != nil {
			return err
		}
	}
	return nil
}

// insertTable inserts cell into the subtree at pageNum, splitting on the
// way back up as needed.
func (m *Mutator) insertTable(pageNum uint32, rowid int64, cell []byte) (*split, error) {
	data, err := m.store.Page(pageNum)
	if err != nil {
		return nil, err
	}
	h, err := format.ParsePageHeader(data, pageNum)
	if err != nil {
		return nil, err
	}

	if h.IsLeaf() {
		cells, rowids, err := m.readTableCells(data, h, pageNum)
		if err != nil {
			return nil, err
		}
		pos := len(rowids)
		for i, r := range rowids {
			if r == rowid {
				return nil, fmt.Errorf("%w: %d", ErrDuplicateRowid, rowid)
			}
			if r > rowid {
				pos = i
				break
			}
		}
		cells = insertSlice(cells, pos, cell)
		rowids = insertRowid(rowids, pos, rowid)
		return m.storeOrSplitLeaf(pageNum, format.PageTypeLeafTable, cells, rowids)
	}

	// Interior: descend into the child owning rowid.
	slot, children, seps, err := m.tableInteriorSlots(data, h, pageNum, rowid)
	if err != nil {
		return nil, err
	}
	child := h.RightChild
	if slot < len(children) {
		child = children[slot]
	}
	s, err := m.insertTable(child, rowid, cell)
	if err != nil || s == nil {
		return s, err
	}
	return m.insertTableSeparator(pageNum, slot, children, seps, h.RightChild, s)
}

// insertTableSeparator adds a separator produced by a child split into an
// interior page, splitting the interior page itself when necessary. The
// child at slot now holds the left half; the new cell keeps pointing at
// it while the slot's old pointer moves to the right sibling.
func (m *Mutator) insertTableSeparator(pageNum uint32, slot int, children []uint32, seps []int64, rightChild uint32, s *split) (*split, error) {
	if slot < len(children) {
		// The split child was the left child of cell slot: a new cell for
		// the left half goes in at slot, and the old cell keeps its key
		// but now points at the right half.
		leftHalf := children[slot]
		children = insertUint32(children, slot, leftHalf)
		children[slot+1] = s.right
		seps = insertRowid(seps, slot, s.sepRowid)
	} else {
		// The split child was the right child: append a cell for the left
		// half and hang the new sibling as the right child.
		children = append(children, rightChild)
		seps = append(seps, s.sepRowid)
		rightChild = s.right
	}
	return m.storeOrSplitTableInterior(pageNum, children, seps, rightChild)
}

// storeOrSplitLeaf rewrites a leaf page with the given cells, splitting it
// into two leaves when they no longer fit. rowids parallels cells.
func (m *Mutator) storeOrSplitLeaf(pageNum uint32, pageType byte, cells [][]byte, rowids []int64) (*split, error) {
	err := m.store.Update(pageNum, func(data []byte) error {
		return rewritePage(data, pageNum, pageType, cells, 0, m.usable)
	})
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, errPageFull) {
		return nil, err
	}

	// Near-balanced size split: the left page keeps cells until it holds
	// about half the bytes, the right page takes the rest.
	cut := splitPoint(cells)
	left, right := cells[:cut], cells[cut:]

	rightPage, err := m.store.Allocate()
	if err != nil {
		return nil, err
	}
	err = m.store.Update(rightPage, func(data []byte) error {
		format.InitPage(data, rightPage, pageType, m.usable)
		return rewritePage(data, rightPage, pageType, right, 0, m.usable)
	})
	if err != nil {
		return nil, err
	}
	err = m.store.Update(pageNum, func(data []byte) error {
		return rewritePage(data, pageNum, pageType, left, 0, m.usable)
	})
	if err != nil {
		return nil, err
	}
	return &split{sepRowid: rowids[cut-1], right: rightPage}, nil
}

// storeOrSplitTableInterior rewrites an interior page from its separator
// keys and child pointers, splitting it when it overflows.
func (m *Mutator) storeOrSplitTableInterior(pageNum uint32, children []uint32, seps []int64, rightChild uint32) (*split, error) {
	cells := make([][]byte, len(seps))
	for i := range seps {
		cells[i] = format.EncodeTableInteriorCell(children[i], seps[i])
	}
	err := m.store.Update(pageNum, func(data []byte) error {
		return rewritePage(data, pageNum, format.PageTypeInteriorTable, cells, rightChild, m.usable)
	})
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, errPageFull) {
		return nil, err
	}

	// Interior split: the middle cell's key moves up; its child becomes
	// the left page's right child.
	mid := len(cells) / 2
	if mid == 0 {
		mid = 1
	}
	if mid >= len(cells) {
		mid = len(cells) - 1
	}

	rightPage, err := m.store.Allocate()
	if err != nil {
		return nil, err
	}
	err = m.store.Update(rightPage, func(data []byte) error {
		format.InitPage(data, rightPage, format.PageTypeInteriorTable, m.usable)
		return rewritePage(data, rightPage, format.PageTypeInteriorTable, cells[mid+1:], rightChild, m.usable)
	})
	if err != nil {
		return nil, err
	}
	err = m.store.Update(pageNum, func(data []byte) error {
		return rewritePage(data, pageNum, format.PageTypeInteriorTable, cells[:mid], children[mid], m.usable)
	})
	if err != nil {
		return nil, err
	}
	return &split{sepRowid: seps[mid], right: rightPage}, nil
}

// growRoot handles a split that propagated to the root: the root's left
// half moves to a fresh page and the root becomes (or stays) an interior
// page with two subtrees, keeping its page number stable.
func (m *Mutator) growRoot(root uint32, s *split, isTable bool) error {
	data, err := m.store.Page(root)
	if err != nil {
		return err
	}
	h, err := format.ParsePageHeader(data, root)
	if err != nil {
		return err
	}
	cells, err := m.readRawCells(data, h, root)
	if err != nil {
		return err
	}

	leftPage, err := m.store.Allocate()
	if err != nil {
		return err
	}
	err = m.store.Update(leftPage, func(dst []byte) error {
		format.InitPage(dst, leftPage, h.Type, m.usable)
		return rewritePage(dst, leftPage, h.Type, cells, h.RightChild, m.usable)
	})
	if err != nil {
		return err
	}

	var rootCell []byte
	var rootType byte
	if isTable {
		rootCell = format.EncodeTableInteriorCell(leftPage, s.sepRowid)
		rootType = format.PageTypeInteriorTable
	} else {
		rootCell = append(encodeChildPrefix(leftPage), s.sepCell...)
		rootType = format.PageTypeInteriorIndex
	}
	return m.store.Update(root, func(dst []byte) error {
		format.InitPage(dst, root, rootType, m.usable)
		return rewritePage(dst, root, rootType, [][]byte{rootCell}, s.right, m.usable)
	})
}

// DeleteTableRow removes the row with the given rowid. Returns false when
// the rowid is absent. Leaf underflow is tolerated; empty leaves stay in
// the tree and are skipped by cursors. They are not freed or merged.
func (m *Mutator) DeleteTableRow(root uint32, rowid int64) (bool, error) {
	pageNum := root
	for depth := 0; ; depth++ {
		if depth >= MaxDepth {
			return false, ErrDepthExceeded
		}
		data, err := m.store.Page(pageNum)
		if err != nil {
			return false, err
		}
		h, err := format.ParsePageHeader(data, pageNum)
		if err != nil {
			return false, err
		}

		if h.IsLeaf() {
			cells, rowids, err := m.readTableCells(data, h, pageNum)
			if err != nil {
				return false, err
			}
			pos := -1
			for i, r := range rowids {
				if r == rowid {
					pos = i
					break
				}
			}
			if pos < 0 {
				return false, nil
			}
			off, err := h.CellPointer(data, pos)
			if err != nil {
				return false, err
			}
			victim, err := format.ParseCell(h.Type, data[off:], m.usable, pageNum)
			if err != nil {
				return false, err
			}
			if err := m.freeOverflow(victim); err != nil {
				return false, err
			}
			cells = append(cells[:pos], cells[pos+1:]...)
			err = m.store.Update(pageNum, func(data []byte) error {
				return rewritePage(data, pageNum, h.Type, cells, 0, m.usable)
			})
			return err == nil, err
		}

		slot, children, _, err := m.tableInteriorSlots(data, h, pageNum, rowid)
		if err != nil {
			return false, err
		}
		if slot < len(children) {
			pageNum = children[slot]
		} else {
			pageNum = h.RightChild
		}
	}
}

// readTableCells returns the raw cell bytes and rowids of a table page in
// cell order.
func (m *Mutator) readTableCells(data []byte, h *format.PageHeader, pageNum uint32) ([][]byte, []int64, error) {
	cells, err := m.readRawCells(data, h, pageNum)
	if err != nil {
		return nil, nil, err
	}
	rowids := make([]int64, len(cells))
	for i, raw := range cells {
		c, err := format.ParseCell(h.Type, raw, m.usable, pageNum)
		if err != nil {
			return nil, nil, err
		}
		rowids[i] = c.Rowid
	}
	return cells, rowids, nil
}

// readRawCells copies the raw bytes of every cell on a page, in pointer
// order. Copies are required because the page is rewritten in place.
func (m *Mutator) readRawCells(data []byte, h *format.PageHeader, pageNum uint32) ([][]byte, error) {
	cells := make([][]byte, 0, h.CellCount)
	for i := 0; i < int(h.CellCount); i++ {
		off, err := h.CellPointer(data, i)
		if err != nil {
			return nil, err
		}
		size, err := format.CellSize(h.Type, data[off:], m.usable, pageNum)
		if err != nil {
			return nil, err
		}
		raw := make([]byte, size)
		copy(raw, data[off:int(off)+size])
		cells = append(cells, raw)
	}
	return cells, nil
}

// tableInteriorSlots parses an interior table page into parallel child and
// separator slices and returns the slot owning rowid.
func (m *Mutator) tableInteriorSlots(data []byte, h *format.PageHeader, pageNum uint32, rowid int64) (int, []uint32, []int64, error) {
	n := int(h.CellCount)
	children := make([]uint32, n)
	seps := make([]int64, n)
	for i := 0; i < n; i++ {
		off, err := h.CellPointer(data, i)
		if err != nil {
			return 0, nil, nil, err
		}
		c, err := format.ParseCell(h.Type, data[off:], m.usable, pageNum)
		if err != nil {
			return 0, nil, nil, err
		}
		children[i] = c.ChildPage
		seps[i] = c.Rowid
	}
	slot := n
	for i, sep := range seps {
		if rowid <= sep {
			slot = i
			break
		}
	}
	return slot, children, seps, nil
}

// splitPoint returns the index where cells divide into two near-balanced
// halves by byte size, keeping at least one cell on each side.
func splitPoint(cells [][]byte) int {
	total := 0
	for _, c := range cells {
		total += len(c) + 2
	}
	accum := 0
	for i, c := range cells {
		accum += len(c) + 2
		if accum >= (total+1)/2 {
			cut := i + 1
			if cut >= len(cells) {
				cut = len(cells) - 1
			}
			if cut < 1 {
				cut = 1
			}
			return cut
		}
	}
	return len(cells) / 2
}

// rewritePage lays the cells out on the page from the content end down,
// with the pointer array in cell order after the header. Returns
// errPageFull when they do not fit.
func rewritePage(data []byte, pageNum uint32, pageType byte, cells [][]byte, rightChild uint32, usable int) error {
	off := format.HeaderOffset(pageNum)
	h := &format.PageHeader{Type: pageType, RightChild: rightChild, Offset: off}
	hsize := h.Size()

	total := 0
	for _, c := range cells {
		total += len(c)
	}
	if off+hsize+2*len(cells)+total > usable {
		return errPageFull
	}

	// Clear the body, keeping the database header window of page 1.
	for i := off; i < len(data); i++ {
		data[i] = 0
	}

	pos := usable
	ptrBase := off + hsize
	for i, c := range cells {
		pos -= len(c)
		copy(data[pos:], c)
		binary.BigEndian.PutUint16(data[ptrBase+2*i:], uint16(pos))
	}

	h.CellCount = uint16(len(cells))
	h.CellContentStart = uint32(pos)
	format.WritePageHeader(data, h)
	return nil
}

func insertSlice(s [][]byte, pos int, v []byte) [][]byte {
	s = append(s, nil)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func insertRowid(s []int64, pos int, v int64) []int64 {
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func insertUint32(s []uint32, pos int, v uint32) []uint32 {
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func encodeChildPrefix(child uint32) []byte {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, child)
	return p
}

// NewRowid returns the next rowid for a table: one past the current
// maximum.
func NewRowid(src format.PageReader, root uint32, usableSize int) (int64, error) {
	cur := NewCursor(NewTree(src, root, usableSize))
	if err := cur.Last(); err != nil {
		return 0, err
	}
	if cur.State() != AtRow {
		return 1, nil
	}
	maxRowid := cur.Rowid()
	if maxRowid == 1<<63-1 {
		return 0, errors.New("rowid overflow")
	}
	return maxRowid + 1, nil
}
