package btree

import (
	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/record"
)

// State is the cursor position state.
type State int

const (
	// Unpositioned means the cursor has not been placed, or a previous
	// operation failed.
	Unpositioned State = iota

	// BeforeFirst is the virtual position before the first row; Next moves
	// to the first row.
	BeforeFirst

	// AtRow means the cursor is on a row.
	AtRow

	// AfterLast is the virtual position past the last row.
	AfterLast
)

// frame is one level of the descent stack. idx records which child slot
// the cursor is inside (for interior pages) or which cell it is on (for
// the current page): slot j < CellCount is the left child of cell j, slot
// CellCount is the right child.
type frame struct {
	pageNum uint32
	data    []byte
	header  *format.PageHeader
	idx     int
}

// Cursor is a stateful cursor over one b-tree. Cursors are single-threaded
// and must not be used across a commit or rollback of their database.
//
// Table cursors yield leaf cells only. Index cursors perform true in-order
// traversal: interior index cells are real entries and are yielded between
// their adjacent subtrees.
type Cursor struct {
	tree    *Tree
	isIndex bool
	stack   []frame
	state   State
	cell    *format.Cell
}

// NewCursor creates an unpositioned cursor.
func NewCursor(tree *Tree) *Cursor {
	return &Cursor{tree: tree, state: Unpositioned}
}

// State returns the cursor state.
func (c *Cursor) State() State { return c.state }

// Rowid returns the rowid of the current row. Valid only in state AtRow on
// a table b-tree.
func (c *Cursor) Rowid() int64 {
	if c.state != AtRow || c.cell == nil {
		return 0
	}
	return c.cell.Rowid
}

// Cell returns the current cell.
func (c *Cursor) Cell() *format.Cell { return c.cell }

// Record decodes the current row's record.
func (c *Cursor) Record() (*record.View, error) {
	if c.state != AtRow {
		return nil, ErrNotPositioned
	}
	return c.tree.Record(c.cell)
}

// Payload returns the current row's fully assembled payload.
func (c *Cursor) Payload() ([]byte, error) {
	if c.state != AtRow {
		return nil, ErrNotPositioned
	}
	return c.tree.Payload(c.cell)
}

func (c *Cursor) fail(err error) error {
	c.state = Unpositioned
	c.stack = c.stack[:0]
	c.cell = nil
	return err
}

func (c *Cursor) push(pageNum uint32) (*frame, error) {
	if len(c.stack) >= MaxDepth {
		return nil, ErrDepthExceeded
	}
	data, h, err := c.tree.page(pageNum)
	if err != nil {
		return nil, err
	}
	if len(c.stack) == 0 {
		c.isIndex = h.Type == format.PageTypeLeafIndex || h.Type == format.PageTypeInteriorIndex
	}
	c.stack = append(c.stack, frame{pageNum: pageNum, data: data, header: h})
	return &c.stack[len(c.stack)-1], nil
}

func (c *Cursor) top() *frame { return &c.stack[len(c.stack)-1] }

// childAt returns the page number of child slot j of an interior frame.
func childAt(f *frame, j int, usableSize int) (uint32, error) {
	if j >= int(f.header.CellCount) {
		return f.header.RightChild, nil
	}
	cell, err := cellAt(f.data, f.header, j, usableSize, f.pageNum)
	if err != nil {
		return 0, err
	}
	return cell.ChildPage, nil
}

// setAt places the cursor on cell idx of the top frame.
func (c *Cursor) setAt(idx int) error {
	f := c.top()
	f.idx = idx
	cell, err := cellAt(f.data, f.header, idx, c.tree.usableSize, f.pageNum)
	if err != nil {
		return err
	}
	c.cell = cell
	c.state = AtRow
	return nil
}

// First positions the cursor on the first row, or AfterLast when the tree
// is empty.
func (c *Cursor) First() error {
	c.stack = c.stack[:0]
	c.cell = nil
	if err := c.descendFirst(c.tree.root); err != nil {
		return c.fail(err)
	}
	return nil
}

// Last positions the cursor on the last row, or BeforeFirst when the tree
// is empty.
func (c *Cursor) Last() error {
	c.stack = c.stack[:0]
	c.cell = nil
	if err := c.descendLast(c.tree.root); err != nil {
		return c.fail(err)
	}
	return nil
}

// descendFirst descends to the leftmost row at or below pageNum and sets
// the cursor there; when the subtree is empty it continues with the next
// entry in order (or AfterLast).
func (c *Cursor) descendFirst(pageNum uint32) error {
	for {
		f, err := c.push(pageNum)
		if err != nil {
			return err
		}
		if f.header.IsLeaf() {
			if f.header.CellCount == 0 {
				// Deleted-out leaf; continue with the in-order successor.
				return c.ascendNext()
			}
			return c.setAt(0)
		}
		f.idx = 0
		pageNum, err = childAt(f, 0, c.tree.usableSize)
		if err != nil {
			return err
		}
	}
}

// descendLast descends to the rightmost row at or below pageNum.
func (c *Cursor) descendLast(pageNum uint32) error {
	for {
		f, err := c.push(pageNum)
		if err != nil {
			return err
		}
		if f.header.IsLeaf() {
			if f.header.CellCount == 0 {
				return c.ascendPrev()
			}
			return c.setAt(int(f.header.CellCount) - 1)
		}
		f.idx = int(f.header.CellCount)
		pageNum = f.header.RightChild
	}
}

// ascendNext pops finished frames and continues with the next row in
// order: for index trees the parent's pending interior cell, for table
// trees the leftmost row of the next subtree.
func (c *Cursor) ascendNext() error {
	for {
		c.stack = c.stack[:len(c.stack)-1]
		if len(c.stack) == 0 {
			c.state = AfterLast
			c.cell = nil
			return nil
		}
		f := c.top()
		if f.idx < int(f.header.CellCount) {
			if c.isIndex {
				// The interior cell itself is the next entry.
				return c.setAt(f.idx)
			}
			// Table trees skip interior cells; move to the next subtree.
			f.idx++
			child, err := childAt(f, f.idx, c.tree.usableSize)
			if err != nil {
				return err
			}
			return c.descendFirst(child)
		}
		// Came out of the right child; keep ascending.
	}
}

// ascendPrev is the mirror of ascendNext for reverse traversal.
func (c *Cursor) ascendPrev() error {
	for {
		c.stack = c.stack[:len(c.stack)-1]
		if len(c.stack) == 0 {
			c.state = BeforeFirst
			c.cell = nil
			return nil
		}
		f := c.top()
		if f.idx > 0 {
			if c.isIndex {
				return c.setAt(f.idx - 1)
			}
			f.idx--
			child, err := childAt(f, f.idx, c.tree.usableSize)
			if err != nil {
				return err
			}
			return c.descendLast(child)
		}
		// Finished the leftmost subtree; nothing precedes it here.
	}
}

// Next advances to the next row. From BeforeFirst it moves to the first
// row. Returns nil with state AfterLast at the end.
func (c *Cursor) Next() error {
	switch c.state {
	case BeforeFirst, Unpositioned:
		return c.First()
	case AfterLast:
		return nil
	}

	f := c.top()
	if f.header.IsLeaf() {
		if f.idx+1 < int(f.header.CellCount) {
			if err := c.setAt(f.idx + 1); err != nil {
				return c.fail(err)
			}
			return nil
		}
		if err := c.ascendNext(); err != nil {
			return c.fail(err)
		}
		return nil
	}

	// Index cursor sitting on an interior cell: continue with the subtree
	// to its right.
	f.idx++
	child, err := childAt(f, f.idx, c.tree.usableSize)
	if err != nil {
		return c.fail(err)
	}
	if err := c.descendFirst(child); err != nil {
		return c.fail(err)
	}
	return nil
}

// Prev moves to the previous row. Returns nil with state BeforeFirst at
// the beginning.
func (c *Cursor) Prev() error {
	switch c.state {
	case AfterLast, Unpositioned:
		return c.Last()
	case BeforeFirst:
		return nil
	}

	f := c.top()
	if f.header.IsLeaf() {
		if f.idx > 0 {
			if err := c.setAt(f.idx - 1); err != nil {
				return c.fail(err)
			}
			return nil
		}
		if err := c.ascendPrev(); err != nil {
			return c.fail(err)
		}
		return nil
	}

	child, err := childAt(f, f.idx, c.tree.usableSize)
	if err != nil {
		return c.fail(err)
	}
	if err := c.descendLast(child); err != nil {
		return c.fail(err)
	}
	return nil
}

// SeekRowid positions the cursor at rowid r in a table b-tree. When r is
// absent the cursor lands on the first row with a greater rowid (or
// AfterLast) and found is false.
func (c *Cursor) SeekRowid(r int64) (found bool, err error) {
	c.stack = c.stack[:0]
	c.cell = nil

	pageNum := c.tree.root
	for {
		f, err := c.push(pageNum)
		if err != nil {
			return false, c.fail(err)
		}

		if f.header.IsLeaf() {
			idx, exact, err := c.searchLeafRowid(f, r)
			if err != nil {
				return false, c.fail(err)
			}
			if exact {
				if err := c.setAt(idx); err != nil {
					return false, c.fail(err)
				}
				return true, nil
			}
			if idx < int(f.header.CellCount) {
				if err := c.setAt(idx); err != nil {
					return false, c.fail(err)
				}
				return false, nil
			}
			f.idx = idx
			if err := c.ascendNext(); err != nil {
				return false, c.fail(err)
			}
			return false, nil
		}

		// Interior: the smallest separator >= r owns the left subtree that
		// can contain r; otherwise follow the right child.
		slot, err := c.searchInteriorRowid(f, r)
		if err != nil {
			return false, c.fail(err)
		}
		f.idx = slot
		pageNum, err = childAt(f, slot, c.tree.usableSize)
		if err != nil {
			return false, c.fail(err)
		}
	}
}

// searchLeafRowid binary-searches a table leaf for r. Returns the cell
// index holding r, or the insertion point, and whether the match is exact.
func (c *Cursor) searchLeafRowid(f *frame, r int64) (int, bool, error) {
	lo, hi := 0, int(f.header.CellCount)
	for lo < hi {
		mid := (lo + hi) / 2
		cell, err := cellAt(f.data, f.header, mid, c.tree.usableSize, f.pageNum)
		if err != nil {
			return 0, false, err
		}
		switch {
		case cell.Rowid == r:
			return mid, true, nil
		case cell.Rowid < r:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false, nil
}

// searchInteriorRowid returns the child slot to descend into for r: the
// slot of the smallest separator >= r, or the right-child slot.
func (c *Cursor) searchInteriorRowid(f *frame, r int64) (int, error) {
	lo, hi := 0, int(f.header.CellCount)
	for lo < hi {
		mid := (lo + hi) / 2
		cell, err := cellAt(f.data, f.header, mid, c.tree.usableSize, f.pageNum)
		if err != nil {
			return 0, err
		}
		if cell.Rowid < r {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// SeekKey positions the cursor in an index b-tree at the entry whose first
// ncols columns equal key under the given collations. When absent, the
// cursor lands on the first greater entry (or AfterLast) and found is
// false.
func (c *Cursor) SeekKey(key *record.View, ncols int, colls []record.Collation) (found bool, err error) {
	c.stack = c.stack[:0]
	c.cell = nil

	pageNum := c.tree.root
	for {
		f, err := c.push(pageNum)
		if err != nil {
			return false, c.fail(err)
		}

		idx, exact, err := c.searchKey(f, key, ncols, colls)
		if err != nil {
			return false, c.fail(err)
		}
		if exact {
			if err := c.setAt(idx); err != nil {
				return false, c.fail(err)
			}
			return true, nil
		}

		if f.header.IsLeaf() {
			if idx < int(f.header.CellCount) {
				if err := c.setAt(idx); err != nil {
					return false, c.fail(err)
				}
				return false, nil
			}
			f.idx = idx
			if err := c.ascendNext(); err != nil {
				return false, c.fail(err)
			}
			return false, nil
		}

		f.idx = idx
		pageNum, err = childAt(f, idx, c.tree.usableSize)
		if err != nil {
			return false, c.fail(err)
		}
	}
}

// searchKey binary-searches one index page for key. Returns the matching
// cell index (exact), or the slot of the smallest cell greater than key.
func (c *Cursor) searchKey(f *frame, key *record.View, ncols int, colls []record.Collation) (int, bool, error) {
	lo, hi := 0, int(f.header.CellCount)
	for lo < hi {
		mid := (lo + hi) / 2
		cell, err := cellAt(f.data, f.header, mid, c.tree.usableSize, f.pageNum)
		if err != nil {
			return 0, false, err
		}
		rec, err := c.tree.Record(cell)
		if err != nil {
			return 0, false, err
		}
		cmp := record.CompareRecords(key, rec, ncols, colls)
		switch {
		case cmp == 0:
			return mid, true, nil
		case cmp > 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false, nil
}
