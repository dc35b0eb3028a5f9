package btree

import (
	"encoding/binary"
	"errors"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/record"
)

// InsertIndexEntry inserts an encoded index record into the index b-tree
// rooted at root. Entries carry the table rowid as their last column, so
// full-record comparison keeps them unique and totally ordered.
func (m *Mutator) InsertIndexEntry(root uint32, payload []byte, colls []record.Collation) error {
	key, err := record.Decode(payload)
	if err != nil {
		return err
	}

	local := format.LocalPayload(len(payload), m.usable, false)
	var overflow uint32
	if local < len(payload) {
		overflow, err = m.writeOverflow(payload[local:])
		if err != nil {
			return err
		}
	}
	cell := format.EncodeIndexLeafCell(payload[:local], len(payload), overflow)
	if len(cell)+4+format.PageHeaderSizeInterior+2 > m.usable {
		return ErrRecordTooLarge
	}

	s, err := m.insertIndex(root, key, cell, colls)
	if err != nil {
		return err
	}
	if s != nil {
		return m.growRoot(root, s, false)
	}
	return nil
}

// insertIndex inserts cell into the index subtree at pageNum.
func (m *Mutator) insertIndex(pageNum uint32, key *record.View, cell []byte, colls []record.Collation) (*split, error) {
	data, err := m.store.Page(pageNum)
	if err != nil {
		return nil, err
	}
	h, err := format.ParsePageHeader(data, pageNum)
	if err != nil {
		return nil, err
	}

	cells, err := m.readRawCells(data, h, pageNum)
	if err != nil {
		return nil, err
	}
	pos, err := m.indexInsertPos(h, cells, key, colls, pageNum)
	if err != nil {
		return nil, err
	}

	if h.IsLeaf() {
		cells = insertSlice(cells, pos, cell)
		return m.storeOrSplitIndexLeaf(pageNum, cells)
	}

	child, err := childAtRaw(cells, pos, h.RightChild)
	if err != nil {
		return nil, err
	}
	s, err := m.insertIndex(child, key, cell, colls)
	if err != nil || s == nil {
		return s, err
	}

	// Splice the promoted separator in: a new cell for the left half at
	// pos, with the displaced pointer moving to the right sibling.
	sepCell := append(encodeChildPrefix(child), s.sepCell...)
	if pos < len(cells) {
		cells = insertSlice(cells, pos, sepCell)
		binary.BigEndian.PutUint32(cells[pos+1], s.right)
		return m.storeOrSplitIndexInterior(pageNum, cells, h.RightChild)
	}
	cells = append(cells, sepCell)
	return m.storeOrSplitIndexInterior(pageNum, cells, s.right)
}

// indexInsertPos finds the slot of the first cell whose key is >= key.
func (m *Mutator) indexInsertPos(h *format.PageHeader, cells [][]byte, key *record.View, colls []record.Collation, pageNum uint32) (int, error) {
	lo, hi := 0, len(cells)
	for lo < hi {
		mid := (lo + hi) / 2
		rec, err := m.indexCellRecord(h.Type, cells[mid], pageNum)
		if err != nil {
			return 0, err
		}
		if record.CompareRecords(key, rec, key.ColumnCount(), colls) > 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// indexCellRecord decodes the record carried by a raw index cell.
func (m *Mutator) indexCellRecord(pageType byte, raw []byte, pageNum uint32) (*record.View, error) {
	c, err := format.ParseCell(pageType, raw, m.usable, pageNum)
	if err != nil {
		return nil, err
	}
	payload, err := format.AssemblePayload(m.store, m.usable, c)
	if err != nil {
		return nil, err
	}
	return record.Decode(payload)
}

// storeOrSplitIndexLeaf rewrites an index leaf, splitting with middle-cell
// promotion when it overflows: the middle entry moves up to the parent and
// appears on neither half.
func (m *Mutator) storeOrSplitIndexLeaf(pageNum uint32, cells [][]byte) (*split, error) {
	err := m.store.Update(pageNum, func(data []byte) error {
		return rewritePage(data, pageNum, format.PageTypeLeafIndex, cells, 0, m.usable)
	})
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, errPageFull) {
		return nil, err
	}

	mid := len(cells) / 2
	if mid < 1 {
		mid = 1
	}
	promoted := cells[mid]

	rightPage, err := m.store.Allocate()
	if err != nil {
		return nil, err
	}
	err = m.store.Update(rightPage, func(data []byte) error {
		format.InitPage(data, rightPage, format.PageTypeLeafIndex, m.usable)
		return rewritePage(data, rightPage, format.PageTypeLeafIndex, cells[mid+1:], 0, m.usable)
	})
	if err != nil {
		return nil, err
	}
	err = m.store.Update(pageNum, func(data []byte) error {
		return rewritePage(data, pageNum, format.PageTypeLeafIndex, cells[:mid], 0, m.usable)
	})
	if err != nil {
		return nil, err
	}
	return &split{sepCell: promoted, right: rightPage}, nil
}

// storeOrSplitIndexInterior is the interior counterpart: the middle cell's
// record promotes and its child becomes the left page's right child.
func (m *Mutator) storeOrSplitIndexInterior(pageNum uint32, cells [][]byte, rightChild uint32) (*split, error) {
	err := m.store.Update(pageNum, func(data []byte) error {
		return rewritePage(data, pageNum, format.PageTypeInteriorIndex, cells, rightChild, m.usable)
	})
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, errPageFull) {
		return nil, err
	}

	mid := len(cells) / 2
	if mid < 1 {
		mid = 1
	}
	if mid >= len(cells) {
		mid = len(cells) - 1
	}
	midChild := binary.BigEndian.Uint32(cells[mid])
	promoted := cells[mid][4:]

	rightPage, err := m.store.Allocate()
	if err != nil {
		return nil, err
	}
	err = m.store.Update(rightPage, func(data []byte) error {
		format.InitPage(data, rightPage, format.PageTypeInteriorIndex, m.usable)
		return rewritePage(data, rightPage, format.PageTypeInteriorIndex, cells[mid+1:], rightChild, m.usable)
	})
	if err != nil {
		return nil, err
	}
	err = m.store.Update(pageNum, func(data []byte) error {
		return rewritePage(data, pageNum, format.PageTypeInteriorIndex, cells[:mid], midChild, m.usable)
	})
	if err != nil {
		return nil, err
	}
	return &split{sepCell: promoted, right: rightPage}, nil
}

// DeleteIndexEntry removes the entry equal to key (compared over all of
// key's columns). Entries on interior pages are replaced by their in-order
// predecessor so the tree stays a valid index b-tree.
func (m *Mutator) DeleteIndexEntry(root uint32, key *record.View, colls []record.Collation) (bool, error) {
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
		cells, err := m.readRawCells(data, h, pageNum)
		if err != nil {
			return false, err
		}

		pos, exact, err := m.indexFindExact(h, cells, key, colls, pageNum)
		if err != nil {
			return false, err
		}

		if h.IsLeaf() {
			if !exact {
				return false, nil
			}
			if err := m.removeCellFromPage(pageNum, h, cells, pos); err != nil {
				return false, err
			}
			return true, nil
		}

		if exact {
			return true, m.deleteFromInterior(pageNum, h, cells, pos)
		}
		pageNum, err = childAtRaw(cells, pos, h.RightChild)
		if err != nil {
			return false, err
		}
	}
}

// indexFindExact locates key on one page: the matching cell (exact) or the
// child slot to descend into.
func (m *Mutator) indexFindExact(h *format.PageHeader, cells [][]byte, key *record.View, colls []record.Collation, pageNum uint32) (int, bool, error) {
	lo, hi := 0, len(cells)
	for lo < hi {
		mid := (lo + hi) / 2
		rec, err := m.indexCellRecord(h.Type, cells[mid], pageNum)
		if err != nil {
			return 0, false, err
		}
		cmp := record.CompareRecords(key, rec, key.ColumnCount(), colls)
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

// removeCellFromPage drops cell pos from a page, freeing its overflow.
func (m *Mutator) removeCellFromPage(pageNum uint32, h *format.PageHeader, cells [][]byte, pos int) error {
	victim, err := format.ParseCell(h.Type, cells[pos], m.usable, pageNum)
	if err != nil {
		return err
	}
	if err := m.freeOverflow(victim); err != nil {
		return err
	}
	cells = append(cells[:pos], cells[pos+1:]...)
	return m.store.Update(pageNum, func(data []byte) error {
		return rewritePage(data, pageNum, h.Type, cells, h.RightChild, m.usable)
	})
}

// deleteFromInterior removes the entry at cell pos of an interior index
// page by pulling up its in-order predecessor: the last entry of the left
// subtree. When the left subtree holds no entries it is freed outright.
func (m *Mutator) deleteFromInterior(pageNum uint32, h *format.PageHeader, cells [][]byte, pos int) error {
	victim, err := format.ParseCell(h.Type, cells[pos], m.usable, pageNum)
	if err != nil {
		return err
	}
	leftChild := victim.ChildPage

	pred, err := m.takeLastEntry(leftChild)
	if err != nil {
		return err
	}
	if err := m.freeOverflow(victim); err != nil {
		return err
	}

	if pred == nil {
		// Left subtree is empty: drop the cell and release the subtree.
		if err := m.freeSubtree(leftChild); err != nil {
			return err
		}
		cells = append(cells[:pos], cells[pos+1:]...)
	} else {
		cells[pos] = append(encodeChildPrefix(leftChild), pred...)
	}
	return m.store.Update(pageNum, func(data []byte) error {
		return rewritePage(data, pageNum, h.Type, cells, h.RightChild, m.usable)
	})
}

// takeLastEntry removes and returns the raw leaf-form cell of the last
// entry in the subtree at pageNum, or nil when the subtree is empty.
// Interior entries of the subtree are handled recursively the same way.
func (m *Mutator) takeLastEntry(pageNum uint32) ([]byte, error) {
	data, err := m.store.Page(pageNum)
	if err != nil {
		return nil, err
	}
	h, err := format.ParsePageHeader(data, pageNum)
	if err != nil {
		return nil, err
	}
	cells, err := m.readRawCells(data, h, pageNum)
	if err != nil {
		return nil, err
	}

	if h.IsLeaf() {
		if len(cells) == 0 {
			return nil, nil
		}
		last := cells[len(cells)-1]
		cells = cells[:len(cells)-1]
		err := m.store.Update(pageNum, func(data []byte) error {
			return rewritePage(data, pageNum, h.Type, cells, 0, m.usable)
		})
		if err != nil {
			return nil, err
		}
		return last, nil
	}

	// Try the rightmost subtree first; fall back to this page's own last
	// cell when it is empty.
	pred, err := m.takeLastEntry(h.RightChild)
	if err != nil {
		return nil, err
	}
	if pred != nil {
		return pred, nil
	}
	if len(cells) == 0 {
		return nil, nil
	}
	lastCell := cells[len(cells)-1]
	lastChild := binary.BigEndian.Uint32(lastCell)
	entry := append([]byte(nil), lastCell[4:]...)

	// The freed right subtree is replaced by the removed cell's child.
	if err := m.freeSubtree(h.RightChild); err != nil {
		return nil, err
	}
	cells = cells[:len(cells)-1]
	err = m.store.Update(pageNum, func(data []byte) error {
		return rewritePage(data, pageNum, h.Type, cells, lastChild, m.usable)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// freeSubtree releases every page of an entry-less subtree.
func (m *Mutator) freeSubtree(pageNum uint32) error {
	data, err := m.store.Page(pageNum)
	if err != nil {
		return err
	}
	h, err := format.ParsePageHeader(data, pageNum)
	if err != nil {
		return err
	}
	if !h.IsLeaf() {
		cells, err := m.readRawCells(data, h, pageNum)
		if err != nil {
			return err
		}
		for _, raw := range cells {
			if err := m.freeSubtree(binary.BigEndian.Uint32(raw)); err != nil {
				return err
			}
		}
		if err := m.freeSubtree(h.RightChild); err != nil {
			return err
		}
	}
	return m.store.Free(pageNum)
}

// childAtRaw reads the child pointer of raw interior cell pos, or returns
// rightChild past the last cell.
func childAtRaw(cells [][]byte, pos int, rightChild uint32) (uint32, error) {
	if pos < len(cells) {
		if len(cells[pos]) < 4 {
			return 0, errors.New("interior cell too short for child pointer")
		}
		return binary.BigEndian.Uint32(cells[pos]), nil
	}
	return rightChild, nil
}
