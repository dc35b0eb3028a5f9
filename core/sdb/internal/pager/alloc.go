package pager

import (
	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
)

// Allocate returns a usable page: the first leaf of the first freelist
// trunk (or the trunk itself once drained), or a fresh page appended to
// the file. Reclaimed pages are zero-initialized.
func (p *Pager) Allocate() (uint32, error) {
	if !p.inTx {
		return 0, ErrNoActiveTx
	}

	h, err := p.header()
	if err != nil {
		return 0, err
	}

	if h.FirstFreelist != 0 {
		trunkPage := h.FirstFreelist
		data, err := p.Page(trunkPage)
		if err != nil {
			return 0, err
		}
		trunk, err := format.ParseFreelistTrunk(data, trunkPage, p.UsableSize())
		if err != nil {
			return 0, err
		}

		var reclaimed uint32
		if len(trunk.Leaves) > 0 {
			reclaimed = trunk.Leaves[0]
			trunk.Leaves = trunk.Leaves[1:]
			err = p.Update(trunkPage, func(data []byte) error {
				format.WriteFreelistTrunk(data[:p.UsableSize()], trunk)
				return nil
			})
			if err != nil {
				return 0, err
			}
		} else {
			// Drained trunk: reuse the trunk page itself.
			reclaimed = trunkPage
			if err := p.setFreelistHead(trunk.Next); err != nil {
				return 0, err
			}
		}
		if err := p.adjustFreelistCount(-1); err != nil {
			return 0, err
		}
		err = p.Update(reclaimed, func(data []byte) error {
			for i := range data {
				data[i] = 0
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
		return reclaimed, nil
	}

	// Freelist empty: grow the file by one page.
	p.dbSize++
	pageNum := p.dbSize
	err = p.Update(pageNum, func(data []byte) error {
		for i := range data {
			data[i] = 0
		}
		return nil
	})
	if err != nil {
		p.dbSize--
		return 0, err
	}
	return pageNum, nil
}

// Free puts a page back on the freelist: onto the first trunk, or as a new
// trunk when there is none or the current one is full.
func (p *Pager) Free(pageNum uint32) error {
	if !p.inTx {
		return ErrNoActiveTx
	}

	h, err := p.header()
	if err != nil {
		return err
	}

	if h.FirstFreelist != 0 {
		trunkPage := h.FirstFreelist
		data, err := p.Page(trunkPage)
		if err != nil {
			return err
		}
		trunk, err := format.ParseFreelistTrunk(data, trunkPage, p.UsableSize())
		if err != nil {
			return err
		}
		if len(trunk.Leaves) < format.TrunkCapacity(p.UsableSize()) {
			trunk.Leaves = append(trunk.Leaves, pageNum)
			err = p.Update(trunkPage, func(data []byte) error {
				format.WriteFreelistTrunk(data[:p.UsableSize()], trunk)
				return nil
			})
			if err != nil {
				return err
			}
			return p.adjustFreelistCount(1)
		}
	}

	// Start a new trunk in front of the chain.
	newTrunk := &format.FreelistTrunk{PageNum: pageNum, Next: h.FirstFreelist}
	err = p.Update(pageNum, func(data []byte) error {
		format.WriteFreelistTrunk(data[:p.UsableSize()], newTrunk)
		return nil
	})
	if err != nil {
		return err
	}
	if err := p.setFreelistHead(pageNum); err != nil {
		return err
	}
	return p.adjustFreelistCount(1)
}

// header parses the database header from the live page-1 image.
func (p *Pager) header() (*format.Header, error) {
	data, err := p.Page(1)
	if err != nil {
		return nil, err
	}
	return format.ParseHeader(data)
}

// Header returns the current database header.
func (p *Pager) Header() (*format.Header, error) { return p.header() }

func (p *Pager) setFreelistHead(pageNum uint32) error {
	return p.updateHeader(func(h *format.Header) {
		h.FirstFreelist = pageNum
	})
}

func (p *Pager) adjustFreelistCount(delta int) error {
	return p.updateHeader(func(h *format.Header) {
		h.FreelistCount = uint32(int(h.FreelistCount) + delta)
	})
}

// updateHeader mutates header fields through the journaled page-1 image.
func (p *Pager) updateHeader(fn func(h *format.Header)) error {
	return p.Update(1, func(data []byte) error {
		h, err := format.ParseHeader(data)
		if err != nil {
			return err
		}
		fn(h)
		copy(data, h.Serialize())
		return nil
	})
}

// BumpSchemaCookie increments the schema cookie after DDL.
func (p *Pager) BumpSchemaCookie() error {
	return p.updateHeader(func(h *format.Header) {
		h.SchemaCookie++
	})
}
