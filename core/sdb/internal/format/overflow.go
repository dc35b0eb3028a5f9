package format

import (
	"encoding/binary"
)

// PageReader is the minimal page access needed by the chain walkers.
type PageReader interface {
	Page(n uint32) ([]byte, error)
	PageSize() int
}

// OverflowChain walks a singly linked chain of overflow pages. Each page
// holds a 4-byte next pointer followed by payload content; the chain is
// terminated by a zero pointer.
type OverflowChain struct {
	src        PageReader
	usableSize int
	next       uint32
	remaining  int
	visited    int
	maxPages   int
}

// NewOverflowChain creates a chain walker starting at page first, with
// remaining payload bytes left to read beyond the inline portion.
func NewOverflowChain(src PageReader, usableSize int, first uint32, remaining int) *OverflowChain {
	// An overflow chain can never be longer than the payload requires.
	maxPages := remaining/(usableSize-4) + 2
	return &OverflowChain{src: src, usableSize: usableSize, next: first, remaining: remaining, maxPages: maxPages}
}

// Next returns the next payload chunk as a span into the overflow page, or
// (nil, nil) when the chain is exhausted. Cyclic or over-long chains fail
// as corruption.
func (o *OverflowChain) Next() ([]byte, error) {
	if o.next == 0 || o.remaining <= 0 {
		return nil, nil
	}
	if o.visited > o.maxPages {
		return nil, Corrupt(o.next, "overflow chain too long (cycle?)")
	}
	o.visited++

	data, err := o.src.Page(o.next)
	if err != nil {
		return nil, err
	}
	pageNum := o.next
	o.next = binary.BigEndian.Uint32(data)

	chunk := o.usableSize - 4
	if chunk > o.remaining {
		chunk = o.remaining
	}
	if 4+chunk > len(data) {
		return nil, Corrupt(pageNum, "overflow content beyond page end")
	}
	o.remaining -= chunk
	return data[4 : 4+chunk], nil
}

// OverflowPages returns the page numbers of the chain in order, without
// keeping content. Used when freeing a deleted cell's overflow pages.
func OverflowPages(src PageReader, usableSize int, first uint32, remaining int) ([]uint32, error) {
	var pages []uint32
	chain := NewOverflowChain(src, usableSize, first, remaining)
	for chain.next != 0 && chain.remaining > 0 {
		pageNum := chain.next
		if _, err := chain.Next(); err != nil {
			return nil, err
		}
		pages = append(pages, pageNum)
	}
	return pages, nil
}

// AssemblePayload returns the full payload of a cell, concatenating the
// inline span with the overflow chain. When the payload is fully inline the
// inline span is returned without copying.
func AssemblePayload(src PageReader, usableSize int, c *Cell) ([]byte, error) {
	if c.Overflow == 0 {
		return c.Payload, nil
	}
	out := make([]byte, 0, c.TotalPayload)
	out = append(out, c.Payload...)
	chain := NewOverflowChain(src, usableSize, c.Overflow, int(c.TotalPayload)-len(c.Payload))
	for {
		chunk, err := chain.Next()
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		out = append(out, chunk...)
	}
	if len(out) != int(c.TotalPayload) {
		return nil, Corrupt(c.Overflow, "overflow chain shorter than payload length")
	}
	return out, nil
}
