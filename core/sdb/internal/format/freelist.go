package format

import (
	"encoding/binary"
)

// FreelistTrunk is the parsed form of a freelist trunk page: the next trunk
// in the chain (0 for the last) and the leaf page numbers it carries.
type FreelistTrunk struct {
	PageNum uint32
	Next    uint32
	Leaves  []uint32
}

// TrunkCapacity returns how many leaf pointers fit on one trunk page.
func TrunkCapacity(usableSize int) int {
	return usableSize/4 - 2
}

// ParseFreelistTrunk decodes a freelist trunk page.
func ParseFreelistTrunk(data []byte, pageNum uint32, usableSize int) (*FreelistTrunk, error) {
	if len(data) < 8 {
		return nil, Corrupt(pageNum, "freelist trunk too small")
	}
	t := &FreelistTrunk{
		PageNum: pageNum,
		Next:    binary.BigEndian.Uint32(data),
	}
	count := int(binary.BigEndian.Uint32(data[4:]))
	if count < 0 || count > TrunkCapacity(usableSize) {
		return nil, Corrupt(pageNum, "freelist leaf count out of range")
	}
	if 8+count*4 > len(data) {
		return nil, Corrupt(pageNum, "freelist leaf array beyond page end")
	}
	t.Leaves = make([]uint32, count)
	for i := 0; i < count; i++ {
		t.Leaves[i] = binary.BigEndian.Uint32(data[8+i*4:])
	}
	return t, nil
}

// WriteFreelistTrunk serializes t into a page buffer.
func WriteFreelistTrunk(data []byte, t *FreelistTrunk) {
	for i := range data {
		data[i] = 0
	}
	binary.BigEndian.PutUint32(data, t.Next)
	binary.BigEndian.PutUint32(data[4:], uint32(len(t.Leaves)))
	for i, leaf := range t.Leaves {
		binary.BigEndian.PutUint32(data[8+i*4:], leaf)
	}
}

// WalkFreelist visits every freelist page (trunks and leaves) starting from
// the first trunk. The visitor receives each page number once.
func WalkFreelist(src PageReader, usableSize int, firstTrunk uint32, visit func(pageNum uint32, isTrunk bool) error) error {
	seen := make(map[uint32]bool)
	trunk := firstTrunk
	for trunk != 0 {
		if seen[trunk] {
			return Corrupt(trunk, "freelist trunk cycle")
		}
		seen[trunk] = true
		if err := visit(trunk, true); err != nil {
			return err
		}
		data, err := src.Page(trunk)
		if err != nil {
			return err
		}
		t, err := ParseFreelistTrunk(data, trunk, usableSize)
		if err != nil {
			return err
		}
		for _, leaf := range t.Leaves {
			if err := visit(leaf, false); err != nil {
				return err
			}
		}
		trunk = t.Next
	}
	return nil
}
