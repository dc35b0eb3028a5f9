package format

import (
	"encoding/binary"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/primitives"
)

// Cell is the decoded form of a single b-tree cell. Payload is a span into
// the page holding only the inline portion; when Overflow is non-zero the
// remainder continues on the overflow chain and TotalPayload gives the full
// length.
type Cell struct {
	Type         byte
	Rowid        int64  // table cells
	ChildPage    uint32 // interior cells
	Payload      []byte // inline payload span
	TotalPayload uint32 // full payload length including overflow
	Overflow     uint32 // first overflow page, 0 if none
}

// MaxLocal returns the maximum inline payload for a cell on a page with
// the given usable size. Table leaves may fill the page; index pages and
// interior cells are capped by the 64/255 fraction.
func MaxLocal(usableSize int, isTableLeaf bool) int {
	if isTableLeaf {
		return usableSize - 35
	}
	return (usableSize-12)*64/255 - 23
}

// MinLocal returns the minimum inline payload kept on the page when a cell
// spills to overflow.
func MinLocal(usableSize int) int {
	return (usableSize-12)*32/255 - 23
}

// LocalPayload computes how many payload bytes stay inline for a payload of
// the given total size.
func LocalPayload(payloadSize, usableSize int, isTableLeaf bool) int {
	maxLocal := MaxLocal(usableSize, isTableLeaf)
	if payloadSize <= maxLocal {
		return payloadSize
	}
	minLocal := MinLocal(usableSize)
	surplus := minLocal + (payloadSize-minLocal)%(usableSize-4)
	if surplus <= maxLocal {
		return surplus
	}
	return minLocal
}

// ParseCell decodes the cell starting at cellData, which must be a slice of
// the page beginning at the cell's content offset. pageNum is used only for
// error context.
func ParseCell(pageType byte, cellData []byte, usableSize int, pageNum uint32) (*Cell, error) {
	switch pageType {
	case PageTypeLeafTable:
		return parseTableLeafCell(cellData, usableSize, pageNum)
	case PageTypeInteriorTable:
		return parseTableInteriorCell(cellData, pageNum)
	case PageTypeLeafIndex:
		return parseIndexCell(cellData, usableSize, pageNum, PageTypeLeafIndex, 0)
	case PageTypeInteriorIndex:
		if len(cellData) < 4 {
			return nil, Corrupt(pageNum, "index interior cell truncated")
		}
		child := binary.BigEndian.Uint32(cellData)
		return parseIndexCell(cellData[4:], usableSize, pageNum, PageTypeInteriorIndex, child)
	default:
		return nil, Corrupt(pageNum, "unknown page type for cell")
	}
}

func parseTableLeafCell(cellData []byte, usableSize int, pageNum uint32) (*Cell, error) {
	payloadLen, n, err := primitives.GetVarint(cellData)
	if err != nil {
		return nil, Corrupt(pageNum, "truncated payload length varint")
	}
	rowid, m, err := primitives.GetVarintSigned(cellData[n:])
	if err != nil {
		return nil, Corrupt(pageNum, "truncated rowid varint")
	}

	c := &Cell{
		Type:         PageTypeLeafTable,
		Rowid:        rowid,
		TotalPayload: uint32(payloadLen),
	}
	local := LocalPayload(int(payloadLen), usableSize, true)
	body := cellData[n+m:]
	if len(body) < local {
		return nil, Corrupt(pageNum, "cell payload extends past page end")
	}
	c.Payload = body[:local]
	if local < int(payloadLen) {
		if len(body) < local+4 {
			return nil, Corrupt(pageNum, "missing overflow pointer")
		}
		c.Overflow = binary.BigEndian.Uint32(body[local:])
		if c.Overflow == 0 {
			return nil, Corrupt(pageNum, "zero overflow pointer on spilled cell")
		}
	}
	return c, nil
}

func parseTableInteriorCell(cellData []byte, pageNum uint32) (*Cell, error) {
	if len(cellData) < 5 {
		return nil, Corrupt(pageNum, "table interior cell truncated")
	}
	child := binary.BigEndian.Uint32(cellData)
	rowid, _, err := primitives.GetVarintSigned(cellData[4:])
	if err != nil {
		return nil, Corrupt(pageNum, "truncated rowid varint")
	}
	return &Cell{
		Type:      PageTypeInteriorTable,
		ChildPage: child,
		Rowid:     rowid,
	}, nil
}

func parseIndexCell(cellData []byte, usableSize int, pageNum uint32, pageType byte, child uint32) (*Cell, error) {
	payloadLen, n, err := primitives.GetVarint(cellData)
	if err != nil {
		return nil, Corrupt(pageNum, "truncated payload length varint")
	}

	c := &Cell{
		Type:         pageType,
		ChildPage:    child,
		TotalPayload: uint32(payloadLen),
	}
	local := LocalPayload(int(payloadLen), usableSize, false)
	body := cellData[n:]
	if len(body) < local {
		return nil, Corrupt(pageNum, "cell payload extends past page end")
	}
	c.Payload = body[:local]
	if local < int(payloadLen) {
		if len(body) < local+4 {
			return nil, Corrupt(pageNum, "missing overflow pointer")
		}
		c.Overflow = binary.BigEndian.Uint32(body[local:])
		if c.Overflow == 0 {
			return nil, Corrupt(pageNum, "zero overflow pointer on spilled cell")
		}
	}
	return c, nil
}

// CellSize returns the encoded length in bytes of the cell starting at
// cellData. Used when copying raw cells between pages.
func CellSize(pageType byte, cellData []byte, usableSize int, pageNum uint32) (int, error) {
	switch pageType {
	case PageTypeLeafTable:
		payloadLen, n, err := primitives.GetVarint(cellData)
		if err != nil {
			return 0, Corrupt(pageNum, "truncated payload length varint")
		}
		_, m, err := primitives.GetVarint(cellData[n:])
		if err != nil {
			return 0, Corrupt(pageNum, "truncated rowid varint")
		}
		local := LocalPayload(int(payloadLen), usableSize, true)
		size := n + m + local
		if local < int(payloadLen) {
			size += 4
		}
		return size, nil
	case PageTypeInteriorTable:
		if len(cellData) < 5 {
			return 0, Corrupt(pageNum, "table interior cell truncated")
		}
		_, m, err := primitives.GetVarint(cellData[4:])
		if err != nil {
			return 0, Corrupt(pageNum, "truncated rowid varint")
		}
		return 4 + m, nil
	case PageTypeLeafIndex, PageTypeInteriorIndex:
		base := 0
		if pageType == PageTypeInteriorIndex {
			base = 4
			if len(cellData) < 4 {
				return 0, Corrupt(pageNum, "index interior cell truncated")
			}
			cellData = cellData[4:]
		}
		payloadLen, n, err := primitives.GetVarint(cellData)
		if err != nil {
			return 0, Corrupt(pageNum, "truncated payload length varint")
		}
		local := LocalPayload(int(payloadLen), usableSize, false)
		size := base + n + local
		if local < int(payloadLen) {
			size += 4
		}
		return size, nil
	default:
		return 0, Corrupt(pageNum, "unknown page type for cell")
	}
}

// EncodeTableLeafCell builds a table leaf cell from the inline payload
// portion. localPayload must already be split per LocalPayload; overflow is
// the first overflow page (0 when fully inline). totalPayload is the full
// record length.
func EncodeTableLeafCell(rowid int64, localPayload []byte, totalPayload int, overflow uint32) []byte {
	var hdr [18]byte
	n := primitives.PutVarint(hdr[:], uint64(totalPayload))
	n += primitives.PutVarint(hdr[n:], uint64(rowid))

	size := n + len(localPayload)
	if overflow != 0 {
		size += 4
	}
	cell := make([]byte, size)
	copy(cell, hdr[:n])
	copy(cell[n:], localPayload)
	if overflow != 0 {
		binary.BigEndian.PutUint32(cell[n+len(localPayload):], overflow)
	}
	return cell
}

// EncodeTableInteriorCell builds a table interior cell.
func EncodeTableInteriorCell(childPage uint32, rowid int64) []byte {
	var buf [13]byte
	binary.BigEndian.PutUint32(buf[:], childPage)
	n := primitives.PutVarint(buf[4:], uint64(rowid))
	return append([]byte(nil), buf[:4+n]...)
}

// EncodeIndexLeafCell builds an index leaf cell.
func EncodeIndexLeafCell(localPayload []byte, totalPayload int, overflow uint32) []byte {
	var hdr [9]byte
	n := primitives.PutVarint(hdr[:], uint64(totalPayload))
	size := n + len(localPayload)
	if overflow != 0 {
		size += 4
	}
	cell := make([]byte, size)
	copy(cell, hdr[:n])
	copy(cell[n:], localPayload)
	if overflow != 0 {
		binary.BigEndian.PutUint32(cell[n+len(localPayload):], overflow)
	}
	return cell
}

// EncodeIndexInteriorCell builds an index interior cell.
func EncodeIndexInteriorCell(childPage uint32, localPayload []byte, totalPayload int, overflow uint32) []byte {
	body := EncodeIndexLeafCell(localPayload, totalPayload, overflow)
	cell := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(cell, childPage)
	copy(cell[4:], body)
	return cell
}
