// Package record implements the SQLite record format: a varint header of
// serial types followed by the concatenated column bodies. Decoding is
// zero-copy; column accessors return spans into the payload.
package record

import (
	"fmt"
	"math"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/primitives"
)

// column describes one decoded column: its serial type and the byte range
// of its body within the payload.
type column struct {
	serial uint64
	offset int
	length int
}

// View is a decoded record. It borrows the payload slice; it does not copy.
type View struct {
	payload []byte
	cols    []column
}

// Decode parses the record in payload. The payload must be fully assembled
// (overflow already concatenated by the caller).
func Decode(payload []byte) (*View, error) {
	headerLen, n, err := primitives.GetVarint(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: record header length", format.ErrMalformedRecord)
	}
	if headerLen < uint64(n) || headerLen > uint64(len(payload)) {
		return nil, fmt.Errorf("%w: header length %d out of range", format.ErrMalformedRecord, headerLen)
	}

	v := &View{payload: payload}
	bodyOff := int(headerLen)
	pos := n
	for pos < int(headerLen) {
		serial, m, err := primitives.GetVarint(payload[pos:int(headerLen)])
		if err != nil {
			return nil, fmt.Errorf("%w: serial type varint", format.ErrMalformedRecord)
		}
		pos += m
		size, err := primitives.SerialTypeSize(serial)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", format.ErrMalformedRecord, err)
		}
		if bodyOff+size > len(payload) {
			return nil, fmt.Errorf("%w: column body beyond payload", format.ErrMalformedRecord)
		}
		v.cols = append(v.cols, column{serial: serial, offset: bodyOff, length: size})
		bodyOff += size
	}
	return v, nil
}

// ColumnCount returns the number of columns in the record.
func (v *View) ColumnCount() int { return len(v.cols) }

// SerialType returns the serial type code of column i.
func (v *View) SerialType(i int) uint64 { return v.cols[i].serial }

// IsNull reports whether column i is NULL. Columns beyond the record's
// declared count are NULL (rows written before an ALTER TABLE).
func (v *View) IsNull(i int) bool {
	return i >= len(v.cols) || v.cols[i].serial == primitives.SerialNull
}

// Raw returns the body span of column i without interpretation.
func (v *View) Raw(i int) []byte {
	c := v.cols[i]
	return v.payload[c.offset : c.offset+c.length]
}

// Int64 returns column i as a signed integer. Floats are truncated; TEXT
// and BLOB return 0, matching storage-class coercion.
func (v *View) Int64(i int) int64 {
	if i >= len(v.cols) {
		return 0
	}
	c := v.cols[i]
	switch c.serial {
	case primitives.SerialZero, primitives.SerialNull:
		return 0
	case primitives.SerialOne:
		return 1
	case primitives.SerialFloat64:
		return int64(math.Float64frombits(primitives.ReadUint64(v.Raw(i))))
	case primitives.SerialInt8, primitives.SerialInt16, primitives.SerialInt24,
		primitives.SerialInt32, primitives.SerialInt48, primitives.SerialInt64:
		return primitives.ReadIntBE(v.Raw(i), c.length)
	default:
		return 0
	}
}

// Float64 returns column i as a double.
func (v *View) Float64(i int) float64 {
	if i >= len(v.cols) {
		return 0
	}
	if v.cols[i].serial == primitives.SerialFloat64 {
		return math.Float64frombits(primitives.ReadUint64(v.Raw(i)))
	}
	return float64(v.Int64(i))
}

// Text returns column i as a string. Only TEXT columns return content.
func (v *View) Text(i int) string {
	if i < len(v.cols) && primitives.IsTextType(v.cols[i].serial) {
		return string(v.Raw(i))
	}
	return ""
}

// Blob returns column i's BLOB body span.
func (v *View) Blob(i int) []byte {
	if i < len(v.cols) && primitives.IsBlobType(v.cols[i].serial) {
		return v.Raw(i)
	}
	return nil
}

// Value returns column i as a Go value: nil, int64, float64, string, or
// []byte.
func (v *View) Value(i int) interface{} {
	if v.IsNull(i) {
		return nil
	}
	c := v.cols[i]
	switch {
	case c.serial == primitives.SerialFloat64:
		return v.Float64(i)
	case primitives.IsTextType(c.serial):
		return v.Text(i)
	case primitives.IsBlobType(c.serial):
		return append([]byte(nil), v.Raw(i)...)
	default:
		return v.Int64(i)
	}
}

// Values returns all columns as Go values.
func (v *View) Values() []interface{} {
	out := make([]interface{}, len(v.cols))
	for i := range v.cols {
		out[i] = v.Value(i)
	}
	return out
}
