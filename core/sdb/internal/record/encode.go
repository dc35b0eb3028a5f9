package record

import (
	"fmt"
	"math"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/primitives"
)

// Encode serializes values into the record format, choosing the smallest
// serial type for each value. Supported value types: nil, bool, int, int64,
// float64, string, []byte.
func Encode(values []interface{}) ([]byte, error) {
	serials := make([]uint64, len(values))
	bodyLen := 0
	for i, val := range values {
		s, err := serialTypeFor(val)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		serials[i] = s
		size, _ := primitives.SerialTypeSize(s)
		bodyLen += size
	}

	// The header length varint participates in the header length itself;
	// iterate to a fixed point for the rare case where including it grows
	// the varint.
	typesLen := 0
	for _, s := range serials {
		typesLen += primitives.VarintLen(s)
	}
	headerLen := typesLen + 1
	for primitives.VarintLen(uint64(headerLen)) != headerLen-typesLen {
		headerLen = typesLen + primitives.VarintLen(uint64(headerLen))
	}

	buf := make([]byte, headerLen+bodyLen)
	pos := primitives.PutVarint(buf, uint64(headerLen))
	for _, s := range serials {
		pos += primitives.PutVarint(buf[pos:], s)
	}
	if pos != headerLen {
		return nil, fmt.Errorf("internal: header length mismatch (%d != %d)", pos, headerLen)
	}

	for i, val := range values {
		pos += encodeBody(buf[pos:], serials[i], val)
	}
	return buf, nil
}

func serialTypeFor(val interface{}) (uint64, error) {
	switch v := val.(type) {
	case nil:
		return primitives.SerialNull, nil
	case bool:
		if v {
			return primitives.SerialOne, nil
		}
		return primitives.SerialZero, nil
	case int:
		return primitives.IntSerialType(int64(v)), nil
	case int64:
		return primitives.IntSerialType(v), nil
	case float64:
		return primitives.SerialFloat64, nil
	case string:
		return primitives.TextSerialType(len(v)), nil
	case []byte:
		return primitives.BlobSerialType(len(v)), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", val)
	}
}

func encodeBody(p []byte, serial uint64, val interface{}) int {
	switch {
	case serial == primitives.SerialNull, serial == primitives.SerialZero, serial == primitives.SerialOne:
		return 0
	case serial == primitives.SerialFloat64:
		primitives.PutUint64(p, math.Float64bits(val.(float64)))
		return 8
	case primitives.IsTextType(serial):
		return copy(p, val.(string))
	case primitives.IsBlobType(serial):
		return copy(p, val.([]byte))
	default:
		n, _ := primitives.SerialTypeSize(serial)
		var iv int64
		switch v := val.(type) {
		case int:
			iv = int64(v)
		case int64:
			iv = v
		}
		primitives.PutIntBE(p, iv, n)
		return n
	}
}
