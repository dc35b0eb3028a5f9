package primitives

import (
	"errors"
	"testing"
)

func TestSerialTypeSize(t *testing.T) {
	tests := []struct {
		name string
		code uint64
		want int
	}{
		{"null", 0, 0},
		{"i8", 1, 1},
		{"i16", 2, 2},
		{"i24", 3, 3},
		{"i32", 4, 4},
		{"i48", 5, 6},
		{"i64", 6, 8},
		{"float", 7, 8},
		{"literal zero", 8, 0},
		{"literal one", 9, 0},
		{"empty blob", 12, 0},
		{"empty text", 13, 0},
		{"5-byte blob", 22, 5},
		{"5-byte text", 23, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SerialTypeSize(tt.code)
			if err != nil {
				t.Fatalf("SerialTypeSize(%d) error = %v", tt.code, err)
			}
			if got != tt.want {
				t.Errorf("SerialTypeSize(%d) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestSerialTypeSizeReserved(t *testing.T) {
	for _, code := range []uint64{10, 11} {
		if _, err := SerialTypeSize(code); !errors.Is(err, ErrReservedSerialType) {
			t.Errorf("SerialTypeSize(%d) error = %v, want ErrReservedSerialType", code, err)
		}
	}
}

func TestIntSerialType(t *testing.T) {
	tests := []struct {
		v    int64
		want uint64
	}{
		{0, SerialZero},
		{1, SerialOne},
		{-1, SerialInt8},
		{127, SerialInt8},
		{128, SerialInt16},
		{-32768, SerialInt16},
		{32768, SerialInt24},
		{1 << 23, SerialInt32},
		{1 << 31, SerialInt48},
		{1 << 47, SerialInt64},
		{1<<63 - 1, SerialInt64},
	}

	for _, tt := range tests {
		if got := IntSerialType(tt.v); got != tt.want {
			t.Errorf("IntSerialType(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestReadPutIntBE(t *testing.T) {
	tests := []struct {
		v int64
		n int
	}{
		{0, 1},
		{-1, 1},
		{-1, 3},
		{0x7fff, 2},
		{-0x8000, 2},
		{0x7fffff, 3},
		{-42, 6},
		{1<<47 - 1, 6},
		{1<<63 - 1, 8},
		{-1 << 63, 8},
	}

	for _, tt := range tests {
		var buf [8]byte
		PutIntBE(buf[:], tt.v, tt.n)
		if got := ReadIntBE(buf[:], tt.n); got != tt.v {
			t.Errorf("ReadIntBE(PutIntBE(%d, %d)) = %d", tt.v, tt.n, got)
		}
	}
}
