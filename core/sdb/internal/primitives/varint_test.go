package primitives

import (
	"testing"
)

func TestPutGetVarint(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
		want  int // expected length
	}{
		{"1-byte", 0x00, 1},
		{"1-byte max", 0x7f, 1},
		{"2-byte min", 0x80, 2},
		{"2-byte", 0x100, 2},
		{"2-byte max", 0x3fff, 2},
		{"3-byte min", 0x4000, 3},
		{"3-byte", 0x12345, 3},
		{"3-byte max", 0x1fffff, 3},
		{"4-byte min", 0x200000, 4},
		{"4-byte", 0x1234567, 4},
		{"5-byte", 0x12345678, 5},
		{"6-byte", 0x123456789a, 6},
		{"7-byte", 0x123456789abc, 7},
		{"8-byte max", 0xffffffffffffff, 8},
		{"9-byte min", 0x100000000000000, 9},
		{"9-byte max", 0xffffffffffffffff, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [9]byte
			n := PutVarint(buf[:], tt.value)
			if n != tt.want {
				t.Errorf("PutVarint() length = %d, want %d", n, tt.want)
			}
			if got := VarintLen(tt.value); got != tt.want {
				t.Errorf("VarintLen() = %d, want %d", got, tt.want)
			}

			got, m, err := GetVarint(buf[:n])
			if err != nil {
				t.Fatalf("GetVarint() error = %v", err)
			}
			if got != tt.value {
				t.Errorf("GetVarint() = %d, want %d", got, tt.value)
			}
			if m != n {
				t.Errorf("GetVarint() length = %d, want %d", m, n)
			}
		})
	}
}

func TestGetVarintTruncated(t *testing.T) {
	var buf [9]byte
	for _, v := range []uint64{0x80, 0x4000, 0x200000, 0xffffffffffffffff} {
		n := PutVarint(buf[:], v)
		for cut := 0; cut < n; cut++ {
			if _, _, err := GetVarint(buf[:cut]); err == nil {
				t.Errorf("GetVarint(%#x truncated to %d bytes) expected error", v, cut)
			}
		}
	}
}

func TestGetVarintSigned(t *testing.T) {
	tests := []struct {
		name string
		v    int64
	}{
		{"zero", 0},
		{"positive", 42},
		{"max int64", 1<<63 - 1},
		{"minus one", -1},
		{"min int64", -1 << 63},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [9]byte
			n := PutVarint(buf[:], uint64(tt.v))
			got, m, err := GetVarintSigned(buf[:n])
			if err != nil {
				t.Fatalf("GetVarintSigned() error = %v", err)
			}
			if got != tt.v || m != n {
				t.Errorf("GetVarintSigned() = (%d, %d), want (%d, %d)", got, m, tt.v, n)
			}
		})
	}
}

func TestMinusOneIsNineBytes(t *testing.T) {
	// 2^64-1 decodes as signed -1 and needs the full 9-byte form.
	var buf [9]byte
	n := PutVarint(buf[:], 0xffffffffffffffff)
	if n != 9 {
		t.Fatalf("PutVarint(2^64-1) length = %d, want 9", n)
	}
	got, _, err := GetVarintSigned(buf[:])
	if err != nil {
		t.Fatalf("GetVarintSigned() error = %v", err)
	}
	if got != -1 {
		t.Errorf("GetVarintSigned(2^64-1) = %d, want -1", got)
	}
}
