package record

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		values []interface{}
	}{
		{"empty record", nil},
		{"single null", []interface{}{nil}},
		{"small ints", []interface{}{int64(0), int64(1), int64(2)}},
		{"int sizes", []interface{}{int64(127), int64(128), int64(32768), int64(1 << 24), int64(1 << 40), int64(1<<63 - 1)}},
		{"negatives", []interface{}{int64(-1), int64(-128), int64(-32769), int64(-1 << 62)}},
		{"float", []interface{}{3.14159, -0.5}},
		{"text", []interface{}{"alice", "", "世界"}},
		{"blob", []interface{}{[]byte{0x00, 0xff}, []byte{}}},
		{"mixed row", []interface{}{int64(1), "alice", int64(30), nil, 2.5, []byte("raw")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encode(tt.values)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			v, err := Decode(payload)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if v.ColumnCount() != len(tt.values) {
				t.Fatalf("ColumnCount() = %d, want %d", v.ColumnCount(), len(tt.values))
			}
			got := v.Values()
			want := normalize(tt.values)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Values() = %#v, want %#v", got, want)
			}
		})
	}
}

// normalize maps encoder input types onto the decoder's canonical output
// types (int -> int64, bool -> int64, empty blob -> nil, as Value returns
// it).
func normalize(values []interface{}) []interface{} {
	if values == nil {
		return []interface{}{}
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case int:
			out[i] = int64(x)
		case bool:
			if x {
				out[i] = int64(1)
			} else {
				out[i] = int64(0)
			}
		case []byte:
			out[i] = append([]byte(nil), x...)
		default:
			out[i] = v
		}
	}
	return out
}

func TestEncodeDeterministic(t *testing.T) {
	values := []interface{}{int64(42), "hello", nil}
	a, err := Encode(values)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(values)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("Encode() is not deterministic")
	}
}

func TestEncodeSmallestSerialTypes(t *testing.T) {
	payload, err := Encode([]interface{}{int64(0), int64(1), int64(100), int64(1000)})
	if err != nil {
		t.Fatal(err)
	}
	v, err := Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	wantSerials := []uint64{8, 9, 1, 2}
	for i, want := range wantSerials {
		if got := v.SerialType(i); got != want {
			t.Errorf("SerialType(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestDecodeLargeHeader(t *testing.T) {
	// 200 columns pushes the header length varint to two bytes.
	values := make([]interface{}, 200)
	for i := range values {
		values[i] = strings.Repeat("x", 100)
	}
	payload, err := Encode(values)
	if err != nil {
		t.Fatal(err)
	}
	v, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if v.ColumnCount() != 200 {
		t.Fatalf("ColumnCount() = %d, want 200", v.ColumnCount())
	}
	if v.Text(199) != values[199] {
		t.Error("last column corrupted")
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"header past end", []byte{0x7f, 0x01}},
		{"reserved serial 10", []byte{0x02, 0x0a}},
		{"reserved serial 11", []byte{0x02, 0x0b}},
		{"body past end", []byte{0x02, 0x06}}, // i64 column, no body
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.payload); err == nil {
				t.Error("Decode() expected error")
			}
		})
	}
}

func TestTypedAccessors(t *testing.T) {
	payload, err := Encode([]interface{}{nil, int64(-5), 2.5, "text", []byte{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	v, err := Decode(payload)
	if err != nil {
		t.Fatal(err)
	}

	if !v.IsNull(0) || v.IsNull(1) {
		t.Error("IsNull misreports")
	}
	if v.Int64(1) != -5 {
		t.Errorf("Int64(1) = %d, want -5", v.Int64(1))
	}
	if v.Float64(2) != 2.5 {
		t.Errorf("Float64(2) = %v, want 2.5", v.Float64(2))
	}
	if v.Float64(1) != -5.0 {
		t.Errorf("Float64(1) = %v, want -5", v.Float64(1))
	}
	if v.Text(3) != "text" {
		t.Errorf("Text(3) = %q, want %q", v.Text(3), "text")
	}
	if !bytes.Equal(v.Blob(4), []byte{1, 2}) {
		t.Errorf("Blob(4) = %v", v.Blob(4))
	}
	// Columns past the end read as NULL.
	if !v.IsNull(10) {
		t.Error("IsNull(10) = false for out-of-range column")
	}
}

func TestFloatRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 1.5, -1.5, math.MaxFloat64, math.SmallestNonzeroFloat64} {
		payload, err := Encode([]interface{}{f})
		if err != nil {
			t.Fatal(err)
		}
		v, err := Decode(payload)
		if err != nil {
			t.Fatal(err)
		}
		if got := v.Float64(0); got != f {
			t.Errorf("Float64 round trip: got %v, want %v", got, f)
		}
	}
}
