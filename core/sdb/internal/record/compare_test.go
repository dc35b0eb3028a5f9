package record

import (
	"testing"
)

func mustView(t *testing.T, values ...interface{}) *View {
	t.Helper()
	payload, err := Encode(values)
	if err != nil {
		t.Fatal(err)
	}
	v, err := Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestCompareClassOrder(t *testing.T) {
	// NULL < numeric < TEXT < BLOB
	null := mustView(t, nil)
	num := mustView(t, int64(5))
	txt := mustView(t, "5")
	blob := mustView(t, []byte("5"))

	order := []*View{null, num, txt, blob}
	for i := 0; i < len(order); i++ {
		for j := 0; j < len(order); j++ {
			got := CompareColumn(order[i], order[j], 0, CollationBinary)
			want := sign(i - j)
			if got != want {
				t.Errorf("CompareColumn(order[%d], order[%d]) = %d, want %d", i, j, got, want)
			}
		}
	}
}

func TestCompareNumericCrossType(t *testing.T) {
	tests := []struct {
		name string
		a, b interface{}
		want int
	}{
		{"int < int", int64(1), int64(2), -1},
		{"int == int", int64(7), int64(7), 0},
		{"int vs float", int64(1), 1.5, -1},
		{"float vs int equal", 2.0, int64(2), 0},
		{"negative", int64(-3), int64(0), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := mustView(t, tt.a), mustView(t, tt.b)
			if got := CompareColumn(a, b, 0, CollationBinary); got != tt.want {
				t.Errorf("CompareColumn() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCompareTextCollations(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		coll Collation
		want int
	}{
		{"binary sensitive", "ABC", "abc", CollationBinary, -1},
		{"nocase equal", "ABC", "abc", CollationNoCase, 0},
		{"nocase ordered", "abc", "ABD", CollationNoCase, -1},
		{"rtrim equal", "x  ", "x", CollationRTrim, 0},
		{"rtrim inner space counts", "x y", "xy", CollationRTrim, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareText(tt.a, tt.b, tt.coll); got != tt.want {
				t.Errorf("CompareText(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCollationByName(t *testing.T) {
	if CollationByName("nocase") != CollationNoCase {
		t.Error("nocase not recognized")
	}
	if CollationByName("RTRIM") != CollationRTrim {
		t.Error("RTRIM not recognized")
	}
	if CollationByName("UNKNOWN") != CollationBinary {
		t.Error("unknown collation should fall back to binary")
	}
}

func TestCompareRecordsMultiColumn(t *testing.T) {
	a := mustView(t, "alice", int64(1))
	b := mustView(t, "alice", int64(2))
	c := mustView(t, "bob", int64(0))

	if got := CompareRecords(a, b, 2, nil); got != -1 {
		t.Errorf("a vs b = %d, want -1", got)
	}
	if got := CompareRecords(b, c, 2, nil); got != -1 {
		t.Errorf("b vs c = %d, want -1", got)
	}
	if got := CompareRecords(a, a, 2, nil); got != 0 {
		t.Errorf("a vs a = %d, want 0", got)
	}
}
