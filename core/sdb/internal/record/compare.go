package record

import (
	"bytes"
	"strings"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/primitives"
)

// Collation selects the text comparison rule for one indexed column.
type Collation int

const (
	// CollationBinary compares text byte-for-byte. This is the default.
	CollationBinary Collation = iota

	// CollationNoCase folds ASCII letters before comparing.
	CollationNoCase

	// CollationRTrim ignores trailing spaces.
	CollationRTrim
)

// CollationByName maps a declared collation name (folded to upper case) to
// its Collation. Unknown names fall back to binary.
func CollationByName(name string) Collation {
	switch strings.ToUpper(name) {
	case "NOCASE":
		return CollationNoCase
	case "RTRIM":
		return CollationRTrim
	default:
		return CollationBinary
	}
}

// storage classes for cross-type comparison, in collation order:
// NULL < numeric < TEXT < BLOB.
const (
	classNull = iota
	classNumeric
	classText
	classBlob
)

func classOf(serial uint64) int {
	switch {
	case serial == primitives.SerialNull:
		return classNull
	case primitives.IsTextType(serial):
		return classText
	case primitives.IsBlobType(serial):
		return classBlob
	default:
		return classNumeric
	}
}

// CompareColumn compares column i of two records using the record-wise
// collation rules. Returns -1, 0, or 1.
func CompareColumn(a, b *View, i int, coll Collation) int {
	ca, cb := classOf(a.SerialType(i)), classOf(b.SerialType(i))
	if ca != cb {
		return sign(ca - cb)
	}
	switch ca {
	case classNull:
		return 0
	case classNumeric:
		return compareNumeric(a, b, i)
	case classText:
		return CompareText(a.Text(i), b.Text(i), coll)
	default:
		return bytes.Compare(a.Raw(i), b.Raw(i))
	}
}

func compareNumeric(a, b *View, i int) int {
	sa, sb := a.SerialType(i), b.SerialType(i)
	if sa != primitives.SerialFloat64 && sb != primitives.SerialFloat64 {
		va, vb := a.Int64(i), b.Int64(i)
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		}
		return 0
	}
	va, vb := a.Float64(i), b.Float64(i)
	switch {
	case va < vb:
		return -1
	case va > vb:
		return 1
	}
	return 0
}

// CompareText compares two strings under the given collation.
func CompareText(a, b string, coll Collation) int {
	switch coll {
	case CollationNoCase:
		return strings.Compare(foldASCII(a), foldASCII(b))
	case CollationRTrim:
		return strings.Compare(strings.TrimRight(a, " "), strings.TrimRight(b, " "))
	default:
		return strings.Compare(a, b)
	}
}

func foldASCII(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	buf := []byte(s)
	for i, c := range buf {
		if c >= 'A' && c <= 'Z' {
			buf[i] = c + 'a' - 'A'
		}
	}
	return string(buf)
}

// CompareRecords compares two records column-wise over the first n columns,
// using per-column collations (nil means all binary). Descending columns
// are handled by the caller flipping the result.
func CompareRecords(a, b *View, n int, colls []Collation) int {
	for i := 0; i < n; i++ {
		if i >= a.ColumnCount() || i >= b.ColumnCount() {
			return sign(min(n, a.ColumnCount()) - min(n, b.ColumnCount()))
		}
		coll := CollationBinary
		if i < len(colls) {
			coll = colls[i]
		}
		if c := CompareColumn(a, b, i, coll); c != 0 {
			return c
		}
	}
	return 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
