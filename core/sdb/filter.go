package sdb

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/record"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/schema"
)

// Filter is a compiled predicate tree evaluated against records without
// materializing rows. Build filters with the package constructors (Eq,
// And, Between, ...) and pass them to Database.Reader. Evaluation follows
// SQL three-valued logic, reduced to two values at the root: a NULL result
// is a non-match.
type Filter struct {
	op       filterOp
	column   string
	value    interface{}
	lo, hi   interface{}
	set      []interface{}
	str      string
	children []*Filter
}

type filterOp int

const (
	opEq filterOp = iota
	opNe
	opLt
	opLe
	opGt
	opGe
	opIsNull
	opBetween
	opIn
	opStartsWith
	opContains
	opAnd
	opOr
	opNot
)

// Eq matches rows whose column equals v.
func Eq(column string, v interface{}) *Filter { return &Filter{op: opEq, column: column, value: v} }

// Ne matches rows whose column differs from v.
func Ne(column string, v interface{}) *Filter { return &Filter{op: opNe, column: column, value: v} }

// Lt matches rows whose column is less than v.
func Lt(column string, v interface{}) *Filter { return &Filter{op: opLt, column: column, value: v} }

// Le matches rows whose column is less than or equal to v.
func Le(column string, v interface{}) *Filter { return &Filter{op: opLe, column: column, value: v} }

// Gt matches rows whose column is greater than v.
func Gt(column string, v interface{}) *Filter { return &Filter{op: opGt, column: column, value: v} }

// Ge matches rows whose column is greater than or equal to v.
func Ge(column string, v interface{}) *Filter { return &Filter{op: opGe, column: column, value: v} }

// IsNull matches rows whose column is NULL.
func IsNull(column string) *Filter { return &Filter{op: opIsNull, column: column} }

// Between matches rows whose column lies in [lo, hi].
func Between(column string, lo, hi interface{}) *Filter {
	return &Filter{op: opBetween, column: column, lo: lo, hi: hi}
}

// In matches rows whose column equals any of values.
func In(column string, values ...interface{}) *Filter {
	return &Filter{op: opIn, column: column, set: values}
}

// StartsWith matches TEXT columns with the given prefix.
func StartsWith(column, prefix string) *Filter {
	return &Filter{op: opStartsWith, column: column, str: prefix}
}

// Contains matches TEXT columns containing the given substring.
func Contains(column, substr string) *Filter {
	return &Filter{op: opContains, column: column, str: substr}
}

// And matches when every child matches.
func And(children ...*Filter) *Filter { return &Filter{op: opAnd, children: children} }

// Or matches when any child matches.
func Or(children ...*Filter) *Filter { return &Filter{op: opOr, children: children} }

// Not inverts a filter.
func Not(child *Filter) *Filter { return &Filter{op: opNot, children: []*Filter{child}} }

// tribool is SQL three-valued logic.
type tribool int8

const (
	triFalse tribool = iota
	triTrue
	triNull
)

func fromBool(b bool) tribool {
	if b {
		return triTrue
	}
	return triFalse
}

// boundFilter is a filter with column names resolved to indices.
type boundFilter struct {
	f        *Filter
	colIdx   int
	children []*boundFilter
}

// bind resolves every Column reference against the table schema.
func bindFilter(f *Filter, table *schema.Table) (*boundFilter, error) {
	if f == nil {
		return nil, nil
	}
	b := &boundFilter{f: f, colIdx: -1}
	if f.column != "" {
		b.colIdx = table.ColumnIndex(f.column)
		if b.colIdx < 0 {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table.Name, f.column)
		}
	}
	for _, child := range f.children {
		bc, err := bindFilter(child, table)
		if err != nil {
			return nil, err
		}
		b.children = append(b.children, bc)
	}
	return b, nil
}

// Matches reduces three-valued evaluation to a boolean at the root.
func (b *boundFilter) Matches(rec *record.View) bool {
	return b.eval(rec) == triTrue
}

func (b *boundFilter) eval(rec *record.View) tribool {
	switch b.f.op {
	case opAnd:
		result := triTrue
		for _, child := range b.children {
			switch child.eval(rec) {
			case triFalse:
				return triFalse
			case triNull:
				result = triNull
			}
		}
		return result
	case opOr:
		result := triFalse
		for _, child := range b.children {
			switch child.eval(rec) {
			case triTrue:
				return triTrue
			case triNull:
				result = triNull
			}
		}
		return result
	case opNot:
		switch b.children[0].eval(rec) {
		case triTrue:
			return triFalse
		case triFalse:
			return triTrue
		default:
			return triNull
		}
	case opIsNull:
		return fromBool(rec.IsNull(b.colIdx))
	}

	if rec.IsNull(b.colIdx) {
		return triNull
	}

	switch b.f.op {
	case opEq, opNe, opLt, opLe, opGt, opGe:
		cmp, isNull := compareColumn(rec, b.colIdx, b.f.value)
		if isNull {
			return triNull
		}
		switch b.f.op {
		case opEq:
			return fromBool(cmp == 0)
		case opNe:
			return fromBool(cmp != 0)
		case opLt:
			return fromBool(cmp < 0)
		case opLe:
			return fromBool(cmp <= 0)
		case opGt:
			return fromBool(cmp > 0)
		default:
			return fromBool(cmp >= 0)
		}
	case opBetween:
		lo, loNull := compareColumn(rec, b.colIdx, b.f.lo)
		hi, hiNull := compareColumn(rec, b.colIdx, b.f.hi)
		if loNull || hiNull {
			return triNull
		}
		return fromBool(lo >= 0 && hi <= 0)
	case opIn:
		sawNull := false
		for _, v := range b.f.set {
			cmp, isNull := compareColumn(rec, b.colIdx, v)
			if isNull {
				sawNull = true
				continue
			}
			if cmp == 0 {
				return triTrue
			}
		}
		if sawNull {
			return triNull
		}
		return triFalse
	case opStartsWith:
		return fromBool(strings.HasPrefix(rec.Text(b.colIdx), b.f.str))
	case opContains:
		return fromBool(strings.Contains(rec.Text(b.colIdx), b.f.str))
	default:
		return triNull
	}
}

// compareColumn compares the record column against a literal. The second
// result reports a NULL comparison (NULL literal). Integers and doubles
// coerce transparently; text compares binary; blobs compare by unsigned
// byte order.
func compareColumn(rec *record.View, col int, literal interface{}) (int, bool) {
	switch lit := literal.(type) {
	case nil:
		return 0, true
	case int:
		return compareNumericLit(rec, col, float64(lit), int64(lit), true), false
	case int64:
		return compareNumericLit(rec, col, float64(lit), lit, true), false
	case float64:
		return compareNumericLit(rec, col, lit, 0, false), false
	case string:
		return strings.Compare(rec.Text(col), lit), false
	case []byte:
		return bytes.Compare(rec.Blob(col), lit), false
	default:
		return 0, true
	}
}

func compareNumericLit(rec *record.View, col int, litF float64, litI int64, isInt bool) int {
	if isInt && rec.SerialType(col) != 7 {
		v := rec.Int64(col)
		switch {
		case v < litI:
			return -1
		case v > litI:
			return 1
		}
		return 0
	}
	v := rec.Float64(col)
	switch {
	case v < litF:
		return -1
	case v > litF:
		return 1
	}
	return 0
}
