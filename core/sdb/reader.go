package sdb

import (
	"fmt"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/btree"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/record"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/schema"
)

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithColumns projects the reader onto the named columns, in the given
// order. Without it every column is exposed.
func WithColumns(names ...string) ReaderOption {
	return func(r *Reader) { r.wantColumns = names }
}

// WithFilter restricts the reader to rows matching f.
func WithFilter(f *Filter) ReaderOption {
	return func(r *Reader) { r.filter = f }
}

// Reader iterates one table in rowid order. Typical use:
//
//	r, err := db.Reader("users", sdb.WithFilter(sdb.Eq("name", "alice")))
//	for r.Next() {
//	    fmt.Println(r.Rowid(), r.Value(0))
//	}
//	if err := r.Err(); err != nil { ... }
type Reader struct {
	table       *schema.Table
	cur         *btree.Cursor
	bound       *boundFilter
	wantColumns []string
	filter      *Filter
	proj        []int // projected column indices into the record
	rec         *record.View
	err         error
	done        bool
}

// Reader creates a cursor over the named table. WITHOUT ROWID tables are
// visible in the schema but cannot be scanned by this engine.
func (db *Database) Reader(tableName string, opts ...ReaderOption) (*Reader, error) {
	if db.pg == nil {
		return nil, ErrClosed
	}
	table, err := db.schema.Table(tableName)
	if err != nil {
		return nil, err
	}
	if table.WithoutRowid {
		return nil, fmt.Errorf("%w: WITHOUT ROWID table %s", ErrUnsupportedFormat, table.Name)
	}

	r := &Reader{table: table}
	for _, opt := range opts {
		opt(r)
	}

	if r.filter != nil {
		r.bound, err = bindFilter(r.filter, table)
		if err != nil {
			return nil, err
		}
	}

	if len(r.wantColumns) > 0 {
		r.proj = make([]int, len(r.wantColumns))
		for i, name := range r.wantColumns {
			idx := table.ColumnIndex(name)
			if idx < 0 {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table.Name, name)
			}
			r.proj[i] = idx
		}
	} else {
		r.proj = make([]int, len(table.Columns))
		for i := range table.Columns {
			r.proj[i] = i
		}
	}

	tree := btree.NewTree(db.pageReader(), table.RootPage, db.pg.UsableSize())
	r.cur = btree.NewCursor(tree)
	return r, nil
}

// Next advances to the next matching row. It returns false at the end of
// the table or on error; check Err afterwards.
func (r *Reader) Next() bool {
	if r.done || r.err != nil {
		return false
	}
	for {
		if err := r.cur.Next(); err != nil {
			r.err = err
			return false
		}
		if r.cur.State() != btree.AtRow {
			r.done = true
			return false
		}
		rec, err := r.cur.Record()
		if err != nil {
			r.err = err
			return false
		}
		if r.bound != nil && !r.bound.Matches(rec) {
			continue
		}
		r.rec = rec
		return true
	}
}

// Err returns the first error encountered while iterating.
func (r *Reader) Err() error { return r.err }

// Rowid returns the current row's rowid.
func (r *Reader) Rowid() int64 { return r.cur.Rowid() }

// ColumnCount returns the number of projected columns.
func (r *Reader) ColumnCount() int { return len(r.proj) }

// Value returns projected column i of the current row as nil, int64,
// float64, string, or []byte. The rowid-alias column reads as the rowid.
func (r *Reader) Value(i int) interface{} {
	if r.rec == nil || i < 0 || i >= len(r.proj) {
		return nil
	}
	col := r.proj[i]
	if col == r.table.RowidAlias && r.rec.IsNull(col) {
		return r.cur.Rowid()
	}
	return r.rec.Value(col)
}

// Values returns every projected column of the current row.
func (r *Reader) Values() []interface{} {
	out := make([]interface{}, len(r.proj))
	for i := range r.proj {
		out[i] = r.Value(i)
	}
	return out
}

// Scan copies projected columns into dst pointers: *int64, *float64,
// *string, *[]byte, or *interface{}.
func (r *Reader) Scan(dst ...interface{}) error {
	if len(dst) > len(r.proj) {
		return fmt.Errorf("%w: %d destinations for %d columns", ErrInvalidArgument, len(dst), len(r.proj))
	}
	for i, d := range dst {
		v := r.Value(i)
		switch p := d.(type) {
		case *interface{}:
			*p = v
		case *int64:
			n, ok := v.(int64)
			if !ok {
				return fmt.Errorf("%w: column %d is %T, not integer", ErrInvalidArgument, i, v)
			}
			*p = n
		case *float64:
			switch x := v.(type) {
			case float64:
				*p = x
			case int64:
				*p = float64(x)
			default:
				return fmt.Errorf("%w: column %d is %T, not numeric", ErrInvalidArgument, i, v)
			}
		case *string:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%w: column %d is %T, not text", ErrInvalidArgument, i, v)
			}
			*p = s
		case *[]byte:
			b, ok := v.([]byte)
			if !ok {
				return fmt.Errorf("%w: column %d is %T, not blob", ErrInvalidArgument, i, v)
			}
			*p = b
		default:
			return fmt.Errorf("%w: unsupported scan destination %T", ErrInvalidArgument, d)
		}
	}
	return nil
}
