package schema

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/btree"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/record"
)

// SchemaRootPage is where the schema table lives.
const SchemaRootPage = 1

// MasterRow mirrors one row of the schema table:
// (type, name, tbl_name, rootpage, sql).
type MasterRow struct {
	Type     string
	Name     string
	TblName  string
	RootPage uint32
	SQL      string
}

// EncodeMasterRow serializes a schema row as a record payload.
func EncodeMasterRow(row MasterRow) ([]byte, error) {
	return record.Encode([]interface{}{
		row.Type, row.Name, row.TblName, int64(row.RootPage), row.SQL,
	})
}

// Load walks the schema table and parses every object. Objects whose SQL
// cannot be parsed are skipped, not fatal; WITHOUT ROWID tables load with
// the flag set so callers can refuse to read or write them.
func Load(src format.PageReader, usableSize int) (*Schema, error) {
	s := NewSchema()
	cur := btree.NewCursor(btree.NewTree(src, SchemaRootPage, usableSize))

	for err := cur.First(); ; err = cur.Next() {
		if err != nil {
			return nil, fmt.Errorf("walk schema table: %w", err)
		}
		if cur.State() != btree.AtRow {
			break
		}
		rec, err := cur.Record()
		if err != nil {
			return nil, fmt.Errorf("decode schema row: %w", err)
		}
		row := MasterRow{
			Type:     rec.Text(0),
			Name:     rec.Text(1),
			TblName:  rec.Text(2),
			RootPage: uint32(rec.Int64(3)),
			SQL:      rec.Text(4),
		}

		switch strings.ToLower(row.Type) {
		case "table":
			t, err := ParseCreateTable(row.Name, row.SQL)
			if err != nil {
				continue
			}
			t.RootPage = row.RootPage
			s.addTable(t)
		case "index":
			if row.SQL == "" {
				// Auto-indexes (UNIQUE/PRIMARY KEY backing) carry no SQL.
				continue
			}
			ix, err := ParseCreateIndex(row.Name, row.SQL)
			if err != nil {
				continue
			}
			ix.RootPage = row.RootPage
			s.addIndex(ix)
		case "view":
			s.addView(row.Name, row.SQL)
		}
		// Triggers are outside this engine's scope.
	}
	return s, nil
}
