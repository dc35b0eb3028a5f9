// Package schema reads database object metadata from the schema table on
// page 1 and parses CREATE statements just deeply enough to drive the
// engine: column names and order, NOT NULL, PRIMARY KEY, collations, and
// index column lists. Unrecognized SQL fragments are ignored rather than
// rejected.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Schema errors.
var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownIndex  = errors.New("unknown index")
	ErrUnknownColumn = errors.New("unknown column")
)

// Column describes one declared table column.
type Column struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	Collation  string
}

// Table describes a table object.
type Table struct {
	Name     string
	RootPage uint32
	Columns  []Column
	SQL      string

	// RowidAlias is the index of the INTEGER PRIMARY KEY column that
	// aliases the rowid, or -1.
	RowidAlias int

	WithoutRowid bool
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// IndexColumn is one column of an index with its ordering and collation.
type IndexColumn struct {
	Name      string
	Desc      bool
	Collation string
}

// Index describes an index object.
type Index struct {
	Name     string
	Table    string
	RootPage uint32
	Columns  []IndexColumn
	Unique   bool
	SQL      string
}

// Schema holds every object read from the schema table.
type Schema struct {
	tables  map[string]*Table
	indexes map[string]*Index
	views   map[string]string // name -> sql
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{
		tables:  make(map[string]*Table),
		indexes: make(map[string]*Index),
		views:   make(map[string]string),
	}
}

// Table looks up a table by name, ASCII case-insensitively.
func (s *Schema) Table(name string) (*Table, error) {
	if t, ok := s.tables[foldName(name)]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
}

// Index looks up an index by name.
func (s *Schema) Index(name string) (*Index, error) {
	if ix, ok := s.indexes[foldName(name)]; ok {
		return ix, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, name)
}

// Tables returns all tables in name order.
func (s *Schema) Tables() []*Table {
	out := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	sortTables(out)
	return out
}

// TableIndexes returns the indexes that belong to the named table.
func (s *Schema) TableIndexes(tableName string) []*Index {
	var out []*Index
	for _, ix := range s.indexes {
		if strings.EqualFold(ix.Table, tableName) {
			out = append(out, ix)
		}
	}
	sortIndexes(out)
	return out
}

// Views returns the names of all views.
func (s *Schema) Views() []string {
	out := make([]string, 0, len(s.views))
	for name := range s.views {
		out = append(out, name)
	}
	sortStrings(out)
	return out
}

func (s *Schema) addTable(t *Table)          { s.tables[foldName(t.Name)] = t }
func (s *Schema) addIndex(ix *Index)         { s.indexes[foldName(ix.Name)] = ix }
func (s *Schema) addView(name, sql string)   { s.views[foldName(name)] = sql }
func (s *Schema) hasTable(name string) bool  { _, ok := s.tables[foldName(name)]; return ok }
func (s *Schema) hasIndex(name string) bool  { _, ok := s.indexes[foldName(name)]; return ok }

// HasObject reports whether any object uses the name.
func (s *Schema) HasObject(name string) bool {
	return s.hasTable(name) || s.hasIndex(name)
}

func foldName(name string) string { return strings.ToLower(name) }

func sortTables(ts []*Table) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name < ts[j].Name })
}

func sortIndexes(ixs []*Index) {
	sort.Slice(ixs, func(i, j int) bool { return ixs[i].Name < ixs[j].Name })
}

func sortStrings(ss []string) { sort.Strings(ss) }
