package sdb

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/btree"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/record"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/schema"
)

// Writer mutates a database. The single-operation methods (Insert, Update,
// Delete) run in their own transaction; Begin opens an explicit one for
// batching and DDL. Errors during a write roll the transaction back before
// returning. Any active cursor is invalidated by a commit and must not be
// reused.
type Writer struct {
	db *Database
}

// Writer returns the database's writer. The database must be open
// writable.
func (db *Database) Writer() (*Writer, error) {
	if db.pg == nil {
		return nil, ErrClosed
	}
	if !db.opts.Writable && !db.removeOnClose {
		return nil, ErrReadOnly
	}
	return &Writer{db: db}, nil
}

// Insert adds a row and returns its rowid. values must match the table's
// declared columns in order; a nil value in the rowid-alias column (or a
// table without one) assigns the next rowid automatically.
func (w *Writer) Insert(table string, values []interface{}) (int64, error) {
	tx, err := w.Begin()
	if err != nil {
		return 0, err
	}
	rowid, err := tx.Insert(table, values)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	return rowid, tx.Commit()
}

// Update replaces the row with the given rowid.
func (w *Writer) Update(table string, rowid int64, values []interface{}) error {
	tx, err := w.Begin()
	if err != nil {
		return err
	}
	if err := tx.Update(table, rowid, values); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Delete removes the row with the given rowid. Returns false when it does
// not exist.
func (w *Writer) Delete(table string, rowid int64) (bool, error) {
	tx, err := w.Begin()
	if err != nil {
		return false, err
	}
	deleted, err := tx.Delete(table, rowid)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	return deleted, tx.Commit()
}

// Begin opens an explicit transaction.
func (w *Writer) Begin() (*Tx, error) {
	if err := w.db.pg.Begin(); err != nil {
		return nil, err
	}
	return &Tx{db: w.db, mut: btree.NewMutator(w.db.pg)}, nil
}

// Tx is an open write transaction.
type Tx struct {
	db        *Database
	mut       *btree.Mutator
	done      bool
	ddlSeen   bool
}

// Commit makes the transaction's changes durable and visible.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrNoActiveTx
	}
	tx.done = true

	pages := tx.db.pg.DirtyPageNumbers()
	if err := tx.db.pg.Commit(); err != nil {
		return err
	}
	tx.db.invalidatePages(pages)

	if tx.db.ledger != nil {
		if err := tx.appendLedgerEntry(pages); err != nil {
			return err
		}
	}
	if tx.ddlSeen {
		return tx.db.reloadSchema()
	}
	return nil
}

// Rollback discards the transaction.
func (tx *Tx) Rollback() error {
	if tx.done {
		return ErrNoActiveTx
	}
	tx.done = true
	pages := tx.db.pg.DirtyPageNumbers()
	if err := tx.db.pg.Rollback(); err != nil {
		return err
	}
	tx.db.invalidatePages(pages)
	return nil
}

func (tx *Tx) appendLedgerEntry(pages []uint32) error {
	images := make([][]byte, len(pages))
	for i, n := range pages {
		img, err := tx.db.pg.Page(n)
		if err != nil {
			return err
		}
		images[i] = img
	}
	return tx.db.ledger.Append(pages, images)
}

// fail rolls back and returns err; every mutation funnels errors through
// here so no partial change survives.
func (tx *Tx) fail(err error) error {
	if !tx.done {
		tx.Rollback()
		tx.done = true
	}
	return err
}

// Insert adds a row inside the transaction.
func (tx *Tx) Insert(table string, values []interface{}) (int64, error) {
	if tx.done {
		return 0, ErrNoActiveTx
	}
	t, err := tx.db.schema.Table(table)
	if err != nil {
		return 0, tx.fail(err)
	}
	return tx.insertRow(t, values, nil)
}

// insertRow validates, serializes, and inserts one row, maintaining the
// table's indexes. A non-nil forced rowid overrides assignment (used by
// Update to keep row identity).
func (tx *Tx) insertRow(t *schema.Table, values []interface{}, forced *int64) (int64, error) {
	if t.WithoutRowid {
		return 0, tx.fail(fmt.Errorf("%w: WITHOUT ROWID table %s is not writable", ErrUnsupportedFormat, t.Name))
	}
	if len(values) != len(t.Columns) {
		return 0, tx.fail(fmt.Errorf("%w: %d values for %d columns", ErrInvalidArgument, len(values), len(t.Columns)))
	}

	rowid, stored, err := tx.prepareRow(t, values)
	if err != nil {
		return 0, tx.fail(err)
	}
	if forced != nil {
		rowid = *forced
	}
	payload, err := record.Encode(stored)
	if err != nil {
		return 0, tx.fail(err)
	}
	if err := tx.mut.InsertTableRow(t.RootPage, rowid, payload); err != nil {
		return 0, tx.fail(err)
	}
	if err := tx.insertIndexEntries(t, stored, rowid); err != nil {
		return 0, tx.fail(err)
	}
	return rowid, nil
}

// prepareRow resolves the rowid, enforces NOT NULL, and converts the
// values into their stored form (the rowid-alias column stores NULL).
func (tx *Tx) prepareRow(t *schema.Table, values []interface{}) (int64, []interface{}, error) {
	var rowid int64
	assigned := false

	stored := make([]interface{}, len(values))
	copy(stored, values)

	if t.RowidAlias >= 0 {
		switch v := values[t.RowidAlias].(type) {
		case nil:
			// Auto-assign below.
		case int64:
			rowid = v
			assigned = true
		case int:
			rowid = int64(v)
			assigned = true
		default:
			return 0, nil, fmt.Errorf("%w: rowid column %s needs an integer, got %T",
				ErrInvalidArgument, t.Columns[t.RowidAlias].Name, v)
		}
		stored[t.RowidAlias] = nil
	}
	if !assigned {
		var err error
		rowid, err = btree.NewRowid(tx.db.pg, t.RootPage, tx.db.pg.UsableSize())
		if err != nil {
			return 0, nil, ErrRowidOverflow
		}
	}

	for i, c := range t.Columns {
		if c.NotNull && stored[i] == nil && i != t.RowidAlias {
			return 0, nil, fmt.Errorf("%w: %s.%s", ErrNullConstraint, t.Name, c.Name)
		}
	}
	return rowid, stored, nil
}

// Delete removes a row inside the transaction.
func (tx *Tx) Delete(table string, rowid int64) (bool, error) {
	if tx.done {
		return false, ErrNoActiveTx
	}
	t, err := tx.db.schema.Table(table)
	if err != nil {
		return false, tx.fail(err)
	}

	// Capture the row first so its index entries can be removed.
	old, err := tx.fetchRow(t, rowid)
	if err != nil {
		return false, tx.fail(err)
	}
	if old == nil {
		return false, nil
	}
	if err := tx.deleteIndexEntries(t, old, rowid); err != nil {
		return false, tx.fail(err)
	}
	deleted, err := tx.mut.DeleteTableRow(t.RootPage, rowid)
	if err != nil {
		return false, tx.fail(err)
	}
	return deleted, nil
}

// Update rewrites a row as delete-then-insert under the same rowid.
func (tx *Tx) Update(table string, rowid int64, values []interface{}) error {
	if tx.done {
		return ErrNoActiveTx
	}
	t, err := tx.db.schema.Table(table)
	if err != nil {
		return tx.fail(err)
	}
	deleted, err := tx.Delete(table, rowid)
	if err != nil {
		return err
	}
	if !deleted {
		return tx.fail(fmt.Errorf("%w: no row %d in %s", ErrInvalidArgument, rowid, t.Name))
	}

	// Pin the rowid so the row keeps its identity.
	pinned := make([]interface{}, len(values))
	copy(pinned, values)
	if t.RowidAlias >= 0 {
		pinned[t.RowidAlias] = rowid
	}
	_, err = tx.insertRow(t, pinned, &rowid)
	return err
}

// fetchRow returns the stored values of a row, or nil when absent.
func (tx *Tx) fetchRow(t *schema.Table, rowid int64) ([]interface{}, error) {
	cur := btree.NewCursor(btree.NewTree(tx.db.pg, t.RootPage, tx.db.pg.UsableSize()))
	found, err := cur.SeekRowid(rowid)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	rec, err := cur.Record()
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, len(t.Columns))
	for i := range t.Columns {
		values[i] = rec.Value(i)
	}
	return values, nil
}

// indexKey builds the index entry record for a row: the indexed columns in
// index order, then the rowid.
func (tx *Tx) indexKey(ix *schema.Index, t *schema.Table, stored []interface{}, rowid int64) ([]byte, []record.Collation, error) {
	entry := make([]interface{}, 0, len(ix.Columns)+1)
	colls := make([]record.Collation, 0, len(ix.Columns)+1)
	for _, ic := range ix.Columns {
		idx := t.ColumnIndex(ic.Name)
		if idx < 0 {
			return nil, nil, fmt.Errorf("%w: index %s references %s", ErrUnknownColumn, ix.Name, ic.Name)
		}
		v := stored[idx]
		if idx == t.RowidAlias && v == nil {
			v = rowid
		}
		entry = append(entry, v)
		coll := ic.Collation
		if coll == "" {
			coll = t.Columns[idx].Collation
		}
		colls = append(colls, record.CollationByName(coll))
	}
	entry = append(entry, rowid)
	colls = append(colls, record.CollationBinary)
	payload, err := record.Encode(entry)
	return payload, colls, err
}

func (tx *Tx) insertIndexEntries(t *schema.Table, stored []interface{}, rowid int64) error {
	for _, ix := range tx.db.schema.TableIndexes(t.Name) {
		payload, colls, err := tx.indexKey(ix, t, stored, rowid)
		if err != nil {
			return err
		}
		if err := tx.mut.InsertIndexEntry(ix.RootPage, payload, colls); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) deleteIndexEntries(t *schema.Table, stored []interface{}, rowid int64) error {
	for _, ix := range tx.db.schema.TableIndexes(t.Name) {
		payload, colls, err := tx.indexKey(ix, t, stored, rowid)
		if err != nil {
			return err
		}
		key, err := record.Decode(payload)
		if err != nil {
			return err
		}
		if _, err := tx.mut.DeleteIndexEntry(ix.RootPage, key, colls); err != nil {
			return err
		}
	}
	return nil
}

// ExecDDL executes a CREATE TABLE or CREATE INDEX statement: it allocates
// the root page, records the object in the schema table, and bumps the
// schema cookie. The new object becomes visible after Commit.
func (tx *Tx) ExecDDL(sql string) error {
	if tx.done {
		return ErrNoActiveTx
	}
	kind, name, err := classifyDDL(sql)
	if err != nil {
		return tx.fail(err)
	}
	if tx.db.schema.HasObject(name) {
		return tx.fail(fmt.Errorf("%w: object %s already exists", ErrInvalidArgument, name))
	}

	switch kind {
	case "table":
		if _, err := schema.ParseCreateTable(name, sql); err != nil {
			return tx.fail(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
		}
		root, err := tx.mut.CreateTree(format.PageTypeLeafTable)
		if err != nil {
			return tx.fail(err)
		}
		if err := tx.insertMasterRow("table", name, name, root, sql); err != nil {
			return tx.fail(err)
		}
	case "index":
		ix, err := schema.ParseCreateIndex(name, sql)
		if err != nil {
			return tx.fail(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
		}
		t, err := tx.db.schema.Table(ix.Table)
		if err != nil {
			return tx.fail(err)
		}
		root, err := tx.mut.CreateTree(format.PageTypeLeafIndex)
		if err != nil {
			return tx.fail(err)
		}
		ix.RootPage = root
		if err := tx.insertMasterRow("index", name, ix.Table, root, sql); err != nil {
			return tx.fail(err)
		}
		if err := tx.populateIndex(ix, t); err != nil {
			return tx.fail(err)
		}
	}

	if err := tx.db.pg.BumpSchemaCookie(); err != nil {
		return tx.fail(err)
	}
	tx.ddlSeen = true
	return nil
}

// populateIndex backfills a new index from the table's existing rows.
func (tx *Tx) populateIndex(ix *schema.Index, t *schema.Table) error {
	cur := btree.NewCursor(btree.NewTree(tx.db.pg, t.RootPage, tx.db.pg.UsableSize()))
	for err := cur.First(); ; err = cur.Next() {
		if err != nil {
			return err
		}
		if cur.State() != btree.AtRow {
			return nil
		}
		rec, err := cur.Record()
		if err != nil {
			return err
		}
		stored := make([]interface{}, len(t.Columns))
		for i := range t.Columns {
			stored[i] = rec.Value(i)
		}
		payload, colls, err := tx.indexKey(ix, t, stored, cur.Rowid())
		if err != nil {
			return err
		}
		if err := tx.mut.InsertIndexEntry(ix.RootPage, payload, colls); err != nil {
			return err
		}
	}
}

// insertMasterRow appends one row to the schema table on page 1.
func (tx *Tx) insertMasterRow(typ, name, tblName string, root uint32, sql string) error {
	payload, err := schema.EncodeMasterRow(schema.MasterRow{
		Type: typ, Name: name, TblName: tblName, RootPage: root, SQL: sql,
	})
	if err != nil {
		return err
	}
	rowid, err := btree.NewRowid(tx.db.pg, schema.SchemaRootPage, tx.db.pg.UsableSize())
	if err != nil {
		return err
	}
	return tx.mut.InsertTableRow(schema.SchemaRootPage, rowid, payload)
}

// classifyDDL recognizes CREATE TABLE and CREATE INDEX statements and
// extracts the object name.
func classifyDDL(sql string) (kind, name string, err error) {
	fields := strings.Fields(sql)
	upper := make([]string, len(fields))
	for i, f := range fields {
		upper[i] = strings.ToUpper(f)
	}
	if len(upper) < 3 || upper[0] != "CREATE" {
		return "", "", fmt.Errorf("%w: unsupported DDL", ErrInvalidArgument)
	}

	i := 1
	if upper[i] == "UNIQUE" {
		i++
	}
	if i >= len(upper) {
		return "", "", fmt.Errorf("%w: unsupported DDL", ErrInvalidArgument)
	}
	switch upper[i] {
	case "TABLE":
		kind = "table"
	case "INDEX":
		kind = "index"
	default:
		return "", "", fmt.Errorf("%w: only CREATE TABLE and CREATE INDEX are supported", ErrInvalidArgument)
	}
	i++
	if i+2 < len(upper) && upper[i] == "IF" && upper[i+1] == "NOT" && upper[i+2] == "EXISTS" {
		i += 3
	}
	if i >= len(fields) {
		return "", "", fmt.Errorf("%w: missing object name", ErrInvalidArgument)
	}
	raw := fields[i]
	if cut := strings.IndexByte(raw, '('); cut > 0 {
		raw = raw[:cut]
	}
	return kind, strings.Trim(raw, "\"'`[]"), nil
}
