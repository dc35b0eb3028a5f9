package sdb_test

// Interoperability: databases produced by this engine must be readable by
// a real SQLite implementation. These tests write files with sdb and read
// them back through modernc.org/sqlite (pure Go, no CGO).

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/FocuswithJustin/sharc/core/sdb"
)

func buildDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "interop.db")
	db, err := sdb.Open(path, sdb.Options{Writable: true, PageSize: 4096})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	w, err := db.Writer()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := w.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.ExecDDL(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER)`); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	rows := []struct {
		id   int64
		name string
		age  int64
	}{
		{1, "alice", 30},
		{2, "bob", 25},
		{3, "carol", 40},
	}
	for _, row := range rows {
		if _, err := w.Insert("users", []interface{}{row.id, row.name, row.age}); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestRealSQLiteReadsOurFile(t *testing.T) {
	path := buildDatabase(t)

	ref, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer ref.Close()

	rows, err := ref.Query(`SELECT id, name, age FROM users ORDER BY id`)
	if err != nil {
		t.Fatalf("real SQLite rejected our file: %v", err)
	}
	defer rows.Close()

	want := []struct {
		id   int64
		name string
		age  int64
	}{
		{1, "alice", 30},
		{2, "bob", 25},
		{3, "carol", 40},
	}
	i := 0
	for rows.Next() {
		var id, age int64
		var name string
		if err := rows.Scan(&id, &name, &age); err != nil {
			t.Fatal(err)
		}
		if i >= len(want) || id != want[i].id || name != want[i].name || age != want[i].age {
			t.Fatalf("row %d = (%d, %q, %d)", i, id, name, age)
		}
		i++
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	if i != len(want) {
		t.Fatalf("got %d rows, want %d", i, len(want))
	}
}

func TestRealSQLiteIntegrityCheck(t *testing.T) {
	path := buildDatabase(t)

	ref, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer ref.Close()

	var result string
	if err := ref.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		t.Fatal(err)
	}
	if result != "ok" {
		t.Errorf("integrity_check = %q", result)
	}
}

func TestRealSQLiteReadsMultiPageTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.db")
	db, err := sdb.Open(path, sdb.Options{Writable: true, PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	w, err := db.Writer()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := w.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.ExecDDL(`CREATE TABLE items (id INTEGER PRIMARY KEY, body TEXT)`); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	tx, err = w.Begin()
	if err != nil {
		t.Fatal(err)
	}
	for i := int64(1); i <= 400; i++ {
		if _, err := tx.Insert("items", []interface{}{i, strings.Repeat("x", 40)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	db.Close()

	ref, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer ref.Close()

	var count int
	if err := ref.QueryRow(`SELECT count(*) FROM items`).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 400 {
		t.Errorf("count = %d, want 400", count)
	}
	var integrity string
	if err := ref.QueryRow(`PRAGMA integrity_check`).Scan(&integrity); err != nil {
		t.Fatal(err)
	}
	if integrity != "ok" {
		t.Errorf("integrity_check = %q", integrity)
	}
}
