package pager

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
)

func openTestPager(t *testing.T) (*Pager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	p, err := Open(path, Options{PageSize: 512})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p, path
}

func readFileBytes(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestOpenCreatesValidHeader(t *testing.T) {
	p, path := openTestPager(t)

	if p.PageCount() != 1 {
		t.Fatalf("PageCount() = %d, want 1", p.PageCount())
	}
	page1, err := p.Page(1)
	if err != nil {
		t.Fatal(err)
	}
	h, err := format.ParseHeader(page1)
	if err != nil {
		t.Fatalf("new database header invalid: %v", err)
	}
	if h.GetPageSize() != 512 {
		t.Errorf("page size = %d, want 512", h.GetPageSize())
	}
	if h.DatabaseSize != 1 {
		t.Errorf("in-header page count = %d, want 1", h.DatabaseSize)
	}
	if h.TextEncoding != format.EncodingUTF8 {
		t.Errorf("text encoding = %d, want 1", h.TextEncoding)
	}

	// The schema root occupies the rest of page 1 as an empty table leaf.
	ph, err := format.ParsePageHeader(page1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ph.Type != format.PageTypeLeafTable || ph.CellCount != 0 {
		t.Errorf("schema root header = %+v", ph)
	}

	// Reopen and make sure the header parses from disk.
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	p2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	if p2.PageSize() != 512 {
		t.Errorf("reopened page size = %d, want 512", p2.PageSize())
	}
}

func TestCommitPersistsPages(t *testing.T) {
	p, path := openTestPager(t)

	if err := p.Begin(); err != nil {
		t.Fatal(err)
	}
	pageNum, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	err = p.Update(pageNum, func(data []byte) error {
		copy(data, "hello pager")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Commit(); err != nil {
		t.Fatal(err)
	}

	// Journal must be gone after a clean commit.
	if _, err := os.Stat(path + ".journal"); !os.IsNotExist(err) {
		t.Error("journal still exists after commit")
	}

	p.Close()
	p2, err := Open(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()
	data, err := p2.Page(pageNum)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[:11]) != "hello pager" {
		t.Errorf("page content = %q", data[:11])
	}
}

func TestRollbackRestoresBytes(t *testing.T) {
	p, path := openTestPager(t)

	// Commit one page so there is committed state to protect.
	if err := p.Begin(); err != nil {
		t.Fatal(err)
	}
	pageNum, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Update(pageNum, func(d []byte) error { copy(d, "committed"); return nil }); err != nil {
		t.Fatal(err)
	}
	if err := p.Commit(); err != nil {
		t.Fatal(err)
	}

	before := readFileBytes(t, path)

	// Mutate and roll back.
	if err := p.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := p.Update(pageNum, func(d []byte) error { copy(d, "uncommitted"); return nil }); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Allocate(); err != nil {
		t.Fatal(err)
	}
	if err := p.Rollback(); err != nil {
		t.Fatal(err)
	}

	after := readFileBytes(t, path)
	if !bytes.Equal(before, after) {
		t.Error("database bytes differ after rollback")
	}
	if _, err := os.Stat(path + ".journal"); !os.IsNotExist(err) {
		t.Error("journal still exists after rollback")
	}
}

func TestCrashRecovery(t *testing.T) {
	p, path := openTestPager(t)

	if err := p.Begin(); err != nil {
		t.Fatal(err)
	}
	pageNum, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Update(pageNum, func(d []byte) error { copy(d, "v1"); return nil }); err != nil {
		t.Fatal(err)
	}
	if err := p.Commit(); err != nil {
		t.Fatal(err)
	}
	committed := readFileBytes(t, path)

	// Second transaction: journal the change, write dirty pages to the
	// file, but "crash" before the journal is removed.
	if err := p.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := p.Update(pageNum, func(d []byte) error { copy(d, "v2"); return nil }); err != nil {
		t.Fatal(err)
	}
	if err := p.journal.sync(); err != nil {
		t.Fatal(err)
	}
	for n, img := range p.dirty {
		if err := p.writePageToFile(n, img); err != nil {
			t.Fatal(err)
		}
	}
	p.file.Sync()
	p.file.Close()
	p.file = nil

	// The file now holds uncommitted bytes and the journal exists.
	if bytes.Equal(committed, readFileBytes(t, path)) {
		t.Fatal("test setup: dirty pages were not written")
	}
	if _, err := os.Stat(path + ".journal"); err != nil {
		t.Fatalf("test setup: journal missing: %v", err)
	}

	// Reopen: recovery must restore the committed state and remove the
	// journal.
	p2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen after crash: %v", err)
	}
	defer p2.Close()

	if !bytes.Equal(committed, readFileBytes(t, path)) {
		t.Error("database not restored to committed state")
	}
	if _, err := os.Stat(path + ".journal"); !os.IsNotExist(err) {
		t.Error("journal not removed by recovery")
	}
}

func TestAllocateReusesFreedPages(t *testing.T) {
	p, _ := openTestPager(t)

	if err := p.Begin(); err != nil {
		t.Fatal(err)
	}
	a, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Commit(); err != nil {
		t.Fatal(err)
	}
	sizeBefore := p.PageCount()

	if err := p.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := p.Free(a); err != nil {
		t.Fatal(err)
	}
	if err := p.Free(b); err != nil {
		t.Fatal(err)
	}
	h, err := p.Header()
	if err != nil {
		t.Fatal(err)
	}
	if h.FreelistCount != 2 {
		t.Errorf("FreelistCount = %d, want 2", h.FreelistCount)
	}

	// The next allocations must come from the freelist, not grow the file.
	c, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	d, err := p.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Commit(); err != nil {
		t.Fatal(err)
	}

	if p.PageCount() != sizeBefore {
		t.Errorf("PageCount() = %d, want %d (no growth)", p.PageCount(), sizeBefore)
	}
	got := map[uint32]bool{c: true, d: true}
	if !got[a] || !got[b] {
		t.Errorf("reallocated pages %d,%d, want the freed %d,%d", c, d, a, b)
	}

	// Reclaimed pages come back zeroed.
	data, err := p.Page(c)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range data {
		if v != 0 {
			t.Fatalf("reclaimed page byte %d = %d, want 0", i, v)
		}
	}
}

func TestUpdateOutsideTxFails(t *testing.T) {
	p, _ := openTestPager(t)
	err := p.Update(1, func([]byte) error { return nil })
	if err != ErrNoActiveTx {
		t.Errorf("Update() error = %v, want ErrNoActiveTx", err)
	}
	if _, err := p.Allocate(); err != ErrNoActiveTx {
		t.Errorf("Allocate() error = %v, want ErrNoActiveTx", err)
	}
}

func TestDoubleBeginFails(t *testing.T) {
	p, _ := openTestPager(t)
	if err := p.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := p.Begin(); err != ErrTxAlreadyOpen {
		t.Errorf("second Begin() error = %v, want ErrTxAlreadyOpen", err)
	}
	if err := p.Rollback(); err != nil {
		t.Fatal(err)
	}
}
