package btree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/record"
)

// memStore is a PageStore backed by a map, standing in for the pager.
type memStore struct {
	pageSize int
	pages    map[uint32][]byte
	next     uint32
	freed    []uint32
}

func newMemStore(pageSize int) *memStore {
	return &memStore{pageSize: pageSize, pages: make(map[uint32][]byte), next: 1}
}

func (s *memStore) PageSize() int   { return s.pageSize }
func (s *memStore) UsableSize() int { return s.pageSize }

func (s *memStore) Page(n uint32) ([]byte, error) {
	if data, ok := s.pages[n]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("page %d not allocated", n)
}

func (s *memStore) Update(n uint32, fn func(data []byte) error) error {
	data, ok := s.pages[n]
	if !ok {
		return fmt.Errorf("page %d not allocated", n)
	}
	return fn(data)
}

func (s *memStore) Allocate() (uint32, error) {
	n := s.next
	s.next++
	s.pages[n] = make([]byte, s.pageSize)
	return n, nil
}

func (s *memStore) Free(n uint32) error {
	s.freed = append(s.freed, n)
	delete(s.pages, n)
	return nil
}

func newTestTable(t *testing.T, pageSize int) (*memStore, *Mutator, uint32) {
	t.Helper()
	store := newMemStore(pageSize)
	m := NewMutator(store)
	root, err := m.CreateTree(format.PageTypeLeafTable)
	if err != nil {
		t.Fatal(err)
	}
	return store, m, root
}

func rowPayload(t *testing.T, values ...interface{}) []byte {
	t.Helper()
	payload, err := record.Encode(values)
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func scanRowids(t *testing.T, store *memStore, root uint32) []int64 {
	t.Helper()
	cur := NewCursor(NewTree(store, root, store.UsableSize()))
	var got []int64
	for err := cur.First(); ; err = cur.Next() {
		if err != nil {
			t.Fatal(err)
		}
		if cur.State() != AtRow {
			break
		}
		got = append(got, cur.Rowid())
	}
	return got
}

func TestInsertAndScanSingleLeaf(t *testing.T) {
	store, m, root := newTestTable(t, 512)

	for _, rowid := range []int64{3, 1, 2} {
		payload := rowPayload(t, rowid*10)
		if err := m.InsertTableRow(root, rowid, payload); err != nil {
			t.Fatalf("insert %d: %v", rowid, err)
		}
	}

	got := scanRowids(t, store, root)
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("scan = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scan = %v, want %v", got, want)
		}
	}
}

func TestInsertDuplicateRowid(t *testing.T) {
	_, m, root := newTestTable(t, 512)
	if err := m.InsertTableRow(root, 1, rowPayload(t, "a")); err != nil {
		t.Fatal(err)
	}
	err := m.InsertTableRow(root, 1, rowPayload(t, "b"))
	if err == nil {
		t.Fatal("expected duplicate rowid error")
	}
}

func TestInsertManyRowsSplits(t *testing.T) {
	store, m, root := newTestTable(t, 512)

	const n = 500
	for i := int64(1); i <= n; i++ {
		payload := rowPayload(t, fmt.Sprintf("row-%04d", i), i*7)
		if err := m.InsertTableRow(root, i, payload); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	// The tree must have grown past one page.
	if store.next <= 2 {
		t.Fatalf("expected page splits, still %d pages", store.next-1)
	}

	got := scanRowids(t, store, root)
	if len(got) != n {
		t.Fatalf("scan returned %d rows, want %d", len(got), n)
	}
	for i, rowid := range got {
		if rowid != int64(i+1) {
			t.Fatalf("row %d has rowid %d, want %d", i, rowid, i+1)
		}
	}

	// Values survive the splits.
	cur := NewCursor(NewTree(store, root, store.UsableSize()))
	found, err := cur.SeekRowid(250)
	if err != nil || !found {
		t.Fatalf("SeekRowid(250) = %v, %v", found, err)
	}
	rec, err := cur.Record()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Text(0) != "row-0250" || rec.Int64(1) != 250*7 {
		t.Errorf("row 250 = %v", rec.Values())
	}
}

func TestInsertDescendingOrder(t *testing.T) {
	store, m, root := newTestTable(t, 512)
	for i := int64(300); i >= 1; i-- {
		if err := m.InsertTableRow(root, i, rowPayload(t, i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	got := scanRowids(t, store, root)
	if len(got) != 300 {
		t.Fatalf("scan returned %d rows, want 300", len(got))
	}
	for i, rowid := range got {
		if rowid != int64(i+1) {
			t.Fatalf("out of order at %d: %d", i, rowid)
		}
	}
}

func TestSeekRowidPositioning(t *testing.T) {
	store, m, root := newTestTable(t, 512)
	for _, rowid := range []int64{10, 20, 30} {
		if err := m.InsertTableRow(root, rowid, rowPayload(t, rowid)); err != nil {
			t.Fatal(err)
		}
	}
	cur := NewCursor(NewTree(store, root, store.UsableSize()))

	found, err := cur.SeekRowid(20)
	if err != nil || !found {
		t.Fatalf("SeekRowid(20) = %v, %v", found, err)
	}
	if cur.Rowid() != 20 {
		t.Errorf("Rowid() = %d", cur.Rowid())
	}

	// A miss lands on the first greater row.
	found, err = cur.SeekRowid(15)
	if err != nil || found {
		t.Fatalf("SeekRowid(15) = %v, %v", found, err)
	}
	if cur.State() != AtRow || cur.Rowid() != 20 {
		t.Errorf("cursor after miss: state=%d rowid=%d, want AtRow 20", cur.State(), cur.Rowid())
	}

	// Past the end.
	found, err = cur.SeekRowid(99)
	if err != nil || found {
		t.Fatalf("SeekRowid(99) = %v, %v", found, err)
	}
	if cur.State() != AfterLast {
		t.Errorf("state = %d, want AfterLast", cur.State())
	}
}

func TestSeekOnEmptyTree(t *testing.T) {
	store, m, root := newTestTable(t, 512)
	_ = m
	cur := NewCursor(NewTree(store, root, store.UsableSize()))

	found, err := cur.SeekRowid(1)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("found row in empty tree")
	}
	if got := scanRowids(t, store, root); len(got) != 0 {
		t.Errorf("empty tree scan = %v", got)
	}
}

func TestDeleteRow(t *testing.T) {
	store, m, root := newTestTable(t, 512)
	for _, rowid := range []int64{1, 2, 3} {
		if err := m.InsertTableRow(root, rowid, rowPayload(t, rowid)); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := m.DeleteTableRow(root, 2)
	if err != nil || !deleted {
		t.Fatalf("DeleteTableRow(2) = %v, %v", deleted, err)
	}
	got := scanRowids(t, store, root)
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("scan after delete = %v, want [1 3]", got)
	}

	deleted, err = m.DeleteTableRow(root, 2)
	if err != nil || deleted {
		t.Fatalf("second DeleteTableRow(2) = %v, %v, want false", deleted, err)
	}
}

func TestDeleteInsertBitIdentical(t *testing.T) {
	// Insert, delete, and re-insert the same row; the page must match the
	// single-insert state byte for byte.
	storeA, mA, rootA := newTestTable(t, 512)
	if err := mA.InsertTableRow(rootA, 1, rowPayload(t, "x")); err != nil {
		t.Fatal(err)
	}

	storeB, mB, rootB := newTestTable(t, 512)
	if err := mB.InsertTableRow(rootB, 1, rowPayload(t, "x")); err != nil {
		t.Fatal(err)
	}
	if _, err := mB.DeleteTableRow(rootB, 1); err != nil {
		t.Fatal(err)
	}
	if err := mB.InsertTableRow(rootB, 1, rowPayload(t, "x")); err != nil {
		t.Fatal(err)
	}

	pageA, _ := storeA.Page(rootA)
	pageB, _ := storeB.Page(rootB)
	if !bytes.Equal(pageA, pageB) {
		t.Error("pages differ after delete/re-insert")
	}
}

func TestOverflowRoundTrip(t *testing.T) {
	store, m, root := newTestTable(t, 512)

	big := bytes.Repeat([]byte("A"), 20000)
	payload := rowPayload(t, string(big))
	if err := m.InsertTableRow(root, 1, payload); err != nil {
		t.Fatal(err)
	}

	cur := NewCursor(NewTree(store, root, store.UsableSize()))
	found, err := cur.SeekRowid(1)
	if err != nil || !found {
		t.Fatalf("SeekRowid(1) = %v, %v", found, err)
	}
	if cur.Cell().Overflow == 0 {
		t.Fatal("expected overflow chain")
	}
	rec, err := cur.Record()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Text(0) != string(big) {
		t.Error("overflow payload corrupted")
	}

	// Deleting frees the whole chain.
	pagesBefore := len(store.pages)
	if _, err := m.DeleteTableRow(root, 1); err != nil {
		t.Fatal(err)
	}
	if len(store.freed) < 20000/(512-4) {
		t.Errorf("freed %d pages, want at least %d", len(store.freed), 20000/(512-4))
	}
	if len(store.pages) >= pagesBefore {
		t.Error("overflow pages not released")
	}
}

func TestMaxRowid(t *testing.T) {
	store, m, root := newTestTable(t, 512)
	const maxRowid = 1<<63 - 1
	if err := m.InsertTableRow(root, maxRowid, rowPayload(t, "end")); err != nil {
		t.Fatal(err)
	}
	cur := NewCursor(NewTree(store, root, store.UsableSize()))
	found, err := cur.SeekRowid(maxRowid)
	if err != nil || !found {
		t.Fatalf("SeekRowid(max) = %v, %v", found, err)
	}
	if cur.Rowid() != maxRowid {
		t.Errorf("Rowid() = %d", cur.Rowid())
	}
}

func TestPrevTraversal(t *testing.T) {
	store, m, root := newTestTable(t, 512)
	for i := int64(1); i <= 100; i++ {
		if err := m.InsertTableRow(root, i, rowPayload(t, i)); err != nil {
			t.Fatal(err)
		}
	}

	cur := NewCursor(NewTree(store, root, store.UsableSize()))
	var got []int64
	for err := cur.Last(); ; err = cur.Prev() {
		if err != nil {
			t.Fatal(err)
		}
		if cur.State() != AtRow {
			break
		}
		got = append(got, cur.Rowid())
	}
	if len(got) != 100 {
		t.Fatalf("reverse scan returned %d rows", len(got))
	}
	for i, rowid := range got {
		if rowid != int64(100-i) {
			t.Fatalf("reverse scan out of order at %d: %d", i, rowid)
		}
	}
}

func TestNewRowid(t *testing.T) {
	store, m, root := newTestTable(t, 512)

	next, err := NewRowid(store, root, store.UsableSize())
	if err != nil || next != 1 {
		t.Fatalf("NewRowid(empty) = %d, %v, want 1", next, err)
	}
	if err := m.InsertTableRow(root, 41, rowPayload(t, "x")); err != nil {
		t.Fatal(err)
	}
	next, err = NewRowid(store, root, store.UsableSize())
	if err != nil || next != 42 {
		t.Fatalf("NewRowid = %d, %v, want 42", next, err)
	}
}
