package btree

import (
	"fmt"
	"testing"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/record"
)

func newTestIndex(t *testing.T, pageSize int) (*memStore, *Mutator, uint32) {
	t.Helper()
	store := newMemStore(pageSize)
	m := NewMutator(store)
	root, err := m.CreateTree(format.PageTypeLeafIndex)
	if err != nil {
		t.Fatal(err)
	}
	return store, m, root
}

// indexEntry builds an index record (key columns ++ rowid).
func indexEntry(t *testing.T, key string, rowid int64) []byte {
	t.Helper()
	payload, err := record.Encode([]interface{}{key, rowid})
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func scanIndexKeys(t *testing.T, store *memStore, root uint32) []string {
	t.Helper()
	cur := NewCursor(NewTree(store, root, store.UsableSize()))
	var keys []string
	for err := cur.First(); ; err = cur.Next() {
		if err != nil {
			t.Fatal(err)
		}
		if cur.State() != AtRow {
			break
		}
		rec, err := cur.Record()
		if err != nil {
			t.Fatal(err)
		}
		keys = append(keys, rec.Text(0))
	}
	return keys
}

func TestIndexInsertAndScan(t *testing.T) {
	store, m, root := newTestIndex(t, 512)

	for _, key := range []string{"carol", "alice", "bob"} {
		if err := m.InsertIndexEntry(root, indexEntry(t, key, 1), nil); err != nil {
			t.Fatalf("insert %s: %v", key, err)
		}
	}

	keys := scanIndexKeys(t, store, root)
	want := []string{"alice", "bob", "carol"}
	if len(keys) != len(want) {
		t.Fatalf("scan = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("scan = %v, want %v", keys, want)
		}
	}
}

func TestIndexSplitsKeepOrderAndEntries(t *testing.T) {
	store, m, root := newTestIndex(t, 512)

	const n = 400
	for i := 0; i < n; i++ {
		// Shuffled-ish insertion order.
		k := (i*7 + 3) % n
		key := fmt.Sprintf("key-%04d", k)
		if err := m.InsertIndexEntry(root, indexEntry(t, key, int64(k)), nil); err != nil {
			t.Fatalf("insert %s: %v", key, err)
		}
	}
	if store.next <= 2 {
		t.Fatal("expected index splits")
	}

	keys := scanIndexKeys(t, store, root)
	if len(keys) != n {
		t.Fatalf("scan returned %d entries, want %d", len(keys), n)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("keys out of order: %q >= %q", keys[i-1], keys[i])
		}
	}
}

func TestIndexSeekKey(t *testing.T) {
	store, m, root := newTestIndex(t, 512)
	for _, key := range []string{"a", "c", "e"} {
		if err := m.InsertIndexEntry(root, indexEntry(t, key, 1), nil); err != nil {
			t.Fatal(err)
		}
	}

	cur := NewCursor(NewTree(store, root, store.UsableSize()))
	seek := func(key string) (*record.View, bool) {
		t.Helper()
		payload, err := record.Encode([]interface{}{key})
		if err != nil {
			t.Fatal(err)
		}
		view, err := record.Decode(payload)
		if err != nil {
			t.Fatal(err)
		}
		found, err := cur.SeekKey(view, 1, nil)
		if err != nil {
			t.Fatal(err)
		}
		return view, found
	}

	if _, found := seek("c"); !found {
		t.Error("SeekKey(c) not found")
	}

	// Between two stored keys: lands on the first greater entry.
	if _, found := seek("b"); found {
		t.Error("SeekKey(b) unexpectedly found")
	}
	if cur.State() != AtRow {
		t.Fatalf("state = %d, want AtRow", cur.State())
	}
	rec, err := cur.Record()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Text(0) != "c" {
		t.Errorf("positioned at %q, want c", rec.Text(0))
	}

	// Past the end.
	if _, found := seek("z"); found {
		t.Error("SeekKey(z) unexpectedly found")
	}
	if cur.State() != AfterLast {
		t.Errorf("state = %d, want AfterLast", cur.State())
	}
}

func TestIndexDeleteLeafEntry(t *testing.T) {
	store, m, root := newTestIndex(t, 512)
	for _, key := range []string{"a", "b", "c"} {
		if err := m.InsertIndexEntry(root, indexEntry(t, key, 9), nil); err != nil {
			t.Fatal(err)
		}
	}

	payload := indexEntry(t, "b", 9)
	view, err := record.Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	deleted, err := m.DeleteIndexEntry(root, view, nil)
	if err != nil || !deleted {
		t.Fatalf("DeleteIndexEntry = %v, %v", deleted, err)
	}

	keys := scanIndexKeys(t, store, root)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Fatalf("scan after delete = %v", keys)
	}
}

func TestIndexDeleteEveryEntryAfterSplits(t *testing.T) {
	store, m, root := newTestIndex(t, 512)

	const n = 300
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		if err := m.InsertIndexEntry(root, indexEntry(t, key, int64(i)), nil); err != nil {
			t.Fatal(err)
		}
	}

	// Delete all entries, including ones promoted to interior pages.
	for i := 0; i < n; i++ {
		payload := indexEntry(t, fmt.Sprintf("key-%04d", i), int64(i))
		view, err := record.Decode(payload)
		if err != nil {
			t.Fatal(err)
		}
		deleted, err := m.DeleteIndexEntry(root, view, nil)
		if err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
		if !deleted {
			t.Fatalf("entry %d not found for delete", i)
		}
	}

	if keys := scanIndexKeys(t, store, root); len(keys) != 0 {
		t.Fatalf("scan after deleting everything = %v", keys)
	}
}
