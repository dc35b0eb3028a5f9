package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func openTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ledger")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return l, path
}

func TestAppendAndVerify(t *testing.T) {
	l, _ := openTestLedger(t)

	for i := 0; i < 5; i++ {
		pages := []uint32{1, uint32(i + 2)}
		images := [][]byte{{byte(i)}, {byte(i), byte(i)}}
		if err := l.Append(pages, images); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	report, err := l.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !report.ChainIntact {
		t.Errorf("chain broken at %d", report.FirstDivergence)
	}
	if report.EntryCount != 5 {
		t.Errorf("EntryCount = %d, want 5", report.EntryCount)
	}
}

func TestChainContinuesAcrossReopen(t *testing.T) {
	l, path := openTestLedger(t)
	if err := l.Append([]uint32{1}, [][]byte{{1}}); err != nil {
		t.Fatal(err)
	}

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l2.Append([]uint32{2}, [][]byte{{2}}); err != nil {
		t.Fatal(err)
	}

	report, err := l2.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !report.ChainIntact || report.EntryCount != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l, path := openTestLedger(t)
	for i := 0; i < 3; i++ {
		if err := l.Append([]uint32{uint32(i + 1)}, [][]byte{{byte(i)}}); err != nil {
			t.Fatal(err)
		}
	}

	// Rewrite entry 2 with a forged prev_hash.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(data)
	var e Entry
	if err := json.Unmarshal(lines[1], &e); err != nil {
		t.Fatal(err)
	}
	e.PrevHash = "0000"
	forged, _ := json.Marshal(e)
	lines[1] = forged
	if err := os.WriteFile(path, joinLines(lines), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := l.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if report.ChainIntact {
		t.Fatal("tampering not detected")
	}
	if report.FirstDivergence != 2 {
		t.Errorf("FirstDivergence = %d, want 2", report.FirstDivergence)
	}
}

func TestVerifyEmptyLedger(t *testing.T) {
	l, _ := openTestLedger(t)
	report, err := l.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !report.ChainIntact || report.EntryCount != 0 {
		t.Errorf("report = %+v", report)
	}
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, append([]byte(nil), data[start:i]...))
			start = i + 1
		}
	}
	return lines
}

func joinLines(lines [][]byte) []byte {
	var out []byte
	for _, line := range lines {
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}
