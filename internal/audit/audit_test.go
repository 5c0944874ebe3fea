package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	return l, path
}

func statsEntry(sink string, detected int64) Entry {
	return Entry{
		Kind:  KindStats,
		Stats: &StatsDigest{Sink: sink, Kind: "exec_op", Detected: detected, Total: 10},
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 5; i++ {
		if _, err := l.Record(statsEntry("shell_exec", int64(i))); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
	if result.Sessions != 1 {
		t.Fatalf("expected 1 session, got %d", result.Sessions)
	}
}

func TestRecordFillsIdentity(t *testing.T) {
	l, _ := newTestLog(t)
	defer l.Close()

	e, err := l.Record(Entry{Kind: KindStarted})
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" || e.Timestamp == "" {
		t.Fatalf("missing id or timestamp: %+v", e)
	}
	if e.Session != l.Session() {
		t.Fatalf("session = %q, want %q", e.Session, l.Session())
	}
	if e.PrevHash != GenesisHash {
		t.Fatalf("first prev_hash = %q", e.PrevHash)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		if _, err := l.Record(statsEntry("shell_exec", 1)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var e Entry
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatal(err)
	}
	e.Stats.Detected = 0
	tampered, _ := json.Marshal(e)
	lines[1] = string(tampered)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampering to be detected")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected break at line 3, got %d (%s)", result.ErrorLine, result.Error)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	l, path := newTestLog(t)
	if _, err := l.Record(Entry{Kind: KindStarted}); err != nil {
		t.Fatal(err)
	}
	first := l.Session()
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if l2.Len() != 1 {
		t.Fatalf("recovered %d entries, want 1", l2.Len())
	}
	if l2.Session() == first {
		t.Fatal("reopened journal reused session id")
	}
	if _, err := l2.Record(Entry{Kind: KindStopped}); err != nil {
		t.Fatal(err)
	}
	l2.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 2 || result.Sessions != 2 {
		t.Fatalf("unexpected result after reopen: %+v", result)
	}
}

func TestConcurrentWritesKeepChain(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := l.Record(statsEntry("sql_query", int64(n))); err != nil {
				t.Errorf("record: %v", err)
			}
		}(i)
	}
	wg.Wait()
	l.Close()

	if result := Verify(path); !result.Valid || result.Lines != 20 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("") != "" {
		t.Fatal("empty token should have empty fingerprint")
	}
	a, b := Fingerprint("tok-a"), Fingerprint("tok-b")
	if len(a) != 12 || a == b || strings.Contains(a, "tok") {
		t.Fatalf("bad fingerprints %q %q", a, b)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	if result := Verify(filepath.Join(t.TempDir(), "absent")); result.Valid {
		t.Fatal("missing journal should not verify")
	}
}
