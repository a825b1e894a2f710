package history

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHistoryBound(t *testing.T) {
	log := New(filepath.Join(t.TempDir(), "operation-history.json"), 5, nil)
	for i := 0; i < 8; i++ {
		if _, err := log.Append(Entry{Kind: Push, Branch: "main"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	entries, err := log.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("want 5 entries after 8 appends, got %d", len(entries))
	}
}

func TestHistoryMostRecentFirst(t *testing.T) {
	log := New(filepath.Join(t.TempDir(), "operation-history.json"), 5, nil)
	first, err := log.Append(Entry{Kind: Push})
	if err != nil {
		t.Fatal(err)
	}
	second, err := log.Append(Entry{Kind: Pull})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := log.All()
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].ID != second.ID || entries[1].ID != first.ID {
		t.Fatalf("want most-recent-first order, got %+v", entries)
	}
}

func TestMarkUndone(t *testing.T) {
	log := New(filepath.Join(t.TempDir(), "operation-history.json"), 5, nil)
	e, err := log.Append(Entry{Kind: Pull})
	if err != nil {
		t.Fatal(err)
	}
	if err := log.MarkUndone(e.ID); err != nil {
		t.Fatal(err)
	}
	entries, err := log.All()
	if err != nil {
		t.Fatal(err)
	}
	if !entries[0].Undone {
		t.Fatal("want entry marked undone")
	}
}

func TestCorruptHistoryTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "operation-history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	log := New(path, 5, nil)
	entries, err := log.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("want empty history for corrupt file, got %d entries", len(entries))
	}
}
