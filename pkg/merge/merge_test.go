package merge

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
	"github.com/perfectra1n/claude-code-sync/pkg/session"
)

func entry(t *testing.T, v map[string]any) session.Entry {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	e, err := session.NewEntry(json.RawMessage(raw))
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func uuids(t *testing.T, entries []session.Entry) []string {
	t.Helper()
	var out []string
	for _, e := range entries {
		if e.HasUUID {
			out = append(out, e.UUID)
		}
	}
	sort.Strings(out)
	return out
}

func TestMergeIdempotence(t *testing.T) {
	a := entry(t, map[string]any{"uuid": "a", "type": "user", "timestamp": "2025-01-17T10:00:00Z"})
	b := entry(t, map[string]any{"uuid": "b", "parentUuid": "a", "type": "assistant", "timestamp": "2025-01-17T10:01:00Z"})
	seq := []session.Entry{a, b}

	merged, _, err := Merge("s1", seq, seq, Options{})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != len(seq) {
		t.Fatalf("want %d entries, got %d", len(seq), len(merged))
	}
	for i, e := range merged {
		if e.UUID != seq[i].UUID {
			t.Fatalf("order changed at %d: got %s want %s", i, e.UUID, seq[i].UUID)
		}
	}
}

func TestMergeCommutativityEntrySet(t *testing.T) {
	a := entry(t, map[string]any{"uuid": "a", "type": "user", "timestamp": "2025-01-17T10:00:00Z"})
	b := entry(t, map[string]any{"uuid": "b", "parentUuid": "a", "type": "assistant", "timestamp": "2025-01-17T10:01:00Z"})
	c := entry(t, map[string]any{"uuid": "c", "parentUuid": "b", "type": "user", "timestamp": "2025-01-17T10:02:00Z"})
	d := entry(t, map[string]any{"uuid": "d", "parentUuid": "b", "type": "user", "timestamp": "2025-01-17T10:02:30Z"})

	local := []session.Entry{a, b, c}
	remote := []session.Entry{a, b, d}

	lr, _, err := Merge("s1", local, remote, Options{})
	if err != nil {
		t.Fatalf("merge L,R: %v", err)
	}
	rl, _, err := Merge("s1", remote, local, Options{})
	if err != nil {
		t.Fatalf("merge R,L: %v", err)
	}

	gotLR := uuids(t, lr)
	gotRL := uuids(t, rl)
	if len(gotLR) != len(gotRL) {
		t.Fatalf("different entry counts: %v vs %v", gotLR, gotRL)
	}
	for i := range gotLR {
		if gotLR[i] != gotRL[i] {
			t.Fatalf("different entry sets: %v vs %v", gotLR, gotRL)
		}
	}
}

func TestBranchPreservation(t *testing.T) {
	a := entry(t, map[string]any{"uuid": "a", "type": "user", "timestamp": "2025-01-17T10:00:00Z"})
	b := entry(t, map[string]any{"uuid": "b", "parentUuid": "a", "type": "assistant", "timestamp": "2025-01-17T10:01:00Z"})
	c := entry(t, map[string]any{"uuid": "c", "parentUuid": "b", "type": "user", "timestamp": "2025-01-17T10:02:00Z"}) // local branch
	d := entry(t, map[string]any{"uuid": "d", "parentUuid": "b", "type": "user", "timestamp": "2025-01-17T10:03:00Z"}) // remote branch

	local := []session.Entry{a, b, c}
	remote := []session.Entry{a, b, d}

	merged, stats, err := Merge("s1", local, remote, Options{})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if stats.BranchCount != 1 {
		t.Fatalf("want branch_count=1, got %d", stats.BranchCount)
	}
	order := uuidOrder(merged)
	want := []string{"a", "b", "c", "d"}
	for i, u := range want {
		if order[i] != u {
			t.Fatalf("want order %v, got %v", want, order)
		}
	}
}

func uuidOrder(entries []session.Entry) []string {
	var out []string
	for _, e := range entries {
		if e.HasUUID {
			out = append(out, e.UUID)
		}
	}
	return out
}

func TestEditNewestWins(t *testing.T) {
	lx := entry(t, map[string]any{"uuid": "x", "type": "user", "text": "local version", "timestamp": "2025-01-17T10:00:00Z"})
	rx := entry(t, map[string]any{"uuid": "x", "type": "user", "text": "remote version", "timestamp": "2025-01-17T11:00:00Z"})

	merged, _, err := Merge("s1", []session.Entry{lx}, []session.Entry{rx}, Options{})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("want 1 entry, got %d", len(merged))
	}
	var got map[string]any
	if err := json.Unmarshal(merged[0].Raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["text"] != "remote version" {
		t.Fatalf("want remote (newer) to win, got %v", got["text"])
	}
}

func TestByteEqualKeepsLocal(t *testing.T) {
	lx := entry(t, map[string]any{"uuid": "x", "type": "user", "timestamp": "2025-01-17T10:00:00Z"})
	rx := lx // identical bytes

	merged, _, err := Merge("s1", []session.Entry{lx}, []session.Entry{rx}, Options{})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if string(merged[0].Raw) != string(lx.Raw) {
		t.Fatal("byte-equal entries should keep local copy verbatim")
	}
}

func TestCircularReferenceHazard(t *testing.T) {
	x := entry(t, map[string]any{"uuid": "x", "parentUuid": "y", "type": "user"})
	y := entry(t, map[string]any{"uuid": "y", "parentUuid": "x", "type": "assistant"})

	_, _, err := Merge("s1", []session.Entry{x, y}, nil, Options{})
	if !corerr.IsHazard(err, corerr.CircularReference) {
		t.Fatalf("want CircularReference hazard, got %v", err)
	}
}

func TestConflictingParentHazard(t *testing.T) {
	lx := entry(t, map[string]any{"uuid": "x", "parentUuid": "a", "type": "user"})
	rx := entry(t, map[string]any{"uuid": "x", "parentUuid": "b", "type": "user"})

	_, _, err := Merge("s1", []session.Entry{lx}, []session.Entry{rx}, Options{})
	if !corerr.IsHazard(err, corerr.ConflictingParent) {
		t.Fatalf("want ConflictingParent hazard, got %v", err)
	}
}

func TestSizeExceededHazard(t *testing.T) {
	var local []session.Entry
	for i := 0; i < 10; i++ {
		local = append(local, entry(t, map[string]any{"uuid": "u" + string(rune('a'+i)), "type": "user"}))
	}
	_, _, err := Merge("s1", local, nil, Options{MaxEntries: 2})
	if !corerr.IsHazard(err, corerr.SizeExceeded) {
		t.Fatalf("want SizeExceeded hazard, got %v", err)
	}
}

func TestMergeNonUUIDEntriesDeduped(t *testing.T) {
	s1 := entry(t, map[string]any{"type": "summary", "text": "recap", "timestamp": "2025-01-17T09:00:00Z"})
	s2 := entry(t, map[string]any{"type": "summary", "text": "recap2", "timestamp": "2025-01-17T09:30:00Z"})

	merged, _, err := Merge("s1", []session.Entry{s1}, []session.Entry{s1, s2}, Options{})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("want 2 deduped non-uuid entries, got %d", len(merged))
	}
	var first map[string]any
	if err := json.Unmarshal(merged[0].Raw, &first); err != nil {
		t.Fatal(err)
	}
	if first["text"] != "recap" {
		t.Fatalf("want earlier timestamp first, got %v", first["text"])
	}
}

func TestMergeErrorIsCorerr(t *testing.T) {
	x := entry(t, map[string]any{"uuid": "x", "parentUuid": "x", "type": "user"})
	_, _, err := Merge("s1", []session.Entry{x}, nil, Options{})
	var cerr *corerr.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("want *corerr.Error, got %T", err)
	}
}
