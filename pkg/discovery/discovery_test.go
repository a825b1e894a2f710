package discovery

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWalkFindsCandidatesByBasenameUUID(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "-home-alice-proj")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatal(err)
	}
	id := "8f14e45f-ceea-467e-9abf-26241e6c4eb1"
	path := filepath.Join(projDir, id+".jsonl")
	if err := os.WriteFile(path, []byte(`{"uuid":"a1"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cands, skipped := Walk(root, nil)
	if len(skipped) != 0 {
		t.Fatalf("unexpected skips: %v", skipped)
	}
	if len(cands) != 1 {
		t.Fatalf("want 1 candidate, got %d", len(cands))
	}
	if cands[0].ProjectKey != "-home-alice-proj" || cands[0].SessionID != id {
		t.Fatalf("unexpected candidate: %+v", cands[0])
	}
}

func TestWalkPeeksSessionIDWhenBasenameIsNotUUID(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "proj")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(projDir, "session.jsonl")
	content := `{"type":"summary"}` + "\n" + `{"uuid":"a1","sessionId":"s-123"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cands, _ := Walk(root, nil)
	if len(cands) != 1 || cands[0].SessionID != "s-123" {
		t.Fatalf("want sessionId s-123, got %+v", cands)
	}
}

func TestWalkIgnoresNonJSONL(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "proj")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(projDir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	cands, _ := Walk(root, nil)
	if len(cands) != 0 {
		t.Fatalf("want 0 candidates, got %d", len(cands))
	}
}

func TestWalkMissingRootIsEmptyNotError(t *testing.T) {
	cands, skipped := Walk(filepath.Join(t.TempDir(), "missing"), nil)
	if cands != nil || skipped != nil {
		t.Fatalf("want nil/nil, got %v %v", cands, skipped)
	}
}
