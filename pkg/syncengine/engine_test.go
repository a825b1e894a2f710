package syncengine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
	"github.com/perfectra1n/claude-code-sync/pkg/filter"
	"github.com/perfectra1n/claude-code-sync/pkg/history"
	"github.com/perfectra1n/claude-code-sync/pkg/scm/scmtest"
)

func writeSession(t *testing.T, root, projectKey, sessionID, body string) string {
	t.Helper()
	dir := filepath.Join(root, projectKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEngine(t *testing.T) (*Engine, string, string, *scmtest.Adapter) {
	t.Helper()
	stateRoot := t.TempDir()
	localRoot := t.TempDir()
	mirrorRoot := t.TempDir()

	adapter := scmtest.New(mirrorRoot, "main")
	if err := adapter.Init(context.Background(), mirrorRoot, ""); err != nil {
		t.Fatal(err)
	}

	eng, err := New(adapter, Options{
		StateRoot:        stateRoot,
		LocalRoot:        localRoot,
		MirrorRoot:       mirrorRoot,
		SyncSubdirectory: "projects",
		Branch:           "main",
		FilterConfig:     filter.Config{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return eng, localRoot, mirrorRoot, adapter
}

// S1 — first push, empty mirror.
func TestScenarioFirstPush(t *testing.T) {
	eng, localRoot, _, _ := newTestEngine(t)
	writeSession(t, localRoot, "p1", "s1",
		`{"uuid":"a","type":"user","timestamp":"2025-01-17T10:00:00Z"}`+"\n"+
			`{"uuid":"b","parentUuid":"a","type":"assistant","timestamp":"2025-01-17T10:01:00Z"}`+"\n"+
			`{"uuid":"c","parentUuid":"b","type":"user","timestamp":"2025-01-17T10:02:00Z"}`+"\n")

	entry, err := eng.Push(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if entry.Counts.Added != 1 || entry.Counts.Modified != 0 {
		t.Fatalf("want added=1 modified=0, got %+v", entry.Counts)
	}

	mirrored, err := os.ReadFile(eng.mirrorPath("p1", "s1"))
	if err != nil {
		t.Fatal(err)
	}
	local, err := os.ReadFile(filepath.Join(localRoot, "p1", "s1.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if string(mirrored) != string(local) {
		t.Fatal("mirror copy should be byte-identical to local source")
	}
}

// S2 — pull with a mirror-only session.
func TestScenarioPullMirrorOnly(t *testing.T) {
	eng, localRoot, mirrorRoot, _ := newTestEngine(t)

	shared := `{"uuid":"a","type":"user","timestamp":"2025-01-17T10:00:00Z"}` + "\n"
	writeSession(t, localRoot, "p1", "s1", shared)
	writeSession(t, filepath.Join(mirrorRoot, "projects"), "p1", "s1", shared)
	writeSession(t, filepath.Join(mirrorRoot, "projects"), "p1", "s2", `{"uuid":"z","type":"user"}`+"\n")

	entry, err := eng.Pull(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if entry.Counts.Added != 1 || entry.Counts.Conflicts != 0 {
		t.Fatalf("want added=1 conflicts=0, got %+v", entry.Counts)
	}
	if _, err := os.Stat(filepath.Join(localRoot, "p1", "s2.jsonl")); err != nil {
		t.Fatalf("expected mirror-only session to be copied locally: %v", err)
	}
}

// S6 — undo pull restores the pre-pull tree and marks history undone.
func TestScenarioUndoPull(t *testing.T) {
	eng, localRoot, mirrorRoot, _ := newTestEngine(t)

	writeSession(t, localRoot, "p1", "s1", `{"uuid":"a","type":"user"}`+"\n")
	writeSession(t, filepath.Join(mirrorRoot, "projects"), "p1", "s2", `{"uuid":"z","type":"user"}`+"\n")

	entry, err := eng.Pull(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.Undo(context.Background(), history.Pull); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(localRoot, "p1", "s2.jsonl")); !os.IsNotExist(err) {
		t.Fatal("undo should have removed the pulled-in session")
	}

	all, err := eng.history.All()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range all {
		if e.ID == entry.ID {
			found = true
			if !e.Undone {
				t.Fatal("want history entry marked undone")
			}
		}
	}
	if !found {
		t.Fatal("expected to find the pull's history entry")
	}
}

// S3 — smart-merge preserves both branches grown from a shared ancestor.
func TestScenarioSmartMergeBranches(t *testing.T) {
	eng, localRoot, mirrorRoot, _ := newTestEngine(t)

	shared := `{"uuid":"a","type":"user","timestamp":"2025-01-17T10:00:00Z"}` + "\n" +
		`{"uuid":"b","parentUuid":"a","type":"assistant","timestamp":"2025-01-17T10:01:00Z"}` + "\n"
	localOnly := shared + `{"uuid":"c","parentUuid":"b","type":"user","timestamp":"2025-01-17T10:02:00Z"}` + "\n"
	remoteOnly := shared + `{"uuid":"d","parentUuid":"b","type":"user","timestamp":"2025-01-17T10:03:00Z"}` + "\n"

	writeSession(t, localRoot, "p1", "s1", localOnly)
	writeSession(t, filepath.Join(mirrorRoot, "projects"), "p1", "s1", remoteOnly)

	entry, err := eng.Pull(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if entry.Counts.Conflicts != 0 {
		t.Fatalf("want conflicts=0 for a clean branch merge, got %+v", entry.Counts)
	}

	merged, err := os.ReadFile(filepath.Join(localRoot, "p1", "s1.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	for _, uuid := range []string{`"uuid":"a"`, `"uuid":"b"`, `"uuid":"c"`, `"uuid":"d"`} {
		if !bytes.Contains(merged, []byte(uuid)) {
			t.Fatalf("merged file missing entry %s:\n%s", uuid, merged)
		}
	}

	var res []history.Resolution
	for _, r := range entry.Resolutions {
		if r.SessionID == "s1" {
			res = append(res, r)
		}
	}
	if len(res) != 1 || res[0].Strategy != "smart-merge" {
		t.Fatalf("want one smart-merge resolution for s1, got %+v", res)
	}
}

// S4 — on a conflicting edit, the newest timestamp wins.
func TestScenarioEditNewestWins(t *testing.T) {
	eng, localRoot, mirrorRoot, _ := newTestEngine(t)

	local := `{"uuid":"x","type":"user","timestamp":"2025-01-17T10:00:00Z","message":"local"}` + "\n"
	remote := `{"uuid":"x","type":"user","timestamp":"2025-01-17T11:00:00Z","message":"remote"}` + "\n"

	writeSession(t, localRoot, "p1", "s1", local)
	writeSession(t, filepath.Join(mirrorRoot, "projects"), "p1", "s1", remote)

	if _, err := eng.Pull(context.Background()); err != nil {
		t.Fatal(err)
	}

	merged, err := os.ReadFile(filepath.Join(localRoot, "p1", "s1.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(merged, []byte(`"message":"remote"`)) {
		t.Fatalf("want remote's newer copy of uuid x to win, got:\n%s", merged)
	}
}

// S5 — a circular-reference hazard falls back to keep-both and leaves the
// local file untouched.
func TestScenarioHazardFallsBackToKeepBoth(t *testing.T) {
	eng, localRoot, mirrorRoot, _ := newTestEngine(t)

	local := `{"uuid":"a","type":"user","timestamp":"2025-01-17T10:00:00Z"}` + "\n"
	cyclic := `{"uuid":"x","parentUuid":"y","type":"user","timestamp":"2025-01-17T10:00:00Z"}` + "\n" +
		`{"uuid":"y","parentUuid":"x","type":"user","timestamp":"2025-01-17T10:01:00Z"}` + "\n"

	writeSession(t, localRoot, "p1", "s1", local)
	writeSession(t, filepath.Join(mirrorRoot, "projects"), "p1", "s1", cyclic)

	entry, err := eng.Pull(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if entry.Counts.Conflicts != 1 {
		t.Fatalf("want conflicts=1, got %+v", entry.Counts)
	}

	untouched, err := os.ReadFile(filepath.Join(localRoot, "p1", "s1.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if string(untouched) != local {
		t.Fatal("local s1.jsonl should be left untouched on a hazard fallback")
	}

	matches, err := filepath.Glob(filepath.Join(localRoot, "p1", "s1-conflict-*.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("want one conflict sibling file, got %v", matches)
	}
	siblingData, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(siblingData) != cyclic {
		t.Fatal("conflict sibling should hold remote's content")
	}
}

func TestSecondUndoFailsWithNothingToUndo(t *testing.T) {
	eng, localRoot, mirrorRoot, _ := newTestEngine(t)
	writeSession(t, localRoot, "p1", "s1", `{"uuid":"a","type":"user"}`+"\n")
	writeSession(t, filepath.Join(mirrorRoot, "projects"), "p1", "s2", `{"uuid":"z","type":"user"}`+"\n")

	if _, err := eng.Pull(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := eng.Undo(context.Background(), history.Pull); err != nil {
		t.Fatal(err)
	}
	err := eng.Undo(context.Background(), history.Pull)
	if kind, ok := corerr.KindOf(err); !ok || kind != corerr.NothingToUndo {
		t.Fatalf("want second undo to fail with NothingToUndo, got %v", err)
	}
}
