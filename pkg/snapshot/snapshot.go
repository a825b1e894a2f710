// Package snapshot implements the Snapshot Store: point-in-time captures
// of either the local tree (pull) or the mirror (push) that make the last
// sync operation undoable. At most one snapshot of each kind exists at a
// time: creating a new one first removes the previous one of that kind,
// then materializes the new one with an atomic directory rename. The
// replacement as a whole is not atomic; a crash between the two steps
// leaves no snapshot of that kind.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/perfectra1n/claude-code-sync/internal/atomicfile"
	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
	"github.com/perfectra1n/claude-code-sync/pkg/session"
)

// Kind distinguishes the two snapshot shapes.
type Kind string

const (
	Pull Kind = "pull"
	Push Kind = "push"
)

// PullEntry is one manifest line for a pull snapshot: the pre-image of a
// local file the pending pull will touch, or a record that the path did
// not exist locally before the pull (so undo can delete it).
type PullEntry struct {
	RelativePath string `json:"relative_path"`
	Fingerprint  string `json:"fingerprint"` // hex-encoded
	Size         int64  `json:"size"`
	Absent       bool   `json:"absent"`
	Body         []byte `json:"base64_body,omitempty"` // encoding/json base64-encodes []byte
}

// PullSnapshot is the manifest for a pull snapshot.
type PullSnapshot struct {
	OpID    string      `json:"op_id"`
	Entries []PullEntry `json:"entries"`
}

// PushSnapshot is the manifest for a push snapshot.
type PushSnapshot struct {
	OpID         string   `json:"op_id"`
	PreviousHead string   `json:"previous_head"`
	Branch       string   `json:"branch"`
	DirtyPaths   []string `json:"dirty_paths"`
}

// Store owns "<state-root>/snapshots/".
type Store struct {
	root   string
	logger *slog.Logger
}

// New returns a Store rooted at root (typically "<state-root>/snapshots").
func New(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger}
}

func dirName(kind Kind, opID string) string { return string(kind) + "-" + opID }

// CreatePull records the current body of every path in relPaths (paths
// relative to localRoot) as a pre-image, then replaces any existing pull
// snapshot with this one (see write for the crash behaviour).
func (s *Store) CreatePull(opID, localRoot string, relPaths []string) (*PullSnapshot, error) {
	snap := &PullSnapshot{OpID: opID}
	for _, rel := range relPaths {
		full := filepath.Join(localRoot, rel)
		data, err := os.ReadFile(full)
		if os.IsNotExist(err) {
			snap.Entries = append(snap.Entries, PullEntry{RelativePath: rel, Absent: true})
			continue
		}
		if err != nil {
			return nil, corerr.New(corerr.SnapshotIO, "failed to read pre-image for "+rel, err)
		}
		fp := session.Fingerprint(data)
		snap.Entries = append(snap.Entries, PullEntry{
			RelativePath: rel,
			Fingerprint:  fmt.Sprintf("%x", fp),
			Size:         int64(len(data)),
			Body:         data,
		})
	}
	if err := s.write(Pull, opID, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// CreatePush records the mirror's pre-mutation state: previous_head,
// branch, and the set of paths about to be written.
func (s *Store) CreatePush(opID, previousHead, branch string, dirtyPaths []string) (*PushSnapshot, error) {
	snap := &PushSnapshot{OpID: opID, PreviousHead: previousHead, Branch: branch, DirtyPaths: dirtyPaths}
	if err := s.write(Push, opID, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// write purges any existing snapshot of kind, then atomically materializes
// the new one: write snapshot.json into a temp directory, then rename the
// temp directory into its final "<kind>-<op-uuid>" name.
func (s *Store) write(kind Kind, opID string, manifest any) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return corerr.New(corerr.SnapshotIO, "cannot create snapshots directory", err)
	}
	if err := s.purge(kind); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(s.root, ".tmp-"+string(kind)+"-")
	if err != nil {
		return corerr.New(corerr.SnapshotIO, "cannot create temp snapshot directory", err)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return corerr.New(corerr.SnapshotIO, "cannot marshal snapshot manifest", err)
	}
	if err := atomicfile.Write(filepath.Join(tmpDir, "snapshot.json"), data, 0o644); err != nil {
		os.RemoveAll(tmpDir)
		return corerr.New(corerr.SnapshotIO, "cannot write snapshot manifest", err)
	}

	finalDir := filepath.Join(s.root, dirName(kind, opID))
	if err := os.Rename(tmpDir, finalDir); err != nil {
		os.RemoveAll(tmpDir)
		return corerr.New(corerr.SnapshotIO, "cannot finalize snapshot directory", err)
	}
	return nil
}

// purge removes every existing snapshot directory of kind. A crash between
// purge and the new snapshot's rename leaves zero snapshots of that kind,
// which is safe: undo simply reports NothingToUndo rather than restoring
// to a wrong or partial state.
func (s *Store) purge(kind Kind) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return corerr.New(corerr.SnapshotIO, "cannot list snapshots directory", err)
	}
	prefix := string(kind) + "-"
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
				return corerr.New(corerr.SnapshotIO, "cannot remove stale snapshot "+e.Name(), err)
			}
		}
	}
	return nil
}

// FindPull returns the current pull snapshot, or nil if none exists.
func (s *Store) FindPull() (*PullSnapshot, error) {
	var snap PullSnapshot
	ok, err := s.find(Pull, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

// FindPush returns the current push snapshot, or nil if none exists.
func (s *Store) FindPush() (*PushSnapshot, error) {
	var snap PushSnapshot
	ok, err := s.find(Push, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) find(kind Kind, out any) (bool, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, corerr.New(corerr.SnapshotIO, "cannot list snapshots directory", err)
	}
	prefix := string(kind) + "-"
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, e.Name(), "snapshot.json"))
		if err != nil {
			return false, corerr.New(corerr.SnapshotIO, "cannot read "+e.Name(), err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return false, corerr.New(corerr.CorruptState, "cannot parse "+e.Name(), err)
		}
		return true, nil
	}
	return false, nil
}

// DeletePull removes the pull snapshot with the given op ID.
func (s *Store) DeletePull(opID string) error { return s.delete(Pull, opID) }

// DeletePush removes the push snapshot with the given op ID.
func (s *Store) DeletePush(opID string) error { return s.delete(Push, opID) }

func (s *Store) delete(kind Kind, opID string) error {
	if err := os.RemoveAll(filepath.Join(s.root, dirName(kind, opID))); err != nil {
		return corerr.New(corerr.SnapshotIO, "cannot delete snapshot", err)
	}
	return nil
}

// RestorePull rewrites every manifest entry's path to its recorded body,
// atomically, and deletes paths the snapshot recorded as absent.
func RestorePull(localRoot string, snap *PullSnapshot) error {
	for _, e := range snap.Entries {
		full := filepath.Join(localRoot, e.RelativePath)
		if e.Absent {
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return corerr.New(corerr.SnapshotIO, "cannot remove "+e.RelativePath+" during undo", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return corerr.New(corerr.SnapshotIO, "cannot create parent dir for "+e.RelativePath, err)
		}
		if err := session.WriteBytes(full, e.Body); err != nil {
			return corerr.New(corerr.SnapshotIO, "cannot restore "+e.RelativePath, err)
		}
	}
	return nil
}
