// Package scmtest provides a small, real (not mocking-framework-based) fake
// scm.Adapter for exercising the Sync Engine without a live git repository,
// following the pack's preference for hand-written fakes — none of the six
// teacher repos import a mocking library.
package scmtest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
	"github.com/perfectra1n/claude-code-sync/pkg/scm"
)

// commit is a point-in-time snapshot of the tracked subdirectory's content.
type commit struct {
	id       string
	snapshot map[string][]byte // relative path -> content
}

// Adapter is an in-memory scm.Adapter backed by a real directory on disk
// (mirrorPath). It models exactly one branch.
type Adapter struct {
	mu sync.Mutex

	mirrorPath string
	subdir     string
	branch     string
	seq        int
	commits    []commit
	lastHash   string

	// Pending remote content, set by tests via SimulateRemoteAdvance to
	// model another machine having pushed new sessions.
	pendingRemote map[string][]byte

	PushCalls  int
	FetchCalls int
	ForceAuth  bool // next Push returns scm.PushAuthErr
}

// New returns a fake Adapter whose working tree lives at mirrorPath.
func New(mirrorPath, branch string) *Adapter {
	return &Adapter{mirrorPath: mirrorPath, branch: branch}
}

var _ scm.Adapter = (*Adapter)(nil)

func (a *Adapter) Init(ctx context.Context, path string, remoteURL string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mirrorPath = path
	if a.branch == "" {
		a.branch = "main"
	}
	return os.MkdirAll(path, 0o755)
}

func (a *Adapter) StageAll(ctx context.Context, subdirectory string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subdir = subdirectory
	return nil
}

func (a *Adapter) Commit(ctx context.Context, message string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap, err := snapshotDir(filepath.Join(a.mirrorPath, a.subdir))
	if err != nil {
		return "", false, corerr.Scm(corerr.Fatal, "fake scm: snapshot failed", err)
	}
	h := hashSnapshot(snap)
	if h == a.lastHash {
		return "", true, nil
	}
	a.seq++
	id := fmt.Sprintf("c%d", a.seq)
	a.commits = append(a.commits, commit{id: id, snapshot: snap})
	a.lastHash = h
	return id, false, nil
}

func (a *Adapter) Fetch(ctx context.Context, branch string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.FetchCalls++

	if a.pendingRemote == nil {
		return false, nil
	}
	snap := a.pendingRemote
	a.pendingRemote = nil

	if err := applySnapshot(filepath.Join(a.mirrorPath, a.subdir), snap); err != nil {
		return true, corerr.Scm(corerr.Fatal, "fake scm: apply remote snapshot failed", err)
	}
	a.seq++
	id := fmt.Sprintf("c%d", a.seq)
	a.commits = append(a.commits, commit{id: id, snapshot: snap})
	a.lastHash = hashSnapshot(snap)
	return true, nil
}

func (a *Adapter) Push(ctx context.Context, branch string) (scm.PushResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.PushCalls++
	if a.ForceAuth {
		a.ForceAuth = false
		return scm.PushResult{Status: scm.PushAuthErr, Detail: "fake scm: simulated auth failure"}, nil
	}
	return scm.PushResult{Status: scm.PushOk}, nil
}

func (a *Adapter) ResetHard(ctx context.Context, commitID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.commits {
		if c.id == commitID {
			if err := applySnapshot(filepath.Join(a.mirrorPath, a.subdir), c.snapshot); err != nil {
				return corerr.Scm(corerr.Fatal, "fake scm: reset failed", err)
			}
			a.lastHash = hashSnapshot(c.snapshot)
			return nil
		}
	}
	return corerr.Scm(corerr.State, "fake scm: unknown commit "+commitID, nil)
}

func (a *Adapter) CurrentBranch(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.branch, nil
}

func (a *Adapter) HeadID(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.commits) == 0 {
		return "", nil
	}
	return a.commits[len(a.commits)-1].id, nil
}

// SimulateRemoteAdvance stages content that the next Fetch call will apply
// to the working tree, as if another machine had pushed new sessions.
func (a *Adapter) SimulateRemoteAdvance(snapshot map[string][]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingRemote = snapshot
}

func snapshotDir(root string) (map[string][]byte, error) {
	snap := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		snap[rel] = data
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return snap, nil
}

func applySnapshot(root string, snap map[string][]byte) error {
	if err := os.RemoveAll(root); err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	for rel, data := range snap {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func hashSnapshot(snap map[string][]byte) string {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write(snap[k])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
