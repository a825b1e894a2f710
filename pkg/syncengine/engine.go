// Package syncengine implements the Sync Engine: it orchestrates push,
// pull, and undo by wiring together Discovery, Filter, the SCM Adapter,
// the Snapshot Store, the Merge Engine (via the Conflict Resolver), and
// the Operation History behind the global lock.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/perfectra1n/claude-code-sync/internal/atomicfile"
	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
	"github.com/perfectra1n/claude-code-sync/pkg/discovery"
	"github.com/perfectra1n/claude-code-sync/pkg/filter"
	"github.com/perfectra1n/claude-code-sync/pkg/history"
	"github.com/perfectra1n/claude-code-sync/pkg/resolve"
	"github.com/perfectra1n/claude-code-sync/pkg/scm"
	"github.com/perfectra1n/claude-code-sync/pkg/session"
	"github.com/perfectra1n/claude-code-sync/pkg/snapshot"
	"github.com/perfectra1n/claude-code-sync/pkg/synclock"
)

// fingerprintWorkers bounds the parallel fingerprinting pool used while
// diffing the local tree against the mirror; independent file reads are
// the only work this engine ever parallelizes, per the concurrency model's
// "small bounded worker pool" allowance — every other phase is serial.
const fingerprintWorkers = 8

// Options configures one Engine. LocalRoot is the projects root on the
// machine running the core; MirrorRoot is the SCM-managed working tree.
type Options struct {
	StateRoot        string
	LocalRoot        string
	MirrorRoot       string
	SyncSubdirectory string // default "projects"
	Branch           string
	RemoteURL        string
	PushRemote       bool
	Message          string
	FilterConfig     filter.Config
	MaxMergeEntries  int
	HistoryCap       int
	Logger           *slog.Logger
}

func (o Options) subdir() string {
	if o.SyncSubdirectory == "" {
		return "projects"
	}
	return o.SyncSubdirectory
}

// Engine ties the sync core components together behind the global lock.
type Engine struct {
	opts      Options
	adapter   scm.Adapter
	filter    *filter.Filter
	snapshots *snapshot.Store
	history   *history.Log
	logger    *slog.Logger
}

// New constructs an Engine. adapter is the SCM backend selected by
// state.json's scm_backend field.
func New(adapter scm.Adapter, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f, err := filter.Compile(opts.FilterConfig)
	if err != nil {
		return nil, err
	}
	// A prior invocation may have crashed between an atomic write's temp
	// file and its rename; clean those orphans before this run reads or
	// writes the state directory.
	if err := atomicfile.CleanOrphans(opts.StateRoot); err != nil {
		logger.Warn("failed to clean orphaned temp files", "dir", opts.StateRoot, "err", err)
	}
	return &Engine{
		opts:      opts,
		adapter:   adapter,
		filter:    f,
		snapshots: snapshot.New(filepath.Join(opts.StateRoot, "snapshots"), logger),
		history:   history.New(filepath.Join(opts.StateRoot, "operation-history.json"), opts.HistoryCap, logger),
		logger:    logger,
	}, nil
}

func (e *Engine) lockPath() string { return filepath.Join(e.opts.StateRoot, "sync.lock") }

func (e *Engine) acquireLock() (*synclock.Lock, error) {
	lock, broke, err := synclock.Acquire(e.lockPath())
	if err != nil {
		return nil, err
	}
	if broke {
		e.logger.Warn("broke stale sync lock", "path", e.lockPath())
	}
	return lock, nil
}

// mirrorPath returns the absolute path of a session inside the mirror.
func (e *Engine) mirrorPath(projectKey, sessionID string) string {
	return filepath.Join(e.opts.MirrorRoot, e.opts.subdir(), projectKey, sessionID+".jsonl")
}

// relMirrorPath returns the path relative to MirrorRoot, used for staging
// and snapshot manifests.
func (e *Engine) relMirrorPath(projectKey, sessionID string) string {
	return filepath.Join(e.opts.subdir(), projectKey, sessionID+".jsonl")
}

func (e *Engine) localPath(projectKey, sessionID string) string {
	return filepath.Join(e.opts.LocalRoot, projectKey, sessionID+".jsonl")
}

// Push implements §4.8.1.
func (e *Engine) Push(ctx context.Context) (history.Entry, error) {
	lock, err := e.acquireLock()
	if err != nil {
		return history.Entry{}, err
	}
	defer lock.Release()

	now := time.Now()
	candidates, skipped := discovery.Walk(e.opts.LocalRoot, e.logger)
	for _, s := range skipped {
		e.logger.Warn("push: skipped during discovery", "path", s.Path, "err", s.Err)
	}
	accepted := filter.Apply(e.filter, candidates, now)

	headBefore, err := e.adapter.HeadID(ctx)
	if err != nil {
		return history.Entry{}, corerr.Scm(corerr.Fatal, "cannot read mirror HEAD", err)
	}
	branch, err := e.adapter.CurrentBranch(ctx)
	if err != nil {
		return history.Entry{}, corerr.Scm(corerr.Fatal, "cannot read mirror branch", err)
	}

	type diffResult struct {
		candidate discovery.Candidate
		status    string // "added", "modified", "unchanged"
	}
	results := make([]diffResult, len(accepted))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fingerprintWorkers)
	for i, c := range accepted {
		i, c := i, c
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			localFp, err := session.FingerprintFile(c.Path)
			if err != nil {
				return fmt.Errorf("fingerprint %s: %w", c.Path, err)
			}
			mp := e.mirrorPath(c.ProjectKey, c.SessionID)
			mirrorFp, err := session.FingerprintFile(mp)
			switch {
			case errors.Is(err, os.ErrNotExist):
				results[i] = diffResult{candidate: c, status: "added"}
			case err != nil:
				return fmt.Errorf("fingerprint %s: %w", mp, err)
			case mirrorFp != localFp:
				results[i] = diffResult{candidate: c, status: "modified"}
			default:
				results[i] = diffResult{candidate: c, status: "unchanged"}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return history.Entry{}, corerr.New(corerr.DiscoveryIO, "failed comparing local candidates against mirror", err)
	}

	var dirtyPaths []string
	added, modified, unchanged := 0, 0, 0
	for _, r := range results {
		switch r.status {
		case "added":
			added++
			dirtyPaths = append(dirtyPaths, e.relMirrorPath(r.candidate.ProjectKey, r.candidate.SessionID))
		case "modified":
			modified++
			dirtyPaths = append(dirtyPaths, e.relMirrorPath(r.candidate.ProjectKey, r.candidate.SessionID))
		default:
			unchanged++
		}
	}

	opID := uuid.NewString()
	if _, err := e.snapshots.CreatePush(opID, headBefore, branch, dirtyPaths); err != nil {
		return history.Entry{}, err
	}

	for _, r := range results {
		if r.status == "unchanged" {
			continue
		}
		data, err := os.ReadFile(r.candidate.Path)
		if err != nil {
			return history.Entry{}, corerr.New(corerr.DiscoveryIO, "cannot read "+r.candidate.Path, err)
		}
		if err := session.WriteBytes(e.mirrorPath(r.candidate.ProjectKey, r.candidate.SessionID), data); err != nil {
			return history.Entry{}, err
		}
	}

	if err := e.adapter.StageAll(ctx, e.opts.subdir()); err != nil {
		return history.Entry{}, corerr.Scm(corerr.Fatal, "stage_all failed", err)
	}
	message := e.opts.Message
	if message == "" {
		message = fmt.Sprintf("sync: %d added, %d modified", added, modified)
	}
	_, noChange, err := e.adapter.Commit(ctx, message)
	if err != nil {
		return history.Entry{}, corerr.Scm(corerr.Fatal, "commit failed", err)
	}
	if noChange {
		added, modified = 0, 0
	}

	if e.opts.RemoteURL != "" && e.opts.PushRemote {
		res, err := e.adapter.Push(ctx, branch)
		if err != nil {
			e.logger.Warn("push: scm push failed, commit retained", "err", err)
		} else if res.Status == scm.PushAuthErr {
			e.logger.Warn("push: auth error, commit retained", "detail", res.Detail)
		}
	}

	headAfter, err := e.adapter.HeadID(ctx)
	if err != nil {
		return history.Entry{}, corerr.Scm(corerr.Fatal, "cannot read mirror HEAD after commit", err)
	}

	return e.history.Append(history.Entry{
		Kind:       history.Push,
		Timestamp:  now,
		Branch:     branch,
		HeadBefore: headBefore,
		HeadAfter:  headAfter,
		Counts:     history.Counts{Added: added, Modified: modified, Unchanged: unchanged},
		SnapshotID: opID,
	})
}

// Pull implements §4.8.2.
func (e *Engine) Pull(ctx context.Context) (history.Entry, error) {
	lock, err := e.acquireLock()
	if err != nil {
		return history.Entry{}, err
	}
	defer lock.Release()

	now := time.Now()
	branch, err := e.adapter.CurrentBranch(ctx)
	if err != nil {
		return history.Entry{}, corerr.Scm(corerr.Fatal, "cannot read mirror branch", err)
	}
	if _, err := e.adapter.Fetch(ctx, branch); err != nil {
		var cerr *corerr.Error
		if errors.As(err, &cerr) && (cerr.Class == corerr.Network || cerr.Class == corerr.Auth) {
			return history.Entry{}, err // abort before any local mutation
		}
		return history.Entry{}, err
	}

	mirrorSessions, skipped := discovery.Walk(filepath.Join(e.opts.MirrorRoot, e.opts.subdir()), e.logger)
	for _, s := range skipped {
		e.logger.Warn("pull: skipped enumerating mirror", "path", s.Path, "err", s.Err)
	}
	localSessions, skipped := discovery.Walk(e.opts.LocalRoot, e.logger)
	for _, s := range skipped {
		e.logger.Warn("pull: skipped enumerating local", "path", s.Path, "err", s.Err)
	}

	type key struct{ projectKey, sessionID string }
	localByKey := make(map[key]discovery.Candidate, len(localSessions))
	for _, c := range localSessions {
		localByKey[key{c.ProjectKey, c.SessionID}] = c
	}

	var mirrorOnly, differing []discovery.Candidate
	for _, mc := range mirrorSessions {
		k := key{mc.ProjectKey, mc.SessionID}
		lc, ok := localByKey[k]
		if !ok {
			mirrorOnly = append(mirrorOnly, mc)
			continue
		}
		localFp, err := session.FingerprintFile(lc.Path)
		if err != nil {
			e.logger.Warn("pull: cannot fingerprint local copy, skipping", "path", lc.Path, "err", err)
			continue
		}
		mirrorFp, err := session.FingerprintFile(mc.Path)
		if err != nil {
			e.logger.Warn("pull: cannot fingerprint mirror copy, skipping", "path", mc.Path, "err", err)
			continue
		}
		if localFp != mirrorFp {
			differing = append(differing, mc)
		}
	}

	var touchedRel []string
	for _, c := range mirrorOnly {
		touchedRel = append(touchedRel, filepath.Join(c.ProjectKey, c.SessionID+".jsonl"))
	}
	for _, c := range differing {
		touchedRel = append(touchedRel, filepath.Join(c.ProjectKey, c.SessionID+".jsonl"))
	}

	opID := uuid.NewString()
	if _, err := e.snapshots.CreatePull(opID, e.opts.LocalRoot, touchedRel); err != nil {
		return history.Entry{}, err
	}

	added := 0
	for _, c := range mirrorOnly {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			return history.Entry{}, corerr.New(corerr.DiscoveryIO, "cannot read mirror-only session "+c.Path, err)
		}
		if err := session.WriteBytes(e.localPath(c.ProjectKey, c.SessionID), data); err != nil {
			return history.Entry{}, err
		}
		added++
	}

	resolver := &resolve.Resolver{MaxEntries: e.opts.MaxMergeEntries}
	var resolutions []history.Resolution
	conflicts := 0
	for _, c := range differing {
		localDoc, err := session.Parse(e.localPath(c.ProjectKey, c.SessionID))
		if err != nil {
			e.logger.Warn("pull: cannot parse local session, skipping merge", "session", c.SessionID, "err", err)
			continue
		}
		remoteDoc, err := session.Parse(c.Path)
		if err != nil {
			e.logger.Warn("pull: cannot parse mirror session, skipping merge", "session", c.SessionID, "err", err)
			continue
		}
		rec, err := resolver.Resolve(c.SessionID, e.localPath(c.ProjectKey, c.SessionID), localDoc.Entries, remoteDoc.Entries, "", now)
		if err != nil {
			return history.Entry{}, err
		}
		if rec.Strategy == resolve.KeepBoth {
			conflicts++
		}
		var stats any
		if rec.Stats != nil {
			stats = rec.Stats
		}
		resolutions = append(resolutions, history.Resolution{
			SessionID: rec.SessionID,
			Strategy:  string(rec.Strategy),
			Stats:     stats,
			Hazard:    rec.Hazard,
		})
	}

	if err := e.writeConflictReport(resolutions); err != nil {
		e.logger.Warn("pull: failed to persist conflict report", "err", err)
	}

	return e.history.Append(history.Entry{
		Kind:      history.Pull,
		Timestamp: now,
		Branch:    branch,
		Counts: history.Counts{
			Added:     added,
			Modified:  len(differing) - conflicts,
			Conflicts: conflicts,
			Unchanged: len(mirrorSessions) - len(mirrorOnly) - len(differing),
		},
		Resolutions: resolutions,
		SnapshotID:  opID,
	})
}

// writeConflictReport persists the raw resolution list to
// "<state-root>/latest-conflict-report.json"; the human-readable rendering
// of this data is a collaborator concern (spec.md §6), the core only
// guarantees the JSON is there to render.
func (e *Engine) writeConflictReport(resolutions []history.Resolution) error {
	data, err := json.MarshalIndent(resolutions, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(filepath.Join(e.opts.StateRoot, "latest-conflict-report.json"), data, 0o644)
}

// Undo implements §4.8.3.
func (e *Engine) Undo(ctx context.Context, kind history.Kind) error {
	lock, err := e.acquireLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	switch kind {
	case history.Pull:
		snap, err := e.snapshots.FindPull()
		if err != nil {
			return err
		}
		if snap == nil {
			return corerr.New(corerr.NothingToUndo, "no pull to undo", nil)
		}
		if err := snapshot.RestorePull(e.opts.LocalRoot, snap); err != nil {
			return err
		}
		if err := e.markUndone(snap.OpID); err != nil {
			return err
		}
		return e.snapshots.DeletePull(snap.OpID)

	case history.Push:
		snap, err := e.snapshots.FindPush()
		if err != nil {
			return err
		}
		if snap == nil {
			return corerr.New(corerr.NothingToUndo, "no push to undo", nil)
		}
		if err := e.adapter.ResetHard(ctx, snap.PreviousHead); err != nil {
			return corerr.Scm(corerr.Fatal, "reset_hard failed during undo", err)
		}
		if err := e.markUndone(snap.OpID); err != nil {
			return err
		}
		return e.snapshots.DeletePush(snap.OpID)

	default:
		return fmt.Errorf("syncengine: unknown undo kind %q", kind)
	}
}

func (e *Engine) markUndone(opID string) error {
	entries, err := e.history.All()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.SnapshotID == opID {
			return e.history.MarkUndone(entry.ID)
		}
	}
	return nil // snapshot outlived its history entry (cap rotation); undo still succeeds
}
