// Package resolve implements the Conflict Resolver: given a session whose
// local and mirror copies have diverged, it chooses and applies one of
// four strategies and produces a resolution record.
package resolve

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
	"github.com/perfectra1n/claude-code-sync/pkg/merge"
	"github.com/perfectra1n/claude-code-sync/pkg/session"
)

// Strategy names one of the four resolution strategies, in their declared
// precedence order.
type Strategy string

const (
	SmartMerge Strategy = "smart-merge"
	KeepLocal  Strategy = "keep-local"
	KeepRemote Strategy = "keep-remote"
	KeepBoth   Strategy = "keep-both"
)

// Stats mirrors merge.Stats for a successful smart-merge resolution.
type Stats struct {
	LocalEntries  int `json:"local_entries"`
	RemoteEntries int `json:"remote_entries"`
	TotalEntries  int `json:"total_entries"`
	BranchCount   int `json:"branch_count"`
}

// Record is the outcome of resolving one session, persisted verbatim as
// part of the latest conflict report.
type Record struct {
	SessionID string `json:"session_id"`
	Strategy  Strategy `json:"strategy"`
	Stats     *Stats `json:"stats,omitempty"`
	Hazard    string `json:"hazard,omitempty"`
}

// Resolver applies resolution strategies to one session at a time.
type Resolver struct {
	MaxEntries int // forwarded to merge.Options; 0 uses merge.DefaultMaxEntries
}

// Resolve applies strategy (SmartMerge if empty, the non-interactive
// default) to the session identified by sessionID, whose local copy lives
// at localPath. opStart names the operation's start time, used for the
// conflict-sibling timestamp.
//
// Non-interactive smart-merge that hits a hazard degrades to keep-both
// rather than aborting the pull — this resolver never returns an error for
// a hazard, only for an I/O failure while applying the chosen strategy.
func (r *Resolver) Resolve(sessionID, localPath string, local, remote []session.Entry, strategy Strategy, opStart time.Time) (Record, error) {
	if strategy == "" {
		strategy = SmartMerge
	}

	switch strategy {
	case SmartMerge:
		merged, stats, err := merge.Merge(sessionID, local, remote, merge.Options{MaxEntries: r.MaxEntries})
		if err != nil {
			hazard := hazardKind(err)
			if hazard == "" {
				return Record{}, err // not a hazard; a genuine bug or I/O problem upstream
			}
			if werr := writeConflictSibling(localPath, sessionID, remote, opStart); werr != nil {
				return Record{}, werr
			}
			return Record{SessionID: sessionID, Strategy: KeepBoth, Hazard: hazard}, nil
		}
		if err := session.Write(localPath, merged); err != nil {
			return Record{}, err
		}
		return Record{
			SessionID: sessionID,
			Strategy:  SmartMerge,
			Stats: &Stats{
				LocalEntries:  stats.LocalEntries,
				RemoteEntries: stats.RemoteEntries,
				TotalEntries:  stats.TotalEntries,
				BranchCount:   stats.BranchCount,
			},
		}, nil

	case KeepLocal:
		return Record{SessionID: sessionID, Strategy: KeepLocal}, nil

	case KeepRemote:
		if err := session.Write(localPath, remote); err != nil {
			return Record{}, err
		}
		return Record{SessionID: sessionID, Strategy: KeepRemote}, nil

	case KeepBoth:
		if err := writeConflictSibling(localPath, sessionID, remote, opStart); err != nil {
			return Record{}, err
		}
		return Record{SessionID: sessionID, Strategy: KeepBoth}, nil

	default:
		return Record{}, fmt.Errorf("resolve: unknown strategy %q", strategy)
	}
}

// writeConflictSibling writes remote's entries to
// "<dir>/<session-id>-conflict-<YYYYMMDD-HHMMSS>.jsonl", ts being opStart
// in UTC, leaving localPath untouched.
func writeConflictSibling(localPath, sessionID string, remote []session.Entry, opStart time.Time) error {
	dir := filepath.Dir(localPath)
	ts := opStart.UTC().Format("20060102-150405")
	name := sessionID + "-conflict-" + ts + ".jsonl"
	return session.Write(filepath.Join(dir, name), remote)
}

// hazardKind returns the MergeHazard kind carried by err, or "" if err is
// not a merge hazard.
func hazardKind(err error) string {
	var e *corerr.Error
	if !errors.As(err, &e) {
		return ""
	}
	if e.Kind != corerr.MergeHazard {
		return ""
	}
	return string(e.Hazard)
}
