// Package history implements the Operation History: an append-only,
// bounded log of recent push/pull operations, persisted at
// "<state-root>/operation-history.json" so that undo can locate and mark
// the entry it consumes.
package history

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/perfectra1n/claude-code-sync/internal/atomicfile"
	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
)

// DefaultCap is the number of entries retained; the oldest beyond this are
// discarded on append.
const DefaultCap = 5

// Kind distinguishes push and pull history entries.
type Kind string

const (
	Push Kind = "push"
	Pull Kind = "pull"
)

// Counts summarizes the session-level outcome of one operation.
type Counts struct {
	Added     int `json:"added"`
	Modified  int `json:"modified"`
	Conflicts int `json:"conflicts"`
	Unchanged int `json:"unchanged"`
}

// Resolution is the per-session outcome recorded by the Conflict Resolver.
type Resolution struct {
	SessionID string `json:"session_id"`
	Strategy  string `json:"strategy"`
	Stats     any    `json:"stats,omitempty"`
	Hazard    string `json:"hazard,omitempty"`
}

// Entry is one operation history record.
type Entry struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	Timestamp   time.Time    `json:"ts"`
	Branch      string       `json:"branch"`
	HeadBefore  string       `json:"head_before,omitempty"`
	HeadAfter   string       `json:"head_after,omitempty"`
	Counts      Counts       `json:"counts"`
	Resolutions []Resolution `json:"resolutions,omitempty"`
	SnapshotID  string       `json:"snapshot_id,omitempty"`
	Undone      bool         `json:"undone"`
}

// Log owns "<state-root>/operation-history.json".
type Log struct {
	path   string
	cap    int
	logger *slog.Logger
}

// New returns a Log backed by path, with a retention cap (0 uses DefaultCap).
func New(path string, cap int, logger *slog.Logger) *Log {
	if cap <= 0 {
		cap = DefaultCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{path: path, cap: cap, logger: logger}
}

// Append adds e to the front of the log (most-recent-first), assigning an
// ID if e.ID is empty, then trims to the retention cap and writes
// atomically.
func (l *Log) Append(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	entries, err := l.load()
	if err != nil {
		return Entry{}, err
	}
	entries = append([]Entry{e}, entries...)
	if len(entries) > l.cap {
		entries = entries[:l.cap]
	}
	if err := l.save(entries); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// MarkUndone sets Undone=true on the entry with id and persists it.
func (l *Log) MarkUndone(id string) error {
	entries, err := l.load()
	if err != nil {
		return err
	}
	found := false
	for i := range entries {
		if entries[i].ID == id {
			entries[i].Undone = true
			found = true
			break
		}
	}
	if !found {
		return corerr.New(corerr.CorruptState, "history entry "+id+" not found", nil)
	}
	return l.save(entries)
}

// Latest returns the most recent entry of kind, or nil if none exists.
func (l *Log) Latest(kind Kind) (*Entry, error) {
	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Kind == kind {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// All returns every entry, most-recent-first.
func (l *Log) All() ([]Entry, error) { return l.load() }

// load reads the history file. A missing file is an empty log; an
// unparsable file is treated as empty with a logged warning, per the
// corruption-tolerance rule — the core always prefers to keep operating
// over surfacing a history read failure.
func (l *Log) load() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, corerr.New(corerr.SnapshotIO, "cannot read operation history", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		l.logger.Warn("operation history corrupt, treating as empty", "path", l.path, "error", err)
		return nil, nil
	}
	return entries, nil
}

func (l *Log) save(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return corerr.New(corerr.SnapshotIO, "cannot marshal operation history", err)
	}
	if err := atomicfile.Write(l.path, data, 0o644); err != nil {
		return corerr.New(corerr.SnapshotIO, "cannot write operation history", err)
	}
	return nil
}
