package session

import (
	"bytes"
	"fmt"

	"github.com/perfectra1n/claude-code-sync/internal/atomicfile"
)

// Write serializes entries in order, one per line with \n terminators, and
// atomically replaces path (write to temp sibling, fsync, rename). This is
// the only way the core ever mutates a session file, so a crash mid-write
// never leaves a partial file behind.
func Write(path string, entries []Entry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.Write(e.Raw)
		buf.WriteByte('\n')
	}
	if err := atomicfile.Write(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("session: write %s: %w", path, err)
	}
	return nil
}

// WriteBytes atomically replaces path with raw file content, used when the
// caller already has the exact bytes to write (e.g. restoring a snapshot
// body or copying a mirror file verbatim into the local tree).
func WriteBytes(path string, data []byte) error {
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return fmt.Errorf("session: write %s: %w", path, err)
	}
	return nil
}
