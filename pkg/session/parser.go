package session

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxLineBytes bounds a single JSONL line; bufio.Scanner's default token
// size is 64KiB which real assistant transcripts can exceed (large tool
// outputs embedded in one entry).
const maxLineBytes = 64 * 1024 * 1024

// Document is the parsed form of one session file.
type Document struct {
	Path        string
	Entries     []Entry
	SessionIDs  map[string]struct{} // unique sessionId values seen across entries
	Earliest    time.Time           // zero if no entry carried a timestamp
	Latest      time.Time
	ByteLength  int64
	Fingerprint [32]byte
}

// SessionID returns the session identity per spec: the first entry that
// carries a sessionId, or the file basename (without extension) if none
// does.
func (d *Document) SessionID() string {
	for _, e := range d.Entries {
		if e.SessionID != "" {
			return e.SessionID
		}
	}
	base := filepath.Base(d.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Parse reads path line by line into a Document. Each non-empty line must
// be a JSON object; a malformed line returns a *corerr.Error naming path
// and the 1-based line number, and parsing stops there (the caller skips
// the whole session, per the propagation policy in spec.md §7).
//
// A file that carries more than one distinct sessionId across its entries
// is treated as malformed (open question in spec.md §9, resolved here):
// the source behavior for that case is ambiguous, so the core refuses to
// guess which sessionId is authoritative.
func Parse(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("session: stat %s: %w", path, err)
	}

	doc := &Document{
		Path:       path,
		SessionIDs: make(map[string]struct{}),
		ByteLength: stat.Size(),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	var fileBuf bytes.Buffer
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		fileBuf.Write(line)
		fileBuf.WriteByte('\n')

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if !looksLikeObject(line) {
			return nil, parseErr(path, lineNo, fmt.Errorf("line is not a JSON object"))
		}
		raw := append([]byte(nil), line...)
		entry, err := decodeEntry(raw)
		if err != nil {
			return nil, parseErr(path, lineNo, err)
		}

		if entry.SessionID != "" {
			doc.SessionIDs[entry.SessionID] = struct{}{}
		}
		if entry.HasTimestamp {
			if t, err := time.Parse(time.RFC3339, entry.Timestamp); err == nil {
				if doc.Earliest.IsZero() || t.Before(doc.Earliest) {
					doc.Earliest = t
				}
				if doc.Latest.IsZero() || t.After(doc.Latest) {
					doc.Latest = t
				}
			}
		}
		doc.Entries = append(doc.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: scan %s: %w", path, err)
	}
	if len(doc.SessionIDs) > 1 {
		return nil, parseErr(path, 0, fmt.Errorf("multiple distinct sessionId values in one file"))
	}

	doc.Fingerprint = Fingerprint(fileBuf.Bytes())
	return doc, nil
}

func looksLikeObject(line []byte) bool {
	t := bytes.TrimSpace(line)
	return len(t) > 0 && t[0] == '{'
}

// Fingerprint computes the 256-bit content digest of a session file's raw
// bytes, normalizing trailing whitespace to a single terminal newline so
// that two byte-streams differing only in trailing blank lines still
// compare equal.
func Fingerprint(data []byte) [32]byte {
	normalized := append(bytes.TrimRight(data, " \t\r\n"), '\n')
	return sha256.Sum256(normalized)
}

// FingerprintFile reads path and returns its content fingerprint without
// building a full Document — used by the Sync Engine to compare a
// candidate against its mirror copy cheaply.
func FingerprintFile(path string) ([32]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("session: read %s: %w", path, err)
	}
	return Fingerprint(data), nil
}
