// Package session implements the Parser component: it reads a JSONL
// session file into an ordered sequence of Entry values, computes a
// content fingerprint, and exposes the per-entry identity fields the
// Merge Engine and Conflict Resolver key off of.
//
// A session file is one conversation: each non-empty line is a JSON
// object. The fields the core reads are uuid, parentUuid, sessionId,
// timestamp, and type; every other key is preserved verbatim in Raw and
// never rewritten.
package session

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Entry is one line of a session file. Raw holds the exact original bytes
// of the line (without the trailing newline) so that unmodified entries
// round-trip byte-for-byte. The identity fields below are decoded once at
// parse time for convenience; mutating them does not change Raw — callers
// that build a new or edited Entry must re-marshal into Raw themselves (see
// NewEntry).
type Entry struct {
	Raw json.RawMessage

	UUID       string // "uuid", optional
	ParentUUID string // "parentUuid", optional
	SessionID  string // "sessionId", optional
	Timestamp  string // "timestamp", RFC-3339 text, optional
	Type       string // "type"

	HasUUID      bool
	HasTimestamp bool
}

type identityFields struct {
	UUID       string `json:"uuid,omitempty"`
	ParentUUID string `json:"parentUuid,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Type       string `json:"type,omitempty"`
}

// decodeEntry builds an Entry from one raw JSON line, peeking the identity
// fields without discarding the rest of the object.
func decodeEntry(raw json.RawMessage) (Entry, error) {
	var f identityFields
	if err := json.Unmarshal(raw, &f); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return Entry{
		Raw:          raw,
		UUID:         f.UUID,
		ParentUUID:   f.ParentUUID,
		SessionID:    f.SessionID,
		Timestamp:    f.Timestamp,
		Type:         f.Type,
		HasUUID:      f.UUID != "",
		HasTimestamp: f.Timestamp != "",
	}, nil
}

// NewEntry constructs an Entry from a decoded value, marshaling it into
// Raw. The Merge Engine does not use it: it never synthesizes or rewrites
// the entries it passes through.
func NewEntry(v any) (Entry, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal entry: %w", err)
	}
	return decodeEntry(raw)
}

// FallbackKey is the composite identity used for entries without a uuid:
// (type, timestamp, hash(raw-json)).
type FallbackKey struct {
	Type      string
	Timestamp string
	RawHash   [32]byte
}

// Key returns the entry's identity: its uuid when present, or its
// FallbackKey otherwise. hasUUID reports which form was returned.
func (e Entry) Key() (uuid string, fallback FallbackKey, hasUUID bool) {
	if e.HasUUID {
		return e.UUID, FallbackKey{}, true
	}
	return "", FallbackKey{
		Type:      e.Type,
		Timestamp: e.Timestamp,
		RawHash:   sha256.Sum256(e.Raw),
	}, false
}
