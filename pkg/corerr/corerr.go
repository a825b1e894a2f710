// Package corerr defines the typed error kinds the sync core distinguishes,
// per the error handling design: NotInitialized, LockHeld, DiscoveryIO,
// ParseError, FilterRejected, ScmError, MergeHazard, SnapshotIO,
// NothingToUndo, CorruptState.
//
// Callers should use errors.As to recover a *Error and inspect its Kind
// rather than comparing error strings.
package corerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the core distinguishes.
type Kind string

const (
	NotInitialized Kind = "not_initialized"
	LockHeld       Kind = "lock_held"
	DiscoveryIO    Kind = "discovery_io"
	ParseError     Kind = "parse_error"
	FilterRejected Kind = "filter_rejected" // informational, not fatal
	ScmError       Kind = "scm_error"
	MergeHazard    Kind = "merge_hazard"
	SnapshotIO     Kind = "snapshot_io"
	NothingToUndo  Kind = "nothing_to_undo"
	CorruptState   Kind = "corrupt_state"
)

// ScmClass further classifies a ScmError per the SCM Adapter contract.
type ScmClass string

const (
	Network  ScmClass = "network"
	Auth     ScmClass = "auth"
	Conflict ScmClass = "conflict"
	State    ScmClass = "state"
	Fatal    ScmClass = "fatal"
)

// HazardKind names a Merge Engine abort reason.
type HazardKind string

const (
	CircularReference HazardKind = "circular_reference"
	ConflictingParent  HazardKind = "conflicting_parent"
	SizeExceeded       HazardKind = "size_exceeded"
)

// Error is the core's error type. It always carries a Kind and a one-line
// actionable Hint; Path/Session/Line are populated when relevant to the
// kind. Err, when set, is the underlying cause and is exposed via Unwrap.
type Error struct {
	Kind    Kind
	Path    string
	Session string
	Line    int // 1-based, for ParseError
	Class   ScmClass
	Hazard  HazardKind
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Session != "" {
		msg += " session=" + e.Session
	}
	if e.Path != "" {
		msg += " path=" + e.Path
	}
	if e.Line > 0 {
		msg += fmt.Sprintf(" line=%d", e.Line)
	}
	if e.Class != "" {
		msg += " class=" + string(e.Class)
	}
	if e.Hazard != "" {
		msg += " hazard=" + string(e.Hazard)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match by Kind: it reports true when target is a *Error
// whose Kind is empty or equal to e.Kind, so
// errors.Is(err, &corerr.Error{Kind: corerr.NothingToUndo}) works. A bare
// Kind is not an error and cannot be used as the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	return true
}

// New constructs an *Error of the given kind wrapping err, with a hint.
func New(kind Kind, hint string, err error) *Error {
	return &Error{Kind: kind, Hint: hint, Err: err}
}

// WithPath returns a copy of e with Path set.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// WithSession returns a copy of e with Session set.
func (e *Error) WithSession(session string) *Error {
	c := *e
	c.Session = session
	return &c
}

// WithLine returns a copy of e with Line set.
func (e *Error) WithLine(line int) *Error {
	c := *e
	c.Line = line
	return &c
}

// Parse builds a ParseError naming the file and 1-based line number.
func Parse(path string, line int, err error) *Error {
	return &Error{
		Kind: ParseError,
		Path: path,
		Line: line,
		Hint: "fix or remove the malformed JSONL line",
		Err:  err,
	}
}

// Scm builds a ScmError of the given class.
func Scm(class ScmClass, hint string, err error) *Error {
	return &Error{Kind: ScmError, Class: class, Hint: hint, Err: err}
}

// HazardErr builds a MergeHazard error for the given session.
func HazardErr(kind HazardKind, session string) *Error {
	return &Error{
		Kind:    MergeHazard,
		Hazard:  kind,
		Session: session,
		Hint:    "fell back to keep-both; inspect the conflict file",
	}
}

// KindOf reports the Kind of err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsHazard reports whether err is a MergeHazard of the given kind.
func IsHazard(err error, kind HazardKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == MergeHazard && e.Hazard == kind
	}
	return false
}
