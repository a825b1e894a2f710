// Package scm defines the backend-agnostic SCM Adapter the Sync Engine
// depends on: init, stage_all, commit, fetch, push, reset_hard,
// current_branch, head_id. Concrete backends (gitscm, hgscm) implement
// Adapter; tests use scmtest's in-memory fake.
package scm

import "context"

// PushStatus is the outcome of a Push call.
type PushStatus string

const (
	PushOk       PushStatus = "ok"
	PushUpToDate PushStatus = "up_to_date"
	PushAuthErr  PushStatus = "auth_error"
)

// PushResult is the result of Adapter.Push.
type PushResult struct {
	Status PushStatus
	Detail string // populated for PushAuthErr
}

// Adapter abstracts the source-control backend. All operations may block on
// network I/O (fetch/push) or local filesystem I/O; none are expected to
// run concurrently with each other since the Sync Engine serializes all
// mutation through one operation at a time.
type Adapter interface {
	// Init creates or validates the working tree at path. If remoteURL is
	// non-empty and path is missing or empty, Init clones remoteURL into
	// path; a non-empty path without a repository is initialized in place
	// with remoteURL registered as its remote instead.
	Init(ctx context.Context, path string, remoteURL string) error

	// StageAll adds all tracked and untracked changes under subdirectory.
	StageAll(ctx context.Context, subdirectory string) error

	// Commit creates a commit iff the staged set is non-empty. noChange is
	// true, with an empty commitID, when there was nothing to commit.
	Commit(ctx context.Context, message string) (commitID string, noChange bool, err error)

	// Fetch advances the remote-tracking ref for branch and reports whether
	// the local branch is now behind it.
	Fetch(ctx context.Context, branch string) (changed bool, err error)

	// Push publishes the local branch to the configured remote.
	Push(ctx context.Context, branch string) (PushResult, error)

	// ResetHard moves the current branch pointer and working tree to
	// commitID, discarding any uncommitted changes.
	ResetHard(ctx context.Context, commitID string) error

	CurrentBranch(ctx context.Context) (string, error)
	HeadID(ctx context.Context) (string, error)
}
