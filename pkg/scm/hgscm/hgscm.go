// Package hgscm is a documented stub for a Mercurial scm.Adapter. No
// Mercurial Go library appears anywhere in the retrieval pack this module
// was grounded on, and fabricating a client library behind a replace
// directive would violate the "never fabricate dependencies" rule; state.json
// still names "hg" as a legal scm_backend value (spec.md §6), so a future
// implementation has a slot, but every call here fails fast with a single,
// clearly-labeled error instead of silently behaving like a no-op backend.
package hgscm

import (
	"context"

	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
	"github.com/perfectra1n/claude-code-sync/pkg/scm"
)

// SCM is an unimplemented Mercurial backend.
type SCM struct{}

// New returns a stub Mercurial scm.Adapter. Every method returns a
// ScmError(Fatal).
func New() *SCM { return &SCM{} }

var _ scm.Adapter = (*SCM)(nil)

var errUnimplemented = corerr.Scm(corerr.Fatal, "hg backend not implemented; use scm_backend: git", nil)

func (s *SCM) Init(ctx context.Context, path string, remoteURL string) error { return errUnimplemented }
func (s *SCM) StageAll(ctx context.Context, subdirectory string) error       { return errUnimplemented }
func (s *SCM) Commit(ctx context.Context, message string) (string, bool, error) {
	return "", false, errUnimplemented
}
func (s *SCM) Fetch(ctx context.Context, branch string) (bool, error) { return false, errUnimplemented }
func (s *SCM) Push(ctx context.Context, branch string) (scm.PushResult, error) {
	return scm.PushResult{}, errUnimplemented
}
func (s *SCM) ResetHard(ctx context.Context, commitID string) error { return errUnimplemented }
func (s *SCM) CurrentBranch(ctx context.Context) (string, error)   { return "", errUnimplemented }
func (s *SCM) HeadID(ctx context.Context) (string, error)          { return "", errUnimplemented }
