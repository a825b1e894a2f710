// Package gitscm implements scm.Adapter on top of go-git/go-git/v5, giving
// the Sync Engine a pure-Go git backend (no shelling out to the git
// binary) whose errors classify cleanly into the Network/Auth/Conflict/
// State/Fatal taxonomy the SCM Adapter contract requires.
package gitscm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
	"github.com/perfectra1n/claude-code-sync/pkg/scm"
)

const remoteName = "origin"

// SCM is a git-backed scm.Adapter for one working tree.
type SCM struct {
	mu     sync.Mutex
	path   string
	repo   *git.Repository
	auth   transport.AuthMethod // nil uses the environment (e.g. ssh-agent)
	author object.Signature
	logger *slog.Logger
}

// New returns a git SCM.Adapter rooted at path. auth may be nil; the
// caller (a collaborator per spec.md §6) is responsible for supplying
// credentials when the remote requires them.
func New(path string, auth transport.AuthMethod, logger *slog.Logger) *SCM {
	if logger == nil {
		logger = slog.Default()
	}
	return &SCM{
		path:   path,
		auth:   auth,
		logger: logger,
		author: object.Signature{
			Name:  "claude-code-sync",
			Email: "sync@localhost",
		},
	}
}

var _ scm.Adapter = (*SCM)(nil)

func (s *SCM) Init(ctx context.Context, path string, remoteURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path

	if repo, err := git.PlainOpen(path); err == nil {
		s.repo = repo
		return nil
	}

	if remoteURL != "" {
		empty, err := dirIsEmpty(path)
		if err != nil {
			return corerr.Scm(corerr.Fatal, "cannot inspect mirror path", err)
		}
		if empty {
			repo, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
				URL:  remoteURL,
				Auth: s.auth,
			})
			if err != nil {
				return classifyErr(err, "clone "+remoteURL)
			}
			s.repo = repo
			return nil
		}
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return corerr.Scm(corerr.Fatal, "cannot create mirror directory", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return corerr.Scm(corerr.Fatal, "git init failed", err)
	}
	if remoteURL != "" {
		if _, err := repo.CreateRemote(&config.RemoteConfig{
			Name: remoteName,
			URLs: []string{remoteURL},
		}); err != nil {
			return corerr.Scm(corerr.State, "failed to register remote", err)
		}
	}
	s.repo = repo
	return nil
}

func (s *SCM) StageAll(ctx context.Context, subdirectory string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRepo(); err != nil {
		return err
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		return corerr.Scm(corerr.Fatal, "cannot open worktree", err)
	}

	pattern := "*"
	if subdirectory != "" && subdirectory != "." {
		pattern = filepath.ToSlash(filepath.Join(subdirectory, "**", "*"))
	}
	if err := wt.AddGlob(pattern); err != nil && !errors.Is(err, git.ErrGlobNoMatches) {
		return corerr.Scm(corerr.Fatal, "git add failed", err)
	}
	return nil
}

func (s *SCM) Commit(ctx context.Context, message string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRepo(); err != nil {
		return "", false, err
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		return "", false, corerr.Scm(corerr.Fatal, "cannot open worktree", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", false, corerr.Scm(corerr.Fatal, "git status failed", err)
	}
	if status.IsClean() {
		return "", true, nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.author.Name,
			Email: s.author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", false, corerr.Scm(corerr.Fatal, "git commit failed", err)
	}
	return hash.String(), false, nil
}

func (s *SCM) Fetch(ctx context.Context, branch string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRepo(); err != nil {
		return false, err
	}

	before, _ := s.remoteRefHash(branch)

	err := s.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		Auth:       s.auth,
	})
	if err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return false, nil
		}
		return false, classifyErr(err, "fetch "+branch)
	}

	after, err := s.remoteRefHash(branch)
	if err != nil {
		return false, nil
	}
	changed := before != after
	if changed {
		// The mirror is a fast-forward-only working copy: this host never
		// commits to it between syncs, so a plain fetch is always followed
		// by a fast-forward of the working tree to the new remote tip
		// (fetch+reset, the same shape as the other_examples reference
		// claude-git-sync script's fetch-then-reset-hard sequence).
		wt, err := s.repo.Worktree()
		if err != nil {
			return true, corerr.Scm(corerr.Fatal, "cannot open worktree", err)
		}
		if err := wt.Reset(&git.ResetOptions{Commit: after, Mode: git.HardReset}); err != nil {
			return true, corerr.Scm(corerr.State, "fast-forward reset failed", err)
		}
		if err := s.repo.Storer.SetReference(plumbing.NewHashReference(
			plumbing.NewBranchReferenceName(branch), after,
		)); err != nil {
			return true, corerr.Scm(corerr.State, "failed to move local branch ref", err)
		}
	}
	return changed, nil
}

func (s *SCM) Push(ctx context.Context, branch string) (scm.PushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRepo(); err != nil {
		return scm.PushResult{}, err
	}

	refSpec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       s.auth,
	})
	if err == nil {
		return scm.PushResult{Status: scm.PushOk}, nil
	}
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return scm.PushResult{Status: scm.PushUpToDate}, nil
	}
	if isAuthErr(err) {
		return scm.PushResult{Status: scm.PushAuthErr, Detail: err.Error()}, nil
	}
	return scm.PushResult{}, classifyErr(err, "push "+branch)
}

func (s *SCM) ResetHard(ctx context.Context, commitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRepo(); err != nil {
		return err
	}
	wt, err := s.repo.Worktree()
	if err != nil {
		return corerr.Scm(corerr.Fatal, "cannot open worktree", err)
	}
	if err := wt.Reset(&git.ResetOptions{
		Commit: plumbing.NewHash(commitID),
		Mode:   git.HardReset,
	}); err != nil {
		return corerr.Scm(corerr.State, "git reset --hard failed", err)
	}
	return nil
}

func (s *SCM) CurrentBranch(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRepo(); err != nil {
		return "", err
	}
	head, err := s.repo.Head()
	if err != nil {
		return "", corerr.Scm(corerr.State, "cannot resolve HEAD", err)
	}
	return head.Name().Short(), nil
}

func (s *SCM) HeadID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRepo(); err != nil {
		return "", err
	}
	head, err := s.repo.Head()
	if err != nil {
		return "", corerr.Scm(corerr.State, "cannot resolve HEAD", err)
	}
	return head.Hash().String(), nil
}

func (s *SCM) requireRepo() error {
	if s.repo == nil {
		return corerr.New(corerr.NotInitialized, "call Init before any other SCM operation", nil)
	}
	return nil
}

func (s *SCM) remoteRefHash(branch string) (plumbing.Hash, error) {
	ref, err := s.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return ref.Hash(), nil
}

func dirIsEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

func isAuthErr(err error) bool {
	return errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) ||
		errors.Is(err, transport.ErrInvalidAuthMethod)
}

func classifyErr(err error, hint string) error {
	if err == nil {
		return nil
	}
	switch {
	case isAuthErr(err):
		return corerr.Scm(corerr.Auth, hint, err)
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return corerr.Scm(corerr.State, hint, err)
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return corerr.Scm(corerr.Conflict, hint, err)
	default:
		return corerr.Scm(corerr.Network, hint, err)
	}
}
