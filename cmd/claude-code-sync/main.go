// Binary claude-code-sync drives the sync core's push, pull, and undo
// operations against a state directory prepared by a collaborator setup
// step.
//
// Usage:
//
//	claude-code-sync push  [-message msg] [-remote]
//	claude-code-sync pull
//	claude-code-sync undo  -kind push|pull
//
// Flags:
//
//	-state   path to the state directory (default: ~/.claude-code-sync/)
//
// The local projects root is taken from the CLAUDE_CODE_SYNC_LOCAL_ROOT
// environment variable, defaulting to ~/.claude/projects.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"

	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
	"github.com/perfectra1n/claude-code-sync/pkg/filter"
	"github.com/perfectra1n/claude-code-sync/pkg/history"
	"github.com/perfectra1n/claude-code-sync/pkg/scm"
	"github.com/perfectra1n/claude-code-sync/pkg/scm/gitscm"
	"github.com/perfectra1n/claude-code-sync/pkg/scm/hgscm"
	"github.com/perfectra1n/claude-code-sync/pkg/syncengine"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	stateFlag := flag.NewFlagSet("common", flag.ExitOnError)
	statePath := stateFlag.String("state", defaultStateRoot(), "path to the state directory")

	switch os.Args[1] {
	case "push":
		fs := flag.NewFlagSet("push", flag.ExitOnError)
		message := fs.String("message", "", "commit message (default: auto-generated summary)")
		remote := fs.Bool("remote", false, "push to the configured remote after committing")
		state := fs.String("state", defaultStateRoot(), "path to the state directory")
		fs.Parse(os.Args[2:])
		*statePath = *state
		runPush(*statePath, *message, *remote, logger)

	case "pull":
		fs := flag.NewFlagSet("pull", flag.ExitOnError)
		state := fs.String("state", defaultStateRoot(), "path to the state directory")
		fs.Parse(os.Args[2:])
		*statePath = *state
		runPull(*statePath, logger)

	case "undo":
		fs := flag.NewFlagSet("undo", flag.ExitOnError)
		kind := fs.String("kind", "", "operation kind to undo: push or pull")
		state := fs.String("state", defaultStateRoot(), "path to the state directory")
		fs.Parse(os.Args[2:])
		*statePath = *state
		runUndo(*statePath, *kind, logger)

	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: claude-code-sync <push|pull|undo> [flags]")
}

func defaultStateRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude-code-sync"
	}
	return filepath.Join(home, ".claude-code-sync")
}

// buildEngine loads state.json, constructs the configured SCM backend, and
// wires the Sync Engine. A filter config file at "<state-root>/filter.yaml"
// is loaded when present.
func buildEngine(stateRoot, message string, pushRemote bool, logger *slog.Logger) (*syncengine.Engine, error) {
	st, err := syncengine.LoadState(filepath.Join(stateRoot, "state.json"))
	if err != nil {
		return nil, err
	}

	var adapter scm.Adapter
	switch st.ScmBackend {
	case "", "git":
		adapter = gitscm.New(st.RepoPath, nil, logger)
	case "hg":
		adapter = hgscm.New()
	default:
		return nil, fmt.Errorf("unknown scm_backend %q", st.ScmBackend)
	}

	remoteURL := ""
	if st.RemoteURL != nil {
		remoteURL = *st.RemoteURL
	}
	ctx := context.Background()
	if err := adapter.Init(ctx, st.RepoPath, remoteURL); err != nil {
		return nil, err
	}

	filterCfg, err := loadFilterConfig(filepath.Join(stateRoot, "filter.yaml"))
	if err != nil {
		return nil, err
	}

	localRoot := os.Getenv("CLAUDE_CODE_SYNC_LOCAL_ROOT")
	if localRoot == "" {
		home, _ := os.UserHomeDir()
		localRoot = filepath.Join(home, ".claude", "projects")
	}

	return syncengine.New(adapter, syncengine.Options{
		StateRoot:        stateRoot,
		LocalRoot:        localRoot,
		MirrorRoot:       st.RepoPath,
		SyncSubdirectory: st.SyncSubdirectory,
		Branch:           st.Branch,
		RemoteURL:        remoteURL,
		PushRemote:       pushRemote,
		Message:          message,
		FilterConfig:     filterCfg,
		Logger:           logger,
	})
}

// loadFilterConfig reads an optional YAML filter configuration; a missing
// file yields the zero Config (every session accepted up to the default
// size cap).
func loadFilterConfig(path string) (filter.Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return filter.Config{}, nil
	}
	if err != nil {
		return filter.Config{}, err
	}
	return filter.DecodeYAML(data)
}

func runPush(stateRoot, message string, pushRemote bool, logger *slog.Logger) {
	eng, err := buildEngine(stateRoot, message, pushRemote, logger)
	if err != nil {
		fatalf(err)
	}
	entry, err := eng.Push(context.Background())
	if err != nil {
		fatalf(err)
	}
	fmt.Printf("push: added=%d modified=%d unchanged=%d head=%s\n",
		entry.Counts.Added, entry.Counts.Modified, entry.Counts.Unchanged, entry.HeadAfter)
}

func runPull(stateRoot string, logger *slog.Logger) {
	eng, err := buildEngine(stateRoot, "", false, logger)
	if err != nil {
		fatalf(err)
	}
	entry, err := eng.Pull(context.Background())
	if err != nil {
		fatalf(err)
	}
	fmt.Printf("pull: added=%d modified=%d conflicts=%d unchanged=%d\n",
		entry.Counts.Added, entry.Counts.Modified, entry.Counts.Conflicts, entry.Counts.Unchanged)
}

func runUndo(stateRoot, kind string, logger *slog.Logger) {
	if kind != "push" && kind != "pull" {
		fatalf(fmt.Errorf("undo: -kind must be \"push\" or \"pull\""))
	}
	eng, err := buildEngine(stateRoot, "", false, logger)
	if err != nil {
		fatalf(err)
	}
	if err := eng.Undo(context.Background(), history.Kind(kind)); err != nil {
		fatalf(err)
	}
	fmt.Printf("undo %s: done\n", kind)
}

func fatalf(err error) {
	if k, ok := corerr.KindOf(err); ok {
		fmt.Fprintf(os.Stderr, "fatal: [%s] %v\n", k, err)
	} else {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
	}
	os.Exit(1)
}
