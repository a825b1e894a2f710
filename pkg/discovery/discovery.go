// Package discovery walks the local projects root and yields candidate
// sessions without reading their bodies (except, for a non-UUID basename,
// peeking the first entry's sessionId). Discovery is single-pass: symlinked
// project directories and symlinked session files are followed once, and
// cycles are rejected by tracking the (device, inode) pairs already
// visited. Symlinked directories below a project directory are not
// descended into.
package discovery

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"
)

// Candidate is one discovered session file, built without reading its body
// (aside from the sessionId peek below).
type Candidate struct {
	ProjectKey string
	SessionID  string
	Path       string
	Size       int64
	ModTime    time.Time
}

var uuidRE = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Walk enumerates every "<projectsRoot>/<project-key>/<session-id>.jsonl"
// file under projectsRoot. I/O errors on a single file are logged and
// skipped rather than aborting the walk, per the core's propagation
// policy; the returned skipped slice records what was skipped and why.
func Walk(projectsRoot string, logger *slog.Logger) (candidates []Candidate, skipped []SkipReason) {
	if logger == nil {
		logger = slog.Default()
	}
	visited := make(map[inodeKey]struct{})

	projectDirs, err := os.ReadDir(projectsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		logger.Warn("discovery: read projects root failed", "path", projectsRoot, "err", err)
		return nil, []SkipReason{{Path: projectsRoot, Err: err}}
	}

	for _, pd := range projectDirs {
		projectKey := pd.Name()
		projectPath := filepath.Join(projectsRoot, projectKey)
		info, err := resolveInfo(projectPath)
		if err != nil {
			logger.Warn("discovery: stat project dir failed", "path", projectPath, "err", err)
			skipped = append(skipped, SkipReason{Path: projectPath, Err: err})
			continue
		}
		if !info.IsDir() {
			continue
		}
		if !markVisited(visited, info) {
			logger.Warn("discovery: cycle rejected", "path", projectPath)
			continue
		}
		// filepath.WalkDir does not descend into a symlinked root, so a
		// symlinked project directory is walked through its resolved path.
		walkRoot := projectPath
		if pd.Type()&fs.ModeSymlink != 0 {
			if walkRoot, err = filepath.EvalSymlinks(projectPath); err != nil {
				logger.Warn("discovery: unresolved symlink", "path", projectPath, "err", err)
				skipped = append(skipped, SkipReason{Path: projectPath, Err: err})
				continue
			}
		}

		walkErr := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warn("discovery: walk error", "path", path, "err", err)
				skipped = append(skipped, SkipReason{Path: path, Err: err})
				return nil // skip this entry, keep walking
			}
			if d.IsDir() {
				if path == walkRoot {
					return nil
				}
				info, statErr := resolveInfo(path)
				if statErr != nil {
					logger.Warn("discovery: stat dir failed", "path", path, "err", statErr)
					return fs.SkipDir
				}
				if !markVisited(visited, info) {
					logger.Warn("discovery: cycle rejected", "path", path)
					return fs.SkipDir
				}
				return nil
			}
			if d.Type()&fs.ModeSymlink != 0 {
				target, err := filepath.EvalSymlinks(path)
				if err != nil {
					logger.Warn("discovery: unresolved symlink", "path", path, "err", err)
					skipped = append(skipped, SkipReason{Path: path, Err: err})
					return nil
				}
				info, err := os.Stat(target)
				if err != nil {
					skipped = append(skipped, SkipReason{Path: path, Err: err})
					return nil
				}
				if !markVisited(visited, info) {
					return nil
				}
			}
			if !strings.HasSuffix(d.Name(), ".jsonl") {
				return nil
			}

			c, err := buildCandidate(projectKey, path)
			if err != nil {
				logger.Warn("discovery: skip file", "path", path, "err", err)
				skipped = append(skipped, SkipReason{Path: path, Err: err})
				return nil
			}
			candidates = append(candidates, c)
			return nil
		})
		if walkErr != nil {
			logger.Warn("discovery: walk aborted for project", "project", projectKey, "err", walkErr)
			skipped = append(skipped, SkipReason{Path: projectPath, Err: walkErr})
		}
	}
	return candidates, skipped
}

// SkipReason records a file or directory Discovery could not enumerate.
type SkipReason struct {
	Path string
	Err  error
}

func buildCandidate(projectKey, path string) (Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("stat %s: %w", path, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	sessionID := base
	if !uuidRE.MatchString(base) {
		id, err := peekFirstSessionID(path)
		if err == nil && id != "" {
			sessionID = id
		}
	}

	return Candidate{
		ProjectKey: projectKey,
		SessionID:  sessionID,
		Path:       path,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
	}, nil
}

// peekFirstSessionID scans lines until it finds one carrying a sessionId,
// without parsing the rest of the file.
func peekFirstSessionID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var probe struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			continue
		}
		if probe.SessionID != "" {
			return probe.SessionID, nil
		}
	}
	return "", scanner.Err()
}

type inodeKey struct {
	dev, ino uint64
}

func resolveInfo(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// markVisited records (device, inode) for info and reports whether this is
// the first time it has been seen (false means a cycle was detected).
func markVisited(visited map[inodeKey]struct{}, info os.FileInfo) bool {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		// Platform without syscall.Stat_t: cannot detect cycles, allow once.
		return true
	}
	k := inodeKey{dev: uint64(st.Dev), ino: st.Ino}
	if _, seen := visited[k]; seen {
		return false
	}
	visited[k] = struct{}{}
	return true
}
