package syncengine

import (
	"encoding/json"
	"os"

	"github.com/perfectra1n/claude-code-sync/internal/atomicfile"
	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
)

// State is the persisted "<state-root>/state.json" document.
type State struct {
	RepoPath         string  `json:"repo_path"`
	RemoteURL        *string `json:"remote_url"`
	Branch           string  `json:"branch"`
	ScmBackend       string  `json:"scm_backend"`
	SyncSubdirectory string  `json:"sync_subdirectory"`
}

// LoadState reads state.json from path. A missing file is reported via
// corerr.NotInitialized, since every mutating operation requires it.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, corerr.New(corerr.NotInitialized, "no state.json at "+path+"; run init first", nil)
	}
	if err != nil {
		return nil, corerr.New(corerr.CorruptState, "cannot read state.json", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, corerr.New(corerr.CorruptState, "cannot parse state.json", err)
	}
	return &s, nil
}

// SaveState atomically writes s to path.
func SaveState(path string, s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return corerr.New(corerr.CorruptState, "cannot marshal state.json", err)
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return corerr.New(corerr.CorruptState, "cannot write state.json", err)
	}
	return nil
}
