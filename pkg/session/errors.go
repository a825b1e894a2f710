package session

import "github.com/perfectra1n/claude-code-sync/pkg/corerr"

func parseErr(path string, line int, err error) error {
	return corerr.Parse(path, line, err)
}
