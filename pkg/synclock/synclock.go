// Package synclock implements the Sync Engine's global lock: an
// exclusive-create lockfile under the state directory that serializes
// push, pull, and undo across invocations on the same host.
package synclock

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/perfectra1n/claude-code-sync/pkg/corerr"
)

// StaleAfter is how long a lock may be held before a subsequent acquirer
// is permitted to break it.
const StaleAfter = time.Hour

// Lock represents a held lock on path. Release must be called exactly
// once, typically via defer.
type Lock struct {
	path string
}

// Acquire creates path exclusively, recording the current PID and
// acquisition time inside it. If the lock is already held and is not
// stale, it returns a *corerr.Error with Kind LockHeld. If the existing
// lock is older than StaleAfter, it is broken (removed and recreated)
// and broke reports that this happened, so the caller can log it.
func Acquire(path string) (lock *Lock, broke bool, err error) {
	l, err := tryCreate(path)
	if err == nil {
		return l, false, nil
	}
	if !os.IsExist(err) {
		return nil, false, corerr.New(corerr.LockHeld, "cannot create lock file", err)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		// Lock vanished between our failed create and this stat; retry once.
		l, err = tryCreate(path)
		if err != nil {
			return nil, false, corerr.New(corerr.LockHeld, "sync already in progress", err)
		}
		return l, false, nil
	}

	if time.Since(info.ModTime()) < StaleAfter {
		return nil, false, corerr.New(corerr.LockHeld,
			fmt.Sprintf("sync already in progress (lock held since %s)", info.ModTime().UTC().Format(time.RFC3339)), nil)
	}

	if err := os.Remove(path); err != nil {
		return nil, false, corerr.New(corerr.LockHeld, "stale lock present but could not be removed", err)
	}
	l, err = tryCreate(path)
	if err != nil {
		return nil, false, corerr.New(corerr.LockHeld, "lock was reacquired by another process", err)
	}
	return l, true, nil
}

func tryCreate(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fmt.Fprintf(f, "pid=%s\n", strconv.Itoa(os.Getpid()))
	fmt.Fprintf(f, "acquired=%s\n", time.Now().UTC().Format(time.RFC3339))
	return &Lock{path: path}, nil
}

// Release removes the lockfile.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return corerr.New(corerr.LockHeld, "cannot release lock file", err)
	}
	return nil
}
