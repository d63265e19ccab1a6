package sandbox

import (
	"os"
	"path/filepath"
)

// LockFileName is the advisory sentinel written at run start. It is a
// cooperative convention only: callers that ignore it may interleave writes,
// and some test scenarios depend on observing exactly that race.
const LockFileName = ".executor.lock"

// Lock writes the advisory lock file holding the run id. It never blocks and
// never fails the run; an existing lock is overwritten.
func Lock(root, runID string) (string, error) {
	path := filepath.Join(root, LockFileName)
	if err := os.WriteFile(path, []byte(runID), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Unlock removes the advisory lock file, ignoring a missing file.
func Unlock(root string) {
	_ = os.Remove(filepath.Join(root, LockFileName))
}
