// Package sandbox confines every file operation to a single directory
// subtree and provides the backup-before-write primitive used by all
// mutating step handlers.
package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrSandboxEscape is returned when a path resolves outside the sandbox
// root. Callers must not proceed with any file operation after seeing it.
var ErrSandboxEscape = errors.New("refusing to operate outside sandbox")

// Ensure creates the sandbox base directory if needed and returns its
// absolute path.
func Ensure(base string) (string, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("failed to create sandbox %s: %w", base, err)
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve sandbox %s: %w", base, err)
	}
	return abs, nil
}

// Resolve turns a raw path reference into an absolute path at or beneath
// root. Absolute inputs are normalized as-is; relative inputs are joined to
// root. Traversal that lands outside root fails with ErrSandboxEscape.
func Resolve(raw, root string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path is required for this operation")
	}

	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	resolved, err := filepath.Abs(filepath.Clean(candidate))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", raw, err)
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve sandbox root %s: %w", root, err)
	}

	rel, err := filepath.Rel(rootAbs, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrSandboxEscape, resolved)
	}
	return resolved, nil
}

// Backup copies path to <path>.bak before a mutation. The copy completes
// before the caller's write begins; a missing target means no backup and no
// error. Returns the backup path when one was written.
func Backup(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	backupPath := path + ".bak"
	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}
	if err := copyFile(path, backupPath); err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", path, err)
	}
	return backupPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
