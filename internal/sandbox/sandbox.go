// Package sandbox builds and checks the per-user file layout under the data
// root: data/user_{id}/database_{db_id}.csv plus an optional
// database_{db_id}_schema.json. Paths are always derived from ids, never from
// user input; Contains is the defense-in-depth check run before file I/O.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideSandbox = errors.New("path escapes user sandbox")

// Root anchors all user sandboxes under a single directory.
type Root struct {
	base string
}

func NewRoot(dataDir string) (Root, error) {
	abs, err := filepath.Abs(filepath.Join(dataDir, "data"))
	if err != nil {
		return Root{}, fmt.Errorf("resolve sandbox root: %w", err)
	}
	return Root{base: filepath.Clean(abs)}, nil
}

func (r Root) Base() string {
	return r.base
}

func (r Root) UserDir(userID int64) string {
	return filepath.Join(r.base, fmt.Sprintf("user_%d", userID))
}

func (r Root) DataFile(userID, dbID int64) string {
	return filepath.Join(r.UserDir(userID), fmt.Sprintf("database_%d.csv", dbID))
}

func (r Root) SchemaFile(userID, dbID int64) string {
	return filepath.Join(r.UserDir(userID), fmt.Sprintf("database_%d_schema.json", dbID))
}

// EnsureUserDir creates the user's sandbox directory, owner-only.
func (r Root) EnsureUserDir(userID int64) (string, error) {
	dir := r.UserDir(userID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create user dir: %w", err)
	}
	return dir, nil
}

func withinRoot(root, target string) bool {
	if root == target {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(target, root+sep)
}

func symlinkAware(p string) string {
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return p
	}
	return real
}

// Contains reports whether candidate resolves inside the user's sandbox
// directory. Symlinks are followed; for a path that does not exist yet the
// parent directory is resolved instead. Any failure to canonicalize counts as
// an escape.
func (r Root) Contains(userID int64, candidate string) error {
	if strings.ContainsRune(candidate, '\x00') {
		return ErrOutsideSandbox
	}
	userDir, err := filepath.Abs(r.UserDir(userID))
	if err != nil {
		return ErrOutsideSandbox
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return ErrOutsideSandbox
	}
	abs = filepath.Clean(abs)
	if !withinRoot(userDir, abs) {
		return ErrOutsideSandbox
	}

	userReal := symlinkAware(userDir)
	targetReal := abs
	if _, err := os.Stat(abs); err == nil {
		targetReal = symlinkAware(abs)
	} else {
		// New files (uploads, first write) are judged by their parent.
		parent := symlinkAware(filepath.Dir(abs))
		if !withinRoot(userReal, parent) {
			return ErrOutsideSandbox
		}
	}
	if !withinRoot(userReal, targetReal) {
		return ErrOutsideSandbox
	}
	return nil
}

// ValidFileName rejects names with traversal sequences or characters outside
// a conservative allowlist. Used for uploaded file names before they are
// discarded in favor of derived paths.
func ValidFileName(name string) bool {
	if name == "" || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
