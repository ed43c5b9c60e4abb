// Package security vets user-supplied paths before the tools write to them.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesDir is returned for a path that resolves outside every allowed
// directory, including through symlinks.
var ErrEscapesDir = errors.New("security: path escapes allowed directories")

// canonical resolves symlinks in path. A path that does not exist yet is
// resolved through its nearest existing ancestor, so a dangling tail cannot
// hide a symlinked parent.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, err := filepath.Rel(dir, abs)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, rest), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// Within returns nil when path resolves inside dir.
func Within(path, dir string) error {
	p, err := canonical(path)
	if err != nil {
		return err
	}
	d, err := canonical(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(d, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is outside %s", ErrEscapesDir, path, dir)
	}
	return nil
}

// OutputPath returns nil when path may be written: it must resolve inside
// one of dirs, or inside the working or temp directory when dirs is empty.
func OutputPath(path string, dirs ...string) error {
	if len(dirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("working directory: %w", err)
		}
		dirs = []string{cwd, os.TempDir()}
	}
	for _, d := range dirs {
		if Within(path, d) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (allowed: %s)", ErrEscapesDir, path, strings.Join(dirs, ", "))
}

// SanitizeFilename maps an identifier onto a safe file name: ASCII letters,
// digits, '.', '_' and '-' are kept, runs of anything else become one '_',
// and the result is capped at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	under := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			under = false
		case !under:
			b.WriteByte('_')
			under = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
