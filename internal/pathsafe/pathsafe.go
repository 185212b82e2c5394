// Package pathsafe resolves request paths against a containment root.
//
// Resolution is based on canonical-path containment, never on a string
// prefix test: "/data" must not admit "/data-other". Symlinks inside the
// root are refused outright rather than followed.
package pathsafe

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when the requested path escapes the root or
// names a symlink. Callers report it as a generic not-found/forbidden; the
// distinction stays server-side.
var ErrOutsideRoot = errors.New("path escapes containment root")

// Resolve converts a request path (leading slash optional) into an
// absolute filesystem path under root. The returned path is definitive:
// either it is inside root, or ErrOutsideRoot is returned. The target
// does not need to exist.
func Resolve(requestPath, root string) (string, error) {
	clean := strings.TrimPrefix(requestPath, "/")

	// Collapse ".." and "." lexically first; the result is always a
	// relative path with no upward traversal left, or an escape.
	joined := filepath.Join(root, filepath.FromSlash(clean))

	if !contained(joined, root) {
		return "", ErrOutsideRoot
	}

	// Canonicalize whatever portion of the path exists so symlinked
	// ancestors cannot smuggle the target outside the root.
	canonical, err := canonicalize(joined)
	if err != nil {
		return "", err
	}
	canonicalRoot, err := canonicalize(root)
	if err != nil {
		return "", err
	}
	if !contained(canonical, canonicalRoot) {
		return "", ErrOutsideRoot
	}

	// Refuse to serve a symlink itself even when its target is inside.
	if info, err := os.Lstat(joined); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", ErrOutsideRoot
	}

	return joined, nil
}

// contained reports whether path is root or beneath it, comparing whole
// path elements. filepath.Rel does the component-wise work; a result
// starting with ".." means escape. This is what makes /data-other distinct
// from /data where a prefix check would conflate them.
func contained(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// canonicalize resolves symlinks for the longest existing ancestor of
// path, then re-attaches the non-existing remainder. A freshly uploaded
// name has no inode yet but its parent still must canonicalize.
func canonicalize(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}
