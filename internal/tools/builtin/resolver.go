// Package builtin provides a small set of sample tools (file read/write,
// shell exec, background process management) wired to the Guard Stack's
// reversal model, used to exercise the chat loop end to end.
package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolver resolves and validates workspace-relative paths, rejecting
// anything that escapes the workspace root.
type resolver struct {
	root string
}

func newResolver(root string) resolver {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	return resolver{root: root}
}

func (r resolver) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	rootAbs, err := filepath.Abs(r.root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}
