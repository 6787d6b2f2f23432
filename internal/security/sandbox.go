package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"datascout/internal/domain"
)

// Sandbox enforces path constraints for file and process operations. Every
// path a tool touches must resolve to within the root.
type Sandbox struct {
	root string // absolute, symlink-resolved workspace root
}

// NewSandbox creates a sandbox rooted at the given directory.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
	}

	return &Sandbox{root: resolved}, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

// Resolve validates a tool-supplied path, which may be relative to the
// sandbox root, and returns its absolute resolved form. Symlinks are
// resolved after computing the absolute path so a link cannot escape the
// root.
func (s *Sandbox) Resolve(requested string) (string, error) {
	if requested == "" || requested == "." {
		return s.root, nil
	}
	if !filepath.IsAbs(requested) {
		requested = filepath.Join(s.root, requested)
	}

	abs, err := filepath.Abs(requested)
	if err != nil {
		return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox, err.Error())
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path doesn't exist yet; resolve the closest existing ancestor and
		// rebase the missing remainder onto it.
		ancestor := abs
		var tail []string
		for {
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox, err.Error())
			}
			tail = append(tail, filepath.Base(ancestor))
			ancestor = parent
			resolvedAncestor, err2 := filepath.EvalSymlinks(ancestor)
			if err2 != nil {
				continue
			}
			resolved = resolvedAncestor
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			break
		}
	}

	if !s.isWithinRoot(resolved) {
		return "", domain.NewDomainError("Sandbox.Resolve", domain.ErrPathOutsideSandbox,
			fmt.Sprintf("resolved %q is outside root %q", resolved, s.root))
	}

	return resolved, nil
}

func (s *Sandbox) isWithinRoot(path string) bool {
	return path == s.root || strings.HasPrefix(path, s.root+string(os.PathSeparator))
}
