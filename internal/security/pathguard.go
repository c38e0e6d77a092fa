package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sourcekit/internal/domain"
)

// PathGuard confines file references from extension manifests to the
// manifest's own directory.
type PathGuard struct {
	root string // absolute, resolved root
}

// NewPathGuard creates a guard rooted at the given directory.
func NewPathGuard(root string) (*PathGuard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", resolved)
	}

	return &PathGuard{root: resolved}, nil
}

// Resolve joins a relative reference onto the root and checks that the
// result, after symlink resolution, stays inside it.
func (g *PathGuard) Resolve(ref string) (string, error) {
	if filepath.IsAbs(ref) {
		return "", domain.NewDomainError("PathGuard.Resolve", domain.ErrPermissionDenied, "absolute path "+ref)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Join(g.root, ref))
	if err != nil {
		return "", domain.NewDomainError("PathGuard.Resolve", domain.ErrNotFound, err.Error())
	}

	if resolved != g.root && !strings.HasPrefix(resolved, g.root+string(os.PathSeparator)) {
		return "", domain.NewDomainError("PathGuard.Resolve", domain.ErrPermissionDenied,
			fmt.Sprintf("resolved %q is outside root %q", resolved, g.root))
	}
	return resolved, nil
}

// Root returns the guarded directory.
func (g *PathGuard) Root() string { return g.root }
