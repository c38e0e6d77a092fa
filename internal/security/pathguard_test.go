package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcekit/internal/domain"
)

func TestPathGuardResolve(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "source.js"), []byte("x"), 0o600))
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o600))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "link")))

	g, err := NewPathGuard(root)
	require.NoError(t, err)

	p, err := g.Resolve("source.js")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(g.Root(), "source.js"), p)

	_, err = g.Resolve("../" + filepath.Base(outside) + "/secret")
	assert.Error(t, err)

	_, err = g.Resolve("link")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = g.Resolve("/etc/passwd")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = g.Resolve("missing.js")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewPathGuardRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o600))
	_, err := NewPathGuard(f)
	assert.Error(t, err)
}
