package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcekit/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "sourcekit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExtensionStore_CRUD(t *testing.T) {
	store := newTestDB(t).Extensions()
	ctx := context.Background()

	d := &domain.Descriptor{
		ID:            "comix",
		Name:          "Comix",
		Author:        "someone",
		Version:       "1.2.0",
		RepositoryURL: "https://repo.example.com",
		Source:        []byte("class Comix {}"),
	}
	require.NoError(t, store.Save(ctx, d))
	assert.False(t, d.InstalledAt.IsZero())

	got, err := store.Get(ctx, "comix")
	require.NoError(t, err)
	assert.Equal(t, "Comix", got.Name)
	assert.Equal(t, domain.EngineJS, got.Engine)
	assert.Equal(t, []byte("class Comix {}"), got.Source)

	// Update keeps InstalledAt.
	installed := got.InstalledAt
	got.Version = "1.3.0"
	got.Source = []byte("class Comix { v2 }")
	require.NoError(t, store.Save(ctx, got))
	again, err := store.Get(ctx, "comix")
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", again.Version)
	assert.True(t, installed.Equal(again.InstalledAt))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Source, "List must not load source text")

	require.NoError(t, store.Delete(ctx, "comix"))
	_, err = store.Get(ctx, "comix")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodeExtensionNotFound, domain.ErrorCodeOf(err))
}

func TestExtensionStore_NotFound(t *testing.T) {
	store := newTestDB(t).Extensions()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "missing"), domain.ErrNotFound)
	assert.ErrorIs(t, store.Save(ctx, &domain.Descriptor{}), domain.ErrInvalidInput)
}

func TestStateStore_NamespaceIsolation(t *testing.T) {
	state := newTestDB(t).State()
	ctx := context.Background()

	require.NoError(t, state.Set(ctx, "ext-a", domain.NamespaceState, "token", `"a-value"`))

	_, ok, err := state.Get(ctx, "ext-b", domain.NamespaceState, "token")
	require.NoError(t, err)
	assert.False(t, ok, "extension B must not see A's key")

	_, ok, err = state.Get(ctx, "ext-a", domain.NamespaceKeychain, "token")
	require.NoError(t, err)
	assert.False(t, ok, "keychain namespace is separate from state")

	v, ok, err := state.Get(ctx, "ext-a", domain.NamespaceState, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"a-value"`, v)

	require.NoError(t, state.Set(ctx, "ext-a", domain.NamespaceState, "token", `"new"`))
	v, _, _ = state.Get(ctx, "ext-a", domain.NamespaceState, "token")
	assert.Equal(t, `"new"`, v)

	require.NoError(t, state.Delete(ctx, "ext-a", domain.NamespaceState, "token"))
	_, ok, _ = state.Get(ctx, "ext-a", domain.NamespaceState, "token")
	assert.False(t, ok)
}

func TestDeleteExtensionDropsState(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Extensions().Save(ctx, &domain.Descriptor{ID: "comix", Name: "Comix"}))
	require.NoError(t, db.State().Set(ctx, "comix", domain.NamespaceKeychain, "pw", "x"))

	require.NoError(t, db.Extensions().Delete(ctx, "comix"))
	_, ok, err := db.State().Get(ctx, "comix", domain.NamespaceKeychain, "pw")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeychainSaltIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "salt.db")
	db, err := Open(path)
	require.NoError(t, err)
	first, err := db.KeychainSalt(context.Background())
	require.NoError(t, err)
	assert.Len(t, first, 16)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	second, err := db.KeychainSalt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOpenMemory(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.State().Set(context.Background(), "a", "state", "k", "1"))
	v, ok, err := db.State().Get(context.Background(), "a", "state", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}
