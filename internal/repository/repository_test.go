package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcekit/internal/adapter/httpclient"
	"sourcekit/internal/adapter/sqlite"
	"sourcekit/internal/domain"
	"sourcekit/internal/infra/logger"
)

const listingV1 = `{
  "buildTime": "2024-01-01T00:00:00Z",
  "sources": [
    {"id": "MangaDex", "name": "MangaDex", "author": "nar1n", "desc": "Read on MangaDex", "version": "2.1.0",
     "icon": "icon.png", "contentRating": "MATURE", "tags": [{"text": "Cloudflare", "type": "warning"}]},
    {"id": "Guya", "name": "Guya", "author": "funkyhippo", "desc": "Guya reader", "version": "1.0.0"}
  ]
}`

type repoServer struct {
	*httptest.Server
	listing  atomic.Value
	hits     atomic.Int32
	failing  atomic.Bool
	notFound atomic.Bool
}

func newRepoServer(t *testing.T) *repoServer {
	t.Helper()
	rs := &repoServer{}
	rs.listing.Store(listingV1)
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rs.failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/versioning.json":
			rs.hits.Add(1)
			w.Write([]byte(rs.listing.Load().(string)))
		case "/MangaDex/source.js", "/Guya/source.js":
			if rs.notFound.Load() {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte("// " + r.URL.Path))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func newClient() *httpclient.Client {
	return httpclient.New(nil, httpclient.Config{}, logger.Discard())
}

func newStore(t *testing.T) *sqlite.ExtensionStore {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.Extensions()
}

func TestParseListing(t *testing.T) {
	l, err := ParseListing([]byte(listingV1))
	require.NoError(t, err)
	require.Len(t, l.Sources, 2)
	assert.Equal(t, "Read on MangaDex", l.Sources[0].Description)
	assert.Equal(t, "Cloudflare", l.Sources[0].Tags[0].Text)

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"missing sources", `{"buildTime": "x"}`},
		{"missing version", `{"sources": [{"id": "A"}]}`},
		{"bad id", `{"sources": [{"id": "../etc", "version": "1"}]}`},
		{"bad engine", `{"sources": [{"id": "A", "version": "1", "engine": "lua"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseListing([]byte(tt.raw))
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestRegistry_CacheAndStaleFallback(t *testing.T) {
	rs := newRepoServer(t)
	cacheDir := t.TempDir()
	reg := NewRegistry(RegistryConfig{URLs: []string{rs.URL + "/"}, CacheDir: cacheDir, CacheTTL: time.Hour}, newClient(), logger.Discard())
	ctx := context.Background()

	entries, err := reg.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Guya", entries[0].ID, "sorted by id")
	assert.Equal(t, rs.URL, entries[0].RepositoryURL)

	_, err = reg.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), rs.hits.Load(), "fresh listing served from memory")

	// A new registry with an expired TTL falls back to the disk cache when
	// the repository fails.
	rs.failing.Store(true)
	cold := NewRegistry(RegistryConfig{URLs: []string{rs.URL}, CacheDir: cacheDir, CacheTTL: time.Nanosecond}, newClient(), logger.Discard())
	l, err := cold.Listing(ctx, rs.URL)
	require.NoError(t, err)
	assert.Len(t, l.Sources, 2)
	assert.Equal(t, rs.URL, l.Sources[0].RepositoryURL)

	// Without any cache the failure surfaces.
	bare := NewRegistry(RegistryConfig{URLs: []string{rs.URL}}, newClient(), logger.Discard())
	_, err = bare.Entries(ctx)
	assert.Error(t, err)
}

func TestRegistry_SearchAndGet(t *testing.T) {
	rs := newRepoServer(t)
	reg := NewRegistry(RegistryConfig{URLs: []string{rs.URL}}, newClient(), logger.Discard())
	ctx := context.Background()

	found, err := reg.Search(ctx, "cloudflare")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "MangaDex", found[0].ID)

	found, err = reg.Search(ctx, "READER")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Guya", found[0].ID)

	e, err := reg.Get(ctx, "Guya")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", e.Version)

	_, err = reg.Get(ctx, "Nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodeRepositoryMissing, domain.ErrorCodeOf(err))
}

func TestInstaller_Lifecycle(t *testing.T) {
	rs := newRepoServer(t)
	client := newClient()
	reg := NewRegistry(RegistryConfig{URLs: []string{rs.URL}, CacheTTL: time.Nanosecond}, client, logger.Discard())
	store := newStore(t)
	inst := NewInstaller(store, reg, client, nil, logger.Discard())
	ctx := context.Background()

	d, err := inst.Install(ctx, "MangaDex")
	require.NoError(t, err)
	assert.Equal(t, "// /MangaDex/source.js", string(d.Source))

	_, err = inst.Install(ctx, "MangaDex")
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	updated, err := inst.Update(ctx, "MangaDex")
	require.NoError(t, err)
	assert.False(t, updated, "same version")

	rs.listing.Store(`{"sources": [{"id": "MangaDex", "name": "MangaDex", "version": "2.10.0"}]}`)
	ids, err := inst.UpdateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"MangaDex"}, ids)

	got, err := store.Get(ctx, "MangaDex")
	require.NoError(t, err)
	assert.Equal(t, "2.10.0", got.Version)
	assert.Equal(t, d.InstalledAt.Unix(), got.InstalledAt.Unix())

	require.NoError(t, inst.Remove(ctx, "MangaDex"))
	installed, err := inst.Installed(ctx)
	require.NoError(t, err)
	assert.Empty(t, installed)
	assert.ErrorIs(t, inst.Remove(ctx, "MangaDex"), domain.ErrNotFound)
}

func TestInstaller_SourceMissing(t *testing.T) {
	rs := newRepoServer(t)
	rs.notFound.Store(true)
	client := newClient()
	reg := NewRegistry(RegistryConfig{URLs: []string{rs.URL}}, client, logger.Discard())
	inst := NewInstaller(newStore(t), reg, client, nil, logger.Discard())

	_, err := inst.Install(context.Background(), "Guya")
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestNewer(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1.0.1", "1.0.0", true},
		{"2.10.0", "2.9.0", true},
		{"1.0.0", "1.0.0", false},
		{"0.9", "1.0", false},
		{"v1.2.0", "1.1.0", true},
		{"b", "a", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, newer(tt.a, tt.b), "%s > %s", tt.a, tt.b)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Local", ManifestFile), "name: Local Source\nversion: 0.1.0\n")
	writeFile(t, filepath.Join(dir, "Local", "source.js"), "// local")
	writeFile(t, filepath.Join(dir, "Wasm", ManifestFile), "id: WasmSource\nsource: build/ext.wasm\n")
	writeFile(t, filepath.Join(dir, "Wasm", "build", "ext.wasm"), "\x00asm")
	writeFile(t, filepath.Join(dir, "Escape", ManifestFile), "source: ../Local/source.js\n")
	writeFile(t, filepath.Join(dir, "Missing", ManifestFile), "name: Missing\n")
	writeFile(t, filepath.Join(dir, "Broken", ManifestFile), "name: [unterminated\n")
	writeFile(t, filepath.Join(dir, "NoManifest", "source.js"), "// ignored")

	found, err := ScanDirectories([]string{dir, filepath.Join(dir, "does-not-exist")})
	require.NoError(t, err)

	byID := map[string]Local{}
	for _, l := range found {
		byID[l.Descriptor.ID] = l
	}
	require.Len(t, byID, 2)

	local := byID["Local"]
	assert.Equal(t, "Local Source", local.Descriptor.Name)
	assert.Equal(t, "source.js", filepath.Base(local.SourcePath))

	wasm := byID["WasmSource"]
	assert.Equal(t, domain.EngineWASM, wasm.Descriptor.Engine)
	assert.Equal(t, "ext.wasm", filepath.Base(wasm.SourcePath))
}

func TestSources(t *testing.T) {
	rs := newRepoServer(t)
	client := newClient()
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &domain.Descriptor{ID: "Guya", Name: "Guya", RepositoryURL: rs.URL}))

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Side", ManifestFile), "name: Side\n")
	writeFile(t, filepath.Join(dir, "Side", "source.js"), "// side")

	src := NewSources(store, client, []string{dir}, logger.Discard())
	require.NoError(t, src.Rescan())

	_, text, err := src.Source(ctx, "Side")
	require.NoError(t, err)
	assert.Equal(t, "// side", string(text))

	d, text, err := src.Source(ctx, "Guya")
	require.NoError(t, err)
	assert.Equal(t, "Guya", d.ID)
	assert.Equal(t, "// /Guya/source.js", string(text))

	cached, err := store.Get(ctx, "Guya")
	require.NoError(t, err)
	assert.Equal(t, text, cached.Source, "downloaded source cached")

	all, err := src.Descriptors(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := src.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	cached, err = store.Get(ctx, "Guya")
	require.NoError(t, err)
	assert.Empty(t, cached.Source)

	rs.notFound.Store(true)
	_, _, err = src.Source(ctx, "Guya")
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)

	_, _, err = src.Source(ctx, "Unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
