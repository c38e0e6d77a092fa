package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sourcekit/internal/adapter/httpclient"
	"sourcekit/internal/domain"
)

const defaultCacheTTL = 15 * time.Minute

// Registry fetches and caches the listings of the configured repositories.
type Registry struct {
	urls     []string
	cacheDir string
	cacheTTL time.Duration
	client   *httpclient.Client
	bus      domain.EventBus

	mu       sync.RWMutex
	listings map[string]*cachedListing

	logger *slog.Logger
}

type cachedListing struct {
	listing *Listing
	fetched time.Time
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	URLs     []string
	CacheDir string // empty disables the disk cache
	CacheTTL time.Duration
	Bus      domain.EventBus
}

// NewRegistry creates a registry client over the given repository URLs.
func NewRegistry(cfg RegistryConfig, client *httpclient.Client, logger *slog.Logger) *Registry {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	urls := make([]string, 0, len(cfg.URLs))
	for _, u := range cfg.URLs {
		urls = append(urls, strings.TrimRight(u, "/"))
	}
	return &Registry{
		urls:     urls,
		cacheDir: cfg.CacheDir,
		cacheTTL: cfg.CacheTTL,
		client:   client,
		bus:      cfg.Bus,
		listings: make(map[string]*cachedListing),
		logger:   logger,
	}
}

// URLs returns the configured repository base URLs.
func (r *Registry) URLs() []string { return r.urls }

// Refresh fetches the latest listing of the repository at base.
func (r *Registry) Refresh(ctx context.Context, base string) (*Listing, error) {
	base = strings.TrimRight(base, "/")
	raw, err := fetch(ctx, r.client, base+"/versioning.json", domain.ErrNotFound)
	if err != nil {
		return nil, fmt.Errorf("registry fetch %s: %w", base, err)
	}
	listing, err := ParseListing(raw)
	if err != nil {
		return nil, fmt.Errorf("registry decode %s: %w", base, err)
	}
	for i := range listing.Sources {
		listing.Sources[i].RepositoryURL = base
	}

	r.mu.Lock()
	r.listings[base] = &cachedListing{listing: listing, fetched: time.Now()}
	r.mu.Unlock()

	if r.cacheDir != "" {
		if err := r.saveCache(base, raw); err != nil {
			r.logger.Warn("failed to cache repository listing", "repository", base, "error", err)
		}
	}
	if r.bus != nil {
		r.bus.Publish(ctx, domain.NewEvent(domain.EventRepositoryRefreshed, base, map[string]int{"sources": len(listing.Sources)}))
	}

	r.logger.Debug("repository listing refreshed", "repository", base, "sources", len(listing.Sources))
	return listing, nil
}

// Listing returns the listing of base, refreshing it when older than the
// cache TTL. A stale copy is returned when the refresh fails.
func (r *Registry) Listing(ctx context.Context, base string) (*Listing, error) {
	base = strings.TrimRight(base, "/")

	r.mu.RLock()
	cached := r.listings[base]
	r.mu.RUnlock()

	if cached != nil && time.Since(cached.fetched) <= r.cacheTTL {
		return cached.listing, nil
	}

	var stale *Listing
	if cached != nil {
		stale = cached.listing
	} else if r.cacheDir != "" {
		if l, err := r.loadCache(base); err == nil {
			stale = l
		}
	}

	listing, err := r.Refresh(ctx, base)
	if err != nil {
		if stale != nil {
			r.logger.Warn("using stale repository listing", "repository", base, "error", err)
			return stale, nil
		}
		return nil, err
	}
	return listing, nil
}

// Entries returns the entries of every configured repository. Unreachable
// repositories are logged and skipped; an error is returned only when none
// could be read.
func (r *Registry) Entries(ctx context.Context) ([]Entry, error) {
	var (
		out     []Entry
		lastErr error
		ok      int
	)
	for _, base := range r.urls {
		l, err := r.Listing(ctx, base)
		if err != nil {
			r.logger.Warn("repository unavailable", "repository", base, "error", err)
			lastErr = err
			continue
		}
		ok++
		out = append(out, l.Sources...)
	}
	if ok == 0 && lastErr != nil {
		return nil, lastErr
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Search returns entries matching query (case-insensitive substring match
// against id, name, description, author and tags).
func (r *Registry) Search(ctx context.Context, query string) ([]Entry, error) {
	entries, err := r.Entries(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	var results []Entry
	for _, e := range entries {
		if e.matches(q) {
			results = append(results, e)
		}
	}
	return results, nil
}

// Get returns the entry with the given ID. When several repositories
// publish it, the first configured repository wins.
func (r *Registry) Get(ctx context.Context, id string) (*Entry, error) {
	for _, base := range r.urls {
		l, err := r.Listing(ctx, base)
		if err != nil {
			continue
		}
		for i := range l.Sources {
			if l.Sources[i].ID == id {
				e := l.Sources[i]
				return &e, nil
			}
		}
	}
	return nil, domain.NewSubSystemError("repository", "Registry.Get", domain.ErrNotFound, id)
}

func (r *Registry) cachePath(base string) string {
	sum := sha256.Sum256([]byte(base))
	return filepath.Join(r.cacheDir, hex.EncodeToString(sum[:8])+".json")
}

func (r *Registry) saveCache(base string, raw []byte) error {
	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.cachePath(base), raw, 0o644)
}

func (r *Registry) loadCache(base string) (*Listing, error) {
	raw, err := os.ReadFile(r.cachePath(base))
	if err != nil {
		return nil, err
	}
	var l Listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	for i := range l.Sources {
		l.Sources[i].RepositoryURL = base
	}
	return &l, nil
}
