package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"sourcekit/internal/adapter/httpclient"
	"sourcekit/internal/domain"
)

// Sources resolves the source text of installed and sideloaded extensions.
// Sideloaded extensions shadow installed ones with the same ID. Source text
// of installed extensions is downloaded on first use and cached in the
// descriptor store.
type Sources struct {
	store     domain.DescriptorStore
	client    *httpclient.Client
	localDirs []string
	logger    *slog.Logger

	mu    sync.RWMutex
	local map[string]Local
}

var _ domain.SourceProvider = (*Sources)(nil)

// NewSources creates a provider. Call Rescan to pick up sideloaded extensions.
func NewSources(store domain.DescriptorStore, client *httpclient.Client, localDirs []string, logger *slog.Logger) *Sources {
	return &Sources{
		store:     store,
		client:    client,
		localDirs: localDirs,
		logger:    logger,
		local:     make(map[string]Local),
	}
}

// Rescan re-reads the local extension directories.
func (s *Sources) Rescan() error {
	found, err := ScanDirectories(s.localDirs)
	if err != nil {
		return err
	}
	local := make(map[string]Local, len(found))
	for _, l := range found {
		local[l.Descriptor.ID] = l
	}
	s.mu.Lock()
	s.local = local
	s.mu.Unlock()
	if len(found) > 0 {
		s.logger.Info("sideloaded extensions discovered", "count", len(found))
	}
	return nil
}

// Local returns the descriptors of sideloaded extensions.
func (s *Sources) Local() []domain.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Descriptor, 0, len(s.local))
	for _, l := range s.local {
		out = append(out, l.Descriptor)
	}
	return out
}

// Descriptors returns sideloaded and installed descriptors, sideloaded first.
func (s *Sources) Descriptors(ctx context.Context) ([]domain.Descriptor, error) {
	out := s.Local()
	seen := make(map[string]bool, len(out))
	for _, d := range out {
		seen[d.ID] = true
	}
	installed, err := s.store.List(ctx)
	if err != nil {
		return out, err
	}
	for _, d := range installed {
		if !seen[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

// Source implements domain.SourceProvider.
func (s *Sources) Source(ctx context.Context, id string) (domain.Descriptor, []byte, error) {
	s.mu.RLock()
	l, ok := s.local[id]
	s.mu.RUnlock()
	if ok {
		src, err := os.ReadFile(l.SourcePath)
		if err != nil {
			return l.Descriptor, nil, domain.NewSubSystemError("extension", "Sources.Source", domain.ErrSourceUnavailable, err.Error())
		}
		return l.Descriptor, src, nil
	}

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Descriptor{}, nil, err
	}
	if len(d.Source) > 0 {
		return *d, d.Source, nil
	}

	src, err := fetch(ctx, s.client, d.SourceURL(), domain.ErrSourceUnavailable)
	if err != nil {
		if !errors.Is(err, domain.ErrSourceUnavailable) {
			err = domain.NewSubSystemError("extension", "Sources.Source", domain.ErrSourceUnavailable, err.Error())
		}
		return *d, nil, fmt.Errorf("fetch source of %s: %w", id, err)
	}
	d.Source = src
	if err := s.store.Save(ctx, d); err != nil {
		s.logger.Warn("failed to cache extension source", "extension", id, "error", err)
	}
	return *d, src, nil
}

// Refresh drops the cached source text of every installed extension so the
// next load downloads it again.
func (s *Sources) Refresh(ctx context.Context) (int, error) {
	installed, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range installed {
		full, err := s.store.Get(ctx, d.ID)
		if err != nil || len(full.Source) == 0 || full.RepositoryURL == "" {
			continue
		}
		full.Source = nil
		if err := s.store.Save(ctx, full); err != nil {
			s.logger.Warn("failed to clear cached source", "extension", d.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}
