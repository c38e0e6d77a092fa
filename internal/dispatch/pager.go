package dispatch

import (
	"context"
	"encoding/json"

	"sourcekit/internal/domain"
)

// PageFunc fetches the page following metadata. A nil metadata asks for the
// first page.
type PageFunc func(ctx context.Context, metadata any) domain.PagedResults

// Pager walks a paginated operation. It stops at nil metadata, at metadata
// already seen, after maxPages pages or when ctx ends, so a misbehaving
// extension cannot page forever.
type Pager struct {
	next     PageFunc
	maxPages int
}

// NewPager creates a Pager over next.
func NewPager(next PageFunc, maxPages int) *Pager {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Pager{next: next, maxPages: maxPages}
}

// SearchPager pages through getSearchResults of extension id.
func (f *Facade) SearchPager(id string, query SearchQuery) *Pager {
	return NewPager(func(ctx context.Context, metadata any) domain.PagedResults {
		return f.SearchResults(ctx, id, query, metadata)
	}, f.cfg.MaxPages)
}

// ViewMorePager pages through getViewMoreItems of one home section.
func (f *Facade) ViewMorePager(id, sectionID string) *Pager {
	return NewPager(func(ctx context.Context, metadata any) domain.PagedResults {
		return f.ViewMoreItems(ctx, id, sectionID, metadata)
	}, f.cfg.MaxPages)
}

// Each calls fn for every page until pagination ends or fn returns false.
// It returns the number of pages fetched.
func (p *Pager) Each(ctx context.Context, fn func(page domain.PagedResults) bool) int {
	seen := make(map[string]bool)
	var metadata any
	pages := 0
	for pages < p.maxPages && ctx.Err() == nil {
		page := p.next(ctx, metadata)
		pages++
		if !fn(page) || page.Metadata == nil {
			break
		}
		key, err := json.Marshal(page.Metadata)
		if err != nil || seen[string(key)] {
			break
		}
		seen[string(key)] = true
		metadata = page.Metadata
	}
	return pages
}

// All collects the results of every page.
func (p *Pager) All(ctx context.Context) []domain.PartialManga {
	out := []domain.PartialManga{}
	p.Each(ctx, func(page domain.PagedResults) bool {
		out = append(out, page.Results...)
		return true
	})
	return out
}
