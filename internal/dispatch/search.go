package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"sourcekit/internal/domain"
)

// SearchAll runs the first page of a search on every catalogued extension
// concurrently, at most SearchWorkers at a time. Extensions that fail or
// find nothing are left out. Results keep catalogue order.
func (f *Facade) SearchAll(ctx context.Context, query SearchQuery) []domain.SourceResults {
	if f.cfg.Catalog == nil {
		return []domain.SourceResults{}
	}
	descs, err := f.cfg.Catalog.Descriptors(ctx)
	if err != nil {
		f.logger.Error("list extensions for search failed", "error", err)
		if len(descs) == 0 {
			return []domain.SourceResults{}
		}
	}

	// Each goroutine writes only its own slot.
	pages := make([]*domain.PagedResults, len(descs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.SearchWorkers)
	for i, d := range descs {
		g.Go(func() error {
			page := f.SearchResults(gctx, d.ID, query, nil)
			if len(page.Results) == 0 {
				return nil
			}
			pages[i] = &page
			return nil
		})
	}
	_ = g.Wait()

	out := []domain.SourceResults{}
	for i, page := range pages {
		if page != nil {
			out = append(out, domain.SourceResults{ExtensionID: descs[i].ID, Page: *page})
		}
	}
	return out
}
