package dispatch

import (
	"context"
	"net/http"

	"sourcekit/internal/domain"
	"sourcekit/internal/imaging"
	"sourcekit/internal/security"
)

// SearchQuery is the query object handed to getSearchResults.
type SearchQuery struct {
	Title        string   `json:"title"`
	IncludedTags []string `json:"includedTags,omitempty"`
	ExcludedTags []string `json:"excludedTags,omitempty"`
}

func (q SearchQuery) arg() map[string]any {
	m := map[string]any{"title": q.Title}
	if len(q.IncludedTags) > 0 {
		m["includedTags"] = toAnySlice(q.IncludedTags)
	}
	if len(q.ExcludedTags) > 0 {
		m["excludedTags"] = toAnySlice(q.ExcludedTags)
	}
	return m
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// HomeSections returns the home page rows of extension id.
func (f *Facade) HomeSections(ctx context.Context, id string) []domain.HomeSection {
	result, _ := f.call(ctx, id, domain.MethodHomePageSections, false)
	return homeSections(result)
}

// ViewMoreItems returns one page of a home section.
func (f *Facade) ViewMoreItems(ctx context.Context, id, sectionID string, metadata any) domain.PagedResults {
	result, _ := f.call(ctx, id, domain.MethodViewMoreItems, false, sectionID, metadata)
	return pagedResults(result)
}

// SearchResults returns one page of search results.
func (f *Facade) SearchResults(ctx context.Context, id string, query SearchQuery, metadata any) domain.PagedResults {
	result, _ := f.call(ctx, id, domain.MethodSearchResults, false, query.arg(), metadata)
	return pagedResults(result)
}

// MangaDetails returns nil when the extension fails.
func (f *Facade) MangaDetails(ctx context.Context, id, mangaID string) *domain.Manga {
	result, _ := f.call(ctx, id, domain.MethodMangaDetails, false, mangaID)
	m := manga(result)
	if m != nil && m.ID == "" {
		m.ID = domain.FlexString(mangaID)
	}
	return m
}

func (f *Facade) Chapters(ctx context.Context, id, mangaID string) []domain.Chapter {
	result, _ := f.call(ctx, id, domain.MethodChapters, false, mangaID)
	out := chapters(result)
	for i := range out {
		if out[i].MangaID == "" {
			out[i].MangaID = domain.FlexString(mangaID)
		}
	}
	return out
}

// ChapterDetails returns the page list of a chapter. Page fetches are latency
// sensitive and use the urgent attachment wait.
func (f *Facade) ChapterDetails(ctx context.Context, id, mangaID, chapterID string) *domain.ChapterDetails {
	result, _ := f.call(ctx, id, domain.MethodChapterDetails, true, mangaID, chapterID)
	return chapterDetails(id, mangaID, chapterID, result)
}

func (f *Facade) SearchTags(ctx context.Context, id string) []domain.TagSection {
	result, _ := f.call(ctx, id, domain.MethodSearchTags, false)
	return tagSections(result)
}

// SourceMenu returns the settings form, or nil when the extension has none.
func (f *Facade) SourceMenu(ctx context.Context, id string) *domain.SourceMenu {
	result, _ := f.call(ctx, id, domain.MethodSourceMenu, false)
	return sourceMenu(result)
}

// SetSettingValue reports whether the extension accepted the value.
func (f *Facade) SetSettingValue(ctx context.Context, id, path string, value any) bool {
	_, ok := f.call(ctx, id, domain.MethodSetSettingValue, false, path, value)
	return ok
}

// InvokeSettingAction reports whether the action ran.
func (f *Facade) InvokeSettingAction(ctx context.Context, id, path string) bool {
	_, ok := f.call(ctx, id, domain.MethodInvokeSettingAction, false, path)
	return ok
}

// FetchImage downloads a page image through the extension's fetchImage, or
// directly when the extension has none. It returns nil on failure.
func (f *Facade) FetchImage(ctx context.Context, id, url string) []byte {
	if id != "" {
		result, err := f.invoke(ctx, id, domain.MethodFetchImage, true, url)
		if err == nil {
			if b, ok := imageBytes(result); ok {
				return b
			}
			f.logger.Warn("fetchImage returned no image", "extension", id)
		} else {
			f.report(id, domain.MethodFetchImage, err)
		}
	}
	return f.download(ctx, url)
}

// DecryptImage resolves a page locator to displayable bytes. DRM locators
// are unscrambled by the owning extension's decryptDrmImage; when that fails
// the scrambled original is returned. Other locators are fetched as is.
func (f *Facade) DecryptImage(ctx context.Context, locator string) []byte {
	ref, ok := domain.ParseDRMLocator(locator)
	if !ok {
		return f.FetchImage(ctx, "", locator)
	}

	result, err := f.invoke(ctx, ref.ExtensionID, domain.MethodDecryptDRMImage, true, ref.Original)
	if err == nil {
		if b, ok := imageBytes(result); ok && imaging.DetectFormat(b) != imaging.FormatUnknown {
			return b
		}
		f.logger.Warn("decryptDrmImage returned no image, using original", "extension", ref.ExtensionID)
	} else {
		f.report(ref.ExtensionID, domain.MethodDecryptDRMImage, err)
	}
	return f.FetchImage(ctx, ref.ExtensionID, ref.Original)
}

func (f *Facade) download(ctx context.Context, url string) []byte {
	u, err := security.CheckScheme(url)
	if err != nil {
		f.logger.Warn("invalid image locator", "url", url, "error", err)
		return nil
	}
	u.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		f.logger.Warn("invalid image locator", "url", url, "error", err)
		return nil
	}
	res, err := f.cfg.Images.Do(req)
	if err != nil {
		f.logger.Warn("image download failed", "url", url, "error", err)
		return nil
	}
	if res.StatusCode != http.StatusOK {
		f.logger.Warn("image download failed", "url", url, "status", res.StatusCode)
		return nil
	}
	return res.Body
}
