package extension

import (
	"sourcekit/internal/domain"
)

// NormalizePages flattens a getChapterDetails result into pages. It accepts a
// bare list, an object with a "pages" field, or pages already normalized, so
// it is safe to apply more than once. DRM-marked locators are tagged with
// extensionID.
func NormalizePages(extensionID string, result any) []domain.Page {
	var items []any
	switch t := result.(type) {
	case []any:
		items = t
	case []string:
		for _, s := range t {
			items = append(items, s)
		}
	case []domain.Page:
		return t
	case map[string]any:
		return NormalizePages(extensionID, t["pages"])
	}

	pages := make([]domain.Page, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case string:
			if t != "" {
				pages = append(pages, pageFor(extensionID, t))
			}
		case domain.Page:
			pages = append(pages, t)
		case map[string]any:
			if p, ok := pageFromMap(extensionID, t); ok {
				pages = append(pages, p)
			}
		}
	}
	return pages
}

func pageFor(extensionID, locator string) domain.Page {
	if ref, ok := domain.ParseDRMLocator(locator); ok {
		return domain.Page{URL: ref.Original, DRM: &ref}
	}
	if domain.IsDRMMarked(locator) {
		return domain.Page{URL: locator, DRM: &domain.DRMRef{ExtensionID: extensionID, Original: locator}}
	}
	return domain.Page{URL: locator}
}

func pageFromMap(extensionID string, m map[string]any) (domain.Page, bool) {
	url, _ := m["url"].(string)
	if url == "" {
		return domain.Page{}, false
	}
	drm, ok := m["drm"].(map[string]any)
	if !ok {
		return pageFor(extensionID, url), true
	}
	ref := domain.DRMRef{Original: url}
	ref.ExtensionID, _ = drm["extension_id"].(string)
	if original, _ := drm["original"].(string); original != "" {
		ref.Original = original
	}
	if ref.ExtensionID == "" {
		ref.ExtensionID = extensionID
	}
	return domain.Page{URL: url, DRM: &ref}, true
}

// normalizeChapterDetails rewrites the pages of a getChapterDetails result.
// A bare list becomes the page list itself.
func normalizeChapterDetails(extensionID string, result any) any {
	m, ok := result.(map[string]any)
	if !ok {
		return NormalizePages(extensionID, result)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	out["pages"] = NormalizePages(extensionID, m["pages"])
	return out
}
