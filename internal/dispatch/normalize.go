package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"sourcekit/internal/domain"
	"sourcekit/internal/extension"
)

// decode converts a raw extension result into out by a JSON round trip, so
// Flex fields apply the same coercions regardless of backend. It reports
// whether anything could be decoded.
func decode(result any, out any) bool {
	if result == nil {
		return false
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// list extracts a list from a bare array or from the first of keys holding one.
func list(result any, keys ...string) any {
	if m, ok := result.(map[string]any); ok {
		for _, k := range keys {
			if v, ok := m[k]; ok {
				return v
			}
		}
		return nil
	}
	return result
}

func homeSections(result any) []domain.HomeSection {
	var out []domain.HomeSection
	if !decode(list(result, "sections"), &out) {
		return []domain.HomeSection{}
	}
	for i := range out {
		if out[i].Items == nil {
			out[i].Items = []domain.PartialManga{}
		}
	}
	return out
}

// pagedResults accepts {results, metadata} or a bare list of results. A bare
// list has no further pages.
func pagedResults(result any) domain.PagedResults {
	page := domain.PagedResults{Results: []domain.PartialManga{}}
	if m, ok := result.(map[string]any); ok {
		decode(m["results"], &page.Results)
		page.Metadata = m["metadata"]
	} else {
		decode(result, &page.Results)
	}
	if page.Results == nil {
		page.Results = []domain.PartialManga{}
	}
	return page
}

func manga(result any) *domain.Manga {
	var out domain.Manga
	if !decode(result, &out) {
		return nil
	}
	if out.Titles == nil {
		out.Titles = []domain.FlexString{}
	}
	if out.Tags == nil {
		out.Tags = []domain.TagSection{}
	}
	return &out
}

func chapters(result any) []domain.Chapter {
	var out []domain.Chapter
	if !decode(list(result, "chapters"), &out) || out == nil {
		return []domain.Chapter{}
	}
	return out
}

// chapterDetails normalizes pages even when the backend did not, so DRM
// locators look the same from either backend.
func chapterDetails(id, mangaID, chapterID string, result any) *domain.ChapterDetails {
	if result == nil {
		return nil
	}
	out := domain.ChapterDetails{
		ID:      domain.FlexString(chapterID),
		MangaID: domain.FlexString(mangaID),
		Pages:   extension.NormalizePages(id, result),
	}
	if m, ok := result.(map[string]any); ok {
		var meta struct {
			ID        domain.FlexString `json:"id"`
			MangaID   domain.FlexString `json:"mangaId"`
			LongStrip domain.FlexBool   `json:"longStrip"`
		}
		rest := make(map[string]any, len(m))
		for k, v := range m {
			if k != "pages" {
				rest[k] = v
			}
		}
		decode(rest, &meta)
		if meta.ID != "" {
			out.ID = meta.ID
		}
		if meta.MangaID != "" {
			out.MangaID = meta.MangaID
		}
		out.LongStrip = meta.LongStrip
	}
	return &out
}

func tagSections(result any) []domain.TagSection {
	var out []domain.TagSection
	if !decode(list(result, "tags", "sections"), &out) || out == nil {
		return []domain.TagSection{}
	}
	for i := range out {
		if out[i].Tags == nil {
			out[i].Tags = []domain.Tag{}
		}
	}
	return out
}

func sourceMenu(result any) *domain.SourceMenu {
	var out domain.SourceMenu
	if !decode(result, &out) {
		return nil
	}
	if out.Sections == nil {
		out.Sections = []domain.FormSection{}
	}
	return &out
}

// imageBytes accepts raw bytes, a base64 string (optionally a data: URI), a
// list of byte values or an object carrying one of those under data or
// rawData.
func imageBytes(result any) ([]byte, bool) {
	switch t := result.(type) {
	case []byte:
		return t, len(t) > 0
	case string:
		if _, after, ok := strings.Cut(t, ";base64,"); ok && strings.HasPrefix(t, "data:") {
			t = after
		}
		b, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			return nil, false
		}
		return b, len(b) > 0
	case []any:
		out := make([]byte, 0, len(t))
		for _, v := range t {
			n, ok := v.(float64)
			if !ok {
				if i, isInt := v.(int64); isInt {
					n, ok = float64(i), true
				}
			}
			if !ok || n < 0 || n > 255 {
				return nil, false
			}
			out = append(out, byte(n))
		}
		return out, len(out) > 0
	case map[string]any:
		for _, k := range []string{"data", "rawData"} {
			if v, ok := t[k]; ok {
				return imageBytes(v)
			}
		}
	}
	return nil, false
}
