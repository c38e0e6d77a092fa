package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sourcekit/internal/domain"
)

func TestConstructorsAreTotal(t *testing.T) {
	builders := map[string]func(map[string]any) map[string]any{
		"partial":       NewPartialManga,
		"manga":         NewManga,
		"chapter":       NewChapter,
		"chapterDetail": NewChapterDetails,
		"tag":           NewTag,
		"tagSection":    NewTagSection,
		"homeSection":   NewHomeSection,
		"paged":         NewPagedResults,
		"menu":          NewSourceMenu,
		"formSection":   NewFormSection,
	}
	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				out := build(nil)
				assert.NotEmpty(t, out)
			})
		})
	}
}

func TestNewMangaDefaults(t *testing.T) {
	m := NewManga(map[string]any{"id": float64(42), "titles": []any{"One", 2.0, nil}})
	assert.Equal(t, "42", m["id"])
	assert.Equal(t, []any{"One", "2"}, m["titles"])
	assert.Equal(t, "", m["author"])
	assert.Equal(t, float64(StatusUnknown), m["status"])
	assert.Equal(t, []any{}, m["tags"])
}

func TestNewChapterCoercesNumbers(t *testing.T) {
	c := NewChapter(map[string]any{"id": 7, "mangaId": "m1", "chapNum": "12.5"})
	assert.Equal(t, "7", c["id"])
	assert.Equal(t, 12.5, c["chapNum"])
	assert.Equal(t, "_unknown", c["langCode"])
}

func TestNewHomeSectionNestsItems(t *testing.T) {
	h := NewHomeSection(map[string]any{
		"id":        "latest",
		"view_more": true,
		"items":     []any{map[string]any{"mangaId": 1, "title": "A"}, "junk"},
	})
	assert.Equal(t, SectionSingleRowNormal, h["type"])
	assert.Equal(t, true, h["containsMoreItems"])
	items := h["items"].([]any)
	assert.Len(t, items, 1)
	assert.Equal(t, "1", items[0].(map[string]any)["mangaId"])
}

func TestNewFormRowKinds(t *testing.T) {
	tests := []struct {
		kind  string
		info  map[string]any
		field string
		want  any
	}{
		{domain.RowStepper, map[string]any{"value": 3}, "step", float64(1)},
		{domain.RowInput, map[string]any{"placeholder": "name"}, "placeholder", "name"},
		{domain.RowSwitch, map[string]any{"value": "true"}, "value", true},
		{domain.RowSelect, map[string]any{"options": []any{"a", "b"}}, "options", []any{"a", "b"}},
		{domain.RowLabel, map[string]any{"value": 5}, "value", "5"},
		{"mystery", map[string]any{}, "type", domain.RowLabel},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			row := NewFormRow(tt.kind, tt.info)
			assert.Equal(t, tt.want, row[tt.field])
		})
	}

	nav := NewFormRow(domain.RowNavigation, map[string]any{
		"form": map[string]any{"id": "sub", "sections": []any{
			map[string]any{"rows": []any{map[string]any{"type": "button", "id": "b"}}},
		}},
	})
	form := nav["form"].(map[string]any)
	assert.Equal(t, "sub", form["id"])
	assert.Len(t, form["sections"], 1)
}

func TestEnums(t *testing.T) {
	e := Enums()
	assert.Equal(t, ContentRatingAdult, e["ContentRating"]["ADULT"])
	assert.Equal(t, "gb", e["LanguageCode"]["ENGLISH"])
	assert.Equal(t, StatusOngoing, e["MangaStatus"]["ONGOING"])
	assert.Equal(t, TagDanger, e["TagType"]["RED"])
	assert.Equal(t, SectionFeatured, e["HomeSectionType"]["featured"])

	code, ok := LanguageCode("JAPANESE")
	assert.True(t, ok)
	assert.Equal(t, "jp", code)
}
