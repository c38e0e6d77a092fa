package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sourcekit/internal/domain"
)

func TestNormalizePages(t *testing.T) {
	drm := &domain.DRMRef{ExtensionID: "ext", Original: "https://cdn/2.jpg#drm"}
	tests := []struct {
		name   string
		result any
		want   []domain.Page
	}{
		{"nil", nil, []domain.Page{}},
		{"bare list", []any{"https://cdn/1.jpg", ""}, []domain.Page{{URL: "https://cdn/1.jpg"}}},
		{"string slice", []string{"https://cdn/1.jpg"}, []domain.Page{{URL: "https://cdn/1.jpg"}}},
		{"wrapped", map[string]any{"pages": []any{"https://cdn/2.jpg#drm"}}, []domain.Page{{URL: "https://cdn/2.jpg#drm", DRM: drm}}},
		{"already normalized locator", []any{"drm-page://ext/https://cdn/2.jpg#drm"}, []domain.Page{{URL: "https://cdn/2.jpg#drm", DRM: drm}}},
		{"page objects", []any{map[string]any{"url": "https://cdn/2.jpg#drm", "drm": map[string]any{"extension_id": "ext", "original": "https://cdn/2.jpg#drm"}}}, []domain.Page{{URL: "https://cdn/2.jpg#drm", DRM: drm}}},
		{"junk entries", []any{42, map[string]any{"nope": true}}, []domain.Page{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePages("ext", tt.result))
		})
	}
}

func TestNormalizePagesIsIdempotent(t *testing.T) {
	once := NormalizePages("ext", []any{"a.jpg", "b.jpg#drm"})
	assert.Equal(t, once, NormalizePages("other", once))
}

func TestNormalizeChapterDetailsBareList(t *testing.T) {
	got := normalizeChapterDetails("ext", []any{"a.jpg"})
	assert.Equal(t, []domain.Page{{URL: "a.jpg"}}, got)
}
