package extsdk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sourcekit/internal/domain"
)

func TestMarkDRM(t *testing.T) {
	assert.Equal(t, "https://cdn/1.jpg#drm", MarkDRM("https://cdn/1.jpg"))
	assert.Equal(t, "https://cdn/1.jpg#drm", MarkDRM("https://cdn/1.jpg#drm"))
	assert.True(t, domain.IsDRMMarked(MarkDRM("x")))
}

func TestMethodsIsACopy(t *testing.T) {
	m := Methods()
	assert.Contains(t, m, MethodChapterDetails)
	m[0] = "changed"
	assert.NotEqual(t, "changed", domain.ContractMethods[0])
}
