package domain

import "strings"

const (
	// DRMFragment is appended by extensions to page locators that need unscrambling.
	DRMFragment = "#drm"
	// DRMScheme prefixes normalized locators of DRM-marked pages.
	DRMScheme   = "drm-page://"
)

// DRMRef records which extension owns a scrambled page.
type DRMRef struct {
	ExtensionID string `json:"extension_id"`
	Original    string `json:"original"`
}

// Locator renders the reference as drm-page://<extensionId>/<original>.
func (r DRMRef) Locator() string {
	return DRMScheme + r.ExtensionID + "/" + r.Original
}

// IsDRMMarked reports whether an extension-supplied locator carries the DRM fragment.
func IsDRMMarked(locator string) bool {
	return strings.Contains(locator, DRMFragment)
}

// ParseDRMLocator splits a drm-page:// locator into its extension ID and the
// original locator. ok is false for anything else.
func ParseDRMLocator(locator string) (ref DRMRef, ok bool) {
	rest, found := strings.CutPrefix(locator, DRMScheme)
	if !found {
		return DRMRef{}, false
	}
	id, original, found := strings.Cut(rest, "/")
	if !found || id == "" || original == "" {
		return DRMRef{}, false
	}
	return DRMRef{ExtensionID: id, Original: original}, true
}

// Page is one normalized chapter page.
type Page struct {
	URL string  `json:"url"`
	DRM *DRMRef `json:"drm,omitempty"`
}

// Locator returns the locator callers should hand to the image pipeline.
func (p Page) Locator() string {
	if p.DRM != nil {
		return p.DRM.Locator()
	}
	return p.URL
}
