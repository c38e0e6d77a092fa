// Package extsdk re-exports the types extension tooling works with: the
// descriptor, the result shapes extensions return and the method contract.
//
// NOTE: the types are aliases of internal/domain, so this package is usable by
// code inside the sourcekit module only. Out-of-tree tooling should treat the
// JSON shapes as the contract.
package extsdk

import "sourcekit/internal/domain"

// Re-exported domain types.
type (
	Descriptor   = domain.Descriptor
	Engine       = domain.Engine
	PartialManga = domain.PartialManga
	Manga        = domain.Manga
	Chapter      = domain.Chapter
	Page         = domain.Page
	DRMRef       = domain.DRMRef
	Tag          = domain.Tag
	TagSection   = domain.TagSection
	HomeSection  = domain.HomeSection
	PagedResults = domain.PagedResults
	SourceMenu   = domain.SourceMenu
	FormSection  = domain.FormSection
	FormRow      = domain.FormRow
)

// Re-exported engine constants.
const (
	EngineJS   = domain.EngineJS
	EngineWASM = domain.EngineWASM
)

// Contract method names.
const (
	MethodHomePageSections    = domain.MethodHomePageSections
	MethodViewMoreItems       = domain.MethodViewMoreItems
	MethodSearchResults       = domain.MethodSearchResults
	MethodMangaDetails        = domain.MethodMangaDetails
	MethodChapters            = domain.MethodChapters
	MethodChapterDetails      = domain.MethodChapterDetails
	MethodSearchTags          = domain.MethodSearchTags
	MethodSourceMenu          = domain.MethodSourceMenu
	MethodSetSettingValue     = domain.MethodSetSettingValue
	MethodInvokeSettingAction = domain.MethodInvokeSettingAction
	MethodDecryptDRMImage     = domain.MethodDecryptDRMImage
	MethodFetchImage          = domain.MethodFetchImage
)

// DRMFragment marks a page locator that needs unscrambling.
const DRMFragment = domain.DRMFragment

// MarkDRM appends the DRM fragment to a page locator unless it is already
// marked.
func MarkDRM(locator string) string {
	if domain.IsDRMMarked(locator) {
		return locator
	}
	return locator + DRMFragment
}

// Methods returns the full contract, required and optional methods alike.
func Methods() []string {
	return append([]string(nil), domain.ContractMethods...)
}
