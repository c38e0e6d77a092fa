package domain

import (
	"context"
	"strings"
	"time"
)

// Engine selects the execution engine for an extension's source.
type Engine string

const (
	EngineJS   Engine = "js"
	EngineWASM Engine = "wasm"
)

// Descriptor is the persisted record of an installed extension.
type Descriptor struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	Author        string    `json:"author" yaml:"author"`
	Description   string    `json:"desc" yaml:"description"`
	Version       string    `json:"version" yaml:"version"`
	Icon          string    `json:"icon" yaml:"icon"`
	RepositoryURL string    `json:"repository_url" yaml:"repository_url"`
	Engine        Engine    `json:"engine,omitempty" yaml:"engine"`
	ContentRating string    `json:"contentRating,omitempty" yaml:"content_rating"`
	Language      string    `json:"language,omitempty" yaml:"language"`
	Source        []byte    `json:"-" yaml:"-"`
	InstalledAt   time.Time `json:"installed_at" yaml:"-"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

// EngineOrDefault returns the declared engine, falling back to JS.
func (d Descriptor) EngineOrDefault() Engine {
	if d.Engine == "" {
		return EngineJS
	}
	return d.Engine
}

// SourceURL is where the extension's source is published in its repository.
func (d Descriptor) SourceURL() string {
	file := "source.js"
	if d.EngineOrDefault() == EngineWASM {
		file = "source.wasm"
	}
	return strings.TrimRight(d.RepositoryURL, "/") + "/" + d.ID + "/" + file
}

// Extension method contract. Every loaded extension is invoked through these names.
const (
	MethodHomePageSections    = "getHomePageSections"
	MethodViewMoreItems       = "getViewMoreItems"
	MethodSearchResults       = "getSearchResults"
	MethodMangaDetails        = "getMangaDetails"
	MethodChapters            = "getChapters"
	MethodChapterDetails      = "getChapterDetails"
	MethodSearchTags          = "getSearchTags"
	MethodSourceMenu          = "getSourceMenu"
	MethodSetSettingValue     = "setSettingValue"
	MethodInvokeSettingAction = "invokeSettingAction"
	MethodDecryptDRMImage     = "decryptDrmImage"
	MethodFetchImage          = "fetchImage"
)

// ContractMethods lists every method an extension may implement.
var ContractMethods = []string{
	MethodHomePageSections,
	MethodViewMoreItems,
	MethodSearchResults,
	MethodMangaDetails,
	MethodChapters,
	MethodChapterDetails,
	MethodSearchTags,
	MethodSourceMenu,
	MethodSetSettingValue,
	MethodInvokeSettingAction,
	MethodDecryptDRMImage,
	MethodFetchImage,
}

// IsAdvisoryMethod reports whether a missing implementation of method means
// "feature absent" rather than a failure.
func IsAdvisoryMethod(method string) bool {
	switch method {
	case MethodSearchTags, MethodSourceMenu, MethodSetSettingValue,
		MethodInvokeSettingAction, MethodDecryptDRMImage, MethodFetchImage:
		return true
	}
	return false
}

// Backend is an execution strategy capable of loading and invoking extensions.
// Both the headless backend and any attached interactive backend satisfy it.
type Backend interface {
	Name() string
	Available() bool
	IsLoaded(ctx context.Context, id string) bool
	// LoadExtension loads id. A nil source lets the backend obtain it itself.
	LoadExtension(ctx context.Context, id string, source []byte) bool
	RunExtensionMethod(ctx context.Context, id, method string, args ...any) (any, error)
}

// DescriptorStore persists installed extension descriptors.
type DescriptorStore interface {
	Get(ctx context.Context, id string) (*Descriptor, error)
	List(ctx context.Context) ([]Descriptor, error)
	Save(ctx context.Context, d *Descriptor) error
	Delete(ctx context.Context, id string) error
}

// SourceProvider resolves the source text for an installed extension.
type SourceProvider interface {
	Source(ctx context.Context, id string) (Descriptor, []byte, error)
}

// State namespaces.
const (
	NamespaceState    = "state"
	NamespaceKeychain = "keychain"
)

// KVStore is the durable layer under extension state. Keys are partitioned by
// extension ID and namespace; implementations must never cross partitions.
type KVStore interface {
	Get(ctx context.Context, extensionID, namespace, key string) (string, bool, error)
	Set(ctx context.Context, extensionID, namespace, key, value string) error
	Delete(ctx context.Context, extensionID, namespace, key string) error
}
