// Package repository manages extension repositories: their versioning.json
// listings, installed descriptors and the source text behind them.
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"sourcekit/internal/adapter/httpclient"
	"sourcekit/internal/domain"
)

// Listing is a repository's versioning.json.
type Listing struct {
	BuildTime string  `json:"buildTime"`
	Sources   []Entry `json:"sources"`
}

// Entry describes one extension published by a repository.
type Entry struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Author         string `json:"author"`
	Description    string `json:"desc"`
	Version        string `json:"version"`
	Icon           string `json:"icon"`
	ContentRating  string `json:"contentRating"`
	Language       string `json:"language"`
	Engine         string `json:"engine,omitempty"`
	WebsiteBaseURL string `json:"websiteBaseURL,omitempty"`
	Tags           []Tag  `json:"tags,omitempty"`

	// RepositoryURL is set on fetch, not read from the listing.
	RepositoryURL string `json:"repositoryURL,omitempty"`
}

// Tag is a badge shown next to a listed extension.
type Tag struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Descriptor converts e into the descriptor stored on install.
func (e Entry) Descriptor() domain.Descriptor {
	return domain.Descriptor{
		ID:            e.ID,
		Name:          e.Name,
		Author:        e.Author,
		Description:   e.Description,
		Version:       e.Version,
		Icon:          e.Icon,
		RepositoryURL: e.RepositoryURL,
		Engine:        domain.Engine(e.Engine),
		ContentRating: e.ContentRating,
		Language:      e.Language,
	}
}

func (e Entry) matches(q string) bool {
	if strings.Contains(strings.ToLower(e.ID), q) ||
		strings.Contains(strings.ToLower(e.Name), q) ||
		strings.Contains(strings.ToLower(e.Description), q) ||
		strings.Contains(strings.ToLower(e.Author), q) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag.Text), q) {
			return true
		}
	}
	return false
}

const listingSchema = `{
  "type": "object",
  "required": ["sources"],
  "properties": {
    "buildTime": {"type": "string"},
    "sources": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "version"],
        "properties": {
          "id":      {"type": "string", "pattern": "^[A-Za-z0-9_.-]+$"},
          "name":    {"type": "string"},
          "version": {"type": "string", "minLength": 1},
          "engine":  {"enum": ["", "js", "wasm"]},
          "tags": {
            "type": "array",
            "items": {"type": "object", "required": ["text"]}
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func listingValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("versioning.json", strings.NewReader(listingSchema)); err != nil {
			schemaErr = fmt.Errorf("add listing schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("versioning.json")
	})
	return compiledSchema, schemaErr
}

// ParseListing validates raw against the listing schema and decodes it.
func ParseListing(raw []byte) (*Listing, error) {
	schema, err := listingValidator()
	if err != nil {
		return nil, err
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, domain.NewSubSystemError("repository", "ParseListing", domain.ErrInvalidInput, err.Error())
	}
	if err := schema.Validate(v); err != nil {
		return nil, domain.NewSubSystemError("repository", "ParseListing", domain.ErrInvalidInput, err.Error())
	}

	var l Listing
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&l); err != nil {
		return nil, domain.NewSubSystemError("repository", "ParseListing", domain.ErrInvalidInput, err.Error())
	}
	return &l, nil
}

// fetch GETs url through client. Any non-200 status is reported as notFound.
func fetch(ctx context.Context, client *httpclient.Client, url string, notFound error) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewDomainError("repository.fetch", domain.ErrInvalidInput, err.Error())
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, domain.NewSubSystemError("repository", "repository.fetch", notFound,
			fmt.Sprintf("GET %s: HTTP %d", url, res.StatusCode))
	}
	return res.Body, nil
}
