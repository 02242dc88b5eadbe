// Package extension models the browser-side facts a section needs about the
// extension that owns it: its identity, its manifest overrides and how its
// packaged resources are addressed.
package extension

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const scheme = "moz-extension://"

// Extension is a loaded extension
type Extension struct {
	ID       string
	BaseURL  string
	Manifest *Manifest
}

// New creates an extension with a fresh per-install base URL
func New(id string, manifest *Manifest) (*Extension, error) {
	if id == "" {
		return nil, fmt.Errorf("extension id is required")
	}
	if manifest == nil {
		manifest = &Manifest{}
	}
	return &Extension{
		ID:       id,
		BaseURL:  fmt.Sprintf("%s%s/", scheme, uuid.New().String()),
		Manifest: manifest,
	}, nil
}

// GetURL resolves a reference against the extension's base URL. Relative
// paths land inside the package; absolute URLs are returned as they are.
func (e *Extension) GetURL(ref string) string {
	base, err := url.Parse(e.BaseURL)
	if err != nil {
		return e.BaseURL + strings.TrimLeft(ref, "/")
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return e.BaseURL + strings.TrimLeft(ref, "/")
	}
	return base.ResolveReference(rel).String()
}

// IsExtensionURL reports whether s already points into this extension
func (e *Extension) IsExtensionURL(s string) bool {
	return strings.HasPrefix(s, e.BaseURL)
}

// Overrides returns the manifest's section overrides
func (e *Extension) Overrides() Overrides {
	return e.Manifest.Section
}
