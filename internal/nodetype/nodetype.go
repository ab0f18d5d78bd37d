// Package nodetype maps node type tags to content handlers. Handlers are
// capabilities, not a hierarchy: a handler knows how to pull indexable
// text out of a node's content bytes and how to check that the bytes are
// well formed for its type. Unknown tags resolve to a permissive handler
// that treats content as opaque.
package nodetype

import (
	"fmt"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/crdt"
	"github.com/starford/othala/internal/models"
)

// Handler interprets the content bytes of one node type.
type Handler interface {
	// Type returns the node type tag the handler serves.
	Type() string
	// ExtractText returns the plain text carried by the content, for
	// search indexing. Types without text return "".
	ExtractText(content []byte) (string, error)
	// ValidateContent checks that the bytes are well formed for the type.
	ValidateContent(content []byte) error
}

// Registry resolves node type tags to handlers.
type Registry struct {
	handlers map[string]Handler
	fallback Handler
}

// NewRegistry returns a registry with the built-in document and folder
// handlers installed.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: map[string]Handler{},
		fallback: opaqueHandler{},
	}
	r.Register(documentHandler{})
	r.Register(folderHandler{})
	return r
}

// Register installs a handler under its type tag, replacing any previous
// handler for that tag.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

// Lookup returns the handler for a tag, or the fallback for unknown tags.
func (r *Registry) Lookup(tag string) Handler {
	if h, ok := r.handlers[tag]; ok {
		return h
	}
	return r.fallback
}

// Default returns the fallback handler used for unknown tags.
func (r *Registry) Default() Handler {
	return r.fallback
}

// documentHandler reads document content as a CRDT text document.
type documentHandler struct{}

func (documentHandler) Type() string { return models.TypeDocument }

func (documentHandler) ExtractText(content []byte) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	dc, err := crdt.LoadDocumentContent(content)
	if err != nil {
		return "", fmt.Errorf("nodetype: document: %w", err)
	}
	text, err := dc.Text()
	if err != nil {
		return "", fmt.Errorf("nodetype: document: %w", err)
	}
	return text, nil
}

func (documentHandler) ValidateContent(content []byte) error {
	if len(content) == 0 {
		return nil
	}
	if _, err := crdt.Load(content); err != nil {
		return fmt.Errorf("nodetype: document: %w", err)
	}
	return nil
}

// folderHandler serves folders, which carry no content at all.
type folderHandler struct{}

func (folderHandler) Type() string { return models.TypeFolder }

func (folderHandler) ExtractText([]byte) (string, error) { return "", nil }

func (folderHandler) ValidateContent(content []byte) error {
	if len(content) != 0 {
		return fmt.Errorf("nodetype: folder carries content: %w", apperr.ErrInvalidFormat)
	}
	return nil
}

// opaqueHandler accepts any bytes and yields no text. It backs node types
// the registry does not know.
type opaqueHandler struct{}

func (opaqueHandler) Type() string { return "" }

func (opaqueHandler) ExtractText([]byte) (string, error) { return "", nil }

func (opaqueHandler) ValidateContent([]byte) error { return nil }
