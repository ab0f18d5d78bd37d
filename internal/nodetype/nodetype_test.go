package nodetype

import (
	"errors"
	"testing"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/crdt"
	"github.com/starford/othala/internal/models"
)

func documentBytes(t *testing.T, text string) []byte {
	t.Helper()
	c := crdt.NewDocumentContent()
	if err := c.SetText(text); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	return c.Save()
}

func TestLookupBuiltins(t *testing.T) {
	r := NewRegistry()
	if got := r.Lookup(models.TypeDocument).Type(); got != models.TypeDocument {
		t.Errorf("document handler type = %q", got)
	}
	if got := r.Lookup(models.TypeFolder).Type(); got != models.TypeFolder {
		t.Errorf("folder handler type = %q", got)
	}
}

func TestLookupUnknownFallsBack(t *testing.T) {
	r := NewRegistry()
	h := r.Lookup("hologram")
	if h != r.Default() {
		t.Error("unknown tag did not resolve to the fallback")
	}
	text, err := h.ExtractText([]byte{0x00, 0x01, 0x02})
	if err != nil || text != "" {
		t.Errorf("fallback ExtractText = %q, %v", text, err)
	}
	if err := h.ValidateContent([]byte("anything goes")); err != nil {
		t.Errorf("fallback ValidateContent: %v", err)
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(opaqueStub{tag: models.TypeDocument})
	if _, ok := r.Lookup(models.TypeDocument).(opaqueStub); !ok {
		t.Error("Register did not replace the document handler")
	}
}

type opaqueStub struct{ tag string }

func (s opaqueStub) Type() string                     { return s.tag }
func (opaqueStub) ExtractText([]byte) (string, error) { return "stub", nil }
func (opaqueStub) ValidateContent([]byte) error       { return nil }

func TestDocumentExtractText(t *testing.T) {
	h := NewRegistry().Lookup(models.TypeDocument)

	text, err := h.ExtractText(documentBytes(t, "meeting notes"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "meeting notes" {
		t.Errorf("text = %q", text)
	}

	text, err = h.ExtractText(nil)
	if err != nil || text != "" {
		t.Errorf("empty content = %q, %v", text, err)
	}
}

func TestDocumentRejectsGarbage(t *testing.T) {
	h := NewRegistry().Lookup(models.TypeDocument)

	if _, err := h.ExtractText([]byte("junk")); !errors.Is(err, apperr.ErrInvalidFormat) {
		t.Errorf("ExtractText err = %v, want ErrInvalidFormat", err)
	}
	if err := h.ValidateContent([]byte("junk")); !errors.Is(err, apperr.ErrInvalidFormat) {
		t.Errorf("ValidateContent err = %v, want ErrInvalidFormat", err)
	}
	if err := h.ValidateContent(documentBytes(t, "fine")); err != nil {
		t.Errorf("ValidateContent(valid): %v", err)
	}
}

func TestFolderRejectsContent(t *testing.T) {
	h := NewRegistry().Lookup(models.TypeFolder)

	if err := h.ValidateContent(nil); err != nil {
		t.Errorf("ValidateContent(empty): %v", err)
	}
	if err := h.ValidateContent([]byte("x")); !errors.Is(err, apperr.ErrInvalidFormat) {
		t.Errorf("ValidateContent err = %v, want ErrInvalidFormat", err)
	}
	text, err := h.ExtractText(nil)
	if err != nil || text != "" {
		t.Errorf("ExtractText = %q, %v", text, err)
	}
}
