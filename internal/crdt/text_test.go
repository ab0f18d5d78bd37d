package crdt

import (
	"errors"
	"strings"
	"testing"

	"github.com/starford/othala/internal/apperr"
)

func mustText(t *testing.T, c *DocumentContent) string {
	t.Helper()
	s, err := c.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	return s
}

func TestSetAndGetText(t *testing.T) {
	c := NewDocumentContent()
	if got := mustText(t, c); got != "" {
		t.Errorf("empty content text = %q", got)
	}

	if err := c.SetText("Hello, World!"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	if got := mustText(t, c); got != "Hello, World!" {
		t.Errorf("text = %q", got)
	}

	if err := c.SetText("replaced"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	if got := mustText(t, c); got != "replaced" {
		t.Errorf("text after replace = %q", got)
	}
}

func TestInsertText(t *testing.T) {
	c := NewDocumentContent()
	if err := c.SetText("Hello World"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	if err := c.InsertText(5, ","); err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	if got := mustText(t, c); got != "Hello, World" {
		t.Errorf("text = %q", got)
	}

	if err := c.InsertText(0, ">> "); err != nil {
		t.Fatalf("InsertText at start: %v", err)
	}
	if err := c.InsertText(len(">> Hello, World"), "!"); err != nil {
		t.Fatalf("InsertText at end: %v", err)
	}
	if got := mustText(t, c); got != ">> Hello, World!" {
		t.Errorf("text = %q", got)
	}
}

func TestInsertIntoEmptyContent(t *testing.T) {
	c := NewDocumentContent()
	if err := c.InsertText(0, "first"); err != nil {
		t.Fatalf("InsertText into empty: %v", err)
	}
	if got := mustText(t, c); got != "first" {
		t.Errorf("text = %q", got)
	}

	d := NewDocumentContent()
	if err := d.InsertText(3, "x"); !errors.Is(err, apperr.ErrOutOfRange) {
		t.Errorf("InsertText(3) into empty = %v, want ErrOutOfRange", err)
	}
}

func TestDeleteText(t *testing.T) {
	c := NewDocumentContent()
	if err := c.SetText("Hello, World!"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	if err := c.DeleteText(5, 2); err != nil {
		t.Fatalf("DeleteText: %v", err)
	}
	if got := mustText(t, c); got != "HelloWorld!" {
		t.Errorf("text = %q", got)
	}

	// Deleting everything leaves empty text, and deleting from empty
	// content is a no-op.
	if err := c.DeleteText(0, len("HelloWorld!")); err != nil {
		t.Fatalf("DeleteText all: %v", err)
	}
	if got := mustText(t, c); got != "" {
		t.Errorf("text after full delete = %q", got)
	}
	empty := NewDocumentContent()
	if err := empty.DeleteText(0, 5); err != nil {
		t.Errorf("DeleteText on empty content = %v, want nil", err)
	}
}

func TestByteOffsetsAreUTF8(t *testing.T) {
	c := NewDocumentContent()
	if err := c.SetText("héllo"); err != nil { // é is two bytes
		t.Fatalf("SetText: %v", err)
	}

	// Insert right after é: byte offset 3.
	if err := c.InsertText(3, "X"); err != nil {
		t.Fatalf("InsertText after multibyte rune: %v", err)
	}
	if got := mustText(t, c); got != "héXllo" {
		t.Errorf("text = %q", got)
	}

	// Offset 2 falls inside é.
	if err := c.InsertText(2, "x"); !errors.Is(err, apperr.ErrOutOfRange) {
		t.Errorf("InsertText mid-rune = %v, want ErrOutOfRange", err)
	}
	if err := c.DeleteText(1, 1); !errors.Is(err, apperr.ErrOutOfRange) {
		t.Errorf("DeleteText splitting a rune = %v, want ErrOutOfRange", err)
	}
	if err := c.DeleteText(0, 1000); !errors.Is(err, apperr.ErrOutOfRange) {
		t.Errorf("DeleteText past end = %v, want ErrOutOfRange", err)
	}
	if err := c.InsertText(1000, "x"); !errors.Is(err, apperr.ErrOutOfRange) {
		t.Errorf("InsertText past end = %v, want ErrOutOfRange", err)
	}
}

func TestContentSaveLoad(t *testing.T) {
	c := NewDocumentContent()
	if err := c.SetText("Test content"); err != nil {
		t.Fatalf("SetText: %v", err)
	}

	loaded, err := LoadDocumentContent(c.Save())
	if err != nil {
		t.Fatalf("LoadDocumentContent: %v", err)
	}
	if got := mustText(t, loaded); got != "Test content" {
		t.Errorf("text after round-trip = %q", got)
	}
}

func TestScalarStringAtTextKey(t *testing.T) {
	d := New()
	if err := d.SetString("text", "plain"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	c := AsDocumentContent(d)
	if got := mustText(t, c); got != "plain" {
		t.Errorf("text = %q, want the scalar value", got)
	}

	// Editing upgrades the key to a proper sequence.
	if err := c.InsertText(0, "now "); err != nil {
		t.Fatalf("InsertText over scalar: %v", err)
	}
	if got := mustText(t, c); got != "now " {
		t.Errorf("text = %q, want fresh sequence", got)
	}
}

func TestConcurrentInsertsBothSurvive(t *testing.T) {
	a := NewDocumentContent()
	if err := a.SetText("ab"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	b := AsDocumentContent(a.Document().Fork())

	if err := a.InsertText(1, "X"); err != nil {
		t.Fatalf("a.InsertText: %v", err)
	}
	if err := b.InsertText(1, "Y"); err != nil {
		t.Fatalf("b.InsertText: %v", err)
	}

	if err := a.Document().Merge(b.Document()); err != nil {
		t.Fatalf("a.Merge(b): %v", err)
	}
	if err := b.Document().Merge(a.Document()); err != nil {
		t.Fatalf("b.Merge(a): %v", err)
	}

	ta, tb := mustText(t, a), mustText(t, b)
	if ta != tb {
		t.Fatalf("replicas diverged: %q vs %q", ta, tb)
	}
	if len(ta) != 4 || !strings.Contains(ta, "X") || !strings.Contains(ta, "Y") {
		t.Errorf("merged text = %q, want both inserts", ta)
	}
	if ta[0] != 'a' || ta[3] != 'b' {
		t.Errorf("merged text = %q, want inserts between a and b", ta)
	}
}

func TestConcurrentInsertAndDelete(t *testing.T) {
	a := NewDocumentContent()
	if err := a.SetText("abc"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	b := AsDocumentContent(a.Document().Fork())

	// a deletes "b" while b inserts right after it.
	if err := a.DeleteText(1, 1); err != nil {
		t.Fatalf("a.DeleteText: %v", err)
	}
	if err := b.InsertText(2, "X"); err != nil {
		t.Fatalf("b.InsertText: %v", err)
	}

	if err := a.Document().Merge(b.Document()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := b.Document().Merge(a.Document()); err != nil {
		t.Fatalf("merge: %v", err)
	}

	ta, tb := mustText(t, a), mustText(t, b)
	if ta != tb {
		t.Fatalf("replicas diverged: %q vs %q", ta, tb)
	}
	if ta != "aXc" {
		t.Errorf("merged text = %q, want aXc", ta)
	}
}

func TestConcurrentDeletesConverge(t *testing.T) {
	a := NewDocumentContent()
	if err := a.SetText("hello"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	b := AsDocumentContent(a.Document().Fork())

	if err := a.DeleteText(0, 2); err != nil {
		t.Fatalf("a.DeleteText: %v", err)
	}
	if err := b.DeleteText(1, 2); err != nil { // overlaps a's range
		t.Fatalf("b.DeleteText: %v", err)
	}

	if err := a.Document().Merge(b.Document()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := b.Document().Merge(a.Document()); err != nil {
		t.Fatalf("merge: %v", err)
	}

	ta, tb := mustText(t, a), mustText(t, b)
	if ta != tb {
		t.Fatalf("replicas diverged: %q vs %q", ta, tb)
	}
	if ta != "lo" {
		t.Errorf("merged text = %q, want lo", ta)
	}
}

func TestConcurrentSetTextPicksSameWinner(t *testing.T) {
	a := NewDocumentContent()
	if err := a.SetText("start"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	b := AsDocumentContent(a.Document().Fork())

	if err := a.SetText("from a"); err != nil {
		t.Fatalf("a.SetText: %v", err)
	}
	if err := b.SetText("from b"); err != nil {
		t.Fatalf("b.SetText: %v", err)
	}

	if err := a.Document().Merge(b.Document()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := b.Document().Merge(a.Document()); err != nil {
		t.Fatalf("merge: %v", err)
	}

	ta, tb := mustText(t, a), mustText(t, b)
	if ta != tb {
		t.Fatalf("replicas diverged: %q vs %q", ta, tb)
	}
	if ta != "from a" && ta != "from b" {
		t.Errorf("winner = %q, want one of the writes", ta)
	}
}

func TestEditsMergeAcrossSaveLoad(t *testing.T) {
	a := NewDocumentContent()
	if err := a.SetText("shared base"); err != nil {
		t.Fatalf("SetText: %v", err)
	}

	// Simulate another device loading the saved bytes and editing offline.
	remote, err := LoadDocumentContent(a.Save())
	if err != nil {
		t.Fatalf("LoadDocumentContent: %v", err)
	}
	if err := remote.InsertText(len("shared base"), " +remote"); err != nil {
		t.Fatalf("remote.InsertText: %v", err)
	}
	if err := a.InsertText(0, "local+ "); err != nil {
		t.Fatalf("a.InsertText: %v", err)
	}

	if err := a.Document().Merge(remote.Document()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := mustText(t, a); got != "local+ shared base +remote" {
		t.Errorf("merged text = %q", got)
	}
}
