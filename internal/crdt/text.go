package crdt

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/starford/othala/internal/apperr"
)

// textKey is the fixed top-level key document text lives under.
const textKey = "text"

// textElem is one rune in a sequence generation. Deleted elements stay as
// tombstones so they can keep anchoring later inserts.
type textElem struct {
	id      OpID
	r       rune
	deleted bool
}

// textSeq is a tombstoned rune sequence. Elements form a forest: an
// element's parent is the element it was inserted after (zero for the
// start of the sequence), and siblings order newest-first. The rendered
// order is the preorder traversal, which is the same on every replica
// because it depends only on op ids.
type textSeq struct {
	elems    map[OpID]*textElem
	children map[OpID][]OpID // parent -> child ids, descending
	order    []OpID          // cached traversal, tombstones included
	stale    bool
}

func newTextSeq() *textSeq {
	return &textSeq{
		elems:    map[OpID]*textElem{},
		children: map[OpID][]OpID{},
	}
}

// insertRun adds the runes of text, chaining each rune after the previous
// so a run stays contiguous under concurrent edits.
func (s *textSeq) insertRun(first OpID, after OpID, text string) {
	origin := after
	cnt := first.Counter
	for _, r := range text {
		id := OpID{Counter: cnt, Actor: first.Actor}
		s.elems[id] = &textElem{id: id, r: r}
		s.addChild(origin, id)
		origin = id
		cnt++
	}
	s.stale = true
}

func (s *textSeq) addChild(parent, id OpID) {
	kids := s.children[parent]
	i := sort.Search(len(kids), func(i int) bool { return kids[i].Less(id) })
	kids = append(kids, OpID{})
	copy(kids[i+1:], kids[i:])
	kids[i] = id
	s.children[parent] = kids
}

func (s *textSeq) tombstone(id OpID) {
	if e := s.elems[id]; e != nil {
		e.deleted = true
	}
}

// traversal returns all element ids, tombstones included, in rendered
// order.
func (s *textSeq) traversal() []OpID {
	if !s.stale && s.order != nil {
		return s.order
	}
	out := make([]OpID, 0, len(s.elems))
	stack := [][]OpID{s.children[OpID{}]}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if len(*top) == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		id := (*top)[0]
		*top = (*top)[1:]
		out = append(out, id)
		if kids := s.children[id]; len(kids) > 0 {
			stack = append(stack, kids)
		}
	}
	s.order = out
	s.stale = false
	return out
}

func (s *textSeq) visible() []*textElem {
	ids := s.traversal()
	out := make([]*textElem, 0, len(ids))
	for _, id := range ids {
		if e := s.elems[id]; !e.deleted {
			out = append(out, e)
		}
	}
	return out
}

func (s *textSeq) String() string {
	var b strings.Builder
	for _, e := range s.visible() {
		b.WriteRune(e.r)
	}
	return b.String()
}

// elemBefore resolves a byte offset to the visible element ending exactly
// there; zero for offset 0. ok is false when the offset is past the end
// or inside a rune.
func (s *textSeq) elemBefore(pos int) (OpID, bool) {
	if pos < 0 {
		return OpID{}, false
	}
	if pos == 0 {
		return OpID{}, true
	}
	off := 0
	for _, e := range s.visible() {
		off += utf8.RuneLen(e.r)
		if off == pos {
			return e.id, true
		}
		if off > pos {
			return OpID{}, false
		}
	}
	return OpID{}, false
}

// spansFor resolves a byte range to the element spans covering it. ok is
// false when either end misses a rune boundary or runs past the text.
func (s *textSeq) spansFor(pos, n int) ([]Span, bool) {
	if pos < 0 || n < 0 {
		return nil, false
	}
	vis := s.visible()
	off, i := 0, 0
	for ; i < len(vis) && off < pos; i++ {
		off += utf8.RuneLen(vis[i].r)
	}
	if off != pos {
		return nil, false
	}
	var ids []OpID
	covered := 0
	for ; i < len(vis) && covered < n; i++ {
		covered += utf8.RuneLen(vis[i].r)
		ids = append(ids, vis[i].id)
	}
	if covered != n {
		return nil, false
	}
	return toSpans(ids), true
}

// toSpans run-length groups ids that are contiguous from one actor.
func toSpans(ids []OpID) []Span {
	var out []Span
	for _, id := range ids {
		if k := len(out) - 1; k >= 0 && out[k].Actor == id.Actor && out[k].Counter+uint64(out[k].Len) == id.Counter {
			out[k].Len++
			continue
		}
		out = append(out, Span{Actor: id.Actor, Counter: id.Counter, Len: 1})
	}
	return out
}

// DocumentContent is the text view of a document node's content. All
// positions are byte offsets into the current UTF-8 text and must land on
// rune boundaries.
type DocumentContent struct {
	doc *Document
}

// NewDocumentContent creates empty content.
func NewDocumentContent() *DocumentContent {
	return &DocumentContent{doc: New()}
}

// LoadDocumentContent parses saved content bytes. Empty input is valid
// empty content.
func LoadDocumentContent(b []byte) (*DocumentContent, error) {
	d, err := Load(b)
	if err != nil {
		return nil, err
	}
	return &DocumentContent{doc: d}, nil
}

// AsDocumentContent wraps an already-loaded document.
func AsDocumentContent(d *Document) *DocumentContent {
	return &DocumentContent{doc: d}
}

// Document exposes the underlying document for sync operations.
func (c *DocumentContent) Document() *Document {
	return c.doc
}

// Save serializes the content.
func (c *DocumentContent) Save() []byte {
	return c.doc.Save()
}

// Text returns the current text. Absent content reads as the empty
// string; a plain string value at the text key is honored.
func (c *DocumentContent) Text() (string, error) {
	v, ok := c.doc.winner(textKey)
	if !ok {
		return "", nil
	}
	switch v.Kind {
	case KindString:
		return v.Str, nil
	case KindText:
		return c.doc.texts[v.Text].String(), nil
	default:
		return "", &TypeMismatchError{Expected: KindText, Actual: v.Kind}
	}
}

// SetText replaces the whole text. The replacement starts a fresh
// sequence generation: the fine-grained edit history of the previous text
// no longer participates in merges, and concurrent SetText calls resolve
// last-writer-wins.
func (c *DocumentContent) SetText(text string) error {
	d := c.doc
	gen := Op{Type: opNewText, ID: d.nextOpID(), Key: textKey, Pred: d.predsFor(textKey)}
	ops := []Op{gen}
	if text != "" {
		ops = append(ops, Op{
			Type: opInsert,
			ID:   OpID{Counter: gen.ID.Counter + 1, Actor: d.actor},
			Gen:  gen.ID,
			Text: text,
		})
	}
	return d.commit(ops)
}

// InsertText inserts text at a byte offset. Inserting into a node whose
// text key holds no sequence yet starts one; only offset 0 is addressable
// then.
func (c *DocumentContent) InsertText(pos int, text string) error {
	if text == "" {
		return nil
	}
	d := c.doc
	if v, ok := d.winner(textKey); ok && v.Kind == KindText {
		after, inBounds := d.texts[v.Text].elemBefore(pos)
		if !inBounds {
			return fmt.Errorf("crdt: insert at byte %d: %w", pos, apperr.ErrOutOfRange)
		}
		op := Op{Type: opInsert, ID: d.nextOpID(), Gen: v.Text, After: after, Text: text}
		return d.commit([]Op{op})
	}
	if pos != 0 {
		return fmt.Errorf("crdt: insert at byte %d: %w", pos, apperr.ErrOutOfRange)
	}
	return c.SetText(text)
}

// DeleteText removes n bytes starting at a byte offset. Deleting from a
// node with no text is a no-op; concurrent deletes of the same range
// converge because tombstoning is idempotent.
func (c *DocumentContent) DeleteText(pos, n int) error {
	d := c.doc
	v, ok := d.winner(textKey)
	if !ok || v.Kind != KindText {
		return nil
	}
	spans, inBounds := d.texts[v.Text].spansFor(pos, n)
	if !inBounds {
		return fmt.Errorf("crdt: delete %d bytes at byte %d: %w", n, pos, apperr.ErrOutOfRange)
	}
	if len(spans) == 0 {
		return nil
	}
	op := Op{Type: opRemove, ID: d.nextOpID(), Gen: v.Text, Targets: spans}
	return d.commit([]Op{op})
}
