package crdt

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/starford/othala/internal/apperr"
)

// docMagic prefixes a saved document.
var docMagic = []byte("OTD1")

// Save serializes the full history of the document. Load is its inverse;
// the bytes are opaque to every other layer.
func (d *Document) Save() []byte {
	changes := make([]Change, 0, len(d.log))
	for _, h := range d.log {
		changes = append(changes, *d.applied[h])
	}
	raw, err := json.Marshal(changes)
	if err != nil {
		// History contains only plain data types; this cannot fail.
		panic(fmt.Sprintf("crdt: save: %v", err))
	}
	return append(append([]byte{}, docMagic...), raw...)
}

// Load reconstructs a document from saved bytes. Empty input yields an
// empty document. Anything else that is not a well-formed saved history
// fails with ErrInvalidFormat.
func Load(b []byte) (*Document, error) {
	if len(b) == 0 {
		return New(), nil
	}
	if !bytes.HasPrefix(b, docMagic) {
		return nil, fmt.Errorf("crdt: load: bad magic: %w", apperr.ErrInvalidFormat)
	}
	var changes []Change
	if err := json.Unmarshal(bytes.TrimPrefix(b, docMagic), &changes); err != nil {
		return nil, fmt.Errorf("crdt: load: %w", apperr.ErrInvalidFormat)
	}
	d := New()
	for i := range changes {
		if err := d.ApplyChange(changes[i]); err != nil {
			return nil, fmt.Errorf("crdt: load: %w", err)
		}
	}
	if len(d.pending) > 0 {
		return nil, fmt.Errorf("crdt: load: history is missing dependencies: %w", apperr.ErrInvalidFormat)
	}
	return d, nil
}
