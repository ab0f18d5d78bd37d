package crdt

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/starford/othala/internal/apperr"
)

// ActorID identifies one editing actor. Every document instance writes
// under its own random actor so concurrent histories never collide.
type ActorID [16]byte

// NewActorID returns a fresh random actor id.
func NewActorID() ActorID {
	return ActorID(uuid.New())
}

func (a ActorID) String() string {
	return hex.EncodeToString(a[:])
}

func (a ActorID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *ActorID) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil || len(raw) != len(a) {
		return fmt.Errorf("crdt: parse actor id %q: %w", b, apperr.ErrInvalidFormat)
	}
	copy(a[:], raw)
	return nil
}

// OpID is the lamport timestamp of a single operation: a document-wide
// counter plus the actor that issued it. OpIDs order operations totally:
// by counter first, then by actor bytes.
type OpID struct {
	Counter uint64  `json:"counter"`
	Actor   ActorID `json:"actor"`
}

// IsZero reports whether the id is the absent/root marker.
func (id OpID) IsZero() bool {
	return id.Counter == 0 && id.Actor == ActorID{}
}

// Less orders op ids by (counter, actor).
func (id OpID) Less(other OpID) bool {
	if id.Counter != other.Counter {
		return id.Counter < other.Counter
	}
	return bytes.Compare(id.Actor[:], other.Actor[:]) < 0
}

// ChangeHash is the content address of a change: the SHA-256 of its
// canonical encoding.
type ChangeHash [32]byte

// ParseChangeHash parses the hex form of a change hash.
func ParseChangeHash(s string) (ChangeHash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return ChangeHash{}, fmt.Errorf("crdt: parse change hash %q: %w", s, apperr.ErrInvalidFormat)
	}
	var h ChangeHash
	copy(h[:], raw)
	return h, nil
}

func (h ChangeHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h ChangeHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *ChangeHash) UnmarshalText(b []byte) error {
	parsed, err := ParseChangeHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func sortHashes(hs []ChangeHash) {
	sort.Slice(hs, func(i, j int) bool {
		return bytes.Compare(hs[i][:], hs[j][:]) < 0
	})
}

// Operation types. A change carries one or more ops; each op consumes one
// counter per element it creates.
const (
	opSet     = "set"  // put a scalar value at a map key
	opDel     = "del"  // delete a map key
	opNewText = "text" // start a fresh text sequence generation at a key
	opInsert  = "ins"  // insert runes into a sequence generation
	opRemove  = "rm"   // tombstone sequence elements
)

// Scalar value kinds.
const (
	KindString = "string"
	KindInt    = "int"
	KindBool   = "bool"
	KindText   = "text"
)

// Value is a scalar register value. Kind selects the populated field; a
// text kind points at the sequence generation holding the runes.
type Value struct {
	Kind string `json:"kind"`
	Str  string `json:"str,omitempty"`
	Int  int64  `json:"int,omitempty"`
	Bool bool   `json:"bool,omitempty"`
	Text OpID   `json:"text,omitzero"`
}

// Span addresses a contiguous run of op ids from one actor.
type Span struct {
	Actor   ActorID `json:"actor"`
	Counter uint64  `json:"counter"`
	Len     int     `json:"len"`
}

// Op is one primitive operation inside a change.
//
// Field use by type:
//
//	set:  ID, Key, Value, Pred
//	del:  ID, Key, Pred
//	text: ID, Key, Pred        (ID doubles as the new generation id)
//	ins:  ID, Gen, After, Text (runes get ids ID, ID+1, ...)
//	rm:   ID, Gen, Targets
type Op struct {
	Type    string `json:"type"`
	ID      OpID   `json:"id"`
	Key     string `json:"key,omitempty"`
	Value   *Value `json:"value,omitempty"`
	Pred    []OpID `json:"pred,omitempty"`
	Gen     OpID   `json:"gen,omitzero"`
	After   OpID   `json:"after,omitzero"`
	Text    string `json:"text,omitempty"`
	Targets []Span `json:"targets,omitempty"`
}

// counters reports how many op counters the op consumes.
func (o Op) counters() uint64 {
	if o.Type == opInsert {
		n := uint64(len([]rune(o.Text)))
		if n == 0 {
			n = 1
		}
		return n
	}
	return 1
}

// Change is one atomic unit of history: a batch of ops from a single
// actor, stamped with the causal frontier the actor saw when it committed.
type Change struct {
	Hash    ChangeHash   `json:"hash"`
	Actor   ActorID      `json:"actor"`
	Seq     uint64       `json:"seq"`
	StartOp uint64       `json:"start_op"`
	Time    int64        `json:"time"`
	Deps    []ChangeHash `json:"deps"`
	Ops     []Op         `json:"ops"`
}

// changeBody is the hashed portion of a change. Deps are sorted and
// collections normalized before encoding so the hash is canonical.
type changeBody struct {
	Actor   ActorID      `json:"actor"`
	Seq     uint64       `json:"seq"`
	StartOp uint64       `json:"start_op"`
	Time    int64        `json:"time"`
	Deps    []ChangeHash `json:"deps"`
	Ops     []Op         `json:"ops"`
}

func (c *Change) body() changeBody {
	deps := make([]ChangeHash, len(c.Deps))
	copy(deps, c.Deps)
	sortHashes(deps)
	ops := c.Ops
	if ops == nil {
		ops = []Op{}
	}
	return changeBody{
		Actor:   c.Actor,
		Seq:     c.Seq,
		StartOp: c.StartOp,
		Time:    c.Time,
		Deps:    deps,
		Ops:     ops,
	}
}

// hashChange computes the canonical content address of a change.
func hashChange(c *Change) ChangeHash {
	raw, err := json.Marshal(c.body())
	if err != nil {
		// The body contains only plain data types; this cannot fail.
		panic(fmt.Sprintf("crdt: encode change body: %v", err))
	}
	return sha256.Sum256(raw)
}

// changeMagic prefixes a single encoded change.
var changeMagic = []byte("OTC1")

// Encode serializes the change for transport. The encoding is opaque to
// callers; DecodeChange is its inverse.
func (c *Change) Encode() []byte {
	raw, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("crdt: encode change: %v", err))
	}
	return append(append([]byte{}, changeMagic...), raw...)
}

// DecodeChange parses an encoded change and verifies its hash.
func DecodeChange(b []byte) (Change, error) {
	if !bytes.HasPrefix(b, changeMagic) {
		return Change{}, fmt.Errorf("crdt: decode change: bad magic: %w", apperr.ErrInvalidFormat)
	}
	var c Change
	if err := json.Unmarshal(bytes.TrimPrefix(b, changeMagic), &c); err != nil {
		return Change{}, fmt.Errorf("crdt: decode change: %w", apperr.ErrInvalidFormat)
	}
	if hashChange(&c) != c.Hash {
		return Change{}, fmt.Errorf("crdt: decode change: hash mismatch: %w", apperr.ErrInvalidFormat)
	}
	return c, nil
}
