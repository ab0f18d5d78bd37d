// Package crdt implements the conflict-free document engine behind node
// content. A Document is an append-only log of changes: every mutation
// commits one change, visible state is a deterministic fold of the log,
// and two documents that have seen the same changes render the same
// state regardless of arrival order.
//
// Scalars live in last-writer-wins registers keyed by name; text lives in
// a tombstoned sequence ordered by operation id (see text.go). Changes
// name their causal dependencies by hash, so replicas can exchange deltas
// with ChangesSince/ApplyChanges or whole histories with Merge.
package crdt

import (
	"fmt"
	"sort"
	"time"

	"github.com/starford/othala/internal/apperr"
)

// register holds the live (not yet overwritten) put operations for one
// key. The visible value is the one with the greatest op id.
type register struct {
	live map[OpID]Value
}

// Document is an op-based CRDT document. It is not safe for concurrent
// use; callers synchronize externally.
type Document struct {
	actor ActorID
	maxOp uint64
	seq   map[ActorID]uint64

	applied map[ChangeHash]*Change
	log     []ChangeHash // application order, always causally sorted
	heads   map[ChangeHash]struct{}
	pending map[ChangeHash]*Change // buffered until dependencies arrive

	regs  map[string]*register
	texts map[OpID]*textSeq
}

// New creates an empty document with a fresh random actor.
func New() *Document {
	return &Document{
		actor:   NewActorID(),
		seq:     map[ActorID]uint64{},
		applied: map[ChangeHash]*Change{},
		heads:   map[ChangeHash]struct{}{},
		pending: map[ChangeHash]*Change{},
		regs:    map[string]*register{},
		texts:   map[OpID]*textSeq{},
	}
}

// Actor returns the actor id this document writes under.
func (d *Document) Actor() ActorID {
	return d.actor
}

// Heads returns the current causal frontier: the hashes of the changes no
// other applied change depends on. Sorted for determinism.
func (d *Document) Heads() []ChangeHash {
	hs := make([]ChangeHash, 0, len(d.heads))
	for h := range d.heads {
		hs = append(hs, h)
	}
	sortHashes(hs)
	return hs
}

// ChangesSince returns every applied change that is not in the ancestry
// of the given heads, in causal order. Unknown heads contribute nothing,
// so a caller with a stale or foreign frontier simply receives more
// changes; applying them elsewhere is idempotent.
func (d *Document) ChangesSince(heads []ChangeHash) []Change {
	reach := make(map[ChangeHash]bool)
	var stack []ChangeHash
	for _, h := range heads {
		if _, ok := d.applied[h]; ok {
			stack = append(stack, h)
		}
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reach[h] {
			continue
		}
		reach[h] = true
		stack = append(stack, d.applied[h].Deps...)
	}

	out := make([]Change, 0)
	for _, h := range d.log {
		if !reach[h] {
			out = append(out, *d.applied[h])
		}
	}
	return out
}

// ApplyChange applies one change. Already-seen changes are no-ops. A
// change whose dependencies have not arrived yet is buffered and applied
// automatically once they do; buffering is not an error.
func (d *Document) ApplyChange(c Change) error {
	if hashChange(&c) != c.Hash {
		return fmt.Errorf("crdt: apply change: hash mismatch: %w", apperr.ErrInvalidFormat)
	}
	if _, ok := d.applied[c.Hash]; ok {
		return nil
	}
	if _, ok := d.pending[c.Hash]; ok {
		return nil
	}
	cc := c
	if !d.ready(&cc) {
		d.pending[cc.Hash] = &cc
		return nil
	}
	if err := d.integrate(&cc); err != nil {
		return err
	}
	d.drainPending()
	return nil
}

// ApplyChanges applies a batch of changes, stopping at the first invalid
// one.
func (d *Document) ApplyChanges(changes []Change) error {
	for i := range changes {
		if err := d.ApplyChange(changes[i]); err != nil {
			return err
		}
	}
	return nil
}

// Merge folds another document's history into this one. Shared changes
// are skipped, so merging is idempotent and symmetric: after A.Merge(B)
// and B.Merge(A), both render the same state.
func (d *Document) Merge(other *Document) error {
	for _, h := range other.log {
		if err := d.ApplyChange(*other.applied[h]); err != nil {
			return err
		}
	}
	return nil
}

// Fork returns an independent copy with its own actor. Changes buffered
// as pending are not carried over.
func (d *Document) Fork() *Document {
	nd := New()
	for _, h := range d.log {
		// log order satisfies dependencies, replay cannot fail
		_ = nd.ApplyChange(*d.applied[h])
	}
	return nd
}

// SetString writes a string value at a top-level key.
func (d *Document) SetString(key, value string) error {
	return d.putScalar(key, Value{Kind: KindString, Str: value})
}

// SetInt writes an integer value at a top-level key.
func (d *Document) SetInt(key string, value int64) error {
	return d.putScalar(key, Value{Kind: KindInt, Int: value})
}

// SetBool writes a boolean value at a top-level key.
func (d *Document) SetBool(key string, value bool) error {
	return d.putScalar(key, Value{Kind: KindBool, Bool: value})
}

// GetString reads a string value. ok is false when the key is absent;
// a value of another type yields a TypeMismatchError.
func (d *Document) GetString(key string) (string, bool, error) {
	v, ok := d.winner(key)
	if !ok {
		return "", false, nil
	}
	if v.Kind != KindString {
		return "", false, &TypeMismatchError{Expected: KindString, Actual: v.Kind}
	}
	return v.Str, true, nil
}

// GetInt reads an integer value.
func (d *Document) GetInt(key string) (int64, bool, error) {
	v, ok := d.winner(key)
	if !ok {
		return 0, false, nil
	}
	if v.Kind != KindInt {
		return 0, false, &TypeMismatchError{Expected: KindInt, Actual: v.Kind}
	}
	return v.Int, true, nil
}

// GetBool reads a boolean value.
func (d *Document) GetBool(key string) (bool, bool, error) {
	v, ok := d.winner(key)
	if !ok {
		return false, false, nil
	}
	if v.Kind != KindBool {
		return false, false, &TypeMismatchError{Expected: KindBool, Actual: v.Kind}
	}
	return v.Bool, true, nil
}

// Delete removes a top-level key. Deleting an absent key is a no-op.
func (d *Document) Delete(key string) error {
	pred := d.predsFor(key)
	if len(pred) == 0 {
		return nil
	}
	op := Op{Type: opDel, ID: d.nextOpID(), Key: key, Pred: pred}
	return d.commit([]Op{op})
}

// ContainsKey reports whether a top-level key currently holds a value.
func (d *Document) ContainsKey(key string) bool {
	_, ok := d.winner(key)
	return ok
}

func (d *Document) putScalar(key string, v Value) error {
	op := Op{Type: opSet, ID: d.nextOpID(), Key: key, Value: &v, Pred: d.predsFor(key)}
	return d.commit([]Op{op})
}

func (d *Document) nextOpID() OpID {
	return OpID{Counter: d.maxOp + 1, Actor: d.actor}
}

// predsFor returns the live put op ids for a key, sorted so the resulting
// change encodes canonically.
func (d *Document) predsFor(key string) []OpID {
	r := d.regs[key]
	if r == nil || len(r.live) == 0 {
		return nil
	}
	ids := make([]OpID, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// winner resolves a key to its visible value: the live put with the
// greatest op id.
func (d *Document) winner(key string) (Value, bool) {
	r := d.regs[key]
	if r == nil || len(r.live) == 0 {
		return Value{}, false
	}
	var best OpID
	var bv Value
	first := true
	for id, v := range r.live {
		if first || best.Less(id) {
			best, bv = id, v
			first = false
		}
	}
	return bv, true
}

// commit stamps local ops into a change against the current frontier and
// integrates it.
func (d *Document) commit(ops []Op) error {
	c := &Change{
		Actor:   d.actor,
		Seq:     d.seq[d.actor] + 1,
		StartOp: d.maxOp + 1,
		Time:    time.Now().UnixMilli(),
		Deps:    d.Heads(),
		Ops:     ops,
	}
	c.Hash = hashChange(c)
	if err := d.integrate(c); err != nil {
		return err
	}
	return nil
}

func (d *Document) ready(c *Change) bool {
	for _, dep := range c.Deps {
		if _, ok := d.applied[dep]; !ok {
			return false
		}
	}
	return true
}

func (d *Document) drainPending() {
	for {
		progressed := false
		for h, c := range d.pending {
			if !d.ready(c) {
				continue
			}
			delete(d.pending, h)
			// A buffered change that turns out to be structurally invalid
			// is discarded; the document keeps serving its last good state.
			_ = d.integrate(c)
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

// integrate validates and applies a causally-ready change.
func (d *Document) integrate(c *Change) error {
	if err := d.validate(c); err != nil {
		return err
	}
	for i := range c.Ops {
		d.applyOp(&c.Ops[i])
	}
	d.applied[c.Hash] = c
	d.log = append(d.log, c.Hash)
	for _, dep := range c.Deps {
		delete(d.heads, dep)
	}
	d.heads[c.Hash] = struct{}{}
	if c.Seq > d.seq[c.Actor] {
		d.seq[c.Actor] = c.Seq
	}
	for _, op := range c.Ops {
		if last := op.ID.Counter + op.counters() - 1; last > d.maxOp {
			d.maxOp = last
		}
	}
	return nil
}

func badChange(msg string) error {
	return fmt.Errorf("crdt: invalid change: %s: %w", msg, apperr.ErrInvalidFormat)
}

// validate checks a change's structure against current state before any
// of it is applied. Ops may reference generations and elements created
// earlier in the same change.
func (d *Document) validate(c *Change) error {
	newGens := make(map[OpID]bool)
	newElems := make(map[OpID]map[OpID]bool)

	genKnown := func(gen OpID) bool {
		if newGens[gen] {
			return true
		}
		_, ok := d.texts[gen]
		return ok
	}
	elemKnown := func(gen, id OpID) bool {
		if newElems[gen][id] {
			return true
		}
		seq, ok := d.texts[gen]
		return ok && seq.elems[id] != nil
	}

	for _, op := range c.Ops {
		if op.ID.Counter == 0 {
			return badChange("op id missing")
		}
		switch op.Type {
		case opSet:
			if op.Key == "" || op.Value == nil {
				return badChange("incomplete set op")
			}
			switch op.Value.Kind {
			case KindString, KindInt, KindBool:
			default:
				return badChange("set op with non-scalar value")
			}
		case opDel:
			if op.Key == "" {
				return badChange("incomplete del op")
			}
		case opNewText:
			if op.Key == "" {
				return badChange("incomplete text op")
			}
			newGens[op.ID] = true
		case opInsert:
			if op.Text == "" {
				return badChange("empty insert")
			}
			if !genKnown(op.Gen) {
				return badChange("insert into unknown generation")
			}
			if !op.After.IsZero() && !elemKnown(op.Gen, op.After) {
				return badChange("insert origin unknown")
			}
			ids := newElems[op.Gen]
			if ids == nil {
				ids = make(map[OpID]bool)
				newElems[op.Gen] = ids
			}
			cnt := op.ID.Counter
			for range op.Text {
				id := OpID{Counter: cnt, Actor: op.ID.Actor}
				if elemKnown(op.Gen, id) {
					return badChange("duplicate element id")
				}
				ids[id] = true
				cnt++
			}
		case opRemove:
			if len(op.Targets) == 0 {
				return badChange("remove without targets")
			}
			if !genKnown(op.Gen) {
				return badChange("remove in unknown generation")
			}
		default:
			return badChange("unknown op type " + op.Type)
		}
	}
	return nil
}

func (d *Document) reg(key string) *register {
	r := d.regs[key]
	if r == nil {
		r = &register{live: map[OpID]Value{}}
		d.regs[key] = r
	}
	return r
}

func (d *Document) applyOp(op *Op) {
	switch op.Type {
	case opSet:
		r := d.reg(op.Key)
		for _, p := range op.Pred {
			delete(r.live, p)
		}
		r.live[op.ID] = *op.Value
	case opDel:
		r := d.reg(op.Key)
		for _, p := range op.Pred {
			delete(r.live, p)
		}
	case opNewText:
		if _, ok := d.texts[op.ID]; !ok {
			d.texts[op.ID] = newTextSeq()
		}
		r := d.reg(op.Key)
		for _, p := range op.Pred {
			delete(r.live, p)
		}
		r.live[op.ID] = Value{Kind: KindText, Text: op.ID}
	case opInsert:
		d.texts[op.Gen].insertRun(op.ID, op.After, op.Text)
	case opRemove:
		seq := d.texts[op.Gen]
		for _, span := range op.Targets {
			for i := 0; i < span.Len; i++ {
				seq.tombstone(OpID{Counter: span.Counter + uint64(i), Actor: span.Actor})
			}
		}
	}
}
