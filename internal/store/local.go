// Package store implements durable node storage: LocalStore persists one
// tree of nodes under a directory with a write-back cache, and Manager
// multiplexes the open stores.
//
// Directory layout of a store:
//
//	<path>/manifest.json           store metadata
//	<path>/nodes/<id>.json         node metadata, content stripped
//	<path>/nodes/<id>.automerge    content bytes, present only if non-empty
//	<path>/assets/                 reserved for binary assets
//	<path>/index/                  reserved for search indexes
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/crdt"
	"github.com/starford/othala/internal/models"
)

const (
	nodesDir     = "nodes"
	assetsDir    = "assets"
	indexDir     = "index"
	manifestFile = "manifest.json"
	contentExt   = ".automerge"
)

// LocalStore is one store on the local filesystem. All mutations are
// memory-only until Flush; reads load nodes lazily into the cache.
// LocalStore is not safe for concurrent use.
type LocalStore struct {
	id       models.StoreID
	path     string
	manifest models.StoreManifest

	nodes map[models.NodeID]*models.Node
	dirty map[models.NodeID]struct{}
}

// Create initializes a new store at path. The path must not exist yet.
// The root folder node, titled after the store, is persisted immediately.
func Create(path, name string) (*LocalStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store: resolve %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err == nil {
		return nil, fmt.Errorf("store: create %s: %w", abs, apperr.ErrAlreadyExists)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", abs, err)
	}
	for _, sub := range []string{nodesDir, assetsDir, indexDir} {
		if err := os.Mkdir(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", abs, err)
		}
	}

	root := models.NewFolder(name)
	manifest := models.NewStoreManifest(name, root.ID)

	s := &LocalStore{
		id:       manifest.ID,
		path:     abs,
		manifest: manifest,
		nodes:    map[models.NodeID]*models.Node{},
		dirty:    map[models.NodeID]struct{}{},
	}
	if err := s.writeManifest(); err != nil {
		return nil, err
	}

	s.nodes[root.ID] = root
	s.dirty[root.ID] = struct{}{}
	if err := s.Flush(); err != nil {
		return nil, err
	}

	slog.Info("created local store",
		slog.String("store", s.id.String()),
		slog.String("name", name),
		slog.String("path", abs))
	return s, nil
}

// Open reads the manifest of an existing store. No nodes are loaded;
// opening is O(1) in store size.
func Open(path string) (*LocalStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store: resolve %s: %w", path, err)
	}

	raw, err := os.ReadFile(filepath.Join(abs, manifestFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("store: open %s: no manifest: %w", abs, apperr.ErrInvalidPath)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", abs, err)
	}

	var manifest models.StoreManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("store: open %s: parse manifest: %w", abs, apperr.ErrInvalidFormat)
	}

	slog.Info("opened local store",
		slog.String("store", manifest.ID.String()),
		slog.String("name", manifest.Name),
		slog.String("path", abs))
	return &LocalStore{
		id:       manifest.ID,
		path:     abs,
		manifest: manifest,
		nodes:    map[models.NodeID]*models.Node{},
		dirty:    map[models.NodeID]struct{}{},
	}, nil
}

// ID returns the store id.
func (s *LocalStore) ID() models.StoreID {
	return s.id
}

// Path returns the absolute store directory.
func (s *LocalStore) Path() string {
	return s.path
}

// Manifest returns a copy of the current manifest.
func (s *LocalStore) Manifest() models.StoreManifest {
	return s.manifest
}

// RootNodeID returns the id of the root folder node.
func (s *LocalStore) RootNodeID() models.NodeID {
	return s.manifest.RootNodeID
}

// DirtyCount reports how many nodes await a flush.
func (s *LocalStore) DirtyCount() int {
	return len(s.dirty)
}

// IsDirty reports whether a node has unflushed changes.
func (s *LocalStore) IsDirty(id models.NodeID) bool {
	_, ok := s.dirty[id]
	return ok
}

// node returns the cached node, loading it from disk on a miss.
func (s *LocalStore) node(id models.NodeID) (*models.Node, error) {
	if n, ok := s.nodes[id]; ok {
		return n, nil
	}
	n, err := s.loadNode(id)
	if err != nil {
		return nil, err
	}
	s.nodes[id] = n
	return n, nil
}

// GetNode returns a copy of a node. Mutating the copy does not affect the
// store; use the mutating operations for that.
func (s *LocalStore) GetNode(id models.NodeID) (*models.Node, error) {
	n, err := s.node(id)
	if err != nil {
		return nil, err
	}
	return n.Clone(), nil
}

// GetNodeMut returns the cached node itself and marks it dirty. The
// caller owns the store lock and may mutate the node in place.
func (s *LocalStore) GetNodeMut(id models.NodeID) (*models.Node, error) {
	n, err := s.node(id)
	if err != nil {
		return nil, err
	}
	s.dirty[id] = struct{}{}
	return n, nil
}

// CreateNode inserts a node into the cache, attaching it to the given
// parent. The store takes ownership of the node. Nothing is written to
// disk until Flush.
func (s *LocalStore) CreateNode(node *models.Node, parentID *models.NodeID) (models.NodeID, error) {
	node.ParentID = parentID
	if parentID != nil {
		parent, err := s.GetNodeMut(*parentID)
		if err != nil {
			return models.NodeID{}, err
		}
		parent.AddChild(node.ID)
	}

	s.nodes[node.ID] = node
	s.dirty[node.ID] = struct{}{}

	slog.Debug("created node",
		slog.String("store", s.id.String()),
		slog.String("node", node.ID.String()))
	return node.ID, nil
}

// DeleteNode detaches a node from its parent and removes its on-disk
// files. Children are not touched: a deleted parent orphans its subtree.
func (s *LocalStore) DeleteNode(id models.NodeID) error {
	n, err := s.node(id)
	if err != nil {
		return err
	}

	if n.ParentID != nil {
		parent, err := s.GetNodeMut(*n.ParentID)
		if err == nil {
			parent.RemoveChild(id)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
	}

	for _, p := range []string{s.nodePath(id), s.contentPath(id)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: delete node %s: %w", id, err)
		}
	}

	delete(s.nodes, id)
	delete(s.dirty, id)

	slog.Debug("deleted node",
		slog.String("store", s.id.String()),
		slog.String("node", id.String()))
	return nil
}

// MoveNode reparents a node, inserting it into the new parent's children
// at position (append when nil or out of range). The root cannot move,
// and a node cannot move under itself or its own descendant.
func (s *LocalStore) MoveNode(id models.NodeID, newParentID models.NodeID, position *int) error {
	if id == s.manifest.RootNodeID {
		return fmt.Errorf("store: move node %s: root cannot move: %w", id, apperr.ErrInvalidMove)
	}
	if id == newParentID {
		return fmt.Errorf("store: move node %s under itself: %w", id, apperr.ErrInvalidMove)
	}
	n, err := s.node(id)
	if err != nil {
		return err
	}
	if _, err := s.node(newParentID); err != nil {
		return err
	}

	// Walk up from the new parent; hitting the moved node means the
	// target is inside its own subtree.
	for cur := newParentID; ; {
		p, err := s.node(cur)
		if err != nil {
			return err
		}
		if p.ParentID == nil {
			break
		}
		if *p.ParentID == id {
			return fmt.Errorf("store: move node %s into its own subtree: %w", id, apperr.ErrInvalidMove)
		}
		cur = *p.ParentID
	}

	// A missing old parent is tolerated so orphaned subtrees can be
	// re-attached.
	if n.ParentID != nil && *n.ParentID != newParentID {
		if old, err := s.GetNodeMut(*n.ParentID); err == nil {
			old.RemoveChild(id)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
	}

	parent, err := s.GetNodeMut(newParentID)
	if err != nil {
		return err
	}
	parent.RemoveChild(id)
	if position != nil {
		parent.InsertChild(id, *position)
	} else {
		parent.AddChild(id)
	}

	moved, err := s.GetNodeMut(id)
	if err != nil {
		return err
	}
	moved.ParentID = &newParentID
	moved.Touch()

	slog.Debug("moved node",
		slog.String("store", s.id.String()),
		slog.String("node", id.String()),
		slog.String("parent", newParentID.String()))
	return nil
}

// UpdateNodeMetadata replaces a node's metadata and bumps its
// modification time.
func (s *LocalStore) UpdateNodeMetadata(id models.NodeID, md models.NodeMetadata) error {
	n, err := s.GetNodeMut(id)
	if err != nil {
		return err
	}
	n.Metadata = md
	n.Touch()
	return nil
}

// UpdateNodeContent replaces a node's content bytes.
func (s *LocalStore) UpdateNodeContent(id models.NodeID, content []byte) error {
	n, err := s.GetNodeMut(id)
	if err != nil {
		return err
	}
	n.Content = content
	n.Touch()
	return nil
}

// NodeDocument parses a node's content into a CRDT document. Empty
// content yields an empty document.
func (s *LocalStore) NodeDocument(id models.NodeID) (*crdt.Document, error) {
	n, err := s.node(id)
	if err != nil {
		return nil, err
	}
	doc, err := crdt.Load(n.Content)
	if err != nil {
		return nil, fmt.Errorf("store: node %s: %w", id, err)
	}
	return doc, nil
}

// SaveNodeDocument writes a CRDT document back into a node's content.
func (s *LocalStore) SaveNodeDocument(id models.NodeID, doc *crdt.Document) error {
	return s.UpdateNodeContent(id, doc.Save())
}

// GetChildren resolves a node's children, in order, as copies.
func (s *LocalStore) GetChildren(id models.NodeID) ([]*models.Node, error) {
	n, err := s.node(id)
	if err != nil {
		return nil, err
	}
	ids := make([]models.NodeID, len(n.Children))
	copy(ids, n.Children)

	children := make([]*models.Node, 0, len(ids))
	for _, cid := range ids {
		child, err := s.GetNode(cid)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// Flush writes dirty nodes to disk in deterministic order, clearing each
// node's dirty mark as it lands. On failure the failing node and every
// node not yet written stay dirty, so a later Flush retries exactly the
// unwritten remainder. The manifest is rewritten once after a clean pass.
func (s *LocalStore) Flush() error {
	ids := make([]models.NodeID, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		return bytes.Compare(a[:], b[:]) < 0
	})

	for _, id := range ids {
		n, ok := s.nodes[id]
		if !ok {
			delete(s.dirty, id)
			continue
		}
		if err := s.saveNode(n); err != nil {
			return fmt.Errorf("store: flush node %s: %w", id, err)
		}
		delete(s.dirty, id)
	}

	s.manifest.ModifiedAt = time.Now().UTC()
	if err := s.writeManifest(); err != nil {
		return err
	}

	slog.Debug("flushed store",
		slog.String("store", s.id.String()),
		slog.Int("nodes", len(ids)))
	return nil
}

// ListNodeIDs scans the nodes directory. The listing reflects what has
// been flushed, independent of the cache, and includes nodes no longer
// reachable from the root.
func (s *LocalStore) ListNodeIDs() ([]models.NodeID, error) {
	entries, err := os.ReadDir(filepath.Join(s.path, nodesDir))
	if err != nil {
		return nil, fmt.Errorf("store: list nodes: %w", err)
	}
	ids := make([]models.NodeID, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".json" {
			continue
		}
		id, err := models.ParseNodeID(name[:len(name)-len(ext)])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		return bytes.Compare(a[:], b[:]) < 0
	})
	return ids, nil
}

func (s *LocalStore) nodePath(id models.NodeID) string {
	return filepath.Join(s.path, nodesDir, id.String()+".json")
}

func (s *LocalStore) contentPath(id models.NodeID) string {
	return filepath.Join(s.path, nodesDir, id.String()+contentExt)
}

func (s *LocalStore) loadNode(id models.NodeID) (*models.Node, error) {
	raw, err := os.ReadFile(s.nodePath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("store: node %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load node %s: %w", id, err)
	}

	var n models.Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("store: load node %s: %w", id, apperr.ErrInvalidFormat)
	}

	content, err := os.ReadFile(s.contentPath(id))
	if err == nil {
		n.Content = content
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: load node %s content: %w", id, err)
	}
	return &n, nil
}

// saveNode writes a node's metadata and content files. The metadata JSON
// never carries content bytes; those live in the sidecar file, which
// exists only while content is non-empty.
func (s *LocalStore) saveNode(n *models.Node) error {
	meta := n.Clone()
	meta.Content = nil
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode node: %w", err)
	}
	if err := writeFileAtomic(s.nodePath(n.ID), raw); err != nil {
		return err
	}

	if len(n.Content) > 0 {
		return writeFileAtomic(s.contentPath(n.ID), n.Content)
	}
	if err := os.Remove(s.contentPath(n.ID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale content: %w", err)
	}
	return nil
}

func (s *LocalStore) writeManifest() error {
	raw, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.path, manifestFile), raw); err != nil {
		return fmt.Errorf("store: write manifest: %w", err)
	}
	return nil
}
