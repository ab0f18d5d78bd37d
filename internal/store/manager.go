package store

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/crdt"
	"github.com/starford/othala/internal/models"
)

// Manager multiplexes the open stores, keyed by store id. Operations on
// an id that is not open fail with a wrapped apperr.ErrNotOpen naming the
// store. The manager performs no locking of its own; callers serialize
// access externally.
type Manager struct {
	stores map[models.StoreID]*LocalStore
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{stores: map[models.StoreID]*LocalStore{}}
}

// CreateLocalStore creates a store on disk and registers it.
func (m *Manager) CreateLocalStore(path, name string) (models.StoreID, error) {
	s, err := Create(path, name)
	if err != nil {
		return models.StoreID{}, err
	}
	m.stores[s.ID()] = s
	return s.ID(), nil
}

// OpenLocalStore opens a store from disk and registers it. Opening a
// store that is already open succeeds and keeps the registered instance:
// its cache and dirty state are not discarded.
func (m *Manager) OpenLocalStore(path string) (models.StoreID, error) {
	s, err := Open(path)
	if err != nil {
		return models.StoreID{}, err
	}
	id := s.ID()
	if _, ok := m.stores[id]; ok {
		slog.Info("store already open", slog.String("store", id.String()))
		return id, nil
	}
	m.stores[id] = s
	return id, nil
}

// CloseStore flushes and unregisters a store. Closing an unknown id is a
// no-op. When the flush fails the store stays registered so the caller
// can retry without losing dirty state.
func (m *Manager) CloseStore(id models.StoreID) error {
	s, ok := m.stores[id]
	if !ok {
		return nil
	}
	if err := s.Flush(); err != nil {
		return err
	}
	delete(m.stores, id)
	slog.Info("closed store", slog.String("store", id.String()))
	return nil
}

// StoreInfo assembles the derived Store view for an open store.
func (m *Manager) StoreInfo(id models.StoreID) (models.Store, error) {
	s, err := m.store(id)
	if err != nil {
		return models.Store{}, err
	}
	manifest := s.Manifest()
	return models.Store{
		ID:         id,
		Name:       manifest.Name,
		Location:   models.LocalLocation(s.Path()),
		RootNodeID: manifest.RootNodeID,
		SyncState:  models.SyncState{State: models.SyncOffline},
	}, nil
}

// ListStores returns the ids of all open stores, sorted.
func (m *Manager) ListStores() []models.StoreID {
	ids := make([]models.StoreID, 0, len(m.stores))
	for id := range m.stores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		return bytes.Compare(a[:], b[:]) < 0
	})
	return ids
}

// IsOpen reports whether a store id is registered.
func (m *Manager) IsOpen(id models.StoreID) bool {
	_, ok := m.stores[id]
	return ok
}

// RootNodeID returns the root node id of an open store.
func (m *Manager) RootNodeID(id models.StoreID) (models.NodeID, error) {
	s, err := m.store(id)
	if err != nil {
		return models.NodeID{}, err
	}
	return s.RootNodeID(), nil
}

// StorePath returns the directory of an open store.
func (m *Manager) StorePath(id models.StoreID) (string, error) {
	s, err := m.store(id)
	if err != nil {
		return "", err
	}
	return s.Path(), nil
}

// GetNode returns a copy of a node from an open store.
func (m *Manager) GetNode(storeID models.StoreID, nodeID models.NodeID) (*models.Node, error) {
	s, err := m.store(storeID)
	if err != nil {
		return nil, err
	}
	return s.GetNode(nodeID)
}

// GetNodes resolves a batch of nodes. Nodes that cannot be loaded are
// skipped, so the result may be shorter than the request.
func (m *Manager) GetNodes(storeID models.StoreID, nodeIDs []models.NodeID) ([]*models.Node, error) {
	s, err := m.store(storeID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		n, err := s.GetNode(id)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// CreateNode inserts a node into an open store.
func (m *Manager) CreateNode(storeID models.StoreID, node *models.Node, parentID *models.NodeID) (models.NodeID, error) {
	s, err := m.store(storeID)
	if err != nil {
		return models.NodeID{}, err
	}
	return s.CreateNode(node, parentID)
}

// DeleteNode removes a node from an open store.
func (m *Manager) DeleteNode(storeID models.StoreID, nodeID models.NodeID) error {
	s, err := m.store(storeID)
	if err != nil {
		return err
	}
	return s.DeleteNode(nodeID)
}

// MoveNode reparents a node within an open store.
func (m *Manager) MoveNode(storeID models.StoreID, nodeID, newParentID models.NodeID, position *int) error {
	s, err := m.store(storeID)
	if err != nil {
		return err
	}
	return s.MoveNode(nodeID, newParentID, position)
}

// UpdateNodeMetadata replaces a node's metadata in an open store.
func (m *Manager) UpdateNodeMetadata(storeID models.StoreID, nodeID models.NodeID, md models.NodeMetadata) error {
	s, err := m.store(storeID)
	if err != nil {
		return err
	}
	return s.UpdateNodeMetadata(nodeID, md)
}

// UpdateNodeContent replaces a node's content bytes in an open store.
func (m *Manager) UpdateNodeContent(storeID models.StoreID, nodeID models.NodeID, content []byte) error {
	s, err := m.store(storeID)
	if err != nil {
		return err
	}
	return s.UpdateNodeContent(nodeID, content)
}

// NodeDocument loads a node's content as a CRDT document.
func (m *Manager) NodeDocument(storeID models.StoreID, nodeID models.NodeID) (*crdt.Document, error) {
	s, err := m.store(storeID)
	if err != nil {
		return nil, err
	}
	return s.NodeDocument(nodeID)
}

// SaveNodeDocument stores a CRDT document back into a node.
func (m *Manager) SaveNodeDocument(storeID models.StoreID, nodeID models.NodeID, doc *crdt.Document) error {
	s, err := m.store(storeID)
	if err != nil {
		return err
	}
	return s.SaveNodeDocument(nodeID, doc)
}

// GetChildren resolves a node's children in an open store.
func (m *Manager) GetChildren(storeID models.StoreID, nodeID models.NodeID) ([]*models.Node, error) {
	s, err := m.store(storeID)
	if err != nil {
		return nil, err
	}
	return s.GetChildren(nodeID)
}

// Flush writes an open store's dirty nodes to disk.
func (m *Manager) Flush(id models.StoreID) error {
	s, err := m.store(id)
	if err != nil {
		return err
	}
	return s.Flush()
}

// FlushAll flushes every open store, stopping at the first failure.
func (m *Manager) FlushAll() error {
	for _, id := range m.ListStores() {
		if err := m.stores[id].Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Store returns the open LocalStore itself. Callers that hold the
// manager lock can use it for store-level operations like ListNodeIDs.
func (m *Manager) Store(id models.StoreID) (*LocalStore, error) {
	return m.store(id)
}

func (m *Manager) store(id models.StoreID) (*LocalStore, error) {
	s, ok := m.stores[id]
	if !ok {
		return nil, fmt.Errorf("store: %s: %w", id, apperr.ErrNotOpen)
	}
	return s, nil
}
