package rpc

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"

	"github.com/starford/othala/internal/crdt"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
)

const defaultSearchLimit = 20

func (s *Server) createStore(raw json.RawMessage) (any, *Error) {
	var p createStoreParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.Path == "" || p.Name == "" {
		return nil, invalidParams("path and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.manager.CreateLocalStore(p.Path, p.Name)
	if err != nil {
		return nil, storeErr(err)
	}
	root, err := s.manager.RootNodeID(id)
	if err != nil {
		return nil, storeErr(err)
	}
	s.storeOpened(id)
	return createStoreResult{StoreID: id, RootNodeID: root}, nil
}

func (s *Server) openStore(raw json.RawMessage) (any, *Error) {
	var p openStoreParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.Path == "" {
		return nil, invalidParams("path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.manager.OpenLocalStore(p.Path)
	if err != nil {
		return nil, storeErr(err)
	}
	info, err := s.manager.StoreInfo(id)
	if err != nil {
		return nil, storeErr(err)
	}
	s.storeOpened(id)
	return storeResult{Store: info}, nil
}

func (s *Server) closeStore(raw json.RawMessage) (any, *Error) {
	var p storeIDParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.StoreID.IsZero() {
		return nil, invalidParams("store_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.manager.IsOpen(p.StoreID) {
		return struct{}{}, nil
	}
	if s.watcher != nil {
		s.watcher.RemoveStore(p.StoreID)
	}
	if err := s.manager.CloseStore(p.StoreID); err != nil {
		return nil, storeErr(err)
	}
	if s.broker != nil {
		s.broker.PublishStoreEvent("closed", p.StoreID)
	}
	return struct{}{}, nil
}

func (s *Server) listStores() (any, *Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.manager.ListStores()
	stores := make([]models.Store, 0, len(ids))
	for _, id := range ids {
		info, err := s.manager.StoreInfo(id)
		if err != nil {
			continue
		}
		stores = append(stores, info)
	}
	return listStoresResult{Stores: stores}, nil
}

func (s *Server) getNode(raw json.RawMessage) (any, *Error) {
	var p nodeIDParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.StoreID.IsZero() || p.NodeID.IsZero() {
		return nil, invalidParams("store_id and node_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.manager.GetNode(p.StoreID, p.NodeID)
	if err != nil {
		return nil, errFor(err)
	}
	return nodeResult{Node: n}, nil
}

func (s *Server) getNodes(raw json.RawMessage) (any, *Error) {
	var p getNodesParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.StoreID.IsZero() {
		return nil, invalidParams("store_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, err := s.manager.GetNodes(p.StoreID, p.NodeIDs)
	if err != nil {
		return nil, errFor(err)
	}
	return nodesResult{Nodes: nodes}, nil
}

func (s *Server) createNode(raw json.RawMessage) (any, *Error) {
	var p createNodeParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.StoreID.IsZero() || p.NodeType == "" {
		return nil, invalidParams("store_id and node_type are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parentID := p.ParentID
	if parentID == nil {
		root, err := s.manager.RootNodeID(p.StoreID)
		if err != nil {
			return nil, errFor(err)
		}
		parentID = &root
	}

	n := models.NewNode(p.NodeType)
	n.Metadata.Title = p.Title
	if _, err := s.manager.CreateNode(p.StoreID, n, parentID); err != nil {
		return nil, errFor(err)
	}
	if e := s.flush(p.StoreID); e != nil {
		return nil, e
	}
	s.reindexNode(p.StoreID, n.ID)
	s.publishNode("created", p.StoreID, n.ID)
	return createNodeResult{NodeID: n.ID}, nil
}

func (s *Server) updateNodeMetadata(raw json.RawMessage) (any, *Error) {
	var p updateNodeMetadataParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.StoreID.IsZero() || p.NodeID.IsZero() {
		return nil, invalidParams("store_id and node_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.manager.GetNode(p.StoreID, p.NodeID)
	if err != nil {
		return nil, errFor(err)
	}
	md := n.Metadata
	if p.Title != nil {
		md.Title = *p.Title
	}
	if p.Tags != nil {
		md.Tags = p.Tags
	}
	if p.Custom != nil {
		md.Custom = p.Custom
	}
	if err := s.manager.UpdateNodeMetadata(p.StoreID, p.NodeID, md); err != nil {
		return nil, errFor(err)
	}
	if e := s.flush(p.StoreID); e != nil {
		return nil, e
	}
	s.reindexNode(p.StoreID, p.NodeID)
	s.publishNode("updated", p.StoreID, p.NodeID)
	return struct{}{}, nil
}

func (s *Server) updateNodeContent(raw json.RawMessage) (any, *Error) {
	var p updateNodeContentParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.StoreID.IsZero() || p.NodeID.IsZero() {
		return nil, invalidParams("store_id and node_id are required")
	}
	if len(p.Changes) == 0 {
		return nil, invalidParams("changes are required")
	}

	changes := make([]crdt.Change, 0, len(p.Changes))
	for _, enc := range p.Changes {
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, invalidParams("changes must be base64-encoded")
		}
		c, err := crdt.DecodeChange(b)
		if err != nil {
			return nil, errFor(err)
		}
		changes = append(changes, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.manager.NodeDocument(p.StoreID, p.NodeID)
	if err != nil {
		return nil, errFor(err)
	}
	if err := doc.ApplyChanges(changes); err != nil {
		return nil, errFor(err)
	}
	if err := s.manager.SaveNodeDocument(p.StoreID, p.NodeID, doc); err != nil {
		return nil, errFor(err)
	}
	if e := s.flush(p.StoreID); e != nil {
		return nil, e
	}
	s.reindexNode(p.StoreID, p.NodeID)
	s.publishNode("updated", p.StoreID, p.NodeID)
	return struct{}{}, nil
}

func (s *Server) setNodeText(raw json.RawMessage) (any, *Error) {
	var p setNodeTextParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.StoreID.IsZero() || p.NodeID.IsZero() {
		return nil, invalidParams("store_id and node_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.manager.NodeDocument(p.StoreID, p.NodeID)
	if err != nil {
		return nil, errFor(err)
	}
	content := crdt.AsDocumentContent(doc)
	if err := content.SetText(p.Text); err != nil {
		return nil, errFor(err)
	}
	if err := s.manager.SaveNodeDocument(p.StoreID, p.NodeID, content.Document()); err != nil {
		return nil, errFor(err)
	}
	if e := s.flush(p.StoreID); e != nil {
		return nil, e
	}
	s.reindexNode(p.StoreID, p.NodeID)
	s.publishNode("updated", p.StoreID, p.NodeID)
	return struct{}{}, nil
}

func (s *Server) deleteNode(raw json.RawMessage) (any, *Error) {
	var p nodeIDParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.StoreID.IsZero() || p.NodeID.IsZero() {
		return nil, invalidParams("store_id and node_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.manager.DeleteNode(p.StoreID, p.NodeID); err != nil {
		return nil, errFor(err)
	}
	if e := s.flush(p.StoreID); e != nil {
		return nil, e
	}
	if err := s.db.DeleteNode(p.StoreID, p.NodeID); err != nil {
		slog.Warn("index delete failed",
			slog.String("node", p.NodeID.String()), slog.String("error", err.Error()))
	}
	s.publishNode("deleted", p.StoreID, p.NodeID)
	return struct{}{}, nil
}

func (s *Server) moveNode(raw json.RawMessage) (any, *Error) {
	var p moveNodeParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.StoreID.IsZero() || p.NodeID.IsZero() || p.NewParentID.IsZero() {
		return nil, invalidParams("store_id, node_id and new_parent_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.manager.MoveNode(p.StoreID, p.NodeID, p.NewParentID, p.Position); err != nil {
		return nil, errFor(err)
	}
	if e := s.flush(p.StoreID); e != nil {
		return nil, e
	}
	s.publishNode("moved", p.StoreID, p.NodeID)
	return struct{}{}, nil
}

func (s *Server) getChildren(raw json.RawMessage) (any, *Error) {
	var p nodeIDParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.StoreID.IsZero() || p.NodeID.IsZero() {
		return nil, invalidParams("store_id and node_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	children, err := s.manager.GetChildren(p.StoreID, p.NodeID)
	if err != nil {
		return nil, errFor(err)
	}
	return childrenResult{Children: children}, nil
}

func (s *Server) search(raw json.RawMessage) (any, *Error) {
	var p searchParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.Query == "" {
		return nil, invalidParams("query is required")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	results, err := s.db.Search(p.Query, p.StoreIDs, limit)
	if err != nil {
		return nil, serverErr(err)
	}
	hits := make([]searchHit, len(results))
	for i, r := range results {
		hits[i] = searchHit{StoreID: r.StoreID, NodeID: r.NodeID, Title: r.Title, Snippet: r.Snippet}
	}
	return searchResponse{Results: hits, Total: len(hits)}, nil
}

// storeOpened hooks a freshly opened store into the index, the watcher
// and the event stream. Caller holds the write lock.
func (s *Server) storeOpened(id models.StoreID) {
	st, err := s.manager.Store(id)
	if err != nil {
		return
	}
	if err := index.Sync(s.db, st, s.types, slog.Default()); err != nil {
		slog.Warn("store sync failed",
			slog.String("store", id.String()), slog.String("error", err.Error()))
	}
	if s.watcher != nil {
		if err := s.watcher.AddStore(id, st.Path()); err != nil {
			slog.Warn("watch store failed",
				slog.String("store", id.String()), slog.String("error", err.Error()))
		}
	}
	if s.broker != nil {
		s.broker.PublishStoreEvent("opened", id)
	}
}

func (s *Server) flush(id models.StoreID) *Error {
	if err := s.manager.Flush(id); err != nil {
		return serverErr(err)
	}
	return nil
}

// reindexNode feeds a node's current state into the search index. Index
// trouble never fails the RPC call; the next sync pass catches up.
func (s *Server) reindexNode(storeID models.StoreID, nodeID models.NodeID) {
	n, err := s.manager.GetNode(storeID, nodeID)
	if err != nil {
		return
	}
	if err := index.IndexNode(s.db, storeID, n, s.types); err != nil {
		slog.Warn("index update failed",
			slog.String("node", nodeID.String()), slog.String("error", err.Error()))
	}
}

func (s *Server) publishNode(kind string, storeID models.StoreID, nodeID models.NodeID) {
	if s.broker != nil {
		s.broker.PublishNodeEvent(kind, storeID, nodeID)
	}
}
