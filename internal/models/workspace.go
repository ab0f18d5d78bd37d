package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkspaceVersion is the current workspace file schema version.
const WorkspaceVersion uint32 = 1

// DefaultMaxRecent caps the recent-node history of a workspace.
const DefaultMaxRecent = 50

// Workspace is the user's view into a set of stores. Workspaces are whole
// JSON documents on disk and never go through the write-back cache.
type Workspace struct {
	Version uint32           `json:"version"`
	ID      uuid.UUID        `json:"id"`
	Name    string           `json:"name"`
	Stores  []WorkspaceStore `json:"stores"`
	UIState WorkspaceUIState `json:"ui_state"`
}

// NewWorkspace creates an empty workspace with default UI state.
func NewWorkspace(name string) *Workspace {
	return &Workspace{
		Version: WorkspaceVersion,
		ID:      uuid.New(),
		Name:    name,
		Stores:  []WorkspaceStore{},
		UIState: DefaultUIState(),
	}
}

// AddStore appends a store at the end of the list.
func (w *Workspace) AddStore(s Store) {
	w.Stores = append(w.Stores, WorkspaceStore{
		Store:         s,
		Position:      len(w.Stores),
		ExpandedNodes: []NodeID{},
	})
}

// RemoveStore drops a store and recomputes positions. It reports whether
// the store was present.
func (w *Workspace) RemoveStore(id StoreID) bool {
	for i, s := range w.Stores {
		if s.Store.ID == id {
			w.Stores = append(w.Stores[:i], w.Stores[i+1:]...)
			for j := range w.Stores {
				w.Stores[j].Position = j
			}
			return true
		}
	}
	return false
}

// FindStore returns the workspace entry for a store id.
func (w *Workspace) FindStore(id StoreID) (*WorkspaceStore, bool) {
	for i := range w.Stores {
		if w.Stores[i].Store.ID == id {
			return &w.Stores[i], true
		}
	}
	return nil, false
}

// WorkspaceStore is a store as it appears in a workspace: the store view
// plus per-workspace presentation state.
type WorkspaceStore struct {
	Store         Store    `json:"store"`
	DisplayName   *string  `json:"display_name,omitempty"`
	Position      int      `json:"position"`
	ExpandedNodes []NodeID `json:"expanded_nodes"`
}

// Label returns the display name, falling back to the store name.
func (s *WorkspaceStore) Label() string {
	if s.DisplayName != nil && *s.DisplayName != "" {
		return *s.DisplayName
	}
	return s.Store.Name
}

// IsExpanded reports whether a node is expanded in the tree view.
func (s *WorkspaceStore) IsExpanded(id NodeID) bool {
	for _, n := range s.ExpandedNodes {
		if n == id {
			return true
		}
	}
	return false
}

// Expand marks a node expanded.
func (s *WorkspaceStore) Expand(id NodeID) {
	if !s.IsExpanded(id) {
		s.ExpandedNodes = append(s.ExpandedNodes, id)
	}
}

// Collapse marks a node collapsed.
func (s *WorkspaceStore) Collapse(id NodeID) {
	for i, n := range s.ExpandedNodes {
		if n == id {
			s.ExpandedNodes = append(s.ExpandedNodes[:i], s.ExpandedNodes[i+1:]...)
			return
		}
	}
}

// ToggleExpanded flips a node's expanded state and returns the new state.
func (s *WorkspaceStore) ToggleExpanded(id NodeID) bool {
	if s.IsExpanded(id) {
		s.Collapse(id)
		return false
	}
	s.Expand(id)
	return true
}

// NodeRef addresses a node across stores.
type NodeRef struct {
	StoreID StoreID `json:"store_id"`
	NodeID  NodeID  `json:"node_id"`
}

// WorkspaceUIState is presentation state persisted with the workspace.
type WorkspaceUIState struct {
	TreePanelWidth float64   `json:"tree_panel_width"`
	SelectedNode   *NodeRef  `json:"selected_node,omitempty"`
	RecentNodes    []NodeRef `json:"recent_nodes"`
	MaxRecent      int       `json:"max_recent"`
}

// DefaultUIState returns the initial UI state for a new workspace.
func DefaultUIState() WorkspaceUIState {
	return WorkspaceUIState{
		TreePanelWidth: 250,
		RecentNodes:    []NodeRef{},
		MaxRecent:      DefaultMaxRecent,
	}
}

// SelectNode selects a node and pushes it onto the recent history,
// deduplicating and trimming to MaxRecent.
func (u *WorkspaceUIState) SelectNode(storeID StoreID, nodeID NodeID) {
	ref := NodeRef{StoreID: storeID, NodeID: nodeID}
	u.SelectedNode = &ref

	kept := u.RecentNodes[:0]
	for _, r := range u.RecentNodes {
		if r != ref {
			kept = append(kept, r)
		}
	}
	u.RecentNodes = append([]NodeRef{ref}, kept...)
	if u.MaxRecent > 0 && len(u.RecentNodes) > u.MaxRecent {
		u.RecentNodes = u.RecentNodes[:u.MaxRecent]
	}
}

// GoBack pops the current node off the history and selects the previous
// one. It reports false when there is no history to go back to.
func (u *WorkspaceUIState) GoBack() (NodeRef, bool) {
	if len(u.RecentNodes) < 2 {
		return NodeRef{}, false
	}
	u.RecentNodes = u.RecentNodes[1:]
	ref := u.RecentNodes[0]
	u.SelectedNode = &ref
	return ref, true
}

// WorkspaceRef points at a workspace file on disk.
type WorkspaceRef struct {
	Path       string     `json:"path"`
	Name       string     `json:"name"`
	LastOpened *time.Time `json:"last_opened,omitempty"`
}
