package rpc

import (
	"github.com/starford/othala/internal/models"
)

// Method params and results. Field names follow the wire convention of the
// rest of the surface: snake_case, ids in canonical UUID form.

type createStoreParams struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type createStoreResult struct {
	StoreID    models.StoreID `json:"store_id"`
	RootNodeID models.NodeID  `json:"root_node_id"`
}

type openStoreParams struct {
	Path string `json:"path"`
}

type storeResult struct {
	Store models.Store `json:"store"`
}

type storeIDParams struct {
	StoreID models.StoreID `json:"store_id"`
}

type listStoresResult struct {
	Stores []models.Store `json:"stores"`
}

type nodeIDParams struct {
	StoreID models.StoreID `json:"store_id"`
	NodeID  models.NodeID  `json:"node_id"`
}

type nodeResult struct {
	Node *models.Node `json:"node"`
}

type getNodesParams struct {
	StoreID models.StoreID  `json:"store_id"`
	NodeIDs []models.NodeID `json:"node_ids"`
}

type nodesResult struct {
	Nodes []*models.Node `json:"nodes"`
}

type createNodeParams struct {
	StoreID  models.StoreID `json:"store_id"`
	ParentID *models.NodeID `json:"parent_id,omitempty"`
	NodeType string         `json:"node_type"`
	Title    string         `json:"title"`
}

type createNodeResult struct {
	NodeID models.NodeID `json:"node_id"`
}

// updateNodeMetadataParams carries a partial metadata update: absent
// fields keep their current values.
type updateNodeMetadataParams struct {
	StoreID models.StoreID `json:"store_id"`
	NodeID  models.NodeID  `json:"node_id"`
	Title   *string        `json:"title,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
	Custom  map[string]any `json:"custom,omitempty"`
}

type updateNodeContentParams struct {
	StoreID models.StoreID `json:"store_id"`
	NodeID  models.NodeID  `json:"node_id"`
	Changes []string       `json:"changes"` // base64-encoded serialized changes
}

type setNodeTextParams struct {
	StoreID models.StoreID `json:"store_id"`
	NodeID  models.NodeID  `json:"node_id"`
	Text    string         `json:"text"`
}

type moveNodeParams struct {
	StoreID     models.StoreID `json:"store_id"`
	NodeID      models.NodeID  `json:"node_id"`
	NewParentID models.NodeID  `json:"new_parent_id"`
	Position    *int           `json:"position,omitempty"`
}

type childrenResult struct {
	Children []*models.Node `json:"children"`
}

type workspacePathParams struct {
	Path string `json:"path"`
}

type workspaceResult struct {
	Workspace *models.Workspace `json:"workspace"`
}

type saveWorkspaceParams struct {
	Path      string            `json:"path"`
	Workspace *models.Workspace `json:"workspace"`
}

type createWorkspaceParams struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type searchParams struct {
	Query    string           `json:"query"`
	StoreIDs []models.StoreID `json:"store_ids,omitempty"`
	Limit    int              `json:"limit,omitempty"`
}

type searchHit struct {
	StoreID models.StoreID `json:"store_id"`
	NodeID  models.NodeID  `json:"node_id"`
	Title   string         `json:"title"`
	Snippet string         `json:"snippet"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
	Total   int         `json:"total"`
}
