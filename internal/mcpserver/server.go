// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Othala tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/othala/internal/crdt"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/nodetype"
	"github.com/starford/othala/internal/store"
)

// Server wraps the MCP server with Othala tools.
type Server struct {
	mcp     *server.MCPServer
	manager *store.Manager
	db      *index.DB
	types   *nodetype.Registry
}

// New creates a new MCP server with all Othala tools registered.
func New(manager *store.Manager, db *index.DB, types *nodetype.Registry) *Server {
	s := &Server{manager: manager, db: db, types: types}

	s.mcp = server.NewMCPServer(
		"Othala",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_stores",
		mcp.WithDescription("List all currently open stores with their ids and root nodes."),
	), s.listStores)

	s.mcp.AddTool(mcp.NewTool("open_store",
		mcp.WithDescription("Open the store at the given directory and index its nodes for search."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Filesystem path of the store directory")),
	), s.openStore)

	s.mcp.AddTool(mcp.NewTool("create_node",
		mcp.WithDescription("Create a node in an open store. Nodes form a tree; the new node "+
			"is linked under the given parent (the store root when omitted). Read the "+
			"contract first via the get_node_contract tool or the othala://node-model "+
			"resource."),
		mcp.WithString("store_id", mcp.Required(), mcp.Description("Id of an open store")),
		mcp.WithString("parent_id", mcp.Description("Parent node id (store root when empty)")),
		mcp.WithString("node_type", mcp.Description("Node type tag (document, folder, canvas, ...); document when empty")),
		mcp.WithString("title", mcp.Description("Node title")),
		mcp.WithString("text", mcp.Description("Initial text content")),
	), s.createNode)

	s.mcp.AddTool(mcp.NewTool("read_node",
		mcp.WithDescription("Read one node: its metadata, text content and child ids."),
		mcp.WithString("store_id", mcp.Required(), mcp.Description("Id of an open store")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Id of the node to read")),
	), s.readNode)

	s.mcp.AddTool(mcp.NewTool("write_node",
		mcp.WithDescription("Replace a node's text content. The update is merged into the "+
			"node's edit history, so concurrent edits from other devices survive."),
		mcp.WithString("store_id", mcp.Required(), mcp.Description("Id of an open store")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Id of the node to update")),
		mcp.WithString("text", mcp.Required(), mcp.Description("New text content")),
	), s.writeNode)

	s.mcp.AddTool(mcp.NewTool("list_children",
		mcp.WithDescription("List a node's children in tree order, one per line: id, type, title."),
		mcp.WithString("store_id", mcp.Required(), mcp.Description("Id of an open store")),
		mcp.WithString("node_id", mcp.Description("Parent node id (store root when empty)")),
	), s.listChildren)

	s.mcp.AddTool(mcp.NewTool("search_nodes",
		mcp.WithDescription("Full-text search through node content and titles across open stores."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("store_id", mcp.Description("Restrict the search to one store (all stores when empty)")),
	), s.searchNodes)

	s.mcp.AddTool(mcp.NewTool("get_node_contract",
		mcp.WithDescription("Returns the canonical Othala node model contract. "+
			"Call this before creating or editing nodes to ensure correct structure."),
	), s.getNodeContract)

	// Resource: node model contract.
	s.mcp.AddResource(
		mcp.NewResource("othala://node-model", "Node Model Contract",
			mcp.WithResourceDescription("Canonical store and node model that all tools operate on."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNodeModelResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// storeView is the shape list_stores and open_store report.
type storeView struct {
	StoreID    string `json:"store_id"`
	Name       string `json:"name"`
	Path       string `json:"path,omitempty"`
	RootNodeID string `json:"root_node_id"`
}

// nodeView is the shape read_node reports.
type nodeView struct {
	NodeID   string   `json:"node_id"`
	ParentID string   `json:"parent_id,omitempty"`
	Type     string   `json:"node_type"`
	Title    string   `json:"title"`
	Tags     []string `json:"tags"`
	Text     string   `json:"text"`
	Children []string `json:"children"`
}

func (s *Server) listStores(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var views []storeView
	for _, id := range s.manager.ListStores() {
		info, err := s.manager.StoreInfo(id)
		if err != nil {
			continue
		}
		v := storeView{
			StoreID:    id.String(),
			Name:       info.Name,
			RootNodeID: info.RootNodeID.String(),
		}
		if p, ok := info.LocalPath(); ok {
			v.Path = p
		}
		views = append(views, v)
	}
	if len(views) == 0 {
		return mcp.NewToolResultText("no stores open"), nil
	}
	out, _ := json.MarshalIndent(views, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) openStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := s.manager.OpenLocalStore(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if st, serr := s.manager.Store(id); serr == nil {
		_ = index.Sync(s.db, st, s.types, slog.Default())
	}
	info, err := s.manager.StoreInfo(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(storeView{
		StoreID:    id.String(),
		Name:       info.Name,
		Path:       path,
		RootNodeID: info.RootNodeID.String(),
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) createNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storeID, fail := requireStoreID(req)
	if fail != nil {
		return fail, nil
	}

	nodeType := models.TypeDocument
	if v, err := req.RequireString("node_type"); err == nil && v != "" {
		nodeType = v
	}
	title := ""
	if v, err := req.RequireString("title"); err == nil {
		title = v
	}

	var parent models.NodeID
	if v, err := req.RequireString("parent_id"); err == nil && v != "" {
		pid, perr := models.ParseNodeID(v)
		if perr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("bad parent_id: %v", perr)), nil
		}
		parent = pid
	} else {
		root, rerr := s.manager.RootNodeID(storeID)
		if rerr != nil {
			return mcp.NewToolResultError(rerr.Error()), nil
		}
		parent = root
	}

	n := models.NewNode(nodeType)
	n.Metadata.Title = title
	id, err := s.manager.CreateNode(storeID, n, &parent)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if text, terr := req.RequireString("text"); terr == nil && text != "" {
		if serr := s.setNodeText(storeID, id, text); serr != nil {
			return mcp.NewToolResultError(serr.Error()), nil
		}
	}

	if err := s.manager.Flush(storeID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.indexNode(storeID, id)

	return mcp.NewToolResultText(fmt.Sprintf("created: %s", id)), nil
}

func (s *Server) readNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storeID, fail := requireStoreID(req)
	if fail != nil {
		return fail, nil
	}
	nodeID, fail := requireNodeID(req, "node_id")
	if fail != nil {
		return fail, nil
	}

	n, err := s.manager.GetNode(storeID, nodeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", nodeID)), nil
	}

	text := ""
	if doc, derr := s.manager.NodeDocument(storeID, nodeID); derr == nil {
		if t, terr := crdt.AsDocumentContent(doc).Text(); terr == nil {
			text = t
		}
	}

	view := nodeView{
		NodeID:   n.ID.String(),
		Type:     n.Type,
		Title:    n.Metadata.Title,
		Tags:     n.Metadata.Tags,
		Text:     text,
		Children: make([]string, 0, len(n.Children)),
	}
	if n.ParentID != nil {
		view.ParentID = n.ParentID.String()
	}
	for _, c := range n.Children {
		view.Children = append(view.Children, c.String())
	}
	out, _ := json.MarshalIndent(view, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) writeNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storeID, fail := requireStoreID(req)
	if fail != nil {
		return fail, nil
	}
	nodeID, fail := requireNodeID(req, "node_id")
	if fail != nil {
		return fail, nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if serr := s.setNodeText(storeID, nodeID, text); serr != nil {
		return mcp.NewToolResultError(serr.Error()), nil
	}
	if err := s.manager.Flush(storeID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.indexNode(storeID, nodeID)

	return mcp.NewToolResultText(fmt.Sprintf("updated: %s", nodeID)), nil
}

func (s *Server) listChildren(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storeID, fail := requireStoreID(req)
	if fail != nil {
		return fail, nil
	}

	var nodeID models.NodeID
	if v, err := req.RequireString("node_id"); err == nil && v != "" {
		id, perr := models.ParseNodeID(v)
		if perr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("bad node_id: %v", perr)), nil
		}
		nodeID = id
	} else {
		root, rerr := s.manager.RootNodeID(storeID)
		if rerr != nil {
			return mcp.NewToolResultError(rerr.Error()), nil
		}
		nodeID = root
	}

	children, err := s.manager.GetChildren(storeID, nodeID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(children) == 0 {
		return mcp.NewToolResultText("no children"), nil
	}

	lines := make([]string, 0, len(children))
	for _, c := range children {
		title := c.Metadata.Title
		if title == "" {
			title = "(untitled)"
		}
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", c.ID, c.Type, title))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) searchNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var scope []models.StoreID
	if v, serr := req.RequireString("store_id"); serr == nil && v != "" {
		id, perr := models.ParseStoreID(v)
		if perr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("bad store_id: %v", perr)), nil
		}
		scope = append(scope, id)
	}

	results, err := s.db.Search(query, scope, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getNodeContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NodeModelContract), nil
}

func (s *Server) readNodeModelResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "othala://node-model",
			MIMEType: "text/markdown",
			Text:     NodeModelContract,
		},
	}, nil
}

// setNodeText replaces a node's text through its edit history.
func (s *Server) setNodeText(storeID models.StoreID, nodeID models.NodeID, text string) error {
	doc, err := s.manager.NodeDocument(storeID, nodeID)
	if err != nil {
		return err
	}
	content := crdt.AsDocumentContent(doc)
	if err := content.SetText(text); err != nil {
		return err
	}
	return s.manager.SaveNodeDocument(storeID, nodeID, content.Document())
}

// indexNode refreshes one node's search rows. Index trouble never fails
// a tool call.
func (s *Server) indexNode(storeID models.StoreID, nodeID models.NodeID) {
	n, err := s.manager.GetNode(storeID, nodeID)
	if err != nil {
		return
	}
	_ = index.IndexNode(s.db, storeID, n, s.types)
}

func requireStoreID(req mcp.CallToolRequest) (models.StoreID, *mcp.CallToolResult) {
	raw, err := req.RequireString("store_id")
	if err != nil {
		return models.StoreID{}, mcp.NewToolResultError(err.Error())
	}
	id, err := models.ParseStoreID(raw)
	if err != nil {
		return models.StoreID{}, mcp.NewToolResultError(fmt.Sprintf("bad store_id: %v", err))
	}
	return id, nil
}

func requireNodeID(req mcp.CallToolRequest, key string) (models.NodeID, *mcp.CallToolResult) {
	raw, err := req.RequireString(key)
	if err != nil {
		return models.NodeID{}, mcp.NewToolResultError(err.Error())
	}
	id, err := models.ParseNodeID(raw)
	if err != nil {
		return models.NodeID{}, mcp.NewToolResultError(fmt.Sprintf("bad %s: %v", key, err))
	}
	return id, nil
}
