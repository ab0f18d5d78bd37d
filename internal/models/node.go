package models

import (
	"maps"
	"time"
)

// Well-known node type tags. The set is open: unknown tags are preserved
// verbatim and handled by the fallback type handler.
const (
	TypeFolder   = "folder"
	TypeDocument = "document"
	TypeStore    = "store"
	TypeImage    = "image"
	TypeCanvas   = "canvas"
)

// Node is the fundamental unit of content. Nodes form trees within stores:
// each node carries an ordered child list and a back-pointer to its parent,
// and content is opaque CRDT bytes managed by the crdt package.
type Node struct {
	ID       NodeID       `json:"id"`
	ParentID *NodeID      `json:"parent_id,omitempty"`
	Type     string       `json:"node_type"`
	Metadata NodeMetadata `json:"metadata"`
	Content  []byte       `json:"content,omitempty"`
	Children []NodeID     `json:"children"`
	Links    []NodeLink   `json:"links"`
}

// NewNode creates an empty node of the given type with fresh timestamps.
func NewNode(nodeType string) *Node {
	now := time.Now().UTC()
	return &Node{
		ID:   NewNodeID(),
		Type: nodeType,
		Metadata: NodeMetadata{
			CreatedAt:  now,
			ModifiedAt: now,
			Tags:       []string{},
			Custom:     map[string]any{},
		},
		Content:  []byte{},
		Children: []NodeID{},
		Links:    []NodeLink{},
	}
}

// NewFolder creates a folder node with the given title.
func NewFolder(title string) *Node {
	n := NewNode(TypeFolder)
	n.Metadata.Title = title
	return n
}

// NewDocument creates a document node with the given title.
func NewDocument(title string) *Node {
	n := NewNode(TypeDocument)
	n.Metadata.Title = title
	return n
}

// Touch updates the modification timestamp to now.
func (n *Node) Touch() {
	n.Metadata.ModifiedAt = time.Now().UTC()
}

// AddChild appends a child id, ignoring duplicates.
func (n *Node) AddChild(id NodeID) {
	for _, c := range n.Children {
		if c == id {
			return
		}
	}
	n.Children = append(n.Children, id)
	n.Touch()
}

// RemoveChild removes a child id and reports whether it was present.
func (n *Node) RemoveChild(id NodeID) bool {
	for i, c := range n.Children {
		if c == id {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			n.Touch()
			return true
		}
	}
	return false
}

// HasChild reports whether id is a direct child of n.
func (n *Node) HasChild(id NodeID) bool {
	for _, c := range n.Children {
		if c == id {
			return true
		}
	}
	return false
}

// InsertChild inserts a child id at the given index, clamping out-of-range
// indexes to an append. Duplicates are ignored.
func (n *Node) InsertChild(id NodeID, at int) {
	if n.HasChild(id) {
		return
	}
	if at < 0 || at > len(n.Children) {
		at = len(n.Children)
	}
	n.Children = append(n.Children, NodeID{})
	copy(n.Children[at+1:], n.Children[at:])
	n.Children[at] = id
	n.Touch()
}

// AddLink records an outgoing link.
func (n *Node) AddLink(l NodeLink) {
	n.Links = append(n.Links, l)
	n.Touch()
}

// Clone returns a deep copy of the node. Nested values inside custom
// metadata are shared.
func (n *Node) Clone() *Node {
	c := *n
	if n.ParentID != nil {
		pid := *n.ParentID
		c.ParentID = &pid
	}
	c.Content = make([]byte, len(n.Content))
	copy(c.Content, n.Content)
	c.Children = make([]NodeID, len(n.Children))
	copy(c.Children, n.Children)
	c.Links = make([]NodeLink, len(n.Links))
	copy(c.Links, n.Links)
	for i := range c.Links {
		if t := c.Links[i].Target.NodeID; t != nil {
			id := *t
			c.Links[i].Target.NodeID = &id
		}
	}
	c.Metadata.Tags = make([]string, len(n.Metadata.Tags))
	copy(c.Metadata.Tags, n.Metadata.Tags)
	c.Metadata.Custom = maps.Clone(n.Metadata.Custom)
	return &c
}

// NodeMetadata carries the user-visible attributes of a node.
type NodeMetadata struct {
	Title      string         `json:"title"`
	CreatedAt  time.Time      `json:"created_at"`
	ModifiedAt time.Time      `json:"modified_at"`
	Tags       []string       `json:"tags"`
	Custom     map[string]any `json:"custom"`
}

// Link type tags.
const (
	LinkReference = "reference"
	LinkEmbed     = "embed"
	LinkExternal  = "external"
)

// NodeLink is a typed, directed link from one node to a target.
type NodeLink struct {
	Target       LinkTarget `json:"target"`
	LinkType     string     `json:"link_type"`
	SourceAnchor string     `json:"source_anchor,omitempty"`
}

// ReferenceLink creates a plain reference link to another node.
func ReferenceLink(target NodeID) NodeLink {
	return NodeLink{Target: NodeTarget(target), LinkType: LinkReference}
}

// EmbedLink creates a link that embeds the target's content in place.
func EmbedLink(target NodeID) NodeLink {
	return NodeLink{Target: NodeTarget(target), LinkType: LinkEmbed}
}

// DeepLink creates a reference link to an anchored position inside a node.
func DeepLink(target NodeID, anchor string) NodeLink {
	return NodeLink{Target: DeepTarget(target, anchor), LinkType: LinkReference}
}

// ExternalLink creates a link to an external URL.
func ExternalLink(url string) NodeLink {
	return NodeLink{Target: ExternalTarget(url), LinkType: LinkExternal}
}

// Link target kinds.
const (
	TargetNode     = "node"
	TargetDeep     = "deep"
	TargetExternal = "external"
)

// LinkTarget is where a link points: a node, an anchored position inside a
// node, or an external URL. Kind selects which of the remaining fields are
// meaningful.
type LinkTarget struct {
	Kind   string  `json:"type"`
	NodeID *NodeID `json:"node_id,omitempty"`
	Anchor string  `json:"anchor,omitempty"`
	URL    string  `json:"url,omitempty"`
}

// NodeTarget points at a whole node.
func NodeTarget(id NodeID) LinkTarget {
	return LinkTarget{Kind: TargetNode, NodeID: &id}
}

// DeepTarget points at an anchored position inside a node, for example
// "paragraph:3" or "text:100-150".
func DeepTarget(id NodeID, anchor string) LinkTarget {
	return LinkTarget{Kind: TargetDeep, NodeID: &id, Anchor: anchor}
}

// ExternalTarget points outside the store.
func ExternalTarget(url string) LinkTarget {
	return LinkTarget{Kind: TargetExternal, URL: url}
}

// TargetNodeID returns the target node id for internal targets.
func (t LinkTarget) TargetNodeID() (NodeID, bool) {
	if t.NodeID == nil || t.Kind == TargetExternal {
		return NodeID{}, false
	}
	return *t.NodeID, true
}
