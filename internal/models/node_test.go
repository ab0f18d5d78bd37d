package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseNodeID(t *testing.T) {
	id := NewNodeID()

	parsed, err := ParseNodeID(id.String())
	if err != nil {
		t.Fatalf("ParseNodeID: %v", err)
	}
	if parsed != id {
		t.Errorf("ParseNodeID round-trip = %s, want %s", parsed, id)
	}

	if _, err := ParseNodeID("not-a-uuid"); err == nil {
		t.Error("ParseNodeID accepted garbage")
	}

	var zero NodeID
	if !zero.IsZero() {
		t.Error("zero NodeID not reported as zero")
	}
	if id.IsZero() {
		t.Error("fresh NodeID reported as zero")
	}
}

func TestNodeIDsAreDistinctTypes(t *testing.T) {
	// Map keys and equality must work per id type.
	seen := map[NodeID]bool{}
	a, b := NewNodeID(), NewNodeID()
	seen[a] = true
	if seen[b] {
		t.Error("distinct ids compared equal")
	}
}

func TestNewNodeDefaults(t *testing.T) {
	n := NewNode(TypeDocument)

	if n.ID.IsZero() {
		t.Error("NewNode produced zero id")
	}
	if n.ParentID != nil {
		t.Error("NewNode should start detached")
	}
	if n.Type != TypeDocument {
		t.Errorf("Type = %q, want %q", n.Type, TypeDocument)
	}
	if n.Metadata.CreatedAt.IsZero() || !n.Metadata.CreatedAt.Equal(n.Metadata.ModifiedAt) {
		t.Error("timestamps not initialized together")
	}
	if n.Children == nil || n.Links == nil || n.Content == nil {
		t.Error("collections should be empty, not nil")
	}
}

func TestAddChildDeduplicates(t *testing.T) {
	n := NewFolder("parent")
	child := NewNodeID()

	n.AddChild(child)
	n.AddChild(child)

	if len(n.Children) != 1 {
		t.Fatalf("Children = %d entries, want 1", len(n.Children))
	}
	if !n.HasChild(child) {
		t.Error("HasChild = false after AddChild")
	}
}

func TestRemoveChildKeepsOrder(t *testing.T) {
	n := NewFolder("parent")
	a, b, c := NewNodeID(), NewNodeID(), NewNodeID()
	n.AddChild(a)
	n.AddChild(b)
	n.AddChild(c)

	if !n.RemoveChild(b) {
		t.Fatal("RemoveChild = false for present child")
	}
	if n.RemoveChild(b) {
		t.Error("RemoveChild = true for absent child")
	}
	if len(n.Children) != 2 || n.Children[0] != a || n.Children[1] != c {
		t.Errorf("Children after removal = %v, want [%s %s]", n.Children, a, c)
	}
}

func TestLinkTargets(t *testing.T) {
	target := NewNodeID()

	ref := ReferenceLink(target)
	if ref.LinkType != LinkReference {
		t.Errorf("LinkType = %q, want %q", ref.LinkType, LinkReference)
	}
	if id, ok := ref.Target.TargetNodeID(); !ok || id != target {
		t.Errorf("TargetNodeID = %v, %v; want %s, true", id, ok, target)
	}

	deep := DeepLink(target, "paragraph:3")
	if deep.Target.Kind != TargetDeep || deep.Target.Anchor != "paragraph:3" {
		t.Errorf("deep target = %+v", deep.Target)
	}
	if id, ok := deep.Target.TargetNodeID(); !ok || id != target {
		t.Error("deep target should resolve to a node id")
	}

	ext := ExternalLink("https://example.com")
	if _, ok := ext.Target.TargetNodeID(); ok {
		t.Error("external target resolved to a node id")
	}
}

func TestNodeJSONShape(t *testing.T) {
	n := NewDocument("readme")
	n.Content = []byte{0x01, 0x02}
	child := NewNodeID()
	n.AddChild(child)

	raw, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(raw)

	// IDs travel as canonical uuid strings, content as base64.
	if !strings.Contains(s, n.ID.String()) {
		t.Errorf("payload missing textual id: %s", s)
	}
	if !strings.Contains(s, `"node_type":"document"`) {
		t.Errorf("payload missing node_type: %s", s)
	}
	if !strings.Contains(s, `"content":"AQI="`) {
		t.Errorf("content not base64-encoded: %s", s)
	}

	var back Node
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.ID != n.ID || len(back.Content) != 2 || back.Children[0] != child {
		t.Errorf("round-trip mismatch: %+v", back)
	}
}
