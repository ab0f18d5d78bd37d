// Package models defines the domain types for Othala: nodes, stores,
// manifests and workspaces.
package models

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeID uniquely identifies a node. The canonical textual form is the
// RFC 4122 string representation.
type NodeID uuid.UUID

// NewNodeID returns a new random NodeID.
func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// ParseNodeID parses the canonical textual form of a node id.
func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("models: parse node id %q: %w", s, err)
	}
	return NodeID(u), nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero (invalid) id.
func (id NodeID) IsZero() bool {
	return id == NodeID(uuid.Nil)
}

func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *NodeID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("models: parse node id %q: %w", b, err)
	}
	*id = NodeID(u)
	return nil
}

// StoreID uniquely identifies a store.
type StoreID uuid.UUID

// NewStoreID returns a new random StoreID.
func NewStoreID() StoreID {
	return StoreID(uuid.New())
}

// ParseStoreID parses the canonical textual form of a store id.
func ParseStoreID(s string) (StoreID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return StoreID{}, fmt.Errorf("models: parse store id %q: %w", s, err)
	}
	return StoreID(u), nil
}

func (id StoreID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero (invalid) id.
func (id StoreID) IsZero() bool {
	return id == StoreID(uuid.Nil)
}

func (id StoreID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *StoreID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("models: parse store id %q: %w", b, err)
	}
	*id = StoreID(u)
	return nil
}
