package models

import "time"

// Store location kinds.
const (
	LocationLocal   = "local"
	LocationRemote  = "remote"
	LocationMounted = "mounted"
)

// Sync states.
const (
	SyncOffline  = "offline"
	SyncSyncing  = "syncing"
	SyncSynced   = "synced"
	SyncConflict = "conflict"
)

// Auth methods for remote stores.
const (
	AuthNone   = "none"
	AuthAPIKey = "api_key"
	AuthBearer = "bearer"
	AuthOAuth2 = "oauth2"
)

// Store is an entry point to a tree of nodes. It is a derived view,
// assembled from the manifest and runtime state, and is never persisted
// as-is.
type Store struct {
	ID         StoreID       `json:"id"`
	Name       string        `json:"name"`
	Location   StoreLocation `json:"location"`
	RootNodeID NodeID        `json:"root_node_id"`
	SyncState  SyncState     `json:"sync_state"`
}

// NewLocalStore builds a Store view for a local directory.
func NewLocalStore(name, path string) Store {
	return Store{
		ID:         NewStoreID(),
		Name:       name,
		Location:   LocalLocation(path),
		RootNodeID: NewNodeID(),
		SyncState:  SyncState{State: SyncOffline},
	}
}

// IsLocal reports whether the store lives on the local filesystem.
func (s Store) IsLocal() bool {
	return s.Location.Kind == LocationLocal
}

// LocalPath returns the filesystem path for local stores.
func (s Store) LocalPath() (string, bool) {
	if s.Location.Kind != LocationLocal {
		return "", false
	}
	return s.Location.Path, true
}

// StoreLocation says where a store's data lives. Kind selects which of the
// remaining fields are meaningful: a filesystem path for local stores, a
// URL plus auth for remote ones, and a (store, node) pair for subtrees
// mounted from another store.
type StoreLocation struct {
	Kind    string     `json:"type"`
	Path    string     `json:"path,omitempty"`
	URL     string     `json:"url,omitempty"`
	Auth    AuthMethod `json:"auth,omitzero"`
	StoreID *StoreID   `json:"store_id,omitempty"`
	NodeID  *NodeID    `json:"node_id,omitempty"`
}

// LocalLocation builds a local filesystem location.
func LocalLocation(path string) StoreLocation {
	return StoreLocation{Kind: LocationLocal, Path: path}
}

// RemoteLocation builds a remote server location.
func RemoteLocation(url string, auth AuthMethod) StoreLocation {
	return StoreLocation{Kind: LocationRemote, URL: url, Auth: auth}
}

// MountedLocation builds a location for a subtree grafted from another
// store at the given node.
func MountedLocation(storeID StoreID, nodeID NodeID) StoreLocation {
	return StoreLocation{Kind: LocationMounted, StoreID: &storeID, NodeID: &nodeID}
}

// AuthMethod describes how to authenticate against a remote store.
type AuthMethod struct {
	Method       string `json:"method"`
	Key          string `json:"key,omitempty"`
	Token        string `json:"token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IsZero reports whether no auth method is set at all.
func (a AuthMethod) IsZero() bool {
	return a == AuthMethod{}
}

// SyncState is the synchronization status of a store. LastSync is set when
// State is "synced"; Details is populated when State is "conflict".
type SyncState struct {
	State    string         `json:"state"`
	LastSync time.Time      `json:"last_sync,omitzero"`
	Details  []ConflictInfo `json:"details,omitempty"`
}

// IsSynced reports whether the store finished its last sync cleanly.
func (s SyncState) IsSynced() bool {
	return s.State == SyncSynced
}

// HasConflicts reports whether unresolved conflicts remain.
func (s SyncState) HasConflicts() bool {
	return s.State == SyncConflict
}

// ConflictInfo describes one unresolved sync conflict.
type ConflictInfo struct {
	NodeID      NodeID    `json:"node_id"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
}

// ManifestVersion is the current manifest schema version.
const ManifestVersion uint32 = 1

// StoreManifest is the store metadata persisted as manifest.json at the
// store root.
type StoreManifest struct {
	Version    uint32    `json:"version"`
	ID         StoreID   `json:"id"`
	Name       string    `json:"name"`
	RootNodeID NodeID    `json:"root_node_id"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewStoreManifest creates a manifest for a fresh store.
func NewStoreManifest(name string, rootNodeID NodeID) StoreManifest {
	now := time.Now().UTC()
	return StoreManifest{
		Version:    ManifestVersion,
		ID:         NewStoreID(),
		Name:       name,
		RootNodeID: rootNodeID,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}
