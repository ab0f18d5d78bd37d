package index

import "github.com/starford/othala/internal/models"

// NodeIndex defines the interface for node indexing operations.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with mocks.
type NodeIndex interface {
	UpsertNode(row NodeRow, body string) error
	DeleteNode(storeID models.StoreID, nodeID models.NodeID) error
	DeleteStore(storeID models.StoreID) error
	Checksum(storeID models.StoreID, nodeID models.NodeID) (string, error)
	Checksums(storeID models.StoreID) (map[models.NodeID]string, error)
	Search(query string, storeIDs []models.StoreID, limit int) ([]SearchResult, error)
	Close() error
}

// Verify *DB satisfies NodeIndex at compile time.
var _ NodeIndex = (*DB)(nil)
