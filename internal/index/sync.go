package index

import (
	"log/slog"

	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/nodetype"
)

// Source is the slice of a store the sync reads: its identity, the
// flushed node ids, and individual nodes. *store.LocalStore satisfies it.
type Source interface {
	ID() models.StoreID
	ListNodeIDs() ([]models.NodeID, error)
	GetNode(id models.NodeID) (*models.Node, error)
}

// Sync brings the index up to date with one store:
//   - new and changed nodes are re-extracted and upserted
//   - nodes gone from the store are deleted from the index
//
// Unchanged nodes are skipped by checksum.
func Sync(db *DB, src Source, types *nodetype.Registry, logger *slog.Logger) error {
	ids, err := src.ListNodeIDs()
	if err != nil {
		return err
	}
	indexed, err := db.Checksums(src.ID())
	if err != nil {
		return err
	}

	seen := make(map[models.NodeID]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}

		n, err := src.GetNode(id)
		if err != nil {
			logger.Warn("sync: load failed", slog.String("node", id.String()), slog.String("error", err.Error()))
			continue
		}
		if indexed[id] == checksum.Node(n.Metadata.Title, n.Metadata.Tags, n.Content) {
			continue
		}
		if err := IndexNode(db, src.ID(), n, types); err != nil {
			logger.Warn("sync: index failed", slog.String("node", id.String()), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("node", id.String()))
		}
	}

	// Remove stale entries.
	for id := range indexed {
		if _, ok := seen[id]; !ok {
			if err := db.DeleteNode(src.ID(), id); err != nil {
				logger.Warn("sync: delete failed", slog.String("node", id.String()), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("node", id.String()))
			}
		}
	}

	return nil
}

// IndexNode extracts a node's text through its type handler and upserts
// the index row. Callers that just mutated a node use it to keep the
// index current without a full sync.
func IndexNode(db *DB, storeID models.StoreID, n *models.Node, types *nodetype.Registry) error {
	text, err := types.Lookup(n.Type).ExtractText(n.Content)
	if err != nil {
		return err
	}
	row := NodeRow{
		StoreID:   storeID,
		NodeID:    n.ID,
		Title:     n.Metadata.Title,
		Checksum:  checksum.Node(n.Metadata.Title, n.Metadata.Tags, n.Content),
		Tags:      n.Metadata.Tags,
		UpdatedAt: n.Metadata.ModifiedAt,
	}
	return db.UpsertNode(row, text)
}
