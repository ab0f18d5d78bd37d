package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/starford/othala/internal/models"
)

// NodeRow represents a row in the nodes table.
type NodeRow struct {
	StoreID   models.StoreID
	NodeID    models.NodeID
	Title     string
	Checksum  string
	Tags      []string
	UpdatedAt time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	StoreID models.StoreID
	NodeID  models.NodeID
	Title   string
	Snippet string
}

// UpsertNode inserts or replaces a node row and its FTS entry within a
// transaction. body carries the node's extracted plain text.
func (db *DB) UpsertNode(n NodeRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tagsJSON, _ := json.Marshal(n.Tags)

	// Upsert nodes table (includes body for fallback search).
	_, err = tx.Exec(`
		INSERT INTO nodes (store_id, node_id, title, checksum, tags, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id, node_id) DO UPDATE SET
			title      = excluded.title,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, n.StoreID.String(), n.NodeID.String(), n.Title, n.Checksum, string(tagsJSON), body, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert node: %w", err)
	}

	// FTS upsert (no-op when the FTS5 tag is absent).
	if err := ftsUpsert(tx, n.StoreID.String(), n.NodeID.String(), n.Title, body, n.Tags); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteNode removes a node row and its FTS entry.
func (db *DB) DeleteNode(storeID models.StoreID, nodeID models.NodeID) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, storeID.String(), nodeID.String())
	_, _ = tx.Exec(`DELETE FROM nodes WHERE store_id = ? AND node_id = ?`,
		storeID.String(), nodeID.String())

	return tx.Commit()
}

// DeleteStore removes every row belonging to a store.
func (db *DB) DeleteStore(storeID models.StoreID) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDeleteStore(tx, storeID.String())
	_, _ = tx.Exec(`DELETE FROM nodes WHERE store_id = ?`, storeID.String())

	return tx.Commit()
}

// Checksum returns the stored checksum for a node, or empty string if the
// node is not indexed.
func (db *DB) Checksum(storeID models.StoreID, nodeID models.NodeID) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM nodes WHERE store_id = ? AND node_id = ?`,
		storeID.String(), nodeID.String()).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// searchScope renders the optional store filter shared by both Search
// variants. An empty id list means search everything.
func searchScope(storeIDs []models.StoreID) (string, []any) {
	if len(storeIDs) == 0 {
		return "", nil
	}
	ph := make([]string, len(storeIDs))
	args := make([]any, len(storeIDs))
	for i, id := range storeIDs {
		ph[i] = "?"
		args[i] = id.String()
	}
	return " AND store_id IN (" + strings.Join(ph, ",") + ")", args
}

func scanSearchRows(rows *sql.Rows) ([]SearchResult, error) {
	var out []SearchResult
	for rows.Next() {
		var rawStore, rawNode string
		var r SearchResult
		if err := rows.Scan(&rawStore, &rawNode, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		storeID, err := models.ParseStoreID(rawStore)
		if err != nil {
			continue
		}
		nodeID, err := models.ParseNodeID(rawNode)
		if err != nil {
			continue
		}
		r.StoreID, r.NodeID = storeID, nodeID
		out = append(out, r)
	}
	return out, rows.Err()
}

// Checksums returns the stored checksum of every indexed node in a store.
func (db *DB) Checksums(storeID models.StoreID) (map[models.NodeID]string, error) {
	rows, err := db.conn.Query(`SELECT node_id, checksum FROM nodes WHERE store_id = ?`,
		storeID.String())
	if err != nil {
		return nil, fmt.Errorf("index: checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[models.NodeID]string)
	for rows.Next() {
		var rawID, cs string
		if err := rows.Scan(&rawID, &cs); err != nil {
			return nil, err
		}
		id, err := models.ParseNodeID(rawID)
		if err != nil {
			continue
		}
		out[id] = cs
	}
	return out, rows.Err()
}
