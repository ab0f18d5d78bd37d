//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/othala/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(
			store_id UNINDEXED,
			node_id UNINDEXED,
			title,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, storeID, nodeID, title, body string, tags []string) error {
	_, _ = tx.Exec(`DELETE FROM nodes_fts WHERE store_id = ? AND node_id = ?`, storeID, nodeID)
	_, err := tx.Exec(`INSERT INTO nodes_fts (store_id, node_id, title, body, tags) VALUES (?, ?, ?, ?, ?)`,
		storeID, nodeID, title, body, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, storeID, nodeID string) {
	_, _ = tx.Exec(`DELETE FROM nodes_fts WHERE store_id = ? AND node_id = ?`, storeID, nodeID)
}

func ftsDeleteStore(tx *sql.Tx, storeID string) {
	_, _ = tx.Exec(`DELETE FROM nodes_fts WHERE store_id = ?`, storeID)
}

// Search performs an FTS5 full-text search, optionally scoped to a set of
// stores, and returns matching results with snippets.
func (db *DB) Search(query string, storeIDs []models.StoreID, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	scope, scopeArgs := searchScope(storeIDs)
	args := append([]any{query}, scopeArgs...)
	args = append(args, limit)
	rows, err := db.conn.Query(`
		SELECT store_id,
		       node_id,
		       title,
		       snippet(nodes_fts, 3, '<b>', '</b>', '...', 64)
		FROM nodes_fts
		WHERE nodes_fts MATCH ?`+scope+`
		ORDER BY rank
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	return scanSearchRows(rows)
}
