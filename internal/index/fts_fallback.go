//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"

	"github.com/starford/othala/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; full-text search uses a LIKE fallback on the
	// nodes.body column.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _, _ string, _ []string) error {
	// Body is already stored in the nodes table; nothing extra to do.
	return nil
}

func ftsDelete(_ *sql.Tx, _, _ string) {}

func ftsDeleteStore(_ *sql.Tx, _ string) {}

// Search performs a LIKE-based search (fallback when FTS5 is not compiled
// in), optionally scoped to a set of stores.
func (db *DB) Search(query string, storeIDs []models.StoreID, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	scope, scopeArgs := searchScope(storeIDs)
	args := append([]any{like, like, like}, scopeArgs...)
	args = append(args, limit)
	rows, err := db.conn.Query(`
		SELECT store_id, node_id, title, substr(body, 1, 200)
		FROM nodes
		WHERE (title LIKE ? OR body LIKE ? OR tags LIKE ?)`+scope+`
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	return scanSearchRows(rows)
}
