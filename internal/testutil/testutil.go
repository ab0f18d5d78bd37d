// Package testutil provides shared test helpers for setting up stores and index databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/store"
)

// TestDB creates a temporary SQLite index that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "othala-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestManager creates a manager with one store in a temp directory.
func TestManager(t *testing.T) (*store.Manager, models.StoreID) {
	t.Helper()
	mgr := store.NewManager()
	id, err := mgr.CreateLocalStore(filepath.Join(t.TempDir(), "store"), "test-store")
	if err != nil {
		t.Fatal(err)
	}
	return mgr, id
}
