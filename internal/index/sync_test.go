package index

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/crdt"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/nodetype"
	"github.com/starford/othala/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func syncTestStore(t *testing.T) *store.LocalStore {
	t.Helper()
	s, err := store.Create(filepath.Join(t.TempDir(), "notes"), "Notes")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func docBytes(t *testing.T, text string) []byte {
	t.Helper()
	c := crdt.NewDocumentContent()
	if err := c.SetText(text); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	return c.Save()
}

func TestSyncIndexesStore(t *testing.T) {
	db := testDB(t)
	s := syncTestStore(t)

	root := s.RootNodeID()
	doc := models.NewDocument("Trip Plan")
	doc.Content = docBytes(t, "pack the tent")
	doc.Metadata.Tags = []string{"travel"}
	if _, err := s.CreateNode(doc, &root); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := Sync(db, s, nodetype.NewRegistry(), quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	rows, err := db.Checksums(s.ID())
	if err != nil {
		t.Fatalf("Checksums: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("indexed %d nodes, want 2 (root and document)", len(rows))
	}

	results, err := db.Search("tent", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].NodeID != doc.ID {
		t.Fatalf("results = %+v, want the document", results)
	}
	if results[0].Title != "Trip Plan" {
		t.Errorf("title = %q", results[0].Title)
	}
}

func TestSyncRemovesStale(t *testing.T) {
	db := testDB(t)
	s := syncTestStore(t)

	root := s.RootNodeID()
	doc := models.NewDocument("Short Lived")
	if _, err := s.CreateNode(doc, &root); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := Sync(db, s, nodetype.NewRegistry(), quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := s.DeleteNode(doc.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := Sync(db, s, nodetype.NewRegistry(), quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	cs, _ := db.Checksum(s.ID(), doc.ID)
	if cs != "" {
		t.Error("deleted node still indexed after sync")
	}
}

func TestSyncSkipsUnchanged(t *testing.T) {
	db := testDB(t)
	s := syncTestStore(t)

	root := s.RootNodeID()
	doc := models.NewDocument("Stable")
	doc.Content = docBytes(t, "unchanging text")
	if _, err := s.CreateNode(doc, &root); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Plant a row with the checksum the sync will compute but a marker
	// title. If the sync skips on checksum match, the marker survives.
	n, err := s.GetNode(doc.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	cs := checksum.Node(n.Metadata.Title, n.Metadata.Tags, n.Content)
	planted := NodeRow{
		StoreID:   s.ID(),
		NodeID:    doc.ID,
		Title:     "marker",
		Checksum:  cs,
		Tags:      nil,
		UpdatedAt: time.Now(),
	}
	if err := db.UpsertNode(planted, ""); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	if err := Sync(db, s, nodetype.NewRegistry(), quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	var title string
	if err := db.conn.QueryRow(`SELECT title FROM nodes WHERE store_id = ? AND node_id = ?`,
		s.ID().String(), doc.ID.String()).Scan(&title); err != nil {
		t.Fatalf("query title: %v", err)
	}
	if title != "marker" {
		t.Errorf("title = %q, unchanged node was reindexed", title)
	}
}

func TestSyncReindexesChanged(t *testing.T) {
	db := testDB(t)
	s := syncTestStore(t)

	root := s.RootNodeID()
	doc := models.NewDocument("Draft")
	doc.Content = docBytes(t, "first version")
	if _, err := s.CreateNode(doc, &root); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := Sync(db, s, nodetype.NewRegistry(), quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := s.UpdateNodeContent(doc.ID, docBytes(t, "second revision")); err != nil {
		t.Fatalf("UpdateNodeContent: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := Sync(db, s, nodetype.NewRegistry(), quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if results, _ := db.Search("revision", nil, 10); len(results) != 1 {
		t.Errorf("new text not searchable: %+v", results)
	}
	if results, _ := db.Search("first", nil, 10); len(results) != 0 {
		t.Errorf("old text still searchable: %+v", results)
	}
}
