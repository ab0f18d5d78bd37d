package index

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/nodetype"
	"github.com/starford/othala/internal/store"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) record(kind string, _ models.StoreID, nodeID models.NodeID) {
	l.mu.Lock()
	l.events = append(l.events, kind+":"+nodeID.String())
	l.mu.Unlock()
}

func (l *eventLog) has(e string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.events {
		if got == e {
			return true
		}
	}
	return false
}

func (l *eventLog) countFor(nodeID models.NodeID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.events {
		if strings.HasSuffix(got, nodeID.String()) {
			n++
		}
	}
	return n
}

// watcherEnv starts a running watcher following one fresh store.
func watcherEnv(t *testing.T) (*DB, *store.LocalStore, *eventLog) {
	t.Helper()
	db := testDB(t)
	s := syncTestStore(t)
	log := &eventLog{}

	w, err := NewWatcher(db, nodetype.NewRegistry(), quietLogger(), log.record)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	if err := w.AddStore(s.ID(), s.Path()); err != nil {
		t.Fatalf("AddStore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	return db, s, log
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestWatcherIndexesFlush(t *testing.T) {
	db, s, log := watcherEnv(t)

	root := s.RootNodeID()
	doc := models.NewDocument("Fresh")
	doc.Content = docBytes(t, "hot off the press")
	if _, err := s.CreateNode(doc, &root); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.Checksum(s.ID(), doc.ID)
		return cs != ""
	}, "flushed node not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return log.has("created:" + doc.ID.String())
	}, "expected created callback for flushed node")
}

func TestWatcherSkipsFlushEcho(t *testing.T) {
	db, s, log := watcherEnv(t)

	root := s.RootNodeID()
	doc := models.NewDocument("Quiet")
	if _, err := s.CreateNode(doc, &root); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.Checksum(s.ID(), doc.ID)
		return cs != ""
	}, "precondition: node should be indexed")
	before := log.countFor(doc.ID)

	// Touching metadata rewrites the file but leaves the indexable state
	// (title, tags, content) unchanged; the echo must not produce events.
	n, err := s.GetNode(doc.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if err := s.UpdateNodeMetadata(doc.ID, n.Metadata); err != nil {
		t.Fatalf("UpdateNodeMetadata: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	time.Sleep(400 * time.Millisecond)
	if got := log.countFor(doc.ID); got != before {
		t.Errorf("flush echo produced %d extra events", got-before)
	}
}

func TestWatcherExternalEdit(t *testing.T) {
	db, s, log := watcherEnv(t)

	root := s.RootNodeID()
	doc := models.NewDocument("Original")
	if _, err := s.CreateNode(doc, &root); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.Checksum(s.ID(), doc.ID)
		return cs != ""
	}, "precondition: node should be indexed")

	// Another program rewrites the metadata file directly.
	edited, err := s.GetNode(doc.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	edited.Metadata.Title = "Edited Elsewhere"
	raw, err := json.MarshalIndent(edited, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(s.Path(), "nodes", doc.ID.String()+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		var title string
		err := db.conn.QueryRow(`SELECT title FROM nodes WHERE store_id = ? AND node_id = ?`,
			s.ID().String(), doc.ID.String()).Scan(&title)
		return err == nil && title == "Edited Elsewhere"
	}, "external edit not reindexed")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return log.has("updated:" + doc.ID.String())
	}, "expected updated callback for external edit")
}

func TestWatcherExternalRemove(t *testing.T) {
	db, s, log := watcherEnv(t)

	root := s.RootNodeID()
	doc := models.NewDocument("Doomed")
	if _, err := s.CreateNode(doc, &root); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.Checksum(s.ID(), doc.ID)
		return cs != ""
	}, "precondition: node should be indexed")

	if err := os.Remove(filepath.Join(s.Path(), "nodes", doc.ID.String()+".json")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.Checksum(s.ID(), doc.ID)
		return cs == ""
	}, "externally removed node still indexed")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return log.has("deleted:" + doc.ID.String())
	}, "expected deleted callback")
}
