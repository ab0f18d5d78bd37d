package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/othala/internal/checksum"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/nodetype"
)

const nodesDirName = "nodes"

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, storeID models.StoreID, nodeID models.NodeID)

// Watcher follows the nodes directories of open stores with fsnotify and
// keeps the index aligned with what lands on disk. External writers (a
// file sync client, another process) are a normal event for a local-first
// tool; this process's own flushes arrive here too and are filtered out
// by checksum, so callbacks fire only for real changes.
type Watcher struct {
	db     *DB
	types  *nodetype.Registry
	logger *slog.Logger
	cb     EventCallback

	fsw *fsnotify.Watcher

	mu    sync.Mutex
	roots map[string]models.StoreID // nodes dir -> store id
	dirs  map[models.StoreID]string // store id -> nodes dir
}

// NewWatcher creates a watcher with no stores registered. Run must be
// called for events to be processed.
func NewWatcher(db *DB, types *nodetype.Registry, logger *slog.Logger, cb EventCallback) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("index: start watcher: %w", err)
	}
	return &Watcher{
		db:     db,
		types:  types,
		logger: logger,
		cb:     cb,
		fsw:    fsw,
		roots:  map[string]models.StoreID{},
		dirs:   map[models.StoreID]string{},
	}, nil
}

// AddStore registers a store's nodes directory with the watcher.
func (w *Watcher) AddStore(id models.StoreID, storePath string) error {
	dir := filepath.Join(storePath, nodesDirName)
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("index: watch %s: %w", dir, err)
	}
	w.mu.Lock()
	w.roots[dir] = id
	w.dirs[id] = dir
	w.mu.Unlock()
	w.logger.Info("watcher: following store",
		slog.String("store", id.String()), slog.String("dir", dir))
	return nil
}

// RemoveStore stops following a store. Unknown ids are ignored.
func (w *Watcher) RemoveStore(id models.StoreID) {
	w.mu.Lock()
	dir, ok := w.dirs[id]
	if ok {
		delete(w.dirs, id)
		delete(w.roots, dir)
	}
	w.mu.Unlock()
	if ok {
		_ = w.fsw.Remove(dir)
		w.logger.Info("watcher: left store", slog.String("store", id.String()))
	}
}

// Close releases the underlying fsnotify watcher, which also ends Run.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run processes file change events until ctx is cancelled or the watcher
// is closed. Rename events schedule a short reconciliation pass for the
// affected store to catch anything the event stream missed.
func (w *Watcher) Run(ctx context.Context) error {
	// reconcileTimer debounces rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time
	pending := map[models.StoreID]struct{}{}

	schedule := func(id models.StoreID) {
		pending[id] = struct{}{}
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	w.logger.Info("watcher: started")

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			for id := range pending {
				delete(pending, id)
				w.reconcileStore(id)
			}

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev, schedule)

		case watchErr, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event, schedule func(models.StoreID)) {
	storeID, ok := w.storeFor(filepath.Dir(ev.Name))
	if !ok {
		return
	}

	// Temp files and anything else that is not <uuid>.json or
	// <uuid>.automerge is noise.
	base := filepath.Base(ev.Name)
	var nodeID models.NodeID
	var isMeta bool
	switch {
	case strings.HasSuffix(base, ".json"):
		id, err := models.ParseNodeID(strings.TrimSuffix(base, ".json"))
		if err != nil {
			return
		}
		nodeID, isMeta = id, true
	case strings.HasSuffix(base, ".automerge"):
		id, err := models.ParseNodeID(strings.TrimSuffix(base, ".automerge"))
		if err != nil {
			return
		}
		nodeID = id
	default:
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.reindex(storeID, nodeID)

	case ev.Op&fsnotify.Remove != 0:
		if isMeta {
			w.dropNode(storeID, nodeID)
		} else {
			// Sidecar gone: the node may now be contentless.
			w.reindex(storeID, nodeID)
		}

	case ev.Op&fsnotify.Rename != 0:
		// Rename fires on the OLD path only; if the file moved within a
		// watched dir the new path arrives as a separate Create. Drop
		// the old entry now and reconcile shortly for stragglers.
		if isMeta {
			w.dropNode(storeID, nodeID)
		}
		schedule(storeID)
	}
}

// reindex reads a node straight from disk and upserts it, skipping nodes
// whose indexable state is unchanged.
func (w *Watcher) reindex(storeID models.StoreID, nodeID models.NodeID) {
	dir, ok := w.dirFor(storeID)
	if !ok {
		return
	}
	n, err := readDiskNode(dir, nodeID)
	if err != nil {
		if isNotExist(err) {
			return // racing a delete
		}
		w.logger.Warn("watcher: read failed",
			slog.String("node", nodeID.String()), slog.String("error", err.Error()))
		return
	}
	if n.ID != nodeID {
		w.logger.Warn("watcher: file name does not match node id",
			slog.String("file", nodeID.String()), slog.String("node", n.ID.String()))
		return
	}

	prev, _ := w.db.Checksum(storeID, nodeID)
	if prev == checksum.Node(n.Metadata.Title, n.Metadata.Tags, n.Content) {
		return // flush echo, already indexed
	}
	if err := IndexNode(w.db, storeID, n, w.types); err != nil {
		w.logger.Warn("watcher: index failed",
			slog.String("node", nodeID.String()), slog.String("error", err.Error()))
		return
	}
	kind := "updated"
	if prev == "" {
		kind = "created"
	}
	w.logger.Debug("watcher: indexed",
		slog.String("node", nodeID.String()), slog.String("op", kind))
	if w.cb != nil {
		w.cb(kind, storeID, nodeID)
	}
}

// dropNode removes a node's row, if present, and reports the deletion.
func (w *Watcher) dropNode(storeID models.StoreID, nodeID models.NodeID) {
	prev, _ := w.db.Checksum(storeID, nodeID)
	if prev == "" {
		return
	}
	if err := w.db.DeleteNode(storeID, nodeID); err != nil {
		w.logger.Warn("watcher: delete failed",
			slog.String("node", nodeID.String()), slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("watcher: deleted", slog.String("node", nodeID.String()))
	if w.cb != nil {
		w.cb("deleted", storeID, nodeID)
	}
}

// reconcileStore walks a store's nodes directory and settles differences
// with the index in both directions.
func (w *Watcher) reconcileStore(id models.StoreID) {
	dir, ok := w.dirFor(id)
	if !ok {
		return // store left the watcher meanwhile
	}

	indexed, err := w.db.Checksums(id)
	if err != nil {
		w.logger.Warn("reconcile: checksums failed", slog.String("error", err.Error()))
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[models.NodeID]struct{}, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		nodeID, err := models.ParseNodeID(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		disk[nodeID] = struct{}{}
		w.reindex(id, nodeID)
	}

	for nodeID := range indexed {
		if _, ok := disk[nodeID]; !ok {
			w.dropNode(id, nodeID)
		}
	}
}

func (w *Watcher) storeFor(dir string) (models.StoreID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.roots[dir]
	return id, ok
}

func (w *Watcher) dirFor(id models.StoreID) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	dir, ok := w.dirs[id]
	return dir, ok
}

// readDiskNode loads a node's files straight from a nodes directory,
// bypassing any store cache: the watcher indexes what is actually on
// disk.
func readDiskNode(dir string, id models.NodeID) (*models.Node, error) {
	raw, err := os.ReadFile(filepath.Join(dir, id.String()+".json"))
	if err != nil {
		return nil, err
	}
	var n models.Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("index: parse node %s: %w", id, err)
	}
	content, err := os.ReadFile(filepath.Join(dir, id.String()+".automerge"))
	if err == nil {
		n.Content = content
	} else if !isNotExist(err) {
		return nil, err
	}
	return &n, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
