package rpc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/othala/internal/crdt"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/nodetype"
	"github.com/starford/othala/internal/sse"
	"github.com/starford/othala/internal/store"
	"github.com/starford/othala/internal/testutil"
)

// testEnv builds a server over a fresh manager, SQLite index and scratch
// directory. authToken != "" enables Bearer auth with that token.
func testEnv(t *testing.T, authToken string) (http.Handler, string) {
	t.Helper()
	return buildEnv(t, authToken != "", authToken, nil)
}

func testEnvWithBroker(t *testing.T) (http.Handler, *sse.Broker, string) {
	t.Helper()
	broker := sse.NewBroker(time.Minute)
	t.Cleanup(broker.Close)
	router, dir := buildEnv(t, false, "", broker)
	return router, broker, dir
}

func buildEnv(t *testing.T, authEnabled bool, token string, broker *sse.Broker) (http.Handler, string) {
	t.Helper()

	dir := t.TempDir()
	srv := NewServer(Deps{
		Manager:      store.NewManager(),
		Index:        testutil.TestDB(t),
		Types:        nodetype.NewRegistry(),
		Broker:       broker,
		WorkspaceDir: filepath.Join(dir, "workspaces"),
	})
	router := NewRouter(srv, authEnabled, token, nil)
	return router, dir
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
	ID      json.RawMessage `json:"id"`
}

func rpcCall(t *testing.T, router http.Handler, token, method string, params any) rpcReply {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("%s: status = %d, body = %s", method, w.Code, w.Body.String())
	}

	var reply rpcReply
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("%s: decode reply: %v", method, err)
	}
	return reply
}

// mustResult fails on an error reply and decodes the result into out.
func mustResult(t *testing.T, reply rpcReply, out any) {
	t.Helper()
	if reply.Error != nil {
		t.Fatalf("unexpected rpc error %d: %s", reply.Error.Code, reply.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(reply.Result, out); err != nil {
			t.Fatalf("decode result: %v", err)
		}
	}
}

func wantCode(t *testing.T, reply rpcReply, code int) {
	t.Helper()
	if reply.Error == nil {
		t.Fatalf("expected rpc error %d, got result %s", code, reply.Result)
	}
	if reply.Error.Code != code {
		t.Fatalf("error code = %d (%s), want %d", reply.Error.Code, reply.Error.Message, code)
	}
}

func newStore(t *testing.T, router http.Handler, path, name string) createStoreResult {
	t.Helper()
	var res createStoreResult
	mustResult(t, rpcCall(t, router, "", "createStore", map[string]string{"path": path, "name": name}), &res)
	return res
}

func newNode(t *testing.T, router http.Handler, storeID models.StoreID, parentID *models.NodeID, nodeType, title string) models.NodeID {
	t.Helper()
	params := map[string]any{
		"store_id":  storeID,
		"node_type": nodeType,
		"title":     title,
	}
	if parentID != nil {
		params["parent_id"] = *parentID
	}
	var res createNodeResult
	mustResult(t, rpcCall(t, router, "", "createNode", params), &res)
	return res.NodeID
}

func TestCreateStoreAndGetNode(t *testing.T) {
	router, dir := testEnv(t, "")

	res := newStore(t, router, filepath.Join(dir, "notes"), "my notes")
	if res.StoreID.IsZero() || res.RootNodeID.IsZero() {
		t.Fatalf("zero ids in result: %+v", res)
	}

	var got nodeResult
	mustResult(t, rpcCall(t, router, "", "getNode", map[string]any{
		"store_id": res.StoreID,
		"node_id":  res.RootNodeID,
	}), &got)
	if got.Node.Type != models.TypeFolder {
		t.Errorf("root type = %q, want folder", got.Node.Type)
	}
	if got.Node.Metadata.Title != "my notes" {
		t.Errorf("root title = %q", got.Node.Metadata.Title)
	}
}

func TestCreateStoreExistingPath(t *testing.T) {
	router, dir := testEnv(t, "")

	path := filepath.Join(dir, "dup")
	newStore(t, router, path, "first")
	reply := rpcCall(t, router, "", "createStore", map[string]string{"path": path, "name": "second"})
	wantCode(t, reply, CodeStoreError)
}

func TestOpenStoreRoundTrip(t *testing.T) {
	router, dir := testEnv(t, "")

	path := filepath.Join(dir, "reopen")
	created := newStore(t, router, path, "reopen")
	mustResult(t, rpcCall(t, router, "", "closeStore", map[string]any{"store_id": created.StoreID}), nil)

	var opened storeResult
	mustResult(t, rpcCall(t, router, "", "openStore", map[string]string{"path": path}), &opened)
	if opened.Store.ID != created.StoreID {
		t.Errorf("store id = %s, want %s", opened.Store.ID, created.StoreID)
	}
	if opened.Store.RootNodeID != created.RootNodeID {
		t.Errorf("root id changed across reopen")
	}
	if opened.Store.Name != "reopen" {
		t.Errorf("name = %q", opened.Store.Name)
	}

	var list listStoresResult
	mustResult(t, rpcCall(t, router, "", "listStores", nil), &list)
	if len(list.Stores) != 1 {
		t.Errorf("open stores = %d, want 1", len(list.Stores))
	}
}

func TestOpenStoreInvalidPath(t *testing.T) {
	router, dir := testEnv(t, "")

	reply := rpcCall(t, router, "", "openStore", map[string]string{"path": filepath.Join(dir, "missing")})
	wantCode(t, reply, CodeStoreError)
}

func TestCloseUnknownStoreIsNoOp(t *testing.T) {
	router, _ := testEnv(t, "")

	mustResult(t, rpcCall(t, router, "", "closeStore", map[string]any{"store_id": models.NewStoreID()}), nil)
}

func TestCreateNodeDefaultsToRoot(t *testing.T) {
	router, dir := testEnv(t, "")
	st := newStore(t, router, filepath.Join(dir, "s"), "s")

	id := newNode(t, router, st.StoreID, nil, models.TypeDocument, "inbox note")

	var children childrenResult
	mustResult(t, rpcCall(t, router, "", "getChildren", map[string]any{
		"store_id": st.StoreID,
		"node_id":  st.RootNodeID,
	}), &children)
	if len(children.Children) != 1 || children.Children[0].ID != id {
		t.Fatalf("root children = %+v", children.Children)
	}
	if children.Children[0].Metadata.Title != "inbox note" {
		t.Errorf("title = %q", children.Children[0].Metadata.Title)
	}
}

func TestCreateNodePersistsToDisk(t *testing.T) {
	router, dir := testEnv(t, "")
	path := filepath.Join(dir, "s")
	st := newStore(t, router, path, "s")

	id := newNode(t, router, st.StoreID, nil, models.TypeDocument, "on disk")

	if _, err := os.Stat(filepath.Join(path, "nodes", id.String()+".json")); err != nil {
		t.Fatalf("metadata file not flushed: %v", err)
	}
}

func TestSetNodeTextFlushesAndIndexes(t *testing.T) {
	router, dir := testEnv(t, "")
	path := filepath.Join(dir, "s")
	st := newStore(t, router, path, "s")
	id := newNode(t, router, st.StoreID, nil, models.TypeDocument, "fox doc")

	mustResult(t, rpcCall(t, router, "", "setNodeText", map[string]any{
		"store_id": st.StoreID,
		"node_id":  id,
		"text":     "the quick brown fox",
	}), nil)

	if _, err := os.Stat(filepath.Join(path, "nodes", id.String()+".automerge")); err != nil {
		t.Fatalf("content sidecar not flushed: %v", err)
	}

	var got nodeResult
	mustResult(t, rpcCall(t, router, "", "getNode", map[string]any{
		"store_id": st.StoreID, "node_id": id,
	}), &got)
	if len(got.Node.Content) == 0 {
		t.Error("node content empty after setNodeText")
	}

	var sr searchResponse
	mustResult(t, rpcCall(t, router, "", "search", map[string]any{"query": "quick"}), &sr)
	if sr.Total != 1 || sr.Results[0].NodeID != id {
		t.Fatalf("search results = %+v", sr)
	}
}

func TestUpdateNodeContentAppliesChanges(t *testing.T) {
	router, dir := testEnv(t, "")
	st := newStore(t, router, filepath.Join(dir, "s"), "s")
	id := newNode(t, router, st.StoreID, nil, models.TypeDocument, "synced doc")

	// Changes minted by another replica.
	remote := crdt.NewDocumentContent()
	if err := remote.SetText("words from another replica"); err != nil {
		t.Fatal(err)
	}
	changes := remote.Document().ChangesSince(nil)
	encoded := make([]string, len(changes))
	for i := range changes {
		encoded[i] = base64.StdEncoding.EncodeToString(changes[i].Encode())
	}

	params := map[string]any{
		"store_id": st.StoreID,
		"node_id":  id,
		"changes":  encoded,
	}
	mustResult(t, rpcCall(t, router, "", "updateNodeContent", params), nil)

	var sr searchResponse
	mustResult(t, rpcCall(t, router, "", "search", map[string]any{"query": "replica"}), &sr)
	if sr.Total != 1 {
		t.Fatalf("search after apply = %+v", sr)
	}

	// Reapplying the same changes is a no-op, not an error.
	mustResult(t, rpcCall(t, router, "", "updateNodeContent", params), nil)
}

func TestUpdateNodeContentRejectsGarbage(t *testing.T) {
	router, dir := testEnv(t, "")
	st := newStore(t, router, filepath.Join(dir, "s"), "s")
	id := newNode(t, router, st.StoreID, nil, models.TypeDocument, "doc")

	reply := rpcCall(t, router, "", "updateNodeContent", map[string]any{
		"store_id": st.StoreID,
		"node_id":  id,
		"changes":  []string{"!!! not base64 !!!"},
	})
	wantCode(t, reply, CodeInvalidParams)

	reply = rpcCall(t, router, "", "updateNodeContent", map[string]any{
		"store_id": st.StoreID,
		"node_id":  id,
		"changes":  []string{base64.StdEncoding.EncodeToString([]byte("junk"))},
	})
	wantCode(t, reply, CodeNodeError)
}

func TestUpdateNodeMetadata(t *testing.T) {
	router, dir := testEnv(t, "")
	st := newStore(t, router, filepath.Join(dir, "s"), "s")
	id := newNode(t, router, st.StoreID, nil, models.TypeDocument, "before")

	var before nodeResult
	mustResult(t, rpcCall(t, router, "", "getNode", map[string]any{
		"store_id": st.StoreID, "node_id": id,
	}), &before)

	mustResult(t, rpcCall(t, router, "", "updateNodeMetadata", map[string]any{
		"store_id": st.StoreID,
		"node_id":  id,
		"title":    "after",
		"tags":     []string{"daily", "journal"},
	}), nil)

	var after nodeResult
	mustResult(t, rpcCall(t, router, "", "getNode", map[string]any{
		"store_id": st.StoreID, "node_id": id,
	}), &after)
	if after.Node.Metadata.Title != "after" {
		t.Errorf("title = %q", after.Node.Metadata.Title)
	}
	if len(after.Node.Metadata.Tags) != 2 {
		t.Errorf("tags = %v", after.Node.Metadata.Tags)
	}
	if !after.Node.Metadata.CreatedAt.Equal(before.Node.Metadata.CreatedAt) {
		t.Error("partial update must keep created_at")
	}

	// Title lands in the index.
	var sr searchResponse
	mustResult(t, rpcCall(t, router, "", "search", map[string]any{"query": "after"}), &sr)
	if sr.Total != 1 {
		t.Errorf("search by new title = %+v", sr)
	}
}

func TestDeleteNode(t *testing.T) {
	router, dir := testEnv(t, "")
	path := filepath.Join(dir, "s")
	st := newStore(t, router, path, "s")
	id := newNode(t, router, st.StoreID, nil, models.TypeDocument, "doomed")
	mustResult(t, rpcCall(t, router, "", "setNodeText", map[string]any{
		"store_id": st.StoreID, "node_id": id, "text": "ephemeral words",
	}), nil)

	mustResult(t, rpcCall(t, router, "", "deleteNode", map[string]any{
		"store_id": st.StoreID, "node_id": id,
	}), nil)

	reply := rpcCall(t, router, "", "getNode", map[string]any{
		"store_id": st.StoreID, "node_id": id,
	})
	wantCode(t, reply, CodeNodeError)

	for _, name := range []string{id.String() + ".json", id.String() + ".automerge"} {
		if _, err := os.Stat(filepath.Join(path, "nodes", name)); err == nil {
			t.Errorf("%s still on disk after delete", name)
		}
	}

	var sr searchResponse
	mustResult(t, rpcCall(t, router, "", "search", map[string]any{"query": "ephemeral"}), &sr)
	if sr.Total != 0 {
		t.Errorf("deleted node still indexed: %+v", sr)
	}
}

func TestMoveNode(t *testing.T) {
	router, dir := testEnv(t, "")
	st := newStore(t, router, filepath.Join(dir, "s"), "s")
	a := newNode(t, router, st.StoreID, nil, models.TypeFolder, "a")
	b := newNode(t, router, st.StoreID, nil, models.TypeFolder, "b")
	doc := newNode(t, router, st.StoreID, &a, models.TypeDocument, "wandering")

	mustResult(t, rpcCall(t, router, "", "moveNode", map[string]any{
		"store_id":      st.StoreID,
		"node_id":       doc,
		"new_parent_id": b,
	}), nil)

	var aKids, bKids childrenResult
	mustResult(t, rpcCall(t, router, "", "getChildren", map[string]any{
		"store_id": st.StoreID, "node_id": a,
	}), &aKids)
	mustResult(t, rpcCall(t, router, "", "getChildren", map[string]any{
		"store_id": st.StoreID, "node_id": b,
	}), &bKids)
	if len(aKids.Children) != 0 {
		t.Errorf("old parent still has %d children", len(aKids.Children))
	}
	if len(bKids.Children) != 1 || bKids.Children[0].ID != doc {
		t.Errorf("new parent children = %+v", bKids.Children)
	}
}

func TestMoveNodeRejected(t *testing.T) {
	router, dir := testEnv(t, "")
	st := newStore(t, router, filepath.Join(dir, "s"), "s")
	folder := newNode(t, router, st.StoreID, nil, models.TypeFolder, "f")
	inner := newNode(t, router, st.StoreID, &folder, models.TypeFolder, "inner")

	// Root cannot move.
	reply := rpcCall(t, router, "", "moveNode", map[string]any{
		"store_id":      st.StoreID,
		"node_id":       st.RootNodeID,
		"new_parent_id": folder,
	})
	wantCode(t, reply, CodeInvalidParams)

	// A node cannot move under its own descendant.
	reply = rpcCall(t, router, "", "moveNode", map[string]any{
		"store_id":      st.StoreID,
		"node_id":       folder,
		"new_parent_id": inner,
	})
	wantCode(t, reply, CodeInvalidParams)
}

func TestGetNodesSkipsMissing(t *testing.T) {
	router, dir := testEnv(t, "")
	st := newStore(t, router, filepath.Join(dir, "s"), "s")
	id := newNode(t, router, st.StoreID, nil, models.TypeDocument, "present")

	var res nodesResult
	mustResult(t, rpcCall(t, router, "", "getNodes", map[string]any{
		"store_id": st.StoreID,
		"node_ids": []models.NodeID{id, models.NewNodeID()},
	}), &res)
	if len(res.Nodes) != 1 || res.Nodes[0].ID != id {
		t.Fatalf("nodes = %+v", res.Nodes)
	}
}

func TestNotOpenStoreError(t *testing.T) {
	router, _ := testEnv(t, "")

	reply := rpcCall(t, router, "", "getNode", map[string]any{
		"store_id": models.NewStoreID(),
		"node_id":  models.NewNodeID(),
	})
	wantCode(t, reply, CodeStoreError)
}

func TestSearchScopedToStore(t *testing.T) {
	router, dir := testEnv(t, "")
	st1 := newStore(t, router, filepath.Join(dir, "one"), "one")
	st2 := newStore(t, router, filepath.Join(dir, "two"), "two")
	d1 := newNode(t, router, st1.StoreID, nil, models.TypeDocument, "d1")
	d2 := newNode(t, router, st2.StoreID, nil, models.TypeDocument, "d2")
	mustResult(t, rpcCall(t, router, "", "setNodeText", map[string]any{
		"store_id": st1.StoreID, "node_id": d1, "text": "shared token alpha",
	}), nil)
	mustResult(t, rpcCall(t, router, "", "setNodeText", map[string]any{
		"store_id": st2.StoreID, "node_id": d2, "text": "shared token beta",
	}), nil)

	var all searchResponse
	mustResult(t, rpcCall(t, router, "", "search", map[string]any{"query": "token"}), &all)
	if all.Total != 2 {
		t.Fatalf("unscoped search total = %d, want 2", all.Total)
	}

	var scoped searchResponse
	mustResult(t, rpcCall(t, router, "", "search", map[string]any{
		"query":     "token",
		"store_ids": []models.StoreID{st1.StoreID},
	}), &scoped)
	if scoped.Total != 1 || scoped.Results[0].StoreID != st1.StoreID {
		t.Fatalf("scoped search = %+v", scoped)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	router, _ := testEnv(t, "")
	wantCode(t, rpcCall(t, router, "", "search", map[string]any{"query": ""}), CodeInvalidParams)
}

func TestWorkspaceLifecycle(t *testing.T) {
	router, dir := testEnv(t, "")

	var created workspaceResult
	mustResult(t, rpcCall(t, router, "", "createWorkspace", map[string]string{
		"path": "main.json", "name": "main",
	}), &created)
	if created.Workspace.Name != "main" {
		t.Fatalf("workspace = %+v", created.Workspace)
	}

	// Relative paths land under the configured workspace directory.
	if _, err := os.Stat(filepath.Join(dir, "workspaces", "main.json")); err != nil {
		t.Fatalf("workspace file not written: %v", err)
	}

	st := newStore(t, router, filepath.Join(dir, "ws-store"), "ws store")
	var info storeResult
	mustResult(t, rpcCall(t, router, "", "openStore", map[string]string{
		"path": filepath.Join(dir, "ws-store"),
	}), &info)

	ws := created.Workspace
	ws.AddStore(info.Store)
	mustResult(t, rpcCall(t, router, "", "saveWorkspace", map[string]any{
		"path": "main.json", "workspace": ws,
	}), nil)

	var loaded workspaceResult
	mustResult(t, rpcCall(t, router, "", "loadWorkspace", map[string]string{
		"path": "main.json",
	}), &loaded)
	if loaded.Workspace.ID != ws.ID {
		t.Errorf("workspace id changed across save/load")
	}
	if len(loaded.Workspace.Stores) != 1 || loaded.Workspace.Stores[0].Store.ID != st.StoreID {
		t.Errorf("workspace stores = %+v", loaded.Workspace.Stores)
	}
}

func TestWorkspaceCreateExisting(t *testing.T) {
	router, _ := testEnv(t, "")

	mustResult(t, rpcCall(t, router, "", "createWorkspace", map[string]string{
		"path": "dup.json", "name": "dup",
	}), nil)
	reply := rpcCall(t, router, "", "createWorkspace", map[string]string{
		"path": "dup.json", "name": "dup",
	})
	wantCode(t, reply, CodeServerError)
}

func TestWorkspaceLoadMissing(t *testing.T) {
	router, _ := testEnv(t, "")
	wantCode(t, rpcCall(t, router, "", "loadWorkspace", map[string]string{
		"path": "nope.json",
	}), CodeServerError)
}

func TestParseError(t *testing.T) {
	router, _ := testEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var reply rpcReply
	_ = json.Unmarshal(w.Body.Bytes(), &reply)
	if reply.Error == nil || reply.Error.Code != CodeParse {
		t.Fatalf("reply = %s", w.Body.String())
	}
	if string(reply.ID) != "null" {
		t.Errorf("id = %s, want null", reply.ID)
	}
}

func TestInvalidRequest(t *testing.T) {
	router, _ := testEnv(t, "")

	for _, body := range []string{
		`{"jsonrpc":"1.0","id":1,"method":"listStores"}`,
		`{"jsonrpc":"2.0","id":1}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		var reply rpcReply
		_ = json.Unmarshal(w.Body.Bytes(), &reply)
		if reply.Error == nil || reply.Error.Code != CodeInvalidRequest {
			t.Errorf("body %s: reply = %s", body, w.Body.String())
		}
	}
}

func TestBatchNotSupported(t *testing.T) {
	router, _ := testEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`[{"jsonrpc":"2.0","id":1,"method":"listStores"}]`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var reply rpcReply
	_ = json.Unmarshal(w.Body.Bytes(), &reply)
	if reply.Error == nil || reply.Error.Code != CodeInvalidRequest {
		t.Fatalf("reply = %s", w.Body.String())
	}
}

func TestMethodNotFound(t *testing.T) {
	router, _ := testEnv(t, "")
	wantCode(t, rpcCall(t, router, "", "frobnicate", nil), CodeMethodNotFound)
}

func TestInvalidParamsOnBadID(t *testing.T) {
	router, _ := testEnv(t, "")
	wantCode(t, rpcCall(t, router, "", "getNode", map[string]any{
		"store_id": "not-a-uuid",
		"node_id":  "also-not",
	}), CodeInvalidParams)
}

func TestNotificationExecutes(t *testing.T) {
	router, dir := testEnv(t, "")
	st := newStore(t, router, filepath.Join(dir, "s"), "s")

	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "createNode",
		"params": map[string]any{
			"store_id":  st.StoreID,
			"node_type": models.TypeDocument,
			"title":     "silent",
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("notification status = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Body.Len() != 0 {
		t.Errorf("notification answered with a body: %s", w.Body.String())
	}

	var children childrenResult
	mustResult(t, rpcCall(t, router, "", "getChildren", map[string]any{
		"store_id": st.StoreID, "node_id": st.RootNodeID,
	}), &children)
	if len(children.Children) != 1 {
		t.Errorf("notification did not execute, children = %d", len(children.Children))
	}
}

func TestAuthToken(t *testing.T) {
	router, _ := testEnv(t, "secret123")

	// No token.
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"listStores"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	// Wrong token.
	req = httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"listStores"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}

	// Valid token.
	var list listStoresResult
	mustResult(t, rpcCall(t, router, "secret123", "listStores", nil), &list)
}

func waitForEvent(t *testing.T, ch chan []byte, eventType string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("subscriber closed while waiting for %s", eventType)
			}
			if strings.Contains(string(msg), "event: "+eventType+"\n") {
				return
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", eventType)
		}
	}
}

func TestEventsPublished(t *testing.T) {
	router, broker, dir := testEnvWithBroker(t)

	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	st := newStore(t, router, filepath.Join(dir, "s"), "s")
	waitForEvent(t, ch, "store.opened")

	newNode(t, router, st.StoreID, nil, models.TypeDocument, "evented")
	waitForEvent(t, ch, "node.created")

	mustResult(t, rpcCall(t, router, "", "closeStore", map[string]any{"store_id": st.StoreID}), nil)
	waitForEvent(t, ch, "store.closed")
}
