package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/nodetype"
	"github.com/starford/othala/internal/sse"
	"github.com/starford/othala/internal/store"
)

// Deps bundles what a Server operates on. Broker and Watcher are
// optional: event fan-out and live store watching are skipped when nil.
type Deps struct {
	Manager      *store.Manager
	Index        *index.DB
	Types        *nodetype.Registry
	Broker       *sse.Broker
	Watcher      *index.Watcher
	WorkspaceDir string
}

// Server dispatches JSON-RPC methods onto the store manager, the search
// index and the event broker. The manager has no locking of its own; the
// server serializes access with a single RWMutex, write-locked for any
// method that can mutate state or lazily load into a store cache.
type Server struct {
	mu      sync.RWMutex
	manager *store.Manager
	db      *index.DB
	types   *nodetype.Registry
	broker  *sse.Broker
	watcher *index.Watcher
	wsDir   string
}

// NewServer creates a Server from its dependencies.
func NewServer(d Deps) *Server {
	return &Server{
		manager: d.Manager,
		db:      d.Index,
		types:   d.Types,
		broker:  d.Broker,
		watcher: d.Watcher,
		wsDir:   d.WorkspaceDir,
	}
}

// ServeRPC handles POST /rpc. Requests without an id are notifications:
// they execute but answer with 204 and no envelope.
func (s *Server) ServeRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusOK, errResponseEnvelope(nil, &Error{Code: CodeParse, Message: "unreadable request body"}))
		return
	}

	if len(bytes.TrimSpace(body)) > 0 && bytes.TrimSpace(body)[0] == '[' {
		writeJSON(w, http.StatusOK, errResponseEnvelope(nil, &Error{Code: CodeInvalidRequest, Message: "batch requests are not supported"}))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusOK, errResponseEnvelope(nil, &Error{Code: CodeParse, Message: "parse error"}))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeJSON(w, http.StatusOK, errResponseEnvelope(req.ID, &Error{Code: CodeInvalidRequest, Message: "invalid request"}))
		return
	}

	result, rpcErr := s.call(req.Method, req.Params)

	if len(req.ID) == 0 || string(req.ID) == "null" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if rpcErr != nil {
		slog.Debug("rpc error",
			slog.String("method", req.Method),
			slog.Int("code", rpcErr.Code),
			slog.String("message", rpcErr.Message))
		writeJSON(w, http.StatusOK, errResponseEnvelope(req.ID, rpcErr))
		return
	}
	writeJSON(w, http.StatusOK, Response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func errResponseEnvelope(id json.RawMessage, e *Error) Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return Response{JSONRPC: "2.0", Error: e, ID: id}
}

func (s *Server) call(method string, params json.RawMessage) (any, *Error) {
	switch method {
	case "createStore":
		return s.createStore(params)
	case "openStore":
		return s.openStore(params)
	case "closeStore":
		return s.closeStore(params)
	case "listStores":
		return s.listStores()
	case "getNode":
		return s.getNode(params)
	case "getNodes":
		return s.getNodes(params)
	case "createNode":
		return s.createNode(params)
	case "updateNodeMetadata":
		return s.updateNodeMetadata(params)
	case "updateNodeContent":
		return s.updateNodeContent(params)
	case "setNodeText":
		return s.setNodeText(params)
	case "deleteNode":
		return s.deleteNode(params)
	case "moveNode":
		return s.moveNode(params)
	case "getChildren":
		return s.getChildren(params)
	case "loadWorkspace":
		return s.loadWorkspace(params)
	case "saveWorkspace":
		return s.saveWorkspace(params)
	case "createWorkspace":
		return s.createWorkspace(params)
	case "search":
		return s.search(params)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", method)}
	}
}
