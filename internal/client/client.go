// Package client is a thin JSON-RPC client for a running othala server,
// used by the CLI commands that talk to one.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/othala/internal/models"
)

// DefaultBaseURL is where a locally running server listens by default.
const DefaultBaseURL = "http://127.0.0.1:9876"

// EnvServer is the environment variable that overrides the server URL.
const EnvServer = "OTHALA_SERVER"

// Client talks JSON-RPC 2.0 to a server's /rpc endpoint.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	nextID  atomic.Int64
}

// New creates a client. An empty baseURL falls back to $OTHALA_SERVER,
// then to DefaultBaseURL. token, if non-empty, is sent as a Bearer token.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv(EnvServer)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// RPCError is an error returned inside a JSON-RPC response envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call performs one JSON-RPC request and decodes its result into out,
// which may be nil for methods with an empty result.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("client: marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("client: %s: server returned %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("client: decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("client: decode %s result: %w", method, err)
		}
	}
	return nil
}

// CreateStoreResult is the result of a createStore call.
type CreateStoreResult struct {
	StoreID    models.StoreID `json:"store_id"`
	RootNodeID models.NodeID  `json:"root_node_id"`
}

// CreateStore creates and opens a new store at path.
func (c *Client) CreateStore(ctx context.Context, path, name string) (CreateStoreResult, error) {
	var res CreateStoreResult
	err := c.Call(ctx, "createStore", map[string]string{"path": path, "name": name}, &res)
	return res, err
}

// OpenStore opens the store at path and returns its derived view.
func (c *Client) OpenStore(ctx context.Context, path string) (models.Store, error) {
	var res struct {
		Store models.Store `json:"store"`
	}
	err := c.Call(ctx, "openStore", map[string]string{"path": path}, &res)
	return res.Store, err
}

// CloseStore flushes and closes an open store.
func (c *Client) CloseStore(ctx context.Context, id models.StoreID) error {
	return c.Call(ctx, "closeStore", map[string]any{"store_id": id}, nil)
}

// ListStores returns the derived views of every open store.
func (c *Client) ListStores(ctx context.Context) ([]models.Store, error) {
	var res struct {
		Stores []models.Store `json:"stores"`
	}
	err := c.Call(ctx, "listStores", nil, &res)
	return res.Stores, err
}

// SearchResult is one search hit.
type SearchResult struct {
	StoreID models.StoreID `json:"store_id"`
	NodeID  models.NodeID  `json:"node_id"`
	Title   string         `json:"title"`
	Snippet string         `json:"snippet"`
}

// Search runs a full-text query, optionally scoped to specific stores.
func (c *Client) Search(ctx context.Context, query string, storeIDs []models.StoreID, limit int) ([]SearchResult, error) {
	params := map[string]any{"query": query}
	if len(storeIDs) > 0 {
		params["store_ids"] = storeIDs
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var res struct {
		Results []SearchResult `json:"results"`
	}
	err := c.Call(ctx, "search", params, &res)
	return res.Results, err
}
