// Package rpc exposes the store manager, search index and event stream
// over JSON-RPC 2.0 on a single POST /rpc endpoint. Results and errors
// ride in the JSON-RPC envelope, so every dispatched request answers with
// HTTP 200; transport-level failures (auth, body size) keep their HTTP
// status.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starford/othala/internal/apperr"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 codes plus this service's ranges.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	CodeServerError = -32000 // anything without a better home
	CodeStoreError  = -32001 // store lifecycle and registry failures
	CodeNodeError   = -32002 // node lookup and content failures
)

// errFor translates a domain error into its wire form for node-level
// operations. Store lifecycle methods use storeErr instead, which pins
// everything to CodeStoreError.
func errFor(err error) *Error {
	switch {
	case errors.Is(err, apperr.ErrInvalidMove), errors.Is(err, apperr.ErrOutOfRange):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, apperr.ErrNotOpen):
		return &Error{Code: CodeStoreError, Message: err.Error()}
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrInvalidFormat):
		return &Error{Code: CodeNodeError, Message: err.Error()}
	default:
		return &Error{Code: CodeServerError, Message: err.Error()}
	}
}

func storeErr(err error) *Error {
	return &Error{Code: CodeStoreError, Message: err.Error()}
}

func serverErr(err error) *Error {
	return &Error{Code: CodeServerError, Message: err.Error()}
}

func invalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

// unmarshalParams decodes method params. Absent params decode into the
// zero value so parameterless methods may omit the field entirely.
func unmarshalParams(raw json.RawMessage, v any) *Error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
