// Package apperr defines the sentinel errors shared across the service.
// Layers wrap these with context via fmt.Errorf and %w; edges match them
// with errors.Is to pick status codes.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidPath   = errors.New("invalid path")
	ErrNotOpen       = errors.New("store not open")
	ErrInvalidFormat = errors.New("invalid format")
	ErrInvalidMove   = errors.New("invalid move")
	ErrOutOfRange    = errors.New("out of range")
)
