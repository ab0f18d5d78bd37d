package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/models"
)

// Workspaces are whole JSON documents on disk, outside the store
// write-back path. Workspace errors answer with CodeServerError across
// the board; they are neither store nor node failures.

func (s *Server) loadWorkspace(raw json.RawMessage) (any, *Error) {
	var p workspacePathParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.Path == "" {
		return nil, invalidParams("path is required")
	}

	ws, err := loadWorkspaceFile(s.workspacePath(p.Path))
	if err != nil {
		return nil, serverErr(err)
	}
	return workspaceResult{Workspace: ws}, nil
}

func (s *Server) saveWorkspace(raw json.RawMessage) (any, *Error) {
	var p saveWorkspaceParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.Path == "" || p.Workspace == nil {
		return nil, invalidParams("path and workspace are required")
	}

	if err := saveWorkspaceFile(s.workspacePath(p.Path), p.Workspace); err != nil {
		return nil, serverErr(err)
	}
	return struct{}{}, nil
}

func (s *Server) createWorkspace(raw json.RawMessage) (any, *Error) {
	var p createWorkspaceParams
	if e := unmarshalParams(raw, &p); e != nil {
		return nil, e
	}
	if p.Path == "" || p.Name == "" {
		return nil, invalidParams("path and name are required")
	}

	path := s.workspacePath(p.Path)
	if _, err := os.Stat(path); err == nil {
		return nil, serverErr(fmt.Errorf("rpc: workspace %s: %w", path, apperr.ErrAlreadyExists))
	}
	ws := models.NewWorkspace(p.Name)
	if err := saveWorkspaceFile(path, ws); err != nil {
		return nil, serverErr(err)
	}
	return workspaceResult{Workspace: ws}, nil
}

// workspacePath resolves a workspace path; relative paths land under the
// configured workspace directory.
func (s *Server) workspacePath(p string) string {
	if filepath.IsAbs(p) || s.wsDir == "" {
		return p
	}
	return filepath.Join(s.wsDir, p)
}

func loadWorkspaceFile(path string) (*models.Workspace, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("rpc: workspace %s: %w", path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("rpc: read workspace: %w", err)
	}
	var ws models.Workspace
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("rpc: workspace %s: %w", path, apperr.ErrInvalidFormat)
	}
	if ws.Version > models.WorkspaceVersion {
		return nil, fmt.Errorf("rpc: workspace version %d: %w", ws.Version, apperr.ErrInvalidFormat)
	}
	return &ws, nil
}

func saveWorkspaceFile(path string, ws *models.Workspace) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("rpc: workspace dir: %w", err)
	}
	raw, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("rpc: encode workspace: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("rpc: write workspace: %w", err)
	}
	return nil
}
