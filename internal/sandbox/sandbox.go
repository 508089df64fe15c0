// Package sandbox provides per-request scratch workspaces for fetch and
// build. A workspace is acquired at the start of a pipeline run and torn
// down on every exit path, including cancellation.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is an isolated scratch directory for a single verification run.
type Workspace struct {
	root string
}

// New creates a workspace under baseDir (os.TempDir when empty).
func New(baseDir string) (*Workspace, error) {
	root, err := os.MkdirTemp(baseDir, "wasmproof-*")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	for _, sub := range []string{"code", "wasm"} {
		if err := os.Mkdir(filepath.Join(root, sub), 0755); err != nil {
			os.RemoveAll(root)
			return nil, fmt.Errorf("creating workspace %s dir: %w", sub, err)
		}
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// CodeDir is where the source tree is materialized.
func (w *Workspace) CodeDir() string { return filepath.Join(w.root, "code") }

// WasmDir is where build output lands.
func (w *Workspace) WasmDir() string { return filepath.Join(w.root, "wasm") }

// Close removes the workspace and everything in it.
func (w *Workspace) Close() error {
	if w.root == "" {
		return nil
	}
	err := os.RemoveAll(w.root)
	w.root = ""
	return err
}
