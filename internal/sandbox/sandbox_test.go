package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWorkspaceLifecycle(t *testing.T) {
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, dir := range []string{ws.CodeDir(), ws.WasmDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}

	marker := filepath.Join(ws.CodeDir(), "Cargo.toml")
	if err := os.WriteFile(marker, []byte("[package]\n"), 0644); err != nil {
		t.Fatalf("writing marker: %v", err)
	}

	root := ws.Root()
	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("workspace root still exists after Close")
	}

	// Close is idempotent.
	if err := ws.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestWorkspacesAreIsolated(t *testing.T) {
	base := t.TempDir()
	a, err := New(base)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	b, err := New(base)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	if a.Root() == b.Root() {
		t.Error("two workspaces share a root")
	}
}
