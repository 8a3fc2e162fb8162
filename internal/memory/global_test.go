package memory

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGlobalMissingFileIsEmpty(t *testing.T) {
	g, err := NewGlobal(filepath.Join(t.TempDir(), "nope.md"))
	if err != nil {
		t.Fatalf("NewGlobal: %v", err)
	}
	if g.Text() != "" {
		t.Fatalf("text=%q, want empty", g.Text())
	}
}

func TestGlobalReloadPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.md")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	g, err := NewGlobal(path)
	if err != nil {
		t.Fatalf("NewGlobal: %v", err)
	}
	if g.Text() != "v1" {
		t.Fatalf("text=%q", g.Text())
	}

	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if g.Text() != "v1" {
		t.Fatalf("text changed without reload: %q", g.Text())
	}
	if err := g.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if g.Text() != "v2" {
		t.Fatalf("text after reload=%q", g.Text())
	}
}
