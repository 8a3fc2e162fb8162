package memory

import (
	"errors"
	"io/fs"
	"os"
	"sync"
)

// Global is the shared memory text injected into every transcript's
// system segment. It lives in a markdown file admins edit by hand;
// Reload picks up changes without a restart.
type Global struct {
	path string

	mu   sync.RWMutex
	text string
}

func NewGlobal(path string) (*Global, error) {
	g := &Global{path: path}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload re-reads the backing file. A missing file means empty shared
// memory, not an error.
func (g *Global) Reload() error {
	data, err := os.ReadFile(g.path)
	if errors.Is(err, fs.ErrNotExist) {
		data = nil
	} else if err != nil {
		return err
	}
	g.mu.Lock()
	g.text = string(data)
	g.mu.Unlock()
	return nil
}

func (g *Global) Text() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.text
}
