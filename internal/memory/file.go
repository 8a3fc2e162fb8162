package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"requiem/internal/domain"
)

// FilePersister stores the whole user map as one JSON document,
// matching the layout older deployments wrote, so their files load
// unchanged (after shape migration).
type FilePersister struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	users map[string]domain.UserMemory
}

func NewFilePersister(path string, logger *slog.Logger) *FilePersister {
	return &FilePersister{path: path, logger: logger, users: make(map[string]domain.UserMemory)}
}

// Load reads and migrates the memory file. A migrated file is
// rewritten immediately so the upgrade happens once, at startup,
// rather than on every access.
func (p *FilePersister) Load(ctx context.Context) (map[string]domain.UserMemory, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]domain.UserMemory{}, nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.path, err)
	}

	migratedAny := false
	for id, rec := range raw {
		mem, migrated, err := decodeUserRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("user %s in %s: %w", id, p.path, err)
		}
		migratedAny = migratedAny || migrated
		p.users[id] = mem
	}

	if migratedAny {
		p.logger.Info("migrated legacy memory shapes", "path", p.path, "users", len(p.users))
		if err := p.flush(); err != nil {
			return nil, err
		}
	}

	out := make(map[string]domain.UserMemory, len(p.users))
	for id, mem := range p.users {
		out[id] = mem.Clone()
	}
	return out, nil
}

func (p *FilePersister) SaveUser(ctx context.Context, userID string, mem domain.UserMemory) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[userID] = mem.Clone()
	return p.flush()
}

func (p *FilePersister) DeleteUser(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, userID)
	return p.flush()
}

func (p *FilePersister) SaveAll(ctx context.Context, users map[string]domain.UserMemory) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = make(map[string]domain.UserMemory, len(users))
	for id, mem := range users {
		p.users[id] = mem.Clone()
	}
	return p.flush()
}

// flush writes via a temp file and rename so a crash mid-write never
// leaves a truncated memory file. Must be called with p.mu held.
func (p *FilePersister) flush() error {
	data, err := json.MarshalIndent(p.users, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, p.path)
}
