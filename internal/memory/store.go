// Package memory owns durable per-user conversation state: history,
// emotion, and the rolling summary produced by compaction.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"requiem/internal/domain"
)

// Policy defaults from the original deployment; configurable, not
// derived.
const (
	DefaultKeep    = 40
	DefaultHardCap = 200
)

// Persister is the durable backing for the store. Load runs once at
// construction; the store flushes each mutation as it happens.
type Persister interface {
	Load(ctx context.Context) (map[string]domain.UserMemory, error)
	SaveUser(ctx context.Context, userID string, mem domain.UserMemory) error
	DeleteUser(ctx context.Context, userID string) error
	SaveAll(ctx context.Context, users map[string]domain.UserMemory) error
}

// Summarizer condenses a flat transcript into a short summary during
// compaction.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

type Options struct {
	Keep    int
	HardCap int
}

// Store serializes every read-modify-write against a user's entry and
// the persister under one exclusive lock, so concurrent conversations
// sharing the store never interleave mid-mutation.
type Store struct {
	mu         sync.Mutex
	users      map[string]*domain.UserMemory
	persister  Persister
	summarizer Summarizer
	keep       int
	hardCap    int
	logger     *slog.Logger
}

func NewStore(ctx context.Context, persister Persister, summarizer Summarizer, opts Options, logger *slog.Logger) (*Store, error) {
	if opts.Keep <= 0 {
		opts.Keep = DefaultKeep
	}
	if opts.HardCap <= 0 {
		opts.HardCap = DefaultHardCap
	}

	loaded, err := persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load user memory: %w", err)
	}
	users := make(map[string]*domain.UserMemory, len(loaded))
	for id, mem := range loaded {
		m := mem
		users[id] = &m
	}

	return &Store{
		users:      users,
		persister:  persister,
		summarizer: summarizer,
		keep:       opts.Keep,
		hardCap:    opts.HardCap,
		logger:     logger,
	}, nil
}

// Get returns a snapshot of the user's memory, creating a default
// entry on first access. Creation alone is not flushed; the first
// mutation is.
func (s *Store) Get(userID string) domain.UserMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(userID).Clone()
}

// entry must be called with s.mu held.
func (s *Store) entry(userID string) *domain.UserMemory {
	if m, ok := s.users[userID]; ok {
		return m
	}
	m := domain.NewUserMemory()
	s.users[userID] = &m
	return &m
}

func (s *Store) SetEmotion(ctx context.Context, userID, emotion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.entry(userID)
	m.Emotion = emotion
	return s.persister.SaveUser(ctx, userID, *m)
}

// AppendTurn records one user turn and the assistant's reply, then
// enforces the hard history cap oldest-first.
func (s *Store) AppendTurn(ctx context.Context, userID, userText, assistantText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.entry(userID)
	m.History = append(m.History,
		domain.ConversationEntry{Role: domain.RoleUser, Content: userText},
		domain.ConversationEntry{Role: domain.RoleAssistant, Content: assistantText},
	)
	if len(m.History) > s.hardCap {
		m.History = m.History[len(m.History)-s.hardCap:]
	}
	return s.persister.SaveUser(ctx, userID, *m)
}

// CompactIfNeeded folds the oldest history into the rolling summary
// once the history exceeds twice the keep window. A summarizer failure
// only loses the summary addition; truncation still happens so stored
// size stays bounded.
func (s *Store) CompactIfNeeded(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.entry(userID)
	if len(m.History) <= s.keep*2 {
		return nil
	}

	old := m.History[:len(m.History)-s.keep]
	addition, err := s.summarizer.Summarize(ctx, Transcript(old))
	if err != nil {
		s.logger.Warn("history summarization failed, compacting without summary",
			"user_id", userID, "error", err)
		addition = ""
	}

	if addition = strings.TrimSpace(addition); addition != "" {
		if m.Summary == "" {
			m.Summary = addition
		} else {
			m.Summary = m.Summary + "\n" + addition
		}
	}
	m.History = append([]domain.ConversationEntry(nil), m.History[len(m.History)-s.keep:]...)
	return s.persister.SaveUser(ctx, userID, *m)
}

// Reset drops a user's memory entirely (user-initiated forget).
func (s *Store) Reset(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return s.persister.DeleteUser(ctx, userID)
}

// Users lists known user ids.
func (s *Store) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	return out
}

// Checkpoint flushes the full store, for shutdown.
func (s *Store) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]domain.UserMemory, len(s.users))
	for id, m := range s.users {
		snapshot[id] = *m
	}
	return s.persister.SaveAll(ctx, snapshot)
}

// Transcript flattens entries into the User:/Assistant: form the
// summarizer and legacy storage use.
func Transcript(entries []domain.ConversationEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		switch e.Role {
		case domain.RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("User: ")
		}
		sb.WriteString(e.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}
