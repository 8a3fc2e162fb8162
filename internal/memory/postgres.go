package memory

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"requiem/internal/domain"
)

// PostgresPersister keeps one row per user: history as JSONB plus the
// emotion and summary columns. Shape migration happens in the JSON
// decode path shared with the file persister.
type PostgresPersister struct {
	pool *pgxpool.Pool
}

func NewPostgresPersister(ctx context.Context, dsn string) (*PostgresPersister, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresPersister{pool: pool}, nil
}

func (p *PostgresPersister) Close() {
	p.pool.Close()
}

func (p *PostgresPersister) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS user_memory (
			user_id TEXT PRIMARY KEY,
			history JSONB NOT NULL DEFAULT '[]'::jsonb,
			emotion TEXT NOT NULL DEFAULT 'neutral',
			summary TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	}
	for _, q := range queries {
		if _, err := p.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresPersister) Load(ctx context.Context) (map[string]domain.UserMemory, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, history, COALESCE(emotion, 'neutral'), COALESCE(summary, '')
		FROM user_memory
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.UserMemory)
	for rows.Next() {
		var userID, emotion, summary string
		var historyRaw []byte
		if err := rows.Scan(&userID, &historyRaw, &emotion, &summary); err != nil {
			return nil, err
		}

		mem := domain.UserMemory{History: []domain.ConversationEntry{}, Emotion: emotion, Summary: summary}
		var items []json.RawMessage
		if err := json.Unmarshal(historyRaw, &items); err != nil {
			return nil, err
		}
		for _, item := range items {
			entries, _, err := decodeHistoryItem(item)
			if err != nil {
				return nil, err
			}
			mem.History = append(mem.History, entries...)
		}
		out[userID] = mem
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresPersister) SaveUser(ctx context.Context, userID string, mem domain.UserMemory) error {
	historyJSON, err := json.Marshal(mem.History)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO user_memory(user_id, history, emotion, summary, updated_at)
		VALUES ($1, $2::jsonb, $3, $4, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET
			history = EXCLUDED.history,
			emotion = EXCLUDED.emotion,
			summary = EXCLUDED.summary,
			updated_at = NOW();
	`, userID, string(historyJSON), mem.Emotion, mem.Summary)
	return err
}

func (p *PostgresPersister) DeleteUser(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM user_memory WHERE user_id=$1`, userID)
	return err
}

func (p *PostgresPersister) SaveAll(ctx context.Context, users map[string]domain.UserMemory) error {
	for userID, mem := range users {
		if err := p.SaveUser(ctx, userID, mem); err != nil {
			return err
		}
	}
	return nil
}
