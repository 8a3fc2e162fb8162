package memory

import (
	"encoding/json"
	"strings"

	"requiem/internal/domain"
)

// Two legacy layouts predate the structured entry format and still
// occur in old memory files:
//
//  1. the whole user record is a bare list of flat transcript strings
//  2. the record has the current shape but history holds flat
//     "User: ...\nAI: ...\n" strings instead of role/content objects
//
// decodeUserRecord resolves any of the three shapes to the canonical
// record. The second return reports whether migration changed the
// shape, so callers can persist the upgrade immediately.
func decodeUserRecord(raw json.RawMessage) (domain.UserMemory, bool, error) {
	var current struct {
		History []json.RawMessage `json:"history"`
		Emotion string            `json:"emotion"`
		Summary string            `json:"summary"`
	}
	if err := json.Unmarshal(raw, &current); err == nil {
		mem := domain.UserMemory{History: []domain.ConversationEntry{}, Emotion: current.Emotion, Summary: current.Summary}
		if mem.Emotion == "" {
			mem.Emotion = "neutral"
		}
		migrated := false
		for _, item := range current.History {
			entries, wasLegacy, err := decodeHistoryItem(item)
			if err != nil {
				return domain.UserMemory{}, false, err
			}
			migrated = migrated || wasLegacy
			mem.History = append(mem.History, entries...)
		}
		return mem, migrated, nil
	}

	// Oldest shape: the record itself is a list of transcript strings.
	var legacy []string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return domain.UserMemory{}, false, err
	}
	mem := domain.NewUserMemory()
	for _, chunk := range legacy {
		mem.History = append(mem.History, parseTranscript(chunk)...)
	}
	return mem, true, nil
}

func decodeHistoryItem(raw json.RawMessage) ([]domain.ConversationEntry, bool, error) {
	var entry domain.ConversationEntry
	if err := json.Unmarshal(raw, &entry); err == nil {
		if entry.Role != domain.RoleAssistant {
			entry.Role = domain.RoleUser
		}
		return []domain.ConversationEntry{entry}, false, nil
	}
	var flat string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, false, err
	}
	return parseTranscript(flat), true, nil
}

// parseTranscript splits a flat "User: ...\nAI: ...\n" chunk into
// entries. Unprefixed continuation lines belong to the entry above.
func parseTranscript(chunk string) []domain.ConversationEntry {
	var out []domain.ConversationEntry
	appendLine := func(role, content string) {
		out = append(out, domain.ConversationEntry{Role: role, Content: content})
	}
	for _, line := range strings.Split(chunk, "\n") {
		switch {
		case strings.HasPrefix(line, "User: "):
			appendLine(domain.RoleUser, strings.TrimPrefix(line, "User: "))
		case strings.HasPrefix(line, "AI: "):
			appendLine(domain.RoleAssistant, strings.TrimPrefix(line, "AI: "))
		case strings.HasPrefix(line, "Assistant: "):
			appendLine(domain.RoleAssistant, strings.TrimPrefix(line, "Assistant: "))
		default:
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			if len(out) == 0 {
				appendLine(domain.RoleUser, line)
				continue
			}
			out[len(out)-1].Content += "\n" + line
		}
	}
	return out
}
