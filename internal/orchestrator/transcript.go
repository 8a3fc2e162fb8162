package orchestrator

import (
	"encoding/json"
	"strings"

	"requiem/internal/domain"
)

// ChatML turn markers. The core stop set prevents the model from
// synthesizing a follow-up user turn after its reply.
const (
	tokenTurnStart = "<|im_start|>"
	tokenTurnEnd   = "<|im_end|>"
)

func coreStopSequences() []string {
	return []string{tokenTurnEnd, tokenTurnStart + "user"}
}

type transcriptInput struct {
	System    string
	GlobalMem string
	Summary   string
	Knowledge string
	Intent    domain.Intent
	Plan      domain.Plan
	Tone      string
	History   []domain.ConversationEntry
	UserText  string
}

// buildTranscript assembles the full prompt: one system block carrying
// persona, shared memory, rolling summary, knowledge, and internal
// annotations; then the history window as role-tagged turns; then the
// new user turn and an open assistant marker.
func buildTranscript(in transcriptInput) string {
	sys := []string{in.System}
	if in.GlobalMem != "" {
		sys = append(sys, "\n# Shared Memory\n"+strings.TrimSpace(in.GlobalMem))
	}
	if in.Summary != "" {
		sys = append(sys, "\n# Conversation Summary\n"+strings.TrimSpace(in.Summary))
	}
	if in.Knowledge != "" {
		sys = append(sys, "\n# Knowledge\n"+in.Knowledge)
	}
	intentJSON, _ := json.Marshal(in.Intent)
	planJSON, _ := json.Marshal(in.Plan)
	sys = append(sys,
		"\n[INTERNAL intent]"+string(intentJSON),
		"[INTERNAL plan]"+string(planJSON),
		"[INTERNAL tone]"+in.Tone,
	)

	parts := []string{block("system", strings.TrimSpace(strings.Join(sys, "\n")))}
	for _, entry := range in.History {
		role := entry.Role
		if role != domain.RoleUser && role != domain.RoleAssistant {
			role = domain.RoleUser
		}
		parts = append(parts, block(role, entry.Content))
	}
	parts = append(parts, block(domain.RoleUser, in.UserText))
	parts = append(parts, tokenTurnStart+domain.RoleAssistant+"\n")
	return strings.Join(parts, "\n")
}

func block(role, content string) string {
	return tokenTurnStart + role + "\n" + content + "\n" + tokenTurnEnd
}
