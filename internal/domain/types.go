package domain

import "encoding/json"

// Intent labels the classifier may return. Anything else is clamped to
// IntentOther before the result leaves the classifier.
const (
	IntentGreeting    = "greeting"
	IntentQuestion    = "question"
	IntentInstruction = "instruction"
	IntentConfig      = "config"
	IntentMemory      = "memory"
	IntentImage       = "image"
	IntentModeration  = "moderation"
	IntentAdmin       = "admin"
	IntentOther       = "other"
)

// Flag keys always present on a classified intent.
const (
	FlagNeedsImage = "needs_image"
	FlagNeedsAdmin = "needs_admin"
	FlagRisky      = "risky"
)

type Intent struct {
	Label      string          `json:"intent"`
	Confidence float64         `json:"confidence"`
	Flags      map[string]bool `json:"flags"`
}

func (i Intent) Flag(name string) bool {
	return i.Flags[name]
}

type PlanToolCall struct {
	Name string          `json:"name"`
	When string          `json:"when"`
	Args json.RawMessage `json:"args"`
}

type Plan struct {
	Goal            string         `json:"goal"`
	Steps           []string       `json:"steps"`
	ToolCalls       []PlanToolCall `json:"tool_calls"`
	Queries         []string       `json:"queries"`
	ToneHint        string         `json:"tone_hint"`
	Risks           []string       `json:"risks"`
	FinalSuggestion string         `json:"final_suggestion"`
}

// Normalize fills zero values so a plan is always well-formed, even
// when assembled from partial backend output.
func (p *Plan) Normalize() {
	if p.Goal == "" {
		p.Goal = "answer user"
	}
	if p.Steps == nil {
		p.Steps = []string{}
	}
	if p.ToolCalls == nil {
		p.ToolCalls = []PlanToolCall{}
	}
	if p.Queries == nil {
		p.Queries = []string{}
	}
	if p.ToneHint == "" {
		p.ToneHint = "neutral"
	}
	if p.Risks == nil {
		p.Risks = []string{}
	}
}

// Outcome is the result of one full pipeline invocation. Final is
// never empty: the generator substitutes a placeholder when the
// backend returns nothing.
type Outcome struct {
	Intent  Intent `json:"intent"`
	Plan    Plan   `json:"plan"`
	Emotion string `json:"emotion"`
	Final   string `json:"final"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ConversationEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMemory is one user's durable conversation state. History is
// chronological and is the source of truth for what was said.
type UserMemory struct {
	History []ConversationEntry `json:"history"`
	Emotion string              `json:"emotion"`
	Summary string              `json:"summary"`
}

func NewUserMemory() UserMemory {
	return UserMemory{History: []ConversationEntry{}, Emotion: "neutral", Summary: ""}
}

// Clone returns a deep copy so callers can read a snapshot without
// holding the store lock.
func (m UserMemory) Clone() UserMemory {
	out := m
	out.History = make([]ConversationEntry, len(m.History))
	copy(out.History, m.History)
	return out
}

// HTTP API payloads.

type ChatRequest struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
	Image string `json:"image,omitempty"`
	Error string `json:"error,omitempty"`
}

type ImageRequest struct {
	Prompt string `json:"prompt"`
}

type ImageResponse struct {
	Image string `json:"image,omitempty"`
	Error string `json:"error,omitempty"`
}
