package memory

import (
	"context"
	"fmt"
	"time"

	"requiem/internal/llm"
)

const summarizeTimeout = 60 * time.Second

// LLMSummarizer condenses evicted history through one low-temperature
// backend call.
type LLMSummarizer struct {
	gen llm.Generator
}

func NewLLMSummarizer(gen llm.Generator) *LLMSummarizer {
	return &LLMSummarizer{gen: gen}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	prompt := fmt.Sprintf(
		"Summarize the conversation below in at most 80 words. Keep names, facts, and open tasks. No preamble.\nConversation:\n%s\nSummary:",
		transcript,
	)
	return s.gen.Generate(ctx, llm.GenRequest{
		Prompt:        prompt,
		MaxLength:     120,
		ContextLength: 4096,
		Temperature:   0.3,
		TopP:          0.9,
		Timeout:       summarizeTimeout,
	})
}
