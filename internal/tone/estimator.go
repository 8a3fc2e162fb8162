// Package tone derives a short free-text style hint for the response
// generator from the user message and the planner's tone suggestion.
package tone

import (
	"context"
	"fmt"
	"strings"
	"time"

	"requiem/internal/llm"
)

const (
	DefaultHint = "calm & precise"

	maxHintLen   = 48
	hintTimeout  = 30 * time.Second
	hintMaxWords = 10
)

type Estimator struct {
	gen llm.Generator
}

func New(gen llm.Generator) *Estimator {
	return &Estimator{gen: gen}
}

// Estimate returns a style hint of at most 48 characters. Only the
// first output line counts; an empty backend answer yields the
// default hint.
func (e *Estimator) Estimate(ctx context.Context, message, planHint string) (string, error) {
	prompt := fmt.Sprintf(
		"Return a <=%d word tone hint. No quotes.\nContext tone_hint:%s\nMessage:%s\nHint:",
		hintMaxWords, planHint, message,
	)
	out, err := e.gen.Generate(ctx, llm.GenRequest{
		Prompt:        prompt,
		MaxLength:     20,
		ContextLength: 512,
		Temperature:   0.7,
		TopP:          0.9,
		Timeout:       hintTimeout,
	})
	if err != nil {
		return "", err
	}

	hint := out
	if i := strings.IndexByte(hint, '\n'); i >= 0 {
		hint = hint[:i]
	}
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return DefaultHint, nil
	}
	if runes := []rune(hint); len(runes) > maxHintLen {
		hint = string(runes[:maxHintLen])
	}
	return hint, nil
}
