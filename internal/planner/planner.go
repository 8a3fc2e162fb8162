package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"requiem/internal/domain"
	"requiem/internal/jsonx"
	"requiem/internal/llm"
)

const planTimeout = 30 * time.Second

// Planner asks a backend for a structured reply plan. Malformed output
// gets exactly one stricter retry, then a default plan; the caller
// always receives a well-formed Plan.
type Planner struct {
	gen    llm.Generator
	logger *slog.Logger
}

func New(gen llm.Generator, logger *slog.Logger) *Planner {
	return &Planner{gen: gen, logger: logger}
}

func planPrompt(message string, it domain.Intent) string {
	intentJSON, _ := json.Marshal(it)
	messageJSON, _ := json.Marshal(message)
	return "Plan the reply. Output ONLY JSON (no prose).\n" +
		`Schema:{"goal":"str","steps":["..."],"tool_calls":[{"name":"str","when":"str","args":{}}],` +
		`"queries":[],"tone_hint":"str","risks":["..."],"final_suggestion":"str"}` + "\n" +
		fmt.Sprintf("Intent:%s\nMessage:%s\nJSON:", intentJSON, messageJSON)
}

// Plan produces the reply plan for message. Transport failures return
// an error; unparseable output never does.
func (p *Planner) Plan(ctx context.Context, message string, it domain.Intent) (domain.Plan, error) {
	prompt := planPrompt(message, it)

	out, err := p.gen.Generate(ctx, llm.GenRequest{
		Prompt:        prompt,
		MaxLength:     220,
		ContextLength: 1536,
		Temperature:   0.4,
		TopP:          0.9,
		Timeout:       planTimeout,
	})
	if err != nil {
		return domain.Plan{}, err
	}

	var plan domain.Plan
	if jsonx.ExtractInto(out, &plan) {
		plan.Normalize()
		return plan, nil
	}

	p.logger.Warn("planner returned malformed json, retrying strict", "raw_len", len(out))
	out, err = p.gen.Generate(ctx, llm.GenRequest{
		Prompt:        prompt + "\nONLY JSON. DO NOT ADD TEXT.",
		MaxLength:     180,
		ContextLength: 1536,
		Temperature:   0.2,
		TopP:          0.9,
		Timeout:       planTimeout,
	})
	if err != nil {
		return domain.Plan{}, err
	}

	if !jsonx.ExtractInto(out, &plan) {
		p.logger.Warn("planner strict retry still malformed, using default plan")
		plan = domain.Plan{}
	}
	plan.Normalize()
	return plan, nil
}
