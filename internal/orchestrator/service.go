// Package orchestrator runs one user turn through the staged pipeline:
// classify, plan, estimate tone, generate, verify coherence. Stages are
// fixed and sequential; each stage's output feeds the next.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"requiem/internal/domain"
	"requiem/internal/gate"
	"requiem/internal/intent"
	"requiem/internal/llm"
	"requiem/internal/planner"
	"requiem/internal/tone"
)

// DefaultSystemPrompt is the base persona directive.
const DefaultSystemPrompt = "You are Requiem. Be concise, multilingual (mirror the user's language), " +
	"helpful, and accurate. If the user mixes languages, answer in their dominant " +
	"language. Avoid roleplay unless asked."

// EmptyReplyPlaceholder substitutes for an empty generation so the
// pipeline never propagates an empty final reply.
const EmptyReplyPlaceholder = "(no text)"

// DefaultMaxAttempts is the generation attempt budget per invocation,
// preserved from the original deployment as policy.
const DefaultMaxAttempts = 2

const (
	DefaultHistoryWindow = 20

	generateTimeout = 120 * time.Second
	verifyTimeout   = 30 * time.Second
)

// Request is one user turn. History and Summary come from the memory
// store; updating the store afterwards is the caller's responsibility.
type Request struct {
	UserID    string
	History   []domain.ConversationEntry
	Message   string
	Knowledge string
	Summary   string
}

type Config struct {
	SystemPrompt  string
	HistoryWindow int
	MaxAttempts   int
}

// GlobalMemory supplies the shared memory text for the system segment.
type GlobalMemory interface {
	Text() string
}

type Service struct {
	systemPrompt  string
	historyWindow int
	maxAttempts   int

	classifier *intent.Classifier
	planner    *planner.Planner
	tone       *tone.Estimator
	core       llm.Generator
	verify     llm.Generator
	globalMem  GlobalMemory
	gate       *gate.Gate
	logger     *slog.Logger
}

func New(cfg Config, classifier *intent.Classifier, pln *planner.Planner, toneEst *tone.Estimator,
	core, verify llm.Generator, globalMem GlobalMemory, g *gate.Gate, logger *slog.Logger) *Service {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Service{
		systemPrompt:  cfg.SystemPrompt,
		historyWindow: cfg.HistoryWindow,
		maxAttempts:   cfg.MaxAttempts,
		classifier:    classifier,
		planner:       pln,
		tone:          toneEst,
		core:          core,
		verify:        verify,
		globalMem:     globalMem,
		gate:          g,
		logger:        logger,
	}
}

// Handle runs the full pipeline for one turn. The gate is held for the
// whole invocation, bounding simultaneous backend-bound pipelines. A
// backend transport failure aborts the invocation; malformed structured
// output never does.
func (s *Service) Handle(ctx context.Context, req Request) (domain.Outcome, error) {
	if err := s.gate.Acquire(ctx); err != nil {
		return domain.Outcome{}, err
	}
	defer s.gate.Release()

	start := time.Now()

	it, err := s.classifier.Classify(ctx, req.Message)
	if err != nil {
		return domain.Outcome{}, err
	}

	pl, err := s.planner.Plan(ctx, req.Message, it)
	if err != nil {
		return domain.Outcome{}, err
	}

	emotion, err := s.tone.Estimate(ctx, req.Message, pl.ToneHint)
	if err != nil {
		return domain.Outcome{}, err
	}

	var final string
	attempts := 0
	coherent := false
	for attempts < s.maxAttempts && !coherent {
		attempts++
		final, err = s.generate(ctx, req, it, pl, emotion)
		if err != nil {
			return domain.Outcome{}, err
		}
		coherent, err = s.isCoherent(ctx, req.Message, final)
		if err != nil {
			return domain.Outcome{}, err
		}
	}
	// Budget exhausted: favor availability, return the last reply
	// whatever the verdict was.

	s.logger.Info("pipeline timing",
		"user_id", req.UserID,
		"intent", it.Label,
		"attempts", attempts,
		"coherent", coherent,
		"total_ms", time.Since(start).Milliseconds(),
	)

	return domain.Outcome{Intent: it, Plan: pl, Emotion: emotion, Final: final}, nil
}

func (s *Service) generate(ctx context.Context, req Request, it domain.Intent, pl domain.Plan, emotion string) (string, error) {
	globalMem := ""
	if s.globalMem != nil {
		globalMem = s.globalMem.Text()
	}
	prompt := buildTranscript(transcriptInput{
		System:    s.systemPrompt,
		GlobalMem: globalMem,
		Summary:   req.Summary,
		Knowledge: req.Knowledge,
		Intent:    it,
		Plan:      pl,
		Tone:      emotion,
		History:   tailEntries(req.History, s.historyWindow),
		UserText:  req.Message,
	})

	out, err := s.core.Generate(ctx, llm.GenRequest{
		Prompt:        prompt,
		MaxLength:     350,
		ContextLength: 8192,
		Temperature:   0.75,
		TopP:          0.9,
		Stop:          coreStopSequences(),
		Timeout:       generateTimeout,
	})
	if err != nil {
		return "", err
	}
	if out == "" {
		return EmptyReplyPlaceholder, nil
	}
	return out, nil
}

// isCoherent asks a cheap yes/no question about the reply. Only an
// answer starting with "y" counts as coherent.
func (s *Service) isCoherent(ctx context.Context, message, reply string) (bool, error) {
	prompt := "Answer YES if the assistant reply directly addresses the user message, otherwise NO.\n" +
		"Message: " + message + "\nReply: " + reply + "\nAnswer:"
	out, err := s.verify.Generate(ctx, llm.GenRequest{
		Prompt:        prompt,
		MaxLength:     6,
		ContextLength: 512,
		Temperature:   0.0,
		TopP:          0.5,
		Timeout:       verifyTimeout,
	})
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(out)), "y"), nil
}

func tailEntries(entries []domain.ConversationEntry, n int) []domain.ConversationEntry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
