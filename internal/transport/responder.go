// Package transport is the chat front end: it receives raw user
// messages, parses bot commands, runs turns through the pipeline, and
// delivers chunked replies (and generated images) back to the user.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"requiem/internal/domain"
	"requiem/internal/image"
	"requiem/internal/knowledge"
	"requiem/internal/memory"
	"requiem/internal/orchestrator"
	"requiem/internal/translate"
)

// DefaultChunkSize matches the message size limit of common chat
// surfaces.
const DefaultChunkSize = 2000

const pivotLang = "en"

type Pipeline interface {
	Handle(ctx context.Context, req orchestrator.Request) (domain.Outcome, error)
}

type ResponderConfig struct {
	ChunkSize  int
	AdminUsers []string
}

// Result is what a single inbound message produces: zero or more reply
// chunks and optionally one rendered image.
type Result struct {
	Replies []string
	Image   []byte
}

// Responder holds the turn logic independent of any delivery
// mechanism; the MQTT hub and the HTTP API both sit on top of it.
type Responder struct {
	pipeline   Pipeline
	store      *memory.Store
	global     *memory.Global
	kb         *knowledge.Base
	images     *image.Client
	translator translate.Translator
	chunkSize  int
	admins     map[string]struct{}
	logger     *slog.Logger
}

func NewResponder(cfg ResponderConfig, pipeline Pipeline, store *memory.Store, global *memory.Global,
	kb *knowledge.Base, images *image.Client, translator translate.Translator, logger *slog.Logger) *Responder {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if translator == nil {
		translator = translate.Noop{}
	}
	admins := make(map[string]struct{}, len(cfg.AdminUsers))
	for _, id := range cfg.AdminUsers {
		admins[strings.TrimSpace(id)] = struct{}{}
	}
	return &Responder{
		pipeline:   pipeline,
		store:      store,
		global:     global,
		kb:         kb,
		images:     images,
		translator: translator,
		chunkSize:  cfg.ChunkSize,
		admins:     admins,
		logger:     logger,
	}
}

// Respond handles one inbound message: a bot command or a
// conversational turn.
func (r *Responder) Respond(ctx context.Context, userID, text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}
	}
	if strings.HasPrefix(text, "!") {
		return Result{Replies: []string{r.runCommand(ctx, userID, text)}}
	}
	return r.runTurn(ctx, userID, text)
}

func (r *Responder) runCommand(ctx context.Context, userID, text string) string {
	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "!forget":
		if err := r.store.Reset(ctx, userID); err != nil {
			r.logger.Error("memory reset failed", "user_id", userID, "error", err)
			return "Could not clear your memory, try again later."
		}
		return "Your memory has been cleared."
	case "!reload":
		if _, ok := r.admins[userID]; !ok {
			return "You do not have permission to reload memory."
		}
		if err := r.global.Reload(); err != nil {
			r.logger.Error("global memory reload failed", "error", err)
			return "Shared memory reload failed."
		}
		return "Shared memory reloaded."
	case "!emotion":
		if arg == "" {
			return fmt.Sprintf("Current emotion: %s", r.store.Get(userID).Emotion)
		}
		if err := r.store.SetEmotion(ctx, userID, arg); err != nil {
			r.logger.Error("set emotion failed", "user_id", userID, "error", err)
			return "Could not set emotion."
		}
		return fmt.Sprintf("Emotion set to %s.", arg)
	case "!help":
		return "Commands: !forget, !reload, !emotion <mood>"
	default:
		return "Unknown command. Commands: !forget, !reload, !emotion <mood>"
	}
}

// runTurn executes the pipeline and, on success, updates the memory
// store. A failed turn leaves memory untouched.
func (r *Responder) runTurn(ctx context.Context, userID, text string) Result {
	lang := r.translator.Detect(ctx, text)
	pivotText := r.translator.Translate(ctx, text, lang, pivotLang)

	mem := r.store.Get(userID)
	kb := ""
	if r.kb != nil {
		kb = r.kb.Lookup(pivotText, knowledge.DefaultMaxItems)
	}

	outcome, err := r.pipeline.Handle(ctx, orchestrator.Request{
		UserID:    userID,
		History:   mem.History,
		Message:   pivotText,
		Knowledge: kb,
		Summary:   mem.Summary,
	})
	if err != nil {
		r.logger.Error("pipeline failed", "user_id", userID, "error", err)
		return Result{Replies: []string{fmt.Sprintf("Error: %v", err)}}
	}

	if err := r.store.AppendTurn(ctx, userID, pivotText, outcome.Final); err != nil {
		r.logger.Error("append turn failed", "user_id", userID, "error", err)
	}
	if err := r.store.CompactIfNeeded(ctx, userID); err != nil {
		r.logger.Error("compaction failed", "user_id", userID, "error", err)
	}

	reply := r.translator.Translate(ctx, outcome.Final, pivotLang, lang)
	res := Result{Replies: ChunkMessage(reply, r.chunkSize)}

	if outcome.Intent.Flag(domain.FlagNeedsImage) && r.images.Enabled() {
		png, imgErr := r.images.Generate(ctx, pivotText)
		if imgErr != nil {
			r.logger.Warn("image generation failed", "user_id", userID, "error", imgErr)
		} else {
			res.Image = png
		}
	}
	return res
}

// ChunkMessage splits text into delivery-sized chunks, preferring to
// break at a newline or space near the limit.
func ChunkMessage(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	for len(runes) > size {
		cut := size
		for i := size; i > size/2; i-- {
			if runes[i-1] == '\n' || runes[i-1] == ' ' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), " \n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
