package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"requiem/internal/config"
	"requiem/internal/domain"
	"requiem/internal/gate"
	"requiem/internal/image"
	"requiem/internal/intent"
	"requiem/internal/knowledge"
	"requiem/internal/llm"
	"requiem/internal/memory"
	"requiem/internal/orchestrator"
	"requiem/internal/planner"
	"requiem/internal/tone"
	"requiem/internal/translate"
	"requiem/internal/transport"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := config.LoadServerConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var persister memory.Persister
	var pg *memory.PostgresPersister
	if cfg.DBDSN != "" {
		var err error
		pg, err = memory.NewPostgresPersister(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("connect db failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("migrate db failed", "error", err)
			os.Exit(1)
		}
		persister = pg
		logger.Info("memory backend", "kind", "postgres")
	} else {
		persister = memory.NewFilePersister(cfg.MemoryFile, logger)
		logger.Info("memory backend", "kind", "file", "path", cfg.MemoryFile)
	}

	core := llm.NewClient(cfg.KoboldURL, nil, 120*time.Second)
	aux := llm.NewClient(cfg.IntentURL, nil, 30*time.Second)
	thoughts := llm.NewClient(cfg.ThoughtsURL, nil, 30*time.Second)

	store, err := memory.NewStore(ctx, persister, memory.NewLLMSummarizer(core), memory.Options{
		Keep:    cfg.MemoryKeep,
		HardCap: cfg.MemoryHardCap,
	}, logger)
	if err != nil {
		logger.Error("load memory failed", "error", err)
		os.Exit(1)
	}

	global, err := memory.NewGlobal(cfg.GlobalMemoryFile)
	if err != nil {
		logger.Error("load global memory failed", "error", err)
		os.Exit(1)
	}

	kb, err := knowledge.Load(cfg.KnowledgeFile)
	if err != nil {
		logger.Error("load knowledge base failed", "error", err)
		os.Exit(1)
	}

	g := gate.New(cfg.MaxWorkers)

	classifier := intent.NewClassifier(aux, intent.Options{
		ConfidenceFloor: cfg.ConfidenceFloor,
		CacheTTL:        cfg.IntentCacheTTL,
	}, logger)

	orch := orchestrator.New(orchestrator.Config{
		SystemPrompt:  cfg.SystemPrompt,
		HistoryWindow: cfg.HistoryWindow,
		MaxAttempts:   cfg.MaxAttempts,
	}, classifier, planner.New(thoughts, logger), tone.New(thoughts), core, aux, global, g, logger)

	var images *image.Client
	if cfg.SDURL != "" {
		images = image.NewClient(cfg.SDURL, nil, g)
		logger.Info("image backend enabled", "url", cfg.SDURL)
	}

	var translator translate.Translator
	if cfg.TranslateURL != "" {
		translator = translate.NewHTTPTranslator(cfg.TranslateURL, nil)
		logger.Info("translation enabled", "url", cfg.TranslateURL)
	}

	responder := transport.NewResponder(transport.ResponderConfig{
		ChunkSize:  cfg.ChunkSize,
		AdminUsers: cfg.AdminUsers,
	}, orch, store, global, kb, images, translator, logger)

	if cfg.MQTTBrokerURL != "" {
		hub := transport.NewHub(transport.HubConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, responder, logger)
		if err := hub.Start(ctx); err != nil {
			logger.Error("start mqtt hub failed", "error", err)
			os.Exit(1)
		}
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Post("/v1/chat", func(w http.ResponseWriter, req *http.Request) {
		var chatReq domain.ChatRequest
		if err := json.NewDecoder(req.Body).Decode(&chatReq); err != nil {
			writeJSON(w, http.StatusBadRequest, domain.ChatResponse{Error: "invalid json"})
			return
		}
		chatReq.User = strings.TrimSpace(chatReq.User)
		if chatReq.User == "" || strings.TrimSpace(chatReq.Message) == "" {
			writeJSON(w, http.StatusBadRequest, domain.ChatResponse{Error: "user and message are required"})
			return
		}

		res := responder.Respond(req.Context(), chatReq.User, chatReq.Message)
		resp := domain.ChatResponse{Reply: strings.Join(res.Replies, "\n")}
		if len(res.Image) > 0 {
			resp.Image = base64.StdEncoding.EncodeToString(res.Image)
		}
		writeJSON(w, http.StatusOK, resp)
	})
	r.Post("/v1/image", func(w http.ResponseWriter, req *http.Request) {
		if images == nil {
			writeJSON(w, http.StatusServiceUnavailable, domain.ImageResponse{Error: "image backend not configured"})
			return
		}
		var imgReq domain.ImageRequest
		if err := json.NewDecoder(req.Body).Decode(&imgReq); err != nil {
			writeJSON(w, http.StatusBadRequest, domain.ImageResponse{Error: "invalid json"})
			return
		}
		if strings.TrimSpace(imgReq.Prompt) == "" {
			writeJSON(w, http.StatusBadRequest, domain.ImageResponse{Error: "prompt is required"})
			return
		}
		png, err := images.Generate(req.Context(), imgReq.Prompt)
		if err != nil {
			logger.Error("image generation failed", "error", err)
			writeJSON(w, http.StatusBadGateway, domain.ImageResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, domain.ImageResponse{Image: base64.StdEncoding.EncodeToString(png)})
	})
	r.Get("/v1/memory/{user}", func(w http.ResponseWriter, req *http.Request) {
		user := chi.URLParam(req, "user")
		writeJSON(w, http.StatusOK, store.Get(user))
	})
	r.Delete("/v1/memory/{user}", func(w http.ResponseWriter, req *http.Request) {
		user := chi.URLParam(req, "user")
		if err := store.Reset(req.Context(), user); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Post("/v1/memory/reload", func(w http.ResponseWriter, _ *http.Request) {
		if err := global.Reload(); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("requiem server started", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := store.Checkpoint(shutdownCtx); err != nil {
		logger.Error("memory checkpoint failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
