package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/arcvoice/realtime-gateway/internal/pipeline"
	"github.com/arcvoice/realtime-gateway/internal/session"
	"github.com/arcvoice/realtime-gateway/internal/trace"
	"github.com/arcvoice/realtime-gateway/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	asrClient := pipeline.NewASRClient(cfg.whisperURL, cfg.asrPoolSize)
	llmAgent := initLLM(cfg)
	ttsClient := pipeline.NewTTSClient(cfg.piperURL, cfg.ttsPoolSize)

	var traceStore *trace.Store
	if cfg.postgresURL != "" {
		var err error
		traceStore, err = trace.Open(cfg.postgresURL)
		if err != nil {
			slog.Error("trace store open failed", "error", err)
		} else {
			slog.Info("tracing enabled")
		}
	}

	store := session.NewStore(cfg.sessionTimeout)
	stopSweep := make(chan struct{})
	go store.Run(stopSweep)

	handler := ws.NewHandler(ws.HandlerConfig{
		Store:        store,
		ASRClient:    asrClient,
		LLMAgent:     llmAgent,
		TTSClient:    ttsClient,
		VADConfig:    cfg.vadConfig,
		SystemPrompt: cfg.llmSystemPrompt,
		LLMEngine:    "ollama",
		LLMModel:     cfg.ollamaModel,
		TTSEngine:    "fast",
		LLMTimeout:   cfg.llmTimeout,
		TraceStore:   traceStore,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		llmRouter:  llmAgent,
		wsHandler:  handler,
		traceStore: traceStore,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, stopSweep, traceStore)

	slog.Info("gateway starting", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

// awaitShutdown blocks until SIGINT/SIGTERM, then gracefully stops the
// session sweeper and the HTTP server.
func awaitShutdown(srv *http.Server, stopSweep chan struct{}, traceStore *trace.Store) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	close(stopSweep)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if traceStore != nil {
		traceStore.Close()
	}

	srv.Shutdown(ctx)
}

// initLLM registers the SDK-backed providers alongside the raw HTTP
// streaming clients, so every configured engine is reachable either way.
func initLLM(cfg config) *pipeline.AgentLLM {
	agent := pipeline.NewAgentLLM("ollama", cfg.llmMaxTokens)

	agent.Register("ollama", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(cfg.ollamaURL + "/v1/"),
		APIKey:       param.NewOpt("ollama"),
		UseResponses: param.NewOpt(false),
	}), cfg.ollamaModel)

	agent.RegisterRaw("ollama-raw", pipeline.NewOllamaLLMClient(cfg.ollamaURL, cfg.ollamaModel, cfg.llmSystemPrompt, cfg.llmMaxTokens, cfg.llmPoolSize), cfg.ollamaModel)

	if cfg.openaiAPIKey != "" {
		agent.Register("openai", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(cfg.openaiURL + "/v1/"),
			APIKey:       param.NewOpt(cfg.openaiAPIKey),
			UseResponses: param.NewOpt(true),
		}), cfg.openaiModel)
		agent.RegisterRaw("openai-completions", pipeline.NewOpenAICompletionsClient(cfg.openaiAPIKey, cfg.openaiURL, cfg.openaiModel, cfg.llmMaxTokens, cfg.llmPoolSize), cfg.openaiModel)
	}

	if cfg.anthropicAPIKey != "" {
		agent.Register("anthropic", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(cfg.anthropicURL + "/v1/"),
			APIKey:       param.NewOpt(cfg.anthropicAPIKey),
			UseResponses: param.NewOpt(false),
		}), cfg.anthropicModel)
		agent.RegisterRaw("anthropic-raw", pipeline.NewAnthropicLLMClient(cfg.anthropicAPIKey, cfg.anthropicURL, cfg.anthropicModel, cfg.llmMaxTokens, cfg.llmPoolSize), cfg.anthropicModel)
	}

	return agent
}
