package main

import (
	"time"

	"github.com/arcvoice/realtime-gateway/internal/audio"
	"github.com/arcvoice/realtime-gateway/internal/env"
	"github.com/arcvoice/realtime-gateway/internal/pipeline"
	"github.com/arcvoice/realtime-gateway/internal/prompts"
)

type config struct {
	port string

	whisperURL  string
	asrPoolSize int

	ollamaURL       string
	ollamaModel     string
	openaiAPIKey    string
	openaiURL       string
	openaiModel     string
	anthropicAPIKey string
	anthropicURL    string
	anthropicModel  string
	llmSystemPrompt string
	llmMaxTokens    int
	llmPoolSize     int
	llmTimeout      time.Duration

	piperURL    string
	ttsPoolSize int

	sessionTimeout time.Duration
	vadConfig      audio.VADConfig

	postgresURL string
}

func loadConfig() config {
	vad := audio.DefaultVADConfig()
	vad.EnergyThreshold = env.Float("VAD_ENERGY_THRESHOLD", vad.EnergyThreshold)

	return config{
		port: env.Str("GATEWAY_PORT", "8000"),

		whisperURL:  env.Str("WHISPER_SERVER_URL", "http://localhost:8081"),
		asrPoolSize: env.Int("ASR_POOL_SIZE", 50),

		ollamaURL:       env.Str("OLLAMA_URL", "http://localhost:11434"),
		ollamaModel:     env.Str("OLLAMA_MODEL", "llama3.2:3b"),
		openaiAPIKey:    env.Str("OPENAI_API_KEY", ""),
		openaiURL:       env.Str("OPENAI_URL", "https://api.openai.com"),
		openaiModel:     env.Str("OPENAI_MODEL", "gpt-4.1-nano"),
		anthropicAPIKey: env.Str("ANTHROPIC_API_KEY", ""),
		anthropicURL:    env.Str("ANTHROPIC_URL", "https://api.anthropic.com"),
		anthropicModel:  env.Str("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		llmSystemPrompt: env.Str("LLM_SYSTEM_PROMPT", prompts.DefaultSystem),
		llmMaxTokens:    env.Int("LLM_MAX_TOKENS", 2048),
		llmPoolSize:     env.Int("LLM_POOL_SIZE", 50),
		llmTimeout:      env.Duration("LLM_TIMEOUT", pipeline.DefaultLLMTimeout),

		piperURL:    env.Str("PIPER_URL", "http://localhost:5100"),
		ttsPoolSize: env.Int("TTS_POOL_SIZE", 50),

		sessionTimeout: env.Duration("SESSION_TIMEOUT", 600*time.Second),
		vadConfig:      vad,

		postgresURL: env.Str("POSTGRES_URL", ""),
	}
}
