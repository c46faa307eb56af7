package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// LLMChatClient is a single-shot streaming chat backend: send one user
// message, get back tokens as they're generated. Every concrete realtime
// backend (Ollama, OpenAI completions, Anthropic) implements this the same
// way regardless of wire format, which is what lets AgentLLM swap between
// them by engine name alone.
type LLMChatClient interface {
	Chat(ctx context.Context, userMessage, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error)
}

// LLMResult holds the complete LLM response with timing, returned by Chat.
// The orchestrator builds its subtitle/llm_response events from the streamed
// tokens, not from this value.
type LLMResult struct {
	Text               string  `json:"text"`
	Thinking           string  `json:"thinking,omitempty"`
	LatencyMs          float64 `json:"latency_ms"`
	TimeToFirstTokenMs float64 `json:"ttft_ms"`
}

// TokenCallback is called for each streamed token.
type TokenCallback func(token string)

// LLMRouter dispatches to the correct LLM backend based on engine name. Kept
// alongside AgentLLM (which is what the gateway wires up) as the plain
// Router[T]-based path for code that only ever talks to raw LLMChatClients;
// nothing in this module constructs one.
type LLMRouter struct {
	*Router[LLMChatClient]
}

// NewLLMRouter creates a router with registered LLM backends and a fallback default.
func NewLLMRouter(backends map[string]LLMChatClient, fallback string) *LLMRouter {
	return &LLMRouter{Router: NewRouter(backends, fallback)}
}

// Chat routes to the correct backend and streams a chat completion.
func (r *LLMRouter) Chat(ctx context.Context, userMessage, systemPrompt, model, engine string, onToken TokenCallback) (*LLMResult, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	return backend.Chat(ctx, userMessage, systemPrompt, model, onToken)
}

// --- Ollama backend ---

// OllamaLLMClient streams chat completions from a local Ollama daemon over
// its native /api/chat endpoint (newline-delimited JSON, not SSE).
type OllamaLLMClient struct {
	url          string
	model        string
	systemPrompt string
	maxTokens    int
	client       *http.Client
}

// NewOllamaLLMClient creates an Ollama HTTP client.
func NewOllamaLLMClient(url, model, systemPrompt string, maxTokens, poolSize int) *OllamaLLMClient {
	return &OllamaLLMClient{
		url:          url,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       NewPooledHTTPClient(poolSize, 60*time.Second),
	}
}

// Chat sends a user message to Ollama and streams the response token by token.
func (c *OllamaLLMClient) Chat(ctx context.Context, userMessage, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error) {
	start := time.Now()

	resp, err := c.postChatRequest(ctx, userMessage, systemPrompt, model)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	sr := consumeOllamaStream(resp.Body, onToken)
	return sr.toResult(start, "llm"), nil
}

func (c *OllamaLLMClient) postChatRequest(ctx context.Context, userMessage, systemPrompt, model string) (*http.Response, error) {
	sysPrompt := c.systemPrompt
	if systemPrompt != "" {
		sysPrompt = systemPrompt
	}
	useModel := c.model
	if model != "" {
		useModel = model
	}

	reqBody := ollamaRequest{
		Model:  useModel,
		Stream: true,
		Options: ollamaOptions{
			NumPredict: c.maxTokens,
		},
		Messages: []ollamaMessage{
			{Role: "system", Content: sysPrompt},
			{Role: "user", Content: userMessage},
		},
	}

	req, err := newBackendRequest(ctx, "POST", c.url+"/api/chat", nil, reqBody)
	if err != nil {
		return nil, err
	}
	return doBackendRequest(c.client, req, "llm")
}

// consumeOllamaStream reads the newline-delimited JSON chunks Ollama emits
// until a done:true chunk closes the stream, folding each chunk's content
// (and any thinking-model "thinking" field) into sr.
func consumeOllamaStream(body io.Reader, onToken TokenCallback) streamResult {
	var sr streamResult
	decoder := json.NewDecoder(body)

	for {
		var chunk ollamaStreamChunk
		if err := decoder.Decode(&chunk); err != nil {
			return sr
		}
		if chunk.Done {
			return sr
		}
		if chunk.Message.Thinking != "" {
			sr.thinking += chunk.Message.Thinking
			continue
		}
		sr = appendToken(sr, chunk.Message.Content, onToken)
	}
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaStreamChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}
