package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// AnthropicLLMClient streams chat completions from the Anthropic Messages API.
type AnthropicLLMClient struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropicLLMClient creates an Anthropic streaming client.
func NewAnthropicLLMClient(apiKey, url, model string, maxTokens, poolSize int) *AnthropicLLMClient {
	return &AnthropicLLMClient{
		apiKey:    apiKey,
		url:       url,
		model:     model,
		maxTokens: maxTokens,
		client:    NewPooledHTTPClient(poolSize, 120*time.Second),
	}
}

// Chat streams a single Messages API turn, forwarding text deltas to onToken
// and accumulating any thinking-model reasoning trace separately.
func (c *AnthropicLLMClient) Chat(ctx context.Context, userMessage, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error) {
	start := time.Now()

	useModel := c.model
	if model != "" {
		useModel = model
	}

	reqBody := anthropicRequest{
		Model:     useModel,
		MaxTokens: c.maxTokens,
		Stream:    true,
		System:    systemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: userMessage}},
	}

	req, err := newBackendRequest(ctx, "POST", c.url+"/v1/messages", map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}, reqBody)
	if err != nil {
		return nil, err
	}

	resp, err := doBackendRequest(c.client, req, "llm")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	sr := consumeAnthropicStream(resp.Body, onToken)
	return sr.toResult(start, "llm"), nil
}

// consumeAnthropicStream dispatches the Messages API's named SSE events:
// content_block_delta carries text or thinking deltas, message_stop ends the
// turn. Every other event name is ignored.
func consumeAnthropicStream(body io.Reader, onToken TokenCallback) streamResult {
	var sr streamResult
	scanSSELines(body, func(event, data string) bool {
		switch event {
		case "message_stop":
			return true
		case "content_block_delta":
			var delta anthropicDeltaEvent
			if json.Unmarshal([]byte(data), &delta) != nil {
				return false
			}
			if delta.Delta.Type == "thinking_delta" {
				sr.thinking += delta.Delta.Thinking
				return false
			}
			sr = appendToken(sr, delta.Delta.Text, onToken)
		}
		return false
	})
	return sr
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicDeltaEvent struct {
	Delta anthropicDelta `json:"delta"`
}

type anthropicDelta struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}
