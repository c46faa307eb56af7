package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// OpenAICompletionsClient streams from the /v1/completions endpoint for
// models that don't support chat completions (e.g. codex-style completion
// models that still need a single-shot prompt/response loop).
type OpenAICompletionsClient struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewOpenAICompletionsClient creates a client for the OpenAI completions API.
func NewOpenAICompletionsClient(apiKey, url, model string, maxTokens, poolSize int) *OpenAICompletionsClient {
	return &OpenAICompletionsClient{
		apiKey:    apiKey,
		url:       url,
		model:     model,
		maxTokens: maxTokens,
		client:    NewPooledHTTPClient(poolSize, 120*time.Second),
	}
}

// Chat sends the conversation as a single flattened prompt and streams the
// completion token by token.
func (c *OpenAICompletionsClient) Chat(ctx context.Context, userMessage, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error) {
	start := time.Now()

	useModel := c.model
	if model != "" {
		useModel = model
	}
	prompt := systemPrompt + "\nUser: " + userMessage + "\nAssistant:"

	reqBody := map[string]any{
		"model":      useModel,
		"prompt":     prompt,
		"max_tokens": c.maxTokens,
		"stream":     true,
	}

	req, err := newBackendRequest(ctx, "POST", c.url+"/v1/completions", map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, reqBody)
	if err != nil {
		return nil, err
	}

	resp, err := doBackendRequest(c.client, req, "llm")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	sr := consumeCompletionsStream(resp.Body, onToken)
	return sr.toResult(start, "llm"), nil
}

// consumeCompletionsStream reads the completions endpoint's "data: {...}"
// SSE frames, stopping at the "[DONE]" sentinel the API sends instead of
// closing the stream outright.
func consumeCompletionsStream(body io.Reader, onToken TokenCallback) streamResult {
	var sr streamResult
	scanSSELines(body, func(_, data string) bool {
		if data == "[DONE]" {
			return true
		}
		var chunk struct {
			Choices []struct {
				Text string `json:"text"`
			} `json:"choices"`
		}
		if json.Unmarshal([]byte(data), &chunk) != nil || len(chunk.Choices) == 0 {
			return false
		}
		sr = appendToken(sr, chunk.Choices[0].Text, onToken)
		return false
	})
	return sr
}
