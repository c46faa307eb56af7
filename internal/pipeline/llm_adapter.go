package pipeline

import (
	"context"
)

// StreamingLLMAdapter implements session.LLMAdapter over an AgentLLM (or any
// raw LLMChatClient registered with it). Each Generate call drives one
// single-shot, non-restartable token stream; ctx cancellation stops the
// stream with no further yields, satisfying the adapter contract's
// cancellation requirement without the adapter needing its own cancel state.
type StreamingLLMAdapter struct {
	agent  *AgentLLM
	engine string
	model  string
}

// NewStreamingLLMAdapter wraps agent, always generating against engine/model.
func NewStreamingLLMAdapter(agent *AgentLLM, engine, model string) *StreamingLLMAdapter {
	return &StreamingLLMAdapter{agent: agent, engine: engine, model: model}
}

// Generate streams tokens from the resolved backend. The token channel is
// closed when generation completes, fails, or ctx is cancelled. The error
// channel (buffered, exactly one send) carries the backend failure once the
// token channel closes, unless ctx was already cancelled first — a
// caller-initiated interrupt is not itself a failure worth surfacing.
func (a *StreamingLLMAdapter) Generate(ctx context.Context, prompt, systemPrompt string) (<-chan string, <-chan error, error) {
	out := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)

		onToken := func(tok string) {
			select {
			case out <- tok:
			case <-ctx.Done():
			}
		}

		_, err := a.agent.Chat(ctx, prompt, systemPrompt, a.model, a.engine, onToken)
		if err != nil && ctx.Err() == nil {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	return out, errCh, nil
}
