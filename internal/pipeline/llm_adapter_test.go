package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeChatClient struct {
	tokens    []string
	delay     time.Duration
	failAfter int // if > 0, Chat returns failErr after emitting this many tokens
	failErr   error
}

func (f *fakeChatClient) Chat(ctx context.Context, userMessage, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error) {
	var full string
	for i, tok := range f.tokens {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if f.failAfter > 0 && i == f.failAfter {
			return nil, f.failErr
		}
		onToken(tok)
		full += tok
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
	}
	return &LLMResult{Text: full}, nil
}

func TestStreamingLLMAdapterGenerateStreamsTokensInOrder(t *testing.T) {
	agent := NewAgentLLM("fake", 2048)
	agent.RegisterRaw("fake", &fakeChatClient{tokens: []string{"Hel", "lo ", "world"}}, "fake-model")

	adapter := NewStreamingLLMAdapter(agent, "fake", "fake-model")

	stream, streamErr, err := adapter.Generate(context.Background(), "hi", "be nice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []string
	for tok := range stream {
		got = append(got, tok)
	}

	if len(got) != 3 || got[0] != "Hel" || got[1] != "lo " || got[2] != "world" {
		t.Fatalf("expected tokens in order, got %v", got)
	}
	if genErr := <-streamErr; genErr != nil {
		t.Fatalf("expected a nil error on clean completion, got %v", genErr)
	}
}

func TestStreamingLLMAdapterGenerateStopsOnCancel(t *testing.T) {
	agent := NewAgentLLM("fake", 2048)
	agent.RegisterRaw("fake", &fakeChatClient{tokens: []string{"a", "b", "c", "d", "e"}, delay: 50 * time.Millisecond}, "fake-model")

	adapter := NewStreamingLLMAdapter(agent, "fake", "fake-model")

	ctx, cancel := context.WithCancel(context.Background())
	stream, streamErr, err := adapter.Generate(ctx, "hi", "be nice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	<-stream
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				if genErr := <-streamErr; genErr != nil {
					t.Fatalf("expected cancellation to not surface as a stream error, got %v", genErr)
				}
				return
			}
		case <-deadline:
			t.Fatal("expected stream to close shortly after cancellation")
		}
	}
}

func TestStreamingLLMAdapterGenerateSurfacesBackendError(t *testing.T) {
	wantErr := errors.New("upstream rejected the request")
	agent := NewAgentLLM("fake", 2048)
	agent.RegisterRaw("fake", &fakeChatClient{tokens: []string{"a", "b"}, failAfter: 1, failErr: wantErr}, "fake-model")

	adapter := NewStreamingLLMAdapter(agent, "fake", "fake-model")

	stream, streamErr, err := adapter.Generate(context.Background(), "hi", "be nice")
	if err != nil {
		t.Fatalf("unexpected immediate error: %v", err)
	}

	for range stream {
	}

	genErr := <-streamErr
	if genErr == nil || genErr.Error() != wantErr.Error() {
		t.Fatalf("expected the backend failure to surface on the error channel, got %v", genErr)
	}
}
