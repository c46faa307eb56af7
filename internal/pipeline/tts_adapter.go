package pipeline

import (
	"context"
	"sync"

	"github.com/arcvoice/realtime-gateway/internal/session"
)

// PiperTTSAdapter implements session.TTSAdapter over the Piper HTTP backend.
// It honors cancellation through ctx (cancelled by the orchestrator's
// session-level TTS cancel func) and exposes Interrupt for the adapter
// contract's own cancel surface, which cancels whatever call is currently
// running.
type PiperTTSAdapter struct {
	client *TTSClient
	engine string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPiperTTSAdapter wraps client, synthesizing with the given engine/voice tag.
func NewPiperTTSAdapter(client *TTSClient, engine string) *PiperTTSAdapter {
	return &PiperTTSAdapter{client: client, engine: engine}
}

// Synthesize sends text to the backend and, if it completes before ctx is
// cancelled, hands the resulting PCM to sink exactly once.
func (a *PiperTTSAdapter) Synthesize(ctx context.Context, text string, sink session.TTSSink, isFirst bool) error {
	callCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel()

	result, err := a.client.Synthesize(callCtx, text, a.engine)
	if err != nil {
		if callCtx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	if callCtx.Err() != nil {
		return context.Canceled
	}

	sink.Audio(result.Audio)
	return nil
}

// Interrupt cancels whatever Synthesize call is currently in flight. It is a
// no-op if nothing is running, and safe to call repeatedly.
func (a *PiperTTSAdapter) Interrupt() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close is a no-op: the underlying HTTP client has no per-adapter resources
// to release.
func (a *PiperTTSAdapter) Close() error {
	return nil
}
