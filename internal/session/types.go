package session

import "context"

// ASRSink receives transcription events from an ASRAdapter. Implementations
// must be safe to call from the adapter's own goroutine.
type ASRSink interface {
	PartialTranscript(text string)
	FinalTranscript(text string)
	ASRError(message string)
}

// ASRAdapter streams speech recognition results for one session. Bind must be
// called before Start. Feed may be called concurrently with Start/Stop from
// the connection's receive loop; adapters must not block the caller for long.
type ASRAdapter interface {
	Bind(sink ASRSink, sessionID string)
	Start() error
	Stop()
	Feed(pcm []byte)
	SetupHandlers()
}

// LLMAdapter generates a single streamed completion per call. Each stream
// Generate returns is lazy, finite, and single-shot: the token channel is
// closed when generation ends, errors, or ctx is cancelled, and a stream is
// never restarted; the same adapter instance serves every Generate call of
// its session. The returned error channel receives exactly one value
// (nil on a clean completion or caller-initiated cancellation, non-nil on a
// genuine backend failure) after the token channel closes, so a failed
// generation is distinguishable from an empty successful one. The immediate
// error return is for synchronous start failures that prevent the stream
// from ever being established.
type LLMAdapter interface {
	Generate(ctx context.Context, prompt, systemPrompt string) (tokens <-chan string, streamErr <-chan error, err error)
}

// TTSSink receives synthesized audio. PCM is one contiguous 16-bit LE mono
// 16kHz payload per Synthesize call.
type TTSSink interface {
	Audio(pcm []byte)
}

// TTSAdapter synthesizes one utterance at a time. Interrupt cancels any
// pending or in-flight call and clears the adapter's internal send queue; a
// subsequent Synthesize call is expected to work normally afterward.
type TTSAdapter interface {
	Synthesize(ctx context.Context, text string, sink TTSSink, isFirst bool) error
	Interrupt()
	Close() error
}
