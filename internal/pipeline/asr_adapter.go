package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/arcvoice/realtime-gateway/internal/audio"
	"github.com/arcvoice/realtime-gateway/internal/session"
)

// partialEvery is how many fed chunks accumulate before the adapter
// re-transcribes the growing utterance buffer and emits a partial. The
// whisper.cpp backend has no native streaming/partial mode, so partials are
// approximated by re-running batch transcription over the buffer so far.
const partialEvery = 8

// silenceChunksForFinal is how many consecutive unvoiced chunks close an
// utterance and promote the buffered transcript to a final.
const silenceChunksForFinal = 15

// WhisperASRAdapter implements session.ASRAdapter over the batch whisper.cpp
// HTTP backend, segmenting the feed by voice activity: it accumulates every
// fed PCM chunk (voiced or not), periodically emits partials by re-running
// transcription on the growing buffer, and emits a final once
// silenceChunksForFinal consecutive chunks that its VAD reports as unvoiced
// close the utterance. A failed final transcription emits an error and
// stops the adapter until Start is called again.
type WhisperASRAdapter struct {
	client *ASRClient
	vad    *audio.VAD

	mu          sync.Mutex
	sink        session.ASRSink
	sessionID   string
	samples     []float32
	chunkCount  int
	silentRun   int
	lastPartial string
	finalized   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWhisperASRAdapter creates an adapter around client using its own VAD
// instance for utterance segmentation (independent of the connection
// handler's barge-in VAD).
func NewWhisperASRAdapter(client *ASRClient) *WhisperASRAdapter {
	return &WhisperASRAdapter{client: client, vad: audio.NewVAD(audio.DefaultVADConfig())}
}

// Bind attaches the sink and session id this adapter reports events to.
func (a *WhisperASRAdapter) Bind(sink session.ASRSink, sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
	a.sessionID = sessionID
}

// Start marks the adapter ready to receive audio. whisper.cpp has no
// persistent connection to establish, so this only resets internal state.
func (a *WhisperASRAdapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	a.ctx = ctx
	a.cancel = cancel
	a.samples = nil
	a.chunkCount = 0
	a.silentRun = 0
	a.lastPartial = ""
	a.finalized = true
	return nil
}

// SetupHandlers exists to satisfy the adapter contract; this backend has no
// provider SDK callbacks to register.
func (a *WhisperASRAdapter) SetupHandlers() {}

// Stop ends recognition. If a non-empty partial was never promoted to a
// final, one final transcript equal to that last partial is emitted before
// Stop returns, so a user's last words are never silently dropped.
func (a *WhisperASRAdapter) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	sink := a.sink
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	a.mu.Lock()
	partial := a.lastPartial
	flush := !a.finalized && partial != "" && sink != nil
	if flush {
		a.finalized = true
	}
	a.mu.Unlock()

	if flush {
		sink.FinalTranscript(partial)
	}
}

// Feed decodes and accumulates a PCM chunk, running VAD-based segmentation.
func (a *WhisperASRAdapter) Feed(pcm []byte) {
	voiced := a.vad.Detect(pcm)
	samples, _, err := audio.Decode(pcm, audio.CodecPCM, 16000)
	if err != nil {
		return
	}

	a.mu.Lock()
	a.samples = append(a.samples, samples...)
	a.chunkCount++
	if voiced {
		a.silentRun = 0
	} else {
		a.silentRun++
	}
	shouldFinalize := a.silentRun >= silenceChunksForFinal && len(a.samples) > 0
	shouldPartial := !shouldFinalize && a.chunkCount%partialEvery == 0 && len(a.samples) > 0
	snapshot := append([]float32(nil), a.samples...)
	a.mu.Unlock()

	switch {
	case shouldFinalize:
		a.transcribeFinal(snapshot)
	case shouldPartial:
		a.transcribePartial(snapshot)
	}
}

func (a *WhisperASRAdapter) transcribePartial(samples []float32) {
	a.mu.Lock()
	sink := a.sink
	ctx := a.ctx
	a.mu.Unlock()
	if sink == nil || ctx == nil {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		result, err := a.client.Transcribe(ctx, samples)
		if err != nil || result.Text == "" {
			return
		}
		text := strings.TrimSpace(result.Text)
		if text == "" {
			return
		}
		a.mu.Lock()
		a.lastPartial = text
		a.finalized = false
		a.mu.Unlock()
		sink.PartialTranscript(text)
	}()
}

func (a *WhisperASRAdapter) transcribeFinal(samples []float32) {
	a.mu.Lock()
	sink := a.sink
	ctx := a.ctx
	a.samples = nil
	a.silentRun = 0
	a.chunkCount = 0
	a.mu.Unlock()
	if sink == nil || ctx == nil {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		result, err := a.client.Transcribe(ctx, samples)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sink.ASRError(err.Error())
			a.mu.Lock()
			if a.ctx == ctx && a.cancel != nil {
				a.cancel()
				a.cancel = nil
			}
			a.finalized = true
			a.mu.Unlock()
			return
		}
		text := strings.TrimSpace(result.Text)
		if text == "" {
			return
		}
		a.mu.Lock()
		a.lastPartial = ""
		a.finalized = true
		a.mu.Unlock()
		sink.FinalTranscript(text)
	}()
}
