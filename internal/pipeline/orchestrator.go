package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arcvoice/realtime-gateway/internal/metrics"
	"github.com/arcvoice/realtime-gateway/internal/session"
	"github.com/arcvoice/realtime-gateway/internal/trace"
)

// DefaultLLMTimeout is the hard cap on a single LLM generation.
const DefaultLLMTimeout = 30 * time.Second

// Event is an outbound pipeline event. Only the fields relevant to Type are
// populated; Audio carries the one contiguous PCM payload for a tts_audio
// event and is never marshaled alongside the JSON events (callers that write
// it to the wire send it as its own binary frame).
type Event struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id,omitempty"`
	Content       string `json:"content,omitempty"`
	IsComplete    bool   `json:"is_complete,omitempty"`
	Status        string `json:"status,omitempty"`
	Format        string `json:"format,omitempty"`
	IsFirst       bool   `json:"is_first,omitempty"`
	Text          string `json:"text,omitempty"`
	Message       string `json:"message,omitempty"`
	QueuesCleared bool   `json:"queues_cleared,omitempty"`
	Audio         []byte `json:"-"`
}

// EventCallback receives outbound events as the orchestrator produces them.
type EventCallback func(Event)

// Orchestrator runs the three long-lived worker loops (ASR, LLM, TTS) that
// drive one session's pipeline end to end.
type Orchestrator struct {
	sess         *session.Session
	emit         EventCallback
	systemPrompt string
	llmTimeout   time.Duration
	tracer       *trace.Tracer

	wg sync.WaitGroup

	runMu         sync.Mutex
	runID         string
	runStart      time.Time
	runTranscript string
}

// NewOrchestrator creates an orchestrator for sess. A zero llmTimeout falls
// back to DefaultLLMTimeout. tracer may be nil, in which case every run/span
// call below is a no-op (Tracer's methods are nil-safe).
func NewOrchestrator(sess *session.Session, emit EventCallback, systemPrompt string, llmTimeout time.Duration, tracer *trace.Tracer) *Orchestrator {
	if llmTimeout <= 0 {
		llmTimeout = DefaultLLMTimeout
	}
	return &Orchestrator{sess: sess, emit: emit, systemPrompt: systemPrompt, llmTimeout: llmTimeout, tracer: tracer}
}

// beginRun starts a new trace run for one ASR-final → LLM → TTS cycle and
// remembers its ID so the LLM and TTS stages can attach spans to it.
func (o *Orchestrator) beginRun(transcript string) {
	id := o.tracer.StartRun()
	o.runMu.Lock()
	o.runID = id
	o.runStart = time.Now()
	o.runTranscript = transcript
	o.runMu.Unlock()
}

func (o *Orchestrator) currentRun() (id string, start time.Time, transcript string) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.runID, o.runStart, o.runTranscript
}

func (o *Orchestrator) runIDOnly() string {
	id, _, _ := o.currentRun()
	return id
}

// endRun closes out the current trace run with the final response text and status.
func (o *Orchestrator) endRun(response, status string) {
	id, start, transcript := o.currentRun()
	if id == "" {
		return
	}
	o.tracer.EndRun(id, float64(time.Since(start).Milliseconds()), transcript, response, status)
}

// Start launches the ASR, LLM, and TTS worker loops.
func (o *Orchestrator) Start() {
	o.wg.Add(3)
	go o.runASRWorker()
	go o.runLLMWorker()
	go o.runTTSWorker()
}

// Wait blocks until all three worker loops have exited, which only happens
// once the session is closed.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) emitEvent(e Event) {
	if o.emit == nil {
		return
	}
	e.SessionID = o.sess.ID
	o.emit(e)
}

// NewASRSink builds the session.ASRSink an ASR adapter is bound to. Finals
// are forwarded onto the session's ASR queue for the ASR worker to pick up;
// partials and errors are emitted directly.
func NewASRSink(sess *session.Session, emit EventCallback) session.ASRSink {
	return &asrSink{sess: sess, emit: emit}
}

type asrSink struct {
	sess *session.Session
	emit EventCallback
}

func (s *asrSink) emitEvent(e Event) {
	if s.emit == nil {
		return
	}
	e.SessionID = s.sess.ID
	s.emit(e)
}

func (s *asrSink) PartialTranscript(text string) {
	s.emitEvent(Event{Type: "partial_transcript", Content: text})
}

func (s *asrSink) FinalTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.emitEvent(Event{Type: "final_transcript", Content: text})
	select {
	case s.sess.ASRQueue <- text:
	case <-s.sess.Done():
	}
}

func (s *asrSink) ASRError(message string) {
	metrics.Errors.WithLabelValues("asr", "runtime").Inc()
	s.emitEvent(Event{Type: "error", Message: message})
}

// runASRWorker dequeues finalized transcripts and, for each, cancels the
// current TTS, clears the pending TTS queue without emitting it, announces
// tts_stop, and hands the transcript to the LLM worker.
func (o *Orchestrator) runASRWorker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.sess.Done():
			return
		case transcript, ok := <-o.sess.ASRQueue:
			if !ok {
				return
			}
			o.sess.ClearInterrupt()
			o.sess.CancelTTS()
			if o.sess.TTS != nil {
				o.sess.TTS.Interrupt()
			}
			o.sess.DrainTTSQueue()
			o.emitEvent(Event{Type: "tts_stop"})
			o.sess.SetState(session.StateThinking)
			o.beginRun(transcript)

			select {
			case o.sess.LLMQueue <- transcript:
			case <-o.sess.Done():
				return
			}
		}
	}
}

// runLLMWorker dequeues prompts and runs each as its own cancellable task,
// cancelling whatever generation preceded it first so at most one is ever
// active (invariant 1).
func (o *Orchestrator) runLLMWorker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.sess.Done():
			return
		case prompt, ok := <-o.sess.LLMQueue:
			if !ok {
				return
			}
			o.sess.CancelLLM()
			ctx, cancel := context.WithTimeout(context.Background(), o.llmTimeout)
			o.sess.SetLLMCancel(cancel)
			o.runLLMTask(ctx, prompt)
			cancel()
		}
	}
}

func (o *Orchestrator) runLLMTask(ctx context.Context, prompt string) {
	o.sess.SetLLMInFlight(true)
	defer o.sess.SetLLMInFlight(false)

	if o.sess.LLM == nil {
		return
	}

	start := time.Now()
	o.emitEvent(Event{Type: "llm_status", Status: "processing"})

	stream, streamErr, err := o.sess.LLM.Generate(ctx, prompt, o.systemPrompt)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "init").Inc()
		o.emitEvent(Event{Type: "error", Message: err.Error()})
		o.tracer.RecordSpan(o.runIDOnly(), "llm", start, 0, prompt, "", "error", err.Error())
		o.endRun("", "error")
		return
	}

	var full strings.Builder
	buffer := ""

	for {
		select {
		case tok, ok := <-stream:
			if !ok {
				if genErr := <-streamErr; genErr != nil {
					metrics.Errors.WithLabelValues("llm", "stream").Inc()
					o.emitEvent(Event{Type: "error", Message: genErr.Error()})
					o.tracer.RecordSpan(o.runIDOnly(), "llm", start, float64(time.Since(start).Milliseconds()), prompt, full.String(), "error", genErr.Error())
					o.endRun(full.String(), "error")
					return
				}
				o.tracer.RecordSpan(o.runIDOnly(), "llm", start, float64(time.Since(start).Milliseconds()), prompt, full.String(), "ok", "")
				o.finishLLMStream(ctx, &full, buffer)
				metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
				return
			}
			if o.sess.Interrupted() {
				return
			}

			full.WriteString(tok)
			var complete []string
			complete, buffer = ProcessStreamingText(tok, buffer)

			o.emitEvent(Event{Type: "subtitle", Content: full.String(), IsComplete: false})
			o.emitEvent(Event{Type: "llm_response", Content: full.String(), IsComplete: false})

			for _, sentence := range complete {
				if o.sess.Interrupted() {
					return
				}
				o.emitEvent(Event{Type: "subtitle", Content: sentence, IsComplete: true})
				select {
				case o.sess.TTSQueue <- sentence:
				case <-ctx.Done():
					return
				}
			}

		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				metrics.Errors.WithLabelValues("llm", "timeout").Inc()
				o.emitEvent(Event{Type: "error", Message: "llm generation timed out"})
				o.endRun(full.String(), "timeout")
			} else {
				o.endRun(full.String(), "cancelled")
			}
			return
		}
	}
}

func (o *Orchestrator) finishLLMStream(ctx context.Context, full *strings.Builder, buffer string) {
	if ctx.Err() != nil {
		if ctx.Err() == context.DeadlineExceeded {
			metrics.Errors.WithLabelValues("llm", "timeout").Inc()
			o.emitEvent(Event{Type: "error", Message: "llm generation timed out"})
			o.endRun(full.String(), "timeout")
		} else {
			o.endRun(full.String(), "cancelled")
		}
		return
	}
	if o.sess.Interrupted() {
		o.endRun(full.String(), "interrupted")
		return
	}

	if strings.TrimSpace(buffer) != "" {
		o.emitEvent(Event{Type: "subtitle", Content: buffer, IsComplete: true})
		select {
		case o.sess.TTSQueue <- buffer:
		case <-ctx.Done():
			o.endRun(full.String(), "cancelled")
			return
		}
	}

	o.emitEvent(Event{Type: "llm_response", Content: full.String(), IsComplete: true})
	o.endRun(full.String(), "ok")
}

// runTTSWorker dequeues sentences, serialized by the session's one-slot TTS
// completion latch so sentences are synthesized strictly one at a time in
// enqueue order (invariants 2 and 3).
func (o *Orchestrator) runTTSWorker() {
	defer o.wg.Done()
	for {
		if !o.sess.TakeTTSLatch(context.Background()) {
			return
		}

		select {
		case <-o.sess.Done():
			o.sess.ReleaseTTSLatch()
			return
		case sentence, ok := <-o.sess.TTSQueue:
			if !ok {
				o.sess.ReleaseTTSLatch()
				return
			}
			o.runTTSTask(sentence)
		}
	}
}

func (o *Orchestrator) runTTSTask(sentence string) {
	ctx, cancel := context.WithCancel(context.Background())
	o.sess.SetTTSCancel(cancel)
	o.sess.SetTTSInFlight(true)
	defer func() {
		o.sess.SetTTSInFlight(false)
		cancel()
		o.sess.ReleaseTTSLatch()
		if len(o.sess.TTSQueue) == 0 && !o.sess.LLMInFlight() {
			o.sess.SetState(session.StateListening)
		}
	}()

	if o.sess.Interrupted() || o.sess.TTS == nil {
		o.emitEvent(Event{Type: "tts_stop"})
		return
	}

	start := time.Now()
	o.emitEvent(Event{Type: "tts_start", Format: "pcm", Text: sentence})
	o.sess.SetState(session.StateSpeaking)

	sink := ttsSink{orch: o}
	err := o.sess.TTS.Synthesize(ctx, sentence, sink, false)

	if err != nil || ctx.Err() != nil || o.sess.Interrupted() {
		status := "cancelled"
		errMsg := ""
		if err != nil {
			status, errMsg = "error", err.Error()
		}
		o.tracer.RecordSpan(o.runIDOnly(), "tts", start, float64(time.Since(start).Milliseconds()), sentence, "", status, errMsg)
		o.emitEvent(Event{Type: "tts_stop"})
		return
	}

	o.tracer.RecordSpan(o.runIDOnly(), "tts", start, float64(time.Since(start).Milliseconds()), sentence, "", "ok", "")
	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	o.emitEvent(Event{Type: "tts_end"})
}

// ttsSink forwards a TTS adapter's synthesized audio to the orchestrator's
// emit callback as a tts_audio event, to be sent as one binary frame. Audio
// arriving while the session is interrupted is dropped.
type ttsSink struct {
	orch *Orchestrator
}

func (s ttsSink) Audio(pcm []byte) {
	if s.orch.sess.Interrupted() {
		return
	}
	s.orch.emitEvent(Event{Type: "tts_audio", Audio: pcm})
}
