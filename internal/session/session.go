package session

import (
	"context"
	"sync"
	"time"
)

// QueueCapacity bounds the session's inter-stage queues. A producer blocks
// once a queue is full, which is the pipeline's natural backpressure.
const QueueCapacity = 32

// State is the coarse lifecycle state of a session's pipeline.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
	StateClosed    State = "closed"
)

// Session holds all per-connection pipeline state. A Session is created by
// the connection handler and owned by it for the connection's lifetime; the
// orchestrator and adapters only ever reach it through the accessors below.
type Session struct {
	ID string

	ASR ASRAdapter
	LLM LLMAdapter
	TTS TTSAdapter

	// ASRQueue carries finalized transcripts from the ASR adapter's sink into
	// the ASR worker (asr_out). LLMQueue carries them on from the ASR worker
	// to the LLM worker (llm_in). TTSQueue carries complete sentences from
	// the LLM worker to the TTS worker (tts_in).
	ASRQueue chan string
	LLMQueue chan string
	TTSQueue chan string

	// ttsLatch is the one-slot completion gate serializing TTS synthesis:
	// cleared when a synthesis begins, set again when it ends. It must never
	// be replaced by an unbounded buffer — doing so breaks ordered delivery.
	ttsLatch chan struct{}

	mu           sync.Mutex
	lastActivity time.Time
	interrupted  bool
	llmInFlight  bool
	ttsInFlight  bool
	state        State

	llmCancel context.CancelFunc
	ttsCancel context.CancelFunc

	done chan struct{}
}

// New creates a session with empty queues and an initially-open TTS latch
// (no synthesis in flight, so the gate starts set).
func New(id string, asr ASRAdapter, llm LLMAdapter, tts TTSAdapter) *Session {
	s := &Session{
		ID:           id,
		ASR:          asr,
		LLM:          llm,
		TTS:          tts,
		ASRQueue:     make(chan string, QueueCapacity),
		LLMQueue:     make(chan string, QueueCapacity),
		TTSQueue:     make(chan string, QueueCapacity),
		ttsLatch:     make(chan struct{}, 1),
		lastActivity: time.Now(),
		state:        StateIdle,
		done:         make(chan struct{}),
	}
	s.ttsLatch <- struct{}{}
	return s
}

// Done returns a channel closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close tears the session down; safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	s.state = StateClosed
}

// UpdateActivity advances LastActivity to now. LastActivity only ever moves
// forward, so concurrent calls never need to reconcile ordering.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IsInactive reports whether the session has been idle longer than timeout.
func (s *Session) IsInactive(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity) > timeout
}

// SetState transitions the coarse pipeline state.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current coarse pipeline state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Interrupted reports whether an interrupt is currently in effect.
func (s *Session) Interrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupted
}

// SetLLMInFlight records whether an LLM generation is currently active. The
// orchestrator is authoritative for this flag, not the LLM adapter.
func (s *Session) SetLLMInFlight(v bool) {
	s.mu.Lock()
	s.llmInFlight = v
	s.mu.Unlock()
}

// LLMInFlight reports whether an LLM generation is currently active.
func (s *Session) LLMInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llmInFlight
}

// SetTTSInFlight records whether a TTS synthesis is currently active. The
// orchestrator is authoritative for this flag, not the TTS adapter.
func (s *Session) SetTTSInFlight(v bool) {
	s.mu.Lock()
	s.ttsInFlight = v
	s.mu.Unlock()
}

// TTSInFlight reports whether a TTS synthesis is currently active.
func (s *Session) TTSInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttsInFlight
}

// SetLLMCancel stores the cancel func for the currently running LLM task.
func (s *Session) SetLLMCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.llmCancel = cancel
	s.mu.Unlock()
}

// SetTTSCancel stores the cancel func for the currently running TTS task.
func (s *Session) SetTTSCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.ttsCancel = cancel
	s.mu.Unlock()
}

// CancelTTS cancels the in-flight TTS task, if any. Idempotent.
func (s *Session) CancelTTS() {
	s.mu.Lock()
	cancel := s.ttsCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancelLLM cancels the in-flight LLM task, if any. Idempotent.
func (s *Session) CancelLLM() {
	s.mu.Lock()
	cancel := s.llmCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// TakeTTSLatch blocks until the TTS completion latch is available, then
// clears it. Callers must call ReleaseTTSLatch when the synthesis this call
// guards has finished, on every exit path.
func (s *Session) TakeTTSLatch(ctx context.Context) bool {
	select {
	case <-s.ttsLatch:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

// DrainTTSQueue empties TTSQueue without emitting its contents, used when a
// new final transcript supersedes whatever TTS work was already queued.
func (s *Session) DrainTTSQueue() {
	drain(s.TTSQueue)
}

// ReleaseTTSLatch sets the latch again, unblocking the next TTS iteration.
func (s *Session) ReleaseTTSLatch() {
	select {
	case s.ttsLatch <- struct{}{}:
	default:
	}
}

// RequestInterrupt implements barge-in: marks the session interrupted,
// cancels whatever LLM/TTS task is in flight, and drains all queues without
// emitting their contents. ASR is left running.
func (s *Session) RequestInterrupt() {
	s.mu.Lock()
	s.interrupted = true
	llmCancel := s.llmCancel
	ttsCancel := s.ttsCancel
	s.mu.Unlock()

	if llmCancel != nil {
		llmCancel()
	}
	if ttsCancel != nil {
		ttsCancel()
	}
	s.drainQueues()
}

// ClearInterrupt lifts the interrupt flag so the next final transcript may be
// admitted into the pipeline.
func (s *Session) ClearInterrupt() {
	s.mu.Lock()
	s.interrupted = false
	s.mu.Unlock()
}

func (s *Session) drainQueues() {
	drain(s.ASRQueue)
	drain(s.LLMQueue)
	drain(s.TTSQueue)
}

func drain(ch chan string) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
