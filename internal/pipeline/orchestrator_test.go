package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arcvoice/realtime-gateway/internal/session"
)

var errBackendDown = errors.New("backend unreachable")

type fakeLLM struct {
	chunks  []string
	delay   time.Duration
	failAt  int // if > 0, Generate fails with failErr after emitting this many chunks
	failErr error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt, systemPrompt string) (<-chan string, <-chan error, error) {
	out := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		for i, c := range f.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				errCh <- nil
				return
			}
			if f.delay > 0 {
				time.Sleep(f.delay)
			}
			if f.failAt > 0 && i+1 == f.failAt {
				errCh <- f.failErr
				return
			}
		}
		errCh <- nil
	}()
	return out, errCh, nil
}

type fakeTTS struct {
	mu    sync.Mutex
	order []string
	delay time.Duration
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string, sink session.TTSSink, isFirst bool) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	f.mu.Lock()
	f.order = append(f.order, text)
	f.mu.Unlock()
	sink.Audio([]byte(text))
	return nil
}

func (f *fakeTTS) Interrupt() {}
func (f *fakeTTS) Close() error { return nil }

func (f *fakeTTS) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) byType(t string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestOrchestratorTwoSentenceTTSOrdering(t *testing.T) {
	tts := &fakeTTS{}
	llm := &fakeLLM{chunks: []string{"Hello. ", "World."}}
	sess := session.New("s1", nil, llm, tts)
	log := &eventLog{}

	orch := NewOrchestrator(sess, log.record, "", time.Second, nil)
	orch.Start()
	defer sess.Close()

	sess.ASRQueue <- "hello world"

	waitFor(t, time.Second, func() bool { return len(tts.snapshot()) == 2 })

	got := tts.snapshot()
	if got[0] != "Hello." || got[1] != "World." {
		t.Fatalf("expected sentences synthesized in order, got %v", got)
	}

	starts := log.byType("tts_start")
	if len(starts) != 2 {
		t.Fatalf("expected 2 tts_start events, got %d", len(starts))
	}
	if starts[0].Text != "Hello." || starts[1].Text != "World." {
		t.Fatalf("expected tts_start order to match enqueue order, got %v", starts)
	}
}

func TestOrchestratorInterruptDrainsQueues(t *testing.T) {
	tts := &fakeTTS{delay: 50 * time.Millisecond}
	llm := &fakeLLM{chunks: []string{"One. ", "Two. ", "Three."}, delay: 5 * time.Millisecond}
	sess := session.New("s2", nil, llm, tts)
	log := &eventLog{}

	orch := NewOrchestrator(sess, log.record, "", time.Second, nil)
	orch.Start()
	defer sess.Close()

	sess.ASRQueue <- "count to three"

	waitFor(t, time.Second, func() bool { return sess.TTSInFlight() })

	sess.RequestInterrupt()

	if len(sess.ASRQueue) != 0 || len(sess.LLMQueue) != 0 || len(sess.TTSQueue) != 0 {
		t.Fatal("expected all queues drained immediately after RequestInterrupt")
	}

	waitFor(t, 500*time.Millisecond, func() bool { return !sess.TTSInFlight() && !sess.LLMInFlight() })
}

func TestOrchestratorEmitsErrorEventOnLLMStreamFailure(t *testing.T) {
	tts := &fakeTTS{}
	llm := &fakeLLM{chunks: []string{"partial "}, failAt: 1, failErr: errBackendDown}
	sess := session.New("s4", nil, llm, tts)
	log := &eventLog{}

	orch := NewOrchestrator(sess, log.record, "", time.Second, nil)
	orch.Start()
	defer sess.Close()

	sess.ASRQueue <- "trigger a failing generation"

	waitFor(t, time.Second, func() bool { return len(log.byType("error")) > 0 })

	errs := log.byType("error")
	if errs[0].Message != errBackendDown.Error() {
		t.Fatalf("expected the backend error message to reach the client, got %q", errs[0].Message)
	}
}

func TestOrchestratorASRWorkerClearsTTSOnNewFinal(t *testing.T) {
	tts := &fakeTTS{delay: 50 * time.Millisecond}
	llm := &fakeLLM{chunks: []string{"First."}}
	sess := session.New("s3", nil, llm, tts)
	log := &eventLog{}

	orch := NewOrchestrator(sess, log.record, "", time.Second, nil)
	orch.Start()
	defer sess.Close()

	sess.ASRQueue <- "first utterance"
	waitFor(t, time.Second, func() bool { return sess.TTSInFlight() })

	sess.ASRQueue <- "second utterance"

	// The first final already produced one tts_stop; a second one only
	// appears once the ASR worker has handled the new final.
	waitFor(t, time.Second, func() bool { return len(log.byType("tts_stop")) > 1 })
}
