package session

import (
	"context"
	"testing"
	"time"
)

func TestRequestInterruptDrainsQueuesAndCancels(t *testing.T) {
	s := New("sess-1", nil, nil, nil)
	s.ASRQueue <- "hi"
	s.LLMQueue <- "hello"
	s.TTSQueue <- "hello."
	s.TTSQueue <- "world."

	var llmCancelled, ttsCancelled bool
	s.SetLLMCancel(func() { llmCancelled = true })
	s.SetTTSCancel(func() { ttsCancelled = true })

	s.RequestInterrupt()

	if !s.Interrupted() {
		t.Fatal("expected Interrupted to be true")
	}
	if !llmCancelled || !ttsCancelled {
		t.Fatalf("expected both cancel funcs invoked, got llm=%v tts=%v", llmCancelled, ttsCancelled)
	}
	if len(s.ASRQueue) != 0 || len(s.LLMQueue) != 0 || len(s.TTSQueue) != 0 {
		t.Fatalf("expected queues drained, got asr=%d llm=%d tts=%d", len(s.ASRQueue), len(s.LLMQueue), len(s.TTSQueue))
	}

	s.ClearInterrupt()
	if s.Interrupted() {
		t.Fatal("expected Interrupted to be false after ClearInterrupt")
	}
}

func TestTTSLatchSerializesOneAtATime(t *testing.T) {
	s := New("sess-2", nil, nil, nil)
	ctx := context.Background()

	if !s.TakeTTSLatch(ctx) {
		t.Fatal("expected to take latch immediately")
	}

	taken := make(chan bool, 1)
	go func() {
		taken <- s.TakeTTSLatch(ctx)
	}()

	select {
	case <-taken:
		t.Fatal("second TakeTTSLatch should not succeed before ReleaseTTSLatch")
	case <-time.After(20 * time.Millisecond):
	}

	s.ReleaseTTSLatch()

	select {
	case ok := <-taken:
		if !ok {
			t.Fatal("expected second TakeTTSLatch to succeed after release")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for latch to be taken after release")
	}
}

func TestIsInactive(t *testing.T) {
	s := New("sess-3", nil, nil, nil)
	if s.IsInactive(time.Hour) {
		t.Fatal("freshly created session should not be inactive")
	}
	s.mu.Lock()
	s.lastActivity = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()
	if !s.IsInactive(time.Hour) {
		t.Fatal("expected session to be inactive after backdating lastActivity")
	}
}
