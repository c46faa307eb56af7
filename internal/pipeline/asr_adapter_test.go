package pipeline

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/arcvoice/realtime-gateway/internal/audio"
)

type fakeASRSink struct {
	mu       sync.Mutex
	partials []string
	finals   []string
	errs     []string
}

func (s *fakeASRSink) PartialTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partials = append(s.partials, text)
}

func (s *fakeASRSink) FinalTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, text)
}

func (s *fakeASRSink) ASRError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, message)
}

func (s *fakeASRSink) snapshotFinals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.finals...)
}

func silentFrame() []byte {
	return make([]byte, 640) // 320 int16 LE samples of silence, raw PCM
}

func TestWhisperASRAdapterFinalizesAfterTrailingSilence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello there"}`))
	}))
	defer server.Close()

	client := NewASRClient(server.URL, 1)
	adapter := NewWhisperASRAdapter(client)
	adapter.vad = audio.NewVAD(audio.DefaultVADConfig())

	sink := &fakeASRSink{}
	adapter.Bind(sink, "s1")
	if err := adapter.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer adapter.Stop()

	frame := silentFrame()
	for i := 0; i < silenceChunksForFinal+1; i++ {
		adapter.Feed(frame)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sink.snapshotFinals()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	finals := sink.snapshotFinals()
	if len(finals) != 1 || finals[0] != "hello there" {
		t.Fatalf("expected one final transcript %q, got %v", "hello there", finals)
	}
}

func TestWhisperASRAdapterStopFlushesUnfinalizedPartial(t *testing.T) {
	var callCount int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		callCount++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"partial words"}`))
	}))
	defer server.Close()

	client := NewASRClient(server.URL, 1)
	adapter := NewWhisperASRAdapter(client)

	sink := &fakeASRSink{}
	adapter.Bind(sink, "s1")
	if err := adapter.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	frame := silentFrame()
	for i := 0; i < partialEvery; i++ {
		adapter.Feed(frame)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := callCount
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	adapter.Stop()

	finals := sink.snapshotFinals()
	if len(finals) != 1 || finals[0] != "partial words" {
		t.Fatalf("expected Stop to flush the last partial as a final, got %v", finals)
	}
}
