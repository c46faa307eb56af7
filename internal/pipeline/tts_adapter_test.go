package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeTTSSink struct {
	audio [][]byte
}

func (s *fakeTTSSink) Audio(pcm []byte) {
	s.audio = append(s.audio, pcm)
}

func TestPiperTTSAdapterSynthesizeDeliversAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pcm-bytes"))
	}))
	defer server.Close()

	client := NewTTSClient(server.URL, 1)
	adapter := NewPiperTTSAdapter(client, "fast")

	sink := &fakeTTSSink{}
	if err := adapter.Synthesize(context.Background(), "hello", sink, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sink.audio) != 1 || string(sink.audio[0]) != "pcm-bytes" {
		t.Fatalf("expected sink to receive the synthesized audio once, got %v", sink.audio)
	}
}

func TestPiperTTSAdapterInterruptCancelsInFlightCall(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := NewTTSClient(server.URL, 1)
	adapter := NewPiperTTSAdapter(client, "fast")

	sink := &fakeTTSSink{}
	errCh := make(chan error, 1)
	go func() {
		errCh <- adapter.Synthesize(context.Background(), "hello", sink, false)
	}()

	time.Sleep(50 * time.Millisecond)
	adapter.Interrupt()
	close(release)

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled after Interrupt, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Synthesize did not return after Interrupt")
	}

	if len(sink.audio) != 0 {
		t.Fatalf("expected no audio delivered to an interrupted synthesis, got %v", sink.audio)
	}
}
