package pipeline

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/arcvoice/realtime-gateway/internal/metrics"
)

// TTSClient synthesizes speech from text via a Piper HTTP API.
// Supports "fast" (low quality voice) and "quality" (medium quality voice) modes.
type TTSClient struct {
	piperURL string
	client   *http.Client
}

// NewTTSClient creates a TTS client pointing at the Piper service.
func NewTTSClient(piperURL string, poolSize int) *TTSClient {
	return &TTSClient{
		piperURL: piperURL,
		client:   NewPooledHTTPClient(poolSize, 10*time.Second),
	}
}

// Voice models mapped by engine mode.
var voiceModels = map[string]string{
	"fast":    "en_US-lessac-low",
	"quality": "en_US-lessac-medium",
	"piper":   "en_US-lessac-low",
	"coqui":   "en_US-lessac-medium",
}

// TTSResult holds synthesized audio with timing.
type TTSResult struct {
	Audio     []byte  `json:"-"`
	LatencyMs float64 `json:"latency_ms"`
}

// Synthesize converts text to speech. Engine selects voice: "fast" or "quality".
func (c *TTSClient) Synthesize(ctx context.Context, text, engine string) (*TTSResult, error) {
	start := time.Now()

	req, err := newBackendRequest(ctx, "POST", c.piperURL+"/synthesize", nil, ttsRequest{
		Text:  text,
		Voice: resolveVoice(engine),
	})
	if err != nil {
		return nil, err
	}

	resp, err := doBackendRequest(c.client, req, "tts")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts").Observe(latency.Seconds())

	return &TTSResult{
		Audio:     audioData,
		LatencyMs: float64(latency.Milliseconds()),
	}, nil
}

func resolveVoice(engine string) string {
	voice, ok := voiceModels[engine]
	if !ok {
		return voiceModels["fast"]
	}
	return voice
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}
