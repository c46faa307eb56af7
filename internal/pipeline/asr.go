package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/arcvoice/realtime-gateway/internal/audio"
	"github.com/arcvoice/realtime-gateway/internal/metrics"
)

// ASRClient sends audio to a whisper.cpp inference server and returns transcriptions.
type ASRClient struct {
	url    string
	client *http.Client
}

// NewASRClient creates a client pointing at the whisper.cpp server URL.
func NewASRClient(url string, poolSize int) *ASRClient {
	return &ASRClient{
		url:    url,
		client: NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

// ASRResult holds the transcription output.
type ASRResult struct {
	Text      string  `json:"text"`
	LatencyMs float64 `json:"latency_ms"`
}

// Transcribe sends float32 audio samples (16kHz mono) to whisper.cpp and
// returns the transcript. Whisper's /inference endpoint wants a multipart
// WAV upload rather than JSON, so the request is built by hand here instead
// of through newBackendRequest.
func (c *ASRClient) Transcribe(ctx context.Context, samples []float32) (*ASRResult, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(samples)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/inference", body)
	if err != nil {
		return nil, fmt.Errorf("create asr request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := doBackendRequest(c.client, req, "asr")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var whisperResp whisperResponse
	if err = json.NewDecoder(resp.Body).Decode(&whisperResp); err != nil {
		return nil, fmt.Errorf("decode asr response: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("asr").Observe(latency.Seconds())

	return &ASRResult{
		Text:      whisperResp.Text,
		LatencyMs: float64(latency.Milliseconds()),
	}, nil
}

type whisperResponse struct {
	Text string `json:"text"`
}

func buildMultipartAudio(samples []float32) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, 16000)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}

	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}

	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}
