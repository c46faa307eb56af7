package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arcvoice/realtime-gateway/internal/metrics"
)

// newBackendRequest marshals payload as JSON and builds a request against one
// of this session's realtime backends (ASR/LLM/TTS), applying any extra
// headers the backend needs (auth, API version) on top of the JSON content
// type every one of them sends.
func newBackendRequest(ctx context.Context, method, url string, headers map[string]string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// doBackendRequest executes req against a pipeline stage backend, recording
// a metrics.Errors sample and logging under stage for both transport
// failures and non-200 responses. On a non-200 response the body is read
// (bounded) into the returned error and the response closed; callers only
// see resp.Body open on the success path.
func doBackendRequest(client *http.Client, req *http.Request, stage string) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues(stage, "http").Inc()
		slog.Warn("backend request failed", "stage", stage, "url", req.URL.Path, "error", err)
		return nil, fmt.Errorf("%s request: %w", stage, err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues(stage, "status").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		slog.Warn("backend request rejected", "stage", stage, "status", resp.StatusCode)
		return nil, fmt.Errorf("%s status %d: %s", stage, resp.StatusCode, snippet)
	}

	return resp, nil
}

// streamResult accumulates a streamed chat completion's text as tokens
// arrive, regardless of which wire framing the backend uses underneath.
type streamResult struct {
	text     string
	thinking string
	ttft     time.Time
}

// appendToken folds one decoded token into sr, stamping time-to-first-token
// on the first non-empty token and forwarding it to onToken. Shared by every
// LLM backend's stream consumer so the TTFT bookkeeping lives in one place.
func appendToken(sr streamResult, token string, onToken TokenCallback) streamResult {
	if token == "" {
		return sr
	}
	if sr.ttft.IsZero() {
		sr.ttft = time.Now()
	}
	if onToken != nil {
		onToken(token)
	}
	sr.text += token
	return sr
}

func (sr streamResult) timeToFirstTokenMs(start time.Time) float64 {
	if sr.ttft.IsZero() {
		return 0
	}
	return float64(sr.ttft.Sub(start).Milliseconds())
}

// toResult finalizes sr into the LLMResult every backend's Chat returns,
// stamping total latency from start and recording it under stage.
func (sr streamResult) toResult(start time.Time, stage string) *LLMResult {
	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues(stage).Observe(latency.Seconds())
	return &LLMResult{
		Text:               sr.text,
		Thinking:           sr.thinking,
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: sr.timeToFirstTokenMs(start),
	}
}

// scanSSELines reads a text/event-stream body line by line, tracking the
// most recent "event: " line and invoking onData for every "data: " payload
// with that event name attached. Scanning stops as soon as onData reports
// done, or the body is exhausted.
func scanSSELines(body io.Reader, onData func(event, data string) (done bool)) {
	scanner := bufio.NewScanner(body)
	var event string

	for scanner.Scan() {
		line := scanner.Text()

		if rest, ok := strings.CutPrefix(line, "event: "); ok {
			event = rest
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if onData(event, data) {
			return
		}
	}
}
