package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arcvoice/realtime-gateway/internal/audio"
	"github.com/arcvoice/realtime-gateway/internal/metrics"
	"github.com/arcvoice/realtime-gateway/internal/pipeline"
	"github.com/arcvoice/realtime-gateway/internal/session"
	"github.com/arcvoice/realtime-gateway/internal/trace"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// resetPause is how long the connection handler waits between stopping the
// old ASR adapter and starting its replacement on a "reset" command. Purely
// an implementation hint carried over from the reference client behavior,
// not load-bearing for correctness.
const resetPause = time.Second

// HandlerConfig holds the shared backend clients and defaults for every
// call session the handler accepts.
type HandlerConfig struct {
	Store *session.Store

	ASRClient *pipeline.ASRClient
	LLMAgent  *pipeline.AgentLLM
	TTSClient *pipeline.TTSClient

	VADConfig audio.VADConfig

	SystemPrompt string
	LLMEngine    string
	LLMModel     string
	TTSEngine    string
	LLMTimeout   time.Duration

	TraceStore *trace.Store
}

// Handler upgrades incoming connections and runs one pipeline per session.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates a WebSocket handler with shared backend clients.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

// command is a text frame sent by the client during a session.
type command struct {
	Type string `json:"type"`
}

// ServeHTTP upgrades the connection and runs the call session to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.runSession(conn)
}

func (h *Handler) runSession(conn *websocket.Conn) {
	sessionID := uuid.NewString()
	sendEvent := newEventSender(conn)
	emit := func(e pipeline.Event) { sendEvent(e) }

	asrAdapter := pipeline.NewWhisperASRAdapter(h.cfg.ASRClient)
	llmAdapter := pipeline.NewStreamingLLMAdapter(h.cfg.LLMAgent, h.cfg.LLMEngine, h.cfg.LLMModel)
	ttsAdapter := pipeline.NewPiperTTSAdapter(h.cfg.TTSClient, h.cfg.TTSEngine)

	sess := h.cfg.Store.GetOrCreate(sessionID, func() *session.Session {
		return session.New(sessionID, asrAdapter, llmAdapter, ttsAdapter)
	})

	sink := pipeline.NewASRSink(sess, emit)
	asrAdapter.Bind(sink, sessionID)

	var tracer *trace.Tracer
	if h.cfg.TraceStore != nil {
		if err := h.cfg.TraceStore.CreateSession(sessionID, "{}"); err == nil {
			tracer = trace.NewTracer(h.cfg.TraceStore, sessionID)
		}
	}

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	slog.Info("call started", "session_id", sessionID)

	orch := pipeline.NewOrchestrator(sess, emit, h.cfg.SystemPrompt, h.cfg.LLMTimeout, tracer)
	orch.Start()

	asrAdapter.SetupHandlers()
	if err := asrAdapter.Start(); err != nil {
		slog.Error("start asr", "session_id", sessionID, "error", err)
	}
	sess.SetState(session.StateListening)

	defer func() {
		sess.ASR.Stop()
		ttsAdapter.Close()
		sess.Close()
		h.cfg.Store.Remove(sessionID)
		if tracer != nil {
			tracer.Close()
			_ = h.cfg.TraceStore.EndSession(sessionID)
		}
		metrics.SessionsActive.Dec()
		slog.Info("call ended", "session_id", sessionID)
	}()

	h.processMessages(conn, sess, asrAdapter, sink, sendEvent)
}

// processMessages reads frames from the connection until it errs or closes.
// currentASR tracks whichever ASR adapter is presently bound — "reset"
// replaces it with a fresh instance mid-session.
func (h *Handler) processMessages(conn *websocket.Conn, sess *session.Session, asrAdapter *pipeline.WhisperASRAdapter, sink session.ASRSink, sendEvent pipeline.EventCallback) {
	vad := audio.NewVAD(h.cfg.VADConfig)
	currentASR := asrAdapter

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.UpdateActivity()

		switch msgType {
		case websocket.BinaryMessage:
			h.handleBinaryFrame(sess, vad, currentASR, data)
		case websocket.TextMessage:
			currentASR = h.handleTextFrame(sess, sink, currentASR, data, sendEvent)
		}
	}
}

func (h *Handler) handleBinaryFrame(sess *session.Session, vad *audio.VAD, currentASR *pipeline.WhisperASRAdapter, data []byte) {
	_, _, pcm, err := audio.ParseFrame(data)
	if err != nil {
		return
	}
	metrics.AudioChunks.Inc()

	voiced := vad.Detect(pcm)
	if voiced && (sess.LLMInFlight() || sess.TTSInFlight()) && vad.HasContinuousVoice() {
		slog.Info("barge-in detected", "session_id", sess.ID)
		sess.RequestInterrupt()
		vad.Reset()
	}

	currentASR.Feed(pcm)
}

func (h *Handler) handleTextFrame(sess *session.Session, sink session.ASRSink, currentASR *pipeline.WhisperASRAdapter, data []byte, sendEvent pipeline.EventCallback) *pipeline.WhisperASRAdapter {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return currentASR
	}

	switch cmd.Type {
	case "stop":
		currentASR.Stop()
		sess.RequestInterrupt()
		sendEvent(pipeline.Event{Type: "stop_acknowledged", Message: "All processing stopped", QueuesCleared: true})

	case "start":
		if err := currentASR.Start(); err != nil {
			sendEvent(pipeline.Event{Type: "error", Message: err.Error()})
		}

	case "reset":
		currentASR.Stop()
		time.Sleep(resetPause)
		fresh := pipeline.NewWhisperASRAdapter(h.cfg.ASRClient)
		fresh.Bind(sink, sess.ID)
		fresh.SetupHandlers()
		sess.ASR = fresh
		if err := fresh.Start(); err != nil {
			sendEvent(pipeline.Event{Type: "error", Message: err.Error()})
		}
		return fresh

	case "interrupt":
		sess.RequestInterrupt()
		sendEvent(pipeline.Event{Type: "interrupt_acknowledged"})

	default:
		slog.Warn("unknown command type", "session_id", sess.ID, "type", cmd.Type)
	}

	return currentASR
}

// newEventSender serializes writes to conn behind a mutex — gorilla's
// websocket.Conn permits only one writer at a time. Audio is written as its
// own binary frame before the event's JSON text frame.
func newEventSender(conn *websocket.Conn) pipeline.EventCallback {
	var mu sync.Mutex
	return func(ev pipeline.Event) {
		mu.Lock()
		defer mu.Unlock()

		if ev.Audio != nil {
			if err := conn.WriteMessage(websocket.BinaryMessage, ev.Audio); err != nil {
				slog.Error("write audio", "error", err)
			}
		}

		jsonBytes, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err = conn.WriteMessage(websocket.TextMessage, jsonBytes); err != nil {
			slog.Error("write event", "error", err)
		}
	}
}
