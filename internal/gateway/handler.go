package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/dkriz/voicegate/internal/agent"
	"github.com/dkriz/voicegate/internal/asr"
	"github.com/dkriz/voicegate/internal/eventlog"
	"github.com/dkriz/voicegate/internal/tool"
	"github.com/dkriz/voicegate/internal/vad"
)

// endReasonTimeout marks a recording window the device abandoned because the
// user never spoke. The buffered audio is discarded and no agent run starts.
const endReasonTimeout = "timeout"

// DeviceStore persists device identity and long-term memory.
type DeviceStore interface {
	RegisterLogin(ctx context.Context, mac string) error
	GetMemory(ctx context.Context, mac string) (string, error)
}

// EventLogger records session events for the admin API.
type EventLogger interface {
	LogAsync(macAddr string, eventType eventlog.EventType, data map[string]any)
}

// Handler routes the frames of one connection: JSON-RPC control messages on
// text frames, raw audio on binary frames.
type Handler struct {
	logger     *log.Logger
	store      DeviceStore
	events     EventLogger
	recognizer asr.Recognizer
	scorer     vad.Scorer
	vadCfg     vad.Config
	graph      *agent.Graph
}

// HandlerConfig bundles the dependencies of a frame handler. Store, events,
// recognizer and scorer may be nil; the affected features degrade instead of
// failing the connection.
type HandlerConfig struct {
	Store      DeviceStore
	Events     EventLogger
	Recognizer asr.Recognizer
	Scorer     vad.Scorer
	VAD        vad.Config
	Graph      *agent.Graph
}

// NewHandler creates a frame handler shared by all connections.
func NewHandler(cfg HandlerConfig, logger *log.Logger) *Handler {
	return &Handler{
		logger:     logger,
		store:      cfg.Store,
		events:     cfg.Events,
		recognizer: cfg.Recognizer,
		scorer:     cfg.Scorer,
		vadCfg:     cfg.VAD,
		graph:      cfg.Graph,
	}
}

// errCloseConnection tells the read loop to drop the connection without
// sending anything back.
var errCloseConnection = errors.New("close connection")

// HandleText processes one control frame. Malformed messages are logged and
// dropped; the returned error is non-nil only when the connection must
// close.
func (h *Handler) HandleText(s *Session, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.logger.Printf("session %s: malformed control frame, dropping: %v", s.Label(), err)
		return nil
	}

	if env.isResponse() {
		h.handleToolResult(s, env)
		return nil
	}

	switch env.Method {
	case MethodRegisterTools:
		return h.handleRegisterTools(s, env)
	case MethodStartStream:
		h.handleStartStream(s)
	case MethodEndStream:
		h.handleEndStream(s, env)
	default:
		h.logger.Printf("session %s: unknown method %q, dropping", s.Label(), env.Method)
	}
	return nil
}

// HandleBinary processes one audio frame. Audio is only collected inside a
// recording window: frames still in flight after the window closed are
// silently dropped, as are empty frames (the zero-length sentinel has meaning
// on the server-to-device stream only).
func (h *Handler) HandleBinary(s *Session, data []byte) {
	if !s.Recording() || len(data) == 0 {
		return
	}

	s.AppendAudio(data)

	engine := s.Engine()
	if engine == nil {
		return
	}
	decision, err := engine.Feed(data)
	if err != nil {
		h.logger.Printf("session %s: endpointing failed, continuing without it: %v", s.Label(), err)
		s.ClearEngine()
		return
	}
	if decision == vad.Stop {
		if h.events != nil {
			h.events.LogAsync(s.DeviceID(), eventlog.EventEndpointDetected, nil)
		}
		s.SendEvent(MethodStopStream, nil)
		h.completeUtterance(s)
	}
}

type registerToolsParams struct {
	MacAddr string            `json:"mac_addr"`
	Tools   []tool.Descriptor `json:"tools"`
}

func (h *Handler) handleRegisterTools(s *Session, env envelope) error {
	var params registerToolsParams
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, &params); err != nil {
			h.logger.Printf("session %s: malformed registerTools params, dropping: %v", s.Label(), err)
			return nil
		}
	}

	if err := s.Register(params.MacAddr, params.Tools); err != nil {
		h.logger.Printf("session %s: registration rejected: %v", s.Label(), err)
		return errCloseConnection
	}

	ctx := context.Background()
	if h.store != nil {
		if err := h.store.RegisterLogin(ctx, params.MacAddr); err != nil {
			h.logger.Printf("session %s: persist login: %v", s.Label(), err)
		}
		memory, err := h.store.GetMemory(ctx, params.MacAddr)
		if err != nil {
			h.logger.Printf("session %s: load memory: %v", s.Label(), err)
		} else {
			s.SetMemory(memory)
		}
	}
	if h.events != nil {
		h.events.LogAsync(params.MacAddr, eventlog.EventRegistered, map[string]any{"tools": len(params.Tools)})
	}

	h.logger.Printf("session %s: device registered with %d tools", params.MacAddr, len(params.Tools))
	s.SendControl(newResult(env.ID, map[string]any{"status": "registered"}))
	return nil
}

func (h *Handler) handleStartStream(s *Session) {
	s.StartRecording()
	if h.events != nil {
		h.events.LogAsync(s.DeviceID(), eventlog.EventRecordingStarted, nil)
	}
	if h.scorer == nil {
		h.logger.Printf("session %s: no endpointing scorer, recording until end_stream", s.Label())
		return
	}
	s.SetEngine(vad.NewEngine(h.scorer, h.vadCfg))
}

type endStreamParams struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleEndStream(s *Session, env envelope) {
	if !s.Recording() {
		h.logger.Printf("session %s: end_stream with no recording window, ignoring", s.Label())
		return
	}

	var params endStreamParams
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, &params); err != nil {
			h.logger.Printf("session %s: malformed end_stream params, dropping: %v", s.Label(), err)
			return
		}
	}

	if params.Reason == endReasonTimeout {
		h.logger.Printf("session %s: recording timed out, discarding audio", s.Label())
		s.StopRecording()
		if h.events != nil {
			h.events.LogAsync(s.DeviceID(), eventlog.EventRecordingTimeout, nil)
		}
		return
	}

	h.completeUtterance(s)
}

func (h *Handler) handleToolResult(s *Session, env envelope) {
	name, ok := s.ResolveToolResult(env.ID)
	if !ok {
		h.logger.Printf("session %s: tool result for unknown request id, dropping", s.Label())
		return
	}
	if env.Error != nil {
		h.logger.Printf("session %s: remote tool %q failed: %s", s.Label(), name, env.Error)
		return
	}
	h.logger.Printf("session %s: remote tool %q completed: %s", s.Label(), name, env.Result)
	if h.events != nil {
		h.events.LogAsync(s.DeviceID(), eventlog.EventToolResult, map[string]any{"tool": name})
	}
}

// completeUtterance is the single path from a finished recording window to a
// spoken response, whether the window closed by endpoint detection or an
// explicit end_stream.
func (h *Handler) completeUtterance(s *Session) {
	pcm := s.StopRecording()
	if len(pcm) == 0 {
		return
	}
	if h.recognizer == nil {
		h.logger.Printf("session %s: no recognizer configured, discarding %d bytes", s.Label(), len(pcm))
		s.SendEvent(MethodEndAudio, nil)
		return
	}

	// The read loop keeps running so device responses to delegated tool
	// calls can arrive while the agent works.
	go h.respond(s, pcm)
}

func (h *Handler) respond(s *Session, pcm []byte) {
	ctx := context.Background()

	text, err := h.recognizer.Recognize(ctx, pcm)
	if err != nil {
		h.logger.Printf("session %s: recognition failed: %v", s.Label(), err)
		s.SendEvent(MethodEndAudio, nil)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		h.logger.Printf("session %s: empty transcript, resuming listening", s.Label())
		s.SendEvent(MethodEndAudio, nil)
		return
	}

	h.logger.Printf("session %s: transcript: %q", s.Label(), text)
	if h.events != nil {
		h.events.LogAsync(s.DeviceID(), eventlog.EventUtterance, map[string]any{"text": text})
	}

	st := h.graph.Run(ctx, s, text)
	if h.events != nil {
		h.events.LogAsync(s.DeviceID(), eventlog.EventAgentCompleted, map[string]any{"steps": len(st.Plan)})
	}
}

// Disconnected records the end of a registered device's session. Called by
// the read loop on teardown.
func (h *Handler) Disconnected(s *Session) {
	if h.events != nil {
		h.events.LogAsync(s.DeviceID(), eventlog.EventDisconnected, nil)
	}
}
