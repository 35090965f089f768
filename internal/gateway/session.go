package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkriz/voicegate/internal/tool"
	"github.com/dkriz/voicegate/internal/tts"
	"github.com/dkriz/voicegate/internal/vad"
)

// wsConn is the subset of *websocket.Conn the session writes through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// errDeliveryInFlight is returned when a second audio delivery is attempted
// while one is still streaming on the same connection.
var errDeliveryInFlight = errors.New("audio delivery already in flight")

// pendingToolCall is the handle for a delegated tool execution awaiting the
// device's response.
type pendingToolCall struct {
	Name   string
	SentAt time.Time
}

// Session holds all per-connection mutable state: registration, the audio
// accumulation buffer, the active endpointing engine and outstanding remote
// tool calls. Created on connect, destroyed on disconnect.
//
// Writes to the connection serialize on writeMu so concurrent producers
// (agent runs, async tool tasks) never interleave frames.
type Session struct {
	ID         string
	remoteAddr string
	logger     *log.Logger
	builtins   *tool.Registry
	tts        tts.Client

	writeMu sync.Mutex
	conn    wsConn
	open    bool

	mu         sync.Mutex
	mac        string
	registered bool
	tools      []tool.Descriptor
	memory     string
	recording  bool
	audioBuf   []byte
	engine     *vad.Engine
	pending    map[string]pendingToolCall
	delivering bool
}

// NewSession creates the state for a freshly accepted connection.
func NewSession(id, remoteAddr string, conn wsConn, builtins *tool.Registry, ttsClient tts.Client, logger *log.Logger) *Session {
	return &Session{
		ID:         id,
		remoteAddr: remoteAddr,
		conn:       conn,
		open:       true,
		builtins:   builtins,
		tts:        ttsClient,
		logger:     logger,
		pending:    make(map[string]pendingToolCall),
	}
}

// RemoteAddr returns the peer address for logging.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Label names the session in log lines: the device id once registered, the
// remote address before that.
func (s *Session) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mac != "" {
		return s.mac
	}
	return s.remoteAddr
}

// Register sets the device identity and replaces the declared tool list
// wholesale. A device must identify itself: an empty id is an error and the
// caller closes the connection.
func (s *Session) Register(mac string, tools []tool.Descriptor) error {
	if mac == "" {
		return errors.New("registration missing mac_addr")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mac = mac
	s.tools = tools
	s.registered = true
	return nil
}

// Registered reports whether the device has identified itself.
func (s *Session) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// DeviceID returns the registered device identifier, empty before
// registration.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mac
}

// SetMemory stores the device's long-term memory summary on the session.
func (s *Session) SetMemory(memory string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory = memory
}

// Memory returns the device's long-term memory summary.
func (s *Session) Memory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory
}

// EffectiveTools returns the device-declared descriptors followed by the
// server built-ins. Name collisions are not de-duplicated; lookups hit the
// device-declared entry first.
func (s *Session) EffectiveTools() []tool.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tool.Descriptor, 0, len(s.tools)+len(s.builtins.Descriptors()))
	out = append(out, s.tools...)
	out = append(out, s.builtins.Descriptors()...)
	return out
}

// StartRecording opens a recording window. Audio from a previous window and
// any stale endpointing engine are discarded.
func (s *Session) StartRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = true
	s.audioBuf = nil
	s.engine = nil
}

// Recording reports whether a recording window is open.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// StopRecording closes the recording window and drains the collected audio
// atomically. The endpointing engine dies with the window.
func (s *Session) StopRecording() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = false
	s.engine = nil
	buf := s.audioBuf
	s.audioBuf = nil
	return buf
}

// AppendAudio accumulates a raw audio frame for the utterance being recorded.
// Frames arriving outside a recording window are dropped.
func (s *Session) AppendAudio(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return
	}
	s.audioBuf = append(s.audioBuf, frame...)
}

// SetEngine installs the endpointing engine for a new recording window.
func (s *Session) SetEngine(e *vad.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = e
}

// Engine returns the active endpointing engine, nil when not recording.
func (s *Session) Engine() *vad.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// ClearEngine discards the endpointing engine.
func (s *Session) ClearEngine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = nil
}

// SendControl sends a JSON-RPC envelope on a text frame. Sending to a closed
// connection is a logged no-op, never an error to the caller.
func (s *Session) SendControl(env outEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Printf("session %s: marshal control frame: %v", s.Label(), err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.open {
		s.logger.Printf("session %s: dropping control frame, connection closed", s.Label())
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Printf("session %s: send control frame: %v", s.Label(), err)
	}
}

// SendBinary sends raw bytes on a binary frame. A nil/empty payload is the
// protocol's end-of-audio-stream sentinel. Closed connections drop the frame
// with a logged warning.
func (s *Session) SendBinary(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.open {
		s.logger.Printf("session %s: dropping binary frame, connection closed", s.Label())
		return
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.logger.Printf("session %s: send binary frame: %v", s.Label(), err)
	}
}

// SendEvent sends a server-initiated control event.
func (s *Session) SendEvent(method string, params map[string]any) {
	s.SendControl(newEvent(method, params))
}

// CallRemoteTool sends a delegated-execution request to the device and
// records the pending handle for its eventual response.
func (s *Session) CallRemoteTool(name string, args map[string]any) string {
	env, requestID := newToolExecuteRequest(name, args)

	s.mu.Lock()
	s.pending[requestID] = pendingToolCall{Name: name, SentAt: time.Now()}
	s.mu.Unlock()

	s.SendControl(env)
	return requestID
}

// ResolveToolResult matches a device response to a pending delegated call.
// Results for unknown (or already resolved, or post-disconnect) ids report
// ok=false and are dropped by the caller.
func (s *Session) ResolveToolResult(rawID json.RawMessage) (name string, ok bool) {
	var id string
	if err := json.Unmarshal(rawID, &id); err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.pending[id]
	if !ok {
		return "", false
	}
	delete(s.pending, id)
	return call.Name, true
}

// PendingToolCalls returns the number of delegated calls awaiting a device
// response.
func (s *Session) PendingToolCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// beginDelivery marks an audio delivery in flight. At most one delivery may
// stream per connection; overlapping streams would interleave frames.
func (s *Session) beginDelivery() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delivering {
		return false
	}
	s.delivering = true
	return true
}

func (s *Session) endDelivery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivering = false
}

// StreamSpeech turns a lazy text stream into a framed audio stream:
// a start_audio control event, synthesized PCM for every non-blank chunk in
// arrival order, then one zero-length binary frame as the end-of-stream
// marker. The input channel is always drained, even when the delivery is
// rejected because another one is in flight.
func (s *Session) StreamSpeech(ctx context.Context, chunks <-chan string) error {
	if !s.beginDelivery() {
		s.logger.Printf("session %s: rejecting overlapping speech delivery", s.Label())
		for range chunks {
		}
		return errDeliveryInFlight
	}
	defer s.endDelivery()

	s.SendEvent(MethodStartAudio, nil)

	for chunk := range chunks {
		text := strings.TrimSpace(chunk)
		if text == "" {
			continue
		}
		audioCh, err := s.tts.SynthesizeStream(ctx, text)
		if err != nil {
			s.logger.Printf("session %s: synthesis failed: %v", s.Label(), err)
			continue
		}
		for audio := range audioCh {
			s.SendBinary(audio)
		}
	}

	s.SendBinary(nil)
	return nil
}

// StreamPCM pushes an already synthesized PCM stream (e.g. music playback)
// through the same framing: start_audio, chunks, zero-length terminator.
func (s *Session) StreamPCM(ctx context.Context, chunks <-chan []byte) error {
	if !s.beginDelivery() {
		s.logger.Printf("session %s: rejecting overlapping audio delivery", s.Label())
		for range chunks {
		}
		return errDeliveryInFlight
	}
	defer s.endDelivery()

	s.SendEvent(MethodStartAudio, nil)

	for chunk := range chunks {
		select {
		case <-ctx.Done():
			for range chunks {
			}
			s.SendBinary(nil)
			return ctx.Err()
		default:
		}
		if len(chunk) == 0 {
			continue
		}
		s.SendBinary(chunk)
	}

	s.SendBinary(nil)
	return nil
}

// Teardown marks the connection closed and discards connection-scoped state.
// Tool results arriving after this point have no pending entry to match and
// get dropped.
func (s *Session) Teardown() {
	s.writeMu.Lock()
	s.open = false
	s.writeMu.Unlock()

	s.mu.Lock()
	s.recording = false
	s.engine = nil
	s.audioBuf = nil
	s.pending = make(map[string]pendingToolCall)
	s.mu.Unlock()
}
