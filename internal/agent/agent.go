package agent

import (
	"context"

	"github.com/dkriz/voicegate/internal/llm"
	"github.com/dkriz/voicegate/internal/tool"
)

// Session is the connection-scoped context an agent run executes against.
// Implemented by the gateway session; kept minimal so runs are testable
// without a live connection.
type Session interface {
	tool.AudioSink

	// DeviceID returns the registered device identifier, if any.
	DeviceID() string

	// Memory returns the device's long-term memory summary, if any.
	Memory() string

	// EffectiveTools returns the device-declared descriptors followed by
	// the server built-ins.
	EffectiveTools() []tool.Descriptor

	// SendEvent sends a control event to the device. Failures are logged
	// by the session, never surfaced.
	SendEvent(method string, params map[string]any)

	// CallRemoteTool sends a delegated-execution request to the device and
	// registers a pending handle for the eventual result. Returns the
	// generated request id.
	CallRemoteTool(name string, args map[string]any) string

	// StreamSpeech synthesizes the text chunks and streams the framed
	// audio to the device. It always drains the channel.
	StreamSpeech(ctx context.Context, chunks <-chan string) error
}

// State is the per-utterance execution state. Messages is append-only within
// one run; Plan is fixed the moment intent completes and Step only increases.
type State struct {
	UserInput string
	Messages  []llm.Message
	Tools     []tool.Descriptor
	Plan      []string
	Step      int
}
