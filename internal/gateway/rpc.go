package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Method names of the mixed control protocol. The device talks JSON-RPC 2.0
// envelopes on text frames; raw PCM rides on binary frames.
const (
	MethodRegisterTools = "mcp/registerTools"
	MethodStartStream   = "mcp/audio/start_stream"
	MethodEndStream     = "mcp/audio/end_stream"

	// Server -> device.
	MethodStopStream  = "mcp/audio/stop_stream"
	MethodStartAudio  = "mcp/server/start_audio"
	MethodEndAudio    = "mcp/server/end_audio"
	MethodToolExecute = "mcp/tool/execute"
)

// envelope is an inbound JSON-RPC 2.0 frame. ID is kept raw so it can be
// echoed back regardless of its JSON type. A frame carrying Result or Error
// (and no Method) is a device response to an earlier server request.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func (e *envelope) isResponse() bool {
	return e.Method == "" && len(e.ID) > 0 && (len(e.Result) > 0 || len(e.Error) > 0)
}

// outEnvelope is an outbound JSON-RPC 2.0 frame.
type outEnvelope struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

// newEvent builds a server-initiated notification (no id, no reply expected).
func newEvent(method string, params map[string]any) outEnvelope {
	if params == nil {
		params = map[string]any{}
	}
	return outEnvelope{JSONRPC: "2.0", Method: method, Params: params}
}

// newResult builds the reply to a device request, echoing its raw id. A
// request without an id yields a reply without one; a raw nil stored in the
// any-typed field would marshal as an explicit null.
func newResult(id json.RawMessage, result map[string]any) outEnvelope {
	env := outEnvelope{JSONRPC: "2.0", Result: result}
	if len(id) > 0 {
		env.ID = id
	}
	return env
}

// newToolExecuteRequest builds a delegated-execution request with a fresh
// correlation id for the device's eventual response.
func newToolExecuteRequest(toolName string, toolInput map[string]any) (outEnvelope, string) {
	requestID := "tool-call-" + uuid.NewString()
	return outEnvelope{
		JSONRPC: "2.0",
		Method:  MethodToolExecute,
		Params: map[string]any{
			"tool_name":  toolName,
			"tool_input": toolInput,
		},
		ID: requestID,
	}, requestID
}
