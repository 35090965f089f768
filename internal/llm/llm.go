package llm

import (
	"context"

	"github.com/dkriz/voicegate/internal/tool"
)

// ToolCall is one tool selection produced by the reasoning capability.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Message represents a conversation turn.
type Message struct {
	Role       string // "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // set on assistant turns that select tools
	ToolCallID string     // set on tool-result turns
}

// Client defines the interface for the reasoning capability.
type Client interface {
	// SelectTools asks the model to either answer directly or select tools
	// from the given descriptor set, and returns the assistant turn
	// (possibly carrying tool calls).
	SelectTools(ctx context.Context, messages []Message, tools []tool.Descriptor) (Message, error)

	// GenerateResponse generates the spoken reply for the conversation.
	// The response text is streamed through the channel.
	GenerateResponse(ctx context.Context, messages []Message) (<-chan string, error)
}
