package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dkriz/voicegate/internal/tool"
)

// OpenAIClient implements Client against any OpenAI-compatible chat
// completions endpoint (OpenAI itself, or a local ollama/vllm server).
type OpenAIClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

// OpenAIConfig holds configuration for the OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // optional, for self-hosted endpoints
	Model        string // e.g. "gpt-4o-mini"
	SystemPrompt string // optional custom persona prompt
}

// NewOpenAIClient creates a new reasoning client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = RolePrompt
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		systemPrompt: systemPrompt,
	}
}

// SelectTools runs a single non-streaming completion with the tool set bound.
func (c *OpenAIClient) SelectTools(ctx context.Context, messages []Message, tools []tool.Descriptor) (Message, error) {
	oaTools := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		oaTools = append(oaTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(IntentPrompt, messages),
		Tools:       oaTools,
		Temperature: 0,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Message{}, fmt.Errorf("intent completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, errors.New("no choices in response")
	}

	msg := resp.Choices[0].Message
	out := Message{Role: "assistant", Content: msg.Content}
	for _, call := range msg.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			// Malformed arguments degrade to an empty arg map; the tool
			// itself reports missing parameters.
			_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: args,
		})
	}
	return out, nil
}

// GenerateResponse streams the reply content for the conversation.
func (c *OpenAIClient) GenerateResponse(ctx context.Context, messages []Message) (<-chan string, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(c.systemPrompt, messages),
		Stream:   true,
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	ch := make(chan string, 100)

	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			content := resp.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case ch <- content:
			}
		}
	}()

	return ch, nil
}

func toOpenAIMessages(systemPrompt string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range messages {
		oa := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			argsJSON, err := json.Marshal(call.Args)
			if err != nil {
				argsJSON = []byte("{}")
			}
			oa.ToolCalls = append(oa.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		out = append(out, oa)
	}
	return out
}
