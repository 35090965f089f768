package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/dkriz/voicegate/internal/llm"
	"github.com/dkriz/voicegate/internal/tool"
)

// Step names routable from a post-process plan.
const (
	StepIntent       = "intent"
	StepTool         = "tool"
	StepChat         = "chat"
	StepMusic        = "music"
	StepNotifyListen = "notify_listen"
)

// Graph processes one utterance to completion: entry seeds the history,
// intent resolves the post-process plan, then the driver loop walks the plan
// until the cursor runs past its end. Steps never abort the run; they
// degrade to messages in the history so the device always gets a reply.
type Graph struct {
	llm      llm.Client
	builtins *tool.Registry
	logger   *log.Logger
}

// New creates an execution graph bound to the reasoning client and the
// server's built-in tools.
func New(client llm.Client, builtins *tool.Registry, logger *log.Logger) *Graph {
	return &Graph{llm: client, builtins: builtins, logger: logger}
}

// Run executes the graph for one transcribed utterance.
func (g *Graph) Run(ctx context.Context, sess Session, userInput string) State {
	st := State{UserInput: userInput}

	// entry: seed the history with the user's words.
	st.Messages = append(st.Messages, llm.Message{Role: "user", Content: userInput})

	st = g.stepIntent(ctx, sess, st)

	for st.Step < len(st.Plan) {
		name := st.Plan[st.Step]
		before := st.Step
		switch name {
		case StepTool:
			st = g.stepTool(ctx, sess, st)
		case StepChat:
			st = g.stepChat(ctx, sess, st)
		case StepMusic:
			st = g.stepMusic(st)
		case StepNotifyListen:
			st = g.stepNotifyListen(sess, st)
		default:
			g.logger.Printf("agent: unknown step %q, skipping", name)
			st.Step++
		}
		if st.Step <= before {
			// No step may hold the cursor still.
			st.Step = before + 1
		}
	}

	return st
}

// stepIntent asks the model to answer directly or select tools, then fixes
// the post-process plan by merging the selected tools' plans in first-seen
// order. Without a session or on model failure it degrades to the chat-only
// default plan.
func (g *Graph) stepIntent(ctx context.Context, sess Session, st State) State {
	if sess == nil {
		st.Plan = tool.DefaultPlan
		st.Step = 0
		return st
	}

	st.Tools = sess.EffectiveTools()

	result, err := g.llm.SelectTools(ctx, st.Messages, st.Tools)
	if err != nil {
		g.logger.Printf("agent: intent failed for %s: %v", sess.DeviceID(), err)
		st.Plan = tool.DefaultPlan
		st.Step = 0
		return st
	}

	st.Messages = append(st.Messages, result)
	st.Plan = mergePlans(result.ToolCalls, st.Tools)
	st.Step = 0
	return st
}

// mergePlans combines the post-process plans of every selected tool,
// de-duplicated by first occurrence. When two tools disagree on the relative
// order of a shared step, whichever tool was selected first wins. A selected
// tool with no descriptor contributes a plan that starts with the tool step,
// so the not-found result still surfaces.
func mergePlans(calls []llm.ToolCall, tools []tool.Descriptor) []string {
	var merged []string
	seen := make(map[string]bool)
	add := func(steps []string) {
		for _, s := range steps {
			if !seen[s] {
				seen[s] = true
				merged = append(merged, s)
			}
		}
	}

	for _, call := range calls {
		if d, ok := tool.Find(tools, call.Name); ok {
			add(d.Plan())
		} else {
			add(append([]string{StepTool}, tool.DefaultPlan...))
		}
	}

	if len(merged) == 0 {
		return tool.DefaultPlan
	}
	return merged
}

// stepTool dispatches every tool call from the intent result over the closed
// (main_type, sub_type) variant. Errors become tool-result messages; the run
// continues regardless.
func (g *Graph) stepTool(ctx context.Context, sess Session, st State) State {
	calls := lastToolCalls(st.Messages)

	for _, call := range calls {
		result := g.dispatch(ctx, sess, st.Tools, call)
		st.Messages = append(st.Messages, result)
	}

	st.Step++
	return st
}

const processingResult = "processing"

func (g *Graph) dispatch(ctx context.Context, sess Session, tools []tool.Descriptor, call llm.ToolCall) llm.Message {
	toolMsg := func(content string) llm.Message {
		return llm.Message{Role: "tool", Content: content, ToolCallID: call.ID}
	}

	desc, ok := tool.Find(tools, call.Name)
	if !ok {
		return toolMsg(fmt.Sprintf("tool %q not found", call.Name))
	}

	switch desc.Kind() {
	case tool.LocalSync:
		fn, ok := g.builtins.Invoker(call.Name)
		if !ok {
			return toolMsg(fmt.Sprintf("tool %q not found", call.Name))
		}
		result, err := fn(ctx, sess, call.Args)
		if err != nil {
			return toolMsg(fmt.Sprintf("tool %q failed: %v", call.Name, err))
		}
		return toolMsg(result)

	case tool.LocalAsync:
		fn, ok := g.builtins.Invoker(call.Name)
		if !ok {
			return toolMsg(fmt.Sprintf("tool %q not found", call.Name))
		}
		// Fire and forget on a background context: the run that spawned
		// the task may terminate (or the device disconnect) before the
		// task finishes, and the session's send path absorbs that.
		go func() {
			if _, err := fn(context.Background(), sess, call.Args); err != nil {
				g.logger.Printf("agent: async tool %s failed: %v", call.Name, err)
			}
		}()
		return toolMsg(processingResult)

	case tool.RemoteSync, tool.RemoteAsync:
		if sess == nil {
			return toolMsg(fmt.Sprintf("tool %q unavailable: no device", call.Name))
		}
		requestID := sess.CallRemoteTool(call.Name, call.Args)
		g.logger.Printf("agent: delegated %s to device as %s", call.Name, requestID)
		return toolMsg(processingResult)

	default:
		return toolMsg(fmt.Sprintf("tool %q has unsupported type %s/%s", call.Name, desc.MainType, desc.SubType))
	}
}

// stepChat generates the spoken reply and streams it out through the
// response delivery pipeline while accumulating the full text for history.
func (g *Graph) stepChat(ctx context.Context, sess Session, st State) State {
	respCh, err := g.llm.GenerateResponse(ctx, g.chatMessages(sess, st))
	if err != nil {
		g.logger.Printf("agent: chat failed: %v", err)
		st.Step++
		return st
	}

	var full strings.Builder
	textCh := make(chan string, 16)
	go func() {
		defer close(textCh)
		for chunk := range respCh {
			full.WriteString(chunk)
			textCh <- chunk
		}
	}()

	if sess != nil {
		if err := sess.StreamSpeech(ctx, textCh); err != nil {
			g.logger.Printf("agent: speech delivery failed: %v", err)
		}
	} else {
		for range textCh {
		}
	}

	// textCh is closed, so the writer goroutine is done with full.
	if text := strings.TrimSpace(full.String()); text != "" {
		st.Messages = append(st.Messages, llm.Message{Role: "assistant", Content: text})
	}

	st.Step++
	return st
}

// chatMessages prefixes the run's history with the device's long-term memory
// when one exists, so the reply can use it as context.
func (g *Graph) chatMessages(sess Session, st State) []llm.Message {
	if sess == nil || sess.Memory() == "" {
		return st.Messages
	}
	msgs := make([]llm.Message, 0, len(st.Messages)+1)
	msgs = append(msgs, llm.Message{
		Role:    "user",
		Content: "Background you remember about this user: " + sess.Memory(),
	})
	return append(msgs, st.Messages...)
}

// stepMusic only advances the cursor: the audio push itself is performed
// out-of-band by the async play_music task.
func (g *Graph) stepMusic(st State) State {
	st.Step++
	return st
}

// stepNotifyListen tells the device the response turn is over so it can
// resume listening.
func (g *Graph) stepNotifyListen(sess Session, st State) State {
	if sess != nil {
		sess.SendEvent("mcp/server/end_audio", nil)
	}
	st.Step++
	return st
}

// lastToolCalls returns the tool calls of the most recent assistant turn.
func lastToolCalls(messages []llm.Message) []llm.ToolCall {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			return messages[i].ToolCalls
		}
	}
	return nil
}
