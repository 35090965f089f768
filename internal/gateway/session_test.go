package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkriz/voicegate/internal/tool"
)

type sentFrame struct {
	msgType int
	data    []byte
}

// fakeConn records every frame the session writes.
type fakeConn struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (c *fakeConn) WriteMessage(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.frames = append(c.frames, sentFrame{msgType: msgType, data: cp})
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) sent() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

// methods lists the JSON-RPC methods of the text frames sent so far, in
// order.
func (c *fakeConn) methods() []string {
	var out []string
	for _, f := range c.sent() {
		if f.msgType != websocket.TextMessage {
			continue
		}
		var env struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(f.data, &env); err != nil {
			continue
		}
		out = append(out, env.Method)
	}
	return out
}

// fakeTTS synthesizes each chunk into a single "pcm:<text>" frame.
type fakeTTS struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeTTS) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()

	ch := make(chan []byte, 1)
	ch <- []byte("pcm:" + text)
	close(ch)
	return ch, nil
}

func (f *fakeTTS) synthCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// blockingTTS returns a channel the test controls, so a delivery can be held
// open mid-stream.
type blockingTTS struct {
	ch chan []byte
}

func (b *blockingTTS) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	return b.ch, nil
}

func newTestSession(ttsClient interface {
	SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error)
}) (*Session, *fakeConn) {
	conn := &fakeConn{}
	logger := log.New(io.Discard, "", 0)
	sess := NewSession("test-session", "127.0.0.1:9999", conn, tool.NewRegistry(), ttsClient, logger)
	return sess, conn
}

func TestStreamSpeechFraming(t *testing.T) {
	synth := &fakeTTS{}
	sess, conn := newTestSession(synth)

	chunks := make(chan string, 4)
	chunks <- "Hello"
	chunks <- "   "
	chunks <- ""
	chunks <- "world"
	close(chunks)

	if err := sess.StreamSpeech(context.Background(), chunks); err != nil {
		t.Fatalf("StreamSpeech: %v", err)
	}

	// Blank chunks must not reach synthesis.
	if got := synth.synthCalls(); len(got) != 2 || got[0] != "Hello" || got[1] != "world" {
		t.Fatalf("synthesized %v, want [Hello world]", got)
	}

	frames := conn.sent()
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}
	if frames[0].msgType != websocket.TextMessage {
		t.Errorf("first frame type = %d, want text", frames[0].msgType)
	}
	if methods := conn.methods(); len(methods) != 1 || methods[0] != MethodStartAudio {
		t.Errorf("control methods = %v, want [%s]", methods, MethodStartAudio)
	}
	if string(frames[1].data) != "pcm:Hello" || string(frames[2].data) != "pcm:world" {
		t.Errorf("audio frames out of order: %q, %q", frames[1].data, frames[2].data)
	}
	last := frames[len(frames)-1]
	if last.msgType != websocket.BinaryMessage || len(last.data) != 0 {
		t.Errorf("stream not terminated by a zero-length binary frame")
	}
}

func TestStreamSpeechRejectsOverlap(t *testing.T) {
	blocking := &blockingTTS{ch: make(chan []byte)}
	sess, conn := newTestSession(blocking)

	first := make(chan string, 1)
	first <- "long answer"
	close(first)

	done := make(chan error, 1)
	go func() { done <- sess.StreamSpeech(context.Background(), first) }()

	// Wait until the first delivery has claimed the connection.
	waitFor(t, func() bool { return len(conn.methods()) == 1 })

	second := make(chan string, 2)
	second <- "barging"
	second <- "in"
	close(second)

	if err := sess.StreamSpeech(context.Background(), second); err != errDeliveryInFlight {
		t.Fatalf("overlapping delivery returned %v, want errDeliveryInFlight", err)
	}
	// The rejected channel must still have been drained.
	if _, open := <-second; open {
		t.Error("rejected delivery left its input channel undrained")
	}

	close(blocking.ch)
	if err := <-done; err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	// Only the first delivery's frames went out.
	if methods := conn.methods(); len(methods) != 1 {
		t.Errorf("control methods = %v, want a single start_audio", methods)
	}
}

func TestStreamPCMFraming(t *testing.T) {
	sess, conn := newTestSession(&fakeTTS{})

	chunks := make(chan []byte, 3)
	chunks <- []byte("aaa")
	chunks <- []byte("bbb")
	close(chunks)

	if err := sess.StreamPCM(context.Background(), chunks); err != nil {
		t.Fatalf("StreamPCM: %v", err)
	}

	frames := conn.sent()
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}
	if string(frames[1].data) != "aaa" || string(frames[2].data) != "bbb" {
		t.Errorf("chunks arrived out of order")
	}
	if last := frames[3]; last.msgType != websocket.BinaryMessage || len(last.data) != 0 {
		t.Errorf("missing zero-length terminator")
	}
}

func TestRecordingWindowCollectsAndDrains(t *testing.T) {
	sess, _ := newTestSession(&fakeTTS{})

	// Audio offered before the window opens is dropped.
	sess.AppendAudio([]byte{9, 9})
	if sess.Recording() {
		t.Fatal("fresh session reports an open recording window")
	}

	sess.StartRecording()
	sess.AppendAudio([]byte{1, 2})
	sess.AppendAudio([]byte{3, 4, 5})

	got := sess.StopRecording()
	if string(got) != string([]byte{1, 2, 3, 4, 5}) {
		t.Fatalf("StopRecording = %v, want frames concatenated in order", got)
	}
	if sess.Recording() {
		t.Error("window still open after StopRecording")
	}
	if again := sess.StopRecording(); again != nil {
		t.Errorf("second StopRecording = %v, want nil", again)
	}
}

func TestRegisterRequiresDeviceID(t *testing.T) {
	sess, _ := newTestSession(&fakeTTS{})

	if err := sess.Register("", nil); err == nil {
		t.Fatal("Register with empty mac_addr succeeded, want error")
	}
	if sess.Registered() {
		t.Error("session marked registered after rejected registration")
	}

	if err := sess.Register("aa:bb:cc:dd:ee:ff", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sess.DeviceID() != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("DeviceID = %q", sess.DeviceID())
	}
}

func TestEffectiveToolsDeviceFirst(t *testing.T) {
	conn := &fakeConn{}
	builtins := tool.NewRegistry()
	builtins.Register(tool.Descriptor{Name: "play_music", MainType: "local", SubType: "async"}, nil)
	sess := NewSession("s", "addr", conn, builtins, &fakeTTS{}, log.New(io.Discard, "", 0))

	deviceTools := []tool.Descriptor{
		{Name: "play_music", MainType: "remote", SubType: "async"},
		{Name: "set_volume", MainType: "remote", SubType: "sync"},
	}
	if err := sess.Register("mac-1", deviceTools); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tools := sess.EffectiveTools()
	if len(tools) != 3 {
		t.Fatalf("got %d tools, want 3", len(tools))
	}
	// The device-declared entry shadows the builtin on lookup.
	d, ok := tool.Find(tools, "play_music")
	if !ok || d.MainType != "remote" {
		t.Errorf("Find(play_music) = %+v, want the device-declared descriptor", d)
	}
	if tools[len(tools)-1].MainType != "local" {
		t.Errorf("builtins not appended after device tools")
	}
}

func TestRemoteToolCorrelation(t *testing.T) {
	sess, conn := newTestSession(&fakeTTS{})

	id := sess.CallRemoteTool("set_volume", map[string]any{"level": 3})
	if !strings.HasPrefix(id, "tool-call-") {
		t.Fatalf("request id %q lacks tool-call- prefix", id)
	}
	if sess.PendingToolCalls() != 1 {
		t.Fatalf("pending = %d, want 1", sess.PendingToolCalls())
	}

	frames := conn.sent()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	var env struct {
		Method string         `json:"method"`
		ID     string         `json:"id"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(frames[0].data, &env); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if env.Method != MethodToolExecute || env.ID != id {
		t.Errorf("request = %+v", env)
	}
	if env.Params["tool_name"] != "set_volume" {
		t.Errorf("tool_name = %v", env.Params["tool_name"])
	}

	rawID, _ := json.Marshal(id)
	name, ok := sess.ResolveToolResult(rawID)
	if !ok || name != "set_volume" {
		t.Fatalf("ResolveToolResult = (%q, %v), want (set_volume, true)", name, ok)
	}
	if _, ok := sess.ResolveToolResult(rawID); ok {
		t.Error("second resolve of the same id succeeded")
	}
	if _, ok := sess.ResolveToolResult(json.RawMessage(`"tool-call-nope"`)); ok {
		t.Error("resolve of unknown id succeeded")
	}
}

func TestSendAfterTeardownDropsFrames(t *testing.T) {
	sess, conn := newTestSession(&fakeTTS{})

	sess.Teardown()
	sess.SendEvent(MethodEndAudio, nil)
	sess.SendBinary([]byte("late"))

	if got := conn.sent(); len(got) != 0 {
		t.Fatalf("sent %d frames after teardown, want 0", len(got))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}
