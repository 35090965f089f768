package vad

import (
	"testing"
	"time"
)

// scriptScorer returns scripted probabilities in order, repeating the last
// one once the script runs out.
type scriptScorer struct {
	probs []float64
	calls int
}

func (s *scriptScorer) Score(window []float32) (float64, error) {
	i := s.calls
	if i >= len(s.probs) {
		i = len(s.probs) - 1
	}
	s.calls++
	return s.probs[i], nil
}

const testWindowBytes = 512 * 2 // one 16kHz analysis window

func feedWindows(t *testing.T, e *Engine, n int) Decision {
	t.Helper()
	frame := make([]byte, testWindowBytes)
	last := Continue
	for i := 0; i < n; i++ {
		d, err := e.Feed(frame)
		if err != nil {
			t.Fatalf("Feed returned error: %v", err)
		}
		if d == Stop {
			return Stop
		}
		last = d
	}
	return last
}

func TestFeedEmptyInput(t *testing.T) {
	e := NewEngine(&scriptScorer{probs: []float64{0.9}}, Config{})
	d, err := e.Feed(nil)
	if err != nil {
		t.Fatalf("Feed(nil) error: %v", err)
	}
	if d != Continue {
		t.Errorf("Feed(nil) = %v, want Continue", d)
	}
}

func TestPureSilenceNeverStops(t *testing.T) {
	// 5 seconds of sub-threshold audio: ~156 windows at 16kHz.
	s := &scriptScorer{probs: []float64{0.05}}
	e := NewEngine(s, Config{})

	if d := feedWindows(t, e, 160); d == Stop {
		t.Fatal("engine stopped on pure silence")
	}
	if e.SpeechDetected() {
		t.Error("SpeechDetected() = true without any speech window")
	}
}

func TestStopsAfterExactSilenceDuration(t *testing.T) {
	// 1000ms at 16kHz = 16000 samples. Each sub-threshold window adds 512,
	// so the 32nd silence window crosses the boundary (31*512 = 15872).
	script := []float64{0.9} // first window is speech, rest silence
	for i := 0; i < 64; i++ {
		script = append(script, 0.1)
	}
	e := NewEngine(&scriptScorer{probs: script}, Config{
		Threshold:  0.3,
		SampleRate: 16000,
		MinSilence: time.Second,
	})

	if d := feedWindows(t, e, 1); d == Stop {
		t.Fatal("stopped on the speech window itself")
	}
	if d := feedWindows(t, e, 31); d == Stop {
		t.Fatal("stopped before min silence duration was reached")
	}
	if d := feedWindows(t, e, 1); d != Stop {
		t.Fatal("did not stop once min silence duration was reached")
	}
}

func TestSpeechResetsSilenceCounter(t *testing.T) {
	script := []float64{0.9}
	for i := 0; i < 20; i++ {
		script = append(script, 0.1) // 20 silence windows
	}
	script = append(script, 0.9) // speech again resets counter
	for i := 0; i < 31; i++ {
		script = append(script, 0.1) // 31 more: still under threshold
	}
	e := NewEngine(&scriptScorer{probs: script}, Config{MinSilence: time.Second})

	if d := feedWindows(t, e, 53); d == Stop {
		t.Fatal("stopped even though speech reset the silence counter")
	}
	if d := feedWindows(t, e, 1); d != Stop {
		t.Fatal("did not stop after full silence duration following reset")
	}
}

func TestLeadingSilenceIgnored(t *testing.T) {
	// 100 windows of silence, then one speech window, then 31 of silence:
	// the leading silence must not count toward the stop condition.
	script := make([]float64, 0, 140)
	for i := 0; i < 100; i++ {
		script = append(script, 0.1)
	}
	script = append(script, 0.9)
	for i := 0; i < 40; i++ {
		script = append(script, 0.1)
	}
	e := NewEngine(&scriptScorer{probs: script}, Config{MinSilence: time.Second})

	if d := feedWindows(t, e, 132); d == Stop {
		t.Fatal("leading silence contributed to the stop decision")
	}
	if d := feedWindows(t, e, 1); d != Stop {
		t.Fatal("did not stop after post-speech silence")
	}
}

func TestPartialFramesAccumulate(t *testing.T) {
	// Feed in 100-byte slivers; windows only form once 1024 bytes are in.
	s := &scriptScorer{probs: []float64{0.9}}
	e := NewEngine(s, Config{})

	sliver := make([]byte, 100)
	for i := 0; i < 10; i++ { // 1000 bytes, still no complete window
		if _, err := e.Feed(sliver); err != nil {
			t.Fatalf("Feed error: %v", err)
		}
	}
	if s.calls != 0 {
		t.Fatalf("scorer called %d times before a full window was available", s.calls)
	}
	if _, err := e.Feed(sliver); err != nil { // 1100 bytes: one window
		t.Fatalf("Feed error: %v", err)
	}
	if s.calls != 1 {
		t.Errorf("scorer calls = %d, want 1", s.calls)
	}
}

func TestDecodePCM(t *testing.T) {
	// 0x0000 -> 0, 0x8000 -> -1.0, 0x7FFF -> ~0.99997
	b := []byte{0x00, 0x00, 0x00, 0x80, 0xFF, 0x7F}
	samples := decodePCM(b)
	if len(samples) != 3 {
		t.Fatalf("len = %d, want 3", len(samples))
	}
	if samples[0] != 0 {
		t.Errorf("samples[0] = %v, want 0", samples[0])
	}
	if samples[1] != -1.0 {
		t.Errorf("samples[1] = %v, want -1.0", samples[1])
	}
	if samples[2] < 0.9999 || samples[2] >= 1.0 {
		t.Errorf("samples[2] = %v, want just under 1.0", samples[2])
	}
}
