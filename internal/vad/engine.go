package vad

import (
	"encoding/binary"
	"time"
)

// Decision is the outcome of feeding audio into the engine.
type Decision int

const (
	// Continue means keep recording.
	Continue Decision = iota
	// Stop means enough trailing silence was observed after speech.
	Stop
)

// Scorer returns the probability (0-1) that an analysis window contains speech.
// Implementations wrap the actual acoustic model.
type Scorer interface {
	Score(window []float32) (float64, error)
}

// Config holds tuning parameters for the endpointing engine.
type Config struct {
	Threshold  float64       // speech probability threshold (0-1)
	SampleRate int           // 8000 or 16000
	MinSilence time.Duration // trailing silence required to stop
}

const (
	DefaultThreshold  = 0.3
	DefaultSampleRate = 16000
	DefaultMinSilence = 1000 * time.Millisecond
)

// Engine decides when the speaker has stopped talking. It consumes raw
// little-endian 16-bit PCM mono audio and scores fixed-size windows through
// the injected Scorer. One Engine covers exactly one recording window:
// discard it and create a new one for the next utterance.
//
// A recording that never contains speech never stops on its own; the caller
// owns the explicit-end / timeout fallback.
type Engine struct {
	scorer Scorer
	cfg    Config

	windowSamples int
	buf           []byte // partial frames smaller than one analysis window

	speechDetected bool
	silentSamples  int
}

// NewEngine creates an engine with fresh state. Zero config fields fall back
// to the defaults above.
func NewEngine(scorer Scorer, cfg Config) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.MinSilence == 0 {
		cfg.MinSilence = DefaultMinSilence
	}

	// Silero analysis window: 512 samples at 16kHz, 256 at 8kHz.
	windowSamples := 512
	if cfg.SampleRate == 8000 {
		windowSamples = 256
	}

	return &Engine{
		scorer:        scorer,
		cfg:           cfg,
		windowSamples: windowSamples,
	}
}

// Feed accumulates a frame and scores every complete analysis window.
// Silence before the first speech window is ignored; once speech has been
// detected, MinSilence worth of sub-threshold windows yields Stop.
//
// A scorer error stops processing the current call and is returned alongside
// Continue; the partially consumed buffer stays valid for the next Feed.
func (e *Engine) Feed(frame []byte) (Decision, error) {
	if len(frame) == 0 {
		return Continue, nil
	}

	e.buf = append(e.buf, frame...)

	windowBytes := e.windowSamples * 2
	minSilenceSamples := e.cfg.SampleRate * int(e.cfg.MinSilence.Milliseconds()) / 1000

	for len(e.buf) >= windowBytes {
		window := decodePCM(e.buf[:windowBytes])
		e.buf = e.buf[windowBytes:]

		prob, err := e.scorer.Score(window)
		if err != nil {
			return Continue, err
		}

		if prob > e.cfg.Threshold {
			e.speechDetected = true
			e.silentSamples = 0
		} else if e.speechDetected {
			e.silentSamples += e.windowSamples
		}

		if e.speechDetected && e.silentSamples >= minSilenceSamples {
			return Stop, nil
		}
	}

	return Continue, nil
}

// SpeechDetected reports whether any window has scored above the threshold
// since the engine was created.
func (e *Engine) SpeechDetected() bool {
	return e.speechDetected
}

// decodePCM converts little-endian 16-bit PCM bytes to normalized float32
// samples in [-1, 1).
func decodePCM(b []byte) []float32 {
	samples := make([]float32, len(b)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(b[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}
