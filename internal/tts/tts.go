package tts

import "context"

// Client defines the interface for text-to-speech providers.
type Client interface {
	// SynthesizeStream converts text to speech and streams raw PCM audio
	// chunks over the returned channel. The channel is closed when the
	// synthesis stream ends.
	SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error)
}
