package asr

import "context"

// Recognizer defines the interface for speech-to-text providers.
type Recognizer interface {
	// Recognize transcribes a complete utterance of raw 16-bit PCM mono
	// audio and returns the recognized text.
	Recognize(ctx context.Context, pcm []byte) (string, error)
}
