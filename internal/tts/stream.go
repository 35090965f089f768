package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StreamClient implements Client against a speech synthesis service that
// accepts JSON and streams back raw little-endian 16-bit PCM mono audio.
type StreamClient struct {
	apiURL     string
	apiKey     string
	voiceID    string
	httpClient *http.Client
}

// StreamConfig holds configuration for the synthesis service client.
type StreamConfig struct {
	APIURL  string // full endpoint URL
	APIKey  string // optional bearer token
	VoiceID string // optional provider voice id
	Timeout time.Duration
}

// NewStreamClient creates a new streaming synthesis client.
func NewStreamClient(cfg StreamConfig) *StreamClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StreamClient{
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		voiceID:    cfg.VoiceID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
}

// SynthesizeStream posts the text and streams the PCM response body.
func (c *StreamClient) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text, VoiceID: c.voiceID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("TTS error: %s - %s", resp.Status, string(respBody))
	}

	ch := make(chan []byte, 100)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		// Read in chunks of 3200 bytes (100ms of 16-bit PCM at 16kHz)
		buf := make([]byte, 3200)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case <-ctx.Done():
					return
				case ch <- chunk:
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return ch, nil
}
