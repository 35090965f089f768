package asr

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient implements Recognizer against a speech recognition service
// (e.g. a FunASR runtime) that accepts a WAV body and returns JSON.
type HTTPClient struct {
	baseURL    string
	sampleRate int
	httpClient *http.Client
}

// HTTPConfig holds configuration for the recognition service client.
type HTTPConfig struct {
	BaseURL    string // e.g. "http://127.0.0.1:5002"
	SampleRate int    // PCM sample rate, default 16000
	Timeout    time.Duration
}

// NewHTTPClient creates a recognizer backed by an HTTP recognition service.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		sampleRate: sampleRate,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type recognizeResponse struct {
	Text string `json:"text"`
}

// Recognize wraps the PCM in a WAV container and posts it for transcription.
func (c *HTTPClient) Recognize(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	wav := EncodeWAV(pcm, c.sampleRate)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/recognize", bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ASR error: %s - %s", resp.Status, string(respBody))
	}

	var rr recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return rr.Text, nil
}

// EncodeWAV wraps raw 16-bit PCM mono samples in a minimal WAV header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16)) // PCM fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))  // PCM format
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
