package vad

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// HTTPScorer scores analysis windows against a speech-probability scoring
// service (e.g. a silero model behind a small HTTP frontend). The window is
// posted as little-endian float32 samples; the service replies with JSON.
type HTTPScorer struct {
	baseURL    string
	sampleRate int
	httpClient *http.Client
}

// HTTPScorerConfig holds configuration for the scoring service client.
type HTTPScorerConfig struct {
	BaseURL    string // e.g. "http://127.0.0.1:5003"
	SampleRate int    // forwarded so the service picks the right model state
	Timeout    time.Duration
}

// NewHTTPScorer creates a scorer backed by an HTTP scoring service.
func NewHTTPScorer(cfg HTTPScorerConfig) *HTTPScorer {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	return &HTTPScorer{
		baseURL:    cfg.BaseURL,
		sampleRate: sampleRate,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type scoreResponse struct {
	Probability float64 `json:"probability"`
}

// Score posts one window to the scoring service.
func (s *HTTPScorer) Score(window []float32) (float64, error) {
	body := make([]byte, len(window)*4)
	for i, f := range window {
		binary.LittleEndian.PutUint32(body[i*4:], math.Float32bits(f))
	}

	url := fmt.Sprintf("%s/score?sample_rate=%d", s.baseURL, s.sampleRate)
	ctx, cancel := context.WithTimeout(context.Background(), s.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("scorer error: %s - %s", resp.Status, string(respBody))
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	return sr.Probability, nil
}
