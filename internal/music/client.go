// Package music finds songs on the NetEase public search API and turns them
// into raw PCM the device can play.
package music

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultSearchURL = "http://music.163.com/api/search/get/web"
	songURLTemplate  = "http://music.163.com/song/media/outer/url?id=%d.mp3"

	// The public endpoints reject requests without a browser identity.
	refererHeader   = "http://music.163.com/"
	userAgentHeader = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// Song is one search hit.
type Song struct {
	ID     int64
	Name   string
	Artist string
	URL    string
}

// Config holds the music client settings.
type Config struct {
	SearchURL  string        // defaults to the NetEase web search API
	FFmpegPath string        // defaults to "ffmpeg" on PATH
	Timeout    time.Duration // per-request HTTP timeout, defaults to 20s
}

// Client searches, downloads and transcodes songs.
type Client struct {
	searchURL  string
	ffmpegPath string
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient creates a music client.
func NewClient(cfg Config, logger *log.Logger) *Client {
	if cfg.SearchURL == "" {
		cfg.SearchURL = defaultSearchURL
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		searchURL:  cfg.SearchURL,
		ffmpegPath: cfg.FFmpegPath,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type searchResponse struct {
	Result struct {
		SongCount int `json:"songCount"`
		Songs     []struct {
			ID      int64  `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"songs"`
	} `json:"result"`
}

// Search returns the best hit for the keyword.
func (c *Client) Search(ctx context.Context, keyword string) (Song, error) {
	q := url.Values{}
	q.Set("s", keyword)
	q.Set("type", "1")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"?"+q.Encode(), nil)
	if err != nil {
		return Song{}, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Referer", refererHeader)
	req.Header.Set("User-Agent", userAgentHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Song{}, fmt.Errorf("search %q: %w", keyword, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Song{}, fmt.Errorf("search %q: status %d", keyword, resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Song{}, fmt.Errorf("decode search response: %w", err)
	}
	if parsed.Result.SongCount == 0 || len(parsed.Result.Songs) == 0 {
		return Song{}, fmt.Errorf("no results for %q", keyword)
	}

	hit := parsed.Result.Songs[0]
	song := Song{
		ID:   hit.ID,
		Name: hit.Name,
		URL:  fmt.Sprintf(songURLTemplate, hit.ID),
	}
	if len(hit.Artists) > 0 {
		song.Artist = hit.Artists[0].Name
	}
	c.logger.Printf("music: found %q by %q (id %d)", song.Name, song.Artist, song.ID)
	return song, nil
}

// Download fetches the song file, following the outer-url redirect.
func (c *Client) Download(ctx context.Context, songURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, songURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Referer", refererHeader)
	req.Header.Set("User-Agent", userAgentHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download song: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download song: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read song body: %w", err)
	}

	// Protected songs redirect to a placeholder page instead of audio.
	if !strings.Contains(resp.Header.Get("Content-Type"), "audio") {
		c.logger.Printf("music: content-type %q is not audio, song may be protected", resp.Header.Get("Content-Type"))
		if len(data) == 0 {
			return nil, fmt.Errorf("song unavailable")
		}
	}
	return data, nil
}
