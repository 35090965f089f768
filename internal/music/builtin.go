package music

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/dkriz/voicegate/internal/tool"
)

// playChunkBytes is 100ms of playback audio per binary frame.
const playChunkBytes = pcmSampleRate * 2 / 10

// PCMFetcher resolves a search keyword into playable PCM.
type PCMFetcher interface {
	FetchPCM(ctx context.Context, keyword string) ([]byte, Song, error)
}

// FetchPCM searches for the keyword, downloads the best hit and transcodes
// it into the device playback format.
func (c *Client) FetchPCM(ctx context.Context, keyword string) ([]byte, Song, error) {
	song, err := c.Search(ctx, keyword)
	if err != nil {
		return nil, Song{}, err
	}
	encoded, err := c.Download(ctx, song.URL)
	if err != nil {
		return nil, song, err
	}
	pcm, err := c.Transcode(ctx, encoded)
	if err != nil {
		return nil, song, err
	}
	return pcm, song, nil
}

var playParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"song_name": {
			"type": "string",
			"description": "The song the user wants to hear, extracted verbatim from their words, even when the title is short or ambiguous."
		},
		"artist_name": {
			"type": "string",
			"description": "The performing artist, exactly as the user named them, without expansion or correction."
		}
	},
	"required": ["song_name"]
}`)

// PlayTool returns the built-in music playback tool. The task runs
// asynchronously: the agent reports it as in progress, speaks a short reply,
// and the audio arrives out of band once the song is fetched and transcoded.
func PlayTool(fetcher PCMFetcher, logger *log.Logger) (tool.Descriptor, tool.Invoker) {
	desc := tool.Descriptor{
		Name:        "play_music",
		Description: "Use this tool whenever the user wants to hear a song. Call it directly with whatever title the user gave, even a single word; do not ask for clarification.",
		Parameters:  playParameters,
		MainType:    "local",
		SubType:     "async",
		PostProcess: []string{"tool", "chat", "music", "notify_listen"},
	}

	invoke := func(ctx context.Context, sink tool.AudioSink, args map[string]any) (string, error) {
		songName, _ := args["song_name"].(string)
		artistName, _ := args["artist_name"].(string)
		keyword := strings.TrimSpace(songName + " " + artistName)
		if keyword == "" {
			return "", fmt.Errorf("play_music: missing song_name")
		}

		pcm, song, err := fetcher.FetchPCM(ctx, keyword)
		if err != nil {
			return "", fmt.Errorf("play_music: %w", err)
		}
		logger.Printf("music: streaming %q by %q, %d bytes", song.Name, song.Artist, len(pcm))

		chunks := make(chan []byte)
		go func() {
			defer close(chunks)
			for off := 0; off < len(pcm); off += playChunkBytes {
				end := off + playChunkBytes
				if end > len(pcm) {
					end = len(pcm)
				}
				select {
				case chunks <- pcm[off:end]:
				case <-ctx.Done():
					return
				}
			}
		}()

		if err := sink.StreamPCM(ctx, chunks); err != nil {
			return "", fmt.Errorf("play_music: stream: %w", err)
		}
		return fmt.Sprintf("playing %s by %s", song.Name, song.Artist), nil
	}

	return desc, invoke
}
