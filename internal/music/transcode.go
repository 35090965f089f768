package music

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Device playback format: 16 kHz mono signed 16-bit little-endian.
const (
	pcmSampleRate = 16000
	pcmChannels   = 1
)

// Transcode decodes a downloaded song (typically mp3) into the device
// playback format using ffmpeg.
func (c *Client) Transcode(ctx context.Context, encoded []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", pcmSampleRate),
		"-ac", fmt.Sprintf("%d", pcmChannels),
		"-loglevel", "error",
		"pipe:1",
	)

	var out, errOut bytes.Buffer
	cmd.Stdin = bytes.NewReader(encoded)
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, errOut.String())
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no audio")
	}
	return out.Bytes(), nil
}
