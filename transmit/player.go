package transmit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kennyrkun/dispatcher/core"
)

// Clip is one thing to play: a file on disk, or a stream. Format, SampleRate
// and Channels describe a raw stream; files and Container streams are probed
// by the player.
type Clip struct {
	Path       string
	Audio      io.Reader
	Format     core.AudioEncodingFormat
	SampleRate int
	Channels   int
}

// PlayOptions are applied as filters at play time.
type PlayOptions struct {
	Gain  float64 // linear volume; 0 means 1
	Tempo float64 // playback speed without pitch change; 0 means 1
}

// Player blocks until the clip has finished playing or ctx is done.
type Player interface {
	Play(ctx context.Context, clip Clip, opts PlayOptions) error
}

// FFPlayPlayer plays through ffplay with the display disabled.
type FFPlayPlayer struct {
	Binary string
	logger *core.Logger
}

func NewFFPlayPlayer(binary string, logger *core.Logger) *FFPlayPlayer {
	if binary == "" {
		binary = "ffplay"
	}
	return &FFPlayPlayer{
		Binary: binary,
		logger: logger.OrDefault().With(map[string]interface{}{"component": "player"}),
	}
}

func (p *FFPlayPlayer) Play(ctx context.Context, clip Clip, opts PlayOptions) error {
	args := ffplayArgs(clip, opts)
	cmd := exec.CommandContext(ctx, p.Binary, args...)
	if clip.Path == "" {
		cmd.Stdin = clip.Audio
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Debug("playing", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffplay: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func ffplayArgs(clip Clip, opts PlayOptions) []string {
	args := []string{"-nodisp", "-autoexit", "-hide_banner", "-loglevel", "error"}

	if filter := filterChain(opts); filter != "" {
		args = append(args, "-af", filter)
	}

	if clip.Path != "" {
		return append(args, clip.Path)
	}

	switch clip.Format {
	case core.PCM:
		args = append(args, "-f", "s16le")
	case core.ULAW:
		args = append(args, "-f", "mulaw")
	case core.ALAW:
		args = append(args, "-f", "alaw")
	}
	if clip.Format != core.Container {
		channels := clip.Channels
		if channels <= 0 {
			channels = 1
		}
		// -ac rather than -ch_layout, which ffplay only accepts from 5.1 on.
		args = append(args, "-ar", strconv.Itoa(clip.SampleRate), "-ac", strconv.Itoa(channels))
	}
	return append(args, "-i", "pipe:0")
}

func filterChain(opts PlayOptions) string {
	var filters []string
	if opts.Gain > 0 && opts.Gain != 1 {
		filters = append(filters, "volume="+strconv.FormatFloat(opts.Gain, 'f', -1, 64))
	}
	if opts.Tempo > 0 && opts.Tempo != 1 {
		filters = append(filters, "atempo="+strconv.FormatFloat(opts.Tempo, 'f', -1, 64))
	}
	return strings.Join(filters, ",")
}
