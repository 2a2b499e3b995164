package core

import (
	"context"
	"io"
)

// SynthesisOptions select how a voice engine speaks.
type SynthesisOptions struct {
	Voice string  // engine-specific voice identity
	Speed float64 // 1 is normal; larger is faster
}

// Speech is a synthesized stream. Audio must be closed by the consumer.
// SampleRate and Channels are meaningful for PCM, ULAW and ALAW; a Container
// stream describes itself.
type Speech struct {
	Audio      io.ReadCloser
	Format     AudioEncodingFormat
	SampleRate int
	Channels   int
	// Container is the file extension of a Container stream ("mp3", "wav").
	Container string
}

type TTSEngine interface {
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) (*Speech, error)
}
