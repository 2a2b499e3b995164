package core

import "time"

type AudioEncodingFormat int

const (
	PCM       AudioEncodingFormat = iota // Signed 16-bit little-endian PCM.
	ULAW                                 // μ-law encoding format.
	ALAW                                 // A-law encoding format.
	Container                            // Self-describing file bytes (wav, mp3, ogg); the player probes it.
)

func (f AudioEncodingFormat) String() string {
	switch f {
	case PCM:
		return "pcm"
	case ULAW:
		return "mulaw"
	case ALAW:
		return "alaw"
	case Container:
		return "container"
	default:
		return "unknown"
	}
}

type AudioChunk struct {
	Data       []byte              // Raw audio data.
	SampleRate int                 // Sample rate of the audio data.
	Channels   int                 // Number of audio channels.
	Format     AudioEncodingFormat // Encoding format of the audio data.
}

func (ac *AudioChunk) GetDurationInSeconds() float64 {
	if ac.SampleRate == 0 || ac.Channels == 0 {
		return 0.0
	}
	bytesPerSample := 2 // 16-bit PCM
	totalSamples := len(ac.Data) / (bytesPerSample * ac.Channels)
	return float64(totalSamples) / float64(ac.SampleRate)
}

// AudioFrame is one fixed-size block of mono samples read from the capture
// device. At is the capture instant of the first sample.
type AudioFrame struct {
	Samples    []int16
	SampleRate int
	At         time.Time
}

// Duration is the wall time covered by the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// End is the capture instant just after the last sample.
func (f AudioFrame) End() time.Time {
	return f.At.Add(f.Duration())
}
