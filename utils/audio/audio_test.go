package audio

import (
	"math/rand"
	"testing"
	"time"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRMS(t *testing.T) {
	assert.Equal(t, 0, RMS(nil))
	assert.Equal(t, 1000, RMS([]int16{1000, -1000, 1000, -1000}))
	assert.Equal(t, 0, RMS(make([]int16, 1024)))
}

func TestSamplesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	assert.Equal(t, in, BytesToSamples(SamplesToBytes(in)))
}

func TestWavHeaderParse(t *testing.T) {
	pcm := SamplesToBytes([]int16{1, 2, 3, 4})
	wav, err := PCMBytesToWavBytes(pcm, 1, 44100)
	require.NoError(t, err)

	f, offset, err := ParseWAVHeader(wav)
	require.NoError(t, err)
	assert.Equal(t, WAVFormat{Channels: 1, SampleRate: 44100, Bits: 16}, f)
	assert.Equal(t, 44, offset)

	stripped, err := StripWAVHeaderIfPresent(wav)
	require.NoError(t, err)
	assert.Equal(t, pcm, stripped)
}

func TestParseWAVHeaderRejectsGarbage(t *testing.T) {
	_, _, err := ParseWAVHeader([]byte("not a wav file at all"))
	assert.Error(t, err)
}

func TestStripLeavesRawPCM(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	out, err := StripWAVHeaderIfPresent(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestGeneratorsLength(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Len(t, WhiteNoise(rng, 500*time.Millisecond, 8000, 0.1), 4000)
	assert.Len(t, SineTone(300, 1500*time.Millisecond, 44100, 0.5), 66150)
}

func TestWhiteNoiseRespectsGain(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, s := range WhiteNoise(rng, time.Second, 8000, 0.1) {
		assert.LessOrEqual(t, int(s), 3277)
		assert.GreaterOrEqual(t, int(s), -3277)
	}
}

func TestConvertAudioChunkDecodesULaw(t *testing.T) {
	pcm := SamplesToBytes([]int16{0, 1000, -1000, 8000})
	u, err := PCMBytesToULaw(pcm)
	require.NoError(t, err)

	out, err := ConvertAudioChunk(core.AudioChunk{Data: u, SampleRate: 8000, Channels: 1, Format: core.ULAW}, 1)
	require.NoError(t, err)
	assert.Equal(t, core.PCM, out.Format)
	assert.Len(t, out.Data, len(pcm))
}

func TestConvertAudioChunkFoldsStereo(t *testing.T) {
	stereo := SamplesToBytes([]int16{100, 300, -100, -300})
	out, err := ConvertAudioChunk(core.AudioChunk{Data: stereo, SampleRate: 8000, Channels: 2, Format: core.PCM}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int16{200, -200}, BytesToSamples(out.Data))
}

func TestNarrowbandKeepsLength(t *testing.T) {
	pcm := SamplesToBytes(SineTone(440, 100*time.Millisecond, 8000, 0.5))
	assert.Len(t, Narrowband(pcm), len(pcm))
}

func TestValidatePCMData(t *testing.T) {
	tests := []struct {
		name     string
		pcm      []byte
		channels int
		wantErr  bool
	}{
		{"mono", []byte{1, 0, 2, 0}, 1, false},
		{"stereo", []byte{1, 0, 2, 0}, 2, false},
		{"odd byte", []byte{1, 0, 2}, 1, true},
		{"half stereo frame", []byte{1, 0, 2, 0, 3, 0}, 2, true},
		{"empty", nil, 1, true},
		{"no channels", []byte{1, 0}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePCMData(tt.pcm, tt.channels)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
