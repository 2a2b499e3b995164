package capture

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/kennyrkun/dispatcher/utils/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmOf(samples ...int16) *bytes.Reader {
	return bytes.NewReader(audio.SamplesToBytes(samples))
}

func TestSourceStampsFramesFromOpen(t *testing.T) {
	dev := NewStreamDevice(pcmOf(1, 2, 3, 4, 5, 6, 7, 8), 1)
	src := NewSource(dev, SourceConfig{SampleRate: 4, FrameSize: 2}, core.NewDiscardLogger())
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	src.SetClock(func() time.Time { return base })

	require.NoError(t, src.Open(context.Background()))
	f1, err := src.Next()
	require.NoError(t, err)
	f2, err := src.Next()
	require.NoError(t, err)

	assert.Equal(t, []int16{1, 2}, f1.Samples)
	assert.Equal(t, base, f1.At)
	assert.Equal(t, base.Add(500*time.Millisecond), f2.At)
	assert.Equal(t, base.Add(time.Second), f2.End())
}

func TestSourceStampsNeverRunBackwards(t *testing.T) {
	dev := NewStreamDevice(pcmOf(make([]int16, 16)...), 1)
	src := NewSource(dev, SourceConfig{SampleRate: 4, FrameSize: 4}, core.NewDiscardLogger())
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	src.SetClock(func() time.Time { return base })

	require.NoError(t, src.Open(context.Background()))
	_, err := src.Next()
	require.NoError(t, err)
	last, err := src.Next()
	require.NoError(t, err)
	require.NoError(t, src.Close())

	require.NoError(t, src.Open(context.Background()))
	next, err := src.Next()
	require.NoError(t, err)
	assert.False(t, next.At.Before(last.End()))
}

func TestSourceReadAfterClose(t *testing.T) {
	src := NewSource(NewStreamDevice(pcmOf(1, 2), 1), SourceConfig{SampleRate: 8000, FrameSize: 2}, core.NewDiscardLogger())
	_, err := src.Next()
	assert.ErrorIs(t, err, ErrDeviceClosed)
}

func TestStreamDeviceEndOfInput(t *testing.T) {
	dev := NewStreamDevice(pcmOf(1, 2, 3), 1)
	require.NoError(t, dev.Open(context.Background()))
	buf := make([]int16, 2)
	require.NoError(t, dev.Read(buf))
	assert.ErrorIs(t, dev.Read(buf), ErrEndOfInput)
}

func TestStreamDeviceFoldsStereo(t *testing.T) {
	dev := NewStreamDevice(pcmOf(100, 300, -50, -150), 2)
	require.NoError(t, dev.Open(context.Background()))
	buf := make([]int16, 2)
	require.NoError(t, dev.Read(buf))
	assert.Equal(t, []int16{200, -100}, buf)
}

func TestWAVStreamDevice(t *testing.T) {
	wav, err := audio.PCMBytesToWavBytes(audio.SamplesToBytes([]int16{5, 6, 7, 8}), 1, 44100)
	require.NoError(t, err)

	dev, format, err := NewWAVStreamDevice(bytes.NewReader(wav))
	require.NoError(t, err)
	assert.Equal(t, 44100, format.SampleRate)

	require.NoError(t, dev.Open(context.Background()))
	buf := make([]int16, 4)
	require.NoError(t, dev.Read(buf))
	assert.Equal(t, []int16{5, 6, 7, 8}, buf)
}

func TestStreamDevicePausedWhileClosed(t *testing.T) {
	dev := NewStreamDevice(pcmOf(1, 2), 1)
	assert.ErrorIs(t, dev.Read(make([]int16, 1)), ErrDeviceClosed)
}
