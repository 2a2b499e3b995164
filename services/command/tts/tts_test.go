package tts

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeToOutputFile(t *testing.T) {
	s := NewCommandTTSService(Config{
		Command:      "sh",
		Args:         []string{"-c", "printf '%s|%s|%s' \"$0\" \"$1\" \"$2\" > {output}", "{text}", "{voice}", "{pace}"},
		Format:       "mp3",
		PaceInverted: true,
		Voice:        "en_US-lessac",
	}, core.NewDiscardLogger())
	require.NoError(t, s.Initialize(context.Background()))

	speech, err := s.Synthesize(context.Background(), "unit 4, copy", core.SynthesisOptions{Speed: 2})
	require.NoError(t, err)
	data, err := io.ReadAll(speech.Audio)
	require.NoError(t, err)
	assert.Equal(t, "unit 4, copy|en_US-lessac|0.5", string(data))
	assert.Equal(t, core.Container, speech.Format)
	assert.Equal(t, "mp3", speech.Container)

	name := speech.Audio.(*tempFile).Name()
	require.NoError(t, speech.Audio.Close())
	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))
}

func TestSynthesizeRawFromStdout(t *testing.T) {
	s := NewCommandTTSService(Config{
		Command:    "sh",
		Args:       []string{"-c", "printf 'abcd'"},
		Format:     "raw",
		SampleRate: 16000,
	}, core.NewDiscardLogger())

	speech, err := s.Synthesize(context.Background(), "x", core.SynthesisOptions{Voice: "override"})
	require.NoError(t, err)
	defer speech.Audio.Close()
	data, _ := io.ReadAll(speech.Audio)
	assert.Equal(t, "abcd", string(data))
	assert.Equal(t, core.PCM, speech.Format)
	assert.Equal(t, 16000, speech.SampleRate)
}

func TestSynthesizeEmptyOutput(t *testing.T) {
	s := NewCommandTTSService(Config{Command: "sh", Args: []string{"-c", "true"}}, core.NewDiscardLogger())
	_, err := s.Synthesize(context.Background(), "x", core.SynthesisOptions{})
	assert.ErrorIs(t, err, core.ErrEngineResponse)
}

func TestPaceNormalization(t *testing.T) {
	direct := NewCommandTTSService(Config{}, nil)
	assert.Equal(t, "1.25", direct.pace(1.25))
	assert.Equal(t, "1", direct.pace(0))

	inverted := NewCommandTTSService(Config{PaceInverted: true}, nil)
	assert.Equal(t, "0.8", inverted.pace(1.25))
}

func TestSynthesizeTextOnStdin(t *testing.T) {
	s := NewCommandTTSService(Config{
		Command:     "sh",
		Args:        []string{"-c", "cat > {output}"},
		TextOnStdin: true,
	}, core.NewDiscardLogger())

	speech, err := s.Synthesize(context.Background(), "all units stand by", core.SynthesisOptions{})
	require.NoError(t, err)
	defer speech.Audio.Close()
	data, _ := io.ReadAll(speech.Audio)
	assert.Equal(t, "all units stand by", string(data))
	assert.Equal(t, "wav", speech.Container)
}
