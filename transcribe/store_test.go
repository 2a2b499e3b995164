package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTT struct {
	text  string
	err   error
	paths []string
}

func (f *fakeSTT) Transcribe(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return f.text, f.err
}

func testUtterance() *core.Utterance {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &core.Utterance{
		Frames: []core.AudioFrame{
			{Samples: []int16{1000, -1000}, SampleRate: 8000, At: at},
			{Samples: []int16{0, 0}, SampleRate: 8000, At: at.Add(250 * time.Microsecond)},
		},
		Start:    at,
		Duration: 1500 * time.Millisecond,
	}
}

func newTestStore(t *testing.T, engine core.STTEngine, retain bool) (*Store, string) {
	dir := t.TempDir()
	s := NewStore(Config{Dir: dir, Retain: retain}, engine, core.NewDiscardLogger())
	s.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 6, 0, time.Local) }
	return s, dir
}

func TestTranscribeNormalizesAndDeletes(t *testing.T) {
	engine := &fakeSTT{text: " Unit 12 Control.\n"}
	s, dir := newTestStore(t, engine, false)

	res, err := s.Transcribe(context.Background(), testUtterance())
	require.NoError(t, err)
	assert.Equal(t, "unit 12 control", res.Transcript)
	assert.Empty(t, res.AssetPath)
	require.Len(t, engine.paths, 1)
	assert.Equal(t, "rx-2024-03-09_14-05-06.wav", filepath.Base(engine.paths[0]))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscribeRejectsEmptyUtterance(t *testing.T) {
	engine := &fakeSTT{text: "unit 12 control"}
	s, dir := newTestStore(t, engine, true)

	_, err := s.Transcribe(context.Background(), &core.Utterance{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "utterance audio")
	assert.Empty(t, engine.paths)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscribeRetainsAudio(t *testing.T) {
	s, dir := newTestStore(t, &fakeSTT{text: "we're 10-8"}, true)

	res, err := s.Transcribe(context.Background(), testUtterance())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rx-2024-03-09_14-05-06.wav"), res.AssetPath)
	assert.FileExists(t, res.AssetPath)
}

func TestEmptyTranscriptFlagsRetainedAudio(t *testing.T) {
	s, dir := newTestStore(t, &fakeSTT{text: " . "}, true)

	res, err := s.Transcribe(context.Background(), testUtterance())
	require.NoError(t, err)
	assert.Empty(t, res.Transcript)
	assert.True(t, res.Failed)
	assert.Equal(t, filepath.Join(dir, "failed-rx-2024-03-09_14-05-06.wav"), res.AssetPath)
	assert.FileExists(t, res.AssetPath)
	assert.NoFileExists(t, filepath.Join(dir, "rx-2024-03-09_14-05-06.wav"))
}

func TestEngineErrorFlagsAndReturns(t *testing.T) {
	boom := errors.New("whisper crashed")
	s, dir := newTestStore(t, &fakeSTT{err: boom}, true)

	res, err := s.Transcribe(context.Background(), testUtterance())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, filepath.Join(dir, "failed-rx-2024-03-09_14-05-06.wav"), res.AssetPath)
}

func TestSameSecondDoesNotOverwrite(t *testing.T) {
	s, dir := newTestStore(t, &fakeSTT{text: "one"}, true)

	_, err := s.Transcribe(context.Background(), testUtterance())
	require.NoError(t, err)
	_, err = s.Transcribe(context.Background(), testUtterance())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
