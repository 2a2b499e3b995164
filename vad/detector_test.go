package vad

import (
	"testing"
	"time"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRate      = 1000
	testFrameSize = 100 // 100ms per frame
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// feeder produces consecutive 100ms frames at a constant level.
type feeder struct {
	n int
}

func (f *feeder) frame(level int16) core.AudioFrame {
	samples := make([]int16, testFrameSize)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = level
		} else {
			samples[i] = -level
		}
	}
	fr := core.AudioFrame{
		Samples:    samples,
		SampleRate: testRate,
		At:         epoch.Add(time.Duration(f.n) * 100 * time.Millisecond),
	}
	f.n++
	return fr
}

// run feeds count frames and returns every non-trivial step.
func (f *feeder) run(d *Detector, level int16, count int) []Step {
	var steps []Step
	for i := 0; i < count; i++ {
		s := d.Process(f.frame(level))
		if s.Event != EventNone {
			steps = append(steps, s)
		}
	}
	return steps
}

func newTestDetector(pad, min, max time.Duration) *Detector {
	return NewDetector(Config{Threshold: 800, MinDuration: min, PadDuration: pad, MaxDuration: max}, core.NewDiscardLogger())
}

func sealed(steps []Step) []*core.Utterance {
	var out []*core.Utterance
	for _, s := range steps {
		if s.Event == EventSealed {
			out = append(out, s.Utterance)
		}
	}
	return out
}

func TestSpeechThenSilenceSealsOneUtterance(t *testing.T) {
	d := newTestDetector(2*time.Second, time.Second, 30*time.Second)
	f := &feeder{}

	steps := f.run(d, 1000, 15)
	steps = append(steps, f.run(d, 0, 21)...)

	utts := sealed(steps)
	require.Len(t, utts, 1)
	assert.Equal(t, 1500*time.Millisecond, utts[0].Duration)
	assert.Equal(t, epoch, utts[0].Start)
	assert.Len(t, utts[0].Frames, 36)
	assert.Equal(t, StateFinalizing, d.State())
}

func TestPauseShorterThanPadKeepsRecording(t *testing.T) {
	d := newTestDetector(2*time.Second, time.Second, 30*time.Second)
	f := &feeder{}

	steps := f.run(d, 1000, 10)
	steps = append(steps, f.run(d, 0, 15)...)
	assert.Empty(t, sealed(steps))
	assert.Equal(t, StateRecording, d.State())

	steps = append(steps, f.run(d, 1000, 10)...)
	steps = append(steps, f.run(d, 0, 21)...)

	utts := sealed(steps)
	require.Len(t, utts, 1)
	assert.Equal(t, 3500*time.Millisecond, utts[0].Duration)
}

func TestShortBurstIsDiscarded(t *testing.T) {
	d := newTestDetector(2*time.Second, time.Second, 30*time.Second)
	f := &feeder{}

	steps := f.run(d, 1000, 5)
	steps = append(steps, f.run(d, 0, 21)...)

	assert.Empty(t, sealed(steps))
	require.NotEmpty(t, steps)
	assert.Equal(t, EventDiscarded, steps[len(steps)-1].Event)
	assert.Equal(t, StateIdle, d.State())
}

func TestMaxDurationForcesFinalize(t *testing.T) {
	d := newTestDetector(2*time.Second, time.Second, 3*time.Second)
	f := &feeder{}

	steps := f.run(d, 1000, 30)
	utts := sealed(steps)
	require.Len(t, utts, 1)
	assert.Equal(t, 3*time.Second, utts[0].Duration)
	assert.Equal(t, StateFinalizing, d.State())
}

func TestBusyIgnoresFramesUntilReleased(t *testing.T) {
	d := newTestDetector(200*time.Millisecond, 100*time.Millisecond, 30*time.Second)
	f := &feeder{}

	f.run(d, 1000, 3)
	steps := f.run(d, 0, 3)
	require.Len(t, sealed(steps), 1)

	steps = f.run(d, 1000, 5)
	require.Len(t, steps, 5)
	for _, s := range steps {
		assert.Equal(t, EventIgnored, s.Event)
	}

	d.Release()
	assert.Equal(t, StateIdle, d.State())
	steps = f.run(d, 1000, 1)
	require.Len(t, steps, 1)
	assert.Equal(t, EventStarted, steps[0].Event)
}

func TestLevelReportedForEveryFrame(t *testing.T) {
	d := newTestDetector(2*time.Second, time.Second, 30*time.Second)
	var levels []int
	d.OnLevel = func(level int) { levels = append(levels, level) }
	f := &feeder{}

	f.run(d, 500, 2)
	f.run(d, 1200, 1)
	assert.Equal(t, []int{500, 500, 1200}, levels)
}

func TestQuietFramesNeverStartRecording(t *testing.T) {
	d := newTestDetector(2*time.Second, time.Second, 30*time.Second)
	f := &feeder{}

	assert.Empty(t, f.run(d, 800, 50))
	assert.Equal(t, StateIdle, d.State())
}

func TestResetDropsPartialRecording(t *testing.T) {
	d := newTestDetector(2*time.Second, time.Second, 30*time.Second)
	f := &feeder{}

	f.run(d, 1000, 3)
	require.Equal(t, StateRecording, d.State())
	d.Reset()
	assert.Equal(t, StateIdle, d.State())
}
