package core

import "time"

// Utterance is one contiguous span of captured speech, padded by the
// trailing silence that ended it.
type Utterance struct {
	Frames       []AudioFrame
	Start        time.Time     // start of the first loud frame
	LastActivity time.Time     // end of the last loud frame
	Duration     time.Duration // LastActivity - Start
}

// SampleRate of the frames, or 0 for an empty utterance.
func (u *Utterance) SampleRate() int {
	if len(u.Frames) == 0 {
		return 0
	}
	return u.Frames[0].SampleRate
}

// Samples concatenates every buffered frame.
func (u *Utterance) Samples() []int16 {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Samples...)
	}
	return out
}
