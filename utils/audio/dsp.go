package audio

import (
	"math"
	"math/rand"
	"time"
)

// RMS is the root mean square of a block of samples, truncated to an
// integer the way level meters print it. An empty block has level 0.
func RMS(samples []int16) int {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return int(math.Sqrt(sum / float64(len(samples))))
}

// SampleCount is the number of mono samples covering d at rate.
func SampleCount(d time.Duration, rate int) int {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return int(d.Seconds() * float64(rate))
}

func clamp(v float64) int16 {
	if v > pcmMax {
		return pcmMax
	}
	if v < pcmMin {
		return pcmMin
	}
	return int16(v)
}

// WhiteNoise generates uniform noise. gain is linear full-scale amplitude
// in [0,1].
func WhiteNoise(rng *rand.Rand, d time.Duration, rate int, gain float64) []int16 {
	out := make([]int16, SampleCount(d, rate))
	for i := range out {
		out[i] = clamp((rng.Float64()*2 - 1) * gain * pcmMax)
	}
	return out
}

// SineTone generates a pure tone with a short linear fade at both ends so it
// does not click.
func SineTone(freq float64, d time.Duration, rate int, gain float64) []int16 {
	n := SampleCount(d, rate)
	out := make([]int16, n)
	fade := rate / 200 // 5ms
	if fade*2 > n {
		fade = n / 2
	}
	for i := range out {
		env := 1.0
		if fade > 0 {
			if i < fade {
				env = float64(i) / float64(fade)
			} else if n-1-i < fade {
				env = float64(n-1-i) / float64(fade)
			}
		}
		out[i] = clamp(math.Sin(2*math.Pi*freq*float64(i)/float64(rate)) * gain * env * pcmMax)
	}
	return out
}

// Narrowband runs 16-bit PCM through a µ-law encode/decode pass, giving the
// coarse companded sound of a radio or phone channel.
func Narrowband(pcm []byte) []byte {
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	u, _ := PCMBytesToULaw(pcm)
	return ULawBytesToPCM(u)
}
