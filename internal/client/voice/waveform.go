package voice

import (
	"math"
	"math/rand"
)

// WaveformBuckets is the fixed number of amplitude buckets the UI renders.
const WaveformBuckets = 50

// Waveform downsamples the first audio channel into exactly 50 buckets
// of mean absolute amplitude, normalized to the loudest bucket. Silent
// input yields all zeros.
func Waveform(samples []float64) []float64 {
	out := make([]float64, WaveformBuckets)
	if len(samples) == 0 {
		return out
	}

	block := len(samples) / WaveformBuckets
	if block == 0 {
		block = 1
	}

	max := 0.0
	for i := 0; i < WaveformBuckets; i++ {
		start := i * block
		if start >= len(samples) {
			break
		}
		end := start + block
		if end > len(samples) {
			end = len(samples)
		}
		sum := 0.0
		for _, s := range samples[start:end] {
			sum += math.Abs(s)
		}
		out[i] = sum / float64(end-start)
		if out[i] > max {
			max = out[i]
		}
	}

	if max == 0 {
		return out
	}
	for i := range out {
		out[i] /= max
	}
	return out
}

// FallbackWaveform synthesizes 50 plausible buckets in [0.3, 0.8] so the
// UI never blocks on a decode failure.
func FallbackWaveform() []float64 {
	out := make([]float64, WaveformBuckets)
	for i := range out {
		out[i] = 0.3 + rand.Float64()*0.5
	}
	return out
}
